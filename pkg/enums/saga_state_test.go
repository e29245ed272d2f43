package enums

import "testing"

func TestSagaStateIsTerminal(t *testing.T) {
	terminal := []SagaState{SagaStateSettled, SagaStateCancelled, SagaStateReconciliationPending}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	open := []SagaState{SagaStateInit, SagaStateIntentCreated, SagaStateAccountResolved, SagaStateTxSubmitted}
	for _, s := range open {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestParseSagaState(t *testing.T) {
	if _, err := ParseSagaState("tx_submitted"); err != nil {
		t.Fatalf("parse tx_submitted: %v", err)
	}
	if _, err := ParseSagaState("bogus"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestParseOperationKind(t *testing.T) {
	if _, err := ParseOperationKind("create_account"); err != nil {
		t.Fatalf("parse create_account: %v", err)
	}
	if _, err := ParseOperationKind("merge_account"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
