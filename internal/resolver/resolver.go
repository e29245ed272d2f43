// Package resolver decides, once per saga, whether a payout pays an existing
// ledger account or creates a new one.
package resolver

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/danielvey/a2ubridge/internal/assembler"
	"github.com/danielvey/a2ubridge/pkg/enums"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/ledger"
	"github.com/danielvey/a2ubridge/pkg/logger"
)

// AccountLoader is the slice of the ledger gateway the resolver needs.
type AccountLoader interface {
	LoadAccount(ctx context.Context, publicKey string) (*ledger.Account, error)
}

// Resolution pins the recipient decision for the rest of the saga.
type Resolution struct {
	Address string
	Exists  bool
	Kind    enums.OperationKind
}

type Resolver struct {
	accounts   AccountLoader
	minReserve decimal.Decimal
	logger     *logger.Logger
}

// New builds a resolver. minReserve is the network's minimum starting balance
// for a create-account operation, expressed as a decimal string.
func New(accounts AccountLoader, minReserve string, logg *logger.Logger) (*Resolver, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account loader is required")
	}
	reserve, err := decimal.NewFromString(minReserve)
	if err != nil {
		return nil, fmt.Errorf("parsing min reserve %q: %w", minReserve, err)
	}
	if reserve.IsNegative() {
		return nil, fmt.Errorf("min reserve must not be negative")
	}
	return &Resolver{accounts: accounts, minReserve: reserve, logger: logg}, nil
}

// Resolve looks the recipient up on the ledger and pins the operation kind.
// A missing account is a normal outcome that selects create_account; the
// reserve check runs here, after existence is known but before any
// state-changing call is made.
func (r *Resolver) Resolve(ctx context.Context, address string, amount decimal.Decimal) (*Resolution, error) {
	if _, err := assembler.DecodePublicKey(address); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid recipient address")
	}

	account, err := r.accounts.LoadAccount(ctx, address)
	if err != nil {
		return nil, err
	}

	resolution := &Resolution{Address: address, Exists: account.Exists, Kind: enums.OperationPayment}
	if !account.Exists {
		resolution.Kind = enums.OperationCreateAccount
		if amount.LessThan(r.minReserve) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficient,
				fmt.Sprintf("amount %s is below the %s reserve required to create the recipient account", amount, r.minReserve))
		}
	}

	if r.logger != nil {
		r.logger.Info(r.logger.WithFields(ctx, map[string]any{
			"recipient_address": address,
			"recipient_exists":  account.Exists,
			"operation_kind":    resolution.Kind.String(),
		}), "recipient resolved")
	}
	return resolution, nil
}
