package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/danielvey/a2ubridge/pkg/config"
	"github.com/danielvey/a2ubridge/pkg/db/models"
	"github.com/danielvey/a2ubridge/pkg/logger"
)

// TopicPublisher is the slice of the Pub/Sub publisher the loop needs.
type TopicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Publisher drains unpublished outbox rows to Pub/Sub. Rows whose attempt
// count exceeds the configured maximum move to the DLQ table instead of
// blocking the queue.
type Publisher struct {
	repo    *Repository
	dlq     *DLQRepository
	topic   TopicPublisher
	db      *gorm.DB
	cfg     config.OutboxConfig
	logger  *logger.Logger
}

func NewPublisher(repo *Repository, dlq *DLQRepository, topic TopicPublisher, db *gorm.DB, cfg config.OutboxConfig, logg *logger.Logger) (*Publisher, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dlq repository is required")
	}
	if topic == nil {
		return nil, fmt.Errorf("topic publisher is required")
	}
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Publisher{repo: repo, dlq: dlq, topic: topic, db: db, cfg: cfg, logger: logg}, nil
}

// Run polls until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	interval := time.Duration(p.cfg.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.DrainOnce(ctx); err != nil && p.logger != nil {
				p.logger.Error(ctx, "outbox drain failed", err)
			}
		}
	}
}

// DrainOnce publishes one batch of pending rows.
func (p *Publisher) DrainOnce(ctx context.Context) error {
	rows, err := p.repo.FetchUnpublished(p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetching outbox rows: %w", err)
	}

	for _, row := range rows {
		if row.AttemptCount >= p.cfg.MaxAttempts {
			if err := p.deadLetter(ctx, row); err != nil {
				return err
			}
			continue
		}
		if err := p.publishRow(ctx, row); err != nil {
			if markErr := p.repo.MarkFailed(row.ID, err); markErr != nil {
				return markErr
			}
			continue
		}
		if err := p.repo.MarkPublished(row.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishRow(ctx context.Context, row models.OutboxEvent) error {
	var envelope PayloadEnvelope
	eventID := ""
	if err := json.Unmarshal(row.Payload, &envelope); err == nil {
		eventID = envelope.EventID
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: row.Payload,
		Attributes: map[string]string{
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"event_id":       eventID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing %s: %w", row.EventType, err)
	}

	if p.logger != nil {
		p.logger.Info(p.logger.WithFields(ctx, map[string]any{
			"event_type":   row.EventType,
			"aggregate_id": row.AggregateID.String(),
		}), "outbox event published")
	}
	return nil
}

func (p *Publisher) deadLetter(ctx context.Context, row models.OutboxEvent) error {
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorMessage:  row.LastError,
		AttemptCount:  row.AttemptCount,
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.dlq.InsertTx(tx, entry); err != nil {
			return err
		}
		return tx.Model(&models.OutboxEvent{}).
			Where("id = ?", row.ID).
			Update("published_at", time.Now()).Error
	})
	if err != nil {
		return fmt.Errorf("dead-lettering %s: %w", row.ID, err)
	}
	if p.logger != nil {
		p.logger.Warn(p.logger.WithFields(ctx, map[string]any{
			"event_type":   row.EventType,
			"aggregate_id": row.AggregateID.String(),
			"attempts":     row.AttemptCount,
		}), "outbox event dead-lettered")
	}
	return nil
}
