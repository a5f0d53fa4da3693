package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Actions recorded by the ledger and wallet administration.
const (
	ActionDeposit     = "Transaction.Deposit"
	ActionWithdrawal  = "Transaction.Withdrawal"
	ActionTransfer    = "Transaction.Transfer"
	ActionFrozen      = "Wallet.Frozen"
	ActionUnfrozen    = "Wallet.Unfrozen"
	ActionSuspended   = "Wallet.Suspended"
	ActionRetired     = "Wallet.Retired"
	ActionProvisioned = "Wallet.Provisioned"

	EntityTransaction = "Transaction"
	EntityWallet      = "Wallet"
)

// State is a flat snapshot of the fields an action changed.
type State map[string]string

// Event describes one committed mutation.
type Event struct {
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	Before     State     `json:"before,omitempty"`
	After      State     `json:"after,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Emitter delivers audit events to an external sink. Callers treat delivery
// as best effort: a failed Record never undoes the mutation it describes.
type Emitter interface {
	Record(ctx context.Context, event Event) error
}

// LoggerEmitter writes events to the structured logger.
type LoggerEmitter struct {
	logger *slog.Logger
}

// NewLoggerEmitter constructs a logging emitter.
func NewLoggerEmitter(logger *slog.Logger) *LoggerEmitter {
	return &LoggerEmitter{logger: logger}
}

// Record writes the event to the logger.
func (e *LoggerEmitter) Record(_ context.Context, event Event) error {
	if e == nil || e.logger == nil {
		return nil
	}
	e.logger.Info("audit",
		slog.String("action", event.Action),
		slog.String("entity_type", event.EntityType),
		slog.String("entity_id", event.EntityID),
		slog.String("actor_id", event.ActorID),
		slog.Any("before", event.Before),
		slog.Any("after", event.After),
	)
	return nil
}

// Fanout forwards each event to every sink and joins their errors.
type Fanout []Emitter

// Record delivers to all sinks even if some fail.
func (f Fanout) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards events.
type Noop struct{}

func (Noop) Record(context.Context, Event) error { return nil }
