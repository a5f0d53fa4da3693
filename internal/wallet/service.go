package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/audit"
	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/money"
	"github.com/vault-core/vault_core/internal/validation"
)

const statusChangeAttempts = 3

// Service handles wallet provisioning and administrative status changes.
// It never touches balances.
type Service struct {
	repo            Repository
	emitter         audit.Emitter
	logger          *slog.Logger
	defaultCurrency string
	now             func() time.Time
}

// NewService builds a wallet service instance.
func NewService(repo Repository, emitter audit.Emitter, logger *slog.Logger, defaultCurrency string) *Service {
	if emitter == nil {
		emitter = audit.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:            repo,
		emitter:         emitter,
		logger:          logger,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ProvisionInput captures data required to create a wallet.
type ProvisionInput struct {
	OwnerID  string
	Currency string
}

// Provision creates the owner's wallet with a zero balance. Only admins may
// provision; self-service registration goes through an admin-acting
// collaborator.
func (s *Service) Provision(ctx context.Context, caller auth.Caller, input ProvisionInput) (Wallet, error) {
	if !caller.IsAdmin() {
		return Wallet{}, auth.ErrUnauthorized
	}
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return Wallet{}, validation.Invalid("owner_id", "required")
	}

	currency, err := normalizeCurrency(input.Currency, s.defaultCurrency)
	if err != nil {
		return Wallet{}, err
	}

	now := s.now()
	w := Wallet{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		CurrencyCode: currency,
		Balance:      money.Normalize(decimal.Zero),
		Status:       StatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}

	s.record(ctx, audit.Event{
		Action:     audit.ActionProvisioned,
		EntityType: audit.EntityWallet,
		EntityID:   w.ID,
		ActorID:    caller.OwnerID,
		After:      audit.State{"owner_id": w.OwnerID, "currency_code": w.CurrencyCode, "status": string(w.Status)},
		OccurredAt: now,
	})
	return w, nil
}

// Get returns ownerID's wallet if the caller may see it. Staff also see
// retired wallets. A wallet the caller may not see is reported as not found.
func (s *Service) Get(ctx context.Context, caller auth.Caller, ownerID string) (Wallet, error) {
	if !caller.CanView(ownerID) {
		return Wallet{}, ErrNotFound
	}
	return s.repo.GetByOwner(ctx, ownerID, visibilityFor(caller))
}

// GetByID is Get keyed by wallet id.
func (s *Service) GetByID(ctx context.Context, caller auth.Caller, walletID string) (Wallet, error) {
	w, err := s.repo.GetByID(ctx, walletID, visibilityFor(caller))
	if err != nil {
		return Wallet{}, err
	}
	if !caller.CanView(w.OwnerID) {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

// Freeze blocks all ledger movement on the wallet.
func (s *Service) Freeze(ctx context.Context, caller auth.Caller, walletID string) (Wallet, error) {
	return s.changeStatus(ctx, caller, walletID, audit.ActionFrozen, func(w Wallet) (Status, *time.Time) {
		return StatusFrozen, w.RetiredAt
	})
}

// Unfreeze returns a frozen or suspended wallet to active.
func (s *Service) Unfreeze(ctx context.Context, caller auth.Caller, walletID string) (Wallet, error) {
	return s.changeStatus(ctx, caller, walletID, audit.ActionUnfrozen, func(w Wallet) (Status, *time.Time) {
		return StatusActive, w.RetiredAt
	})
}

// Suspend marks the wallet suspended, typically pending review.
func (s *Service) Suspend(ctx context.Context, caller auth.Caller, walletID string) (Wallet, error) {
	return s.changeStatus(ctx, caller, walletID, audit.ActionSuspended, func(w Wallet) (Status, *time.Time) {
		return StatusSuspended, w.RetiredAt
	})
}

// Retire soft-deletes the wallet. It stays readable on administrative paths.
func (s *Service) Retire(ctx context.Context, caller auth.Caller, walletID string) (Wallet, error) {
	return s.changeStatus(ctx, caller, walletID, audit.ActionRetired, func(w Wallet) (Status, *time.Time) {
		if w.RetiredAt != nil {
			return w.Status, w.RetiredAt
		}
		at := s.now()
		return w.Status, &at
	})
}

func (s *Service) changeStatus(ctx context.Context, caller auth.Caller, walletID, action string, next func(Wallet) (Status, *time.Time)) (Wallet, error) {
	if !caller.IsAdmin() {
		return Wallet{}, auth.ErrUnauthorized
	}

	for attempt := 1; attempt <= statusChangeAttempts; attempt++ {
		current, err := s.repo.GetByID(ctx, walletID, IncludeRetired)
		if err != nil {
			return Wallet{}, err
		}
		status, retiredAt := next(current)
		if status == current.Status && sameTime(retiredAt, current.RetiredAt) {
			return current, nil
		}

		updated, err := s.repo.UpdateStatus(ctx, StatusChange{
			WalletID:        current.ID,
			ExpectedVersion: current.Version,
			Status:          status,
			RetiredAt:       retiredAt,
			UpdatedAt:       s.now(),
		})
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Warn("wallet status change conflicted, retrying", "wallet_id", walletID, "attempt", attempt)
			continue
		}
		if err != nil {
			return Wallet{}, err
		}

		s.record(ctx, audit.Event{
			Action:     action,
			EntityType: audit.EntityWallet,
			EntityID:   updated.ID,
			ActorID:    caller.OwnerID,
			Before:     statusState(current),
			After:      statusState(updated),
			OccurredAt: updated.UpdatedAt,
		})
		s.logger.Info("wallet status changed", "wallet_id", updated.ID, "action", action, "status", updated.Status)
		return updated, nil
	}
	return Wallet{}, fmt.Errorf("%w: status change on %s", ErrVersionConflict, walletID)
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if err := s.emitter.Record(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("audit emit failed", "action", event.Action, "entity_id", event.EntityID, "error", err)
	}
}

func statusState(w Wallet) audit.State {
	st := audit.State{"status": string(w.Status), "version": fmt.Sprint(w.Version)}
	if w.RetiredAt != nil {
		st["retired_at"] = w.RetiredAt.Format(time.RFC3339Nano)
	}
	return st
}

func visibilityFor(caller auth.Caller) Visibility {
	if caller.IsStaff() {
		return IncludeRetired
	}
	return ActiveOnly
}

func normalizeCurrency(raw, fallback string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		code = strings.ToUpper(fallback)
	}
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
