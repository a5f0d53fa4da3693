package wallet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/vault-core/vault_core/internal/audit"
	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/logging"
	"github.com/vault-core/vault_core/internal/validation"
	"github.com/vault-core/vault_core/internal/wallet"
)

var (
	admin   = auth.Caller{OwnerID: "ops", Roles: []auth.Role{auth.RoleAdmin}}
	support = auth.Caller{OwnerID: "desk", Roles: []auth.Role{auth.RoleSupport}}
)

func customer(id string) auth.Caller {
	return auth.Caller{OwnerID: id, Roles: []auth.Role{auth.RoleCustomer}}
}

type mockEmitter struct{ mock.Mock }

func (m *mockEmitter) Record(ctx context.Context, e audit.Event) error {
	return m.Called(ctx, e).Error(0)
}

func newService(t *testing.T) (*wallet.Service, *ledger.InMemoryStore) {
	t.Helper()
	store := ledger.NewInMemoryStore()
	return wallet.NewService(store, audit.Noop{}, logging.Discard(), "kes"), store
}

func provision(t *testing.T, svc *wallet.Service, owner string) wallet.Wallet {
	t.Helper()
	w, err := svc.Provision(context.Background(), admin, wallet.ProvisionInput{OwnerID: owner})
	if err != nil {
		t.Fatalf("provision %s: %v", owner, err)
	}
	return w
}

func TestProvision(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	w := provision(t, svc, "alice")
	if w.OwnerID != "alice" || w.CurrencyCode != "KES" {
		t.Fatalf("unexpected wallet %+v", w)
	}
	if w.Status != wallet.StatusActive || w.Version != 1 || !w.Balance.IsZero() {
		t.Fatalf("new wallet must be active, version 1, empty: %+v", w)
	}

	if _, err := svc.Provision(ctx, admin, wallet.ProvisionInput{OwnerID: "alice"}); !errors.Is(err, wallet.ErrExists) {
		t.Fatalf("expected wallet exists, got %v", err)
	}

	usd, err := svc.Provision(ctx, admin, wallet.ProvisionInput{OwnerID: "bob", Currency: " usd "})
	if err != nil {
		t.Fatalf("provision usd: %v", err)
	}
	if usd.CurrencyCode != "USD" {
		t.Fatalf("expected USD, got %s", usd.CurrencyCode)
	}

	for _, bad := range []string{"US", "DOLLAR", "U5D"} {
		if _, err := svc.Provision(ctx, admin, wallet.ProvisionInput{OwnerID: "carol", Currency: bad}); !errors.Is(err, wallet.ErrInvalidCurrency) {
			t.Fatalf("currency %q: expected invalid currency, got %v", bad, err)
		}
	}
}

func TestProvisionIsAdminOnly(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	for _, caller := range []auth.Caller{customer("alice"), support} {
		for _, owner := range []string{"", caller.OwnerID, "bob"} {
			_, err := svc.Provision(ctx, caller, wallet.ProvisionInput{OwnerID: owner})
			if !errors.Is(err, auth.ErrUnauthorized) {
				t.Fatalf("%s provisioning %q: expected unauthorized, got %v", caller.OwnerID, owner, err)
			}
		}
	}
	if _, err := store.GetByOwner(ctx, "alice", wallet.IncludeRetired); !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("rejected provisioning must not create a wallet, got %v", err)
	}

	if _, err := svc.Provision(ctx, admin, wallet.ProvisionInput{OwnerID: "  "}); !errors.Is(err, validation.ErrInvalidRequest) {
		t.Fatalf("expected missing owner to be rejected, got %v", err)
	}
}

func TestProvisionEmitsAudit(t *testing.T) {
	emitter := &mockEmitter{}
	emitter.On("Record", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Action == audit.ActionProvisioned && e.After["owner_id"] == "alice" && e.ActorID == "ops"
	})).Return(errors.New("sink down")).Once()

	svc := wallet.NewService(ledger.NewInMemoryStore(), emitter, logging.Discard(), "KES")
	if _, err := svc.Provision(context.Background(), admin, wallet.ProvisionInput{OwnerID: "alice"}); err != nil {
		t.Fatalf("audit failures must not fail provisioning: %v", err)
	}
	emitter.AssertExpectations(t)
}

func TestGetVisibility(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	w := provision(t, svc, "alice")

	if _, err := svc.Get(ctx, customer("alice"), "alice"); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(ctx, support, "alice"); err != nil {
		t.Fatalf("support get: %v", err)
	}
	if _, err := svc.Get(ctx, customer("bob"), "alice"); !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("stranger get: expected not found, got %v", err)
	}
	if _, err := svc.GetByID(ctx, customer("bob"), w.ID); !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("stranger get by id: expected not found, got %v", err)
	}

	if _, err := svc.Retire(ctx, admin, w.ID); err != nil {
		t.Fatalf("retire: %v", err)
	}

	if _, err := svc.Get(ctx, customer("alice"), "alice"); !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("retired wallet visible to owner: %v", err)
	}
	retired, err := svc.GetByID(ctx, support, w.ID)
	if err != nil {
		t.Fatalf("support get retired: %v", err)
	}
	if retired.RetiredAt == nil {
		t.Fatalf("expected retired_at to be set")
	}
}

func TestStatusTransitions(t *testing.T) {
	emitter := &mockEmitter{}
	emitter.On("Record", mock.Anything, mock.Anything).Return(nil)
	svc := wallet.NewService(ledger.NewInMemoryStore(), emitter, logging.Discard(), "KES")
	ctx := context.Background()
	w := provision(t, svc, "alice")

	if _, err := svc.Freeze(ctx, customer("alice"), w.ID); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("customer freeze: expected unauthorized, got %v", err)
	}

	frozen, err := svc.Freeze(ctx, admin, w.ID)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if frozen.Status != wallet.StatusFrozen || frozen.Version != w.Version+1 || frozen.Active() {
		t.Fatalf("unexpected frozen wallet %+v", frozen)
	}

	again, err := svc.Freeze(ctx, admin, w.ID)
	if err != nil {
		t.Fatalf("repeat freeze: %v", err)
	}
	if again.Version != frozen.Version {
		t.Fatalf("no-op transition bumped version %d -> %d", frozen.Version, again.Version)
	}

	suspended, err := svc.Suspend(ctx, admin, w.ID)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.Status != wallet.StatusSuspended {
		t.Fatalf("expected suspended, got %s", suspended.Status)
	}

	active, err := svc.Unfreeze(ctx, admin, w.ID)
	if err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if !active.Active() {
		t.Fatalf("expected active wallet, got %s", active.Status)
	}

	if _, err := svc.Freeze(ctx, admin, "missing"); !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("freeze missing: expected not found, got %v", err)
	}

	emitter.AssertNumberOfCalls(t, "Record", 4)
	want := []string{audit.ActionProvisioned, audit.ActionFrozen, audit.ActionSuspended, audit.ActionUnfrozen}
	for i, call := range emitter.Calls {
		if got := call.Arguments.Get(1).(audit.Event).Action; got != want[i] {
			t.Fatalf("audit event %d: expected %s, got %s", i, want[i], got)
		}
	}
}

// racingRepo bumps the wallet version behind the service's back once.
type racingRepo struct {
	*ledger.InMemoryStore
	raced bool
}

func (r *racingRepo) UpdateStatus(ctx context.Context, change wallet.StatusChange) (wallet.Wallet, error) {
	if !r.raced {
		r.raced = true
		current, err := r.InMemoryStore.GetByID(ctx, change.WalletID, wallet.IncludeRetired)
		if err != nil {
			return wallet.Wallet{}, err
		}
		bump := change
		bump.Status = current.Status
		if _, err := r.InMemoryStore.UpdateStatus(ctx, bump); err != nil {
			return wallet.Wallet{}, err
		}
	}
	return r.InMemoryStore.UpdateStatus(ctx, change)
}

func TestStatusChangeRetriesOnVersionConflict(t *testing.T) {
	repo := &racingRepo{InMemoryStore: ledger.NewInMemoryStore()}
	svc := wallet.NewService(repo, nil, logging.Discard(), "KES")
	w := provision(t, svc, "alice")

	frozen, err := svc.Freeze(context.Background(), admin, w.ID)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if !repo.raced {
		t.Fatalf("expected the racing update to run")
	}
	if frozen.Status != wallet.StatusFrozen || frozen.Version != w.Version+2 {
		t.Fatalf("unexpected wallet after retry %+v", frozen)
	}
}
