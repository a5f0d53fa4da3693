package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/infra"
	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/logging"
	"github.com/vault-core/vault_core/internal/query"
	"github.com/vault-core/vault_core/internal/wallet"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// postgresDSN starts one throwaway Postgres for the package.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	pgOnce.Do(func() {
		ctx := context.Background()
		req := testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_DB": "vault", "POSTGRES_USER": "postgres"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		}
		var container testcontainers.Container
		container, pgErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if pgErr != nil {
			return
		}
		host, err := container.Host(ctx)
		if err != nil {
			pgErr = err
			return
		}
		port, err := container.MappedPort(ctx, "5432")
		if err != nil {
			pgErr = err
			return
		}
		pgDSN = fmt.Sprintf("postgres://postgres:secret@%s:%s/vault?sslmode=disable", host, port.Port())
	})
	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgDSN
}

type pgFixture struct {
	pool   *pgxpool.Pool
	sql    *sqlx.DB
	store  *ledger.PostgresStore
	engine *ledger.Engine
}

func newPostgresFixture(t *testing.T) pgFixture {
	t.Helper()
	dsn := postgresDSN(t)
	ctx := context.Background()

	pool, err := infra.NewPostgresPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := ledger.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE transactions, wallets"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	db, err := infra.NewSQLX(ctx, dsn)
	if err != nil {
		t.Fatalf("connect sqlx: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := ledger.NewPostgresStore(pool)
	return pgFixture{
		pool:   pool,
		sql:    db,
		store:  store,
		engine: ledger.NewEngine(store, ledger.WithLogger(logging.Discard())),
	}
}

func pgSeed(t *testing.T, store ledger.Store, owner, opening string) wallet.Wallet {
	t.Helper()
	w, err := ledger.SeedWallet(context.Background(), store, owner, "KES", decimal.RequireFromString(opening))
	if err != nil {
		t.Fatalf("seed %s: %v", owner, err)
	}
	return w
}

func pgCustomer(id string) auth.Caller {
	return auth.Caller{OwnerID: id, Roles: []auth.Role{auth.RoleCustomer}}
}

func TestPostgres_WithdrawReplayAndTransfer(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	alice := pgSeed(t, f.store, "alice", "100")
	bob := pgSeed(t, f.store, "bob", "0")

	req := ledger.WithdrawRequest{OwnerID: "alice", Amount: decimal.RequireFromString("30"), IdempotencyKey: "k-1"}
	first, err := f.engine.Withdraw(ctx, pgCustomer("alice"), req)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	replay, err := f.engine.Withdraw(ctx, pgCustomer("alice"), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("expected replay of %s, got %s", first.ID, replay.ID)
	}

	debit, err := f.engine.Transfer(ctx, pgCustomer("alice"), ledger.TransferRequest{
		FromOwnerID: "alice", ToOwnerID: "bob", Amount: decimal.RequireFromString("50"), IdempotencyKey: "t-1",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := debit.BalanceAfter.StringFixed(4); got != "20.0000" {
		t.Fatalf("expected balance after 20.0000, got %s", got)
	}
	if debit.CounterpartyWalletID != bob.ID {
		t.Fatalf("expected counterparty %s, got %s", bob.ID, debit.CounterpartyWalletID)
	}

	_, err = f.engine.Transfer(ctx, pgCustomer("alice"), ledger.TransferRequest{
		FromOwnerID: "alice", ToOwnerID: "bob", Amount: decimal.RequireFromString("20.0001"),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	got, err := f.store.GetTransaction(ctx, first.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("-30")) {
		t.Fatalf("expected amount -30, got %s", got.Amount)
	}
	if got.CreatedAt.Location() != time.UTC || !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at not preserved: %s vs %s", got.CreatedAt, first.CreatedAt)
	}

	reader := query.NewSQLReader(f.sql)
	for _, w := range []wallet.Wallet{alice, bob} {
		current, err := f.store.GetByID(ctx, w.ID, wallet.ActiveOnly)
		if err != nil {
			t.Fatalf("load %s: %v", w.OwnerID, err)
		}
		sum, err := reader.SumByWallet(ctx, w.ID)
		if err != nil {
			t.Fatalf("sum %s: %v", w.OwnerID, err)
		}
		if !current.Balance.Equal(sum) {
			t.Fatalf("ledger not balanced for %s: balance=%s sum=%s", w.OwnerID, current.Balance, sum)
		}
	}

	history, err := reader.ListTransactions(ctx, ledger.ListFilter{WalletID: alice.ID}, ledger.Window{Limit: 10})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(history))
	}
	if history[0].Type != ledger.TypeTransfer || history[2].Reference != "opening-balance" {
		t.Fatalf("unexpected history order: %s first, %q last", history[0].Type, history[2].Reference)
	}
}

func TestPostgres_CommitRejectsStaleVersionAndDuplicateKey(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	w := pgSeed(t, f.store, "carol", "10")

	now := time.Now().UTC().Truncate(time.Microsecond)
	tx := func(key string) ledger.Transaction {
		return ledger.Transaction{
			ID: fmt.Sprintf("tx-%s-%d", key, now.UnixNano()), WalletID: w.ID, Type: ledger.TypeWithdrawal,
			Status: ledger.StatusCompleted, Amount: decimal.RequireFromString("-1"), CurrencyCode: "KES",
			IdempotencyKey: key, BalanceBefore: decimal.RequireFromString("10"),
			BalanceAfter: decimal.RequireFromString("9"), CreatedAt: now,
		}
	}

	stale := ledger.Batch{
		Wallets:      []ledger.WalletUpdate{{WalletID: w.ID, ExpectedVersion: w.Version - 1, Balance: decimal.RequireFromString("9"), UpdatedAt: now}},
		Transactions: []ledger.Transaction{tx("dup")},
	}
	if err := f.store.Commit(ctx, stale); !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	current, err := f.store.GetByID(ctx, w.ID, wallet.ActiveOnly)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if current.Version != w.Version {
		t.Fatalf("stale commit changed version %d -> %d", w.Version, current.Version)
	}
	batch := ledger.Batch{
		Wallets:      []ledger.WalletUpdate{{WalletID: w.ID, ExpectedVersion: current.Version, Balance: decimal.RequireFromString("9"), UpdatedAt: now}},
		Transactions: []ledger.Transaction{tx("dup")},
	}
	if err := f.store.Commit(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}

	again, err := f.store.GetByID(ctx, w.ID, wallet.ActiveOnly)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	second := tx("dup")
	second.ID += "-b"
	err = f.store.Commit(ctx, ledger.Batch{
		Wallets:      []ledger.WalletUpdate{{WalletID: w.ID, ExpectedVersion: again.Version, Balance: decimal.RequireFromString("8"), UpdatedAt: now}},
		Transactions: []ledger.Transaction{second},
	})
	if !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}

	after, err := f.store.GetByID(ctx, w.ID, wallet.ActiveOnly)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.Version != again.Version || after.Balance.StringFixed(4) != "9.0000" {
		t.Fatalf("failed commit must roll back the wallet update, got version %d balance %s", after.Version, after.Balance)
	}
}

func TestPostgres_ConcurrentWithdrawalsDrainExactly(t *testing.T) {
	const workers = 25
	f := newPostgresFixture(t)
	ctx := context.Background()
	w := pgSeed(t, f.store, "dave", "100")

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Withdraw(ctx, pgCustomer("dave"), ledger.WithdrawRequest{
				OwnerID: "dave", Amount: decimal.RequireFromString("4"),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("withdraw failed: %v", err)
		}
	}

	current, err := f.store.GetByID(ctx, w.ID, wallet.ActiveOnly)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !current.Balance.IsZero() {
		t.Fatalf("expected empty wallet, got %s", current.Balance)
	}

	n, err := query.NewSQLReader(f.sql).CountTransactions(ctx, ledger.ListFilter{WalletID: w.ID, Type: ledger.TypeWithdrawal})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != workers {
		t.Fatalf("expected %d withdrawals, got %d", workers, n)
	}
}

func TestPostgres_RejectsBalanceAboveColumnLimit(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	w := pgSeed(t, f.store, "frank", "99999999999999")
	admin := auth.Caller{OwnerID: "ops", Roles: []auth.Role{auth.RoleAdmin}}

	_, err := f.engine.Deposit(ctx, admin, ledger.DepositRequest{OwnerID: "frank", Amount: decimal.RequireFromString("1")})
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount before reaching the database, got %v", err)
	}
	if _, err := f.engine.Deposit(ctx, admin, ledger.DepositRequest{OwnerID: "frank", Amount: decimal.RequireFromString("0.9999")}); err != nil {
		t.Fatalf("deposit up to the column limit: %v", err)
	}

	current, err := f.store.GetByID(ctx, w.ID, wallet.ActiveOnly)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := current.Balance.StringFixed(4); got != "99999999999999.9999" {
		t.Fatalf("expected balance at the column limit, got %s", got)
	}
}

func TestPostgres_WalletRepository(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	svc := wallet.NewService(f.store, nil, logging.Discard(), "KES")
	admin := auth.Caller{OwnerID: "ops", Roles: []auth.Role{auth.RoleAdmin}}

	w, err := svc.Provision(ctx, admin, wallet.ProvisionInput{OwnerID: "erin"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := svc.Provision(ctx, admin, wallet.ProvisionInput{OwnerID: "erin"}); !errors.Is(err, wallet.ErrExists) {
		t.Fatalf("expected wallet exists, got %v", err)
	}

	_, err = f.store.UpdateStatus(ctx, wallet.StatusChange{
		WalletID: w.ID, ExpectedVersion: w.Version + 5, Status: wallet.StatusFrozen, UpdatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, wallet.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	retired, err := svc.Retire(ctx, admin, w.ID)
	if err != nil {
		t.Fatalf("retire: %v", err)
	}
	if retired.RetiredAt == nil {
		t.Fatalf("retire did not stamp retired_at")
	}

	if _, err := f.store.GetByOwner(ctx, "erin", wallet.ActiveOnly); !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("retired wallet must be hidden, got %v", err)
	}
	found, err := f.store.GetByOwner(ctx, "erin", wallet.IncludeRetired)
	if err != nil {
		t.Fatalf("include retired: %v", err)
	}
	if found.ID != w.ID {
		t.Fatalf("expected %s, got %s", w.ID, found.ID)
	}
}
