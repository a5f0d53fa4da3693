package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/audit"
	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/money"
	"github.com/vault-core/vault_core/internal/validation"
	"github.com/vault-core/vault_core/internal/wallet"
)

const (
	// DefaultMaxAttempts covers a burst of that many writers on one wallet:
	// an attempt only loses when another commit wins, so the last of N
	// writers commits by its Nth attempt.
	DefaultMaxAttempts = 64
	defaultBackoff     = 2 * time.Millisecond
	maxPause           = 25 * time.Millisecond

	maxReferenceLength   = 100
	maxDescriptionLength = 500

	opDeposit  = "deposit"
	opWithdraw = "withdraw"
	opTransfer = "transfer"
)

// Engine executes deposits, withdrawals and transfers. It keeps no state
// between calls; every attempt re-reads wallets and commits conditionally on
// the versions it read.
type Engine struct {
	store       Store
	guard       *IdempotencyGuard
	cache       ReplayCache
	emitter     audit.Emitter
	observer    Observer
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithEmitter(e audit.Emitter) Option   { return func(en *Engine) { en.emitter = e } }
func WithObserver(o Observer) Option       { return func(en *Engine) { en.observer = o } }
func WithLogger(l *slog.Logger) Option     { return func(en *Engine) { en.logger = l } }
func WithReplayCache(c ReplayCache) Option { return func(en *Engine) { en.cache = c } }

// WithMaxAttempts bounds the read-compute-commit cycles per operation.
func WithMaxAttempts(n int) Option {
	return func(en *Engine) {
		if n > 0 {
			en.maxAttempts = n
		}
	}
}

// WithBackoff sets the base pause between conflicting attempts. Zero disables it.
func WithBackoff(d time.Duration) Option { return func(en *Engine) { en.backoff = d } }

// WithClock overrides the time source. Timestamps are always stored in UTC
// at microsecond precision.
func WithClock(now func() time.Time) Option { return func(en *Engine) { en.now = now } }

// NewEngine wires an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		emitter:     audit.Noop{},
		observer:    noopObserver{},
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     defaultBackoff,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.guard = NewIdempotencyGuard(store, e.cache, e.logger)
	return e
}

// DepositRequest credits OwnerID's wallet.
type DepositRequest struct {
	OwnerID        string
	Amount         decimal.Decimal
	IdempotencyKey string
	Reference      string
	Description    string
}

// WithdrawRequest debits OwnerID's wallet.
type WithdrawRequest struct {
	OwnerID        string
	Amount         decimal.Decimal
	IdempotencyKey string
	Reference      string
	Description    string
}

// TransferRequest moves Amount from FromOwnerID's wallet to ToOwnerID's.
type TransferRequest struct {
	FromOwnerID    string
	ToOwnerID      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Reference      string
	Description    string
}

// Deposit credits a wallet. Only admins may deposit.
func (e *Engine) Deposit(ctx context.Context, caller auth.Caller, req DepositRequest) (Transaction, error) {
	return e.observe(opDeposit, func() (Transaction, bool, error) {
		if !caller.IsAdmin() {
			return Transaction{}, false, ErrUnauthorized
		}
		amount, key, err := prepare(req.Amount, req.IdempotencyKey, req.Reference, req.Description)
		if err != nil {
			return Transaction{}, false, err
		}
		return e.single(ctx, caller, singleOp{
			name:        opDeposit,
			txType:      TypeDeposit,
			action:      audit.ActionDeposit,
			ownerID:     req.OwnerID,
			delta:       amount,
			key:         key,
			reference:   req.Reference,
			description: req.Description,
		})
	})
}

// Withdraw debits the caller's own wallet.
func (e *Engine) Withdraw(ctx context.Context, caller auth.Caller, req WithdrawRequest) (Transaction, error) {
	return e.observe(opWithdraw, func() (Transaction, bool, error) {
		if caller.OwnerID == "" || caller.OwnerID != req.OwnerID {
			return Transaction{}, false, ErrUnauthorized
		}
		amount, key, err := prepare(req.Amount, req.IdempotencyKey, req.Reference, req.Description)
		if err != nil {
			return Transaction{}, false, err
		}
		return e.single(ctx, caller, singleOp{
			name:        opWithdraw,
			txType:      TypeWithdrawal,
			action:      audit.ActionWithdrawal,
			ownerID:     req.OwnerID,
			delta:       amount.Neg(),
			key:         key,
			reference:   req.Reference,
			description: req.Description,
		})
	})
}

// Transfer moves money out of the caller's own wallet and returns the debit leg.
func (e *Engine) Transfer(ctx context.Context, caller auth.Caller, req TransferRequest) (Transaction, error) {
	return e.observe(opTransfer, func() (Transaction, bool, error) {
		if caller.OwnerID == "" || caller.OwnerID != req.FromOwnerID {
			return Transaction{}, false, ErrUnauthorized
		}
		amount, key, err := prepare(req.Amount, req.IdempotencyKey, req.Reference, req.Description)
		if err != nil {
			return Transaction{}, false, err
		}
		if req.FromOwnerID == req.ToOwnerID {
			return Transaction{}, false, ErrSelfTransfer
		}
		return e.transfer(ctx, caller, req, amount, key)
	})
}

// Get returns a transaction visible to the caller. Transactions on wallets
// the caller may not view are reported as not found.
func (e *Engine) Get(ctx context.Context, caller auth.Caller, id string) (Transaction, error) {
	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if caller.IsStaff() {
		return tx, nil
	}
	w, err := e.store.GetByID(ctx, tx.WalletID, wallet.IncludeRetired)
	if errors.Is(err, wallet.ErrNotFound) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	if !caller.CanView(w.OwnerID) {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

type singleOp struct {
	name        string
	txType      Type
	action      string
	ownerID     string
	delta       decimal.Decimal
	key         string
	reference   string
	description string
}

func (e *Engine) single(ctx context.Context, caller auth.Caller, op singleOp) (Transaction, bool, error) {
	var w wallet.Wallet
	return e.run(ctx, op.name, op.key, attemptFuncs{
		load: func(ctx context.Context) error {
			var err error
			w, err = e.store.GetByOwner(ctx, op.ownerID, wallet.IncludeRetired)
			return err
		},
		matches: func(prior Transaction) bool {
			return prior.Type == op.txType && prior.WalletID == w.ID && prior.Amount.Equal(op.delta)
		},
		plan: func() (plan, error) {
			if err := usable(w); err != nil {
				return plan{}, err
			}
			after := money.Normalize(w.Balance.Add(op.delta))
			if after.IsNegative() {
				return plan{}, ErrInsufficientBalance
			}
			if err := money.CheckBalance(after); err != nil {
				return plan{}, err
			}
			now := e.timestamp()
			tx := Transaction{
				ID:             e.newID(),
				WalletID:       w.ID,
				Type:           op.txType,
				Status:         StatusCompleted,
				Amount:         op.delta,
				CurrencyCode:   w.CurrencyCode,
				IdempotencyKey: op.key,
				Reference:      op.reference,
				Description:    op.description,
				BalanceBefore:  money.Normalize(w.Balance),
				BalanceAfter:   after,
				CreatedAt:      now,
			}
			return plan{
				batch: Batch{
					Wallets:      []WalletUpdate{{WalletID: w.ID, ExpectedVersion: w.Version, Balance: after, UpdatedAt: now}},
					Transactions: []Transaction{tx},
				},
				result: tx,
				event: audit.Event{
					Action:     op.action,
					EntityType: audit.EntityTransaction,
					EntityID:   tx.ID,
					ActorID:    caller.OwnerID,
					Before:     audit.State{"wallet_id": w.ID, "balance": money.Format(tx.BalanceBefore)},
					After:      audit.State{"wallet_id": w.ID, "balance": money.Format(tx.BalanceAfter), "amount": money.Format(tx.Amount)},
					OccurredAt: now,
				},
			}, nil
		},
	})
}

func (e *Engine) transfer(ctx context.Context, caller auth.Caller, req TransferRequest, amount decimal.Decimal, key string) (Transaction, bool, error) {
	var src, dst wallet.Wallet
	debit := amount.Neg()
	return e.run(ctx, opTransfer, key, attemptFuncs{
		load: func(ctx context.Context) error {
			var err error
			if src, err = e.store.GetByOwner(ctx, req.FromOwnerID, wallet.IncludeRetired); err != nil {
				return err
			}
			dst, err = e.store.GetByOwner(ctx, req.ToOwnerID, wallet.IncludeRetired)
			return err
		},
		matches: func(prior Transaction) bool {
			return prior.Type == TypeTransfer && prior.WalletID == src.ID &&
				prior.CounterpartyWalletID == dst.ID && prior.Amount.Equal(debit)
		},
		plan: func() (plan, error) {
			if err := usable(src); err != nil {
				return plan{}, err
			}
			if err := usable(dst); err != nil {
				return plan{}, err
			}
			if src.ID == dst.ID {
				return plan{}, ErrSelfTransfer
			}
			if src.CurrencyCode != dst.CurrencyCode {
				return plan{}, ErrCurrencyMismatch
			}
			srcAfter := money.Normalize(src.Balance.Add(debit))
			if srcAfter.IsNegative() {
				return plan{}, ErrInsufficientBalance
			}
			dstAfter := money.Normalize(dst.Balance.Add(amount))
			if err := money.CheckBalance(dstAfter); err != nil {
				return plan{}, err
			}

			debitDesc, creditDesc := req.Description, req.Description
			if debitDesc == "" {
				debitDesc = "Transfer to " + dst.OwnerID
				creditDesc = "Transfer from " + src.OwnerID
			}

			now := e.timestamp()
			debitLeg := Transaction{
				ID:                   e.newID(),
				WalletID:             src.ID,
				Type:                 TypeTransfer,
				Status:               StatusCompleted,
				Amount:               debit,
				CurrencyCode:         src.CurrencyCode,
				CounterpartyWalletID: dst.ID,
				IdempotencyKey:       key,
				Reference:            req.Reference,
				Description:          debitDesc,
				BalanceBefore:        money.Normalize(src.Balance),
				BalanceAfter:         srcAfter,
				CreatedAt:            now,
			}
			creditLeg := debitLeg
			creditLeg.ID = e.newID()
			creditLeg.WalletID = dst.ID
			creditLeg.Amount = amount
			creditLeg.CurrencyCode = dst.CurrencyCode
			creditLeg.CounterpartyWalletID = src.ID
			creditLeg.Description = creditDesc
			creditLeg.BalanceBefore = money.Normalize(dst.Balance)
			creditLeg.BalanceAfter = dstAfter

			updates := []WalletUpdate{
				{WalletID: src.ID, ExpectedVersion: src.Version, Balance: srcAfter, UpdatedAt: now},
				{WalletID: dst.ID, ExpectedVersion: dst.Version, Balance: dstAfter, UpdatedAt: now},
			}
			sort.Slice(updates, func(i, j int) bool { return updates[i].WalletID < updates[j].WalletID })

			return plan{
				batch:  Batch{Wallets: updates, Transactions: []Transaction{debitLeg, creditLeg}},
				result: debitLeg,
				event: audit.Event{
					Action:     audit.ActionTransfer,
					EntityType: audit.EntityTransaction,
					EntityID:   debitLeg.ID,
					ActorID:    caller.OwnerID,
					Before: audit.State{
						"from_wallet_id": src.ID, "from_balance": money.Format(debitLeg.BalanceBefore),
						"to_wallet_id": dst.ID, "to_balance": money.Format(creditLeg.BalanceBefore),
					},
					After: audit.State{
						"from_wallet_id": src.ID, "from_balance": money.Format(srcAfter),
						"to_wallet_id": dst.ID, "to_balance": money.Format(dstAfter),
						"amount": money.Format(amount), "credit_transaction_id": creditLeg.ID,
					},
					OccurredAt: now,
				},
			}, nil
		},
	})
}

// usable gates new mutations. Wallets are loaded including retired ones so
// that a key already committed against a since-retired wallet still replays;
// fresh operations on it see the same not-found as any other lookup.
func usable(w wallet.Wallet) error {
	if w.RetiredAt != nil {
		return ErrWalletNotFound
	}
	if !w.Active() {
		return ErrWalletNotActive
	}
	return nil
}

type plan struct {
	batch  Batch
	result Transaction
	event  audit.Event
}

type attemptFuncs struct {
	load    func(ctx context.Context) error
	matches func(prior Transaction) bool
	plan    func() (plan, error)
}

// run drives the optimistic read-compute-commit cycle. The boolean result is
// true when an earlier transaction was replayed.
func (e *Engine) run(ctx context.Context, name, key string, f attemptFuncs) (Transaction, bool, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Transaction{}, false, err
		}
		if err := f.load(ctx); err != nil {
			return Transaction{}, false, err
		}

		if key != "" {
			prior, found, err := e.guard.Lookup(ctx, key)
			if err != nil {
				return Transaction{}, false, err
			}
			if found {
				return e.replay(name, key, prior, f.matches)
			}
		}

		p, err := f.plan()
		if err != nil {
			return Transaction{}, false, err
		}

		err = e.store.Commit(ctx, p.batch)
		switch {
		case err == nil:
			e.committed(ctx, name, key, p)
			return p.result, false, nil

		case errors.Is(err, ErrDuplicateIdempotencyKey):
			// Lost an insert race on the key; the winner's record is the answer.
			prior, found, lerr := e.guard.Lookup(ctx, key)
			if lerr != nil {
				return Transaction{}, false, lerr
			}
			if !found {
				return Transaction{}, false, fmt.Errorf("idempotency key %q rejected but not found", key)
			}
			return e.replay(name, key, prior, f.matches)

		case errors.Is(err, ErrVersionConflict):
			e.observer.CommitConflict(name)
			if attempt >= e.maxAttempts {
				e.logger.Warn("ledger commit retries exhausted", "operation", name, "attempts", attempt)
				return Transaction{}, false, ErrConcurrencyConflict
			}
			e.logger.Debug("ledger commit conflicted, retrying", "operation", name, "attempt", attempt)
			if err := e.pause(ctx, attempt); err != nil {
				return Transaction{}, false, err
			}

		default:
			return Transaction{}, false, fmt.Errorf("%s commit: %w", name, err)
		}
	}
}

func (e *Engine) replay(name, key string, prior Transaction, matches func(Transaction) bool) (Transaction, bool, error) {
	if !matches(prior) {
		return Transaction{}, false, ErrIdempotencyKeyReused
	}
	e.logger.Info("idempotent replay", "operation", name, "key", key, "transaction_id", prior.ID)
	return prior, true, nil
}

// committed runs the post-commit side effects. Neither may fail the operation.
func (e *Engine) committed(ctx context.Context, name, key string, p plan) {
	e.guard.Remember(ctx, key, p.result)
	if err := e.emitter.Record(context.WithoutCancel(ctx), p.event); err != nil {
		e.logger.Error("audit emit failed", "action", p.event.Action, "transaction_id", p.result.ID, "error", err)
	}
	e.logger.Info("ledger operation committed",
		"operation", name,
		"transaction_id", p.result.ID,
		"wallet_id", p.result.WalletID,
		"amount", money.Format(p.result.Amount),
		"balance_after", money.Format(p.result.BalanceAfter),
	)
}

// pause sleeps a jittered, linearly growing interval capped at maxPause.
func (e *Engine) pause(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return nil
	}
	d := min(e.backoff*time.Duration(attempt), maxPause) + rand.N(e.backoff)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) observe(name string, fn func() (Transaction, bool, error)) (Transaction, error) {
	start := time.Now()
	tx, replayed, err := fn()
	e.observer.OperationFinished(name, outcomeOf(replayed, err), time.Since(start))
	return tx, err
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func outcomeOf(replayed bool, err error) string {
	switch {
	case err == nil && replayed:
		return OutcomeReplayed
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, ErrConcurrencyConflict):
		return OutcomeConflict
	case IsBusinessError(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// IsBusinessError reports whether err is a rule violation the caller caused,
// as opposed to an infrastructure failure or a retryable conflict.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrWalletNotFound, ErrWalletNotActive, ErrInsufficientBalance, ErrSelfTransfer,
		ErrUnauthorized, ErrInvalidAmount, ErrInvalidRequest, ErrInvalidIdempotencyKey,
		ErrIdempotencyKeyReused, ErrCurrencyMismatch, ErrTransactionNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func prepare(amount decimal.Decimal, rawKey, reference, description string) (decimal.Decimal, string, error) {
	amt, err := money.Positive(amount)
	if err != nil {
		return decimal.Zero, "", err
	}
	key, err := NormalizeKey(rawKey)
	if err != nil {
		return decimal.Zero, "", err
	}
	if utf8.RuneCountInString(reference) > maxReferenceLength {
		return decimal.Zero, "", validation.Invalid("reference", fmt.Sprintf("at most %d characters", maxReferenceLength))
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return decimal.Zero, "", validation.Invalid("description", fmt.Sprintf("at most %d characters", maxDescriptionLength))
	}
	return amt, key, nil
}
