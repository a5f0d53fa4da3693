package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/money"
	"github.com/vault-core/vault_core/internal/validation"
	"github.com/vault-core/vault_core/internal/wallet"
)

var (
	ErrWalletNotFound  = wallet.ErrNotFound
	ErrWalletNotActive = wallet.ErrNotActive
	ErrUnauthorized    = auth.ErrUnauthorized
	ErrInvalidAmount   = money.ErrInvalidAmount
	ErrInvalidRequest  = validation.ErrInvalidRequest

	// ErrInsufficientBalance occurs when the source wallet cannot cover the debit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrSelfTransfer rejects transfers whose source and destination are the same wallet.
	ErrSelfTransfer = errors.New("cannot transfer to the same wallet")
	// ErrConcurrencyConflict is returned once commit retries are exhausted.
	// The caller may resubmit.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrCurrencyMismatch    = errors.New("wallet currencies differ")
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	// ErrIdempotencyKeyReused means the key already produced a transaction for
	// a different wallet, type or amount.
	ErrIdempotencyKeyReused = errors.New("idempotency key reused for a different operation")

	// ErrVersionConflict is returned by Store.Commit when a wallet changed
	// since it was read.
	ErrVersionConflict = wallet.ErrVersionConflict
	// ErrDuplicateIdempotencyKey is returned by Store.Commit when another
	// originating transaction already holds the key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Type classifies a transaction.
type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypeTransfer   Type = "transfer"
)

// ParseType accepts any casing. The empty string parses to the empty Type.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case "", TypeDeposit, TypeWithdrawal, TypeTransfer:
		return t, nil
	default:
		return "", validation.Invalid("type", "unknown transaction type")
	}
}

// Status of a transaction. Operations are synchronous so only completed
// records are ever written.
type Status string

const StatusCompleted Status = "completed"

// ParseStatus accepts any casing. The empty string parses to the empty Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case "", StatusCompleted:
		return s, nil
	default:
		return "", validation.Invalid("status", "unknown transaction status")
	}
}

// Transaction is an immutable ledger record. Amount is signed: credits are
// positive, debits negative, and BalanceAfter = BalanceBefore + Amount.
type Transaction struct {
	ID                   string          `json:"id"`
	WalletID             string          `json:"wallet_id"`
	Type                 Type            `json:"type"`
	Status               Status          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	CurrencyCode         string          `json:"currency_code"`
	CounterpartyWalletID string          `json:"counterparty_wallet_id,omitempty"`
	IdempotencyKey       string          `json:"idempotency_key,omitempty"`
	Reference            string          `json:"reference,omitempty"`
	Description          string          `json:"description,omitempty"`
	BalanceBefore        decimal.Decimal `json:"balance_before"`
	BalanceAfter         decimal.Decimal `json:"balance_after"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Originating reports whether the record is the one an idempotency key
// identifies: single-leg operations and the debit leg of a transfer.
func (t Transaction) Originating() bool {
	return t.Type != TypeTransfer || t.Amount.IsNegative()
}

// normalized returns t with decimals at money.Scale and times in UTC.
func (t Transaction) normalized() Transaction {
	t.Amount = money.Normalize(t.Amount)
	t.BalanceBefore = money.Normalize(t.BalanceBefore)
	t.BalanceAfter = money.Normalize(t.BalanceAfter)
	t.CreatedAt = t.CreatedAt.UTC()
	return t
}

// WalletUpdate is a conditional balance write: it applies only if the wallet
// is still at ExpectedVersion, and bumps the version.
type WalletUpdate struct {
	WalletID        string
	ExpectedVersion int64
	Balance         decimal.Decimal
	UpdatedAt       time.Time
}

// Batch is everything one ledger operation writes. Wallets are ordered by id.
type Batch struct {
	Wallets      []WalletUpdate
	Transactions []Transaction
}

// TransactionStore reads committed transactions.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	// GetByIdempotencyKey returns the originating record for key.
	GetByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
}

// Store is the single consistency boundary the engine writes through.
// Commit applies the whole batch or nothing, returning ErrVersionConflict
// or ErrDuplicateIdempotencyKey for the respective races.
type Store interface {
	wallet.Repository
	TransactionStore
	Commit(ctx context.Context, batch Batch) error
}

// ListFilter narrows transaction listings. Zero fields match everything.
type ListFilter struct {
	WalletID string
	Type     Type
	Status   Status
}

// Window is a limit/offset slice of a newest-first listing.
type Window struct {
	Limit  int
	Offset int
}
