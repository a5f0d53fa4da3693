package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/wallet"
)

const (
	idempotencyIndex   = "transactions_idempotency_key_originating"
	transactionColumns = `id, wallet_id, type, status, amount::text, currency_code,
        COALESCE(counterparty_wallet_id, ''), COALESCE(idempotency_key, ''), reference, description,
        balance_before::text, balance_after::text, created_at`
)

// PostgresStore persists wallets and transactions in PostgreSQL. Wallet
// reads and status changes come from the embedded wallet repository.
type PostgresStore struct {
	*wallet.PostgresRepository
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{PostgresRepository: wallet.NewPostgresRepository(db), db: db}
}

// Commit writes the batch in one database transaction. Wallet rows are
// updated in batch order, which the engine sorts by id, so concurrent
// transfers always lock rows in the same order.
func (s *PostgresStore) Commit(ctx context.Context, batch Batch) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, u := range batch.Wallets {
		tag, err := tx.Exec(ctx, `UPDATE wallets
            SET balance = $1::numeric, version = version + 1, updated_at = $2
            WHERE id = $3 AND version = $4`,
			u.Balance.String(), u.UpdatedAt, u.WalletID, u.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update wallet %s: %w", u.WalletID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
	}

	for _, t := range batch.Transactions {
		_, err := tx.Exec(ctx, `INSERT INTO transactions
            (id, wallet_id, type, status, amount, currency_code, counterparty_wallet_id, idempotency_key,
             reference, description, balance_before, balance_after, created_at)
            VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11::numeric, $12::numeric, $13)`,
			t.ID, t.WalletID, string(t.Type), string(t.Status), t.Amount.String(), t.CurrencyCode,
			nullable(t.CounterpartyWalletID), nullable(t.IdempotencyKey), t.Reference, t.Description,
			t.BalanceBefore.String(), t.BalanceAfter.String(), t.CreatedAt)
		if wallet.IsUniqueViolation(err, idempotencyIndex) {
			return ErrDuplicateIdempotencyKey
		}
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetTransaction fetches a transaction by id.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	return s.getOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

// GetByIdempotencyKey fetches the originating transaction for key.
func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	return s.getOne(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE idempotency_key = $1 AND (type <> 'transfer' OR amount < 0)`, key)
}

func (s *PostgresStore) getOne(ctx context.Context, query, arg string) (Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("select transaction: %w", err)
	}
	return t, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t                     Transaction
		typ, status           string
		amount, before, after string
		createdAt             time.Time
	)
	if err := row.Scan(&t.ID, &t.WalletID, &typ, &status, &amount, &t.CurrencyCode,
		&t.CounterpartyWalletID, &t.IdempotencyKey, &t.Reference, &t.Description,
		&before, &after, &createdAt); err != nil {
		return Transaction{}, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if t.BalanceBefore, err = decimal.NewFromString(before); err != nil {
		return Transaction{}, fmt.Errorf("parse balance_before: %w", err)
	}
	if t.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return Transaction{}, fmt.Errorf("parse balance_after: %w", err)
	}
	t.Type = Type(typ)
	t.Status = Status(status)
	t.CreatedAt = createdAt
	return t.normalized(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
