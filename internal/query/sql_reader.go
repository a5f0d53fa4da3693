package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/money"
)

const selectTransactions = `SELECT id, wallet_id, type, status, amount, currency_code, counterparty_wallet_id,
idempotency_key, reference, description, balance_before, balance_after, created_at FROM transactions`

type transactionRow struct {
	ID                   string          `db:"id"`
	WalletID             string          `db:"wallet_id"`
	Type                 string          `db:"type"`
	Status               string          `db:"status"`
	Amount               decimal.Decimal `db:"amount"`
	CurrencyCode         string          `db:"currency_code"`
	CounterpartyWalletID sql.NullString  `db:"counterparty_wallet_id"`
	IdempotencyKey       sql.NullString  `db:"idempotency_key"`
	Reference            string          `db:"reference"`
	Description          string          `db:"description"`
	BalanceBefore        decimal.Decimal `db:"balance_before"`
	BalanceAfter         decimal.Decimal `db:"balance_after"`
	CreatedAt            time.Time       `db:"created_at"`
}

func (r transactionRow) toTransaction() ledger.Transaction {
	return ledger.Transaction{
		ID:                   r.ID,
		WalletID:             r.WalletID,
		Type:                 ledger.Type(r.Type),
		Status:               ledger.Status(r.Status),
		Amount:               money.Normalize(r.Amount),
		CurrencyCode:         r.CurrencyCode,
		CounterpartyWalletID: r.CounterpartyWalletID.String,
		IdempotencyKey:       r.IdempotencyKey.String,
		Reference:            r.Reference,
		Description:          r.Description,
		BalanceBefore:        money.Normalize(r.BalanceBefore),
		BalanceAfter:         money.Normalize(r.BalanceAfter),
		CreatedAt:            r.CreatedAt.UTC(),
	}
}

// SQLReader serves the read model from PostgreSQL through database/sql.
// Reads run at read committed and may trail a concurrent commit.
type SQLReader struct {
	db *sqlx.DB
}

// NewSQLReader wraps an open database handle.
func NewSQLReader(db *sqlx.DB) *SQLReader {
	return &SQLReader{db: db}
}

// ListTransactions returns filtered transactions newest first.
func (r *SQLReader) ListTransactions(ctx context.Context, filter ledger.ListFilter, win ledger.Window) ([]ledger.Transaction, error) {
	where, args := whereClause(filter)
	query := selectTransactions + where + " ORDER BY created_at DESC, seq DESC"
	if win.Limit > 0 {
		args = append(args, win.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if win.Offset > 0 {
		args = append(args, win.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []transactionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTransaction())
	}
	return out, nil
}

// CountTransactions counts filtered transactions.
func (r *SQLReader) CountTransactions(ctx context.Context, filter ledger.ListFilter) (int, error) {
	where, args := whereClause(filter)
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM transactions"+where, args...); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// SumByWallet adds up the completed amounts of one wallet.
func (r *SQLReader) SumByWallet(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.GetContext(ctx, &sum,
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE wallet_id = $1 AND status = $2",
		walletID, string(ledger.StatusCompleted))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum transactions: %w", err)
	}
	return money.Normalize(sum), nil
}

func whereClause(f ledger.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.WalletID != "" {
		add("wallet_id", f.WalletID)
	}
	if f.Type != "" {
		add("type", string(f.Type))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
