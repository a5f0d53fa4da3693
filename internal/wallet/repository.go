package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists wallets. Every lookup takes an explicit visibility.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	GetByID(ctx context.Context, id string, vis Visibility) (Wallet, error)
	GetByOwner(ctx context.Context, ownerID string, vis Visibility) (Wallet, error)
	// UpdateStatus applies the change only if the stored version still equals
	// ExpectedVersion, bumping the version. Otherwise ErrVersionConflict.
	UpdateStatus(ctx context.Context, change StatusChange) (Wallet, error)
}

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint failure,
// optionally restricted to one constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

const walletColumns = `id, owner_id, currency_code, balance::text, status, version, created_at, updated_at, retired_at`

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, w Wallet) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, currency_code, balance, status, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		w.ID, w.OwnerID, w.CurrencyCode, w.Balance.String(), string(w.Status), w.Version, w.CreatedAt, w.UpdatedAt)
	if IsUniqueViolation(err, "wallets_owner_id_key") {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet by identifier.
func (r *PostgresRepository) GetByID(ctx context.Context, id string, vis Visibility) (Wallet, error) {
	return r.getOne(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id, vis)
}

// GetByOwner fetches the single wallet belonging to ownerID.
func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID string, vis Visibility) (Wallet, error) {
	return r.getOne(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID, vis)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string, vis Visibility) (Wallet, error) {
	if vis == ActiveOnly {
		query += ` AND retired_at IS NULL`
	}
	w, err := ScanWallet(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}

// UpdateStatus performs a compare-and-swap status change.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, change StatusChange) (Wallet, error) {
	row := r.db.QueryRow(ctx, `UPDATE wallets
        SET status = $1, retired_at = $2, version = version + 1, updated_at = $3
        WHERE id = $4 AND version = $5
        RETURNING `+walletColumns,
		string(change.Status), change.RetiredAt, change.UpdatedAt, change.WalletID, change.ExpectedVersion)
	w, err := ScanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrVersionConflict
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("update wallet status: %w", err)
	}
	return w, nil
}

// ScanWallet reads a row selected with walletColumns.
func ScanWallet(row pgx.Row) (Wallet, error) {
	var (
		w         Wallet
		balance   string
		status    string
		retiredAt *time.Time
	)
	if err := row.Scan(&w.ID, &w.OwnerID, &w.CurrencyCode, &balance, &status, &w.Version, &w.CreatedAt, &w.UpdatedAt, &retiredAt); err != nil {
		return Wallet{}, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	w.Balance = b
	w.Status = Status(status)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	if retiredAt != nil {
		t := retiredAt.UTC()
		retiredAt = &t
	}
	w.RetiredAt = retiredAt
	return w, nil
}
