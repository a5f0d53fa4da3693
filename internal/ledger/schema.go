package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL statements for wallets and transactions, in order.
func Schema() []string {
	var stmts []string
	for _, part := range strings.Split(schemaSQL, ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// EnsureSchema creates the tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range Schema() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
