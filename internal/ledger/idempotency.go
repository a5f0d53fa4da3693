package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// MaxIdempotencyKeyLength bounds caller-supplied keys.
const MaxIdempotencyKeyLength = 64

// ReplayCache is an optional fast path in front of the store. The store
// remains authoritative; cache failures are logged and ignored.
type ReplayCache interface {
	Get(ctx context.Context, key string) (Transaction, bool, error)
	Put(ctx context.Context, key string, tx Transaction) error
}

// NormalizeKey trims the key and enforces its length bound. An empty result
// means the operation is not deduplicated.
func NormalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if len(key) > MaxIdempotencyKeyLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidIdempotencyKey, MaxIdempotencyKeyLength)
	}
	return key, nil
}

// IdempotencyGuard finds the transaction a key already produced.
type IdempotencyGuard struct {
	store  TransactionStore
	cache  ReplayCache
	logger *slog.Logger
}

// NewIdempotencyGuard builds a guard; cache may be nil.
func NewIdempotencyGuard(store TransactionStore, cache ReplayCache, logger *slog.Logger) *IdempotencyGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyGuard{store: store, cache: cache, logger: logger}
}

// Lookup returns the originating transaction for key, consulting the cache
// before the store.
func (g *IdempotencyGuard) Lookup(ctx context.Context, key string) (Transaction, bool, error) {
	if g.cache != nil {
		tx, ok, err := g.cache.Get(ctx, key)
		switch {
		case err != nil:
			g.logger.Warn("replay cache lookup failed", "key", key, "error", err)
		case ok:
			return tx.normalized(), true, nil
		}
	}

	tx, err := g.store.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrTransactionNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	g.Remember(ctx, key, tx)
	return tx, true, nil
}

// Remember warms the cache after a commit or a store hit.
func (g *IdempotencyGuard) Remember(ctx context.Context, key string, tx Transaction) {
	if g.cache == nil || key == "" {
		return
	}
	if err := g.cache.Put(ctx, key, tx); err != nil {
		g.logger.Warn("replay cache write failed", "key", key, "error", err)
	}
}
