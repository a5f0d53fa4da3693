package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vault-core/vault_core/internal/ledger"
)

const (
	idempotencyPrefix = "idempotency:v1:"
	opTimeout         = 2 * time.Second
)

// ReplayCache keeps recently committed transactions by idempotency key so
// retries can be answered without a database read.
type ReplayCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewReplayCache builds a cache whose entries expire after ttl.
func NewReplayCache(client redis.Cmdable, ttl time.Duration) *ReplayCache {
	return &ReplayCache{client: client, ttl: ttl}
}

// Get returns the cached transaction for key, if any.
func (c *ReplayCache) Get(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, fmt.Errorf("replay cache get: %w", err)
	}

	var tx ledger.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return ledger.Transaction{}, false, fmt.Errorf("decode cached transaction: %w", err)
	}
	return tx, true, nil
}

// Put stores tx under key. An existing entry is left untouched since the
// first committed transaction for a key never changes.
func (c *ReplayCache) Put(ctx context.Context, key string, tx ledger.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.SetNX(ctx, idempotencyPrefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("replay cache put: %w", err)
	}
	return nil
}
