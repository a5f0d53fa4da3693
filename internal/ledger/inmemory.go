package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/wallet"
)

// InMemoryStore is a concurrency-safe Store used in development and tests.
// A single mutex makes every Commit atomic.
type InMemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]wallet.Wallet
	byOwner map[string]string
	txs     []Transaction
	txIndex map[string]int
	keys    map[string]int
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		wallets: make(map[string]wallet.Wallet),
		byOwner: make(map[string]string),
		txIndex: make(map[string]int),
		keys:    make(map[string]int),
	}
}

func (s *InMemoryStore) Create(_ context.Context, w wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOwner[w.OwnerID]; exists {
		return wallet.ErrExists
	}
	if _, exists := s.wallets[w.ID]; exists {
		return wallet.ErrExists
	}
	s.wallets[w.ID] = w
	s.byOwner[w.OwnerID] = w.ID
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id string, vis wallet.Visibility) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok || !vis.Admits(w) {
		return wallet.Wallet{}, wallet.ErrNotFound
	}
	return w, nil
}

func (s *InMemoryStore) GetByOwner(ctx context.Context, ownerID string, vis wallet.Visibility) (wallet.Wallet, error) {
	s.mu.RLock()
	id, ok := s.byOwner[ownerID]
	s.mu.RUnlock()
	if !ok {
		return wallet.Wallet{}, wallet.ErrNotFound
	}
	return s.GetByID(ctx, id, vis)
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, change wallet.StatusChange) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[change.WalletID]
	if !ok || w.Version != change.ExpectedVersion {
		return wallet.Wallet{}, wallet.ErrVersionConflict
	}
	w.Status = change.Status
	w.RetiredAt = change.RetiredAt
	w.UpdatedAt = change.UpdatedAt
	w.Version++
	s.wallets[w.ID] = w
	return w, nil
}

func (s *InMemoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.txIndex[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.txs[i], nil
}

func (s *InMemoryStore) GetByIdempotencyKey(_ context.Context, key string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.keys[key]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.txs[i], nil
}

// Commit validates the whole batch before applying any of it.
func (s *InMemoryStore) Commit(_ context.Context, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range batch.Wallets {
		w, ok := s.wallets[u.WalletID]
		if !ok || w.Version != u.ExpectedVersion {
			return ErrVersionConflict
		}
		if u.Balance.IsNegative() {
			return ErrInsufficientBalance
		}
	}
	seen := make(map[string]struct{}, len(batch.Transactions))
	for _, t := range batch.Transactions {
		if t.IdempotencyKey == "" || !t.Originating() {
			continue
		}
		if _, dup := s.keys[t.IdempotencyKey]; dup {
			return ErrDuplicateIdempotencyKey
		}
		if _, dup := seen[t.IdempotencyKey]; dup {
			return ErrDuplicateIdempotencyKey
		}
		seen[t.IdempotencyKey] = struct{}{}
	}

	for _, u := range batch.Wallets {
		w := s.wallets[u.WalletID]
		w.Balance = u.Balance
		w.UpdatedAt = u.UpdatedAt
		w.Version++
		s.wallets[w.ID] = w
	}
	for _, t := range batch.Transactions {
		s.txs = append(s.txs, t)
		s.txIndex[t.ID] = len(s.txs) - 1
		if t.IdempotencyKey != "" && t.Originating() {
			s.keys[t.IdempotencyKey] = len(s.txs) - 1
		}
	}
	return nil
}

// ListTransactions returns matches newest first; ties on CreatedAt keep
// reverse commit order.
func (s *InMemoryStore) ListTransactions(_ context.Context, filter ListFilter, win Window) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.match(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if win.Offset >= len(matched) {
		return []Transaction{}, nil
	}
	end := len(matched)
	if win.Limit > 0 && win.Offset+win.Limit < end {
		end = win.Offset + win.Limit
	}
	return matched[win.Offset:end], nil
}

func (s *InMemoryStore) CountTransactions(_ context.Context, filter ListFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(filter)), nil
}

// SumByWallet adds up every completed amount recorded against the wallet.
func (s *InMemoryStore) SumByWallet(_ context.Context, walletID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range s.txs {
		if t.WalletID == walletID && t.Status == StatusCompleted {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

// match walks commit order backwards so the result starts newest first.
func (s *InMemoryStore) match(filter ListFilter) []Transaction {
	out := make([]Transaction, 0)
	for i := len(s.txs) - 1; i >= 0; i-- {
		t := s.txs[i]
		if filter.WalletID != "" && t.WalletID != filter.WalletID {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out
}
