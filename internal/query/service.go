package query

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/wallet"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Reader is the read model over committed transactions. Listings are
// newest first.
type Reader interface {
	ListTransactions(ctx context.Context, filter ledger.ListFilter, win ledger.Window) ([]ledger.Transaction, error)
	CountTransactions(ctx context.Context, filter ledger.ListFilter) (int, error)
	SumByWallet(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// TransactionGetter fetches one transaction with visibility gating.
type TransactionGetter interface {
	Get(ctx context.Context, caller auth.Caller, id string) (ledger.Transaction, error)
}

// PageRequest is a 1-based page selection.
type PageRequest struct {
	Page     int
	PageSize int
}

func (p PageRequest) normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageRequest) window() ledger.Window {
	return ledger.Window{Limit: p.PageSize, Offset: (p.Page - 1) * p.PageSize}
}

// Page is one slice of a listing plus the total number of matches.
type Page struct {
	Items      []ledger.Transaction
	TotalCount int
	Page       int
	PageSize   int
}

// Reconciliation compares a wallet's materialised balance with the sum of
// its completed transactions.
type Reconciliation struct {
	WalletID string
	Balance  decimal.Decimal
	Sum      decimal.Decimal
	Balanced bool
}

// Service serves read-only transaction queries. It never mutates.
type Service struct {
	reader  Reader
	wallets wallet.Repository
	getter  TransactionGetter
}

// NewService wires the query service.
func NewService(reader Reader, wallets wallet.Repository, getter TransactionGetter) *Service {
	return &Service{reader: reader, wallets: wallets, getter: getter}
}

// Get returns one transaction the caller may see.
func (s *Service) Get(ctx context.Context, caller auth.Caller, id string) (ledger.Transaction, error) {
	return s.getter.Get(ctx, caller, id)
}

// History pages through the transactions of ownerID's wallet.
func (s *Service) History(ctx context.Context, caller auth.Caller, ownerID string, req PageRequest) (Page, error) {
	if !caller.CanView(ownerID) {
		return Page{}, ledger.ErrWalletNotFound
	}
	vis := wallet.ActiveOnly
	if caller.IsStaff() {
		vis = wallet.IncludeRetired
	}
	w, err := s.wallets.GetByOwner(ctx, ownerID, vis)
	if err != nil {
		return Page{}, err
	}
	return s.page(ctx, ledger.ListFilter{WalletID: w.ID}, req)
}

// AdminList pages through all transactions. Admin and support only.
func (s *Service) AdminList(ctx context.Context, caller auth.Caller, filter ledger.ListFilter, req PageRequest) (Page, error) {
	if !caller.IsStaff() {
		return Page{}, ledger.ErrUnauthorized
	}
	return s.page(ctx, filter, req)
}

// Reconcile checks the balance invariant for one wallet. Admin only.
func (s *Service) Reconcile(ctx context.Context, caller auth.Caller, walletID string) (Reconciliation, error) {
	if !caller.IsAdmin() {
		return Reconciliation{}, ledger.ErrUnauthorized
	}
	w, err := s.wallets.GetByID(ctx, walletID, wallet.IncludeRetired)
	if err != nil {
		return Reconciliation{}, err
	}
	sum, err := s.reader.SumByWallet(ctx, w.ID)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{
		WalletID: w.ID,
		Balance:  w.Balance,
		Sum:      sum,
		Balanced: w.Balance.Equal(sum),
	}, nil
}

func (s *Service) page(ctx context.Context, filter ledger.ListFilter, req PageRequest) (Page, error) {
	req = req.normalize()
	total, err := s.reader.CountTransactions(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	items, err := s.reader.ListTransactions(ctx, filter, req.window())
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, TotalCount: total, Page: req.Page, PageSize: req.PageSize}, nil
}
