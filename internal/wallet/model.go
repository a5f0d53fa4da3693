package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status gates whether the ledger may move money in or out of a wallet.
type Status string

const (
	StatusActive    Status = "active"
	StatusFrozen    Status = "frozen"
	StatusSuspended Status = "suspended"
)

var (
	ErrNotFound        = errors.New("wallet not found")
	ErrNotActive       = errors.New("wallet not active")
	ErrExists          = errors.New("owner already has a wallet")
	ErrVersionConflict = errors.New("wallet version conflict")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
)

// Wallet is the materialised balance of one owner. Balance is only ever
// written by the ledger; Status and RetiredAt by administration.
type Wallet struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	CurrencyCode string          `json:"currency_code"`
	Balance      decimal.Decimal `json:"balance"`
	Status       Status          `json:"status"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	RetiredAt    *time.Time      `json:"retired_at,omitempty"`
}

// Active reports whether the wallet accepts ledger mutations.
func (w Wallet) Active() bool {
	return w.Status == StatusActive && w.RetiredAt == nil
}

// Visibility selects whether soft-retired wallets are returned by lookups.
type Visibility int

const (
	ActiveOnly Visibility = iota
	IncludeRetired
)

// Admits reports whether w is visible under v.
func (v Visibility) Admits(w Wallet) bool {
	return v == IncludeRetired || w.RetiredAt == nil
}

// StatusChange is a versioned administrative update.
type StatusChange struct {
	WalletID        string
	ExpectedVersion int64
	Status          Status
	RetiredAt       *time.Time
	UpdatedAt       time.Time
}
