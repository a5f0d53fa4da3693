package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/money"
	"github.com/vault-core/vault_core/internal/wallet"
)

// SeedWallet creates an active wallet for ownerID directly in the store. A
// positive opening balance is written as a deposit record so the wallet's
// balance still equals the sum of its transactions. Intended for tests and
// local fixtures.
func SeedWallet(ctx context.Context, store Store, ownerID, currency string, opening decimal.Decimal) (wallet.Wallet, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	w := wallet.Wallet{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		CurrencyCode: currency,
		Balance:      money.Normalize(decimal.Zero),
		Status:       wallet.StatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Create(ctx, w); err != nil {
		return wallet.Wallet{}, err
	}
	if !opening.IsPositive() {
		return w, nil
	}

	balance := money.Normalize(opening)
	err := store.Commit(ctx, Batch{
		Wallets: []WalletUpdate{{WalletID: w.ID, ExpectedVersion: w.Version, Balance: balance, UpdatedAt: now}},
		Transactions: []Transaction{{
			ID:            uuid.NewString(),
			WalletID:      w.ID,
			Type:          TypeDeposit,
			Status:        StatusCompleted,
			Amount:        balance,
			CurrencyCode:  currency,
			Reference:     "opening-balance",
			BalanceBefore: w.Balance,
			BalanceAfter:  balance,
			CreatedAt:     now,
		}},
	})
	if err != nil {
		return wallet.Wallet{}, err
	}
	return store.GetByID(ctx, w.ID, wallet.IncludeRetired)
}
