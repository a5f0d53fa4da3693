package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/query"
)

// RegisterLedgerRoutes wires the money movement endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler) {
	r.Post("/transactions/deposit/:ownerId", h.Deposit)
	r.Post("/transactions/withdraw", h.Withdraw)
	r.Post("/transactions/transfer", h.Transfer)
}

// RegisterQueryRoutes wires the read-only transaction endpoints.
func RegisterQueryRoutes(r fiber.Router, h *query.Handler) {
	r.Get("/transactions/me/history", h.MyHistory)
	r.Get("/transactions/:id", h.Get)
	r.Get("/transactions", h.List)
	r.Get("/wallets/user/:ownerId/transactions", h.OwnerHistory)
	r.Get("/admin/wallets/:walletId/reconcile", h.Reconcile)
}
