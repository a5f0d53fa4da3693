package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vault-core/vault_core/internal/wallet"
)

// RegisterWalletRoutes wires wallet lookup and administration endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets/me", h.Mine)
	r.Get("/wallets/user/:ownerId", h.ByOwner)
	r.Post("/admin/wallets", h.Provision)
	r.Post("/wallets/:walletId/freeze", h.Freeze)
	r.Post("/wallets/:walletId/unfreeze", h.Unfreeze)
	r.Post("/wallets/:walletId/suspend", h.Suspend)
	r.Post("/wallets/:walletId/retire", h.Retire)
}
