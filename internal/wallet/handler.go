package wallet

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/money"
	"github.com/vault-core/vault_core/internal/validation"
)

// Handler exposes wallet HTTP endpoints. Errors are returned untouched and
// translated by the shared error handler.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type provisionRequest struct {
	OwnerID  string `json:"owner_id" validate:"required,max=64"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
}

type walletResponse struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	CurrencyCode string     `json:"currency_code"`
	Balance      string     `json:"balance"`
	Status       Status     `json:"status"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	RetiredAt    *time.Time `json:"retired_at,omitempty"`
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:           w.ID,
		OwnerID:      w.OwnerID,
		CurrencyCode: w.CurrencyCode,
		Balance:      money.Format(w.Balance),
		Status:       w.Status,
		Version:      w.Version,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
		RetiredAt:    w.RetiredAt,
	}
}

// Provision creates a wallet.
func (h *Handler) Provision(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var req provisionRequest
	if err := c.BodyParser(&req); err != nil {
		return validation.Invalid("body", err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return err
	}
	w, err := h.service.Provision(c.UserContext(), caller, ProvisionInput{OwnerID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// Mine returns the caller's own wallet.
func (h *Handler) Mine(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	w, err := h.service.Get(c.UserContext(), caller, caller.OwnerID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

// ByOwner returns the wallet of the owner in the path.
func (h *Handler) ByOwner(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	w, err := h.service.Get(c.UserContext(), caller, c.Params("ownerId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

func (h *Handler) Freeze(c *fiber.Ctx) error   { return h.admin(c, h.service.Freeze) }
func (h *Handler) Unfreeze(c *fiber.Ctx) error { return h.admin(c, h.service.Unfreeze) }
func (h *Handler) Suspend(c *fiber.Ctx) error  { return h.admin(c, h.service.Suspend) }
func (h *Handler) Retire(c *fiber.Ctx) error   { return h.admin(c, h.service.Retire) }

func (h *Handler) admin(c *fiber.Ctx, op func(context.Context, auth.Caller, string) (Wallet, error)) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	w, err := op(c.UserContext(), caller, c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}
