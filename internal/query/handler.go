package query

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/money"
)

// Handler exposes the read-only transaction endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a query handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type pageResponse struct {
	Items      []ledger.TransactionView `json:"items"`
	TotalCount int                      `json:"total_count"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
}

type reconcileResponse struct {
	WalletID string `json:"wallet_id"`
	Balance  string `json:"balance"`
	Sum      string `json:"transaction_sum"`
	Balanced bool   `json:"balanced"`
}

func toPageResponse(p Page) pageResponse {
	items := make([]ledger.TransactionView, 0, len(p.Items))
	for _, t := range p.Items {
		items = append(items, ledger.NewTransactionView(t))
	}
	return pageResponse{Items: items, TotalCount: p.TotalCount, Page: p.Page, PageSize: p.PageSize}
}

// Get returns one transaction.
func (h *Handler) Get(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	tx, err := h.service.Get(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ledger.NewTransactionView(tx))
}

// MyHistory pages through the caller's own wallet.
func (h *Handler) MyHistory(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	return h.history(c, caller, caller.OwnerID)
}

// OwnerHistory pages through the wallet of the owner in the path.
func (h *Handler) OwnerHistory(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	return h.history(c, caller, c.Params("ownerId"))
}

func (h *Handler) history(c *fiber.Ctx, caller auth.Caller, ownerID string) error {
	page, err := h.service.History(c.UserContext(), caller, ownerID, pageRequest(c))
	if err != nil {
		return err
	}
	return c.JSON(toPageResponse(page))
}

// List is the staff listing across all wallets, filterable by type and status.
func (h *Handler) List(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var filter ledger.ListFilter
	if raw := c.Query("type"); raw != "" {
		if filter.Type, err = ledger.ParseType(raw); err != nil {
			return err
		}
	}
	if raw := c.Query("status"); raw != "" {
		if filter.Status, err = ledger.ParseStatus(raw); err != nil {
			return err
		}
	}
	page, err := h.service.AdminList(c.UserContext(), caller, filter, pageRequest(c))
	if err != nil {
		return err
	}
	return c.JSON(toPageResponse(page))
}

// Reconcile reports whether a wallet's balance matches its transactions.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	rec, err := h.service.Reconcile(c.UserContext(), caller, c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.JSON(reconcileResponse{
		WalletID: rec.WalletID,
		Balance:  money.Format(rec.Balance),
		Sum:      money.Format(rec.Sum),
		Balanced: rec.Balanced,
	})
}

func pageRequest(c *fiber.Ctx) PageRequest {
	return PageRequest{Page: c.QueryInt("page", 1), PageSize: c.QueryInt("pageSize", DefaultPageSize)}
}
