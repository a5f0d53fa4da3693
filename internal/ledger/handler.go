package ledger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/money"
	"github.com/vault-core/vault_core/internal/validation"
)

// IdempotencyKeyHeader takes precedence over the body's idempotency_key.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler exposes the mutating ledger endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a ledger handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type movementRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference" validate:"max=100"`
	Description    string          `json:"description" validate:"max=500"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=64"`
}

type transferRequest struct {
	ToOwnerID string `json:"to_owner_id" validate:"required,max=64"`
	movementRequest
}

// TransactionView is the wire shape of a Transaction.
type TransactionView struct {
	ID                   string    `json:"id"`
	WalletID             string    `json:"wallet_id"`
	Type                 Type      `json:"type"`
	Status               Status    `json:"status"`
	Amount               string    `json:"amount"`
	CurrencyCode         string    `json:"currency_code"`
	CounterpartyWalletID string    `json:"counterparty_wallet_id,omitempty"`
	IdempotencyKey       string    `json:"idempotency_key,omitempty"`
	Reference            string    `json:"reference,omitempty"`
	Description          string    `json:"description,omitempty"`
	BalanceBefore        string    `json:"balance_before"`
	BalanceAfter         string    `json:"balance_after"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewTransactionView formats amounts at the fixed scale.
func NewTransactionView(t Transaction) TransactionView {
	return TransactionView{
		ID:                   t.ID,
		WalletID:             t.WalletID,
		Type:                 t.Type,
		Status:               t.Status,
		Amount:               money.Format(t.Amount),
		CurrencyCode:         t.CurrencyCode,
		CounterpartyWalletID: t.CounterpartyWalletID,
		IdempotencyKey:       t.IdempotencyKey,
		Reference:            t.Reference,
		Description:          t.Description,
		BalanceBefore:        money.Format(t.BalanceBefore),
		BalanceAfter:         money.Format(t.BalanceAfter),
		CreatedAt:            t.CreatedAt,
	}
}

// Deposit credits the wallet of the owner in the path. Admin only.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var req movementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tx, err := h.engine.Deposit(c.UserContext(), caller, DepositRequest{
		OwnerID:        c.Params("ownerId"),
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		Reference:      req.Reference,
		Description:    req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(NewTransactionView(tx))
}

// Withdraw debits the caller's wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var req movementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tx, err := h.engine.Withdraw(c.UserContext(), caller, WithdrawRequest{
		OwnerID:        caller.OwnerID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		Reference:      req.Reference,
		Description:    req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(NewTransactionView(tx))
}

// Transfer moves money from the caller's wallet to another owner's.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tx, err := h.engine.Transfer(c.UserContext(), caller, TransferRequest{
		FromOwnerID:    caller.OwnerID,
		ToOwnerID:      req.ToOwnerID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		Reference:      req.Reference,
		Description:    req.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(NewTransactionView(tx))
}

func bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return validation.Invalid("body", err.Error())
	}
	return validation.Struct(dst)
}

func idempotencyKey(c *fiber.Ctx, fromBody string) string {
	if v := strings.TrimSpace(c.Get(IdempotencyKeyHeader)); v != "" {
		return v
	}
	return fromBody
}
