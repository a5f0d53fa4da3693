package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/ledger"
	"github.com/vault-core/vault_core/internal/validation"
	"github.com/vault-core/vault_core/internal/wallet"
)

// Problem is the client-facing classification of an error.
type Problem struct {
	Status    int
	Code      string
	Retryable bool
}

type errorBody struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// Order matters: the first matching sentinel wins.
var problems = []struct {
	err     error
	problem Problem
}{
	{ledger.ErrInvalidAmount, Problem{http.StatusBadRequest, "invalid_amount", false}},
	{ledger.ErrInvalidIdempotencyKey, Problem{http.StatusBadRequest, "invalid_idempotency_key", false}},
	{wallet.ErrInvalidCurrency, Problem{http.StatusBadRequest, "invalid_currency", false}},
	{ledger.ErrInvalidRequest, Problem{http.StatusBadRequest, "invalid_request", false}},
	{auth.ErrMissingToken, Problem{http.StatusUnauthorized, "unauthenticated", false}},
	{auth.ErrInvalidToken, Problem{http.StatusUnauthorized, "unauthenticated", false}},
	{ledger.ErrUnauthorized, Problem{http.StatusForbidden, "unauthorized", false}},
	{ledger.ErrWalletNotFound, Problem{http.StatusNotFound, "wallet_not_found", false}},
	{ledger.ErrTransactionNotFound, Problem{http.StatusNotFound, "transaction_not_found", false}},
	{ledger.ErrConcurrencyConflict, Problem{http.StatusConflict, "concurrency_conflict", true}},
	{wallet.ErrVersionConflict, Problem{http.StatusConflict, "concurrency_conflict", true}},
	{wallet.ErrExists, Problem{http.StatusConflict, "wallet_exists", false}},
	{ledger.ErrWalletNotActive, Problem{http.StatusLocked, "wallet_not_active", false}},
	{ledger.ErrInsufficientBalance, Problem{http.StatusUnprocessableEntity, "insufficient_balance", false}},
	{ledger.ErrSelfTransfer, Problem{http.StatusUnprocessableEntity, "self_transfer", false}},
	{ledger.ErrCurrencyMismatch, Problem{http.StatusUnprocessableEntity, "currency_mismatch", false}},
	{ledger.ErrIdempotencyKeyReused, Problem{http.StatusUnprocessableEntity, "idempotency_key_reused", false}},
	{ErrRateLimited, Problem{http.StatusTooManyRequests, "rate_limited", true}},
}

var internalProblem = Problem{http.StatusInternalServerError, "internal_error", true}

// Classify maps an error to its HTTP status, machine code and retry hint.
// Unknown errors are internal and retryable.
func Classify(err error) Problem {
	for _, p := range problems {
		if errors.Is(err, p.err) {
			return p.problem
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return Problem{
			Status:    fe.Code,
			Code:      strings.ReplaceAll(strings.ToLower(http.StatusText(fe.Code)), " ", "_"),
			Retryable: fe.Code >= http.StatusInternalServerError,
		}
	}
	return internalProblem
}

// ErrorHandler renders handler errors as JSON. Internal failures are logged
// and their details withheld from the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		p := Classify(err)
		body := errorBody{
			Error:     err.Error(),
			Code:      p.Code,
			Retryable: p.Retryable,
			RequestID: RequestIDFrom(c),
		}
		var verr *validation.Error
		if errors.As(err, &verr) {
			body.Fields = verr.Fields
		}
		if p.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.String("request_id", body.RequestID),
				slog.Any("error", err),
			)
			body.Error = "internal error"
		}
		return c.Status(p.Status).JSON(body)
	}
}
