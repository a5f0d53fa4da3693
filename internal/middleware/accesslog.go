package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vault-core/vault_core/internal/auth"
)

// AccessLog emits one structured record per request. Errors have not been
// rendered yet when the chain unwinds, so their status is derived here.
func AccessLog(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = Classify(err).Status
		}
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if caller, cerr := auth.CallerFrom(c); cerr == nil {
			attrs = append(attrs, slog.String("caller", caller.OwnerID))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error("request completed", append(attrs, slog.Any("error", err))...)
		case err != nil:
			logger.Warn("request completed", append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}
