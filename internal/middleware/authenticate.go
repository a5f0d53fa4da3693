package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vault-core/vault_core/internal/auth"
)

// Verifier resolves a bearer token to a caller.
type Verifier interface {
	Verify(token string) (auth.Caller, error)
}

// Authenticate requires a valid bearer token and stores the resolved caller
// on the request context.
func Authenticate(verifier Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return auth.ErrMissingToken
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		if token == "" {
			return auth.ErrMissingToken
		}
		caller, err := verifier.Verify(token)
		if err != nil {
			return err
		}
		auth.SetCaller(c, caller)
		return c.Next()
	}
}
