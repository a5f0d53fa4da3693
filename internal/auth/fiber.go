package auth

import "github.com/gofiber/fiber/v2"

const callerLocalsKey = "auth.caller"

// SetCaller stores the resolved caller on the request context.
func SetCaller(c *fiber.Ctx, caller Caller) {
	c.Locals(callerLocalsKey, caller)
}

// CallerFrom returns the caller stored by the authentication middleware.
func CallerFrom(c *fiber.Ctx) (Caller, error) {
	caller, ok := c.Locals(callerLocalsKey).(Caller)
	if !ok || caller.OwnerID == "" {
		return Caller{}, ErrMissingToken
	}
	return caller, nil
}
