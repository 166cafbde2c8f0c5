package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// RequireAuthority ensures the principal holds at least one of the roles.
// With no roles it only requires an authenticated caller.
func RequireAuthority(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromFiber(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, unauthorizedMessage)
		}
		if len(roles) == 0 {
			return c.Next()
		}
		for _, role := range roles {
			if principal.HasAuthority(role) {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient role")
	}
}
