package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminTokenHeader carries the administrator token.
const AdminTokenHeader = "X-Admin-Token"

// AdminToken admits requests whose X-Admin-Token matches the bcrypt hash.
// An empty hash disables the guarded routes.
func AdminToken(hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if hash == "" {
			return fiber.NewError(http.StatusForbidden, "admin endpoints are disabled")
		}
		token := c.Get(AdminTokenHeader)
		if token == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing admin token")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid admin token")
		}
		return c.Next()
	}
}
