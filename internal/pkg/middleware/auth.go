package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/DocFox/internal/pkg/security"
)

// MonitorAuth guards operator pages with basic auth against a bcrypt hash.
// An empty hash refuses every request.
func MonitorAuth(user, passwordHash string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: "DocFox Monitor",
		Authorizer: func(u, p string) bool {
			if passwordHash == "" || u != user {
				return false
			}
			return security.CheckPassword(passwordHash, p)
		},
	})
}
