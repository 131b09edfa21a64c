// Package middleware holds the fiber middleware shared by every route.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/wishp/circles/internal/auth"
)

// ClaimsKey is the Locals key JWTAuth stores *auth.Claims under.
const ClaimsKey = "claims"

// JWTAuth accepts a bearer token, or a ?token= query parameter for
// websocket upgrades where browsers cannot set headers.
func JWTAuth(m *auth.JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if h := c.Get(fiber.HeaderAuthorization); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization"})
			}
			token = parts[1]
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
		}
		claims, err := m.VerifyToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(ClaimsKey, claims)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by JWTAuth, or nil.
func ClaimsFrom(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(ClaimsKey).(*auth.Claims)
	return claims
}

// RequireAccess rejects users who have not redeemed an access code while
// the gate is closed.
func RequireAccess(g *auth.AccessGate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if g == nil || g.Open() {
			return c.Next()
		}
		if claims := ClaimsFrom(c); claims != nil && g.Granted(claims.UID) {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": auth.ErrAccessRequired.Error()})
	}
}
