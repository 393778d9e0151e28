package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"

	"github.com/HamiGames/Lucid-sub000/internal/config"
)

// Claims is the admin JWT's claim set, following the teacher's
// middleware.go JWTClaims shape (issuer-checked, role-bearing).
type Claims struct {
	NodeID string `json:"node_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs a short-lived admin token for the given node,
// the way the teacher's auth handlers mint session tokens.
func IssueAdminToken(cfg *config.Config, nodeID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		NodeID: nodeID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.JWTExpiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// JWTMiddleware verifies the Authorization bearer token, mirroring the
// teacher's middleware.JWTMiddleware parse-and-validate sequence.
func JWTMiddleware(cfg *config.Config) fiber.Handler {
	secret := []byte(cfg.JWTSecret)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization format, expected 'Bearer <token>'")
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to parse token claims")
		}
		if cfg.JWTIssuer != "" && claims.Issuer != cfg.JWTIssuer {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token issuer")
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// RequireRole gates a route group to one of the given roles, mirroring
// the teacher's middleware.RoleMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*Claims)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authentication claims")
		}
		for _, r := range roles {
			if claims.Role == r {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "insufficient role for this operation")
	}
}
