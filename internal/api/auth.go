package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Role is the dashboard audience a token was issued for
type Role string

const (
	RoleProvider Role = "provider"
	RoleCustomer Role = "customer"
)

const claimsKey = "claims"

// Claims are the bearer token claims the API accepts
type Claims struct {
	Role  Role   `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for role and email valid for ttl
func NewToken(secret []byte, role Role, email string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates tokenString and returns its claims
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != RoleProvider && claims.Role != RoleCustomer {
		return nil, fmt.Errorf("invalid token role %q", claims.Role)
	}
	return claims, nil
}

// AuthMiddleware requires a valid bearer token and stores its claims
func AuthMiddleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fail(c, fiber.StatusUnauthorized, "Missing authorization header")
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return fail(c, fiber.StatusUnauthorized, "Invalid authorization format")
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// RequireProvider rejects tokens not issued to the provider
func RequireProvider() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := claimsFrom(c)
		if claims == nil || claims.Role != RoleProvider {
			return fail(c, fiber.StatusForbidden, "Provider access required")
		}
		return c.Next()
	}
}

func claimsFrom(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals(claimsKey).(*Claims)
	return claims
}
