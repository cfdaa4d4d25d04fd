// Package apiauth guards the HTTP surface: a JWT bearer token carries the
// caller's user id onto every /v1/* request, and a TOTP challenge gates the
// one admin mutation that can force a daily pause.
package apiauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
)

// Claims is the JWT payload ScalpGuard issues and verifies. UserID is the
// only claim the rest of the system reads.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies bearer tokens against a single HMAC secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds a TokenIssuer. ttl is the lifetime of tokens minted
// by Issue; it does not affect verification of externally-issued tokens.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed bearer token for userID.
func (t *TokenIssuer) Issue(userID string, now time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses and validates a bearer token, returning its claims.
func (t *TokenIssuer) Verify(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("apiauth: unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("apiauth: verify token: %w", err)
	}
	if !token.Valid {
		return Claims{}, fmt.Errorf("apiauth: token invalid")
	}
	return claims, nil
}

// Middleware returns a gin handler that validates the Authorization bearer
// token and stores the resolved user id on the request context under
// "user_id", matching the c.GetString("user_id") convention the inherited
// handlers already assume.
func Middleware(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := issuer.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

// TOTPGate validates an admin's one-time code against their enrolled
// secret. It does not issue or store secrets; enrollment is an operator
// provisioning step outside this package's scope.
type TOTPGate struct {
	secrets map[string]string // userID -> base32 TOTP secret
}

// NewTOTPGate builds a gate from a static userID->secret map, loaded by the
// caller from configuration.
func NewTOTPGate(secrets map[string]string) *TOTPGate {
	return &TOTPGate{secrets: secrets}
}

// Validate reports whether code is a currently-valid TOTP code for userID.
func (g *TOTPGate) Validate(userID, code string) bool {
	secret, ok := g.secrets[userID]
	if !ok {
		return false
	}
	valid, _ := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    6,
		Algorithm: totp.AlgorithmSHA1,
	})
	return valid
}

// RequireTOTP returns a gin handler that 403s unless the X-TOTP-Code header
// carries a currently-valid code for the authenticated user. Must run after
// Middleware so "user_id" is already set.
func RequireTOTP(gate *TOTPGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		code := c.GetHeader("X-TOTP-Code")
		if userID == "" || !gate.Validate(userID, code) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "totp challenge failed"})
			return
		}
		c.Next()
	}
}
