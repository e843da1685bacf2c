package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"blobdrop/internal/store"
)

var (
	ErrInvalidToken  = errors.New("invalid API token")
	ErrTokenDisabled = errors.New("token disabled")
)

type Claims struct {
	Subject string
	IsAdmin bool
	TokenID uuid.UUID
}

const claimsContextKey = "auth_claims"

// TokenStore resolves hashed API tokens. Nil disables database tokens.
type TokenStore interface {
	AuthenticateToken(ctx context.Context, tokenHash string) (store.APIToken, error)
	TouchTokenLastUsed(ctx context.Context, id uuid.UUID)
}

type Authenticator struct {
	tokens     TokenStore
	adminToken string
}

func NewAuthenticator(tokens TokenStore, adminToken string) *Authenticator {
	return &Authenticator{
		tokens:     tokens,
		adminToken: adminToken,
	}
}

func (a *Authenticator) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractToken(c.Request())
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API token")
		}

		claims, err := a.Authenticate(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid API token")
		}
		c.Set(claimsContextKey, claims)

		return next(c)
	}
}

// RequireAdmin rejects callers whose claims are not admin. It must run after Middleware.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := GetClaims(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API token")
		}
		if !claims.IsAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin token required")
		}
		return next(c)
	}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (Claims, error) {
	if a.adminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) == 1 {
		return Claims{Subject: "admin", IsAdmin: true}, nil
	}
	if a.tokens == nil {
		return Claims{}, ErrInvalidToken
	}

	t, err := a.tokens.AuthenticateToken(ctx, HashToken(token))
	if err != nil {
		if store.IsNotFound(err) {
			return Claims{}, ErrInvalidToken
		}
		return Claims{}, fmt.Errorf("authenticate token: %w", err)
	}
	if t.Disabled {
		return Claims{}, ErrTokenDisabled
	}
	a.tokens.TouchTokenLastUsed(ctx, t.ID)

	return Claims{Subject: t.Subject, IsAdmin: t.IsAdmin, TokenID: t.ID}, nil
}

func GetClaims(c echo.Context) (Claims, bool) {
	raw := c.Get(claimsContextKey)
	if raw == nil {
		return Claims{}, false
	}
	claims, ok := raw.(Claims)
	return claims, ok
}

// HashToken is the form a token is stored in.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// NewToken returns a random bearer token with a recognizable prefix.
func NewToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "bd_" + hex.EncodeToString(buf), nil
}

func extractToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Token"))
}

