package middlewares

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"blobdrop/internal/auth"
	"blobdrop/internal/ratelimit"
)

type tokenVerifier interface {
	Authenticate(context.Context, string) (auth.Claims, error)
}

func NewRateLimitMiddleware(verifier tokenVerifier) echo.MiddlewareFunc {
	return newRateLimitMiddlewareWithConfig(verifier, ratelimit.DefaultConfig(), time.Now)
}

func newRateLimitMiddlewareWithConfig(verifier tokenVerifier, cfg ratelimit.Config, now func() time.Time) echo.MiddlewareFunc {
	limiter := ratelimit.New(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope := requestScope(c.Request())
			kind, bucket := resolveRateLimitBucket(c, verifier)

			result := limiter.Take(now().UTC(), scope, kind, bucket)
			setRateLimitHeaders(c.Response().Header(), result)

			if !result.Allowed {
				retryAfter := int64(result.RetryAfter.Round(time.Second) / time.Second)
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error": "rate limit exceeded",
					"scope": scope,
				})
			}
			return next(c)
		}
	}
}

// requestScope counts multipart bodies as uploads, other non-safe methods as writes.
func requestScope(r *http.Request) ratelimit.Scope {
	switch strings.ToUpper(strings.TrimSpace(r.Method)) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ratelimit.ScopeRead
	}
	if strings.HasPrefix(strings.ToLower(r.Header.Get(echo.HeaderContentType)), echo.MIMEMultipartForm) {
		return ratelimit.ScopeUpload
	}
	return ratelimit.ScopeWrite
}

func resolveRateLimitBucket(c echo.Context, verifier tokenVerifier) (ratelimit.BucketKind, string) {
	token := extractToken(c.Request())
	if token != "" && verifier != nil {
		claims, err := verifier.Authenticate(c.Request().Context(), token)
		if err == nil {
			subject := strings.TrimSpace(claims.Subject)
			if subject != "" {
				return ratelimit.BucketToken, subject
			}
		}
	}

	ip := strings.TrimSpace(c.RealIP())
	if ip == "" {
		ip = clientIPFromRemoteAddr(c.Request().RemoteAddr)
	}
	if ip == "" {
		ip = "unknown"
	}
	return ratelimit.BucketIP, ip
}

func setRateLimitHeaders(header http.Header, result ratelimit.Result) {
	if result.Limit == 0 {
		return
	}
	limit := strconv.Itoa(result.Limit)
	remaining := strconv.Itoa(result.Remaining)
	resetEpoch := strconv.FormatInt(result.ResetAt.Unix(), 10)
	resetDelay := strconv.FormatInt(int64(result.RetryAfter/time.Second), 10)

	header.Set("X-RateLimit-Limit", limit)
	header.Set("X-RateLimit-Remaining", remaining)
	header.Set("X-RateLimit-Reset", resetEpoch)

	header.Set("RateLimit-Limit", limit)
	header.Set("RateLimit-Remaining", remaining)
	header.Set("RateLimit-Reset", resetDelay)
}

func extractToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Token"))
}

func clientIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return strings.TrimSpace(host)
}
