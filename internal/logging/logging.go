// Package logging builds the process logger and the echo request logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// New returns a logger writing to w. format "console" gives human output, anything
// else JSON. An unknown level falls back to info.
func New(w io.Writer, level, format string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// RequestLogger logs one line per request and puts a request-scoped logger on
// the request context so zerolog.Ctx works in handlers and the engine.
func RequestLogger(base zerolog.Logger) echo.MiddlewareFunc {
	logRequest := middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger := zerolog.Ctx(c.Request().Context())
			event := logger.Info()
			if v.Error != nil {
				event = logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("ip", v.RemoteIP).
				Str("user_agent", v.UserAgent).
				Msg("http_request")
			return nil
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		logged := logRequest(next)
		return func(c echo.Context) error {
			req := c.Request()
			reqLogger := base.With().Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).Logger()
			c.SetRequest(req.WithContext(reqLogger.WithContext(req.Context())))
			return logged(c)
		}
	}
}
