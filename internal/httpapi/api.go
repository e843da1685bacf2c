package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"blobdrop/internal/auth"
	"blobdrop/internal/config"
	"blobdrop/internal/httpapi/handlers"
	"blobdrop/internal/httpapi/middlewares"
	"blobdrop/internal/logging"
	"blobdrop/internal/service"
	"blobdrop/internal/upload"
)

type API struct {
	cfg     config.Config
	logger  zerolog.Logger
	auth    *auth.Authenticator
	svc     *service.Service
	uploads *upload.Handler
	handler *handlers.Handler
}

// New wires the HTTP surface. files is only set for the local disk driver.
func New(
	cfg config.Config,
	logger zerolog.Logger,
	svc *service.Service,
	authn *auth.Authenticator,
	uploads *upload.Handler,
	files handlers.FileOpener,
) *API {
	return &API{
		cfg:     cfg,
		logger:  logger,
		auth:    authn,
		svc:     svc,
		uploads: uploads,
		handler: handlers.New(svc, files),
	}
}

func (a *API) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(a.logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: a.cfg.CORSAllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: a.allowedHeaders(),
		ExposeHeaders: []string{
			echo.HeaderXRequestID,
			"RateLimit-Limit",
			"RateLimit-Remaining",
			"RateLimit-Reset",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 600,
	}))
	e.Use(middlewares.NewRateLimitMiddleware(a.auth))

	a.registerRoutes(e)
	return e
}

func (a *API) allowedHeaders() []string {
	headers := []string{
		echo.HeaderOrigin,
		echo.HeaderAccept,
		echo.HeaderContentType,
		echo.HeaderAuthorization,
		"X-API-Token",
	}
	if a.cfg.UploadContainerHeader != "" {
		headers = append(headers, a.cfg.UploadContainerHeader)
	}
	return headers
}
