package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"blobdrop/internal/auth"
	"blobdrop/internal/config"
	"blobdrop/internal/storage"
)

func (a *API) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":        true,
			"driver":    a.cfg.StorageDriver,
			"ledger":    a.svc.LedgerEnabled(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	v1 := e.Group("/api/v1")
	a.registerUploadV1Routes(v1)
	// Ledger routes answer 501 while DATABASE_URL is unset.
	a.registerLedgerV1Routes(v1)
	a.registerInternalRoutes(e)
	if a.cfg.StorageDriver == config.DriverLocal {
		e.GET("/files/:container/*", a.handler.ServeFile, a.fileMiddleware()...)
	}
}

// fileMiddleware guards local blobs unless the configured access level makes
// them anonymously readable.
func (a *API) fileMiddleware() []echo.MiddlewareFunc {
	access, _ := storage.ParseAccessLevel(a.cfg.AzureAccessLevel)
	if access == storage.AccessBlob || access == storage.AccessContainer {
		return nil
	}
	return []echo.MiddlewareFunc{a.auth.Middleware}
}

func (a *API) registerUploadV1Routes(v1 *echo.Group) {
	v1.POST("/uploads", a.handler.Upload,
		a.auth.Middleware,
		middleware.BodyLimit(bodyLimit(a.cfg.MaxUploadBytes)),
		a.uploads.Middleware,
	)
	v1.DELETE("/blobs/:blob", a.handler.RemoveBlob, a.auth.Middleware)
}

func (a *API) registerLedgerV1Routes(v1 *echo.Group) {
	ledger := v1.Group("/uploads")
	ledger.Use(a.auth.Middleware)
	ledger.GET("", a.handler.ListUploads)
	ledger.GET("/:id", a.handler.GetUpload)
	ledger.DELETE("/:id", a.handler.DeleteUpload)
}

func (a *API) registerInternalRoutes(e *echo.Echo) {
	internal := e.Group("/api/internal")
	internal.Use(a.auth.Middleware, auth.RequireAdmin)
	internal.POST("/tokens", a.handler.CreateToken)
}

// bodyLimit renders a byte count in the unit syntax middleware.BodyLimit parses.
func bodyLimit(n int64) string {
	return fmt.Sprintf("%dK", max(n/1024, 1))
}
