package handlers

import (
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
)

// ServeFile streams a blob stored by the local disk backend.
func (h *Handler) ServeFile(c echo.Context) error {
	if h.files == nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	f, err := h.files.Open(c.Param("container"), c.Param("*"))
	if err != nil {
		return mapServiceError(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return mapServiceError(err)
	}
	c.Response().Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Response(), c.Request(), path.Base(c.Param("*")), info.ModTime(), f)
	return nil
}
