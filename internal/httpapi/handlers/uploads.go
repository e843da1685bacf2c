package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"blobdrop/internal/auth"
	"blobdrop/internal/upload"
)

// Upload answers a multipart request whose files upload.Middleware already stored.
func (h *Handler) Upload(c echo.Context) error {
	claims, ok := auth.GetClaims(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	uploads, err := h.svc.RecordUploads(c.Request().Context(), c.Request(), upload.Files(c), claims.Subject)
	if err != nil {
		return mapServiceError(err)
	}

	files := make([]map[string]any, 0, len(uploads))
	for _, u := range uploads {
		files = append(files, storedFileJSON(u))
	}
	return c.JSON(http.StatusCreated, map[string]any{"files": files})
}

func (h *Handler) RemoveBlob(c echo.Context) error {
	blob, err := url.PathUnescape(c.Param("blob"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid blob name")
	}
	if err := h.svc.RemoveBlob(c.Request().Context(), c.Request(), blob); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":       true,
		"blobName": strings.TrimSpace(blob),
	})
}

func (h *Handler) ListUploads(c echo.Context) error {
	limit := clampInt(queryInt(c, "limit", 25), 1, 200)
	offset, err := decodeCursor(c.QueryParam("cursor"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
	}

	items, err := h.svc.ListUploads(c.Request().Context(), c.QueryParam("container"), limit+1, offset)
	if err != nil {
		return mapServiceError(err)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, uploadJSON(item))
	}

	var nextCursor *string
	if hasMore {
		cursor := encodeCursor(offset + limit)
		nextCursor = &cursor
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":      out,
		"nextCursor": nextCursor,
	})
}

func (h *Handler) GetUpload(c echo.Context) error {
	id, err := parseUploadID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUpload(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"upload": uploadJSON(u)})
}

func (h *Handler) DeleteUpload(c echo.Context) error {
	id, err := parseUploadID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.DeleteUpload(c.Request().Context(), c.Request(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":     true,
		"upload": uploadJSON(u),
	})
}
