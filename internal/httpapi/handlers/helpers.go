package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"blobdrop/internal/engine"
	"blobdrop/internal/service"
	"blobdrop/internal/storage"
	"blobdrop/internal/store"
)

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, storage.ErrInvalidName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, engine.ErrContainerNotFound),
		errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrLedgerDisabled):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, engine.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func queryInt(c echo.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.QueryParam(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func clampInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return 0, err
	}
	offset, err := strconv.Atoi(string(data))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid cursor")
	}
	return offset, nil
}

func parseUploadID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid upload id")
	}
	return id, nil
}

func storedFileJSON(u service.Upload) map[string]any {
	f := u.File
	out := map[string]any{
		"fieldname":    f.FieldName,
		"originalname": f.OriginalName,
		"encoding":     f.Encoding,
		"mimetype":     f.MimeType,
		"size":         f.Size,
		"url":          f.URL,
		"blobName":     f.BlobName,
		"container":    f.Container,
		"etag":         f.ETag,
		"blobType":     f.BlobType,
		"blobSize":     f.BlobSize,
		"metadata":     metadataOrEmpty(f.Metadata),
	}
	if u.Record != nil {
		out["id"] = u.Record.ID.String()
		out["createdAt"] = toMillis(u.Record.CreatedAt)
	}
	return out
}

func uploadJSON(u store.Upload) map[string]any {
	return map[string]any{
		"id":           u.ID.String(),
		"container":    u.Container,
		"blobName":     u.BlobName,
		"url":          u.URL,
		"etag":         u.ETag,
		"blobType":     u.BlobType,
		"size":         u.SizeBytes,
		"mimetype":     u.ContentType,
		"originalname": u.OriginalName,
		"fieldname":    u.FieldName,
		"metadata":     metadataOrEmpty(u.Metadata),
		"uploadedBy":   u.UploadedBy,
		"createdAt":    toMillis(u.CreatedAt),
	}
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
