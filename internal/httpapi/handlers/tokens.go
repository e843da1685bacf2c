package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (h *Handler) CreateToken(c echo.Context) error {
	var req struct {
		Subject string `json:"subject"`
		Name    string `json:"name"`
		IsAdmin bool   `json:"isAdmin"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	token, record, err := h.svc.CreateToken(c.Request().Context(), req.Subject, req.Name, req.IsAdmin)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"id":        record.ID.String(),
		"subject":   record.Subject,
		"name":      record.Name,
		"isAdmin":   record.IsAdmin,
		"createdAt": toMillis(record.CreatedAt),
		"token":     token,
	})
}
