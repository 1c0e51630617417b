package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"mailbot/internal/notify"
)

// UpdateHandler consumes one Telegram update.
type UpdateHandler interface {
	Handle(ctx context.Context, u notify.Update)
}

type WebhookHandler struct {
	listener UpdateHandler
	logger   echo.Logger
}

func NewWebhookHandler(listener UpdateHandler, logger echo.Logger) *WebhookHandler {
	return &WebhookHandler{listener: listener, logger: logger}
}

// Telegram receives updates pushed by setWebhook. Telegram retries on any
// non-2xx answer, so malformed bodies are acknowledged and dropped.
func (h *WebhookHandler) Telegram(c echo.Context) error {
	var update notify.Update
	if err := c.Bind(&update); err != nil {
		h.logger.Warn("Dropping malformed webhook update:", err)
		return c.NoContent(http.StatusOK)
	}

	h.listener.Handle(c.Request().Context(), update)
	return c.NoContent(http.StatusOK)
}
