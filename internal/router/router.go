package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mailbot/internal/handler"
	"mailbot/internal/middleware"
)

// Options carries the secrets protecting the routes. A nil Webhook leaves
// the Telegram webhook route unregistered.
type Options struct {
	OperatorToken string
	WebhookSecret string
	Webhook       *handler.WebhookHandler
}

func SetupRoutes(
	e *echo.Echo,
	statusHandler *handler.StatusHandler,
	recordHandler *handler.RecordHandler,
	eventHandler *handler.EventHandler,
	opts Options,
) {
	e.GET("/health", statusHandler.Health)

	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/health")
	})

	// Operator API routes
	protected := e.Group("/api")
	protected.Use(middleware.AuthMiddleware(opts.OperatorToken))

	protected.GET("/records", recordHandler.GetRecords)
	protected.GET("/tasks", recordHandler.GetTasks)
	protected.GET("/confirmations", recordHandler.GetConfirmations)

	// Real-time pipeline events via Server-Sent Events (SSE)
	protected.GET("/events", eventHandler.Stream)

	if opts.Webhook != nil {
		e.POST("/telegram/webhook", opts.Webhook.Telegram, middleware.WebhookSecret(opts.WebhookSecret))
	}
}
