package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"mailbot/internal/sse"
)

type EventHandler struct {
	hub    *sse.Hub
	logger echo.Logger
}

func NewEventHandler(hub *sse.Hub, logger echo.Logger) *EventHandler {
	return &EventHandler{hub: hub, logger: logger}
}

// Stream provides Server-Sent Events for pipeline activity, optionally
// limited to one account with ?account=.
func (h *EventHandler) Stream(c echo.Context) error {
	account := c.QueryParam("account")

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")

	clientChannel := h.hub.Subscribe(account)
	defer h.hub.Unsubscribe(clientChannel)

	initEvent := map[string]interface{}{
		"type": "connection",
		"data": map[string]string{
			"message": "Connected to mailbot events",
			"account": account,
		},
		"time": time.Now().Unix(),
	}
	initJSON, _ := json.Marshal(initEvent)
	fmt.Fprintf(c.Response(), "data: %s\n\n", initJSON)
	c.Response().Flush()

	for {
		select {
		case eventData, ok := <-clientChannel:
			if !ok {
				return nil
			}
			fmt.Fprintf(c.Response(), "data: %s\n\n", eventData)
			c.Response().Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
