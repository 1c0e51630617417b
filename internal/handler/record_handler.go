package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"mailbot/internal/repository"
	"mailbot/internal/service"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// RecordHandler exposes stored records, tasks and this run's confirmations.
type RecordHandler struct {
	messages repository.MessageRepository
	tasks    repository.TaskRepository
	session  *service.Session
	logger   echo.Logger
}

func NewRecordHandler(messages repository.MessageRepository, tasks repository.TaskRepository, session *service.Session, logger echo.Logger) *RecordHandler {
	return &RecordHandler{
		messages: messages,
		tasks:    tasks,
		session:  session,
		logger:   logger,
	}
}

// GetRecords returns the most recently processed records.
func (h *RecordHandler) GetRecords(c echo.Context) error {
	records, err := h.messages.FindRecent(c.Request().Context(), parseLimit(c.QueryParam("limit")))
	if err != nil {
		h.logger.Error("Failed to list records:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list records",
		})
	}
	return c.JSON(http.StatusOK, records)
}

// GetTasks returns scheduled tasks, only unsent ones with ?pending=true.
func (h *RecordHandler) GetTasks(c echo.Context) error {
	pending, _ := strconv.ParseBool(c.QueryParam("pending"))

	tasks, err := h.tasks.FindAll(c.Request().Context(), pending, parseLimit(c.QueryParam("limit")))
	if err != nil {
		h.logger.Error("Failed to list tasks:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to list tasks",
		})
	}
	return c.JSON(http.StatusOK, tasks)
}

func (h *RecordHandler) GetConfirmations(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Confirmations())
}

func parseLimit(s string) int {
	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
