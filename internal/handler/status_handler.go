package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mailbot/internal/model"
	"mailbot/internal/service"
)

type accountStatus struct {
	Email     string `json:"email"`
	Provider  string `json:"provider"`
	Watermark uint64 `json:"watermark"`
}

type status struct {
	Status    string          `json:"status"`
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Accounts  []accountStatus `json:"accounts"`
}

type StatusHandler struct {
	session  *service.Session
	accounts func() []model.Account
}

// NewStatusHandler reports on the current run. accounts is polled on each
// request for the live watermarks.
func NewStatusHandler(session *service.Session, accounts func() []model.Account) *StatusHandler {
	return &StatusHandler{session: session, accounts: accounts}
}

func (h *StatusHandler) Health(c echo.Context) error {
	out := status{
		Status:    "ok",
		RunID:     h.session.RunID,
		StartedAt: h.session.StartedAt,
		Accounts:  []accountStatus{},
	}
	if h.accounts != nil {
		for _, a := range h.accounts() {
			out.Accounts = append(out.Accounts, accountStatus{Email: a.Email, Provider: a.Provider, Watermark: a.Watermark})
		}
	}
	return c.JSON(http.StatusOK, out)
}
