package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/notify"
	"mailbot/internal/repository/memory"
	"mailbot/internal/service"
	"mailbot/internal/sse"
)

func get(t *testing.T, h echo.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestRecordHandler(t *testing.T) {
	ctx := context.Background()
	messages := memory.NewInMemoryMessageRepository()
	tasks := memory.NewInMemoryTaskRepository()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, messages.Upsert(ctx, &model.MessageRecord{ID: id, Account: "me@example.com", Date: base.Add(time.Duration(i) * time.Hour)}))
	}
	sent := model.NewTask("a", model.TaskReminder, "Pay invoice", base, base)
	_, err := tasks.InsertIfAbsent(ctx, sent)
	require.NoError(t, err)
	require.NoError(t, tasks.MarkSent(ctx, sent.ID))
	_, err = tasks.InsertIfAbsent(ctx, model.NewTask("b", model.TaskEvent, "Kickoff", base, base))
	require.NoError(t, err)

	h := NewRecordHandler(messages, tasks, service.NewSession(), echo.New().Logger)

	rec := get(t, h.GetRecords, "/api/records?limit=2")
	assert.Equal(t, http.StatusOK, rec.Code)
	var records []model.MessageRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)

	rec = get(t, h.GetTasks, "/api/tasks")
	var all []model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = get(t, h.GetTasks, "/api/tasks?pending=true")
	var pending []model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "Kickoff", pending[0].Title)

	rec = get(t, h.GetConfirmations, "/api/confirmations")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, parseLimit(""))
	assert.Equal(t, defaultLimit, parseLimit("-3"))
	assert.Equal(t, 7, parseLimit("7"))
	assert.Equal(t, maxLimit, parseLimit("100000"))
}

func TestStatusHandler(t *testing.T) {
	session := service.NewSession()
	h := NewStatusHandler(session, func() []model.Account {
		return []model.Account{{Email: "me@example.com", Provider: "gmail", Watermark: 42}}
	})

	rec := get(t, h.Health, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, session.RunID, body["run_id"])
	accounts := body["accounts"].([]interface{})
	require.Len(t, accounts, 1)
	assert.Equal(t, float64(42), accounts[0].(map[string]interface{})["watermark"])
}

type recordingUpdates struct{ got []notify.Update }

func (r *recordingUpdates) Handle(ctx context.Context, u notify.Update) { r.got = append(r.got, u) }

func TestWebhookHandler(t *testing.T) {
	updates := &recordingUpdates{}
	h := NewWebhookHandler(updates, echo.New().Logger)
	e := echo.New()

	body := `{"update_id":9,"message":{"message_id":1,"chat":{"id":77},"date":1700000000,"text":"yes"}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Telegram(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, updates.got, 1)
	assert.Equal(t, int64(9), updates.got[0].UpdateID)
	assert.Equal(t, "yes", updates.got[0].Message.Text)

	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{not json`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	require.NoError(t, h.Telegram(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, updates.got, 1)
}

func TestEventHandlerStreamsHubEvents(t *testing.T) {
	hub := sse.NewHub(logger.Discard())
	e := echo.New()
	e.GET("/api/events", NewEventHandler(hub, e.Logger).Stream)
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events?account=me@example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() map[string]interface{} {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		_, _ = reader.ReadString('\n')
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &event))
		return event
	}

	assert.Equal(t, "connection", readEvent()["type"])

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish("record_processed", &model.MessageRecord{ID: "m1", Account: "me@example.com"})

	event := readEvent()
	assert.Equal(t, "record_processed", event["type"])
	assert.Equal(t, "m1", event["data"].(map[string]interface{})["id"])
}
