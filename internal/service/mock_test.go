package service

import (
	"context"
	"sync"
	"time"

	"mailbot/internal/model"
)

// mockLLM replays Replies in order and then keeps returning the last one.
type mockLLM struct {
	CompleteFunc func(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error)
	Replies      []string

	mutex sync.Mutex
	calls int
	turns [][]model.Turn
}

func (m *mockLLM) Complete(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error) {
	m.mutex.Lock()
	m.calls++
	m.turns = append(m.turns, turns)
	n := m.calls
	m.mutex.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, turns, params)
	}
	if len(m.Replies) == 0 {
		return "", nil
	}
	if n > len(m.Replies) {
		n = len(m.Replies)
	}
	return m.Replies[n-1], nil
}

func (m *mockLLM) Calls() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls
}

type mockMailbox struct {
	CurrentWatermarkFunc func(ctx context.Context) (uint64, error)
	ListChangesSinceFunc func(ctx context.Context, since uint64) (uint64, []string, error)
	GetMessageFunc       func(ctx context.Context, id string) ([]byte, error)
	ParseMessageFunc     func(raw []byte) (*model.Message, error)
	SetLabelFunc         func(ctx context.Context, id, label string) error
	CreateDraftFunc      func(ctx context.Context, to, subject, body string) (string, error)

	mutex   sync.Mutex
	fetches int
	labels  map[string]string
}

func (m *mockMailbox) CurrentWatermark(ctx context.Context) (uint64, error) {
	if m.CurrentWatermarkFunc != nil {
		return m.CurrentWatermarkFunc(ctx)
	}
	return 0, nil
}

func (m *mockMailbox) ListChangesSince(ctx context.Context, since uint64) (uint64, []string, error) {
	if m.ListChangesSinceFunc != nil {
		return m.ListChangesSinceFunc(ctx, since)
	}
	return since, nil, nil
}

func (m *mockMailbox) GetMessage(ctx context.Context, id string) ([]byte, error) {
	m.mutex.Lock()
	m.fetches++
	m.mutex.Unlock()
	if m.GetMessageFunc != nil {
		return m.GetMessageFunc(ctx, id)
	}
	return []byte(id), nil
}

func (m *mockMailbox) ParseMessage(raw []byte) (*model.Message, error) {
	if m.ParseMessageFunc != nil {
		return m.ParseMessageFunc(raw)
	}
	return &model.Message{ID: string(raw), ThreadID: "t-" + string(raw), From: "sender@example.com", Subject: "hello"}, nil
}

func (m *mockMailbox) SetLabel(ctx context.Context, id, label string) error {
	m.mutex.Lock()
	if m.labels == nil {
		m.labels = make(map[string]string)
	}
	m.labels[id] = label
	m.mutex.Unlock()
	if m.SetLabelFunc != nil {
		return m.SetLabelFunc(ctx, id, label)
	}
	return nil
}

func (m *mockMailbox) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	if m.CreateDraftFunc != nil {
		return m.CreateDraftFunc(ctx, to, subject, body)
	}
	return "draft-1", nil
}

type sentMessage struct {
	Text      string
	Formatted bool
	Choices   []model.Choice
}

type mockNotifier struct {
	SendTextFunc func(ctx context.Context, text string, formatted bool) error

	mutex sync.Mutex
	sent  []sentMessage
	// prompted receives every message sent with choices.
	prompted chan sentMessage
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{prompted: make(chan sentMessage, 16)}
}

func (m *mockNotifier) SendText(ctx context.Context, text string, formatted bool) error {
	if m.SendTextFunc != nil {
		if err := m.SendTextFunc(ctx, text, formatted); err != nil {
			return err
		}
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sent = append(m.sent, sentMessage{Text: text, Formatted: formatted})
	return nil
}

func (m *mockNotifier) SendTextWithChoices(ctx context.Context, text string, choices []model.Choice) error {
	msg := sentMessage{Text: text, Formatted: true, Choices: choices}
	m.mutex.Lock()
	m.sent = append(m.sent, msg)
	m.mutex.Unlock()
	select {
	case m.prompted <- msg:
	default:
	}
	return nil
}

func (m *mockNotifier) Sent() []sentMessage {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// mockReplies hands out replies pushed on the channel, dropping the ones
// that do not match.
type mockReplies struct {
	ch chan model.Reply
}

func newMockReplies() *mockReplies {
	return &mockReplies{ch: make(chan model.Reply, 16)}
}

func (m *mockReplies) Push(r model.Reply) {
	m.ch <- r
}

func (m *mockReplies) Await(ctx context.Context, match func(model.Reply) bool) (model.Reply, error) {
	for {
		select {
		case <-ctx.Done():
			return model.Reply{}, ctx.Err()
		case r := <-m.ch:
			if match(r) {
				return r, nil
			}
		}
	}
}

type calendarCall struct {
	Title      string
	Start, End time.Time
}

type mockCalendar struct {
	CreateEventFunc func(ctx context.Context, title, description string, start, end time.Time, timezone string) (string, error)

	mutex sync.Mutex
	calls []calendarCall
}

func (m *mockCalendar) CreateEvent(ctx context.Context, title, description string, start, end time.Time, timezone string) (string, error) {
	m.mutex.Lock()
	m.calls = append(m.calls, calendarCall{Title: title, Start: start, End: end})
	m.mutex.Unlock()
	if m.CreateEventFunc != nil {
		return m.CreateEventFunc(ctx, title, description, start, end, timezone)
	}
	return "https://calendar.example.com/event", nil
}

type recordingSink struct {
	mutex  sync.Mutex
	events []string
}

func (s *recordingSink) Publish(eventType string, data interface{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, eventType)
}

func (s *recordingSink) Events() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.events...)
}
