package notify

import (
	"context"
	"sync"

	"mailbot/internal/model"
)

// MockNotifier is a mock implementation of service.Notifier for testing
type MockNotifier struct {
	SendTextFunc            func(ctx context.Context, text string, formatted bool) error
	SendTextWithChoicesFunc func(ctx context.Context, text string, choices []model.Choice) error

	mutex sync.Mutex
	Texts []string
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) SendText(ctx context.Context, text string, formatted bool) error {
	m.record(text)
	if m.SendTextFunc != nil {
		return m.SendTextFunc(ctx, text, formatted)
	}
	return nil
}

func (m *MockNotifier) SendTextWithChoices(ctx context.Context, text string, choices []model.Choice) error {
	m.record(text)
	if m.SendTextWithChoicesFunc != nil {
		return m.SendTextWithChoicesFunc(ctx, text, choices)
	}
	return nil
}

// Sent returns every text sent so far.
func (m *MockNotifier) Sent() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]string(nil), m.Texts...)
}

func (m *MockNotifier) record(text string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Texts = append(m.Texts, text)
}
