package gmail

import (
	"context"

	"mailbot/internal/model"
)

// MockClient is a mock implementation of service.Mailbox for testing
type MockClient struct {
	CurrentWatermarkFunc func(ctx context.Context) (uint64, error)
	ListChangesSinceFunc func(ctx context.Context, since uint64) (uint64, []string, error)
	GetMessageFunc       func(ctx context.Context, id string) ([]byte, error)
	ParseMessageFunc     func(raw []byte) (*model.Message, error)
	SetLabelFunc         func(ctx context.Context, id, label string) error
	CreateDraftFunc      func(ctx context.Context, to, subject, body string) (string, error)
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) CurrentWatermark(ctx context.Context) (uint64, error) {
	if m.CurrentWatermarkFunc != nil {
		return m.CurrentWatermarkFunc(ctx)
	}

	// Default mock behavior: empty mailbox
	return 0, nil
}

func (m *MockClient) ListChangesSince(ctx context.Context, since uint64) (uint64, []string, error) {
	if m.ListChangesSinceFunc != nil {
		return m.ListChangesSinceFunc(ctx, since)
	}

	// Default mock behavior: nothing new
	return since, nil, nil
}

func (m *MockClient) GetMessage(ctx context.Context, id string) ([]byte, error) {
	if m.GetMessageFunc != nil {
		return m.GetMessageFunc(ctx, id)
	}
	return []byte(`{"id":"` + id + `","threadId":"` + id + `"}`), nil
}

func (m *MockClient) ParseMessage(raw []byte) (*model.Message, error) {
	if m.ParseMessageFunc != nil {
		return m.ParseMessageFunc(raw)
	}
	return ParsePayload(raw)
}

func (m *MockClient) SetLabel(ctx context.Context, id, label string) error {
	if m.SetLabelFunc != nil {
		return m.SetLabelFunc(ctx, id, label)
	}
	return nil
}

func (m *MockClient) CreateDraft(ctx context.Context, to, subject, body string) (string, error) {
	if m.CreateDraftFunc != nil {
		return m.CreateDraftFunc(ctx, to, subject, body)
	}
	return "mock-draft", nil
}
