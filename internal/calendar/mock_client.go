package calendar

import (
	"context"
	"time"
)

// MockClient is a mock implementation of service.Calendar for testing
type MockClient struct {
	CreateEventFunc func(ctx context.Context, title, description string, start, end time.Time, timezone string) (string, error)
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) CreateEvent(ctx context.Context, title, description string, start, end time.Time, timezone string) (string, error) {
	if m.CreateEventFunc != nil {
		return m.CreateEventFunc(ctx, title, description, start, end, timezone)
	}

	// Default mock behavior: success without a link
	return "", nil
}
