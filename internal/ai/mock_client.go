package ai

import (
	"context"

	"mailbot/internal/model"
)

// MockClient is a mock implementation of service.LLM for testing
type MockClient struct {
	CompleteFunc func(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error)
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Complete(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, turns, params)
	}

	// Default mock behavior: a reply no caller accepts, so callers fall back
	return "{}", nil
}
