package service

import (
	"context"
	"errors"
	"fmt"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/repository"
)

// Fetcher pulls a raw payload from upstream.
type Fetcher func(ctx context.Context, id string) ([]byte, error)

// MessageStore is the dedup cache in front of the mailbox and the record table.
type MessageStore interface {
	HasRaw(ctx context.Context, id string) (bool, error)
	// GetOrFetchRaw returns the cached payload, or fetches and caches it.
	// A nil payload with a nil error means the message no longer exists.
	GetOrFetchRaw(ctx context.Context, id string, fetch Fetcher) ([]byte, error)
	UpsertRecord(ctx context.Context, record *model.MessageRecord) error
	RecordExists(ctx context.Context, id string) (bool, error)
}

type messageStore struct {
	raw      repository.RawRepository
	messages repository.MessageRepository
	logger   *logger.Logger
}

func NewMessageStore(raw repository.RawRepository, messages repository.MessageRepository, logger *logger.Logger) MessageStore {
	return &messageStore{
		raw:      raw,
		messages: messages,
		logger:   logger,
	}
}

func (s *messageStore) HasRaw(ctx context.Context, id string) (bool, error) {
	return s.raw.Has(ctx, id)
}

func (s *messageStore) GetOrFetchRaw(ctx context.Context, id string, fetch Fetcher) ([]byte, error) {
	payload, err := s.raw.Get(ctx, id)
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to read raw cache: %w", err)
	}

	payload, err = fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Infof("Message %s no longer exists upstream, skipping", id)
			return nil, nil
		}
		return nil, err
	}

	if err := s.raw.Put(ctx, id, payload); err != nil {
		return nil, fmt.Errorf("failed to cache raw message: %w", err)
	}
	return payload, nil
}

func (s *messageStore) UpsertRecord(ctx context.Context, record *model.MessageRecord) error {
	return s.messages.Upsert(ctx, record)
}

func (s *messageStore) RecordExists(ctx context.Context, id string) (bool, error) {
	return s.messages.Exists(ctx, id)
}
