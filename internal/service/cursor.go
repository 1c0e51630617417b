package service

import (
	"context"
	"errors"
	"fmt"

	"mailbot/internal/logger"
	"mailbot/internal/repository"
)

// CursorManager tracks how far each account's change stream was consumed.
type CursorManager interface {
	Initialize(ctx context.Context, account string, mailbox Mailbox) (uint64, error)
	Advance(ctx context.Context, account string, mailbox Mailbox, since uint64) (uint64, []string, error)
	// Commit persists a watermark once every id listed up to it was handled.
	Commit(ctx context.Context, account string, watermark uint64) error
}

type cursorManager struct {
	cursors  repository.CursorRepository
	messages repository.MessageRepository
	logger   *logger.Logger
}

func NewCursorManager(cursors repository.CursorRepository, messages repository.MessageRepository, logger *logger.Logger) CursorManager {
	return &cursorManager{
		cursors:  cursors,
		messages: messages,
		logger:   logger,
	}
}

// Initialize resumes from the committed cursor. Without one it falls back
// to the highest history id among stored records, and then to the mailbox
// tip so existing mail is not treated as new.
// Records of an interrupted batch may sit above the committed cursor.
func (m *cursorManager) Initialize(ctx context.Context, account string, mailbox Mailbox) (uint64, error) {
	saved, err := m.cursors.Load(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	if saved > 0 {
		m.logger.Infof("Resuming %s from watermark %d", account, saved)
		return saved, nil
	}

	fromRecords, err := m.messages.MaxHistoryID(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to read max history id: %w", err)
	}
	if fromRecords > 0 {
		m.logger.Infof("Resuming %s from stored records at %d", account, fromRecords)
		return fromRecords, m.save(ctx, account, fromRecords)
	}

	tip, err := mailbox.CurrentWatermark(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read mailbox tip: %w", err)
	}
	m.logger.Infof("Initialized %s at mailbox tip %d", account, tip)
	return tip, m.save(ctx, account, tip)
}

// Advance fetches the ids added after since. On failure the caller gets
// since back unchanged; on success the watermark never decreases, even
// when nothing was added. Nothing is persisted until Commit.
func (m *cursorManager) Advance(ctx context.Context, account string, mailbox Mailbox, since uint64) (uint64, []string, error) {
	reported, ids, err := mailbox.ListChangesSince(ctx, since)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return since, nil, err
		}
		// The start point has expired upstream; skip to the tip.
		tip, tipErr := mailbox.CurrentWatermark(ctx)
		if tipErr != nil {
			return since, nil, tipErr
		}
		m.logger.Warnf("Watermark %d for %s expired, reseeding at %d", since, account, tip)
		reported, ids = tip, nil
	}

	next := max(since, reported)
	if next != since {
		m.logger.Debugf("Advanced cursor for %s: %d -> %d (%d new)", account, since, next, len(ids))
	}
	return next, ids, nil
}

func (m *cursorManager) Commit(ctx context.Context, account string, watermark uint64) error {
	return m.save(ctx, account, watermark)
}

func (m *cursorManager) save(ctx context.Context, account string, wm uint64) error {
	if err := m.cursors.Save(ctx, account, wm); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
