package repository

import (
	"context"
	"errors"
	"time"

	"mailbot/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// MessageRepository stores classification records, one per message id.
type MessageRepository interface {
	Upsert(ctx context.Context, record *model.MessageRecord) error
	FindByID(ctx context.Context, id string) (*model.MessageRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	MaxHistoryID(ctx context.Context, account string) (uint64, error)
	// FindCandidates returns records dated at or after since whose category is
	// label or whose importance is at least minImportance, oldest first.
	FindCandidates(ctx context.Context, since time.Time, label string, minImportance int) ([]*model.MessageRecord, error)
	FindRecent(ctx context.Context, limit int) ([]*model.MessageRecord, error)
}

// RawRepository caches the immutable upstream payload of a message.
type RawRepository interface {
	Has(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, payload []byte) error
}

// TaskRepository stores obligations. (message id, kind) is unique.
type TaskRepository interface {
	// InsertIfAbsent reports false without error when a task of the same
	// kind already exists for the message.
	InsertIfAbsent(ctx context.Context, task *model.Task) (bool, error)
	MessageIDsWithTasks(ctx context.Context) (map[string]bool, error)
	FindDue(ctx context.Context, now time.Time) ([]*model.Task, error)
	MarkSent(ctx context.Context, id string) error
	FindAll(ctx context.Context, pendingOnly bool, limit int) ([]*model.Task, error)
}

// ContactRepository keeps per-correspondent profiles and statistics.
type ContactRepository interface {
	FindByAddress(ctx context.Context, address string) (*model.ContactProfile, error)
	Touch(ctx context.Context, address string, seen time.Time) error
	SetProfile(ctx context.Context, address, profile string) error
}

// CursorRepository persists the per-account sync watermark. Save never
// lowers a stored value.
type CursorRepository interface {
	Load(ctx context.Context, account string) (uint64, error)
	Save(ctx context.Context, account string, watermark uint64) error
}
