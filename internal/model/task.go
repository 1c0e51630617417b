package model

import (
	"time"

	"github.com/google/uuid"
)

type TaskKind string

const (
	TaskEvent    TaskKind = "event"
	TaskReminder TaskKind = "reminder"
)

func (k TaskKind) Valid() bool {
	return k == TaskEvent || k == TaskReminder
}

// Task is a derived obligation. (MessageID, Kind) is unique.
type Task struct {
	ID           string    `json:"id" db:"id"`
	MessageID    string    `json:"message_id" db:"message_id"`
	Kind         TaskKind  `json:"kind" db:"kind"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	TargetAt     time.Time `json:"target_at" db:"target_at"`
	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`
	Sent         bool      `json:"sent" db:"sent"`
	Account      string    `json:"account" db:"account"`
	ThreadID     string    `json:"thread_id" db:"thread_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func NewTask(messageID string, kind TaskKind, title string, target, scheduled time.Time) *Task {
	return &Task{
		ID:           uuid.New().String(),
		MessageID:    messageID,
		Kind:         kind,
		Title:        title,
		TargetAt:     target.UTC(),
		ScheduledFor: scheduled.UTC(),
		CreatedAt:    time.Now().UTC(),
	}
}

// Due reports whether the dispatcher should fire the task at now.
func (t *Task) Due(now time.Time) bool {
	return !t.Sent && !now.Before(t.ScheduledFor)
}
