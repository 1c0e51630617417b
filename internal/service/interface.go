package service

import (
	"context"
	"time"

	"mailbot/internal/model"
)

// Mailbox is the mail collaborator for one account.
type Mailbox interface {
	// CurrentWatermark returns the tip of the change stream.
	CurrentWatermark(ctx context.Context) (uint64, error)
	// ListChangesSince returns the stream position reported by the server
	// and the ids added after since, in arrival order.
	ListChangesSince(ctx context.Context, since uint64) (uint64, []string, error)
	// GetMessage returns the raw payload or ErrNotFound.
	GetMessage(ctx context.Context, id string) ([]byte, error)
	ParseMessage(raw []byte) (*model.Message, error)
	SetLabel(ctx context.Context, id, label string) error
	CreateDraft(ctx context.Context, to, subject, body string) (string, error)
}

// Calendar creates events and returns a link to them.
type Calendar interface {
	CreateEvent(ctx context.Context, title, description string, start, end time.Time, timezone string) (string, error)
}

// Notifier delivers messages to the single configured human.
type Notifier interface {
	SendText(ctx context.Context, text string, formatted bool) error
	SendTextWithChoices(ctx context.Context, text string, choices []model.Choice) error
}

// ReplySource hands out inbound human replies.
type ReplySource interface {
	// Await blocks until a reply satisfying match is queued or ctx is done.
	Await(ctx context.Context, match func(model.Reply) bool) (model.Reply, error)
}

// LLM returns the raw text of a chat completion.
type LLM interface {
	Complete(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error)
}

// EventSink receives pipeline events for operator streams.
type EventSink interface {
	Publish(eventType string, data interface{})
}

type nopSink struct{}

func (nopSink) Publish(string, interface{}) {}
