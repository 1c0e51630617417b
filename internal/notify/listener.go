package notify

import (
	"context"
	"time"

	"mailbot/internal/logger"
)

const pollTimeout = 30 * time.Second

// UpdateSource is the bot API used by the listener.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Listener feeds replies from the operator chat into the queue. It either
// long-polls (Run) or is fed by the webhook handler (Handle), never both.
type Listener struct {
	source UpdateSource
	queue  *ReplyQueue
	chatID string
	logger *logger.Logger

	offset  int64
	backoff time.Duration
}

func NewListener(source UpdateSource, queue *ReplyQueue, chatID string, logger *logger.Logger) *Listener {
	return &Listener{
		source:  source,
		queue:   queue,
		chatID:  chatID,
		logger:  logger,
		backoff: 5 * time.Second,
	}
}

// Run long-polls until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("Telegram listener started")
	for {
		if ctx.Err() != nil {
			l.logger.Info("Telegram listener stopped")
			return
		}

		updates, err := l.source.GetUpdates(ctx, l.offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.logger.Warnf("getUpdates failed: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(l.backoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= l.offset {
				l.offset = u.UpdateID + 1
			}
			l.Handle(ctx, u)
		}
	}
}

// Handle queues the reply carried by u, if any.
func (l *Listener) Handle(ctx context.Context, u Update) {
	reply, ok := ToReply(u, l.chatID)
	if !ok {
		l.logger.Debugf("Ignoring update %d", u.UpdateID)
		return
	}
	if reply.CallbackID != "" {
		if err := l.source.AnswerCallback(ctx, reply.CallbackID); err != nil {
			l.logger.Warnf("Failed to answer callback %s: %v", reply.CallbackID, err)
		}
	}
	l.logger.Debugf("Queued %s reply: %s", reply.Kind, reply.Data)
	l.queue.Push(reply)
}
