package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/repository"
)

const (
	choiceYes = "yes"
	choiceNo  = "no"
)

// Gate asks the human before effectful tools run and blocks until they answer.
type Gate interface {
	// RequestConfirmation returns the cached outcome for tool+subject if
	// this session already has one; otherwise it prompts and waits. A
	// denial is a false result, not an error.
	RequestConfirmation(ctx context.Context, session *Session, tool, subject, details string) (bool, error)
	// Ask sends an open question and waits for the next free-text reply.
	Ask(ctx context.Context, question string) (string, error)
}

type gate struct {
	notifier Notifier
	replies  ReplySource
	messages repository.MessageRepository
	timeout  time.Duration
	events   EventSink
	logger   *logger.Logger
}

// NewGate builds a gate whose waits expire after timeout. A zero timeout
// waits until the context is cancelled.
func NewGate(notifier Notifier, replies ReplySource, messages repository.MessageRepository, timeout time.Duration, events EventSink, logger *logger.Logger) Gate {
	if events == nil {
		events = nopSink{}
	}
	return &gate{
		notifier: notifier,
		replies:  replies,
		messages: messages,
		timeout:  timeout,
		events:   events,
		logger:   logger,
	}
}

func (g *gate) RequestConfirmation(ctx context.Context, session *Session, tool, subject, details string) (bool, error) {
	if prev, ok := session.Confirmation(tool, subject); ok && prev.Resolved() {
		g.logger.Debugf("Reusing %s confirmation for %s/%s", prev.State, tool, subject)
		return prev.Approved(), nil
	}

	token := newToken()
	pending := model.PendingConfirmation{
		Tool:        tool,
		Subject:     subject,
		Token:       token,
		Prompt:      g.prompt(ctx, tool, subject, details),
		State:       model.ConfirmationPending,
		RequestedAt: time.Now().UTC(),
	}

	choices := []model.Choice{
		{Label: "✅ Yes", Value: callbackData(token, choiceYes)},
		{Label: "❌ No", Value: callbackData(token, choiceNo)},
	}
	if err := g.notifier.SendTextWithChoices(ctx, pending.Prompt, choices); err != nil {
		return false, fmt.Errorf("failed to send confirmation prompt: %w", err)
	}
	session.putConfirmation(pending)
	g.events.Publish("confirmation_requested", pending)
	g.logger.Infof("Waiting for confirmation of %s on %s (token %s)", tool, subject, token)

	waitCtx, cancel := g.waitContext(ctx)
	defer cancel()

	prefix := "c:" + token + ":"
	reply, err := g.replies.Await(waitCtx, func(r model.Reply) bool {
		return r.Kind == model.ReplyChoice && strings.HasPrefix(r.Data, prefix)
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		pending.State = model.ConfirmationExpired
		g.logger.Warnf("Confirmation of %s on %s expired after %s, treating as denied", tool, subject, g.timeout)
	} else if strings.TrimPrefix(reply.Data, prefix) == choiceYes {
		pending.State = model.ConfirmationApproved
	} else {
		pending.State = model.ConfirmationDenied
	}

	pending.ResolvedAt = time.Now().UTC()
	session.putConfirmation(pending)
	g.events.Publish("confirmation_resolved", pending)
	g.logger.Infof("Confirmation of %s on %s: %s", tool, subject, pending.State)
	return pending.Approved(), nil
}

func (g *gate) Ask(ctx context.Context, question string) (string, error) {
	// Telegram stamps messages with whole seconds.
	asked := time.Now().UTC().Truncate(time.Second)
	if err := g.notifier.SendText(ctx, question, false); err != nil {
		return "", fmt.Errorf("failed to send question: %w", err)
	}

	waitCtx, cancel := g.waitContext(ctx)
	defer cancel()

	reply, err := g.replies.Await(waitCtx, func(r model.Reply) bool {
		return r.Kind == model.ReplyText && strings.TrimSpace(r.Data) != "" && !r.ReceivedAt.Before(asked)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Data), nil
}

func (g *gate) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *gate) prompt(ctx context.Context, tool, subject, details string) string {
	from, title := "[unknown sender]", "[no subject]"
	if g.messages != nil {
		// Subjects may carry a #fingerprint after the message id.
		id, _, _ := strings.Cut(subject, "#")
		if rec, err := g.messages.FindByID(ctx, id); err == nil {
			from, title = rec.From, rec.Subject
		}
	}
	return fmt.Sprintf("✉️ From: %s\n📰 Subject: %s\n%s\n\nTool: %s\nFor: %s\nProceed? ✅ Yes / ❌ No",
		from, title, details, tool, subject)
}

// newToken ties button presses to one prompt so stale clicks are ignored.
func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func callbackData(token, choice string) string {
	return "c:" + token + ":" + choice
}
