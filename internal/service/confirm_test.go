package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/repository/memory"
)

// answerNextPrompt presses the button at index on the next prompt sent.
func answerNextPrompt(notifier *mockNotifier, replies *mockReplies, index int) {
	go func() {
		msg := <-notifier.prompted
		replies.Push(model.Reply{Kind: model.ReplyChoice, Data: msg.Choices[index].Value})
	}()
}

func TestConfirmationIsCachedAfterApproval(t *testing.T) {
	ctx := context.Background()
	notifier := newMockNotifier()
	replies := newMockReplies()
	sink := &recordingSink{}
	g := NewGate(notifier, replies, nil, time.Minute, sink, logger.Discard())
	session := NewSession()

	answerNextPrompt(notifier, replies, 0)
	ok, err := g.RequestConfirmation(ctx, session, "gmail_mark_spam", "m1", "Mark this message as spam.")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.RequestConfirmation(ctx, session, "gmail_mark_spam", "m1", "Mark this message as spam.")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Len(t, notifier.Sent(), 1, "second call must not prompt again")
	assert.True(t, session.Approved("gmail_mark_spam", "m1"))
	assert.Equal(t, []string{"confirmation_requested", "confirmation_resolved"}, sink.Events())
}

func TestConfirmationDenied(t *testing.T) {
	ctx := context.Background()
	notifier := newMockNotifier()
	replies := newMockReplies()
	g := NewGate(notifier, replies, nil, time.Minute, nil, logger.Discard())
	session := NewSession()

	answerNextPrompt(notifier, replies, 1)
	ok, err := g.RequestConfirmation(ctx, session, "draft_reply", "m1", "")
	require.NoError(t, err)
	assert.False(t, ok)

	p, found := session.Confirmation("draft_reply", "m1")
	require.True(t, found)
	assert.Equal(t, model.ConfirmationDenied, p.State)

	ok, err = g.RequestConfirmation(ctx, session, "draft_reply", "m1", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, notifier.Sent(), 1)
}

func TestConfirmationIgnoresStaleButtons(t *testing.T) {
	ctx := context.Background()
	notifier := newMockNotifier()
	replies := newMockReplies()
	g := NewGate(notifier, replies, nil, time.Minute, nil, logger.Discard())

	go func() {
		msg := <-notifier.prompted
		replies.Push(model.Reply{Kind: model.ReplyChoice, Data: "c:deadbeef:yes"})
		replies.Push(model.Reply{Kind: model.ReplyText, Data: "yes please"})
		replies.Push(model.Reply{Kind: model.ReplyChoice, Data: msg.Choices[1].Value})
	}()

	ok, err := g.RequestConfirmation(ctx, NewSession(), "create_event", "Review@2026-03-20T15:00", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmationExpires(t *testing.T) {
	ctx := context.Background()
	notifier := newMockNotifier()
	g := NewGate(notifier, newMockReplies(), nil, 20*time.Millisecond, nil, logger.Discard())
	session := NewSession()

	ok, err := g.RequestConfirmation(ctx, session, "gmail_mark_spam", "m1", "")
	require.NoError(t, err)
	assert.False(t, ok)

	p, found := session.Confirmation("gmail_mark_spam", "m1")
	require.True(t, found)
	assert.Equal(t, model.ConfirmationExpired, p.State)

	ok, err = g.RequestConfirmation(ctx, session, "gmail_mark_spam", "m1", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, notifier.Sent(), 1, "an expired request is not asked again")
}

func TestConfirmationCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	notifier := newMockNotifier()
	g := NewGate(notifier, newMockReplies(), nil, 0, nil, logger.Discard())

	go func() {
		<-notifier.prompted
		cancel()
	}()

	ok, err := g.RequestConfirmation(ctx, NewSession(), "gmail_mark_spam", "m1", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestAskReturnsFreeText(t *testing.T) {
	ctx := context.Background()
	notifier := newMockNotifier()
	replies := newMockReplies()
	g := NewGate(notifier, replies, nil, time.Minute, nil, logger.Discard())

	replies.Push(model.Reply{Kind: model.ReplyText, Data: "old answer", ReceivedAt: time.Now().Add(-time.Hour)})
	replies.Push(model.Reply{Kind: model.ReplyChoice, Data: "c:abcd1234:yes", ReceivedAt: time.Now()})
	replies.Push(model.Reply{Kind: model.ReplyText, Data: "  Friday works  ", ReceivedAt: time.Now()})

	answer, err := g.Ask(ctx, "When are you free?")
	require.NoError(t, err)
	assert.Equal(t, "Friday works", answer)
	assert.Equal(t, "When are you free?", notifier.Sent()[0].Text)
}

func TestPromptResolvesFingerprintedSubject(t *testing.T) {
	messages := memory.NewInMemoryMessageRepository()
	require.NoError(t, messages.Upsert(context.Background(), &model.MessageRecord{ID: "m1", From: "bob@example.com", Subject: "Lunch"}))
	g := NewGate(newMockNotifier(), newMockReplies(), messages, time.Minute, nil, logger.Discard()).(*gate)

	prompt := g.prompt(context.Background(), "draft_reply", "m1#0a1b2c3d", "Save this draft reply:\nSure")

	assert.Contains(t, prompt, "From: bob@example.com")
	assert.Contains(t, prompt, "Subject: Lunch")
	assert.Contains(t, prompt, "For: m1#0a1b2c3d")
}
