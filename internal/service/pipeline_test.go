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

type mockClassifier struct {
	ShallowFunc func(msg *model.Message) model.Analysis
	deep        model.Analysis
	calls       int
}

func (m *mockClassifier) Shallow(ctx context.Context, msg *model.Message, now time.Time) model.Analysis {
	m.calls++
	return m.ShallowFunc(msg)
}

func (m *mockClassifier) Deep(ctx context.Context, msg *model.Message, shallow model.Analysis, sender, recipient *model.ContactProfile, now time.Time) (model.Analysis, bool) {
	if m.deep.DeepSummary == "" {
		return shallow, false
	}
	return mergeAnalysis(shallow, m.deep), true
}

func (m *mockClassifier) NeedsDeep(a model.Analysis) bool { return a.Importance >= 7 }
func (m *mockClassifier) IsSpam(a model.Analysis) bool    { return a.Category == "Spam" }
func (m *mockClassifier) Fallback() model.Analysis        { return model.Analysis{Category: "Spam", Importance: 1} }

type mockExecutor struct {
	calls int
}

func (m *mockExecutor) Run(ctx context.Context, session *Session, rec *model.MessageRecord, mailbox Mailbox) (string, error) {
	m.calls++
	return "final_answer: done", nil
}

type pipelineFixture struct {
	messages *memory.InMemoryMessageRepository
	contacts *memory.InMemoryContactRepository
	notifier *mockNotifier
	executor *mockExecutor
	mailbox  *mockMailbox
	session  *Session
	account  model.Account
}

func newPipelineFixture() *pipelineFixture {
	return &pipelineFixture{
		messages: memory.NewInMemoryMessageRepository(),
		contacts: memory.NewInMemoryContactRepository(),
		notifier: newMockNotifier(),
		executor: &mockExecutor{},
		mailbox:  &mockMailbox{},
		session:  NewSession(),
		account:  model.Account{Email: "me@example.com", Provider: "gmail", MinAlert: 8},
	}
}

func (f *pipelineFixture) pipeline(c Classifier) Pipeline {
	store := NewMessageStore(memory.NewInMemoryRawRepository(), f.messages, logger.Discard())
	profiler := NewContactProfiler(f.contacts, &mockLLM{}, 1, logger.Discard())
	cfg := PipelineConfig{
		TopLabel:        "Important",
		ActionThreshold: 8,
		AgentEnabled:    true,
		SendAlerts:      true,
	}
	return NewPipeline(cfg, store, c, profiler, f.executor, f.notifier, nil, logger.Discard())
}

func constant(a model.Analysis) func(*model.Message) model.Analysis {
	return func(*model.Message) model.Analysis { return a }
}

func TestProcessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture()
	p := f.pipeline(&mockClassifier{ShallowFunc: constant(model.Analysis{Category: "Work", Importance: 4, Action: "read", Summary: "FYI"})})

	first, err := p.Process(ctx, f.session, f.account, f.mailbox, "m1")
	require.NoError(t, err)
	second, err := p.Process(ctx, f.session, f.account, f.mailbox, "m1")
	require.NoError(t, err)

	stored, err := f.messages.FindRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	first.ProcessedAt, second.ProcessedAt, stored[0].ProcessedAt = time.Time{}, time.Time{}, time.Time{}
	assert.Equal(t, first, second)
	assert.Equal(t, first, stored[0])
	assert.Equal(t, 1, f.mailbox.fetches, "raw payload is cached")
	assert.Equal(t, 0, f.executor.calls)
	assert.Empty(t, f.notifier.Sent())

	_, err = f.contacts.FindByAddress(ctx, "sender@example.com")
	assert.NoError(t, err, "sender stats are recorded")
}

func TestProcessDiscardsKnownSpamSenders(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture()
	c := &mockClassifier{ShallowFunc: constant(model.Analysis{Category: "Spam", Importance: 1, Action: "none", Summary: "ad"})}
	p := f.pipeline(c)

	rec, err := p.Process(ctx, f.session, f.account, f.mailbox, "m1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Spam", rec.Category)
	assert.True(t, f.session.IsSpamSender("me@example.com", "Sender <SENDER@example.com>"))
	assert.False(t, f.session.IsSpamSender("other@example.com", "sender@example.com"))

	rec, err = p.Process(ctx, f.session, f.account, f.mailbox, "m2")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, c.calls)

	exists, _ := f.messages.Exists(ctx, "m2")
	assert.False(t, exists)
	assert.Equal(t, 0, f.executor.calls)
}

func TestProcessFallbackNeverRunsAgent(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture()
	llm := &mockLLM{Replies: []string{"I am not sure what you mean."}}
	c := NewClassifier(testClassifierConfig(), llm, logger.Discard())
	p := f.pipeline(c)

	rec, err := p.Process(ctx, f.session, f.account, f.mailbox, "m1")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "Spam", rec.Category)
	assert.Equal(t, 1, rec.Importance)
	assert.Equal(t, 0, f.executor.calls)
	assert.Empty(t, f.notifier.Sent())
}

func TestProcessSkipsDeletedMessage(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture()
	f.mailbox.GetMessageFunc = func(ctx context.Context, id string) ([]byte, error) {
		return nil, ErrNotFound
	}
	c := &mockClassifier{ShallowFunc: constant(model.Analysis{Category: "Work", Importance: 4})}
	p := f.pipeline(c)

	rec, err := p.Process(ctx, f.session, f.account, f.mailbox, "gone")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 0, c.calls)
}

func TestProcessImportantMessage(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture()
	c := &mockClassifier{
		ShallowFunc: constant(model.Analysis{Category: "Important", Importance: 7, Action: "reply", Summary: "Contract"}),
		deep:        model.Analysis{Importance: 9, DeepSummary: "Signed contract due Friday."},
	}
	p := f.pipeline(c)

	rec, err := p.Process(ctx, f.session, f.account, f.mailbox, "m1")
	require.NoError(t, err)

	assert.Equal(t, 9, rec.Importance)
	assert.Equal(t, "Signed contract due Friday.", rec.DeepSummary)
	assert.Equal(t, "final_answer: done", rec.AgentOutput)
	assert.Equal(t, 1, f.executor.calls)

	stored, err := f.messages.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "final_answer: done", stored.AgentOutput)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Formatted)
	assert.Contains(t, sent[0].Text, "Contract")
	assert.Contains(t, sent[0].Text, "#all/t-m1")
}
