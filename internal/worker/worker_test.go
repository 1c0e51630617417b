package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbot/internal/gmail"
	"mailbot/internal/imap"
	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/repository/memory"
	"mailbot/internal/service"
)

type fakePipeline struct {
	mutex   sync.Mutex
	calls   []string
	Process func(account model.Account, id string) (*model.MessageRecord, error)
}

func (p *fakePipeline) process(ctx context.Context, session *service.Session, account model.Account, mailbox service.Mailbox, id string) (*model.MessageRecord, error) {
	p.mutex.Lock()
	p.calls = append(p.calls, account.Email+"/"+id)
	p.mutex.Unlock()
	if p.Process != nil {
		return p.Process(account, id)
	}
	return &model.MessageRecord{ID: id, Account: account.Email, Category: "Other", Importance: 1}, nil
}

func (p *fakePipeline) Calls() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.calls...)
}

type pipelineFunc func(ctx context.Context, session *service.Session, account model.Account, mailbox service.Mailbox, id string) (*model.MessageRecord, error)

func (f pipelineFunc) Process(ctx context.Context, session *service.Session, account model.Account, mailbox service.Mailbox, id string) (*model.MessageRecord, error) {
	return f(ctx, session, account, mailbox, id)
}

type fakePlanner struct {
	mutex sync.Mutex
	runs  []time.Time
}

func (p *fakePlanner) Plan(ctx context.Context, now time.Time) (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.runs = append(p.runs, now)
	return 1, nil
}

func (p *fakePlanner) Runs() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.runs)
}

type fakeDispatcher struct {
	mutex sync.Mutex
	calls int
}

func (d *fakeDispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.calls++
	return 0, nil
}

func (d *fakeDispatcher) Calls() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.calls
}

type fixture struct {
	messages   *memory.InMemoryMessageRepository
	pipeline   *fakePipeline
	planner    *fakePlanner
	dispatcher *fakeDispatcher
	clock      time.Time
}

func newWorker(t *testing.T, mailboxes []Mailbox) (*Worker, *fixture) {
	t.Helper()
	f := &fixture{
		messages:   memory.NewInMemoryMessageRepository(),
		pipeline:   &fakePipeline{},
		planner:    &fakePlanner{},
		dispatcher: &fakeDispatcher{},
		clock:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	log := logger.Discard()
	w := New(
		Config{PollInterval: 10 * time.Millisecond, PlanningInterval: 6 * time.Hour, TopLabel: "Important", CalendarThreshold: 7},
		mailboxes,
		service.NewSession(),
		service.NewCursorManager(memory.NewInMemoryCursorRepository(), f.messages, log),
		service.NewMessageStore(memory.NewInMemoryRawRepository(), f.messages, log),
		pipelineFunc(f.pipeline.process),
		f.planner,
		f.dispatcher,
		log,
	)
	w.now = func() time.Time { return f.clock }
	return w, f
}

func account(email string) model.Account {
	return model.Account{Email: email, Provider: "gmail", MinAlert: 7}
}

func TestRunCycle_ProcessesNewMessages(t *testing.T) {
	mb := gmail.NewMockClient()
	mb.CurrentWatermarkFunc = func(ctx context.Context) (uint64, error) { return 100, nil }
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		if since == 100 {
			return 105, []string{"m1", "m2", "m3"}, nil
		}
		return since, nil, nil
	}

	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: mb}})
	require.NoError(t, f.messages.Upsert(context.Background(), &model.MessageRecord{ID: "m2", Account: "me@example.com"}))
	f.pipeline.Process = func(account model.Account, id string) (*model.MessageRecord, error) {
		if id == "m3" {
			return nil, nil
		}
		return &model.MessageRecord{ID: id, Account: account.Email, Importance: 2}, nil
	}

	result := w.RunCycle(context.Background())

	assert.Equal(t, []string{"me@example.com/m1", "me@example.com/m3"}, f.pipeline.Calls())
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Planned)
	assert.Equal(t, 1, f.dispatcher.Calls())
	assert.Equal(t, uint64(105), w.Accounts()[0].Watermark)

	result = w.RunCycle(context.Background())
	assert.Equal(t, 0, result.Processed)
	assert.Len(t, f.pipeline.Calls(), 2)
	assert.Equal(t, 2, f.dispatcher.Calls())
}

func TestRunCycle_AuthExpiredSkipsOnlyThatAccount(t *testing.T) {
	expiredCalls := 0
	expired := gmail.NewMockClient()
	expired.CurrentWatermarkFunc = func(ctx context.Context) (uint64, error) {
		expiredCalls++
		return 0, fmt.Errorf("getProfile: %w", service.ErrAuthExpired)
	}

	healthy := gmail.NewMockClient()
	healthy.CurrentWatermarkFunc = func(ctx context.Context) (uint64, error) { return 10, nil }
	healthy.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		return 11, []string{"h1"}, nil
	}

	w, f := newWorker(t, []Mailbox{
		{Account: account("old@example.com"), Client: expired},
		{Account: account("new@example.com"), Client: healthy},
	})

	result := w.RunCycle(context.Background())
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []string{"new@example.com/h1"}, f.pipeline.Calls())

	w.RunCycle(context.Background())
	assert.Equal(t, 2, expiredCalls)
}

func TestRunCycle_ListFailureKeepsWatermark(t *testing.T) {
	mb := gmail.NewMockClient()
	mb.CurrentWatermarkFunc = func(ctx context.Context) (uint64, error) { return 50, nil }
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		return 0, nil, service.Transient("history.list", fmt.Errorf("503"))
	}

	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: mb}})
	result := w.RunCycle(context.Background())

	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, f.pipeline.Calls())
	assert.Equal(t, uint64(50), w.Accounts()[0].Watermark)
	assert.Equal(t, 1, f.dispatcher.Calls())
}

func TestRunCycle_AuthExpiredDuringProcessingStopsAccount(t *testing.T) {
	mb := gmail.NewMockClient()
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		return since + 3, []string{"a", "b", "c"}, nil
	}

	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: mb}})
	f.pipeline.Process = func(account model.Account, id string) (*model.MessageRecord, error) {
		switch id {
		case "a":
			return nil, fmt.Errorf("boom")
		case "b":
			return nil, fmt.Errorf("messages.get: %w", service.ErrAuthExpired)
		}
		return &model.MessageRecord{ID: id}, nil
	}

	w.RunCycle(context.Background())
	assert.Equal(t, []string{"me@example.com/a", "me@example.com/b"}, f.pipeline.Calls())
	assert.Equal(t, uint64(0), w.Accounts()[0].Watermark, "unprocessed ids keep the watermark")
}

func TestRunCycle_TransientFailureIsRetriedNextCycle(t *testing.T) {
	mb := gmail.NewMockClient()
	mb.CurrentWatermarkFunc = func(ctx context.Context) (uint64, error) { return 100, nil }
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		if since == 100 {
			return 101, []string{"m1"}, nil
		}
		return since, nil, nil
	}

	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: mb}})
	failures := 1
	f.pipeline.Process = func(account model.Account, id string) (*model.MessageRecord, error) {
		if failures > 0 {
			failures--
			return nil, service.Transient("messages.get", fmt.Errorf("503"))
		}
		rec := &model.MessageRecord{ID: id, Account: account.Email, Importance: 1}
		return rec, f.messages.Upsert(context.Background(), rec)
	}

	w.RunCycle(context.Background())
	assert.Equal(t, uint64(100), w.Accounts()[0].Watermark)

	w.RunCycle(context.Background())
	w.RunCycle(context.Background())

	assert.Equal(t, []string{"me@example.com/m1", "me@example.com/m1"}, f.pipeline.Calls())
	assert.Equal(t, uint64(101), w.Accounts()[0].Watermark)
}

func TestRunCycle_CrashMidBatchResumesFromCommittedCursor(t *testing.T) {
	cursors := memory.NewInMemoryCursorRepository()
	messages := memory.NewInMemoryMessageRepository()
	require.NoError(t, cursors.Save(context.Background(), "me@example.com", 100))
	require.NoError(t, messages.Upsert(context.Background(), &model.MessageRecord{ID: "m1", Account: "me@example.com", HistoryID: 101}))

	mb := gmail.NewMockClient()
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		if since == 100 {
			return 102, []string{"m1", "m2"}, nil
		}
		return since, nil, nil
	}

	pipeline := &fakePipeline{}
	log := logger.Discard()
	w := New(Config{PollInterval: time.Minute}, []Mailbox{{Account: account("me@example.com"), Client: mb}},
		service.NewSession(),
		service.NewCursorManager(cursors, messages, log),
		service.NewMessageStore(memory.NewInMemoryRawRepository(), messages, log),
		pipelineFunc(pipeline.process), &fakePlanner{}, &fakeDispatcher{}, log)

	w.RunCycle(context.Background())

	assert.Equal(t, []string{"me@example.com/m2"}, pipeline.Calls())
	saved, _ := cursors.Load(context.Background(), "me@example.com")
	assert.Equal(t, uint64(102), saved)
}

func TestRunCycle_GivesUpAfterMaxAttempts(t *testing.T) {
	mb := gmail.NewMockClient()
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		if since == 0 {
			return 7, []string{"stuck"}, nil
		}
		return since, nil, nil
	}

	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: mb}})
	f.pipeline.Process = func(account model.Account, id string) (*model.MessageRecord, error) {
		return nil, fmt.Errorf("failed to store record %s: disk full", id)
	}

	for i := 1; i < maxAttempts; i++ {
		w.RunCycle(context.Background())
		assert.Equal(t, uint64(0), w.Accounts()[0].Watermark, "attempt %d", i)
	}
	w.RunCycle(context.Background())
	assert.Equal(t, uint64(7), w.Accounts()[0].Watermark)
	assert.Len(t, f.pipeline.Calls(), maxAttempts)

	w.RunCycle(context.Background())
	assert.Len(t, f.pipeline.Calls(), maxAttempts)
}

func TestRunCycle_UnreadableMessageDoesNotHoldWatermark(t *testing.T) {
	mb := gmail.NewMockClient()
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		if since == 0 {
			return 3, []string{"garbled"}, nil
		}
		return since, nil, nil
	}

	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: mb}})
	f.pipeline.Process = func(account model.Account, id string) (*model.MessageRecord, error) {
		return nil, fmt.Errorf("failed to parse message %s: %w", id, service.ErrUnreadable)
	}

	w.RunCycle(context.Background())
	assert.Equal(t, uint64(3), w.Accounts()[0].Watermark)
}

func TestRunCycle_SameUIDInTwoIMAPAccounts(t *testing.T) {
	uidFive := func(email string) *gmail.MockClient {
		mb := gmail.NewMockClient()
		mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
			if since == 0 {
				return 5, []string{imap.MessageID(email, 1, 5)}, nil
			}
			return since, nil, nil
		}
		return mb
	}

	w, f := newWorker(t, []Mailbox{
		{Account: account("a@example.com"), Client: uidFive("a@example.com")},
		{Account: account("b@example.com"), Client: uidFive("b@example.com")},
	})
	f.pipeline.Process = func(account model.Account, id string) (*model.MessageRecord, error) {
		rec := &model.MessageRecord{ID: id, Account: account.Email, Importance: 1}
		return rec, f.messages.Upsert(context.Background(), rec)
	}

	result := w.RunCycle(context.Background())

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, []string{"a@example.com/a@example.com/1/5", "b@example.com/b@example.com/1/5"}, f.pipeline.Calls())
}

func TestRunCycle_PlanningTriggers(t *testing.T) {
	var next []string
	mb := gmail.NewMockClient()
	mb.ListChangesSinceFunc = func(ctx context.Context, since uint64) (uint64, []string, error) {
		ids := next
		next = nil
		return since + uint64(len(ids)), ids, nil
	}

	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: mb}})
	f.pipeline.Process = func(account model.Account, id string) (*model.MessageRecord, error) {
		if id == "urgent" {
			return &model.MessageRecord{ID: id, Category: "Other", Importance: 8}, nil
		}
		return &model.MessageRecord{ID: id, Category: "Other", Importance: 2}, nil
	}

	w.RunCycle(context.Background())
	assert.Equal(t, 1, f.planner.Runs(), "first cycle always plans")

	f.clock = f.clock.Add(time.Minute)
	next = []string{"boring"}
	w.RunCycle(context.Background())
	assert.Equal(t, 1, f.planner.Runs())

	f.clock = f.clock.Add(time.Minute)
	next = []string{"urgent"}
	w.RunCycle(context.Background())
	assert.Equal(t, 2, f.planner.Runs())

	f.clock = f.clock.Add(6 * time.Hour)
	w.RunCycle(context.Background())
	assert.Equal(t, 3, f.planner.Runs())
}

func TestStartStop(t *testing.T) {
	w, f := newWorker(t, []Mailbox{{Account: account("me@example.com"), Client: gmail.NewMockClient()}})

	go w.Start()
	assert.Eventually(t, func() bool { return f.dispatcher.Calls() >= 2 }, time.Second, 5*time.Millisecond)

	w.Stop()
	calls := f.dispatcher.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.dispatcher.Calls())
}
