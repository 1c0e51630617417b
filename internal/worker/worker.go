package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/service"
)

// Config controls the cadence of the poll loop.
type Config struct {
	PollInterval      time.Duration
	PlanningInterval  time.Duration
	TopLabel          string
	CalendarThreshold int
}

// Mailbox pairs a configured account with its mail collaborator.
type Mailbox struct {
	Account model.Account
	Client  service.Mailbox
}

// CycleResult summarizes one pass over all accounts.
type CycleResult struct {
	Processed  int
	Planned    int
	Dispatched int
}

// maxAttempts bounds how many cycles a failing message holds its account's
// watermark before it is given up.
const maxAttempts = 5

type accountState struct {
	account  model.Account
	client   service.Mailbox
	ready    bool
	failures map[string]int
}

// Worker drives sync, classify, plan and dispatch. Accounts are handled
// one after the other in configuration order.
type Worker struct {
	cfg        Config
	accounts   []*accountState
	session    *service.Session
	cursors    service.CursorManager
	store      service.MessageStore
	pipeline   service.Pipeline
	planner    service.Planner
	dispatcher service.Dispatcher
	logger     *logger.Logger
	now        func() time.Time

	mutex    sync.Mutex
	lastPlan time.Time
	state    sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(
	cfg Config,
	mailboxes []Mailbox,
	session *service.Session,
	cursors service.CursorManager,
	store service.MessageStore,
	pipeline service.Pipeline,
	planner service.Planner,
	dispatcher service.Dispatcher,
	logger *logger.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}

	accounts := make([]*accountState, 0, len(mailboxes))
	for _, m := range mailboxes {
		accounts = append(accounts, &accountState{account: m.Account, client: m.Client, failures: map[string]int{}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:        cfg,
		accounts:   accounts,
		session:    session,
		cursors:    cursors,
		store:      store,
		pipeline:   pipeline,
		planner:    planner,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs a cycle immediately and then once per poll interval until
// Stop is called. It blocks.
func (w *Worker) Start() {
	defer close(w.done)
	w.logger.Info("Starting poll loop with interval:", w.cfg.PollInterval.String())

	w.RunCycle(w.ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunCycle(w.ctx)
		case <-w.ctx.Done():
			w.logger.Info("Poll loop stopped")
			return
		}
	}
}

// Stop cancels the running cycle and waits for Start to return.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

// RunCycle performs one full pass. Errors are logged and never abort
// the loop.
func (w *Worker) RunCycle(ctx context.Context) CycleResult {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	var result CycleResult
	urgent := false

	for _, acc := range w.accounts {
		if ctx.Err() != nil {
			return result
		}
		processed, sawUrgent := w.syncAccount(ctx, acc)
		result.Processed += processed
		urgent = urgent || sawUrgent
	}

	now := w.now()
	if w.planDue(now, urgent) {
		planned, err := w.planner.Plan(ctx, now)
		if err != nil {
			w.logger.Error("Planning failed:", err)
		} else {
			w.lastPlan = now
			result.Planned = planned
		}
	}

	dispatched, err := w.dispatcher.DispatchDue(ctx, now)
	if err != nil {
		w.logger.Error("Dispatch failed:", err)
	}
	result.Dispatched = dispatched

	if result.Processed > 0 || result.Planned > 0 || result.Dispatched > 0 {
		w.logger.Infof("Cycle done: %d processed, %d planned, %d dispatched", result.Processed, result.Planned, result.Dispatched)
	}
	return result
}

func (w *Worker) planDue(now time.Time, urgent bool) bool {
	if urgent || w.lastPlan.IsZero() {
		return true
	}
	return w.cfg.PlanningInterval > 0 && now.Sub(w.lastPlan) >= w.cfg.PlanningInterval
}

// syncAccount processes the new mail of one account and reports whether
// any of it should trigger planning right away. The listed watermark is
// committed only when every id was handled; otherwise the account stays at
// its old watermark and the ids are listed again next cycle.
func (w *Worker) syncAccount(ctx context.Context, acc *accountState) (int, bool) {
	email := acc.account.Email

	if !acc.ready {
		wm, err := w.cursors.Initialize(ctx, email, acc.client)
		if err != nil {
			w.logAccountError(email, "initialize cursor", err)
			return 0, false
		}
		w.state.Lock()
		acc.account.Watermark = wm
		acc.ready = true
		w.state.Unlock()
	}

	since := acc.account.Watermark
	next, ids, err := w.cursors.Advance(ctx, email, acc.client, since)
	if err != nil {
		w.logAccountError(email, "list changes", err)
		return 0, false
	}

	processed := 0
	urgent := false
	pending := 0
	for i, id := range ids {
		if ctx.Err() != nil {
			pending += len(ids) - i
			break
		}

		exists, err := w.store.RecordExists(ctx, id)
		if err != nil {
			w.logger.Errorf("Failed to check record %s: %v", id, err)
			pending++
			continue
		}
		if exists {
			continue
		}

		rec, err := w.pipeline.Process(ctx, w.session, acc.account, acc.client, id)
		if err != nil {
			if errors.Is(err, service.ErrAuthExpired) {
				w.logAccountError(email, "process "+id, err)
				pending += len(ids) - i
				break
			}
			if w.retry(acc, id, err) {
				pending++
			}
			continue
		}
		delete(acc.failures, id)
		if rec == nil {
			continue
		}

		processed++
		if rec.Category == w.cfg.TopLabel || rec.Importance >= w.cfg.CalendarThreshold {
			urgent = true
		}
	}

	if pending > 0 {
		w.logger.Warnf("Holding %s at watermark %d, %d messages will be retried next cycle", email, since, pending)
		return processed, urgent
	}
	if next == since {
		return processed, urgent
	}
	clear(acc.failures)
	if err := w.cursors.Commit(ctx, email, next); err != nil {
		w.logger.Errorf("Failed to persist cursor for %s: %v", email, err)
	}
	w.state.Lock()
	acc.account.Watermark = next
	w.state.Unlock()
	return processed, urgent
}

// retry logs a failed message and reports whether it should hold the
// watermark so it is listed again next cycle.
func (w *Worker) retry(acc *accountState, id string, err error) bool {
	email := acc.account.Email
	if errors.Is(err, service.ErrUnreadable) {
		w.logger.Errorf("Skipping unreadable message %s for %s: %v", id, email, err)
		return false
	}
	acc.failures[id]++
	if acc.failures[id] >= maxAttempts {
		w.logger.Errorf("Giving up on %s for %s after %d attempts: %v", id, email, acc.failures[id], err)
		delete(acc.failures, id)
		return false
	}
	w.logger.Errorf("Failed to process %s for %s (attempt %d): %v", id, email, acc.failures[id], err)
	return true
}

func (w *Worker) logAccountError(email, op string, err error) {
	if errors.Is(err, service.ErrAuthExpired) {
		w.logger.Warnf("Skipping %s this cycle, re-authorization needed (%s): %v", email, op, err)
		return
	}
	w.logger.Errorf("Skipping %s this cycle (%s): %v", email, op, err)
}

// Accounts returns a snapshot of the accounts and their watermarks.
func (w *Worker) Accounts() []model.Account {
	w.state.RLock()
	defer w.state.RUnlock()

	out := make([]model.Account, 0, len(w.accounts))
	for _, acc := range w.accounts {
		out = append(out, acc.account)
	}
	return out
}
