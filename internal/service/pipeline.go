package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
)

type PipelineConfig struct {
	TopLabel        string
	ActionThreshold int
	AgentEnabled    bool
	UpdateProfiles  bool
	SendAlerts      bool
}

// Pipeline takes one new message from raw payload to stored record.
type Pipeline interface {
	// Process returns nil without error when the message was skipped.
	Process(ctx context.Context, session *Session, account model.Account, mailbox Mailbox, id string) (*model.MessageRecord, error)
}

type pipeline struct {
	cfg        PipelineConfig
	store      MessageStore
	classifier Classifier
	profiler   ContactProfiler
	executor   Executor
	notifier   Notifier
	events     EventSink
	now        func() time.Time
	logger     *logger.Logger
}

func NewPipeline(
	cfg PipelineConfig,
	store MessageStore,
	classifier Classifier,
	profiler ContactProfiler,
	executor Executor,
	notifier Notifier,
	events EventSink,
	logger *logger.Logger,
) Pipeline {
	if events == nil {
		events = nopSink{}
	}
	return &pipeline{
		cfg:        cfg,
		store:      store,
		classifier: classifier,
		profiler:   profiler,
		executor:   executor,
		notifier:   notifier,
		events:     events,
		now:        time.Now,
		logger:     logger,
	}
}

func (p *pipeline) Process(ctx context.Context, session *Session, account model.Account, mailbox Mailbox, id string) (*model.MessageRecord, error) {
	raw, err := p.store.GetOrFetchRaw(ctx, id, mailbox.GetMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	if raw == nil {
		return nil, nil
	}

	msg, err := mailbox.ParseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %v: %w", id, err, ErrUnreadable)
	}

	if session.IsSpamSender(account.Email, msg.From) {
		p.logger.Infof("Discarding %s from known spam sender %s", id, msg.From)
		return nil, nil
	}

	rec := model.NewMessageRecord(account.Email, msg)
	analysis := p.classifier.Shallow(ctx, msg, p.now())

	// Spam goes straight to the store and silences the sender for this run.
	if p.classifier.IsSpam(analysis) {
		session.MarkSpamSender(account.Email, msg.From)
		rec.Apply(analysis)
		if err := p.store.UpsertRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to store record %s: %w", id, err)
		}
		p.logger.Infof("%s from %s classified as spam", id, msg.From)
		p.events.Publish("record_processed", rec)
		return rec, nil
	}

	if p.classifier.NeedsDeep(analysis) {
		sender := p.profiler.Lookup(ctx, msg.From)
		recipient := p.profiler.Lookup(ctx, msg.To)
		analysis, _ = p.classifier.Deep(ctx, msg, analysis, sender, recipient, p.now())
	}

	rec.Apply(analysis)
	if err := p.store.UpsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record %s: %w", id, err)
	}
	p.logger.Infof("%s | %s | %s (%d) | %s", id, msg.Subject, rec.Category, rec.Importance, rec.Action)

	if p.wantsAgent(rec) {
		out, err := p.executor.Run(ctx, session, rec, mailbox)
		if err != nil {
			p.logger.Errorf("Agent failed for %s: %v", id, err)
		}
		if out != "" {
			rec.AgentOutput = out
			if err := p.store.UpsertRecord(ctx, rec); err != nil {
				p.logger.Errorf("Failed to store agent output for %s: %v", id, err)
			}
		}
	}

	p.profiler.Observe(ctx, rec, p.cfg.UpdateProfiles)

	if p.cfg.SendAlerts && (rec.Category == p.cfg.TopLabel || rec.Importance >= account.MinAlert) {
		if err := p.notifier.SendText(ctx, alertText(rec), true); err != nil {
			p.logger.Warnf("Failed to send alert for %s: %v", id, err)
		}
	}

	p.events.Publish("record_processed", rec)
	return rec, nil
}

func (p *pipeline) wantsAgent(rec *model.MessageRecord) bool {
	if !p.cfg.AgentEnabled || p.executor == nil || p.classifier.IsSpam(model.Analysis{Category: rec.Category}) {
		return false
	}
	return rec.Category == p.cfg.TopLabel || rec.Importance >= p.cfg.ActionThreshold
}

func alertText(rec *model.MessageRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📧 <b>New %s Email</b>\n", html.EscapeString(rec.Category))
	fmt.Fprintf(&b, "<b>Subject:</b> %s\n", html.EscapeString(rec.Subject))
	fmt.Fprintf(&b, "<b>Importance:</b> %d\n", rec.Importance)
	fmt.Fprintf(&b, "<b>Action:</b> %s\n", html.EscapeString(rec.Action))
	fmt.Fprintf(&b, "<b>Summary:</b> %s\n", html.EscapeString(rec.Summary))
	if rec.DeepSummary != "" {
		fmt.Fprintf(&b, "<b>Details:</b> %s\n", html.EscapeString(rec.DeepSummary))
	}
	if link := DeepLink(rec.Account, rec.ThreadID); link != "" {
		fmt.Fprintf(&b, `<a href="%s">Open in Gmail</a>`, html.EscapeString(link))
	}
	return strings.TrimRight(b.String(), "\n")
}
