package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/repository"
)

// plannerContextSize caps how many tasks of the current run are shown to
// the model when it plans the next item.
const plannerContextSize = 10

type PlannerConfig struct {
	TopLabel             string
	Threshold            int
	Lookback             time.Duration
	ReminderLead         time.Duration
	EventDispatchLead    time.Duration
	DefaultEventDuration time.Duration
	Timezone             string
	Attempts             int
	MaxTokens            int
}

// Planner turns important records into at most one event and one reminder
// per message.
type Planner interface {
	Plan(ctx context.Context, now time.Time) (int, error)
}

type planner struct {
	cfg      PlannerConfig
	messages repository.MessageRepository
	tasks    repository.TaskRepository
	llm      LLM
	calendar Calendar
	notifier Notifier
	events   EventSink
	logger   *logger.Logger
}

func NewPlanner(
	cfg PlannerConfig,
	messages repository.MessageRepository,
	tasks repository.TaskRepository,
	llm LLM,
	calendar Calendar,
	notifier Notifier,
	events EventSink,
	logger *logger.Logger,
) Planner {
	if events == nil {
		events = nopSink{}
	}
	return &planner{
		cfg:      cfg,
		messages: messages,
		tasks:    tasks,
		llm:      llm,
		calendar: calendar,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

// plannedTask is both the model's proposal and the context shown for
// already scheduled items.
type plannedTask struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Datetime    string `json:"datetime"`
	DurationMin int    `json:"duration_min,omitempty"`
	Description string `json:"description"`
}

type proposalReply struct {
	Type        looseString `json:"type"`
	Title       looseString `json:"title"`
	Datetime    looseString `json:"datetime"`
	DurationMin looseInt    `json:"duration_min"`
	Description looseString `json:"description"`
}

func (p *planner) Plan(ctx context.Context, now time.Time) (int, error) {
	candidates, err := p.candidates(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		p.logger.Debug("No planning candidates")
		return 0, nil
	}
	p.logger.Infof("Planning %d candidate messages", len(candidates))

	var scheduled []plannedTask
	created := 0
	for i, rec := range candidates {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}

		recent := scheduled
		if len(recent) > plannerContextSize {
			recent = recent[len(recent)-plannerContextSize:]
		}

		proposal, ok := p.propose(ctx, i+1, len(candidates), rec, recent)
		if !ok {
			continue
		}

		done, err := p.apply(ctx, rec, proposal)
		if err != nil {
			p.logger.Errorf("Failed to schedule %s for %s: %v", proposal.Type, rec.ID, err)
			continue
		}
		if done {
			scheduled = append(scheduled, proposal)
			created++
		}
	}

	p.logger.Infof("Planning finished: %d tasks scheduled", created)
	return created, nil
}

// candidates returns the qualifying records that have no task yet, top
// label first, then by importance, then in arrival order.
func (p *planner) candidates(ctx context.Context, now time.Time) ([]*model.MessageRecord, error) {
	records, err := p.messages.FindCandidates(ctx, now.Add(-p.cfg.Lookback), p.cfg.TopLabel, p.cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	withTasks, err := p.tasks.MessageIDsWithTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled messages: %w", err)
	}

	out := records[:0]
	for _, rec := range records {
		if !withTasks[rec.ID] {
			out = append(out, rec)
		}
	}
	OrderCandidates(out, p.cfg.TopLabel)
	return out, nil
}

// OrderCandidates sorts in place: top label first, then importance
// descending. Ties keep their incoming (arrival) order.
func OrderCandidates(records []*model.MessageRecord, topLabel string) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].Category == topLabel, records[j].Category == topLabel
		if ti != tj {
			return ti
		}
		return records[i].Importance > records[j].Importance
	})
}

func (p *planner) propose(ctx context.Context, index, total int, rec *model.MessageRecord, scheduled []plannedTask) (plannedTask, bool) {
	turns := []model.Turn{
		{Role: model.RoleSystem, Content: plannerInstructions},
		{Role: model.RoleUser, Content: plannerPrompt(index, total, rec, scheduled)},
	}

	var proposal plannedTask
	err := completeJSON(ctx, p.llm, p.logger, turns, model.DefaultGenerationParams(p.cfg.MaxTokens), p.cfg.Attempts,
		func(text string) error {
			var reply proposalReply
			return decodeAndCheck(text, &reply, func() error {
				proposal = plannedTask{
					Type:        strings.ToLower(strings.TrimSpace(reply.Type.Value)),
					Title:       strings.TrimSpace(reply.Title.Value),
					Datetime:    strings.TrimSpace(reply.Datetime.Value),
					DurationMin: reply.DurationMin.Value,
					Description: strings.TrimSpace(reply.Description.Value),
				}
				if proposal.Type == "" {
					return nil
				}
				if !model.TaskKind(proposal.Type).Valid() {
					return fmt.Errorf("unknown task type %q", proposal.Type)
				}
				if _, err := parseTimestamp(proposal.Datetime); err != nil {
					return err
				}
				return nil
			})
		})
	if err != nil {
		p.logger.Warnf("No usable plan for %s: %v", rec.ID, err)
		return plannedTask{}, false
	}
	if proposal.Type == "" {
		p.logger.Debugf("Nothing to schedule for %s", rec.ID)
		return plannedTask{}, false
	}
	if proposal.Title == "" {
		proposal.Title = rec.Subject
	}
	return proposal, true
}

// apply stores the task and performs its side effects. It reports false
// when the message already had a task of this kind.
func (p *planner) apply(ctx context.Context, rec *model.MessageRecord, proposal plannedTask) (bool, error) {
	target, err := parseTimestamp(proposal.Datetime)
	if err != nil {
		return false, err
	}
	kind := model.TaskKind(proposal.Type)

	var dispatchAt time.Time
	if kind == model.TaskEvent {
		dispatchAt = target.Add(-p.cfg.EventDispatchLead)
	} else {
		dispatchAt = dateOnly(target).Add(-p.cfg.ReminderLead)
	}

	task := model.NewTask(rec.ID, kind, proposal.Title, target, dispatchAt)
	task.Description = proposal.Description
	task.Account = rec.Account
	task.ThreadID = rec.ThreadID

	inserted, err := p.tasks.InsertIfAbsent(ctx, task)
	if err != nil {
		return false, err
	}
	if !inserted {
		p.logger.Infof("%s task for %s already exists, skipping", kind, rec.ID)
		return false, nil
	}

	var text string
	if kind == model.TaskEvent {
		duration := time.Duration(proposal.DurationMin) * time.Minute
		if duration <= 0 {
			duration = p.cfg.DefaultEventDuration
		}
		link, err := p.calendar.CreateEvent(ctx, task.Title, task.Description, target, target.Add(duration), p.cfg.Timezone)
		if err != nil {
			p.logger.Errorf("Failed to create calendar event for %s: %v", rec.ID, err)
		}
		text = eventScheduledText(task, link)
	} else {
		text = reminderScheduledText(task)
	}

	if err := p.notifier.SendText(ctx, text, true); err != nil {
		p.logger.Warnf("Failed to announce %s task for %s: %v", kind, rec.ID, err)
	}
	p.events.Publish("task_scheduled", task)
	return true, nil
}

func eventScheduledText(task *model.Task, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>Event scheduled:</b> %s\n", html.EscapeString(task.Title))
	fmt.Fprintf(&b, "<b>When:</b> %s\n", task.TargetAt.Format("Mon 02 Jan 2006 15:04 MST"))
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", html.EscapeString(task.Description))
	}
	if link != "" {
		fmt.Fprintf(&b, `<a href="%s">Open in Calendar</a>`, html.EscapeString(link))
	}
	return strings.TrimRight(b.String(), "\n")
}

func reminderScheduledText(task *model.Task) string {
	return fmt.Sprintf("⏰ <b>Reminder set:</b> %s\n<b>Due:</b> %s\n<b>I will remind you on:</b> %s",
		html.EscapeString(task.Title),
		task.TargetAt.Format("Mon 02 Jan 2006"),
		task.ScheduledFor.Format("Mon 02 Jan 2006"))
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp accepts the ISO 8601 variants models tend to produce.
// Values without a zone are taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
