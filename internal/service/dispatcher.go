package service

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/repository"
)

// Dispatcher delivers tasks whose dispatch time has come.
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

type dispatcher struct {
	tasks    repository.TaskRepository
	notifier Notifier
	events   EventSink
	logger   *logger.Logger
}

func NewDispatcher(tasks repository.TaskRepository, notifier Notifier, events EventSink, logger *logger.Logger) Dispatcher {
	if events == nil {
		events = nopSink{}
	}
	return &dispatcher{
		tasks:    tasks,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

// DispatchDue sends every unsent task scheduled at or before now. A task is
// marked sent only after its notification went out, so a crash in between
// can repeat a delivery but never lose one.
func (d *dispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := d.tasks.FindDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due tasks: %w", err)
	}

	sent := 0
	for _, task := range due {
		if err := d.notifier.SendText(ctx, dueText(task), true); err != nil {
			d.logger.Warnf("Failed to deliver task %s, will retry next cycle: %v", task.ID, err)
			continue
		}
		if err := d.tasks.MarkSent(ctx, task.ID); err != nil {
			d.logger.Errorf("Delivered task %s but failed to mark it sent: %v", task.ID, err)
			continue
		}
		task.Sent = true
		sent++
		d.events.Publish("task_dispatched", task)
	}

	if sent > 0 {
		d.logger.Infof("Dispatched %d due tasks", sent)
	}
	return sent, nil
}

// DeepLink points back at the source thread in Gmail's web UI.
func DeepLink(account, threadID string) string {
	if threadID == "" {
		return ""
	}
	return fmt.Sprintf("https://mail.google.com/mail/?authuser=%s#all/%s", url.QueryEscape(account), threadID)
}

func dueText(task *model.Task) string {
	var b strings.Builder
	if task.Kind == model.TaskEvent {
		fmt.Fprintf(&b, "📅 <b>Upcoming:</b> %s\n", html.EscapeString(task.Title))
		fmt.Fprintf(&b, "<b>Starts:</b> %s\n", task.TargetAt.Format("Mon 02 Jan 2006 15:04 MST"))
	} else {
		fmt.Fprintf(&b, "⏰ <b>Reminder:</b> %s\n", html.EscapeString(task.Title))
		fmt.Fprintf(&b, "<b>Due:</b> %s\n", task.TargetAt.Format("Mon 02 Jan 2006"))
	}
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", html.EscapeString(task.Description))
	}
	if link := DeepLink(task.Account, task.ThreadID); link != "" {
		fmt.Fprintf(&b, `<a href="%s">Open in Gmail</a>`, html.EscapeString(link))
	}
	return strings.TrimRight(b.String(), "\n")
}
