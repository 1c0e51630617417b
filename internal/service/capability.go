package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mailbot/internal/model"
	"mailbot/internal/repository"
)

// InputField documents one argument of a capability for the action selector.
type InputField struct {
	Name        string
	Type        string
	Description string
}

// ActionRun is the context a capability executes in.
type ActionRun struct {
	Session *Session
	Record  *model.MessageRecord
	Mailbox Mailbox
}

// Capability is one tool of the action executor. The set is closed: only
// the types in this file implement it.
type Capability interface {
	Name() string
	Description() string
	Inputs() []InputField
	RequiresConfirmation() bool
	// Subject names what a confirmation for these args applies to, plus a
	// line describing the effect for the human.
	Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error)
	Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error)
	capability()
}

// CatalogDeps are the collaborators shared by the capabilities.
type CatalogDeps struct {
	Gate                 Gate
	Notifier             Notifier
	Calendar             Calendar
	Tasks                repository.TaskRepository
	AskHuman             bool
	Timezone             string
	DefaultEventDuration time.Duration
	EventDispatchLead    time.Duration
	ReminderLead         time.Duration
}

// NewCatalog returns every capability, in the order shown to the selector.
func NewCatalog(deps CatalogDeps) []Capability {
	return []Capability{
		&AskUserYesNo{gate: deps.Gate},
		&MarkSpam{confirm: deps.AskHuman},
		&CreateEvent{
			confirm:  deps.AskHuman,
			calendar: deps.Calendar,
			tasks:    deps.Tasks,
			timezone: deps.Timezone,
			duration: deps.DefaultEventDuration,
			dispatch: deps.EventDispatchLead,
		},
		&ScheduleReminder{confirm: deps.AskHuman, tasks: deps.Tasks, lead: deps.ReminderLead},
		&DraftReply{confirm: deps.AskHuman},
		&AskUser{gate: deps.Gate},
		&RemindUser{notifier: deps.Notifier},
		&FinalAnswer{},
	}
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func missingConfirmation(tool, subject string) string {
	return fmt.Sprintf("ERROR: Missing user confirmation for %s on %s", tool, subject)
}

// AskUserYesNo lets the selector ask for a confirmation explicitly.
type AskUserYesNo struct {
	gate Gate
}

type askUserYesNoArgs struct {
	Tool       string `json:"tool"`
	Identifier string `json:"identifier"`
	Details    string `json:"details"`
}

func (c *AskUserYesNo) capability()                {}
func (c *AskUserYesNo) Name() string               { return "ask_user_yes_no" }
func (c *AskUserYesNo) RequiresConfirmation() bool { return false }
func (c *AskUserYesNo) Description() string {
	return "Ask the user a yes/no question via inline buttons."
}

func (c *AskUserYesNo) Inputs() []InputField {
	return []InputField{
		{"tool", "string", "Name of the tool to confirm (e.g. gmail_mark_spam)."},
		{"identifier", "string", "The object id (e.g. message ID or event datetime)."},
		{"details", "string", "Additional context to display in the question."},
	}
}

func (c *AskUserYesNo) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	var a askUserYesNoArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", "", err
	}
	return a.Identifier, a.Details, nil
}

func (c *AskUserYesNo) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	var a askUserYesNoArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	if a.Tool == "" || a.Identifier == "" {
		return "ERROR: tool and identifier are required", nil
	}
	approved, err := c.gate.RequestConfirmation(ctx, run.Session, a.Tool, a.Identifier, a.Details)
	if err != nil {
		return "", err
	}
	if approved {
		return "approved", nil
	}
	return "denied", nil
}

// MarkSpam moves the current message to spam.
type MarkSpam struct {
	confirm bool
}

type markSpamArgs struct {
	MsgID string `json:"msg_id"`
}

func (c *MarkSpam) capability()                {}
func (c *MarkSpam) Name() string               { return "gmail_mark_spam" }
func (c *MarkSpam) RequiresConfirmation() bool { return c.confirm }
func (c *MarkSpam) Description() string        { return "Mark a message as spam given its message ID." }

func (c *MarkSpam) Inputs() []InputField {
	return []InputField{{"msg_id", "string", "Message ID to mark as spam."}}
}

func (c *MarkSpam) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	var a markSpamArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", "", err
	}
	if a.MsgID == "" {
		a.MsgID = rec.ID
	}
	if a.MsgID != rec.ID {
		return "", "", fmt.Errorf("%s is not the message being handled", a.MsgID)
	}
	return a.MsgID, "Mark this message as spam.", nil
}

func (c *MarkSpam) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	id, _, err := c.Subject(run.Record, args)
	if err != nil {
		return "ERROR: " + err.Error(), nil
	}
	if c.confirm && !run.Session.Approved(c.Name(), id) {
		return missingConfirmation(c.Name(), id), nil
	}
	if err := run.Mailbox.SetLabel(ctx, id, "SPAM"); err != nil {
		return "", err
	}
	return fmt.Sprintf("Message %s marked as SPAM.", id), nil
}

// CreateEvent puts an event in the calendar and records it as the
// message's event task.
type CreateEvent struct {
	confirm  bool
	calendar Calendar
	tasks    repository.TaskRepository
	timezone string
	duration time.Duration
	dispatch time.Duration
}

type createEventArgs struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Datetime    string `json:"dt_str"`
	DurationMin int    `json:"duration_min"`
}

func (c *CreateEvent) capability()                {}
func (c *CreateEvent) Name() string               { return "create_event" }
func (c *CreateEvent) RequiresConfirmation() bool { return c.confirm }
func (c *CreateEvent) Description() string        { return "Create a calendar event." }

func (c *CreateEvent) Inputs() []InputField {
	return []InputField{
		{"title", "string", "Event title."},
		{"description", "string", "Event body."},
		{"dt_str", "string", "ISO datetime for start."},
		{"duration_min", "integer", "Length in minutes (optional)."},
	}
}

func (c *CreateEvent) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	var a createEventArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", "", err
	}
	return a.Title + "@" + a.Datetime, fmt.Sprintf("Create event %q at %s.", a.Title, a.Datetime), nil
}

func (c *CreateEvent) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	var a createEventArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	subject := a.Title + "@" + a.Datetime
	if c.confirm && !run.Session.Approved(c.Name(), subject) {
		return missingConfirmation(c.Name(), subject), nil
	}

	start, err := parseTimestamp(a.Datetime)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err), nil
	}
	duration := time.Duration(a.DurationMin) * time.Minute
	if duration <= 0 {
		duration = c.duration
	}

	task := model.NewTask(run.Record.ID, model.TaskEvent, a.Title, start, start.Add(-c.dispatch))
	task.Description = a.Description
	task.Account = run.Record.Account
	task.ThreadID = run.Record.ThreadID
	inserted, err := c.tasks.InsertIfAbsent(ctx, task)
	if err != nil {
		return "", err
	}
	if !inserted {
		return "An event is already scheduled for this message.", nil
	}

	link, err := c.calendar.CreateEvent(ctx, a.Title, a.Description, start, start.Add(duration), c.timezone)
	if err != nil {
		return "", err
	}
	return "Event created: " + link, nil
}

// ScheduleReminder stores a reminder task for the current message.
type ScheduleReminder struct {
	confirm bool
	tasks   repository.TaskRepository
	lead    time.Duration
}

type scheduleReminderArgs struct {
	MsgID       string `json:"msg_id"`
	Title       string `json:"title"`
	Datetime    string `json:"dt_str"`
	LeadMinutes int    `json:"lead_minutes"`
}

func (c *ScheduleReminder) capability()                {}
func (c *ScheduleReminder) Name() string               { return "schedule_reminder" }
func (c *ScheduleReminder) RequiresConfirmation() bool { return c.confirm }
func (c *ScheduleReminder) Description() string {
	return "Remind the user ahead of a deadline found in the message."
}

func (c *ScheduleReminder) Inputs() []InputField {
	return []InputField{
		{"msg_id", "string", "Message ID."},
		{"title", "string", "Reminder title."},
		{"dt_str", "string", "ISO datetime (deadline)."},
		{"lead_minutes", "integer", "Remind this many minutes before the deadline (optional)."},
	}
}

func (c *ScheduleReminder) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	var a scheduleReminderArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", "", err
	}
	if a.MsgID == "" {
		a.MsgID = rec.ID
	}
	return a.MsgID, fmt.Sprintf("Set reminder %q for %s.", a.Title, a.Datetime), nil
}

func (c *ScheduleReminder) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	var a scheduleReminderArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	if a.MsgID == "" {
		a.MsgID = run.Record.ID
	}
	if c.confirm && !run.Session.Approved(c.Name(), a.MsgID) {
		return missingConfirmation(c.Name(), a.MsgID), nil
	}

	deadline, err := parseTimestamp(a.Datetime)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err), nil
	}
	dispatchAt := dateOnly(deadline).Add(-c.lead)
	if a.LeadMinutes > 0 {
		dispatchAt = deadline.Add(-time.Duration(a.LeadMinutes) * time.Minute)
	}

	task := model.NewTask(a.MsgID, model.TaskReminder, a.Title, deadline, dispatchAt)
	task.Account = run.Record.Account
	task.ThreadID = run.Record.ThreadID
	inserted, err := c.tasks.InsertIfAbsent(ctx, task)
	if err != nil {
		return "", err
	}
	if !inserted {
		return "A reminder is already scheduled for this message.", nil
	}
	return fmt.Sprintf("Reminder scheduled for %s.", dispatchAt.Format(time.RFC3339)), nil
}

// DraftReply saves a reply draft; it never sends mail.
type DraftReply struct {
	confirm bool
}

type draftReplyArgs struct {
	Body string `json:"body"`
}

func (c *DraftReply) capability()                {}
func (c *DraftReply) Name() string               { return "draft_reply" }
func (c *DraftReply) RequiresConfirmation() bool { return c.confirm }
func (c *DraftReply) Description() string {
	return "Save a draft reply to the sender of the current message."
}

func (c *DraftReply) Inputs() []InputField {
	return []InputField{{"body", "string", "Plain text body of the reply."}}
}

func (c *DraftReply) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	var a draftReplyArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", "", err
	}
	return rec.ID + "#" + digest(a.Body), "Save this draft reply:\n" + truncate(a.Body, 500), nil
}

func (c *DraftReply) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	var a draftReplyArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	key, _, err := c.Subject(run.Record, args)
	if err != nil {
		return "", err
	}
	if c.confirm && !run.Session.Approved(c.Name(), key) {
		return missingConfirmation(c.Name(), key), nil
	}
	if strings.TrimSpace(a.Body) == "" {
		return "ERROR: body is required", nil
	}

	subject := run.Record.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	id, err := run.Mailbox.CreateDraft(ctx, run.Record.From, subject, a.Body)
	if err != nil {
		return "", err
	}
	return "Draft saved: " + id, nil
}

// AskUser asks an open question and returns the answer.
type AskUser struct {
	gate Gate
}

type askUserArgs struct {
	Question string `json:"question"`
}

func (c *AskUser) capability()                {}
func (c *AskUser) Name() string               { return "ask_user" }
func (c *AskUser) RequiresConfirmation() bool { return false }
func (c *AskUser) Description() string        { return "Ask the user an open-ended question." }

func (c *AskUser) Inputs() []InputField {
	return []InputField{{"question", "string", "Question text."}}
}

func (c *AskUser) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	return rec.ID, "", nil
}

func (c *AskUser) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	var a askUserArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	answer, err := c.gate.Ask(ctx, a.Question)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "No answer from the user.", nil
	}
	return answer, nil
}

// RemindUser sends a plain reminder text.
type RemindUser struct {
	notifier Notifier
}

type remindUserArgs struct {
	Text string `json:"text"`
}

func (c *RemindUser) capability()                {}
func (c *RemindUser) Name() string               { return "remind_user" }
func (c *RemindUser) RequiresConfirmation() bool { return false }
func (c *RemindUser) Description() string        { return "Send the user a short reminder message." }

func (c *RemindUser) Inputs() []InputField {
	return []InputField{{"text", "string", "Brief reminder summary."}}
}

func (c *RemindUser) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	return rec.ID, "", nil
}

func (c *RemindUser) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	var a remindUserArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	if err := c.notifier.SendText(ctx, a.Text, false); err != nil {
		return "", err
	}
	return "Reminder sent.", nil
}

// FinalAnswer ends the run.
type FinalAnswer struct{}

type finalAnswerArgs struct {
	Answer string `json:"answer"`
}

func (c *FinalAnswer) capability()                {}
func (c *FinalAnswer) Name() string               { return "final_answer" }
func (c *FinalAnswer) RequiresConfirmation() bool { return false }
func (c *FinalAnswer) Description() string        { return "Finish with a short summary of what was done." }

func (c *FinalAnswer) Inputs() []InputField {
	return []InputField{{"answer", "string", "Summary of the outcome."}}
}

func (c *FinalAnswer) Subject(rec *model.MessageRecord, args json.RawMessage) (string, string, error) {
	return rec.ID, "", nil
}

func (c *FinalAnswer) Execute(ctx context.Context, run *ActionRun, args json.RawMessage) (string, error) {
	var a finalAnswerArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	return a.Answer, nil
}

// digest is a short fingerprint of text, so an approval covers only the
// exact text that was shown.
func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:4])
}
