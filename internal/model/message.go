package model

import (
	"time"
)

// Message is the parsed view of a raw payload that the classifier works on.
type Message struct {
	ID        string
	ThreadID  string
	HistoryID uint64
	From      string
	To        string
	Subject   string
	Snippet   string
	Body      string
	Date      time.Time
}

// Age returns how long ago the message arrived, relative to now.
func (m *Message) Age(now time.Time) time.Duration {
	if m.Date.IsZero() || now.Before(m.Date) {
		return 0
	}
	return now.Sub(m.Date)
}

// MessageRecord is the stored classification result for one message.
type MessageRecord struct {
	ID          string    `json:"id" db:"id"`
	Account     string    `json:"account" db:"account"`
	ThreadID    string    `json:"thread_id" db:"thread_id"`
	From        string    `json:"from" db:"sender"`
	To          string    `json:"to" db:"recipient"`
	Subject     string    `json:"subject" db:"subject"`
	Snippet     string    `json:"snippet" db:"snippet"`
	Date        time.Time `json:"date" db:"received_at"`
	Category    string    `json:"category" db:"category"`
	Importance  int       `json:"importance" db:"importance"`
	Action      string    `json:"action" db:"action"`
	Summary     string    `json:"summary" db:"summary"`
	DeepSummary string    `json:"deep_summary,omitempty" db:"deep_summary"`
	AgentOutput string    `json:"agent_output,omitempty" db:"agent_output"`
	HistoryID   uint64    `json:"history_id" db:"history_id"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

func NewMessageRecord(account string, msg *Message) *MessageRecord {
	return &MessageRecord{
		ID:          msg.ID,
		Account:     account,
		ThreadID:    msg.ThreadID,
		From:        msg.From,
		To:          msg.To,
		Subject:     msg.Subject,
		Snippet:     msg.Snippet,
		Date:        msg.Date,
		HistoryID:   msg.HistoryID,
		ProcessedAt: time.Now().UTC(),
	}
}

// Analysis is the structured answer of a classification pass.
type Analysis struct {
	Category    string `json:"category"`
	Importance  int    `json:"importance"`
	Action      string `json:"action"`
	Summary     string `json:"summary"`
	DeepSummary string `json:"deep_summary,omitempty"`
}

// Apply copies the analysis onto the record. Empty deep fields leave the
// record untouched.
func (r *MessageRecord) Apply(a Analysis) {
	r.Category = a.Category
	r.Importance = a.Importance
	r.Action = a.Action
	r.Summary = a.Summary
	if a.DeepSummary != "" {
		r.DeepSummary = a.DeepSummary
	}
}
