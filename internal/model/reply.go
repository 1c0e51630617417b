package model

import "time"

type ReplyKind string

const (
	ReplyChoice ReplyKind = "choice"
	ReplyText   ReplyKind = "text"
)

// Reply is an inbound human answer received from the notification channel.
type Reply struct {
	Kind       ReplyKind
	Data       string
	CallbackID string
	ReceivedAt time.Time
}

// Choice is one button offered alongside a prompt.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type ConfirmationState string

const (
	ConfirmationPending  ConfirmationState = "pending"
	ConfirmationApproved ConfirmationState = "approved"
	ConfirmationDenied   ConfirmationState = "denied"
	ConfirmationExpired  ConfirmationState = "expired"
)

// PendingConfirmation tracks one human approval keyed by (Tool, Subject).
type PendingConfirmation struct {
	Tool        string            `json:"tool"`
	Subject     string            `json:"subject"`
	Token       string            `json:"token"`
	Prompt      string            `json:"prompt"`
	State       ConfirmationState `json:"state"`
	RequestedAt time.Time         `json:"requested_at"`
	ResolvedAt  time.Time         `json:"resolved_at,omitempty"`
}

func (p *PendingConfirmation) Approved() bool {
	return p.State == ConfirmationApproved
}

func (p *PendingConfirmation) Resolved() bool {
	return p.State != ConfirmationPending
}
