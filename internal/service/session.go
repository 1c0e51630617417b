package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"mailbot/internal/model"
)

type confirmKey struct {
	tool    string
	subject string
}

// Session holds the state that lives for one process run: the spam senders
// seen per account and the human confirmations collected so far.
type Session struct {
	RunID     string
	StartedAt time.Time

	mutex         sync.RWMutex
	spam          map[string]map[string]bool
	confirmations map[confirmKey]*model.PendingConfirmation
}

func NewSession() *Session {
	return &Session{
		RunID:         uuid.New().String(),
		StartedAt:     time.Now().UTC(),
		spam:          make(map[string]map[string]bool),
		confirmations: make(map[confirmKey]*model.PendingConfirmation),
	}
}

func (s *Session) MarkSpamSender(account, sender string) {
	addr := normalizeAddress(sender)
	if addr == "" {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	set, ok := s.spam[account]
	if !ok {
		set = make(map[string]bool)
		s.spam[account] = set
	}
	set[addr] = true
}

func (s *Session) IsSpamSender(account, sender string) bool {
	addr := normalizeAddress(sender)
	if addr == "" {
		return false
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.spam[account][addr]
}

// Confirmation returns a copy of the confirmation recorded for tool+subject.
func (s *Session) Confirmation(tool, subject string) (model.PendingConfirmation, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.confirmations[confirmKey{tool, subject}]
	if !ok {
		return model.PendingConfirmation{}, false
	}
	return *p, true
}

// Approved reports whether a human has said yes to tool+subject in this run.
func (s *Session) Approved(tool, subject string) bool {
	p, ok := s.Confirmation(tool, subject)
	return ok && p.Approved()
}

func (s *Session) putConfirmation(p model.PendingConfirmation) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.confirmations[confirmKey{p.Tool, p.Subject}] = &p
}

// Confirmations lists every confirmation of this run, oldest first.
func (s *Session) Confirmations() []model.PendingConfirmation {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]model.PendingConfirmation, 0, len(s.confirmations))
	for _, p := range s.confirmations {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// normalizeAddress reduces "Name <a@b>" to "a@b", lowercased.
func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(s)
}
