package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/repository"
)

// ContactProfiler keeps contact statistics and LLM-built profiles current.
type ContactProfiler interface {
	// Lookup returns nil when the address was never seen.
	Lookup(ctx context.Context, address string) *model.ContactProfile
	Observe(ctx context.Context, record *model.MessageRecord, updateProfile bool)
}

type contactProfile struct {
	Role         string   `json:"role"`
	CommonTopics []string `json:"common_topics"`
	Tone         string   `json:"tone"`
	Relationship string   `json:"relationship"`
	Notes        string   `json:"notes"`
}

type contactProfiler struct {
	contacts repository.ContactRepository
	llm      LLM
	attempts int
	logger   *logger.Logger
}

func NewContactProfiler(contacts repository.ContactRepository, llm LLM, attempts int, logger *logger.Logger) ContactProfiler {
	return &contactProfiler{
		contacts: contacts,
		llm:      llm,
		attempts: attempts,
		logger:   logger,
	}
}

func (p *contactProfiler) Lookup(ctx context.Context, address string) *model.ContactProfile {
	addr := normalizeAddress(address)
	if addr == "" {
		return nil
	}
	contact, err := p.contacts.FindByAddress(ctx, addr)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.logger.Warnf("Failed to load contact %s: %v", addr, err)
		}
		return nil
	}
	return contact
}

func (p *contactProfiler) Observe(ctx context.Context, record *model.MessageRecord, updateProfile bool) {
	addr := normalizeAddress(record.From)
	if addr == "" {
		return
	}

	seen := record.Date
	if seen.IsZero() {
		seen = time.Now()
	}
	if err := p.contacts.Touch(ctx, addr, seen); err != nil {
		p.logger.Warnf("Failed to update contact stats for %s: %v", addr, err)
		return
	}
	if !updateProfile {
		return
	}

	existing := p.Lookup(ctx, addr)
	turns := []model.Turn{
		{Role: model.RoleSystem, Content: profileInstructions},
		{Role: model.RoleUser, Content: profilePrompt(existing, record)},
	}

	var profile contactProfile
	err := completeJSON(ctx, p.llm, p.logger, turns, model.DefaultGenerationParams(1024), p.attempts,
		func(text string) error {
			profile = contactProfile{}
			return decodeAndCheck(text, &profile, func() error {
				if profile.Role == "" && profile.Relationship == "" && profile.Notes == "" {
					return fmt.Errorf("empty profile")
				}
				return nil
			})
		})
	if err != nil {
		p.logger.Warnf("Keeping previous profile for %s: %v", addr, err)
		return
	}

	b, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := p.contacts.SetProfile(ctx, addr, string(b)); err != nil {
		p.logger.Warnf("Failed to store profile for %s: %v", addr, err)
		return
	}
	p.logger.Infof("Updated profile for %s", addr)
}
