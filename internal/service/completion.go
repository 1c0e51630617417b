package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"mailbot/internal/logger"
	"mailbot/internal/model"
)

// completeJSON asks llm up to attempts times for a reply that accept
// takes. accept usually decodes the first JSON object of the text and
// validates it.
func completeJSON(ctx context.Context, llm LLM, log *logger.Logger, turns []model.Turn, params model.GenerationParams, attempts int, accept func(text string) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := llm.Complete(ctx, turns, params)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warnf("LLM request failed (attempt %d/%d): %v", attempt, attempts, err)
			lastErr = err
			continue
		}
		log.Debugf("LLM raw output (attempt %d): %s", attempt, text)

		if err := accept(text); err != nil {
			log.Warnf("LLM output rejected (attempt %d/%d): %v", attempt, attempts, err)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d LLM attempts failed: %w", attempts, lastErr)
}

// decodeAndCheck decodes the first JSON object of text into v and runs check.
func decodeAndCheck(text string, v interface{}, check func() error) error {
	if err := FirstJSONObject(text, v); err != nil {
		return err
	}
	if check == nil {
		return nil
	}
	if err := check(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// looseInt accepts 7, 7.0 or "7".
type looseInt struct {
	Value int
	Set   bool
}

func (l *looseInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	l.Value = int(f)
	l.Set = true
	return nil
}

// looseString accepts a string or any other JSON value, stringified.
type looseString struct {
	Value string
	Set   bool
}

func (l *looseString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	l.Set = true
	if err := json.Unmarshal(b, &l.Value); err == nil {
		return nil
	}
	l.Value = string(b)
	return nil
}
