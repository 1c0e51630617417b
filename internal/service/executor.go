package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mailbot/internal/logger"
	"mailbot/internal/model"
)

// Step is one tool call chosen by the selector.
type Step struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// ActionSelector decides which capabilities to invoke for a record.
type ActionSelector interface {
	Select(ctx context.Context, rec *model.MessageRecord, catalog []Capability, maxSteps int) ([]Step, error)
}

// Executor runs the selected steps, passing effectful ones through the gate.
type Executor interface {
	Run(ctx context.Context, session *Session, rec *model.MessageRecord, mailbox Mailbox) (string, error)
}

type executor struct {
	catalog  []Capability
	byName   map[string]Capability
	selector ActionSelector
	gate     Gate
	maxSteps int
	logger   *logger.Logger
}

func NewExecutor(catalog []Capability, selector ActionSelector, gate Gate, maxSteps int, logger *logger.Logger) Executor {
	byName := make(map[string]Capability, len(catalog))
	for _, c := range catalog {
		byName[c.Name()] = c
	}
	if maxSteps < 1 {
		maxSteps = 5
	}
	return &executor{
		catalog:  catalog,
		byName:   byName,
		selector: selector,
		gate:     gate,
		maxSteps: maxSteps,
		logger:   logger,
	}
}

func (e *executor) Run(ctx context.Context, session *Session, rec *model.MessageRecord, mailbox Mailbox) (string, error) {
	steps, err := e.selector.Select(ctx, rec, e.catalog, e.maxSteps)
	if err != nil {
		return "", fmt.Errorf("failed to select actions: %w", err)
	}
	if len(steps) > e.maxSteps {
		steps = steps[:e.maxSteps]
	}

	run := &ActionRun{Session: session, Record: rec, Mailbox: mailbox}
	var lines []string
	for _, step := range steps {
		c, ok := e.byName[step.Tool]
		if !ok {
			lines = append(lines, fmt.Sprintf("%s: unknown tool", step.Tool))
			continue
		}

		if c.RequiresConfirmation() {
			subject, details, err := c.Subject(rec, step.Args)
			if err != nil {
				lines = append(lines, fmt.Sprintf("%s: %v", c.Name(), err))
				continue
			}
			approved, err := e.gate.RequestConfirmation(ctx, session, c.Name(), subject, details)
			if err != nil {
				if ctx.Err() != nil {
					return strings.Join(lines, "\n"), ctx.Err()
				}
				lines = append(lines, fmt.Sprintf("%s: confirmation failed: %v", c.Name(), err))
				continue
			}
			if !approved {
				lines = append(lines, fmt.Sprintf("%s: declined by user", c.Name()))
				continue
			}
		}

		out, err := c.Execute(ctx, run, step.Args)
		if err != nil {
			if ctx.Err() != nil {
				return strings.Join(lines, "\n"), ctx.Err()
			}
			e.logger.Warnf("Tool %s failed for %s: %v", c.Name(), rec.ID, err)
			out = "ERROR: " + err.Error()
		}
		lines = append(lines, fmt.Sprintf("%s: %s", c.Name(), out))

		if _, final := c.(*FinalAnswer); final {
			break
		}
	}

	output := strings.Join(lines, "\n")
	e.logger.Infof("Agent finished for %s:\n%s", rec.ID, output)
	return output, nil
}

type llmSelector struct {
	llm      LLM
	attempts int
	logger   *logger.Logger
}

// NewLLMSelector asks the model for the whole plan in a single request.
func NewLLMSelector(llm LLM, attempts int, logger *logger.Logger) ActionSelector {
	return &llmSelector{llm: llm, attempts: attempts, logger: logger}
}

func (s *llmSelector) Select(ctx context.Context, rec *model.MessageRecord, catalog []Capability, maxSteps int) ([]Step, error) {
	turns := []model.Turn{
		{Role: model.RoleSystem, Content: fmt.Sprintf(agentInstructions, describeCatalog(catalog), maxSteps)},
		{Role: model.RoleUser, Content: agentPrompt(rec)},
	}

	var steps []Step
	err := completeJSON(ctx, s.llm, s.logger, turns, model.DefaultGenerationParams(2048), s.attempts,
		func(text string) error {
			var reply struct {
				Steps []Step `json:"steps"`
			}
			return decodeAndCheck(text, &reply, func() error {
				if reply.Steps == nil {
					return fmt.Errorf("missing steps")
				}
				steps = reply.Steps
				return nil
			})
		})
	if err != nil {
		return nil, err
	}
	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	return steps, nil
}

func describeCatalog(catalog []Capability) string {
	var b strings.Builder
	for _, c := range catalog {
		fmt.Fprintf(&b, "- %s: %s", c.Name(), c.Description())
		if c.RequiresConfirmation() {
			b.WriteString(" NEEDS_USER_PERMISSION")
		}
		b.WriteString("\n")
		for _, in := range c.Inputs() {
			fmt.Fprintf(&b, "    %s (%s): %s\n", in.Name, in.Type, in.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
