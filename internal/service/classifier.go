package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
)

// deepBodyChars keeps the deep prompt inside the model's input budget.
const deepBodyChars = 24000

type ClassifierConfig struct {
	Labels        []string
	TopLabel      string
	SpamLabel     string
	DeepThreshold int
	Attempts      int
	ShallowTokens int
	DeepTokens    int
	// UserContext is appended to the system prompts to describe the user.
	UserContext string
}

// Classifier runs the cheap shallow pass on every message and the deep pass
// on the ones that deserve it.
type Classifier interface {
	// Shallow never fails: after the retry budget it returns Fallback().
	Shallow(ctx context.Context, msg *model.Message, now time.Time) model.Analysis
	// Deep returns the merged analysis, or the shallow one and false when
	// the deep pass did not produce a usable answer.
	Deep(ctx context.Context, msg *model.Message, shallow model.Analysis, sender, recipient *model.ContactProfile, now time.Time) (model.Analysis, bool)
	NeedsDeep(a model.Analysis) bool
	IsSpam(a model.Analysis) bool
	Fallback() model.Analysis
}

type classifier struct {
	cfg    ClassifierConfig
	llm    LLM
	logger *logger.Logger
}

func NewClassifier(cfg ClassifierConfig, llm LLM, logger *logger.Logger) Classifier {
	if cfg.Attempts < 1 {
		cfg.Attempts = 4
	}
	return &classifier{
		cfg:    cfg,
		llm:    llm,
		logger: logger,
	}
}

type analysisReply struct {
	Category    looseString `json:"category"`
	Importance  looseInt    `json:"importance"`
	Action      looseString `json:"action"`
	Summary     looseString `json:"summary"`
	DeepSummary looseString `json:"deep_summary"`
}

func (c *classifier) Fallback() model.Analysis {
	return model.Analysis{Category: c.cfg.SpamLabel, Importance: 1}
}

func (c *classifier) Shallow(ctx context.Context, msg *model.Message, now time.Time) model.Analysis {
	turns := []model.Turn{
		{Role: model.RoleSystem, Content: fmt.Sprintf(shallowInstructions, c.cfg.UserContext, labelList(c.cfg.Labels))},
		{Role: model.RoleUser, Content: shallowPrompt(msg, now)},
	}

	var result model.Analysis
	err := completeJSON(ctx, c.llm, c.logger, turns, model.DefaultGenerationParams(c.cfg.ShallowTokens), c.cfg.Attempts,
		func(text string) error {
			var reply analysisReply
			return decodeAndCheck(text, &reply, func() (err error) {
				result, err = c.toAnalysis(reply, false)
				return err
			})
		})
	if err != nil {
		c.logger.Warnf("Shallow pass failed for %s, using fallback: %v", msg.ID, err)
		return c.Fallback()
	}
	return result
}

func (c *classifier) Deep(ctx context.Context, msg *model.Message, shallow model.Analysis, sender, recipient *model.ContactProfile, now time.Time) (model.Analysis, bool) {
	turns := []model.Turn{
		{Role: model.RoleSystem, Content: fmt.Sprintf(deepInstructions, c.cfg.UserContext, labelList(c.cfg.Labels))},
		{Role: model.RoleUser, Content: deepPrompt(msg, shallow, sender, recipient, now, deepBodyChars)},
	}

	var deep model.Analysis
	err := completeJSON(ctx, c.llm, c.logger, turns, model.DefaultGenerationParams(c.cfg.DeepTokens), c.cfg.Attempts,
		func(text string) error {
			var reply analysisReply
			return decodeAndCheck(text, &reply, func() (err error) {
				deep, err = c.toAnalysis(reply, true)
				return err
			})
		})
	if err != nil {
		c.logger.Warnf("Deep pass failed for %s, keeping shallow result: %v", msg.ID, err)
		return shallow, false
	}
	return mergeAnalysis(shallow, deep), true
}

func (c *classifier) NeedsDeep(a model.Analysis) bool {
	return a.Importance >= c.cfg.DeepThreshold || a.Category == c.cfg.TopLabel
}

func (c *classifier) IsSpam(a model.Analysis) bool {
	return a.Category == c.cfg.SpamLabel
}

// toAnalysis validates a reply. The shallow pass needs all four core
// fields; the deep pass may leave any of them out.
func (c *classifier) toAnalysis(r analysisReply, deep bool) (model.Analysis, error) {
	if !deep {
		switch {
		case !r.Category.Set:
			return model.Analysis{}, fmt.Errorf("missing category")
		case !r.Importance.Set:
			return model.Analysis{}, fmt.Errorf("missing importance")
		case !r.Action.Set:
			return model.Analysis{}, fmt.Errorf("missing action")
		case !r.Summary.Set:
			return model.Analysis{}, fmt.Errorf("missing summary")
		}
	}

	a := model.Analysis{
		Action:      strings.TrimSpace(r.Action.Value),
		Summary:     strings.TrimSpace(r.Summary.Value),
		DeepSummary: strings.TrimSpace(r.DeepSummary.Value),
	}
	if r.Category.Set {
		label, ok := c.matchLabel(r.Category.Value)
		if !ok {
			return model.Analysis{}, fmt.Errorf("unknown category %q", r.Category.Value)
		}
		a.Category = label
	}
	if r.Importance.Set {
		a.Importance = clamp(r.Importance.Value, 1, 10)
	}
	if deep && a.DeepSummary == "" {
		return model.Analysis{}, fmt.Errorf("missing deep_summary")
	}
	return a, nil
}

func (c *classifier) matchLabel(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, label := range c.cfg.Labels {
		if strings.EqualFold(label, s) {
			return label, true
		}
	}
	return "", false
}

// mergeAnalysis overwrites shallow fields with the deep ones that are present.
func mergeAnalysis(shallow, deep model.Analysis) model.Analysis {
	out := shallow
	if deep.Category != "" {
		out.Category = deep.Category
	}
	if deep.Importance != 0 {
		out.Importance = deep.Importance
	}
	if deep.Action != "" {
		out.Action = deep.Action
	}
	if deep.Summary != "" {
		out.Summary = deep.Summary
	}
	out.DeepSummary = deep.DeepSummary
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
