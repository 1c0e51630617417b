package model

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message of a chat completion.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single completion request.
type GenerationParams struct {
	MaxTokens       int
	Temperature     float64
	TopP            float64
	PresencePenalty float64
}

// DefaultGenerationParams matches the sampling the local model was tuned for.
func DefaultGenerationParams(maxTokens int) GenerationParams {
	return GenerationParams{
		MaxTokens:       maxTokens,
		Temperature:     0.7,
		TopP:            0.9,
		PresencePenalty: 1.2,
	}
}
