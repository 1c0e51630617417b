package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
	"mailbot/internal/retry"
	"mailbot/internal/service"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
	// ProviderLocal is a llama-server or any other OpenAI-compatible endpoint.
	ProviderLocal = "local"
)

// Client talks to an OpenAI-style chat completions API or to Gemini.
type Client struct {
	provider   string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	policy     retry.Policy
	logger     *logger.Logger
}

// NewClient falls back to the provider's public endpoint and default model
// when baseURL or modelName are empty.
func NewClient(provider, baseURL, modelName, apiKey string, logger *logger.Logger) *Client {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderLocal
	}
	if baseURL == "" {
		baseURL = getBaseURL(provider)
	}
	if modelName == "" {
		modelName = getModel(provider)
	}

	policy := retry.Default
	policy.Retryable = service.IsTransient
	return &Client{
		provider:   provider,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      modelName,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		policy:     policy,
		logger:     logger,
	}
}

// getBaseURL returns the appropriate API base URL based on the provider
func getBaseURL(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "https://api.deepseek.com"
	case ProviderGemini:
		return "https://generativelanguage.googleapis.com/v1beta"
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	default:
		return "http://127.0.0.1:8080/v1"
	}
}

// getModel returns the appropriate model based on the provider
func getModel(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "deepseek-chat"
	case ProviderGemini:
		return "gemini-2.0-flash-lite"
	case ProviderOpenAI:
		return "gpt-4o"
	default:
		return "Qwen3-14B-Q4_K_M"
	}
}

// OpenAI/DeepSeek API request/response structures
type chatCompletionRequest struct {
	Model           string    `json:"model"`
	Messages        []message `json:"messages"`
	MaxTokens       int       `json:"max_tokens,omitempty"`
	Temperature     float64   `json:"temperature"`
	TopP            float64   `json:"top_p,omitempty"`
	PresencePenalty float64   `json:"presence_penalty,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Gemini API request/response structures
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	PresencePenalty float64 `json:"presencePenalty,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// Complete returns the raw text of the first choice.
func (c *Client) Complete(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error) {
	var text string
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		switch c.provider {
		case ProviderGemini:
			text, err = c.completeWithGemini(ctx, turns, params)
		default:
			text, err = c.completeWithOpenAIStyle(ctx, turns, params)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return text, nil
}

func (c *Client) completeWithOpenAIStyle(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error) {
	request := chatCompletionRequest{
		Model:           c.model,
		MaxTokens:       params.MaxTokens,
		Temperature:     params.Temperature,
		TopP:            params.TopP,
		PresencePenalty: params.PresencePenalty,
	}
	for _, t := range turns {
		request.Messages = append(request.Messages, message{Role: string(t.Role), Content: t.Content})
	}

	var resp chatCompletionResponse
	if err := c.post(ctx, c.baseURL+"/chat/completions", request, &resp, true); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from AI")
	}
	c.logger.Debugf("Completion used %d prompt and %d completion tokens", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) completeWithGemini(ctx context.Context, turns []model.Turn, params model.GenerationParams) (string, error) {
	request := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: params.MaxTokens,
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			PresencePenalty: params.PresencePenalty,
		},
	}
	for _, t := range turns {
		part := geminiPart{Text: t.Content}
		switch t.Role {
		case model.RoleSystem:
			if request.SystemInstruction == nil {
				request.SystemInstruction = &geminiContent{}
			}
			request.SystemInstruction.Parts = append(request.SystemInstruction.Parts, part)
		case model.RoleAssistant:
			request.Contents = append(request.Contents, geminiContent{Role: "model", Parts: []geminiPart{part}})
		default:
			request.Contents = append(request.Contents, geminiContent{Role: "user", Parts: []geminiPart{part}})
		}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	var resp geminiResponse
	if err := c.post(ctx, endpoint, request, &resp, false); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from Gemini")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// withoutURL drops the request URL from transport errors so endpoints with
// credentials never reach the logs.
func withoutURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

// post sends request as JSON and decodes the reply into out. Network
// failures and 429/5xx statuses are transient.
func (c *Client) post(ctx context.Context, endpoint string, request, out interface{}, bearer bool) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		if bearer {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		} else {
			req.Header.Set("x-goog-api-key", c.apiKey)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return service.Transient("llm request", withoutURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		if service.IsStatusTransient(resp.StatusCode) {
			return service.Transient("llm request", err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
