package notify

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
	"unicode/utf8"

	"mailbot/internal/logger"
	"mailbot/internal/mailtext"
	"mailbot/internal/model"
	"mailbot/internal/retry"
	"mailbot/internal/service"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

// Client is a Telegram bot bound to the single operator chat.
type Client struct {
	token      string
	chatID     string
	apiURL     string
	httpClient *http.Client
	policy     retry.Policy
	logger     *logger.Logger
}

func NewClient(token, chatID, apiURL string, logger *logger.Logger) *Client {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	policy := retry.Default
	policy.Retryable = service.IsTransient
	return &Client{
		token:  token,
		chatID: chatID,
		apiURL: strings.TrimRight(apiURL, "/"),
		// Long polls hold the connection for up to pollTimeout.
		httpClient: &http.Client{Timeout: pollTimeout + 15*time.Second},
		policy:     policy,
		logger:     logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID                string          `json:"chat_id"`
	Text                  string          `json:"text"`
	ParseMode             string          `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool            `json:"disable_web_page_preview"`
	ReplyMarkup           *inlineKeyboard `json:"reply_markup,omitempty"`
}

// SendText sends text to the operator chat. Formatted text is Telegram HTML.
// Formatted text over the length limit is sent as plain text, since cutting
// markup can split a tag or an entity.
func (c *Client) SendText(ctx context.Context, text string, formatted bool) error {
	req := sendMessageRequest{
		ChatID:                c.chatID,
		DisableWebPagePreview: true,
	}
	switch {
	case formatted && utf8.RuneCountInString(text) <= maxMessageRunes:
		req.Text = text
		req.ParseMode = "HTML"
	case formatted:
		req.Text = clip(mailtext.HTMLToText(text))
	default:
		req.Text = clip(text)
	}
	return c.call(ctx, "sendMessage", req, nil)
}

// SendTextWithChoices sends text with one inline button per choice.
func (c *Client) SendTextWithChoices(ctx context.Context, text string, choices []model.Choice) error {
	row := make([]inlineButton, 0, len(choices))
	for _, ch := range choices {
		row = append(row, inlineButton{Text: ch.Label, CallbackData: ch.Value})
	}
	req := sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  clip(text),
		DisableWebPagePreview: true,
		ReplyMarkup:           &inlineKeyboard{InlineKeyboard: [][]inlineButton{row}},
	}
	return c.call(ctx, "sendMessage", req, nil)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	req := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.callOnce(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// AnswerCallback stops the client-side spinner on a pressed button.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID}, nil)
}

func (c *Client) call(ctx context.Context, method string, request, out interface{}) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.callOnce(ctx, method, request, out)
	})
}

func (c *Client) callOnce(ctx context.Context, method string, request, out interface{}) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return service.Transient("telegram "+method, withoutURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.Transient("telegram "+method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil || !api.OK || resp.StatusCode >= 300 {
		err := fmt.Errorf("telegram %s failed with status %d: %s", method, resp.StatusCode, api.Description)
		if service.IsStatusTransient(resp.StatusCode) {
			return service.Transient("telegram "+method, err)
		}
		return err
	}

	if out != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// withoutURL drops the request URL from transport errors. It carries the
// bot token.
func withoutURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

func clip(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageRunes {
		return text
	}
	return string(r[:maxMessageRunes-1]) + "…"
}
