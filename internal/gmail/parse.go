package gmail

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"

	"mailbot/internal/mailtext"
	"mailbot/internal/model"
)

// ParsePayload turns a stored messages.get response into a Message.
func ParsePayload(raw []byte) (*model.Message, error) {
	var msg gmail.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid Gmail payload: %w", err)
	}
	if msg.Id == "" {
		return nil, fmt.Errorf("invalid Gmail payload: missing id")
	}

	out := &model.Message{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		HistoryID: msg.HistoryId,
	}
	if msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload != nil {
		var h mail.Header
		for _, header := range msg.Payload.Headers {
			h.Add(header.Name, header.Value)
		}
		out.Subject = mailtext.HeaderText(h, "Subject")
		out.From = mailtext.HeaderText(h, "From")
		out.To = mailtext.HeaderText(h, "To")
		if out.Date.IsZero() {
			if t, err := h.Date(); err == nil {
				out.Date = t.UTC()
			}
		}
		out.Body = extractBody(msg.Payload)
	}

	out.Snippet = html.UnescapeString(msg.Snippet)
	if out.Snippet == "" {
		out.Snippet = mailtext.Snippet(out.Body)
	}
	return out, nil
}

// extractBody prefers text/plain anywhere in the tree and falls back to
// the first HTML part with markup removed.
func extractBody(part *gmail.MessagePart) string {
	if text := findPart(part, "text/plain"); text != "" {
		return strings.TrimSpace(text)
	}
	if markup := findPart(part, "text/html"); markup != "" {
		return mailtext.HTMLToText(markup)
	}
	if part.Body != nil && part.Body.Data != "" {
		return strings.TrimSpace(decodeData(part.Body.Data))
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		return decodeData(part.Body.Data)
	}
	for _, child := range part.Parts {
		if s := findPart(child, mimeType); s != "" {
			return s
		}
	}
	return ""
}

func decodeData(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}
