package imap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"mailbot/internal/mailtext"
	"mailbot/internal/model"
)

// ParsePayload turns a stored fetch result into a Message. IMAP has no
// thread ids, so ThreadID stays empty and no web link is offered.
func ParsePayload(raw []byte) (*model.Message, error) {
	var f fetched
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid IMAP payload: %w", err)
	}
	if f.UID == 0 {
		return nil, fmt.Errorf("invalid IMAP payload: missing uid")
	}

	out := &model.Message{
		ID:        f.ID,
		HistoryID: uint64(f.UID),
	}
	if out.ID == "" {
		out.ID = strconv.FormatUint(uint64(f.UID), 10)
	}

	mr, err := mail.CreateReader(bytes.NewReader(f.RFC822))
	if err != nil {
		out.Body = strings.TrimSpace(string(f.RFC822))
		out.Snippet = mailtext.Snippet(out.Body)
		return out, nil
	}
	defer mr.Close()

	out.Subject = mailtext.HeaderText(mr.Header, "Subject")
	out.From = mailtext.HeaderText(mr.Header, "From")
	out.To = mailtext.HeaderText(mr.Header, "To")
	if t, err := mr.Header.Date(); err == nil {
		out.Date = t.UTC()
	}

	var text, markup string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case (contentType == "" || contentType == "text/plain") && text == "":
			text = string(body)
		case contentType == "text/html" && markup == "":
			markup = string(body)
		}
	}

	if text != "" {
		out.Body = strings.TrimSpace(text)
	} else if markup != "" {
		out.Body = mailtext.HTMLToText(markup)
	}
	out.Snippet = mailtext.Snippet(out.Body)
	return out, nil
}
