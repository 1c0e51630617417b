// Package mailtext holds the text helpers shared by the mailbox adapters.
package mailtext

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// SnippetChars is the length of the single-line preview of a body.
const SnippetChars = 200

var whitespace = regexp.MustCompile(`\s+`)

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "table": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "blockquote": true,
}

// HTMLToText drops markup, keeping paragraph breaks.
func HTMLToText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("head, script, style, noscript").Remove()

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteString("\n\n")
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return tidyLines(strings.ReplaceAll(b.String(), "\u00a0", " "))
}

// tidyLines trims every line and keeps at most one blank line in a row.
func tidyLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Snippet collapses whitespace and cuts body to SnippetChars runes.
func Snippet(body string) string {
	s := strings.TrimSpace(whitespace.ReplaceAllString(body, " "))
	r := []rune(s)
	if len(r) > SnippetChars {
		return string(r[:SnippetChars])
	}
	return s
}

// HeaderText decodes RFC 2047 encoded words such as =?UTF-8?B?...?=.
func HeaderText(h mail.Header, key string) string {
	if text, err := h.Text(key); err == nil {
		return text
	}
	return h.Get(key)
}

// Compose builds a plain text RFC 822 message.
func Compose(from, to, subject, body string, date time.Time) ([]byte, error) {
	toList, err := mail.ParseAddressList(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", toList)
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
