package service

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSONObjects scans text for top-level brace-delimited JSON objects
// and returns the ones that parse, in order. Reasoning wrapped in
// <think>...</think> is ignored.
func ExtractJSONObjects(text string) []json.RawMessage {
	text = thinkBlock.ReplaceAllString(text, "")

	var objs []json.RawMessage
	for i := 0; i < len(text); {
		start := indexByteFrom(text, '{', i)
		if start < 0 {
			break
		}
		end := matchingBrace(text, start)
		if end < 0 {
			break
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			objs = append(objs, json.RawMessage(candidate))
		}
		i = end + 1
	}
	return objs
}

// FirstJSONObject decodes the first object in text that unmarshals into v.
func FirstJSONObject(text string, v interface{}) error {
	var lastErr error
	for _, obj := range ExtractJSONObjects(text) {
		if err := json.Unmarshal(obj, v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, lastErr)
	}
	return ErrMalformedOutput
}

func indexByteFrom(s string, c byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// matchingBrace returns the index of the brace closing the one at start,
// skipping braces inside string literals, or -1 if it never closes.
func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for j := start; j < len(s); j++ {
		ch := s[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}
