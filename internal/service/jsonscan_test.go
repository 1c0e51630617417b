package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObjects(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain", `{"a":1}`, []string{`{"a":1}`}},
		{"prose around", `Here you go: {"a":1} hope it helps`, []string{`{"a":1}`}},
		{"nested", `{"a":{"b":[1,2]}}`, []string{`{"a":{"b":[1,2]}}`}},
		{"braces in strings", `{"a":"}{"} {"b":2}`, []string{`{"a":"}{"}`, `{"b":2}`}},
		{"escaped quote", `{"a":"say \"}\""}`, []string{`{"a":"say \"}\""}`}},
		{"malformed skipped", `{a:1} {"b":2}`, []string{`{"b":2}`}},
		{"think block", `<think>{"x":1}</think>{"y":2}`, []string{`{"y":2}`}},
		{"unterminated", `{"a":1`, nil},
		{"none", `no objects here`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, obj := range ExtractJSONObjects(tt.text) {
				got = append(got, string(obj))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstJSONObject(t *testing.T) {
	var v struct {
		Steps []string `json:"steps"`
	}
	err := FirstJSONObject(`{"steps": 3} {"steps": ["a"]}`, &v)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a"}, v.Steps)

	err = FirstJSONObject("nothing", &v)
	assert.True(t, errors.Is(err, ErrMalformedOutput))
}
