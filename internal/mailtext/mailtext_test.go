package mailtext

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLToText(t *testing.T) {
	in := "<html><style>p{}</style><p>Hello&nbsp;there</p><p>Second <b>line</b></p><script>x()</script></html>"
	assert.Equal(t, "Hello there\n\nSecond line", HTMLToText(in))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", Snippet("  a\n\tb   c "))
	assert.Len(t, []rune(Snippet(strings.Repeat("ü", 300))), SnippetChars)
}

func TestCompose(t *testing.T) {
	raw, err := Compose("me@example.com", "Bob <bob@example.com>", "Re: Lunch", "See you at noon.", time.Now())
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, "Subject: Re: Lunch")
	assert.Contains(t, s, "bob@example.com")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(s), "See you at noon."))

	_, err = Compose("me@example.com", "not an address", "x", "y", time.Now())
	assert.Error(t, err)
}
