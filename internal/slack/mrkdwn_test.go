package slack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToMrkdwn(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain text", "hello world", "hello world"},
		{"bold stars", "this is **bold** text", "this is *bold* text"},
		{"bold underscores", "this is __bold__ text", "this is *bold* text"},
		{"italic unchanged", "this is _italic_ text", "this is _italic_ text"},
		{"underscores in words", "some_var_name", "some_var_name"},
		{"strikethrough", "this is ~~deleted~~ text", "this is ~deleted~ text"},
		{"inline code", "use `println` here", "use `println` here"},
		{"link", "[click here](https://example.com)", "<https://example.com|click here>"},
		{"header", "# Hello", "*Hello*"},
		{"deep header", "### Sub heading", "*Sub heading*"},
		{"escaping", "a < b & c > d", "a &lt; b &amp; c &gt; d"},
		{"bullets", "- one\n- two", "• one\n• two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMrkdwn(tt.in))
		})
	}
}

func TestToMrkdwnCodeBlockPreserved(t *testing.T) {
	in := "```go\nfunc main() {\n\tprintln(\"a < b\")\n}\n```"
	out := ToMrkdwn(in)
	assert.True(t, strings.HasPrefix(out, "```"))
	assert.True(t, strings.HasSuffix(out, "```"))
	assert.Contains(t, out, "func main()")
	// Code content is not escaped.
	assert.Contains(t, out, "a < b")
}

func TestToMrkdwnInlineCodeNotEscaped(t *testing.T) {
	out := ToMrkdwn("compare `a < b` here")
	assert.Equal(t, "compare `a < b` here", out)
}

func TestToMrkdwnTableBecomesCodeBlock(t *testing.T) {
	in := "| Name | Age |\n|------|-----|\n| Ann  | 30  |\n"
	out := ToMrkdwn(in)
	assert.True(t, strings.HasPrefix(out, "```"))
	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "Ann")
	assert.NotContains(t, out, "|")
}
