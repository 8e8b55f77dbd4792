package composer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func bodies(spans []span) []string {
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.body)
	}
	return out
}

func TestScanModuleTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "none", text: "plain {{var}} text", want: []string{}},
		{name: "single", text: "a{{::menu::}}b", want: []string{"menu"}},
		{name: "params", text: "{{::card::title=Hi::size=s::}}", want: []string{"card::title=Hi::size=s"}},
		{name: "non-greedy", text: "{{::a::}} and {{::b::}}", want: []string{"a", "b"}},
		{name: "adjacent", text: "{{::a::}}{{::b::}}", want: []string{"a", "b"}},
		{name: "unterminated", text: "{{::a:: never closed", want: []string{}},
		{name: "newline abandons", text: "{{::a\n::}} {{::b::}}", want: []string{"b"}},
		{name: "extra colon", text: "{{::a:::}}", want: []string{"a:"}},
		{name: "empty", text: "{{::::}}", want: []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bodies(scanTokens(tt.text, moduleOpen, moduleClose)))
		})
	}
}

func TestScanVariableTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "single", text: "Hello {{name}}!", want: []string{"name"}},
		{name: "first close wins", text: "{{a}}}}", want: []string{"a"}},
		{name: "spaces kept", text: "{{ name }}", want: []string{" name "}},
		{name: "empty", text: "{{}}", want: []string{""}},
		{name: "newline", text: "{{na\nme}} {{ok}}", want: []string{"ok"}},
		{name: "nested open", text: "{{{{x}}", want: []string{"{{x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bodies(scanTokens(tt.text, varOpen, varClose)))
		})
	}
}

func TestScanLargeMalformedInput(t *testing.T) {
	text := strings.Repeat("{{::", 10000) + strings.Repeat("\n::}}", 10000)
	assert.Empty(t, scanTokens(text, moduleOpen, moduleClose))
}

func TestReplaceTokens(t *testing.T) {
	text := "a{{x}}b{{y}}c"
	spans := scanTokens(text, varOpen, varClose)

	out := replaceTokens(text, spans, func(s span) (string, bool) {
		if s.body == "x" {
			return "X", true
		}
		return "", false
	})
	assert.Equal(t, "aXb{{y}}c", out)
	assert.Equal(t, "same", replaceTokens("same", nil, nil))
}

func TestParseModuleToken(t *testing.T) {
	call, ok := parseModuleToken("card::title=Hi::flag::a=b=c::=empty")
	assert.True(t, ok)
	assert.Equal(t, "card", call.name)
	assert.Equal(t, [][2]string{{"title", "Hi"}, {"", "empty"}}, call.params)

	_, ok = parseModuleToken("::x=1")
	assert.False(t, ok)
}
