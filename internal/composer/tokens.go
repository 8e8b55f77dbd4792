package composer

import (
	"strings"
)

// Token delimiters. Module tokens are {{::name::k=v::}}, variable tokens are
// {{name}}. Neither kind spans a line break.
const (
	moduleOpen  = "{{::"
	moduleClose = "::}}"
	varOpen     = "{{"
	varClose    = "}}"
	paramSep    = "::"
)

// span is one token occurrence: text[start:end] is the whole token and body
// the text between its delimiters.
type span struct {
	start, end int
	body       string
}

// scanTokens returns the tokens of text delimited by openDelim and closeDelim,
// left to right and non-overlapping. Each token ends at the first closing
// delimiter after its opening one. A candidate whose body would cross a
// newline is abandoned; no token can start before that newline, so the scan
// resumes after it.
func scanTokens(text, openDelim, closeDelim string) []span {
	var spans []span
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], openDelim)
		if i < 0 {
			break
		}
		start := pos + i
		bodyStart := start + len(openDelim)

		j := strings.Index(text[bodyStart:], closeDelim)
		if j < 0 {
			break
		}
		body := text[bodyStart : bodyStart+j]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			pos = bodyStart + nl + 1
			continue
		}

		end := bodyStart + j + len(closeDelim)
		spans = append(spans, span{start: start, end: end, body: body})
		pos = end
	}
	return spans
}

// replaceTokens rebuilds text with every span replaced by the string fn
// returns for it. A false second result keeps the original token text.
// Replacements are never rescanned.
func replaceTokens(text string, spans []span, fn func(span) (string, bool)) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.start])
		if repl, ok := fn(s); ok {
			b.WriteString(repl)
		} else {
			b.WriteString(text[s.start:s.end])
		}
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String()
}

// moduleCall is a parsed module token.
type moduleCall struct {
	name   string
	params [][2]string
}

// parseModuleToken splits a module token body into the module name and its
// params. Entries that do not contain exactly one "=" are ignored. An empty
// name means the token is not a module call.
func parseModuleToken(body string) (moduleCall, bool) {
	parts := strings.Split(body, paramSep)
	if parts[0] == "" {
		return moduleCall{}, false
	}
	call := moduleCall{name: parts[0]}
	for _, part := range parts[1:] {
		kv := strings.Split(part, "=")
		if len(kv) != 2 {
			continue
		}
		call.params = append(call.params, [2]string{kv[0], kv[1]})
	}
	return call, true
}
