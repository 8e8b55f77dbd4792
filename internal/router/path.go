package router

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// URL is a request path split into its non-empty segments.
type URL []string

// String joins the segments back into a slash-delimited path without
// surrounding slashes.
func (u URL) String() string {
	return strings.Join(u, separator)
}

// ParseURL turns a raw request path into a URL. The base URL prefix is removed
// once, dot segments are cleaned, empty segments are dropped and each segment
// is normalized to NFC so visually identical paths resolve identically.
func ParseURL(raw, baseURL string) URL {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}

	raw = path.Clean("/" + raw)

	base := strings.Trim(baseURL, separator)
	if base != "" {
		trimmed := strings.TrimPrefix(raw, "/"+base)
		if trimmed == "" || strings.HasPrefix(trimmed, separator) {
			raw = trimmed
		}
	}

	var out URL
	for _, segment := range strings.Split(raw, separator) {
		if segment == "" {
			continue
		}
		out = append(out, norm.NFC.String(segment))
	}
	return out
}

// BuildFullPath renders url and query as a canonical site path: "/" for the
// root, "/a/b/" otherwise, followed by the encoded query. The "path" query
// key is reserved for rewritten requests and is never echoed back.
func BuildFullPath(u URL, query url.Values) string {
	var b strings.Builder
	b.WriteString(separator)
	for _, segment := range u {
		if segment == "" {
			continue
		}
		b.WriteString(url.PathEscape(segment))
		b.WriteString(separator)
	}

	if len(query) > 0 {
		q := make(url.Values, len(query))
		for k, v := range query {
			if k == "path" {
				continue
			}
			q[k] = v
		}
		if encoded := q.Encode(); encoded != "" {
			b.WriteString("?")
			b.WriteString(encoded)
		}
	}
	return b.String()
}

// LiteralPaths returns the URLs of every route that can be reached without
// wildcard input: the root and literal patterns. Routes with an empty module
// are skipped. Results are sorted.
func LiteralPaths(table Table) []URL {
	var keys []string
	for pattern, route := range table {
		if route.Module == "" {
			continue
		}
		if pattern == WildcardPattern || strings.HasSuffix(pattern, wildcardSuffix) {
			continue
		}
		keys = append(keys, pattern)
	}
	sort.Strings(keys)

	out := make([]URL, 0, len(keys))
	for _, key := range keys {
		if key == RootPattern {
			out = append(out, URL{})
			continue
		}
		out = append(out, ParseURL(key, ""))
	}
	return out
}
