// Package router resolves a request URL to the module that should produce the
// page.
//
// A route table maps patterns to modules. Patterns come in four shapes:
//
//	/            the site root, only tried for an empty URL
//	blog/latest  a literal path
//	blog/*       a literal prefix followed by anything
//	/*           everything
//
// Resolution tries the root, then the bare wildcard, then the URL itself and
// its shorter and shorter prefixes (each with a trailing wildcard). The first
// hit wins, so a literal route always beats a wildcard sharing its prefix and
// a longer prefix always beats a shorter one. URL segments that fall outside
// the matched prefix are appended to the route's params as positional values
// "0", "1", ... in their original order.
//
// Before-hooks run ahead of all of this. The first hook that returns false
// diverts the request to the configured fallback module and the table is
// never consulted.
package router

import (
	"context"
	"sort"
	"strings"
)

// Pattern markers.
const (
	RootPattern     = "/"
	WildcardPattern = "/*"
	wildcardSuffix  = "/*"
	separator       = "/"
)

// NotFoundModule is the module chosen when nothing matches.
const NotFoundModule = "404"

// Route is the target of a route pattern.
type Route struct {
	Module string            `mapstructure:"module" yaml:"module" json:"module"`
	Params map[string]string `mapstructure:"params" yaml:"params,omitempty" json:"params,omitempty"`
}

// Table maps route patterns to routes. It is read-only once built.
type Table map[string]Route

// Patterns returns the table's patterns sorted for display.
func (t Table) Patterns() []string {
	out := make([]string, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Hook is a before-hook. Returning false diverts the request to the
// configured fallback module.
type Hook func(ctx context.Context) bool

// Config is the immutable routing configuration of a site.
type Config struct {
	Routes            Table
	Before            []Hook
	BeforeFalse       string
	BeforeFalseParams map[string]string
}

// Resolved is the outcome of route resolution. Module is never empty.
type Resolved struct {
	Module  string
	Params  Params
	Pattern string
	// Hook is the index of the before-hook that diverted the request, or -1.
	Hook int
}

// NotFound reports whether resolution fell through to the sentinel module.
func (r Resolved) NotFound() bool {
	return r.Pattern == "" && r.Hook < 0
}

// Matcher resolves URLs against one routing configuration. It holds no
// per-request state and is safe for concurrent use.
type Matcher struct {
	config Config
}

// NewMatcher creates a matcher over cfg. The table is copied so later
// changes to the caller's map do not leak into resolution.
func NewMatcher(cfg Config) *Matcher {
	routes := make(Table, len(cfg.Routes))
	for pattern, route := range cfg.Routes {
		routes[pattern] = route
	}
	cfg.Routes = routes
	cfg.Before = append([]Hook(nil), cfg.Before...)
	return &Matcher{config: cfg}
}

// Routes returns the matcher's route table.
func (m *Matcher) Routes() Table {
	return m.config.Routes
}

// Resolve picks the module for url.
func (m *Matcher) Resolve(ctx context.Context, url URL) Resolved {
	resolved := Resolved{Module: NotFoundModule, Hook: -1}

	if i, ok := m.checkBefore(ctx); ok {
		resolved.Hook = i
		if m.config.BeforeFalse != "" {
			resolved.Module = m.config.BeforeFalse
		}
		resolved.Params = ParamsFromMap(m.config.BeforeFalseParams)
		return resolved
	}

	if len(m.config.Routes) == 0 {
		return resolved
	}

	if len(url) == 0 {
		if m.tryRoute(&resolved, RootPattern, nil) {
			return resolved
		}
	}

	if m.tryRoute(&resolved, WildcardPattern, url) {
		return resolved
	}

	for sliceCount := 0; sliceCount < len(url); sliceCount++ {
		prefix := url[:len(url)-sliceCount]
		candidate := strings.Join(prefix, separator)
		if sliceCount > 0 {
			candidate += wildcardSuffix
		}
		if m.tryRoute(&resolved, candidate, url[len(prefix):]) {
			return resolved
		}
	}

	return resolved
}

// checkBefore runs the hooks in order and returns the index of the first one
// that refused the request.
func (m *Matcher) checkBefore(ctx context.Context) (int, bool) {
	for i, hook := range m.config.Before {
		if hook == nil {
			continue
		}
		if !hook(ctx) {
			return i, true
		}
	}
	return -1, false
}

func (m *Matcher) tryRoute(resolved *Resolved, pattern string, extras []string) bool {
	route, ok := m.config.Routes[pattern]
	if !ok || route.Module == "" {
		return false
	}

	resolved.Module = route.Module
	resolved.Pattern = pattern
	resolved.Params = ParamsFromMap(route.Params).appendExtras(extras)
	return true
}

// Resolve is a convenience wrapper for one-off resolution.
func Resolve(ctx context.Context, cfg Config, url URL) Resolved {
	return NewMatcher(cfg).Resolve(ctx, url)
}
