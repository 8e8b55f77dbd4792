package errors

import (
	"sort"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// SuggestionContext provides context for generating suggestions
type SuggestionContext struct {
	KnownModules []string
	ModulesPath  string
	ConfigPath   string
}

// ModuleNotFoundSuggestions generates suggestions for an unresolvable module.
func ModuleNotFoundSuggestions(module string, ctx *SuggestionContext) []ErrorSuggestion {
	if ctx == nil {
		ctx = &SuggestionContext{}
	}

	suggestions := []ErrorSuggestion{
		{
			Title:       "Check the module directory exists",
			Description: "File modules live in their own directory under the modules path",
			Example:     ctx.ModulesPath + "/" + module + "/module.html",
		},
		{
			Title:       "List the routes",
			Description: "See which modules the route table points at",
			Command:     "folio routes",
		},
	}

	if similar := similarModules(module, ctx.KnownModules); len(similar) > 0 {
		for _, name := range similar {
			suggestions = append(suggestions, ErrorSuggestion{
				Title:       "Did you mean '" + name + "'?",
				Description: "Similar module found",
				Command:     "folio render /" + name,
			})
		}
	} else if len(ctx.KnownModules) > 0 {
		known := append([]string(nil), ctx.KnownModules...)
		sort.Strings(known)
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Available modules",
			Description: "These modules are currently available: " + strings.Join(known, ", "),
		})
	}

	return suggestions
}

// TemplateNotFoundSuggestions lists where a module template is looked up.
func TemplateNotFoundSuggestions(module, template string, locations []string) []ErrorSuggestion {
	suggestions := make([]ErrorSuggestion, 0, len(locations))
	for _, loc := range locations {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Create " + template + ".tpl",
			Description: "Searched for module " + module,
			Example:     loc,
		})
	}
	return suggestions
}

// similarModules returns known names that contain, are contained in, or are
// within two edits of name.
func similarModules(name string, known []string) []string {
	lower := strings.ToLower(name)
	var out []string
	for _, k := range known {
		kl := strings.ToLower(k)
		if kl == lower {
			continue
		}
		if strings.Contains(kl, lower) || strings.Contains(lower, kl) || editDistance(kl, lower) <= 2 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
