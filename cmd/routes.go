package cmd

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/folio/internal/app"
	"github.com/conneroisu/folio/internal/config"
	"github.com/conneroisu/folio/internal/router"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the route table",
	Long: `Show the route table after merging the routes file with the inline routes.

Examples:
  folio routes                 # Table of pattern, module and params
  folio routes -o yaml         # Same as YAML
  folio routes match /blog/x   # Show how a path resolves`,
	Args: cobra.NoArgs,
	RunE: runRoutes,
}

var routesMatchCmd = &cobra.Command{
	Use:   "match <path>",
	Short: "Show how a path resolves",
	Long: `Resolve a path against the route table and the configured before-hooks
and print the module that would run, the matched pattern and its params.`,
	Args: cobra.ExactArgs(1),
	RunE: runRoutesMatch,
}

var (
	routesFlags *StandardFlags
	matchFlags  *StandardFlags
)

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.AddCommand(routesMatchCmd)

	routesFlags = AddStandardFlags(routesCmd, "output")
	matchFlags = AddStandardFlags(routesMatchCmd, "output", "request")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := cfg.RouteTable()
	if err != nil {
		return err
	}
	return writeRoutes(cmd.OutOrStdout(), routesFlags.OutputFormat, table)
}

func writeRoutes(w io.Writer, format string, table router.Table) error {
	entries := config.Entries(table)
	return writeFormatted(w, format, entries, func() error {
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Pattern, e.Module, formatParams(e.Params)})
		}
		return writeTable(w, []string{"PATTERN", "MODULE", "PARAMS"}, rows)
	})
}

// Match is the resolution of one path.
type Match struct {
	Path     string            `json:"path" yaml:"path"`
	Module   string            `json:"module" yaml:"module"`
	Pattern  string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Extras   []string          `json:"extras,omitempty" yaml:"extras,omitempty"`
	Hook     int               `json:"hook" yaml:"hook"`
	Status   int               `json:"status" yaml:"status"`
	NotFound bool              `json:"not_found,omitempty" yaml:"not_found,omitempty"`
}

func runRoutesMatch(cmd *cobra.Command, args []string) error {
	query, err := matchFlags.ParseQuery()
	if err != nil {
		return err
	}
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := matchPath(cmd.Context(), a, args[0], query)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	return writeFormatted(w, matchFlags.OutputFormat, m, func() error {
		return writeTable(w, []string{"PATH", "MODULE", "PATTERN", "PARAMS", "STATUS"}, [][]string{{
			m.Path, m.Module, m.Pattern, formatParams(m.Params), strconv.Itoa(m.Status),
		}})
	})
}

// matchPath resolves rawPath without running its module.
func matchPath(ctx context.Context, a *app.App, rawPath string, query map[string][]string) (*Match, error) {
	req, err := a.Engine().NewRequest(ctx, io.Discard, rawPath, query)
	if err != nil {
		return nil, err
	}
	defer req.Close(ctx)

	route := req.Route
	return &Match{
		Path:     req.FullPath(),
		Module:   route.Module,
		Pattern:  route.Pattern,
		Params:   route.Params.Map(),
		Extras:   route.Params.Extras(),
		Hook:     route.Hook,
		Status:   req.Status(),
		NotFound: route.NotFound(),
	}, nil
}

func formatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, " ")
}
