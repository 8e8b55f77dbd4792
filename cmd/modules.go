package cmd

import (
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/folio/internal/app"
	"github.com/conneroisu/folio/internal/config"
)

var modulesCmd = &cobra.Command{
	Use:     "modules",
	Aliases: []string{"l", "list"},
	Short:   "List the modules the site can run",
	Long: `List every module the site can resolve together with the routes that
select it.

Examples:
  folio modules             # Table of modules
  folio modules -o json     # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runModules,
}

var modulesFlags *StandardFlags

func init() {
	rootCmd.AddCommand(modulesCmd)

	modulesFlags = AddStandardFlags(modulesCmd, "output")
}

// ModuleInfo describes one module of the site.
type ModuleInfo struct {
	Name   string   `json:"name" yaml:"name"`
	Source string   `json:"source" yaml:"source"`
	Routes []string `json:"routes,omitempty" yaml:"routes,omitempty"`
}

func runModules(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return writeModules(cmd.OutOrStdout(), modulesFlags.OutputFormat, collectModules(a))
}

// collectModules lists the site's modules. Routes naming a module that does
// not exist are reported with the source "missing".
func collectModules(a *app.App) []ModuleInfo {
	byName := map[string]*ModuleInfo{}
	for _, name := range a.KnownModules() {
		source := "file"
		if _, ok := a.Modules.Get(name); ok {
			source = "code"
		}
		byName[name] = &ModuleInfo{Name: name, Source: source}
	}

	for _, e := range config.Entries(a.Engine().Routes()) {
		if e.Module == "" {
			continue
		}
		info, ok := byName[e.Module]
		if !ok {
			info = &ModuleInfo{Name: e.Module, Source: "missing"}
			byName[e.Module] = info
		}
		info.Routes = append(info.Routes, e.Pattern)
	}

	modules := make([]ModuleInfo, 0, len(byName))
	for _, info := range byName {
		modules = append(modules, *info)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules
}

func writeModules(w io.Writer, format string, modules []ModuleInfo) error {
	return writeFormatted(w, format, modules, func() error {
		rows := make([][]string, 0, len(modules))
		for _, m := range modules {
			rows = append(rows, []string{m.Name, m.Source, strings.Join(m.Routes, " ")})
		}
		return writeTable(w, []string{"NAME", "SOURCE", "ROUTES"}, rows)
	})
}
