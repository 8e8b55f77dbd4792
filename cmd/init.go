package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init [directory]",
	Aliases: []string{"i"},
	Short:   "Create a new folio site",
	Long: `Create a site skeleton: a .folio.yml configuration, a template with header,
content and footer parts and a stylesheet, and a few example modules.
Existing files are left alone unless --force is given.

Examples:
  folio init              # Initialize in current directory
  folio init mysite       # Create mysite/ and initialize it
  folio init --force      # Restore the skeleton over local edits`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

const siteConfig = `site:
  root: .
  modules_dir: modules
  templates_dir: templates
template:
  name: default
  vars:
    site_name: My Site
  head:
    css:
      main: style.css
router:
  routes:
    - pattern: /
      module: home
    - pattern: about
      module: about
server:
  host: localhost
  port: 8080
development:
  hot_reload: true
  error_overlay: true
publish:
  output: public
log:
  level: info
  format: text
`

var templateFiles = map[string]string{
	"templates/default/header.html": `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{title}} | {{site_name}}</title>
{% head %}</head>
<body>
{{::nav::}}
`,
	"templates/default/content.html": `<main>
{% .Content %}
</main>
`,
	"templates/default/footer.html": `<footer>{{site_name}}</footer>
</body>
</html>
`,
	"templates/default/style.css": `body { font-family: sans-serif; margin: 0 auto; max-width: 48rem; }
nav a { margin-right: 1rem; }
`,
}

var moduleFiles = map[string]string{
	"modules/home/module.html": `{% setVar "title" "Home" %}<h1>Welcome</h1>
<p>Edit modules/home/module.html to change this page.</p>
`,
	"modules/about/module.html": `{% setVar "title" "About" %}<h1>About</h1>
{{::card::heading=Folio::}}
`,
	"modules/nav/module.html": `<nav><a href="/">Home</a><a href="/about/">About</a></nav>
`,
	"modules/card/module.html": `<section><h2>{% param "heading" %}</h2></section>
`,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	created, err := scaffoldSite(dir, initForce)
	if err != nil {
		return err
	}
	writeInitSummary(cmd.OutOrStdout(), dir, created)
	return nil
}

// scaffoldSite writes the skeleton into dir and returns the files it
// created, sorted.
func scaffoldSite(dir string, force bool) ([]string, error) {
	files := map[string]string{".folio.yml": siteConfig}
	for name, body := range templateFiles {
		files[name] = body
	}
	for name, body := range moduleFiles {
		files[name] = body
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var created []string
	for _, name := range names {
		target := filepath.Join(dir, filepath.FromSlash(name))
		if !force {
			if _, err := os.Stat(target); err == nil {
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return created, fmt.Errorf("checking %s: %w", target, err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return created, fmt.Errorf("creating directory for %s: %w", name, err)
		}
		if err := atomic.WriteFile(target, strings.NewReader(files[name])); err != nil {
			return created, fmt.Errorf("writing %s: %w", name, err)
		}
		created = append(created, name)
	}
	return created, nil
}

func writeInitSummary(w io.Writer, dir string, created []string) {
	if len(created) == 0 {
		fmt.Fprintf(w, "Nothing to do: the site in %s already exists\n", dir)
		return
	}
	for _, name := range created {
		fmt.Fprintf(w, "  created %s\n", name)
	}
	fmt.Fprintf(w, "\nNext steps:\n")
	step := 1
	if dir != "." {
		fmt.Fprintf(w, "  %d. cd %s\n", step, dir)
		step++
	}
	fmt.Fprintf(w, "  %d. folio serve\n", step)
	fmt.Fprintf(w, "  %d. Open http://localhost:8080 in your browser\n", step+1)
}
