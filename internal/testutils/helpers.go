// Package testutils holds site fixtures shared by package tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/folio/internal/composer"
	"github.com/conneroisu/folio/internal/config"
	"github.com/conneroisu/folio/internal/dispatch"
)

// TemplateName is the template used by StandardSite.
const TemplateName = "site"

// StandardSite is a small site: a template with the three parts and a
// stylesheet, and home, docs and nav modules. The home module sets the
// title, docs echoes its first extra and nav is embedded by the footer.
var StandardSite = map[string]string{
	"templates/site/header.html":  `<title>{{title}}</title>`,
	"templates/site/content.html": `<main>{% .Content %}</main>`,
	"templates/site/footer.html":  `<footer/>`,
	"templates/site/app.css":      `body{}`,
	"modules/home/module.html":    `{% setVar "title" "Home" %}home`,
	"modules/docs/module.html":    `docs {% param "0" %}`,
	"modules/closed/module.html":  `closed for maintenance`,
}

// StandardPage is what StandardSite renders for "/".
const StandardPage = "<title>Home</title><main>home</main><footer/>"

// WriteSiteFiles writes files, keyed by slash-separated path, below root.
func WriteSiteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

// CreateTempSite writes files into a fresh temporary directory and returns
// it.
func CreateTempSite(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	WriteSiteFiles(t, root, files)
	return root
}

// MapFS builds an in-memory site from files.
func MapFS(files map[string]string) fstest.MapFS {
	fsys := make(fstest.MapFS, len(files))
	for name, body := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

// CreateTestConfig returns a valid configuration for the site at root
// using StandardSite's template and routing "/" to home and "docs/*" to
// docs.
func CreateTestConfig(root string) *config.Config {
	return &config.Config{
		Site: config.SiteConfig{
			Root:         root,
			ModulesDir:   "modules",
			TemplatesDir: "templates",
		},
		Template: composer.Config{Template: TemplateName},
		Router: config.RouterConfig{Routes: []config.RouteEntry{
			{Pattern: "/", Module: "home"},
			{Pattern: "docs/*", Module: "docs"},
		}},
		Dispatch:    config.DispatchConfig{MaxDepth: dispatch.DefaultMaxDepth},
		Server:      config.ServerConfig{Host: "localhost", Port: 8080, Metrics: true},
		Development: config.DevelopmentConfig{HotReload: true},
		Publish:     config.PublishConfig{Output: "public"},
		Log:         config.LogConfig{Level: "info", Format: "text"},
	}
}
