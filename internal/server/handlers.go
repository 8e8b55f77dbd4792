package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/version"
)

// handleRequest serves a template asset when the path names one and a page
// otherwise.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.serveAsset(w, r) {
		return
	}
	s.handlePage(w, r)
}

// serveAsset serves /<template>/<ref> from the template directory.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Assets == nil || s.opts.Template == "" {
		return false
	}
	prefix := "/" + s.opts.Template + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		return false
	}

	p, ok := s.opts.Assets.AssetPath(strings.TrimPrefix(r.URL.Path, prefix))
	if !ok || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".tpl") {
		return false
	}
	fsys := s.opts.Assets.FS()
	f, err := fsys.Open(p)
	if err != nil {
		return false
	}
	info, err := f.Stat()
	f.Close()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	if s.Engine().Debug() {
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeFileFS(w, r, fsys, p)
	return true
}

// handlePage renders the page for the request path.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eng := s.Engine()

	var buf bytes.Buffer
	req, err := eng.NewRequest(ctx, &buf, r.URL.EscapedPath(), r.URL.Query())
	if err == nil {
		defer func() {
			if cerr := req.Close(ctx); cerr != nil {
				s.requestLog(r).Warn(ctx, cerr, "closing request instances", "path", r.URL.Path)
			}
		}()
		err = req.Run(ctx)
	}
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	page := buf.Bytes()
	if eng.Debug() && s.opts.ErrorOverlay {
		page = injectBeforeBodyEnd(page, req.Diagnostics.Overlay())
	}
	if s.opts.HotReload {
		page = injectBeforeBodyEnd(page, reloadScript)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(req.Status())
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(page); err != nil {
		s.requestLog(r).Debug(ctx, "writing page", "path", r.URL.Path, "error", err.Error())
	}
}

// renderError answers a failed page. Details and suggestions are only shown
// in debug mode.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := folioerrors.HTTPStatus(err)
	s.requestLog(r).Error(r.Context(), err, "page failed", "path", r.URL.Path, "status", status)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	var body strings.Builder
	body.WriteString("<!DOCTYPE html>\n<html>\n<head><title>")
	fmt.Fprintf(&body, "%d %s", status, http.StatusText(status))
	body.WriteString("</title></head>\n<body>\n")
	fmt.Fprintf(&body, "<h1>%d %s</h1>\n", status, http.StatusText(status))

	if s.Engine().Debug() {
		fmt.Fprintf(&body, "<pre>%s</pre>\n", html.EscapeString(err.Error()))
		writeSuggestions(&body, s.suggestionsFor(err))
	}
	if s.opts.HotReload {
		body.WriteString(reloadScript)
	}
	body.WriteString("\n</body>\n</html>\n")

	_, _ = w.Write([]byte(body.String()))
}

func (s *Server) suggestionsFor(err error) []folioerrors.ErrorSuggestion {
	var fe *folioerrors.FolioError
	for _, e := range folioerrors.GetErrorChain(err) {
		if !errors.As(e, &fe) {
			continue
		}
		switch fe.Code {
		case folioerrors.ErrCodeModuleNotFound:
			return folioerrors.ModuleNotFoundSuggestions(fe.Module, s.opts.Suggestions)
		case folioerrors.ErrCodeTemplateNotFound:
			locations, ok := fe.Context["locations"].([]string)
			if !ok {
				continue
			}
			name, _ := fe.Context["template"].(string)
			return folioerrors.TemplateNotFoundSuggestions(fe.Module, name, locations)
		}
	}
	return nil
}

func writeSuggestions(b *strings.Builder, suggestions []folioerrors.ErrorSuggestion) {
	if len(suggestions) == 0 {
		return
	}
	b.WriteString("<h2>Suggestions</h2>\n<ul>\n")
	for _, sg := range suggestions {
		fmt.Fprintf(b, "<li><strong>%s</strong>", html.EscapeString(sg.Title))
		if sg.Description != "" {
			fmt.Fprintf(b, ": %s", html.EscapeString(sg.Description))
		}
		if sg.Command != "" {
			fmt.Fprintf(b, " <code>%s</code>", html.EscapeString(sg.Command))
		}
		if sg.Example != "" {
			fmt.Fprintf(b, " <code>%s</code>", html.EscapeString(sg.Example))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n")
}

// injectBeforeBodyEnd inserts snippet before the last </body>, or appends it
// when the page has none.
func injectBeforeBodyEnd(page []byte, snippet string) []byte {
	if snippet == "" {
		return page
	}
	i := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if i < 0 {
		return append(page, snippet...)
	}
	out := make([]byte, 0, len(page)+len(snippet))
	out = append(out, page[:i]...)
	out = append(out, snippet...)
	return append(out, page[i:]...)
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    version.GetShortVersion(),
		"build_info": version.GetBuildInfo(),
		"checks": map[string]interface{}{
			"routes":  map[string]interface{}{"status": "healthy", "count": len(s.Engine().Routes())},
			"clients": map[string]interface{}{"status": "healthy", "count": s.hub.Clients()},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "encode health response")
	}
}
