package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/folio/internal/composer"
	"github.com/conneroisu/folio/internal/dispatch"
	"github.com/conneroisu/folio/internal/engine"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/router"
	"github.com/conneroisu/folio/internal/site"
)

func file(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func testSite() fstest.MapFS {
	return fstest.MapFS{
		"templates/site/header.html":  file(`<html><head><title>{{title}}</title></head><body>`),
		"templates/site/content.html": file(`<main>{% .Content %}</main>`),
		"templates/site/footer.html":  file(`<footer>{{::nav::}}</footer></body></html>`),
		"templates/site/app.css":      file("body{}"),
		"modules/home/module.html":    file(`{% setVar "title" "Home" %}welcome`),
		"modules/about/module.html":   file(`{% setVar "title" "About" %}about {{::ghost::}}`),
		"modules/nav/module.html":     file(`<nav>links</nav>`),
	}
}

func newTestEngine(t *testing.T, loader *site.Loader, debug bool, routes router.Table) *engine.Engine {
	t.Helper()
	if routes == nil {
		routes = router.Table{
			"/":       {Module: "home"},
			"about":   {Module: "about"},
			"broken":  {Module: "ghost"},
			"about/*": {Module: "about"},
		}
	}
	e, err := engine.New(engine.Options{
		Router:   router.NewMatcher(router.Config{Routes: routes}),
		Resolver: dispatch.ChainResolver{loader},
		Loader:   loader,
		Template: composer.Config{Template: "site"},
		Debug:    debug,
	})
	require.NoError(t, err)
	return e
}

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	loader := site.NewLoader(testSite(), site.Layout{Template: "site"})
	opts := Options{
		Engine:      newTestEngine(t, loader, false, nil),
		Assets:      loader,
		Template:    "site",
		HotReload:   true,
		Suggestions: &folioerrors.SuggestionContext{ModulesPath: "modules", KnownModules: []string{"home", "about", "nav"}},
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Options{})
	assert.Equal(t, folioerrors.ErrCodeInvalidConfig, folioerrors.Code(err))
}

func TestServePage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s.Handler(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	body := rec.Body.String()
	assert.Contains(t, body, "<title>Home</title>")
	assert.Contains(t, body, "<main>welcome</main>")
	assert.Contains(t, body, "<nav>links</nav>")

	script := strings.Index(body, WebSocketPath)
	end := strings.LastIndex(body, "</body>")
	require.True(t, script >= 0 && end >= 0)
	assert.Less(t, script, end, "reload script goes inside the body")
}

func TestServePageWithoutHotReload(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.HotReload = false })

	rec := get(t, s.Handler(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>")

	rec = get(t, s.Handler(), WebSocketPath)
	assert.Equal(t, http.StatusNotFound, rec.Code, "the websocket endpoint is not mounted")
}

func TestNotFoundPage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s.Handler(), "/nowhere/at/all")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "404 Not Found")
	assert.Contains(t, rec.Body.String(), "<footer>", "the 404 page keeps the template")
}

func TestModuleErrorPage(t *testing.T) {
	t.Run("production hides details", func(t *testing.T) {
		s := newTestServer(t, nil)

		rec := get(t, s.Handler(), "/broken")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.NotContains(t, rec.Body.String(), "ghost")
	})

	t.Run("debug shows suggestions", func(t *testing.T) {
		loader := site.NewLoader(testSite(), site.Layout{Template: "site"})
		s := newTestServer(t, func(o *Options) {
			o.Engine = newTestEngine(t, loader, true, nil)
		})

		rec := get(t, s.Handler(), "/broken")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "ghost")
		assert.Contains(t, body, "Suggestions")
		assert.Contains(t, body, "modules/ghost/module.html")
	})

	t.Run("debug lists template locations", func(t *testing.T) {
		fsys := testSite()
		fsys["modules/gallery/module.html"] = file(`{% module "card" %}`)
		loader := site.NewLoader(fsys, site.Layout{Template: "site"})
		s := newTestServer(t, func(o *Options) {
			o.Engine = newTestEngine(t, loader, true, router.Table{"gallery": {Module: "gallery"}})
		})

		rec := get(t, s.Handler(), "/gallery")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "Create card.tpl")
		assert.Contains(t, body, "modules/gallery/templates/card.tpl")
	})
}

func TestDiagnosticsOverlay(t *testing.T) {
	loader := site.NewLoader(testSite(), site.Layout{Template: "site"})

	t.Run("debug with overlay", func(t *testing.T) {
		s := newTestServer(t, func(o *Options) {
			o.Engine = newTestEngine(t, loader, true, nil)
			o.ErrorOverlay = true
		})

		rec := get(t, s.Handler(), "/about")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "about ")
		assert.Contains(t, rec.Body.String(), `id="folio-diagnostics"`)
	})

	t.Run("production never shows it", func(t *testing.T) {
		s := newTestServer(t, func(o *Options) { o.ErrorOverlay = true })

		rec := get(t, s.Handler(), "/about")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "folio-diagnostics")
	})
}

func TestServeAssets(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s.Handler(), "/site/app.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")

	tests := []string{
		"/site/header.html",
		"/site/missing.css",
		"/site/../modules/home/module.html",
	}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			rec := get(t, s.Handler(), target)
			assert.NotEqual(t, "body{}", rec.Body.String())
			assert.NotContains(t, rec.Body.String(), `setVar`)
		})
	}
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	var logs bytes.Buffer
	s := newTestServer(t, func(o *Options) {
		o.Logger = logging.NewLogger(&logging.LoggerConfig{
			Level:  logging.LevelDebug,
			Format: "json",
			Output: &logs,
		})
	})

	rec := get(t, s.Handler(), "/missing-module-route")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), line)
		if record["msg"] == "request" {
			assert.NotEmpty(t, record["request_id"])
			return
		}
	}
	t.Fatalf("no request record in %s", logs.String())
}

func TestEscapedPathDecodedOnce(t *testing.T) {
	loader := site.NewLoader(testSite(), site.Layout{Template: "site"})
	s := newTestServer(t, func(o *Options) {
		o.Engine = newTestEngine(t, loader, false, router.Table{"100%25": {Module: "home"}})
	})

	rec := get(t, s.Handler(), "/100%2525")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "welcome")

	rec = get(t, s.Handler(), "/100%25")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(method, "/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s.Handler(), HealthPath)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Count int `json:"count"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 4, health.Checks["routes"].Count)
	assert.Equal(t, 0, health.Checks["clients"].Count)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestServer(t, func(o *Options) {
		o.HTTPMetrics = NewHTTPMetrics(reg, "folio")
		o.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	})

	get(t, s.Handler(), "/")
	get(t, s.Handler(), "/nowhere")

	rec := get(t, s.Handler(), MetricsPath)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `folio_http_requests_total{code="200",method="GET"} 1`)
	assert.Contains(t, body, `folio_http_requests_total{code="404",method="GET"} 1`)
	assert.Contains(t, body, "folio_http_request_duration_seconds")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.AllowedOrigins = []string{"http://localhost:3000"}
	})

	tests := []struct {
		name   string
		origin string
		allow  string
	}{
		{"allowed origin", "http://localhost:3000", "http://localhost:3000"},
		{"foreign origin", "http://evil.example", ""},
		{"no origin", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.allow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSetEngine(t *testing.T) {
	s := newTestServer(t, nil)
	loader := site.NewLoader(testSite(), site.Layout{Template: "site"})

	s.SetEngine(newTestEngine(t, loader, false, router.Table{"/": {Module: "nav"}}))
	rec := get(t, s.Handler(), "/")
	assert.Contains(t, rec.Body.String(), "<main><nav>links</nav></main>")

	s.SetEngine(nil)
	assert.NotNil(t, s.Engine())
}

func TestInjectBeforeBodyEnd(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		snippet string
		want    string
	}{
		{"before body end", "<body>x</body>", "S", "<body>xS</body>"},
		{"case insensitive", "<BODY>x</BODY></html>", "S", "<BODY>xS</BODY></html>"},
		{"last body end wins", "</body><p></body>", "S", "</body><p>S</body>"},
		{"appended without body", "fragment", "S", "fragmentS"},
		{"empty snippet", "<body></body>", "", "<body></body>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(injectBeforeBodyEnd([]byte(tt.page), tt.snippet)))
		})
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, nil)

	for _, origin := range []string{"", "http://evil.example", "file://local", "::bad"} {
		req := httptest.NewRequest(http.MethodGet, WebSocketPath, nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, origin)
	}
}

func TestWebSocketReload(t *testing.T) {
	s := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Hub().Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+WebSocketPath,
		&websocket.DialOptions{HTTPHeader: http.Header{"Origin": {srv.URL}}})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Reload("modules/home/module.html")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageReload, msg.Type)
	assert.Equal(t, "modules/home/module.html", msg.Target)
	assert.False(t, msg.Timestamp.IsZero())

	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	s.Hub().Close()
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-readErr))
	assert.Equal(t, 0, s.Hub().Clients())
}

func TestWebSocketIdleClient(t *testing.T) {
	dial := func(t *testing.T, ctx context.Context, url string) *websocket.Conn {
		t.Helper()
		conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http")+WebSocketPath,
			&websocket.DialOptions{HTTPHeader: http.Header{"Origin": {url}}})
		require.NoError(t, err)
		return conn
	}

	t.Run("answering pings stays connected", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.Hub().pingPeriod = 20 * time.Millisecond
		s.Hub().pongWait = time.Second
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go s.Hub().Run(ctx)

		srv := httptest.NewServer(s.Handler())
		defer srv.Close()

		conn := dial(t, ctx, srv.URL)
		defer conn.Close(websocket.StatusNormalClosure, "")

		msgs := make(chan []byte, 1)
		go func() {
			if _, data, err := conn.Read(ctx); err == nil {
				msgs <- data
			}
		}()

		require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
		time.Sleep(300 * time.Millisecond)
		assert.Equal(t, 1, s.Hub().Clients())

		s.Reload("home")
		select {
		case data := <-msgs:
			assert.Contains(t, string(data), `"target":"home"`)
		case <-time.After(2 * time.Second):
			t.Fatal("idle client missed the reload")
		}
	})

	t.Run("silent peer is dropped", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.Hub().pingPeriod = 20 * time.Millisecond
		s.Hub().pongWait = 200 * time.Millisecond
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go s.Hub().Run(ctx)

		srv := httptest.NewServer(s.Handler())
		defer srv.Close()

		conn := dial(t, ctx, srv.URL)
		defer conn.CloseNow()

		require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestHubBroadcastAfterClose(t *testing.T) {
	h := NewHub(nil)
	h.Close()
	h.Close()

	done := make(chan struct{})
	go func() {
		h.Broadcast(UpdateMessage{Type: MessageReload})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked after close")
	}
}

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + HealthPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.NoError(t, s.Shutdown(context.Background()))
}
