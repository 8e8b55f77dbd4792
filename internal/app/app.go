// Package app assembles a folio site from its configuration: the hook set
// and route table feed the matcher, the site loader provides parts, module
// templates and file modules, and the resulting engine is shared by the
// development server, the watcher and the publisher.
package app

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/folio/internal/config"
	"github.com/conneroisu/folio/internal/di"
	"github.com/conneroisu/folio/internal/dispatch"
	"github.com/conneroisu/folio/internal/engine"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/publish"
	"github.com/conneroisu/folio/internal/router"
	"github.com/conneroisu/folio/internal/server"
	"github.com/conneroisu/folio/internal/site"
	"github.com/conneroisu/folio/internal/watcher"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "folio"

// DebounceDelay groups file changes before the site reloads.
const DebounceDelay = 100 * time.Millisecond

// App is a configured folio site.
type App struct {
	Config  *config.Config
	Logger  logging.Logger
	Loader  *site.Loader
	Modules *dispatch.Registry
	Hooks   *Hooks
	Metrics *prometheus.Registry

	fsys            fs.FS
	tracing         trace.TracerProvider
	dispatchMetrics *dispatch.Metrics
	httpMetrics     *server.HTTPMetrics
	closers         []io.Closer

	mu     sync.RWMutex
	engine *engine.Engine
}

// Option customizes New.
type Option func(*App)

// WithLogger replaces the logger built from the log configuration.
func WithLogger(logger logging.Logger) Option {
	return func(a *App) { a.Logger = logger }
}

// WithModules registers code modules. They take precedence over file
// modules of the same name.
func WithModules(reg *dispatch.Registry) Option {
	return func(a *App) { a.Modules = reg }
}

// WithHooks replaces the built-in hook set.
func WithHooks(h *Hooks) Option {
	return func(a *App) { a.Hooks = h }
}

// WithFS reads the site from fsys instead of the site root on disk.
func WithFS(fsys fs.FS) Option {
	return func(a *App) { a.fsys = fsys }
}

// WithTracerProvider records module spans with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) { a.tracing = tp }
}

// New builds the site described by cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, folioerrors.ConfigurationError("config", "configuration is required", nil)
	}

	a := &App{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		logger, closer, err := NewLogger(cfg.Log, os.Stderr)
		if err != nil {
			return nil, err
		}
		a.Logger = logger
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	layout := site.Layout{
		ModulesDir:   cfg.Site.ModulesDir,
		TemplatesDir: cfg.Site.TemplatesDir,
		Template:     cfg.Template.Template,
	}
	if a.fsys != nil {
		a.Loader = site.NewLoader(a.fsys, layout)
	} else {
		a.Loader = site.Open(cfg.SitePath(), layout)
	}

	if a.Modules == nil {
		a.Modules = dispatch.NewRegistry()
	}
	if a.Hooks == nil {
		a.Hooks = DefaultHooks(cfg.SitePath())
	}

	a.Metrics = prometheus.NewRegistry()
	a.dispatchMetrics = dispatch.NewMetrics(a.Metrics, MetricsNamespace)
	a.httpMetrics = server.NewHTTPMetrics(a.Metrics, MetricsNamespace)

	e, err := a.BuildEngine()
	if err != nil {
		return nil, err
	}
	a.engine = e
	return a, nil
}

// NewLogger builds the logger described by cfg writing to out. With a log
// directory the records are also appended to a daily JSON file; the returned
// closer closes it.
func NewLogger(cfg config.LogConfig, out io.Writer) (logging.Logger, io.Closer, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, folioerrors.ConfigurationError("log.level", err.Error(), cfg.Level)
	}
	loggerConfig := &logging.LoggerConfig{
		Level:      level,
		Format:     cfg.Format,
		Output:     out,
		TimeFormat: time.RFC3339,
	}
	console := logging.NewLogger(loggerConfig)
	if cfg.Dir == "" {
		return console, nil, nil
	}

	fileLogger, err := logging.NewFileLogger(loggerConfig, cfg.Dir)
	if err != nil {
		return nil, nil, folioerrors.FileOperationError("open log file", cfg.Dir, err)
	}
	return logging.NewMultiLogger(console, fileLogger), fileLogger, nil
}

// BuildEngine creates an engine from the current configuration and files.
func (a *App) BuildEngine() (*engine.Engine, error) {
	cfg := a.Config

	table, err := cfg.RouteTable()
	if err != nil {
		return nil, err
	}
	hooks, err := a.Hooks.Lookup(cfg.Router.Before)
	if err != nil {
		return nil, err
	}

	matcher := router.NewMatcher(router.Config{
		Routes:            table,
		Before:            hooks,
		BeforeFalse:       cfg.Router.BeforeFalse,
		BeforeFalseParams: cfg.Router.BeforeFalseParams,
	})

	instances := di.NewContainer()
	instances.RegisterInstance(di.Config, cfg)
	instances.RegisterInstance(di.Logger, a.Logger)
	instances.Register(di.Publisher, a.publisherFactory)
	instances.RegisterSingleton(di.Uploader, func(r di.DependencyResolver) (interface{}, error) {
		cfg, err := resolve[*config.Config](r, di.Config)
		if err != nil {
			return nil, err
		}
		return publish.NewS3Client(cfg.Publish.Region)
	})

	e, err := engine.New(engine.Options{
		Router:    matcher,
		Resolver:  dispatch.ChainResolver{a.Modules, a.Loader},
		Loader:    a.Loader,
		Template:  cfg.Template,
		BaseURL:   cfg.Site.BaseURL,
		Debug:     cfg.Development.Debug,
		MaxDepth:  cfg.Dispatch.MaxDepth,
		Logger:    a.Logger,
		Metrics:   a.dispatchMetrics,
		Instances: instances,
		Tracing:   a.tracing,
	})
	if err != nil {
		return nil, err
	}
	instances.RegisterInstance(di.Engine, e)
	return e, nil
}

// resolve looks name up through r and asserts it to T.
func resolve[T any](r di.DependencyResolver, name string) (T, error) {
	var zero T
	v, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, folioerrors.NewInternalError(folioerrors.ErrCodeInstanceNotInitialized,
			fmt.Sprintf("instance '%s' is %T, not %T", name, v, zero), nil)
	}
	return typed, nil
}

// Engine returns the current engine.
func (a *App) Engine() *engine.Engine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine
}

// Reload drops cached files and rebuilds the engine. On failure the previous
// engine stays in place.
func (a *App) Reload() (*engine.Engine, error) {
	a.Loader.Reset()
	e, err := a.BuildEngine()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.engine = e
	a.mu.Unlock()
	return e, nil
}

// KnownModules lists every module name the site can resolve, sorted and
// without duplicates.
func (a *App) KnownModules() []string {
	names, err := a.Loader.Modules()
	if err != nil {
		a.Logger.Warn(context.Background(), err, "listing file modules")
	}
	names = append(names, a.Modules.Names()...)
	sort.Strings(names)
	return slices.Compact(names)
}

// NewServer creates the development server for the site.
func (a *App) NewServer() (*server.Server, error) {
	cfg := a.Config

	var metricsHandler http.Handler
	var httpMetrics *server.HTTPMetrics
	if cfg.Server.Metrics {
		metricsHandler = promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{})
		httpMetrics = a.httpMetrics
	}

	return server.New(server.Options{
		Addr:           cfg.Addr(),
		Engine:         a.Engine(),
		Assets:         a.Loader,
		Template:       cfg.Template.Template,
		HotReload:      cfg.Development.HotReload,
		ErrorOverlay:   cfg.Development.ErrorOverlay,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metricsHandler,
		HTTPMetrics:    httpMetrics,
		Suggestions: &folioerrors.SuggestionContext{
			KnownModules: a.KnownModules(),
			ModulesPath:  cfg.Site.ModulesDir,
		},
		Logger: a.Logger,
	})
}

// ChangeHandler reacts to site edits: changed files leave the cache, a
// changed route table rebuilds the engine, and browsers reload.
func (a *App) ChangeHandler(srv *server.Server) watcher.ChangeHandler {
	root, err := filepath.Abs(a.Config.SitePath())
	if err != nil {
		root = a.Config.SitePath()
	}
	routesFile := path.Clean(filepath.ToSlash(a.Config.Router.RoutesFile))

	return func(events []watcher.ChangeEvent) error {
		ctx := context.Background()
		changed := make([]string, 0, len(events))
		rebuild := false

		for _, ev := range events {
			rel, err := filepath.Rel(root, ev.Path)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if a.Config.Router.RoutesFile != "" && rel == routesFile {
				rebuild = true
			}
			if ev.Type == watcher.EventTypeDeleted || ev.Type == watcher.EventTypeRenamed || a.Loader.Changed(rel) {
				a.Loader.Invalidate(rel)
				changed = append(changed, rel)
			}
		}

		if rebuild {
			e, err := a.Reload()
			if err != nil {
				return err
			}
			srv.SetEngine(e)
			a.Logger.Info(ctx, "route table reloaded", "routes", len(e.Routes()))
		}
		if len(changed) == 0 && !rebuild {
			return nil
		}

		target := ""
		if len(changed) > 0 {
			target = changed[0]
		}
		a.Logger.Debug(ctx, "site changed", "files", changed)
		srv.Reload(target)
		return nil
	}
}

// Watch starts watching the site and reloading srv's browsers on changes.
func (a *App) Watch(ctx context.Context, srv *server.Server) (*watcher.FileWatcher, error) {
	cfg := a.Config

	fw, err := watcher.NewFileWatcher(cfg.SitePath(), DebounceDelay, a.Logger)
	if err != nil {
		return nil, folioerrors.FileOperationError("watch", cfg.SitePath(), err)
	}

	fw.AddFilter(watcher.SiteFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.ExcludeDirFilter(filepath.Join(fw.Root(), cfg.Publish.Output)))
	fw.AddHandler(a.ChangeHandler(srv))

	if err := fw.AddPath(fw.Root()); err != nil {
		fw.Stop()
		return nil, folioerrors.FileOperationError("watch", fw.Root(), err)
	}
	for _, dir := range []string{cfg.Site.ModulesDir, cfg.Site.TemplatesDir} {
		if err := fw.AddRecursive(dir); err != nil {
			fw.Stop()
			return nil, folioerrors.FileOperationError("watch", dir, err)
		}
	}

	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}

// watchModules calls reload for every code module registered, replaced or
// removed until ctx is done.
func (a *App) watchModules(ctx context.Context, reload func(target string)) {
	events := a.Modules.Watch()
	go func() {
		<-ctx.Done()
		a.Modules.UnWatch(events)
	}()
	go func() {
		for ev := range events {
			a.Logger.Debug(ctx, "code module changed", "module", ev.Name, "event", ev.Type.String())
			reload(ev.Name)
		}
	}()
}

// Serve runs the development server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv, err := a.NewServer()
	if err != nil {
		return err
	}

	if a.Config.Development.HotReload {
		fw, err := a.Watch(ctx, srv)
		if err != nil {
			return err
		}
		defer fw.Stop()
		a.watchModules(ctx, srv.Reload)
	}

	return srv.Start(ctx)
}

// NewPublisher creates a publisher for the current engine writing to the
// configured output. A configured bucket gets an S3 client, created once per
// engine.
func (a *App) NewPublisher() (*publish.Publisher, error) {
	return di.Get[*publish.Publisher](a.Engine().Instances(), di.Publisher)
}

func (a *App) publisherFactory(r di.DependencyResolver) (interface{}, error) {
	cfg, err := resolve[*config.Config](r, di.Config)
	if err != nil {
		return nil, err
	}
	e, err := resolve[*engine.Engine](r, di.Engine)
	if err != nil {
		return nil, err
	}

	assets, err := fs.Sub(a.Loader.FS(), a.Loader.Layout().TemplateRoot())
	if err != nil {
		return nil, folioerrors.FileOperationError("open template", a.Loader.Layout().TemplateRoot(), err)
	}

	opts := publish.Options{
		Output:      cfg.SitePath(cfg.Publish.Output),
		Paths:       cfg.Publish.Paths,
		Assets:      assets,
		AssetPrefix: cfg.Template.Template,
		Bucket:      cfg.Publish.Bucket,
		Prefix:      cfg.Publish.Prefix,
		Logger:      a.Logger,
	}
	if cfg.Publish.Bucket != "" {
		uploader, err := resolve[publish.Uploader](r, di.Uploader)
		if err != nil {
			return nil, err
		}
		opts.Uploader = uploader
	}
	return publish.New(e, opts)
}

// Close releases log files.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
