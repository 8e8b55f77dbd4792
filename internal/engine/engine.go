// Package engine ties the route matcher, the module dispatcher and the
// template composer together. An Engine holds what is shared by every
// request and never changes after New; each incoming path gets its own
// Request with a fresh frame stack, template state and instance scope.
package engine

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"text/template"

	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/folio/internal/composer"
	"github.com/conneroisu/folio/internal/di"
	"github.com/conneroisu/folio/internal/dispatch"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/router"
)

// Options configures an Engine.
type Options struct {
	Router    *router.Matcher
	Resolver  dispatch.Resolver
	Loader    composer.Loader
	Template  composer.Config
	BaseURL   string
	Debug     bool
	MaxDepth  int
	Logger    logging.Logger
	Metrics   *dispatch.Metrics
	Instances *di.Container
	Funcs     template.FuncMap
	// Tracing receives module spans. Nil uses the global provider.
	Tracing   trace.TracerProvider
}

// Engine serves pages. It is safe for concurrent use.
type Engine struct {
	router    *router.Matcher
	resolver  dispatch.Resolver
	loader    composer.Loader
	template  composer.Config
	baseURL   string
	debug     bool
	maxDepth  int
	logger    logging.Logger
	metrics   *dispatch.Metrics
	instances *di.Container
	funcs     template.FuncMap
	tracing   trace.TracerProvider
}

// New validates opts and creates an Engine. The router's not-found sentinel
// always resolves: when opts.Resolver does not provide it, a built-in page is
// used.
func New(opts Options) (*Engine, error) {
	if opts.Router == nil {
		return nil, folioerrors.ConfigurationError("router", "engine requires a route matcher", nil)
	}
	if opts.Loader == nil {
		return nil, folioerrors.ConfigurationError("template", "engine requires a template loader", nil)
	}
	if opts.Template.Template == "" {
		return nil, folioerrors.NewTemplateError(folioerrors.ErrCodeTemplateConfigInvalid,
			"template name is not configured", nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	instances := opts.Instances
	if instances == nil {
		instances = di.NewContainer()
	}

	return &Engine{
		router:    opts.Router,
		resolver:  dispatch.ChainResolver{opts.Resolver, dispatch.Builtins(router.NotFoundModule)},
		loader:    opts.Loader,
		template:  opts.Template,
		baseURL:   opts.BaseURL,
		debug:     opts.Debug,
		maxDepth:  opts.MaxDepth,
		logger:    logger.WithComponent("engine"),
		metrics:   opts.Metrics,
		instances: instances,
		funcs:     opts.Funcs,
		tracing:   opts.Tracing,
	}, nil
}

// Routes returns the route table the engine resolves against.
func (e *Engine) Routes() router.Table {
	return e.router.Routes()
}

// Debug reports whether the engine runs in debug mode.
func (e *Engine) Debug() bool {
	return e.debug
}

// Instances returns the site-wide instance container.
func (e *Engine) Instances() *di.Container {
	return e.instances
}

// NewRequest resolves rawPath and prepares a Request writing to w. Before
// hooks run with the partially built request in ctx, so they can inspect its
// URL and query.
func (e *Engine) NewRequest(ctx context.Context, w io.Writer, rawPath string, query url.Values) (*Request, error) {
	if w == nil {
		w = io.Discard
	}
	r := &Request{
		URL:         router.ParseURL(rawPath, e.baseURL),
		Query:       query,
		Diagnostics: folioerrors.NewCollector(),
		engine:      e,
		out:         w,
		instances:   e.instances.Child(),
	}

	r.Route = e.router.Resolve(NewContext(ctx, r), r.URL)

	r.Dispatcher = dispatch.New(e.resolver,
		dispatch.WithOutput(w),
		dispatch.WithRouteParams(r.Route.Params),
		dispatch.WithMaxDepth(e.maxDepth),
		dispatch.WithLogger(e.logger),
		dispatch.WithMetrics(e.metrics),
		dispatch.WithTracerProvider(e.tracing),
	)

	opts := []composer.Option{
		composer.WithDebug(e.debug),
		composer.WithLogger(e.logger),
		composer.WithFuncs(e.funcs),
	}
	if e.debug {
		opts = append(opts, composer.WithDiagnostics(logging.MultiSink{
			logging.LoggerSink{Logger: e.logger},
			&collectorSink{collector: r.Diagnostics, dispatcher: r.Dispatcher},
		}))
	}

	c, err := composer.New(ctx, e.template, e.loader, r.Dispatcher, opts...)
	if err != nil {
		return nil, err
	}
	r.Composer = c

	r.instances.RegisterInstance(di.Template, c)
	r.instances.RegisterInstance(di.Dispatcher, r.Dispatcher)
	r.instances.RegisterInstance(di.Route, r.Route)
	return r, nil
}

// Serve resolves rawPath, runs it and writes the page to w.
func (e *Engine) Serve(ctx context.Context, w io.Writer, rawPath string, query url.Values) (*Request, error) {
	r, err := e.NewRequest(ctx, w, rawPath, query)
	if err != nil {
		return nil, err
	}
	return r, r.Run(ctx)
}

// Render resolves rawPath and returns the finished page.
func (e *Engine) Render(ctx context.Context, rawPath string, query url.Values) (string, *Request, error) {
	var buf bytes.Buffer
	r, err := e.Serve(ctx, &buf, rawPath, query)
	if err != nil {
		return "", r, err
	}
	return buf.String(), r, nil
}
