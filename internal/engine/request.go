package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/conneroisu/folio/internal/composer"
	"github.com/conneroisu/folio/internal/di"
	"github.com/conneroisu/folio/internal/dispatch"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/router"
)

// Request is the state of one page being served.
type Request struct {
	URL         router.URL
	Query       url.Values
	Route       router.Resolved
	Dispatcher  *dispatch.Dispatcher
	Composer    *composer.Composer
	Diagnostics *folioerrors.Collector

	engine    *Engine
	out       io.Writer
	instances *di.Container
}

type requestKey struct{}

// NewContext returns ctx carrying r.
func NewContext(ctx context.Context, r *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFrom returns the request a module is running for.
func RequestFrom(ctx context.Context) (*Request, bool) {
	r, ok := ctx.Value(requestKey{}).(*Request)
	return r, ok
}

// Run executes the resolved module, stores its output as the page content
// and writes the composed page.
func (r *Request) Run(ctx context.Context) error {
	start := time.Now()
	ctx = NewContext(ctx, r)

	out, err := r.Dispatcher.RunTop(ctx, r.Route.Module, nil, dispatch.ModeReturn)
	if err != nil {
		r.engine.logger.Error(ctx, err, "module failed", "module", r.Route.Module, "path", r.URL.String())
		return err
	}
	r.Composer.SetContent(out, true)

	var page bytes.Buffer
	if err := r.Composer.Run(ctx, &page); err != nil {
		r.engine.logger.Error(ctx, err, "render failed", "module", r.Route.Module, "path", r.URL.String())
		return err
	}
	if _, err := r.out.Write(page.Bytes()); err != nil {
		return folioerrors.WrapIO(err, folioerrors.ErrCodeFileAccess, "write page")
	}

	if r.engine.debug {
		r.engine.logger.Debug(ctx, "request finished",
			"module", r.Route.Module,
			"path", r.URL.String(),
			"depth", r.Dispatcher.Depth(),
			"diagnostics", r.Diagnostics.Len(),
			"duration", time.Since(start),
		)
	}
	return nil
}

// Status is the HTTP status a successful run answers with.
func (r *Request) Status() int {
	if r.Route.NotFound() || r.Route.Module == router.NotFoundModule {
		return http.StatusNotFound
	}
	return http.StatusOK
}

// FullPath is the canonical path of the request.
func (r *Request) FullPath() string {
	return router.BuildFullPath(r.URL, r.Query)
}

// Provide registers v under name for the rest of the request.
func (r *Request) Provide(name string, v interface{}) {
	r.instances.RegisterInstance(name, v)
}

// Instance returns the value registered under name in the request or the
// engine scope.
func (r *Request) Instance(name string) (interface{}, error) {
	return r.instances.Get(name)
}

// Close releases the request's instances.
func (r *Request) Close(ctx context.Context) error {
	return r.instances.Shutdown(ctx)
}
