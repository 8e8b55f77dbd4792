// Package dispatch runs modules by name and tracks which module is currently
// executing.
//
// A Dispatcher belongs to exactly one request. Every Run pushes a Frame onto
// its stack and pops it again on every exit path, so code running in an
// enclosing module always observes its own frame once nested runs return, at
// any depth. Each frame captures its module's output in its own buffer;
// ModeReturn hands it back to the caller while ModeEmit writes it into the
// calling module's buffer, or to the response when there is no caller.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/router"
)

// DefaultMaxDepth bounds nesting so an embedding cycle fails instead of
// recursing until the stack overflows.
const DefaultMaxDepth = 64

const tracerName = "github.com/conneroisu/folio/internal/dispatch"

// Frame is one level of module execution.
type Frame struct {
	Name   string
	Params router.Params

	out *bytes.Buffer
}

// Dispatcher resolves and runs modules for a single request. It is not safe
// for concurrent use.
type Dispatcher struct {
	resolver    Resolver
	out         io.Writer
	frames      []Frame
	routeParams router.Params
	maxDepth    int
	logger      logging.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithOutput sets the writer top-level ModeEmit runs write to.
func WithOutput(w io.Writer) Option {
	return func(d *Dispatcher) {
		d.out = w
	}
}

// WithRouteParams sets the params RunTop merges into top-level runs.
func WithRouteParams(p router.Params) Option {
	return func(d *Dispatcher) {
		d.routeParams = p.Clone()
	}
}

// WithMaxDepth overrides DefaultMaxDepth. Values below one are ignored.
func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxDepth = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l.WithComponent("dispatch")
		}
	}
}

// WithMetrics sets the collectors runs are recorded in.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracerProvider records spans with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a dispatcher resolving modules through resolver.
func New(resolver Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver: resolver,
		out:      io.Discard,
		maxDepth: DefaultMaxDepth,
		logger:   logging.Nop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type dispatcherKey struct{}

// FromContext returns the dispatcher running the current module.
func FromContext(ctx context.Context) (*Dispatcher, bool) {
	d, ok := ctx.Value(dispatcherKey{}).(*Dispatcher)
	return d, ok
}

// NewContext returns ctx carrying d.
func NewContext(ctx context.Context, d *Dispatcher) context.Context {
	return context.WithValue(ctx, dispatcherKey{}, d)
}

// RunTop runs the request's top-level module. The route params are merged
// with explicit, explicit values winning on collision.
func (d *Dispatcher) RunTop(ctx context.Context, name string, explicit router.Params, mode Mode) (string, error) {
	return d.Run(ctx, name, d.routeParams.Merge(explicit), mode)
}

// Run resolves name and executes it with params as its frame.
func (d *Dispatcher) Run(ctx context.Context, name string, params router.Params, mode Mode) (string, error) {
	start := time.Now()

	if len(d.frames) >= d.maxDepth {
		d.metrics.observe(name, statusDepth, len(d.frames), time.Since(start))
		return "", folioerrors.NewModuleDepthExceeded(name, d.maxDepth)
	}

	module, err := d.resolve(name)
	if err != nil {
		d.metrics.observe(name, statusNotFound, len(d.frames), time.Since(start))
		return "", err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.Run",
		trace.WithAttributes(
			attribute.String("folio.module", name),
			attribute.String("folio.mode", mode.String()),
			attribute.Int("folio.depth", len(d.frames)+1),
		),
	)
	defer span.End()

	buf := &bytes.Buffer{}
	d.push(Frame{Name: name, Params: params.Clone(), out: buf})
	defer d.pop()

	if err := module.Run(NewContext(ctx, d), buf); err != nil {
		err = d.wrapFailure(name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.observe(name, statusError, len(d.frames), time.Since(start))
		d.logger.Debug(ctx, "module failed", "module", name, "depth", len(d.frames), "error", err.Error())
		return "", err
	}

	d.metrics.observe(name, statusOK, len(d.frames), time.Since(start))
	d.logger.Debug(ctx, "module finished", "module", name, "depth", len(d.frames), "bytes", buf.Len())

	if mode == ModeEmit {
		if _, err := d.emitTarget().Write(buf.Bytes()); err != nil {
			return "", folioerrors.WrapIO(err, folioerrors.ErrCodeFileAccess, "write module output").WithModule(name)
		}
		return "", nil
	}
	return buf.String(), nil
}

// emitTarget is the buffer of the frame below the running one, or the
// response writer for a top-level run.
func (d *Dispatcher) emitTarget() io.Writer {
	if n := len(d.frames); n > 1 {
		return d.frames[n-2].out
	}
	return d.out
}

func (d *Dispatcher) resolve(name string) (Module, error) {
	if d.resolver == nil {
		return nil, folioerrors.NewModuleNotFound(name)
	}
	module, err := d.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	if module == nil {
		return nil, folioerrors.NewModuleNotFound(name)
	}
	return module, nil
}

// wrapFailure attributes err to name. A module error carrying no module is
// copied, never changed in place, since it may be a shared sentinel.
func (d *Dispatcher) wrapFailure(name string, err error) error {
	var fe *folioerrors.FolioError
	if !errors.As(err, &fe) {
		return folioerrors.NewModuleFailed(name, err)
	}
	if fe.Module != "" {
		return err
	}
	if direct, ok := err.(*folioerrors.FolioError); ok {
		cp := direct.Clone()
		cp.Module = name
		return cp
	}
	return folioerrors.NewModuleFailed(name, err)
}

func (d *Dispatcher) push(f Frame) {
	d.frames = append(d.frames, f)
}

func (d *Dispatcher) pop() {
	d.frames[len(d.frames)-1] = Frame{}
	d.frames = d.frames[:len(d.frames)-1]
}

// Running returns the name of the module on top of the stack.
func (d *Dispatcher) Running() (string, bool) {
	if len(d.frames) == 0 {
		return "", false
	}
	return d.frames[len(d.frames)-1].Name, true
}

// RunningParams returns the params of the module on top of the stack.
func (d *Dispatcher) RunningParams() (router.Params, bool) {
	if len(d.frames) == 0 {
		return nil, false
	}
	return d.frames[len(d.frames)-1].Params, true
}

// Frames returns a copy of the stack, bottom first.
func (d *Dispatcher) Frames() []Frame {
	out := make([]Frame, len(d.frames))
	copy(out, d.frames)
	return out
}

// Depth returns the number of modules currently executing.
func (d *Dispatcher) Depth() int {
	return len(d.frames)
}

// MaxDepth returns the nesting limit.
func (d *Dispatcher) MaxDepth() int {
	return d.maxDepth
}
