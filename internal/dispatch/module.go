package dispatch

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Mode selects what Run does with a module's output.
type Mode int

const (
	// ModeReturn captures the output and returns it to the caller.
	ModeReturn Mode = iota
	// ModeEmit captures the output and writes it into the calling module's
	// output, or to the response for a top-level run.
	ModeEmit
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	switch m {
	case ModeReturn:
		return "return"
	case ModeEmit:
		return "emit"
	default:
		return "unknown"
	}
}

// Module is a named, independently invocable unit producing text. The
// running frame is available through Running and RunningParams on the
// dispatcher returned by FromContext.
type Module interface {
	Run(ctx context.Context, w io.Writer) error
}

// ModuleFunc adapts an ordinary function to Module.
type ModuleFunc func(ctx context.Context, w io.Writer) error

// Run implements Module.
func (f ModuleFunc) Run(ctx context.Context, w io.Writer) error {
	return f(ctx, w)
}

// Text returns a module that always writes s.
func Text(s string) Module {
	return ModuleFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}

// Component adapts a templ component so generated templ views can be
// registered as modules.
func Component(c templ.Component) Module {
	return ModuleFunc(func(ctx context.Context, w io.Writer) error {
		return c.Render(ctx, w)
	})
}
