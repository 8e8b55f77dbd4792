package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/router"
)

// running writes the name of the frame on top of the stack.
func running(ctx context.Context, w io.Writer) {
	d, _ := FromContext(ctx)
	name, _ := d.Running()
	fmt.Fprint(w, name)
}

func TestNestedRunRestoresFrame(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("C", func(ctx context.Context, w io.Writer) error {
		running(ctx, w)
		return nil
	})
	reg.RegisterFunc("B", func(ctx context.Context, w io.Writer) error {
		d, _ := FromContext(ctx)
		out, err := d.Run(ctx, "C", nil, ModeReturn)
		if err != nil {
			return err
		}
		fmt.Fprint(w, out, ">")
		running(ctx, w)
		return nil
	})
	reg.RegisterFunc("A", func(ctx context.Context, w io.Writer) error {
		d, _ := FromContext(ctx)
		out, err := d.Run(ctx, "B", nil, ModeReturn)
		if err != nil {
			return err
		}
		fmt.Fprint(w, out, ">")
		running(ctx, w)
		return nil
	})

	d := New(reg)
	out, err := d.Run(context.Background(), "A", nil, ModeReturn)

	require.NoError(t, err)
	assert.Equal(t, "C>B>A", out)
	assert.Equal(t, 0, d.Depth())
	_, ok := d.Running()
	assert.False(t, ok)
}

func TestDeepNestingRestoresEveryLevel(t *testing.T) {
	const levels = 20
	reg := NewRegistry()
	for i := 0; i < levels; i++ {
		name := fmt.Sprintf("m%d", i)
		next := fmt.Sprintf("m%d", i+1)
		last := i == levels-1
		reg.RegisterFunc(name, func(ctx context.Context, w io.Writer) error {
			d, _ := FromContext(ctx)
			if !last {
				if _, err := d.Run(ctx, next, nil, ModeReturn); err != nil {
					return err
				}
			}
			got, _ := d.Running()
			if got != name {
				return fmt.Errorf("running %q, want %q", got, name)
			}
			return nil
		})
	}

	d := New(reg)
	_, err := d.Run(context.Background(), "m0", nil, ModeReturn)
	require.NoError(t, err)
}

func TestFramePoppedOnError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.RegisterFunc("fail", func(context.Context, io.Writer) error { return boom })
	reg.RegisterFunc("parent", func(ctx context.Context, w io.Writer) error {
		d, _ := FromContext(ctx)
		_, err := d.Run(ctx, "fail", nil, ModeReturn)
		assert.ErrorIs(t, err, boom)
		running(ctx, w)
		return nil
	})

	d := New(reg)
	out, err := d.Run(context.Background(), "parent", nil, ModeReturn)

	require.NoError(t, err)
	assert.Equal(t, "parent", out)
}

func TestFramePoppedOnPanic(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("panics", func(context.Context, io.Writer) error { panic("bad module") })

	d := New(reg)
	assert.Panics(t, func() {
		_, _ = d.Run(context.Background(), "panics", nil, ModeReturn)
	})
	assert.Equal(t, 0, d.Depth())
}

func TestModuleFailureIsWrapped(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("fail", func(context.Context, io.Writer) error { return errors.New("boom") })

	_, err := New(reg).Run(context.Background(), "fail", nil, ModeReturn)

	var fe *folioerrors.FolioError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, folioerrors.ErrCodeModuleFailed, fe.Code)
	assert.Equal(t, "fail", fe.Module)
}

func TestTypedFailurePassesThrough(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("tpl", func(context.Context, io.Writer) error {
		return folioerrors.NewTemplateError(folioerrors.ErrCodeTemplateNotFound, "template \"card\" not found", nil)
	})

	_, err := New(reg).Run(context.Background(), "tpl", nil, ModeReturn)

	assert.ErrorIs(t, err, folioerrors.ErrTemplateNotFound)
	assert.Equal(t, "tpl", err.(*folioerrors.FolioError).Module)
}

func TestModuleNotFound(t *testing.T) {
	d := New(NewRegistry())
	_, err := d.Run(context.Background(), "missing", nil, ModeReturn)

	assert.ErrorIs(t, err, folioerrors.ErrModuleNotFound)
	assert.Equal(t, 0, d.Depth())

	_, err = New(nil).Run(context.Background(), "missing", nil, ModeReturn)
	assert.ErrorIs(t, err, folioerrors.ErrModuleNotFound)
}

func TestModeEmit(t *testing.T) {
	reg := NewRegistry()
	reg.Register("hello", Text("hello"))

	var out bytes.Buffer
	d := New(reg, WithOutput(&out))

	got, err := d.Run(context.Background(), "hello", nil, ModeEmit)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "hello", out.String())

	got, err = d.Run(context.Background(), "hello", nil, ModeReturn)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, "hello", out.String(), "return mode does not emit")
}

func TestModeEmitDiscardsFailedOutput(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("partial", func(_ context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, "half")
		return errors.New("boom")
	})

	var out bytes.Buffer
	_, err := New(reg, WithOutput(&out)).Run(context.Background(), "partial", nil, ModeEmit)
	assert.Error(t, err)
	assert.Empty(t, out.String())
}

func TestModeEmitWritesIntoCaller(t *testing.T) {
	reg := NewRegistry()
	reg.Register("copyright", Text("(c)"))
	reg.RegisterFunc("page", func(ctx context.Context, w io.Writer) error {
		d, _ := FromContext(ctx)
		_, _ = io.WriteString(w, "before|")
		got, err := d.Run(ctx, "copyright", nil, ModeEmit)
		if err != nil {
			return err
		}
		_, _ = io.WriteString(w, got+"|after")
		return nil
	})

	var out bytes.Buffer
	got, err := New(reg, WithOutput(&out)).Run(context.Background(), "page", nil, ModeReturn)
	require.NoError(t, err)
	assert.Equal(t, "before|(c)|after", got)
	assert.Empty(t, out.String())
}

func TestFailureDoesNotChangeSentinel(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("gate", func(context.Context, io.Writer) error {
		return folioerrors.ErrModuleNotFound
	})

	_, err := New(reg).Run(context.Background(), "gate", nil, ModeReturn)

	var fe *folioerrors.FolioError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "gate", fe.Module)
	assert.ErrorIs(t, err, folioerrors.ErrModuleNotFound)
	assert.Empty(t, folioerrors.ErrModuleNotFound.Module)
}

func TestFailureKeepsModuleOfNestedError(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("outer", func(ctx context.Context, _ io.Writer) error {
		d, _ := FromContext(ctx)
		_, err := d.Run(ctx, "inner", nil, ModeReturn)
		return fmt.Errorf("rendering outer: %w", err)
	})
	reg.RegisterFunc("inner", func(context.Context, io.Writer) error {
		return errors.New("boom")
	})

	_, err := New(reg).Run(context.Background(), "outer", nil, ModeReturn)

	var fe *folioerrors.FolioError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "inner", fe.Module)
	assert.Equal(t, folioerrors.ErrCodeModuleFailed, fe.Code)
}

func TestRunRecordsSpans(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("page", func(ctx context.Context, w io.Writer) error {
		d, _ := FromContext(ctx)
		_, err := d.Run(ctx, "card", nil, ModeReturn)
		return err
	})
	reg.RegisterFunc("card", func(context.Context, io.Writer) error { return nil })
	reg.RegisterFunc("broken", func(context.Context, io.Writer) error { return errors.New("boom") })

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	d := New(reg, WithTracerProvider(tp))

	_, err := d.Run(context.Background(), "page", nil, ModeReturn)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "dispatch.Run", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("folio.module", "card"))
	assert.Contains(t, spans[1].Attributes(), attribute.String("folio.module", "page"))
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	_, err = d.Run(context.Background(), "broken", nil, ModeReturn)
	require.Error(t, err)
	spans = sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}

func TestRunTopMergesRouteParams(t *testing.T) {
	reg := NewRegistry()
	var seen router.Params
	reg.RegisterFunc("page", func(ctx context.Context, _ io.Writer) error {
		d, _ := FromContext(ctx)
		seen, _ = d.RunningParams()
		return nil
	})

	route := router.Params{{Key: "lang", Value: "en"}, {Key: "0", Value: "42"}}
	d := New(reg, WithRouteParams(route))

	_, err := d.RunTop(context.Background(), "page", router.Params{{Key: "lang", Value: "de"}}, ModeReturn)
	require.NoError(t, err)
	assert.Equal(t, "de", seen.Value("lang"))
	assert.Equal(t, "42", seen.Value("0"))
	assert.Equal(t, "en", route.Value("lang"))
}

func TestNestedRunsDoNotInheritRouteParams(t *testing.T) {
	reg := NewRegistry()
	var childParams router.Params
	reg.RegisterFunc("child", func(ctx context.Context, _ io.Writer) error {
		d, _ := FromContext(ctx)
		childParams, _ = d.RunningParams()
		return nil
	})
	reg.RegisterFunc("page", func(ctx context.Context, _ io.Writer) error {
		d, _ := FromContext(ctx)
		_, err := d.Run(ctx, "child", router.Params{{Key: "size", Value: "s"}}, ModeReturn)
		return err
	})

	d := New(reg, WithRouteParams(router.Params{{Key: "lang", Value: "en"}}))
	_, err := d.RunTop(context.Background(), "page", nil, ModeReturn)
	require.NoError(t, err)
	assert.Equal(t, router.Params{{Key: "size", Value: "s"}}, childParams)
}

func TestMaxDepth(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("loop", func(ctx context.Context, _ io.Writer) error {
		d, _ := FromContext(ctx)
		_, err := d.Run(ctx, "loop", nil, ModeReturn)
		return err
	})

	d := New(reg, WithMaxDepth(5))
	_, err := d.Run(context.Background(), "loop", nil, ModeReturn)

	assert.ErrorIs(t, err, folioerrors.ErrModuleDepthExceeded)
	assert.True(t, folioerrors.IsRecoverable(err))
	assert.Equal(t, 0, d.Depth())
	assert.Equal(t, 5, d.MaxDepth())
}

func TestFramesSnapshot(t *testing.T) {
	reg := NewRegistry()
	var frames []Frame
	reg.RegisterFunc("inner", func(ctx context.Context, _ io.Writer) error {
		d, _ := FromContext(ctx)
		frames = d.Frames()
		return nil
	})
	reg.RegisterFunc("outer", func(ctx context.Context, _ io.Writer) error {
		d, _ := FromContext(ctx)
		_, err := d.Run(ctx, "inner", router.Params{{Key: "k", Value: "v"}}, ModeReturn)
		return err
	})

	_, err := New(reg).Run(context.Background(), "outer", nil, ModeReturn)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "outer", frames[0].Name)
	assert.Equal(t, "inner", frames[1].Name)
	assert.Equal(t, "v", frames[1].Params.Value("k"))
}

func TestComponentModule(t *testing.T) {
	reg := NewRegistry()
	reg.Register("card", Component(templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		d, _ := FromContext(ctx)
		name, _ := d.Running()
		_, err := io.WriteString(w, "<div>"+name+"</div>")
		return err
	})))

	out, err := New(reg).Run(context.Background(), "card", nil, ModeReturn)
	require.NoError(t, err)
	assert.Equal(t, "<div>card</div>", out)
}

func TestMetrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg, "folio")

	reg := NewRegistry()
	reg.Register("ok", Text("x"))
	reg.RegisterFunc("bad", func(context.Context, io.Writer) error { return errors.New("boom") })

	d := New(reg, WithMetrics(metrics))
	ctx := context.Background()
	_, _ = d.Run(ctx, "ok", nil, ModeReturn)
	_, _ = d.Run(ctx, "ok", nil, ModeReturn)
	_, _ = d.Run(ctx, "bad", nil, ModeReturn)
	_, _ = d.Run(ctx, "nope", nil, ModeReturn)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.runsTotal.WithLabelValues("ok", statusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runsTotal.WithLabelValues("bad", statusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runsTotal.WithLabelValues(unresolvedLabel, statusNotFound)))

	count, err := testutil.GatherAndCount(promReg, "folio_dispatch_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "return", ModeReturn.String())
	assert.Equal(t, "emit", ModeEmit.String())
	assert.True(t, strings.HasPrefix(Mode(9).String(), "unknown"))
}
