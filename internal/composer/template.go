package composer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"text/template"

	"github.com/conneroisu/folio/internal/dispatch"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/router"
)

// View is the dot of a part template.
type View struct {
	Content  string
	Template string
	Running  string
	Params   map[string]string
}

func (c *Composer) view() View {
	v := View{Content: c.content, Template: c.config.Template}
	if c.runner != nil {
		v.Running, _ = c.runner.Running()
	}
	if p, ok := c.runningParams(); ok {
		v.Params = p.Map()
	}
	return v
}

// paramsRunner is implemented by runners that expose the running frame's
// params.
type paramsRunner interface {
	RunningParams() (router.Params, bool)
}

func (c *Composer) runningParams() (router.Params, bool) {
	pr, ok := c.runner.(paramsRunner)
	if !ok {
		return nil, false
	}
	return pr.RunningParams()
}

// Module renders the module template name of the running module into w with
// data as its dot. It does nothing when no module is running and fails with
// TemplateNotFound when no location holds the template.
func (c *Composer) Module(ctx context.Context, w io.Writer, name string, data any) error {
	if c.runner == nil {
		return nil
	}
	running, ok := c.runner.Running()
	if !ok {
		return nil
	}

	body, err := c.loader.LoadModuleTemplate(running, name)
	if err != nil {
		if folioerrors.IsNotFound(err) {
			return folioerrors.NewTemplateError(folioerrors.ErrCodeTemplateNotFound,
				fmt.Sprintf("not exist template %q in module %q", name, running), err).WithModule(running)
		}
		return folioerrors.WrapTemplate(err, folioerrors.ErrCodeTemplateRenderFailed, "load module template")
	}

	if data == nil {
		data = c.view()
	}
	return c.execute(ctx, w, running+"/"+name, body, data)
}

// Execute runs body as a template with the composer's functions.
func (c *Composer) Execute(ctx context.Context, w io.Writer, name, body string, data any) error {
	return c.execute(ctx, w, name, body, data)
}

func (c *Composer) execute(ctx context.Context, w io.Writer, name, body string, data any) error {
	tmpl, err := template.New(name).
		Delims(LeftDelim, RightDelim).
		Option("missingkey=zero").
		Funcs(c.templateFuncs(ctx)).
		Parse(body)
	if err != nil {
		return folioerrors.WrapTemplate(err, folioerrors.ErrCodeTemplateRenderFailed, "parse template").WithFile(name)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return folioerrors.WrapTemplate(err, folioerrors.ErrCodeTemplateRenderFailed, "execute template").WithFile(name)
	}
	return nil
}

// templateFuncs binds the template functions to ctx. Extra functions from
// WithFuncs override the built-in ones.
func (c *Composer) templateFuncs(ctx context.Context) template.FuncMap {
	funcs := template.FuncMap{
		"getVar": func(key string) any {
			v, _ := c.Var(key)
			return v
		},
		"setVar": func(key string, value any, appendValue ...bool) string {
			c.SetVar(key, value, len(appendValue) > 0 && appendValue[0])
			return ""
		},
		"setHead": func(section, key string, value any) string {
			c.SetHead(ctx, section, key, value)
			return ""
		},
		"head": c.HeadHTML,
		"param": func(key string) string {
			p, _ := c.runningParams()
			return p.Value(key)
		},
		"module": func(name string, data ...any) (string, error) {
			var d any
			if len(data) > 0 {
				d = data[0]
			}
			var buf bytes.Buffer
			if err := c.Module(ctx, &buf, name, d); err != nil {
				return "", err
			}
			return buf.String(), nil
		},
		"run": func(name string, kv ...string) (string, error) {
			if c.runner == nil {
				return "", nil
			}
			var params router.Params
			for i := 0; i+1 < len(kv); i += 2 {
				params = params.Set(kv[i], kv[i+1])
			}
			return c.runner.Run(ctx, name, params, dispatch.ModeReturn)
		},
		"dict": func(kv ...any) (map[string]any, error) {
			if len(kv)%2 != 0 {
				return nil, fmt.Errorf("dict needs key/value pairs")
			}
			m := make(map[string]any, len(kv)/2)
			for i := 0; i < len(kv); i += 2 {
				key, ok := kv[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict key %v is not a string", kv[i])
				}
				m[key] = kv[i+1]
			}
			return m, nil
		},
	}
	for name, fn := range c.funcs {
		funcs[name] = fn
	}
	return funcs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
