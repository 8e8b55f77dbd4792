// Package composer assembles a page from the active template's header,
// content and footer parts and then resolves the two token grammars authors
// write into them:
//
//	{{::module::key=value::}}   replaced by the output of the named module
//	{{name}}                    replaced by the value of a template variable
//
// Module tokens are resolved first, so a module's output may contain
// variable tokens. Neither pass rescans text it substituted. A module token
// that fails to run is replaced by the empty string and rendering continues.
//
// Parts and module templates are Go text/template programs delimited by
// {% and %} so they never collide with the token grammars.
package composer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"text/template"

	"github.com/conneroisu/folio/internal/dispatch"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/router"
)

// Template part names.
const (
	PartHeader  = "header"
	PartContent = "content"
	PartFooter  = "footer"
)

// Parts lists the parts in render order.
var Parts = []string{PartHeader, PartContent, PartFooter}

// Template delimiters for parts and module templates.
const (
	LeftDelim  = "{%"
	RightDelim = "%}"
)

// headVar is the variable HeadHTML is exposed as unless set explicitly.
const headVar = "head"

// Config is the template section of the site configuration.
type Config struct {
	Template string         `mapstructure:"name" yaml:"name" json:"name"`
	Vars     map[string]any `mapstructure:"vars" yaml:"vars,omitempty" json:"vars,omitempty"`
	Head     map[string]any `mapstructure:"head" yaml:"head,omitempty" json:"head,omitempty"`
}

// PartLoader fetches the body of a template part.
type PartLoader interface {
	Load(part string) (string, error)
}

// TemplateLoader fetches a module template by the running module and the
// template name, searching the module's own templates, the shared module
// templates, the site template's per-module templates and the site
// template's shared templates, in that order.
type TemplateLoader interface {
	LoadModuleTemplate(module, name string) (string, error)
}

// AssetChecker reports whether a file exists in the template directory.
type AssetChecker interface {
	AssetExists(ref string) bool
}

// Loader is everything the composer reads from the active template.
type Loader interface {
	PartLoader
	TemplateLoader
	AssetChecker
}

// Runner runs embedded modules. *dispatch.Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, name string, params router.Params, mode dispatch.Mode) (string, error)
	Running() (string, bool)
}

// Composer holds the template state of one request. It is not safe for
// concurrent use.
type Composer struct {
	config      Config
	loader      Loader
	runner      Runner
	head        map[string]HeadValue
	vars        map[string]any
	content     string
	fullContent string
	contentOnly bool

	debug  bool
	sink   logging.DiagnosticSink
	logger logging.Logger
	random func() int
	funcs  template.FuncMap
}

// Option configures a Composer.
type Option func(*Composer)

// WithDebug switches asset versions to a fresh random number per asset.
func WithDebug(debug bool) Option {
	return func(c *Composer) {
		c.debug = debug
	}
}

// WithDiagnostics sets the sink soft failures are reported to.
func WithDiagnostics(sink logging.DiagnosticSink) Option {
	return func(c *Composer) {
		c.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l.WithComponent("composer")
		}
	}
}

// WithRandom replaces the debug version generator.
func WithRandom(fn func() int) Option {
	return func(c *Composer) {
		if fn != nil {
			c.random = fn
		}
	}
}

// WithFuncs adds functions to every part and module template.
func WithFuncs(funcs template.FuncMap) Option {
	return func(c *Composer) {
		for name, fn := range funcs {
			c.funcs[name] = fn
		}
	}
}

// New creates the composer for one request. It fails when no template is
// configured or the template has no content part. Configured variables are
// applied first, then configured head entries.
func New(ctx context.Context, cfg Config, loader Loader, runner Runner, opts ...Option) (*Composer, error) {
	if cfg.Template == "" {
		return nil, folioerrors.NewTemplateError(folioerrors.ErrCodeTemplateConfigInvalid,
			"template not specified in config", nil)
	}
	if _, err := loader.Load(PartContent); err != nil {
		return nil, folioerrors.NewTemplateError(folioerrors.ErrCodeTemplateNotExists,
			fmt.Sprintf("template %q not exists", cfg.Template), err)
	}

	c := &Composer{
		config: cfg,
		loader: loader,
		runner: runner,
		head:   newHead(),
		vars:   make(map[string]any),
		logger: logging.Nop(),
		random: func() int { return 1000000 + rand.IntN(9000000) },
		funcs:  template.FuncMap{},
	}
	for _, opt := range opts {
		opt(c)
	}

	for key, value := range cfg.Vars {
		c.SetVar(key, value, false)
	}
	for section, value := range cfg.Head {
		c.applyConfigHead(ctx, section, value)
	}
	return c, nil
}

// applyConfigHead treats a map value as a keyed collection and anything else
// as the section's single entry.
func (c *Composer) applyConfigHead(ctx context.Context, section string, value any) {
	var entries map[string]any
	switch v := value.(type) {
	case map[string]any:
		entries = v
	case map[string]string:
		entries = make(map[string]any, len(v))
		for k, s := range v {
			entries[k] = s
		}
	default:
		if !c.SetHead(ctx, section, "", value) {
			c.logger.Warn(ctx, nil, "head entry rejected", "section", section)
		}
		return
	}

	for _, key := range sortedKeys(entries) {
		if !c.SetHead(ctx, section, key, entries[key]) {
			c.logger.Warn(ctx, nil, "head entry rejected", "section", section, "key", key)
		}
	}
}

// Template returns the active template name.
func (c *Composer) Template() string {
	return c.config.Template
}

// SetVar stores value under key. With append the value's display form is
// concatenated onto the current one, starting from empty.
func (c *Composer) SetVar(key string, value any, appendValue bool) {
	if appendValue {
		prev := ""
		if v, ok := c.vars[key]; ok && v != nil {
			prev = fmt.Sprint(v)
		}
		c.vars[key] = prev + fmt.Sprint(value)
		return
	}
	c.vars[key] = value
}

// Var returns the value stored under key.
func (c *Composer) Var(key string) (any, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// SetContent appends s to the page content, or replaces it.
func (c *Composer) SetContent(s string, replace bool) {
	if replace {
		c.content = s
		return
	}
	c.content += s
}

// Content returns the page content.
func (c *Composer) Content() string {
	return c.content
}

// SetContentOnly makes Run write the content without the template parts.
func (c *Composer) SetContentOnly(v bool) {
	c.contentOnly = v
}

// ContentOnly reports whether Run skips the template parts.
func (c *Composer) ContentOnly() bool {
	return c.contentOnly
}

// Render assembles header, content and footer and resolves their tokens.
func (c *Composer) Render(ctx context.Context) (string, error) {
	c.fullContent = ""

	var page bytes.Buffer
	for _, part := range Parts {
		body, err := c.loader.Load(part)
		if err != nil {
			return "", folioerrors.NewTemplateError(folioerrors.ErrCodeTemplatePartMissing,
				fmt.Sprintf("%s part of template is not exists", part), err).WithFile(part)
		}
		if err := c.execute(ctx, &page, part, body, c.view()); err != nil {
			return "", err
		}
	}

	text := c.runModules(ctx, page.String())
	text = c.placeVariables(ctx, text)
	c.fullContent = text
	return text, nil
}

// FullContent returns the output of the last Render.
func (c *Composer) FullContent() string {
	return c.fullContent
}

// Run writes the finished page, or only the content in content-only mode.
func (c *Composer) Run(ctx context.Context, w io.Writer) error {
	out := c.content
	if !c.contentOnly {
		var err error
		out, err = c.Render(ctx)
		if err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, out); err != nil {
		return folioerrors.WrapIO(err, folioerrors.ErrCodeFileAccess, "write page")
	}
	return nil
}

// runModules is the first pass: every module token is replaced by the
// module's output, or by nothing when it fails.
func (c *Composer) runModules(ctx context.Context, text string) string {
	spans := scanTokens(text, moduleOpen, moduleClose)
	return replaceTokens(text, spans, func(s span) (string, bool) {
		call, ok := parseModuleToken(s.body)
		if !ok {
			return "", false
		}

		var params router.Params
		for _, kv := range call.params {
			params = params.Set(kv[0], kv[1])
		}

		out, err := c.runner.Run(ctx, call.name, params, dispatch.ModeReturn)
		if err != nil {
			c.diagnose(ctx, err.Error(), "module", call.name)
			return "", true
		}
		return out, true
	})
}

// placeVariables is the second pass.
func (c *Composer) placeVariables(ctx context.Context, text string) string {
	spans := scanTokens(text, varOpen, varClose)
	return replaceTokens(text, spans, func(s span) (string, bool) {
		if v, ok := c.vars[s.body]; ok && v != nil {
			return fmt.Sprint(v), true
		}
		if s.body == headVar {
			return c.HeadHTML(), true
		}
		c.diagnose(ctx, "no isset content var: "+s.body)
		return "", true
	})
}

func (c *Composer) diagnose(ctx context.Context, msg string, fields ...interface{}) {
	if c.sink == nil {
		return
	}
	c.sink.Diagnose(ctx, msg, fields...)
}
