package composer

import (
	"bytes"
	"context"
	"io"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/folio/internal/dispatch"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/router"
)

func TestModuleWithoutRunningModule(t *testing.T) {
	loader := pageLoader("", "", "")
	loader.templates["blog/card"] = "card"
	c, _ := newTestComposer(t, loader, nil)

	var buf bytes.Buffer
	require.NoError(t, c.Module(context.Background(), &buf, "card", nil))
	assert.Empty(t, buf.String())
}

func TestModuleTemplate(t *testing.T) {
	loader := pageLoader("", "", "")
	loader.templates["blog/card"] = `<b>{% .title %}</b>{% param "0" %}`

	reg := dispatch.NewRegistry()
	var c *Composer
	reg.RegisterFunc("blog", func(ctx context.Context, w io.Writer) error {
		return c.Module(ctx, w, "card", map[string]any{"title": "Post"})
	})
	c, d := newTestComposer(t, loader, reg)

	out, err := d.Run(context.Background(), "blog", router.Params{{Key: "0", Value: "42"}}, dispatch.ModeReturn)
	require.NoError(t, err)
	assert.Equal(t, "<b>Post</b>42", out)
}

func TestModuleTemplateNotFound(t *testing.T) {
	reg := dispatch.NewRegistry()
	var c *Composer
	reg.RegisterFunc("blog", func(ctx context.Context, w io.Writer) error {
		return c.Module(ctx, w, "nope", nil)
	})
	c, d := newTestComposer(t, pageLoader("", "", ""), reg)

	_, err := d.Run(context.Background(), "blog", nil, dispatch.ModeReturn)
	assert.ErrorIs(t, err, folioerrors.ErrTemplateNotFound)
	assert.Contains(t, err.Error(), `not exist template "nope" in module "blog"`)
}

func TestModuleTemplateFuncs(t *testing.T) {
	loader := pageLoader("", "", "")
	loader.templates["page/body"] = `{% setVar "title" "Set" %}{% module "item" (dict "n" 1) %}|{% run "badge" "k" "v" %}|{% getVar "title" %}`
	loader.templates["page/item"] = `item{% .n %}`

	reg := dispatch.NewRegistry()
	var c *Composer
	reg.RegisterFunc("page", func(ctx context.Context, w io.Writer) error {
		return c.Module(ctx, w, "body", nil)
	})
	reg.RegisterFunc("badge", func(ctx context.Context, w io.Writer) error {
		d, _ := dispatch.FromContext(ctx)
		p, _ := d.RunningParams()
		_, err := io.WriteString(w, "badge:"+p.Value("k"))
		return err
	})
	c, d := newTestComposer(t, loader, reg)

	out, err := d.Run(context.Background(), "page", nil, dispatch.ModeReturn)
	require.NoError(t, err)
	assert.Equal(t, "item1|badge:v|Set", out)
}

func TestModuleTemplateErrorPropagates(t *testing.T) {
	loader := pageLoader("", "", "")
	loader.templates["page/body"] = `{% module "missing" %}`

	reg := dispatch.NewRegistry()
	var c *Composer
	reg.RegisterFunc("page", func(ctx context.Context, w io.Writer) error {
		return c.Module(ctx, w, "body", nil)
	})
	c, d := newTestComposer(t, loader, reg)

	_, err := d.Run(context.Background(), "page", nil, dispatch.ModeReturn)
	assert.ErrorIs(t, err, folioerrors.ErrTemplateNotFound)
}

func TestWithFuncs(t *testing.T) {
	loader := pageLoader(`{% upper "x" %}`, "", "")
	c, _ := newTestComposer(t, loader, nil, WithFuncs(template.FuncMap{
		"upper": func(s string) string { return s + "!" },
	}))

	out, err := c.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x!", out)
}

func TestExecute(t *testing.T) {
	c, _ := newTestComposer(t, pageLoader("", "", ""), nil)
	c.SetVar("name", "folio", false)

	var buf bytes.Buffer
	require.NoError(t, c.Execute(context.Background(), &buf, "inline", `hi {% getVar "name" %}`, nil))
	assert.Equal(t, "hi folio", buf.String())
}
