package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
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

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	fail    error
}

func (f *fakeUploader) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]string{}
		f.types = map[string]string{}
	}
	key := aws.ToString(in.Key)
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func file(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func testSite() fstest.MapFS {
	return fstest.MapFS{
		"templates/site/header.html":              file(`<title>{{title}}</title>`),
		"templates/site/content.html":             file(`<main>{% .Content %}</main>`),
		"templates/site/footer.html":              file(`<footer/>`),
		"templates/site/app.css":                  file("body{}"),
		"templates/site/img/logo.svg":             file("<svg/>"),
		"templates/site/modules/blog/card.tpl":    file("card"),
		"templates/site/.templates/shared.tpl":    file("shared"),
		"modules/home/module.html":                file(`{% setVar "title" "Home" %}home`),
		"modules/about/module.html":               file(`{% setVar "title" "About" %}about`),
		"modules/blog/module.html":                file(`post {% param "0" %}`),
	}
}

func newTestEngine(t *testing.T, routes router.Table) (*engine.Engine, *site.Loader) {
	t.Helper()
	loader := site.NewLoader(testSite(), site.Layout{Template: "site"})
	e, err := engine.New(engine.Options{
		Router:   router.NewMatcher(router.Config{Routes: routes}),
		Resolver: dispatch.ChainResolver{loader},
		Loader:   loader,
		Template: composer.Config{Template: "site"},
	})
	require.NoError(t, err)
	return e, loader
}

func siteRoutes() router.Table {
	return router.Table{
		"/":      {Module: "home"},
		"about":  {Module: "about"},
		"blog/*": {Module: "blog"},
		"draft":  {Module: ""},
	}
}

func templateFS(t *testing.T, loader *site.Loader) fs.FS {
	t.Helper()
	sub, err := fs.Sub(loader.FS(), loader.Layout().TemplateRoot())
	require.NoError(t, err)
	return sub
}

// records decodes JSON log lines whose message is msg.
func records(t *testing.T, logs *bytes.Buffer, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(logs)
	for dec.More() {
		var record map[string]any
		require.NoError(t, dec.Decode(&record))
		if record["msg"] == msg {
			out = append(out, record)
		}
	}
	return out
}

func jsonLogger(logs *bytes.Buffer) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Format: "json", Output: logs})
}

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	return string(data)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "index.html"},
		{"", "index.html"},
		{"/about/", "about/index.html"},
		{"/blog/first/", "blog/first/index.html"},
		{"/../../etc/", "etc/index.html"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.path))
		})
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "index.html", ObjectKey("", "index.html"))
	assert.Equal(t, "www/index.html", ObjectKey("www", "index.html"))
	assert.Equal(t, "www/site/app.css", ObjectKey("/www/", "site/app.css"))
}

func TestNew(t *testing.T) {
	e, _ := newTestEngine(t, siteRoutes())

	_, err := New(nil, Options{Output: "public"})
	assert.Equal(t, folioerrors.ErrCodeInvalidConfig, folioerrors.Code(err))

	_, err = New(e, Options{})
	assert.Equal(t, folioerrors.ErrCodeInvalidConfig, folioerrors.Code(err))

	_, err = New(e, Options{Output: "public", Bucket: "site"})
	assert.Equal(t, folioerrors.ErrCodeInvalidConfig, folioerrors.Code(err))
}

func TestPaths(t *testing.T) {
	e, _ := newTestEngine(t, siteRoutes())
	p, err := New(e, Options{Output: t.TempDir(), Paths: []string{"blog/first", "/about", "blog/first/"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"/", "/about/", "/blog/first/"}, p.Paths())
}

func TestPublish(t *testing.T) {
	e, loader := newTestEngine(t, siteRoutes())
	out := t.TempDir()

	p, err := New(e, Options{
		Output:      out,
		Paths:       []string{"blog/first", "nowhere"},
		Assets:      templateFS(t, loader),
		AssetPrefix: "site",
	})
	require.NoError(t, err)

	result, err := p.Publish(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Pages, 3)
	assert.Equal(t, Page{Path: "/", File: "index.html", Module: "home", Bytes: len("<title>Home</title><main>home</main><footer/>")}, result.Pages[0])
	assert.Equal(t, []string{"/nowhere/"}, result.Skipped)
	assert.Equal(t, []string{"site/app.css", "site/img/logo.svg"}, result.Assets)
	assert.Zero(t, result.Uploaded)

	assert.Equal(t, "<title>Home</title><main>home</main><footer/>", readFile(t, filepath.Join(out, "index.html")))
	assert.Equal(t, "<title>About</title><main>about</main><footer/>", readFile(t, filepath.Join(out, "about", "index.html")))
	assert.Contains(t, readFile(t, filepath.Join(out, "blog", "first", "index.html")), "<main>post first</main>")
	assert.Equal(t, "body{}", readFile(t, filepath.Join(out, "site", "app.css")))

	for _, absent := range []string{
		"nowhere/index.html",
		"draft/index.html",
		"site/header.html",
		"site/modules/blog/card.tpl",
		"site/.templates/shared.tpl",
	} {
		_, err := os.Stat(filepath.Join(out, filepath.FromSlash(absent)))
		assert.True(t, errors.Is(err, fs.ErrNotExist), absent)
	}
}

func TestPublishUploads(t *testing.T) {
	e, loader := newTestEngine(t, siteRoutes())
	uploader := &fakeUploader{}

	p, err := New(e, Options{
		Output:      t.TempDir(),
		Assets:      templateFS(t, loader),
		AssetPrefix: "site",
		Bucket:      "example-site",
		Prefix:      "www",
		Uploader:    uploader,
	})
	require.NoError(t, err)

	result, err := p.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Uploaded)

	assert.Equal(t, "<title>Home</title><main>home</main><footer/>", uploader.objects["www/index.html"])
	assert.Contains(t, uploader.objects, "www/about/index.html")
	assert.Equal(t, "body{}", uploader.objects["www/site/app.css"])
	assert.Contains(t, uploader.types["www/index.html"], "text/html")
	assert.Contains(t, uploader.types["www/site/app.css"], "text/css")
	assert.Equal(t, "image/svg+xml", uploader.types["www/site/img/logo.svg"])
}

func TestPublishUploadFailure(t *testing.T) {
	e, _ := newTestEngine(t, siteRoutes())
	p, err := New(e, Options{
		Output:   t.TempDir(),
		Bucket:   "example-site",
		Uploader: &fakeUploader{fail: errors.New("access denied")},
	})
	require.NoError(t, err)

	result, err := p.Publish(context.Background())
	require.Error(t, err)
	assert.Equal(t, folioerrors.ErrCodePublishFailed, folioerrors.Code(err))
	assert.Contains(t, err.Error(), "access denied")
	assert.Zero(t, result.Uploaded)
	assert.Len(t, result.Pages, 2)
}

func TestPublishLogsDuration(t *testing.T) {
	e, _ := newTestEngine(t, siteRoutes())

	t.Run("completed", func(t *testing.T) {
		var logs bytes.Buffer
		p, err := New(e, Options{Output: t.TempDir(), Logger: jsonLogger(&logs)})
		require.NoError(t, err)

		_, err = p.Publish(context.Background())
		require.NoError(t, err)

		done := records(t, &logs, "Operation completed")
		require.Len(t, done, 1)
		assert.Equal(t, "publish", done[0]["operation"])
		assert.Equal(t, 2.0, done[0]["pages"])
		assert.Contains(t, done[0], "duration_ms")
	})

	t.Run("failed", func(t *testing.T) {
		var logs bytes.Buffer
		p, err := New(e, Options{
			Output:   t.TempDir(),
			Bucket:   "example-site",
			Uploader: &fakeUploader{fail: errors.New("access denied")},
			Logger:   jsonLogger(&logs),
		})
		require.NoError(t, err)

		_, err = p.Publish(context.Background())
		require.Error(t, err)

		failed := records(t, &logs, "Operation failed")
		require.Len(t, failed, 1)
		assert.Equal(t, "publish", failed[0]["operation"])
	})
}

func TestPublishModuleFailure(t *testing.T) {
	e, _ := newTestEngine(t, router.Table{"/": {Module: "home"}, "broken": {Module: "ghost"}})
	p, err := New(e, Options{Output: t.TempDir()})
	require.NoError(t, err)

	_, err = p.Publish(context.Background())
	require.Error(t, err)
	assert.Equal(t, folioerrors.ErrCodePublishFailed, folioerrors.Code(err))
	assert.ErrorIs(t, err, folioerrors.ErrModuleNotFound)
}

func TestPublishCanceled(t *testing.T) {
	e, _ := newTestEngine(t, siteRoutes())
	p, err := New(e, Options{Output: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Publish(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewS3Client(t *testing.T) {
	_, err := NewS3Client("")
	assert.Equal(t, folioerrors.ErrCodeInvalidConfig, folioerrors.Code(err))

	t.Setenv(EnvEndpoint, "http://localhost:9000")
	client, err := NewS3Client("us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", client.Options().Region)
	assert.True(t, client.Options().UsePathStyle)

	t.Setenv(EnvAccessKeyID, "")
	_, err = envCredentials(context.Background())
	assert.Error(t, err)

	t.Setenv(EnvAccessKeyID, "id")
	t.Setenv(EnvSecretAccessKey, "secret")
	creds, err := envCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", creds.AccessKeyID)
	assert.Equal(t, "environment", creds.Source)
}
