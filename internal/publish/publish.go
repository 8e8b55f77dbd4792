// Package publish renders a folio site to static files. Every literal route
// and every configured extra path is rendered through the engine and written
// atomically below the output directory as <path>/index.html; template assets
// are copied next to the pages. The result can be uploaded to S3.
package publish

import (
	"bytes"
	"context"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/natefinch/atomic"

	"github.com/conneroisu/folio/internal/engine"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/router"
)

// IndexFile is the file name a page is written to inside its directory.
const IndexFile = "index.html"

// Uploader is the part of the S3 client publishing needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures a Publisher.
type Options struct {
	// Output is the directory pages are written to.
	Output string
	// Paths are rendered in addition to the literal routes.
	Paths []string
	// Assets is the template directory; AssetPrefix is its public name.
	Assets      fs.FS
	AssetPrefix string

	Bucket   string
	Prefix   string
	Uploader Uploader

	Logger logging.Logger
}

// Page is one published page.
type Page struct {
	Path   string
	File   string
	Module string
	Bytes  int
}

// Result summarizes a publish run.
type Result struct {
	Pages    []Page
	Assets   []string
	Skipped  []string
	Uploaded int
}

// Publisher renders a site to disk.
type Publisher struct {
	engine *engine.Engine
	opts   Options
	logger logging.Logger
}

// New creates a Publisher for e.
func New(e *engine.Engine, opts Options) (*Publisher, error) {
	if e == nil {
		return nil, folioerrors.ConfigurationError("engine", "publishing requires an engine", nil)
	}
	if opts.Output == "" {
		return nil, folioerrors.ConfigurationError("publish.output", "output directory is not set", opts.Output)
	}
	if opts.Bucket != "" && opts.Uploader == nil {
		return nil, folioerrors.ConfigurationError("publish.bucket", "bucket configured without an S3 client", opts.Bucket)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{engine: e, opts: opts, logger: logger.WithComponent("publish")}, nil
}

// Paths returns the site paths to render: the literal routes of the table
// followed by the configured extra paths, canonicalized and deduplicated.
func (p *Publisher) Paths() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(u router.URL) {
		full := router.BuildFullPath(u, nil)
		if !seen[full] {
			seen[full] = true
			out = append(out, full)
		}
	}

	for _, u := range router.LiteralPaths(p.engine.Routes()) {
		add(u)
	}
	for _, extra := range p.opts.Paths {
		add(router.ParseURL(extra, ""))
	}
	return out
}

// FileName maps a canonical site path to its file below the output
// directory, e.g. "/blog/post/" to "blog/post/index.html".
func FileName(fullPath string) string {
	clean := strings.Trim(path.Clean("/"+fullPath), "/")
	if clean == "" {
		return IndexFile
	}
	return path.Join(clean, IndexFile)
}

// Publish renders every path and copies the template assets. Pages answering
// 404 are skipped. With an uploader every written file is put to the bucket.
func (p *Publisher) Publish(ctx context.Context) (*Result, error) {
	op := logging.StartOperation(p.logger, "publish")
	result, err := p.publish(ctx)
	if err != nil {
		op.EndWithError(ctx, err)
		return result, err
	}
	op.End(ctx,
		"pages", len(result.Pages),
		"assets", len(result.Assets),
		"skipped", len(result.Skipped),
		"uploaded", result.Uploaded,
		"output", p.opts.Output,
	)
	return result, nil
}

func (p *Publisher) publish(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, sitePath := range p.Paths() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, ok, err := p.renderPage(ctx, sitePath)
		if err != nil {
			return result, err
		}
		if !ok {
			p.logger.Warn(ctx, nil, "skipping page that resolves to not found", "path", sitePath)
			result.Skipped = append(result.Skipped, sitePath)
			continue
		}
		result.Pages = append(result.Pages, page)
		p.logger.Debug(ctx, "published page", "path", page.Path, "file", page.File, "module", page.Module)
	}

	assets, err := p.copyAssets()
	if err != nil {
		return result, err
	}
	result.Assets = assets

	if p.opts.Uploader != nil && p.opts.Bucket != "" {
		files := make([]string, 0, len(result.Pages)+len(result.Assets))
		for _, page := range result.Pages {
			files = append(files, page.File)
		}
		files = append(files, result.Assets...)

		n, err := p.upload(ctx, files)
		result.Uploaded = n
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

func (p *Publisher) renderPage(ctx context.Context, sitePath string) (Page, bool, error) {
	var buf bytes.Buffer
	req, err := p.engine.NewRequest(ctx, &buf, sitePath, nil)
	if err != nil {
		return Page{}, false, folioerrors.PublishError(sitePath, err)
	}
	defer func() {
		if cerr := req.Close(ctx); cerr != nil {
			p.logger.Warn(ctx, cerr, "closing request instances", "path", sitePath)
		}
	}()

	if err := req.Run(ctx); err != nil {
		return Page{}, false, folioerrors.PublishError(sitePath, err)
	}
	if req.Status() != http.StatusOK {
		return Page{}, false, nil
	}

	name := FileName(req.FullPath())
	if err := p.write(name, buf.Bytes()); err != nil {
		return Page{}, false, err
	}
	return Page{Path: sitePath, File: name, Module: req.Route.Module, Bytes: buf.Len()}, true, nil
}

// copyAssets copies every template file that is neither a part nor a module
// template to <output>/<prefix>/.
func (p *Publisher) copyAssets() ([]string, error) {
	if p.opts.Assets == nil || p.opts.AssetPrefix == "" {
		return nil, nil
	}

	var copied []string
	err := fs.WalkDir(p.opts.Assets, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name != "." && (strings.HasPrefix(d.Name(), ".") || name == "modules") {
				return fs.SkipDir
			}
			return nil
		}
		switch path.Ext(name) {
		case ".html", ".tpl":
			return nil
		}

		data, err := fs.ReadFile(p.opts.Assets, name)
		if err != nil {
			return err
		}
		out := path.Join(p.opts.AssetPrefix, name)
		if err := p.write(out, data); err != nil {
			return err
		}
		copied = append(copied, out)
		return nil
	})
	if err != nil {
		return copied, folioerrors.FileOperationError("copy assets", p.opts.AssetPrefix, err)
	}
	sort.Strings(copied)
	return copied, nil
}

func (p *Publisher) write(name string, data []byte) error {
	target := filepath.Join(p.opts.Output, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return folioerrors.FileOperationError("create directory", filepath.Dir(target), err)
	}
	if err := atomic.WriteFile(target, bytes.NewReader(data)); err != nil {
		return folioerrors.FileOperationError("write", target, err)
	}
	return nil
}

func (p *Publisher) upload(ctx context.Context, files []string) (int, error) {
	uploaded := 0
	for _, name := range files {
		f, err := os.Open(filepath.Join(p.opts.Output, filepath.FromSlash(name)))
		if err != nil {
			return uploaded, folioerrors.FileOperationError("open", name, err)
		}

		_, err = p.opts.Uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.opts.Bucket),
			Key:         aws.String(ObjectKey(p.opts.Prefix, name)),
			Body:        f,
			ContentType: aws.String(contentType(name)),
		})
		f.Close()
		if err != nil {
			return uploaded, folioerrors.PublishError(name, err)
		}
		uploaded++
	}
	return uploaded, nil
}

// ObjectKey joins the key prefix and a published file name.
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
