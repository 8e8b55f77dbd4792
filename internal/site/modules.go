package site

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/conneroisu/folio/internal/dispatch"
	"github.com/conneroisu/folio/internal/engine"
	folioerrors "github.com/conneroisu/folio/internal/errors"
)

// ModuleData is the dot of a module.html body.
type ModuleData struct {
	Name   string
	Params map[string]string
	Path   string
	Query  url.Values
}

// fileModule executes <modules>/<id>/module.html with the request's composer.
type fileModule struct {
	loader *Loader
	name   string
	file   string
}

func (m *fileModule) Run(ctx context.Context, w io.Writer) error {
	body, err := m.loader.read(m.file)
	if err != nil {
		return err
	}

	req, ok := engine.RequestFrom(ctx)
	if !ok {
		_, err := io.WriteString(w, body)
		return err
	}

	data := ModuleData{Name: m.name, Path: req.FullPath(), Query: req.Query}
	if p, ok := req.Dispatcher.RunningParams(); ok {
		data.Params = p.Map()
	}
	return req.Composer.Execute(ctx, w, m.file, body, data)
}

// ModulePath is where the body of file module name lives.
func (l *Loader) ModulePath(name string) string {
	return path.Join(l.layout.ModulesDir, name, ModuleFile)
}

// Resolve implements dispatch.Resolver for file modules.
func (l *Loader) Resolve(name string) (dispatch.Module, error) {
	if !validModuleName(name) {
		return nil, folioerrors.NewModuleNotFound(name)
	}
	file := l.ModulePath(name)
	info, err := fs.Stat(l.fsys, file)
	if err != nil || !info.Mode().IsRegular() {
		return nil, folioerrors.NewModuleNotFound(name).WithFile(file)
	}
	return &fileModule{loader: l, name: name, file: file}, nil
}

// Modules lists the file modules found under the modules directory, sorted.
// Nested modules are named by their path, e.g. "blog/post".
func (l *Loader) Modules() ([]string, error) {
	var names []string
	root := l.layout.ModulesDir
	err := fs.WalkDir(l.fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && p != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if d.IsDir() || d.Name() != ModuleFile || path.Dir(p) == root {
			return nil
		}
		name := strings.TrimPrefix(path.Dir(p), root+"/")
		if validModuleName(name) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, folioerrors.FileOperationError("scan modules", root, err)
	}
	sort.Strings(names)
	return names, nil
}

func validModuleName(name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}
	return true
}
