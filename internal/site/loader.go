// Package site reads a folio site from a filesystem laid out as
//
//	<modules>/<id>/module.html           file module bodies
//	<modules>/<id>/templates/<name>.tpl  module templates
//	<modules>/.templates/<name>.tpl      templates shared by all modules
//	<templates>/<template>/header.html   template parts
//	<templates>/<template>/content.html
//	<templates>/<template>/footer.html
//	<templates>/<template>/modules/<id>/<name>.tpl
//	<templates>/<template>/.templates/<name>.tpl
//
// Everything else under the active template directory is a public asset.
package site

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	folioerrors "github.com/conneroisu/folio/internal/errors"
)

// Default directory names.
const (
	DefaultModulesDir   = "modules"
	DefaultTemplatesDir = "templates"
	SharedTemplatesDir  = ".templates"
	ModuleFile          = "module.html"
	TemplateExt         = ".tpl"
	PartExt             = ".html"
)

// Layout names the directories of a site, relative to its root.
type Layout struct {
	ModulesDir   string `mapstructure:"modules_dir" yaml:"modules_dir" json:"modules_dir"`
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir" json:"templates_dir"`
	Template     string `mapstructure:"template" yaml:"template" json:"template"`
}

func (l Layout) withDefaults() Layout {
	if l.ModulesDir == "" {
		l.ModulesDir = DefaultModulesDir
	}
	if l.TemplatesDir == "" {
		l.TemplatesDir = DefaultTemplatesDir
	}
	l.ModulesDir = path.Clean(strings.Trim(l.ModulesDir, "/"))
	l.TemplatesDir = path.Clean(strings.Trim(l.TemplatesDir, "/"))
	return l
}

// TemplateRoot is the active template's directory.
func (l Layout) TemplateRoot() string {
	return path.Join(l.TemplatesDir, l.Template)
}

type cacheEntry struct {
	body string
	hash uint32
}

// Loader serves template parts, module templates, assets and file modules.
// Reads are cached until Invalidate or Reset. It is safe for concurrent use.
type Loader struct {
	fsys   fs.FS
	layout Layout

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewLoader creates a loader over fsys.
func NewLoader(fsys fs.FS, layout Layout) *Loader {
	return &Loader{
		fsys:   fsys,
		layout: layout.withDefaults(),
		cache:  make(map[string]cacheEntry),
	}
}

// Open creates a loader over the directory root.
func Open(root string, layout Layout) *Loader {
	return NewLoader(os.DirFS(root), layout)
}

// Layout returns the loader's layout with defaults applied.
func (l *Loader) Layout() Layout {
	return l.layout
}

// FS returns the underlying filesystem.
func (l *Loader) FS() fs.FS {
	return l.fsys
}

// Load returns the body of a template part.
func (l *Loader) Load(part string) (string, error) {
	return l.read(path.Join(l.layout.TemplateRoot(), part+PartExt))
}

// TemplateLocations lists where the module template name of module is looked
// up, in order.
func (l *Loader) TemplateLocations(module, name string) []string {
	file := name + TemplateExt
	root := l.layout.TemplateRoot()
	return []string{
		path.Join(l.layout.ModulesDir, module, "templates", file),
		path.Join(l.layout.ModulesDir, SharedTemplatesDir, file),
		path.Join(root, "modules", module, file),
		path.Join(root, SharedTemplatesDir, file),
	}
}

// LoadModuleTemplate returns the first module template found at
// TemplateLocations.
func (l *Loader) LoadModuleTemplate(module, name string) (string, error) {
	for _, loc := range l.TemplateLocations(module, name) {
		body, err := l.read(loc)
		if err == nil {
			return body, nil
		}
		if !folioerrors.IsNotFound(err) {
			return "", err
		}
	}
	return "", folioerrors.NewNotFound(folioerrors.ErrCodeTemplateNotFound,
		fmt.Sprintf("not exist template %q in module %q", name, module)).
		WithModule(module).
		WithContext("template", name).
		WithContext("locations", l.TemplateLocations(module, name))
}

// AssetExists reports whether ref names a regular file inside the active
// template directory.
func (l *Loader) AssetExists(ref string) bool {
	p, ok := l.AssetPath(ref)
	if !ok {
		return false
	}
	info, err := fs.Stat(l.fsys, p)
	return err == nil && info.Mode().IsRegular()
}

// AssetPath maps a public reference to its path in the filesystem. It fails
// for references escaping the template directory.
func (l *Loader) AssetPath(ref string) (string, bool) {
	rel := strings.TrimPrefix(path.Clean("/"+ref), "/")
	if rel == "" || strings.Contains(ref, "..") {
		return "", false
	}
	p := path.Join(l.layout.TemplateRoot(), rel)
	if !fs.ValidPath(p) {
		return "", false
	}
	return p, true
}

// Invalidate drops the cached bodies of the given filesystem paths.
func (l *Loader) Invalidate(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		delete(l.cache, path.Clean(p))
	}
}

// Reset drops every cached body.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]cacheEntry)
}

// Changed reports whether the body at p differs from the cached one, and
// refreshes the cache entry. An uncached path is reported as changed.
func (l *Loader) Changed(p string) bool {
	p = path.Clean(p)
	l.mu.RLock()
	old, cached := l.cache[p]
	l.mu.RUnlock()

	l.Invalidate(p)
	if _, err := l.read(p); err != nil {
		return cached
	}
	l.mu.RLock()
	cur := l.cache[p]
	l.mu.RUnlock()
	return !cached || cur.hash != old.hash
}

func (l *Loader) read(p string) (string, error) {
	if !fs.ValidPath(p) {
		return "", folioerrors.NewNotFound(folioerrors.ErrCodeFileNotFound, "invalid path "+p).WithFile(p)
	}

	l.mu.RLock()
	entry, ok := l.cache[p]
	l.mu.RUnlock()
	if ok {
		return entry.body, nil
	}

	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", folioerrors.NewNotFound(folioerrors.ErrCodeFileNotFound, "file not exists").WithFile(p)
		}
		return "", folioerrors.FileOperationError("read", p, err)
	}

	entry = cacheEntry{body: string(data), hash: crc32.ChecksumIEEE(data)}
	l.mu.Lock()
	l.cache[p] = entry
	l.mu.Unlock()
	return entry.body, nil
}
