package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/router"
)

// MaintenanceFile switches the maintenance hook on while it exists in the
// site root.
const MaintenanceFile = ".maintenance"

// Hooks is the set of before-hooks a configuration can name.
type Hooks struct {
	mu    sync.RWMutex
	hooks map[string]router.Hook
}

// NewHooks creates an empty hook set.
func NewHooks() *Hooks {
	return &Hooks{hooks: make(map[string]router.Hook)}
}

// DefaultHooks returns the built-in hooks for the site at root:
//
//	allow        always lets the request through
//	deny         always diverts it
//	maintenance  diverts every request while <root>/.maintenance exists
func DefaultHooks(root string) *Hooks {
	h := NewHooks()
	h.Register("allow", func(context.Context) bool { return true })
	h.Register("deny", func(context.Context) bool { return false })
	h.Register("maintenance", MaintenanceHook(filepath.Join(root, MaintenanceFile)))
	return h
}

// MaintenanceHook diverts requests while marker exists.
func MaintenanceHook(marker string) router.Hook {
	return func(context.Context) bool {
		_, err := os.Stat(marker)
		return errors.Is(err, fs.ErrNotExist)
	}
}

// Register adds or replaces the hook called name.
func (h *Hooks) Register(name string, hook router.Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[name] = hook
}

// Lookup returns the hooks for names in order. An unknown name fails the
// whole lookup.
func (h *Hooks) Lookup(names []string) ([]router.Hook, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	hooks := make([]router.Hook, 0, len(names))
	for _, name := range names {
		hook, ok := h.hooks[name]
		if !ok {
			return nil, folioerrors.UnknownHookError(name)
		}
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

// Names returns the registered hook names, sorted.
func (h *Hooks) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.hooks))
	for name := range h.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
