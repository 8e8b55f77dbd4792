package dispatch

import (
	"sort"
	"sync"
	"time"

	folioerrors "github.com/conneroisu/folio/internal/errors"
)

// Registry holds modules registered from Go code.
type Registry struct {
	modules  map[string]Module
	mutex    sync.RWMutex
	watchers []chan ModuleEvent
}

// ModuleEvent represents a change in the registry.
type ModuleEvent struct {
	Type      EventType
	Name      string
	Timestamp time.Time
}

// EventType represents the type of registry event.
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules:  make(map[string]Module),
		watchers: make([]chan ModuleEvent, 0),
	}
}

// Register adds or replaces a module.
func (r *Registry) Register(name string, module Module) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	eventType := EventTypeAdded
	if _, exists := r.modules[name]; exists {
		eventType = EventTypeUpdated
	}

	r.modules[name] = module
	r.notify(ModuleEvent{Type: eventType, Name: name, Timestamp: time.Now()})
}

// RegisterFunc is shorthand for Register(name, ModuleFunc(fn)).
func (r *Registry) RegisterFunc(name string, fn ModuleFunc) {
	r.Register(name, fn)
}

// Get retrieves a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	module, exists := r.modules[name]
	return module, exists
}

// Resolve implements Resolver.
func (r *Registry) Resolve(name string) (Module, error) {
	if module, ok := r.Get(name); ok {
		return module, nil
	}
	return nil, folioerrors.NewModuleNotFound(name)
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove removes a module from the registry.
func (r *Registry) Remove(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.modules[name]; !exists {
		return
	}

	delete(r.modules, name)
	r.notify(ModuleEvent{Type: EventTypeRemoved, Name: name, Timestamp: time.Now()})
}

// Watch returns a channel that receives registry events.
func (r *Registry) Watch() <-chan ModuleEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan ModuleEvent, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it.
func (r *Registry) UnWatch(ch <-chan ModuleEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.modules)
}

// notify must be called with the write lock held.
func (r *Registry) notify(event ModuleEvent) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
