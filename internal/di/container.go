// Package di is the named instance container behind folio's engine and
// requests. The engine owns a root container for site-wide services; every
// request gets a child scope that sees the root's instances and adds its own
// (the composer under "template", the dispatcher, the resolved route).
package di

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	folioerrors "github.com/conneroisu/folio/internal/errors"
)

// Well-known instance names.
const (
	Template   = "template"
	Dispatcher = "dispatcher"
	Route      = "route"
	Logger     = "logger"
	Config     = "config"
	Engine     = "engine"
	Publisher  = "publisher"
	Uploader   = "uploader"
)

// FactoryFunc creates an instance, resolving what it needs through resolver.
type FactoryFunc func(resolver DependencyResolver) (interface{}, error)

// DependencyResolver is handed to factories. Lookups made through it take
// part in cycle detection.
type DependencyResolver interface {
	Get(name string) (interface{}, error)
	MustGet(name string) interface{}
}

// Definition describes a registered instance.
type Definition struct {
	Name      string
	Factory   FactoryFunc
	Singleton bool
}

// Container manages named instances for one scope.
type Container struct {
	parent      *Container
	definitions map[string]Definition
	singletons  map[string]interface{}
	created     []string
	mu          sync.RWMutex
}

// Builder configures a registration fluently.
type Builder struct {
	name      string
	container *Container
}

// NewContainer creates a root container.
func NewContainer() *Container {
	return &Container{
		definitions: make(map[string]Definition),
		singletons:  make(map[string]interface{}),
	}
}

// Child creates a scope that falls back to c for names it does not define.
func (c *Container) Child() *Container {
	child := NewContainer()
	child.parent = c
	return child
}

// Register registers a factory called on every Get.
func (c *Container) Register(name string, factory FactoryFunc) *Builder {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.definitions[name] = Definition{Name: name, Factory: factory}
	delete(c.singletons, name)
	return &Builder{name: name, container: c}
}

// RegisterSingleton registers a factory called once per scope.
func (c *Container) RegisterSingleton(name string, factory FactoryFunc) *Builder {
	return c.Register(name, factory).AsSingleton()
}

// RegisterInstance registers an existing value.
func (c *Container) RegisterInstance(name string, instance interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.definitions[name] = Definition{Name: name, Singleton: true}
	c.singletons[name] = instance
	c.created = append(c.created, name)
}

// Get returns the instance registered under name in this scope or an
// ancestor.
func (c *Container) Get(name string) (interface{}, error) {
	return c.getWithResolver(name, make(map[string]bool))
}

// MustGet is Get that panics on failure.
func (c *Container) MustGet(name string) interface{} {
	instance, err := c.Get(name)
	if err != nil {
		panic(fmt.Sprintf("failed to get instance '%s': %v", name, err))
	}
	return instance
}

// Has reports whether name is registered in this scope or an ancestor.
func (c *Container) Has(name string) bool {
	for scope := c; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		_, exists := scope.definitions[name]
		scope.mu.RUnlock()
		if exists {
			return true
		}
	}
	return false
}

// Names returns the names registered in this scope, sorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.definitions))
	for name := range c.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Container) getWithResolver(name string, resolving map[string]bool) (interface{}, error) {
	if resolving[name] {
		chain := make([]string, 0, len(resolving))
		for n := range resolving {
			chain = append(chain, n)
		}
		sort.Strings(chain)
		return nil, folioerrors.NewInternalError(folioerrors.ErrCodeInstanceCycle,
			fmt.Sprintf("circular dependency detected for instance '%s' (resolving %s)", name, strings.Join(chain, ", ")), nil)
	}

	c.mu.RLock()
	definition, exists := c.definitions[name]
	instance, created := c.singletons[name]
	c.mu.RUnlock()

	if !exists {
		if c.parent != nil {
			return c.parent.getWithResolver(name, resolving)
		}
		return nil, folioerrors.NewInternalError(folioerrors.ErrCodeInstanceNotInitialized,
			fmt.Sprintf("instance '%s' not initialized", name), nil)
	}
	if created {
		return instance, nil
	}
	if definition.Factory == nil {
		return nil, folioerrors.NewInternalError(folioerrors.ErrCodeInstanceNotInitialized,
			fmt.Sprintf("instance '%s' has no factory", name), nil)
	}

	resolving[name] = true
	instance, err := definition.Factory(&dependencyResolver{container: c, resolving: resolving})
	delete(resolving, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance '%s': %w", name, err)
	}

	if !definition.Singleton {
		return instance, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.singletons[name]; ok {
		return existing, nil
	}
	c.singletons[name] = instance
	c.created = append(c.created, name)
	return instance, nil
}

// Shutdown closes this scope's instances in reverse creation order. Instances
// implementing Shutdown(ctx) or Close() are closed; the scope is emptied.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	created := c.created
	singletons := c.singletons
	c.created = nil
	c.singletons = make(map[string]interface{})
	c.mu.Unlock()

	var failures []string
	for i := len(created) - 1; i >= 0; i-- {
		name := created[i]
		var err error
		switch instance := singletons[name].(type) {
		case interface{ Shutdown(context.Context) error }:
			err = instance.Shutdown(ctx)
		case interface{ Close() error }:
			err = instance.Close()
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(failures, "; "))
	}
	return nil
}

// AsSingleton marks the registration as created once per scope.
func (b *Builder) AsSingleton() *Builder {
	b.update(func(d *Definition) { d.Singleton = true })
	return b
}

func (b *Builder) update(fn func(*Definition)) {
	b.container.mu.Lock()
	defer b.container.mu.Unlock()
	d := b.container.definitions[b.name]
	fn(&d)
	b.container.definitions[b.name] = d
}

// dependencyResolver threads the cycle-detection set through nested lookups.
type dependencyResolver struct {
	container *Container
	resolving map[string]bool
}

func (r *dependencyResolver) Get(name string) (interface{}, error) {
	return r.container.getWithResolver(name, r.resolving)
}

func (r *dependencyResolver) MustGet(name string) interface{} {
	instance, err := r.Get(name)
	if err != nil {
		panic(fmt.Sprintf("failed to get instance '%s': %v", name, err))
	}
	return instance
}

// Get returns the instance registered under name asserted to T.
func Get[T any](c *Container, name string) (T, error) {
	var zero T
	instance, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, folioerrors.NewInternalError(folioerrors.ErrCodeInstanceNotInitialized,
			fmt.Sprintf("instance '%s' is %T, not %T", name, instance, zero), nil)
	}
	return typed, nil
}
