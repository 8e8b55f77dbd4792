package dispatch

import (
	folioerrors "github.com/conneroisu/folio/internal/errors"
)

// Resolver turns a module identifier into an executable module. Resolvers
// return an error satisfying errors.Is(err, errors.ErrModuleNotFound) when
// the identifier is unknown to them.
type Resolver interface {
	Resolve(name string) (Module, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (Module, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(name string) (Module, error) {
	return f(name)
}

// ChainResolver asks each resolver in turn. A not-found answer moves on to
// the next resolver; any other error stops the chain.
type ChainResolver []Resolver

// Resolve implements Resolver.
func (c ChainResolver) Resolve(name string) (Module, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		module, err := r.Resolve(name)
		if err == nil {
			return module, nil
		}
		if !folioerrors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, folioerrors.NewModuleNotFound(name)
}

// Builtins returns a resolver for the modules every site has: the not-found
// page answering the router's sentinel.
func Builtins(notFound string) Resolver {
	registry := NewRegistry()
	registry.Register(notFound, Text("<h1>404 Not Found</h1>"))
	return registry
}
