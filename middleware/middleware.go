// Package middleware chains the query processing handlers: every request
// walks the ordered handler list until one of them writes a response.
package middleware

import (
	"context"
)

// Handler processes one step of a query.
type Handler interface {
	Name() string
	ServeDNS(context.Context, *Chain)
}

// Registry is the ordered handler list built once at startup and handed to
// the server explicitly; handlers never register themselves from init.
type Registry struct {
	handlers []Handler
}

// NewRegistry returns a registry over the given handlers, in execution
// order.
func NewRegistry(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

// Handlers returns the execution order.
func (r *Registry) Handlers() []Handler {
	return r.handlers
}

// List returns the handler names in execution order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.Name())
	}
	return names
}

// Get returns a handler by name, nil when absent.
func (r *Registry) Get(name string) Handler {
	for _, h := range r.handlers {
		if h.Name() == name {
			return h
		}
	}
	return nil
}
