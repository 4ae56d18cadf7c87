// Package surface defines the embedded web surface janus bridges into.
//
// A Surface is one page in some rendering engine. The bridge only needs a
// named message channel from the page to the host, a way to install a script
// that runs in every document the surface loads, and on-demand evaluation.
// Implementations live in subpackages.
package surface

import (
	"context"
	"encoding/json"
)

// Handler receives the raw body of one message posted on a channel.
// Handlers for one channel are invoked in emission order, one at a time.
type Handler func(body []byte)

// Surface is a single embedded page.
type Surface interface {
	// AddMessageHandler exposes a channel called name to the page and routes
	// its messages to h. Adding a name twice replaces the handler.
	AddMessageHandler(ctx context.Context, name string, h Handler) error

	// RemoveMessageHandler detaches the channel. No handler call for name
	// starts after it returns. Removing an unknown name is a no-op.
	RemoveMessageHandler(name string)

	// AddUserScript installs source to run in every document loaded from now on.
	AddUserScript(ctx context.Context, source string) error

	// Evaluate runs expr in the current document and returns its value as JSON.
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)

	// Load navigates the surface to url.
	Load(ctx context.Context, url string) error

	// Close destroys the surface. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Factory creates surfaces.
type Factory interface {
	NewSurface(ctx context.Context) (Surface, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Surface, error)

// NewSurface calls f.
func (f FactoryFunc) NewSurface(ctx context.Context) (Surface, error) {
	return f(ctx)
}
