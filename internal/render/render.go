// Package render defines the contract between the dispatch engine and
// leaf view implementations, plus the placeholder views the engine
// falls back to. The core treats every implementation as opaque: it
// hands over props and projected children, and gets back a rendered
// block of text.
package render

import "context"

// Context carries everything an implementation may use for one render.
// Props never include the descriptor's type tag or internal bookkeeping
// fields; ID is provided separately for implementations that need
// identity for their own subscription logic.
type Context struct {
	ID    string
	Props map[string]any

	// Children is already-rendered content projected into this
	// implementation (layout descriptors wrap the rest of the page).
	// Empty for plain leaves.
	Children string
}

// Renderer turns one descriptor's props into a rendered view.
type Renderer interface {
	Render(ctx context.Context, rc Context) (string, error)
}

// Func adapts a plain function to the Renderer interface.
type Func func(ctx context.Context, rc Context) (string, error)

// Render implements Renderer.
func (f Func) Render(ctx context.Context, rc Context) (string, error) {
	return f(ctx, rc)
}
