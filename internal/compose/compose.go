// Package compose turns ordered descriptor sequences into a single
// rendered view. Each element renders through a dispatch node; compose
// only owns ordering, keying and the layout projection rule.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
)

// RenderNode renders one descriptor. The key is stable across
// re-renders of the same sequence; projected carries pre-rendered
// content for descriptors that project children.
type RenderNode func(ctx context.Context, key string, d *descriptor.Descriptor, projected string) (string, error)

// Composer renders descriptor lists and pages.
type Composer struct {
	renderNode RenderNode
	// isLayout reports whether a type projects the remainder of its
	// page as children (registry category "layout").
	isLayout func(typeName string) bool
}

func New(renderNode RenderNode, isLayout func(string) bool) *Composer {
	if isLayout == nil {
		isLayout = func(string) bool { return false }
	}
	return &Composer{renderNode: renderNode, isLayout: isLayout}
}

// Key derives the identity of a list element: the explicit id when
// present, otherwise type plus position. Unidentified elements are
// keyed by where they sit, so reorders re-render them.
func Key(d *descriptor.Descriptor, index int) string {
	if d.ID != "" {
		return d.ID
	}
	return fmt.Sprintf("%s#%d", d.Type, index)
}

// List renders a descriptor sequence in order. An empty sequence
// renders to the empty string, and a single element renders to exactly
// its own output; composition never adds surrounding structure.
func (c *Composer) List(ctx context.Context, items []*descriptor.Descriptor) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	blocks := make([]string, 0, len(items))
	for i, d := range items {
		out, err := c.renderNode(ctx, Key(d, i), d, "")
		if err != nil {
			return "", fmt.Errorf("compose index %d (%s): %w", i, d.Type, err)
		}
		if out != "" {
			blocks = append(blocks, out)
		}
	}
	return strings.Join(blocks, "\n"), nil
}

// Page renders a page's content. The first layout-category descriptor
// encountered receives everything after it, pre-rendered, as projected
// children; elements before it render in place.
func (c *Composer) Page(ctx context.Context, page *descriptor.Page) (string, error) {
	items := page.Content
	for i, d := range items {
		if !c.isLayout(d.Type) {
			continue
		}
		projected, err := c.List(ctx, items[i+1:])
		if err != nil {
			return "", err
		}
		shell, err := c.renderNode(ctx, Key(d, i), d, projected)
		if err != nil {
			return "", fmt.Errorf("compose layout %s: %w", d.Type, err)
		}
		head, err := c.List(ctx, items[:i])
		if err != nil {
			return "", err
		}
		if head == "" {
			return shell, nil
		}
		return head + "\n" + shell, nil
	}
	return c.List(ctx, items)
}
