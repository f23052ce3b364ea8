// Package testutil builds descriptor trees for tests without the JSON
// noise of literal fixtures.
package testutil

import (
	"testing"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
)

// Builder accumulates slots and pages and assembles a tree.
type Builder struct {
	t    *testing.T
	tree descriptor.Tree
	page *descriptor.Page
}

// NewBuilder creates a tree builder.
func NewBuilder(t *testing.T, appID string) *Builder {
	t.Helper()
	return &Builder{t: t, tree: descriptor.Tree{AppID: appID}}
}

// Node constructs a standalone descriptor.
func Node(id, typeName string, opts ...NodeOption) *descriptor.Descriptor {
	d := defaultNode(id, typeName)
	for _, opt := range opts {
		opt(&d)
	}
	return &d
}

// WithHeader appends descriptors to the header slot.
func (b *Builder) WithHeader(nodes ...*descriptor.Descriptor) *Builder {
	b.tree.Header = append(b.tree.Header, nodes...)
	return b
}

// WithFooter appends descriptors to the footer slot.
func (b *Builder) WithFooter(nodes ...*descriptor.Descriptor) *Builder {
	b.tree.Footer = append(b.tree.Footer, nodes...)
	return b
}

// WithSidebar appends descriptors to the sidebar slot.
func (b *Builder) WithSidebar(nodes ...*descriptor.Descriptor) *Builder {
	b.tree.Sidebar = append(b.tree.Sidebar, nodes...)
	return b
}

// WithPage starts a page; subsequent WithContent calls fill it.
func (b *Builder) WithPage(slug, name string) *Builder {
	b.page = &descriptor.Page{Slug: slug, Name: name}
	b.tree.Pages = append(b.tree.Pages, b.page)
	return b
}

// WithContent appends descriptors to the current page.
func (b *Builder) WithContent(nodes ...*descriptor.Descriptor) *Builder {
	if b.page == nil {
		b.t.Fatal("WithContent before WithPage")
	}
	b.page.Content = append(b.page.Content, nodes...)
	return b
}

// Build returns the assembled tree.
func (b *Builder) Build() *descriptor.Tree {
	b.t.Helper()
	tree := b.tree.Clone()
	return tree
}
