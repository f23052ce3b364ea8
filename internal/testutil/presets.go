package testutil

import (
	"testing"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
)

// SimplePage returns a one-page tree with a heading and a paragraph,
// the canonical shape for store and runtime tests.
func SimplePage(t *testing.T) *descriptor.Tree {
	t.Helper()
	return NewBuilder(t, "app-test").
		WithPage("home", "Home").
		WithContent(
			Node("h1", "heading", WithText("Hello")),
			Node("t1", "text", WithText("Body")),
		).
		Build()
}

// FullLayout returns a tree exercising every slot plus a layout shell
// with projected content.
func FullLayout(t *testing.T) *descriptor.Tree {
	t.Helper()
	return NewBuilder(t, "app-test").
		WithHeader(Node("nav", "text", WithText("nav"))).
		WithSidebar(Node("side", "text", WithText("side"))).
		WithFooter(Node("foot", "text", WithText("foot"))).
		WithPage("home", "Home").
		WithContent(
			Node("shell", "page-shell"),
			Node("h1", "heading", WithText("Hello")),
			Node("t1", "text", WithText("Body")),
		).
		WithPage("about", "About").
		WithContent(Node("a1", "text", WithText("About us"))).
		Build()
}
