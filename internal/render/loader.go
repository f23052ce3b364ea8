package render

import "context"

// Loader produces a Renderer on demand. Loaders stand in for the
// code-split imports of a browser runtime: they may be slow or fail
// transiently, so resolution happens off the hot render path and
// results are cached by the registry.
type Loader func(ctx context.Context) (Renderer, error)

// StaticLoader wraps an already-constructed renderer.
func StaticLoader(r Renderer) Loader {
	return func(context.Context) (Renderer, error) {
		return r, nil
	}
}

// BuiltinLoaders returns the loader map for the builtin leaf renderers,
// keyed by conventional registry paths (category/size-class/type).
func BuiltinLoaders() map[string]Loader {
	return map[string]Loader{
		"content/small/heading": StaticLoader(Func(Heading)),
		"content/small/text":    StaticLoader(Func(Text)),
		"content/small/divider": StaticLoader(Func(Divider)),
		"content/medium/markdown": func(context.Context) (Renderer, error) {
			return NewMarkdown(80, "dark")
		},
		"media/medium/image":      StaticLoader(Func(Image)),
		"layout/large/section":    StaticLoader(Func(Section)),
		"layout/large/page-shell": StaticLoader(Func(PageShell)),
	}
}
