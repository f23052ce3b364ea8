package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucinar/exepad-runtime/internal/render"
)

func staticText(out string) render.Loader {
	return render.StaticLoader(render.Func(func(_ context.Context, _ render.Context) (string, error) {
		return out, nil
	}))
}

func TestRegistry_RegisterResolve(t *testing.T) {
	reg := New()
	reg.Register("heading", staticText("H"), Metadata{Category: "content"})

	require.True(t, reg.IsRegistered("heading"))
	require.False(t, reg.IsRegistered("missing"))

	impl, err := reg.Resolve(context.Background(), "heading")
	require.NoError(t, err)

	out, err := impl.Render(context.Background(), render.Context{})
	require.NoError(t, err)
	require.Equal(t, "H", out)
}

func TestRegistry_ResolveNotRegistered(t *testing.T) {
	reg := New()
	_, err := reg.Resolve(context.Background(), "widget-foo-bar")
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_LoaderCalledOnce(t *testing.T) {
	reg := New()
	calls := 0
	reg.Register("text", func(context.Context) (render.Renderer, error) {
		calls++
		return render.Func(render.Text), nil
	}, Metadata{})

	for range 3 {
		_, err := reg.Resolve(context.Background(), "text")
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)
}

func TestRegistry_LoadFailureNotCached(t *testing.T) {
	reg := New()
	calls := 0
	reg.Register("flaky", func(context.Context) (render.Renderer, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("network blip during code-split load")
		}
		return render.Func(render.Text), nil
	}, Metadata{})

	_, err := reg.Resolve(context.Background(), "flaky")
	require.ErrorIs(t, err, ErrLoadFailed)

	// The failure must not poison the cache.
	_, err = reg.Resolve(context.Background(), "flaky")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRegistry_ResolveSync_CacheOnly(t *testing.T) {
	reg := New()
	reg.Register("heading", staticText("H"), Metadata{})

	require.Nil(t, reg.ResolveSync("heading"), "sync lookup must not trigger loading")

	_, err := reg.Resolve(context.Background(), "heading")
	require.NoError(t, err)

	require.NotNil(t, reg.ResolveSync("heading"))
	require.Nil(t, reg.ResolveSync("missing"))
}

func TestRegistry_LastWriterWins(t *testing.T) {
	reg := New()
	reg.Register("heading", staticText("first"), Metadata{Version: "1"})

	_, err := reg.Resolve(context.Background(), "heading")
	require.NoError(t, err)

	// Re-registration replaces the binding and drops the cached impl.
	reg.Register("heading", staticText("second"), Metadata{Version: "2"})

	impl, err := reg.Resolve(context.Background(), "heading")
	require.NoError(t, err)
	out, _ := impl.Render(context.Background(), render.Context{})
	require.Equal(t, "second", out)

	meta, ok := reg.Meta("heading")
	require.True(t, ok)
	require.Equal(t, "2", meta.Version)
}

func TestRegistry_ListByCategory(t *testing.T) {
	reg := New()
	reg.Register("heading", staticText(""), Metadata{Category: "content"})
	reg.Register("text", staticText(""), Metadata{Category: "content"})
	reg.Register("page-shell", staticText(""), Metadata{Category: "layout"})

	require.Equal(t, []string{"heading", "text"}, reg.ListByCategory("content"))
	require.Equal(t, []string{"page-shell"}, reg.ListByCategory("layout"))
	require.Empty(t, reg.ListByCategory("media"))
	require.Equal(t, []string{"heading", "page-shell", "text"}, reg.Types())
}

func TestRegistry_Preload_BestEffort(t *testing.T) {
	reg := New()
	var mu sync.Mutex
	loaded := map[string]bool{}
	loader := func(name string, fail bool) render.Loader {
		return func(context.Context) (render.Renderer, error) {
			mu.Lock()
			loaded[name] = true
			mu.Unlock()
			if fail {
				return nil, errors.New("boom")
			}
			return render.Func(render.Text), nil
		}
	}
	reg.Register("good", loader("good", false), Metadata{})
	reg.Register("bad", loader("bad", true), Metadata{})

	reg.Preload(context.Background(), []string{"good", "bad", "unregistered"})

	require.True(t, loaded["good"])
	require.True(t, loaded["bad"])
	require.NotNil(t, reg.ResolveSync("good"))
	require.Nil(t, reg.ResolveSync("bad"), "failed preload must not cache")
}
