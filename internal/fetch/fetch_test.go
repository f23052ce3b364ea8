package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleTree = `{
	"appId": "app-1",
	"pages": [{
		"slug": "home",
		"content": [{"id": "h1", "type": "heading", "revision": 1,
			"props": {"text": "Hello"}}]
	}]
}`

func TestHTTPSource_FetchTree(t *testing.T) {
	var gotPath, gotCacheControl string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotCacheControl = r.Header.Get("Cache-Control")
		w.Write([]byte(sampleTree))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, nil)
	tree, err := src.FetchTree(context.Background(), "app-1", ModePreview, "home")
	require.NoError(t, err)
	require.Equal(t, "app-1", tree.AppID)
	require.NotNil(t, tree.FindByID("h1"))
	require.Equal(t, "/apps/app-1/config?mode=preview&route=home", gotPath)
	require.Equal(t, "no-cache", gotCacheControl, "preview must bypass caches")

	_, err = src.FetchTree(context.Background(), "app-1", ModePublished, "home")
	require.NoError(t, err)
	require.Empty(t, gotCacheControl, "published fetches are cacheable")
}

func TestHTTPSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, nil)
	_, err := src.FetchTree(context.Background(), "app-1", ModePreview, "home")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestFileSource_FetchTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleTree), 0o644))

	src := NewFileSource(path)
	tree, err := src.FetchTree(context.Background(), "app-1", ModePreview, "home")
	require.NoError(t, err)
	require.NotNil(t, tree.FindByID("h1"))

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.json")).
		FetchTree(context.Background(), "app-1", ModePreview, "home")
	require.Error(t, err)
}

func TestWatcher_DebouncesSaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleTree), 0o644))

	w, err := NewWatcher(WatcherConfig{Path: path, DebounceDur: 50 * time.Millisecond})
	require.NoError(t, err)
	changes, err := w.Start()
	require.NoError(t, err)
	defer w.Stop()

	// A burst of writes collapses into one signal.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(sampleTree), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal")
	}
	select {
	case <-changes:
		t.Fatal("burst produced a second signal")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleTree), 0o644))

	w, err := NewWatcher(DefaultWatcherConfig(path))
	require.NoError(t, err)
	w.debounce = 30 * time.Millisecond
	changes, err := w.Start()
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	select {
	case <-changes:
		t.Fatal("unrelated file triggered a signal")
	case <-time.After(150 * time.Millisecond):
	}
}
