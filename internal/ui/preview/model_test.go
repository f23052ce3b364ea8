package preview

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
	"github.com/ucinar/exepad-runtime/internal/fetch"
	"github.com/ucinar/exepad-runtime/internal/notice"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/registry"
	"github.com/ucinar/exepad-runtime/internal/render"
	"github.com/ucinar/exepad-runtime/internal/runtime"
	"github.com/ucinar/exepad-runtime/internal/testutil"
	"github.com/ucinar/exepad-runtime/internal/transport"
)

type stubSource struct{ tree *descriptor.Tree }

func (s stubSource) FetchTree(ctx context.Context, appID, mode, routeSlug string) (*descriptor.Tree, error) {
	return s.tree.Clone(), nil
}

func newPreviewModel(t *testing.T) (Model, *transport.FakeChannel, *notice.Broker) {
	t.Helper()
	reg := registry.New()
	for _, typeName := range []string{"heading", "text"} {
		tn := typeName
		reg.Register(tn, render.StaticLoader(render.Func(
			func(ctx context.Context, rc render.Context) (string, error) {
				return tn + ":" + rc.ID, nil
			})), registry.Metadata{Category: "content"})
	}

	tree := testutil.SimplePage(t)
	rt := runtime.New(runtime.Config{AppID: "app-test", Mode: fetch.ModePreview, Route: "home"},
		runtime.Deps{
			Source:   stubSource{tree: tree},
			Registry: reg,
		})
	rt.Store().Reset(tree)
	t.Cleanup(rt.Close)

	channel := transport.NewFakeChannel()
	notices := notice.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := New(ctx, Options{
		Runtime:       rt,
		Channel:       channel,
		NoticeBroker:  notices,
		Slug:          "home",
		ShowStatusBar: true,
	})
	return m, channel, notices
}

func TestModel_LoadingThenPage(t *testing.T) {
	m, _, _ := newPreviewModel(t)
	require.Contains(t, m.View(), "loading")

	next, _ := m.Update(loadedMsg{})
	m = next.(Model)
	require.NotContains(t, m.View(), "loading")
}

func TestModel_QuitKey(t *testing.T) {
	m, _, _ := newPreviewModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}

func TestModel_NoticeShowsInStatusBar(t *testing.T) {
	m, _, _ := newPreviewModel(t)
	next, _ := m.Update(loadedMsg{})
	m = next.(Model)

	next, _ = m.Update(pubsub.Event[notice.Notice]{
		Type:    pubsub.NoticeEvent,
		Payload: notice.Notice{Level: notice.LevelWarning, Message: "queue full"},
	})
	m = next.(Model)
	require.Contains(t, m.View(), "queue full")
}

func TestModel_ConnectionStateInStatusBar(t *testing.T) {
	m, _, _ := newPreviewModel(t)
	next, _ := m.Update(loadedMsg{})
	m = next.(Model)
	require.Contains(t, m.View(), "disconnected")

	next, _ = m.Update(pubsub.Event[transport.State]{
		Type:    pubsub.StateEvent,
		Payload: transport.StateConnected,
	})
	m = next.(Model)
	require.Contains(t, m.View(), "live")

	next, _ = m.Update(pubsub.Event[transport.State]{
		Type:    pubsub.StateEvent,
		Payload: transport.StateError,
	})
	m = next.(Model)
	require.Contains(t, m.View(), "read-only")
}

func TestModel_AppliedUpdateRecomposes(t *testing.T) {
	m, _, _ := newPreviewModel(t)
	next, _ := m.Update(loadedMsg{})
	m = next.(Model)

	next, cmd := m.Update(pubsub.Event[string]{Type: pubsub.UpdatedEvent, Payload: "h1"})
	m = next.(Model)
	require.NotNil(t, cmd, "listener must re-arm after an update event")
}
