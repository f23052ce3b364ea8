package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/registry"
	"github.com/ucinar/exepad-runtime/internal/render"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New()
}

func registerEcho(r *registry.Registry, typeName string) {
	r.Register(typeName, render.StaticLoader(render.Func(
		func(ctx context.Context, rc render.Context) (string, error) {
			out := typeName + ":" + rc.ID
			if rc.Children != "" {
				out += "{" + rc.Children + "}"
			}
			return out, nil
		})), registry.Metadata{Category: "content"})
}

func waitPhase(t *testing.T, n *Node, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return n.Phase() == want
	}, 2*time.Second, 5*time.Millisecond, "phase never reached %s", want)
}

func TestNode_MissingType_FailsWithoutResolve(t *testing.T) {
	reg := newTestRegistry(t)
	var loads int32
	reg.Register("never", func(ctx context.Context) (render.Renderer, error) {
		atomic.AddInt32(&loads, 1)
		return nil, errors.New("unreachable")
	}, registry.Metadata{})

	n := NewNode(Options{Registry: reg}, "k", &descriptor.Descriptor{ID: "x"}, "")
	n.Mount(context.Background())

	require.Equal(t, PhaseFailed, n.Phase())
	require.NotEmpty(t, n.View())
	require.Zero(t, atomic.LoadInt32(&loads))
}

func TestNode_UnknownType_FailedViewNamesType(t *testing.T) {
	reg := newTestRegistry(t)
	n := NewNode(Options{Registry: reg}, "k",
		&descriptor.Descriptor{ID: "x", Type: "mystery-widget"}, "")
	n.Mount(context.Background())
	defer n.Unmount()

	waitPhase(t, n, PhaseFailed)
	require.Contains(t, n.View(), "mystery-widget")
}

func TestNode_SkeletonWhileLoading(t *testing.T) {
	reg := newTestRegistry(t)
	release := make(chan struct{})
	reg.Register("slow", func(ctx context.Context) (render.Renderer, error) {
		<-release
		return render.Func(func(context.Context, render.Context) (string, error) {
			return "done", nil
		}), nil
	}, registry.Metadata{})

	n := NewNode(Options{Registry: reg}, "k",
		&descriptor.Descriptor{ID: "x", Type: "slow"}, "")
	n.Mount(context.Background())
	defer n.Unmount()

	require.Equal(t, PhaseLoading, n.Phase())
	require.Equal(t, render.Skeleton(), n.View())

	close(release)
	waitPhase(t, n, PhaseReady)
	require.Equal(t, "done", n.View())
}

func TestNode_PropsStripped_ProjectionSeparate(t *testing.T) {
	reg := newTestRegistry(t)
	var got render.Context
	var mu sync.Mutex
	reg.Register("probe", render.StaticLoader(render.Func(
		func(ctx context.Context, rc render.Context) (string, error) {
			mu.Lock()
			got = rc
			mu.Unlock()
			return "ok", nil
		})), registry.Metadata{})

	d := &descriptor.Descriptor{
		ID:   "p1",
		Type: "probe",
		Props: map[string]any{
			"type": "probe", "id": "p1", "text": "hello",
		},
	}
	n := NewNode(Options{Registry: reg}, "p1", d, "projected-kids")
	n.Mount(context.Background())
	defer n.Unmount()
	waitPhase(t, n, PhaseReady)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "p1", got.ID)
	require.Equal(t, "projected-kids", got.Children)
	require.Equal(t, map[string]any{"text": "hello"}, got.Props)
}

func TestNode_RenderErrorRetriesThenRecovers(t *testing.T) {
	reg := newTestRegistry(t)
	var calls int32
	reg.Register("flaky", render.StaticLoader(render.Func(
		func(ctx context.Context, rc render.Context) (string, error) {
			if atomic.AddInt32(&calls, 1) <= 2 {
				return "", errors.New("transient")
			}
			return "recovered", nil
		})), registry.Metadata{})

	n := NewNode(Options{
		Registry: reg, RetryBase: time.Millisecond, MaxRetries: 3,
	}, "k", &descriptor.Descriptor{ID: "x", Type: "flaky"}, "")
	n.Mount(context.Background())
	defer n.Unmount()

	waitPhase(t, n, PhaseReady)
	require.Equal(t, "recovered", n.View())
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNode_RenderErrorExhaustsRetries(t *testing.T) {
	reg := newTestRegistry(t)
	boom := errors.New("broken for good")
	reg.Register("broken", render.StaticLoader(render.Func(
		func(ctx context.Context, rc render.Context) (string, error) {
			return "", boom
		})), registry.Metadata{})

	n := NewNode(Options{
		Registry: reg, RetryBase: time.Millisecond, MaxRetries: 2,
	}, "k", &descriptor.Descriptor{ID: "x", Type: "broken"}, "")
	n.Mount(context.Background())
	defer n.Unmount()

	waitPhase(t, n, PhaseFailed)
	require.Contains(t, n.View(), "broken")
}

func TestNode_PatchReRenders_StaleIgnored(t *testing.T) {
	reg := newTestRegistry(t)
	registerEcho(reg, "heading")
	applied := pubsub.NewBroker[descriptor.Patch]()
	defer applied.Close()

	var updates int32
	n := NewNode(Options{
		Registry: reg,
		Applied:  applied,
		OnUpdate: func(string) { atomic.AddInt32(&updates, 1) },
	}, "h1", &descriptor.Descriptor{ID: "h1", Type: "heading", Revision: 1}, "")
	n.Mount(context.Background())
	defer n.Unmount()
	waitPhase(t, n, PhaseReady)

	applied.Publish(pubsub.AppliedEvent, descriptor.Patch{
		TargetID: "h1", Revision: 2,
		Fragment: &descriptor.Descriptor{ID: "h1", Type: "heading", Revision: 2},
	})
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&updates) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, PhaseReady, n.Phase())

	// A replay of an old revision changes nothing.
	before := atomic.LoadInt32(&updates)
	applied.Publish(pubsub.AppliedEvent, descriptor.Patch{
		TargetID: "h1", Revision: 1,
		Fragment: &descriptor.Descriptor{ID: "h1", Type: "heading", Revision: 1},
	})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, atomic.LoadInt32(&updates))
}

func TestNode_RemovalPatchIsTerminal(t *testing.T) {
	reg := newTestRegistry(t)
	registerEcho(reg, "heading")
	applied := pubsub.NewBroker[descriptor.Patch]()
	defer applied.Close()

	n := NewNode(Options{Registry: reg, Applied: applied}, "h1",
		&descriptor.Descriptor{ID: "h1", Type: "heading", Revision: 1}, "")
	n.Mount(context.Background())
	waitPhase(t, n, PhaseReady)

	applied.Publish(pubsub.AppliedEvent, descriptor.Patch{TargetID: "h1", Removed: true})
	waitPhase(t, n, PhaseRemoved)
	require.Equal(t, "", n.View())

	// Nothing revives a removed node.
	applied.Publish(pubsub.AppliedEvent, descriptor.Patch{
		TargetID: "h1", Revision: 5,
		Fragment: &descriptor.Descriptor{ID: "h1", Type: "heading", Revision: 5},
	})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, PhaseRemoved, n.Phase())
}

func TestNode_PatchForOtherNodeIgnored(t *testing.T) {
	reg := newTestRegistry(t)
	registerEcho(reg, "heading")
	applied := pubsub.NewBroker[descriptor.Patch]()
	defer applied.Close()

	n := NewNode(Options{Registry: reg, Applied: applied}, "h1",
		&descriptor.Descriptor{ID: "h1", Type: "heading", Revision: 1}, "")
	n.Mount(context.Background())
	defer n.Unmount()
	waitPhase(t, n, PhaseReady)

	applied.Publish(pubsub.AppliedEvent, descriptor.Patch{TargetID: "other", Removed: true})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, PhaseReady, n.Phase())
}

func TestNode_LateResolutionAfterUnmountIgnored(t *testing.T) {
	reg := newTestRegistry(t)
	release := make(chan struct{})
	reg.Register("slow", func(ctx context.Context) (render.Renderer, error) {
		<-release
		return render.Func(func(context.Context, render.Context) (string, error) {
			return "late", nil
		}), nil
	}, registry.Metadata{})

	var updates int32
	n := NewNode(Options{
		Registry: reg,
		OnUpdate: func(string) { atomic.AddInt32(&updates, 1) },
	}, "k", &descriptor.Descriptor{ID: "x", Type: "slow"}, "")
	n.Mount(context.Background())
	n.Unmount()
	close(release)

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&updates))
	require.NotEqual(t, PhaseReady, n.Phase())
}
