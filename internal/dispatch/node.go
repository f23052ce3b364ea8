// Package dispatch owns the per-descriptor node lifecycle: resolving
// the renderer for a descriptor's type, rendering it with failure
// isolation, and applying live patches targeted at its id. One node
// never takes its page down with it.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/registry"
	"github.com/ucinar/exepad-runtime/internal/render"
)

// Phase is a node's lifecycle state.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
	PhaseRemoved Phase = "removed"
)

// Options configures node construction. Applied is the broker of
// patches the reconciler has committed; leave it nil when no live-edit
// session is active and nodes will not subscribe.
type Options struct {
	Registry *registry.Registry
	Applied  *pubsub.Broker[descriptor.Patch]
	// OnUpdate fires after any state change that alters the node's
	// view. It must be safe to call from background goroutines.
	OnUpdate func(key string)

	RetryBase  time.Duration
	MaxRetries int
}

// DefaultRetryBase and DefaultMaxRetries bound render-error retries.
const (
	DefaultRetryBase  = 250 * time.Millisecond
	DefaultMaxRetries = 3
)

// Node renders one descriptor through its resolved implementation.
type Node struct {
	key  string
	opts Options

	mu        sync.Mutex
	phase     Phase
	desc      *descriptor.Descriptor
	projected string
	renderer  render.Renderer
	rendered  string
	failView  string
	revision  int64
	retries   int
	unmounted bool
	cancel    context.CancelFunc
}

// NewNode builds a node for one descriptor. projected is pre-rendered
// child content, kept separate from the descriptor's own props.
func NewNode(opts Options, key string, d *descriptor.Descriptor, projected string) *Node {
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Node{
		key:       key,
		opts:      opts,
		phase:     PhaseLoading,
		desc:      d,
		projected: projected,
		revision:  d.Revision,
	}
}

// Mount starts resolution and, when a live broker and an id are both
// present, the patch subscription. A descriptor without a type fails
// immediately; the registry is never consulted for it.
func (n *Node) Mount(ctx context.Context) {
	if n.desc.Type == "" {
		n.mu.Lock()
		n.phase = PhaseFailed
		n.failView = render.Unknown("")
		n.mu.Unlock()
		log.Warn(log.CatDispatch, "descriptor has no type", "key", n.key)
		n.notify()
		return
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	if n.opts.Applied != nil && n.desc.ID != "" {
		events := n.opts.Applied.Subscribe(nodeCtx)
		log.SafeGo("dispatch-patches-"+n.key, func() {
			n.watchPatches(events)
		})
	}

	log.SafeGo("dispatch-resolve-"+n.key, func() {
		n.resolve(nodeCtx)
	})
}

// Unmount cancels the patch subscription and discards any in-flight
// resolution or retry. Idempotent.
func (n *Node) Unmount() {
	n.mu.Lock()
	n.unmounted = true
	cancel := n.cancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Key returns the node's composition key.
func (n *Node) Key() string { return n.key }

// Revision returns the revision of the descriptor the node currently
// renders, including revisions advanced by live patches.
func (n *Node) Revision() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.revision
}

// Phase returns the current lifecycle phase.
func (n *Node) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// View returns what the node currently shows: a skeleton while
// loading, the rendered output when ready, a failure placeholder when
// failed, and nothing once removed.
func (n *Node) View() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.phase {
	case PhaseLoading:
		return render.Skeleton()
	case PhaseReady:
		return n.rendered
	case PhaseFailed:
		return n.failView
	default:
		return ""
	}
}

func (n *Node) resolve(ctx context.Context) {
	typeName := n.desc.Type
	renderer, err := n.opts.Registry.Resolve(ctx, typeName)

	n.mu.Lock()
	if n.unmounted || n.phase == PhaseRemoved {
		n.mu.Unlock()
		return
	}
	if err != nil {
		n.phase = PhaseFailed
		n.failView = render.Unknown(typeName)
		n.mu.Unlock()
		log.ErrorErr(log.CatDispatch, "resolve failed", err,
			"key", n.key, "descType", typeName)
		n.notify()
		return
	}
	n.renderer = renderer
	n.mu.Unlock()

	n.tryRender(ctx)
}

// tryRender renders the current descriptor. Errors retry with doubling
// delays up to MaxRetries, then pin the node to a failure view. The
// rest of the page is untouched either way.
func (n *Node) tryRender(ctx context.Context) {
	n.mu.Lock()
	if n.unmounted || n.phase == PhaseRemoved {
		n.mu.Unlock()
		return
	}
	renderer := n.renderer
	rc := render.Context{
		ID:       n.desc.ID,
		Props:    stripReserved(n.desc.Props),
		Children: n.projected,
	}
	typeName := n.desc.Type
	n.mu.Unlock()

	out, err := renderer.Render(ctx, rc)

	n.mu.Lock()
	if n.unmounted || n.phase == PhaseRemoved {
		n.mu.Unlock()
		return
	}
	if err == nil {
		n.phase = PhaseReady
		n.rendered = out
		n.retries = 0
		n.mu.Unlock()
		n.notify()
		return
	}
	if n.retries >= n.opts.MaxRetries {
		n.phase = PhaseFailed
		n.failView = render.Failure(typeName, err)
		n.mu.Unlock()
		log.ErrorErr(log.CatDispatch, "render failed permanently", err,
			"key", n.key, "descType", typeName)
		n.notify()
		return
	}
	n.retries++
	delay := n.opts.RetryBase << (n.retries - 1)
	n.mu.Unlock()

	log.Warn(log.CatDispatch, "render failed, retrying",
		"key", n.key, "descType", typeName, "attempt", n.retries,
		"error", err.Error())
	time.AfterFunc(delay, func() {
		if ctx.Err() == nil {
			n.tryRender(ctx)
		}
	})
}

func (n *Node) watchPatches(events <-chan pubsub.Event[descriptor.Patch]) {
	for ev := range events {
		patch := ev.Payload
		if patch.TargetID != n.desc.ID {
			continue
		}
		n.applyPatch(patch)
	}
}

// applyPatch moves the node to its next state for a committed patch.
// Stale revisions are ignored; a removal is terminal.
func (n *Node) applyPatch(patch descriptor.Patch) {
	n.mu.Lock()
	if n.unmounted || n.phase == PhaseRemoved {
		n.mu.Unlock()
		return
	}
	if patch.Removed {
		n.phase = PhaseRemoved
		n.rendered = ""
		cancel := n.cancel
		n.mu.Unlock()
		log.Info(log.CatDispatch, "node removed", "key", n.key)
		if cancel != nil {
			cancel()
		}
		n.notify()
		return
	}
	if patch.Fragment == nil || patch.Revision <= n.revision {
		n.mu.Unlock()
		return
	}
	n.desc = patch.Fragment.Clone()
	n.revision = patch.Revision
	// A fresh fragment gets a fresh retry budget.
	n.retries = 0
	ready := n.renderer != nil
	n.mu.Unlock()

	log.Debug(log.CatDispatch, "patch applied to node",
		"key", n.key, "revision", patch.Revision)
	if ready {
		n.tryRender(context.Background())
	}
}

// stripReserved drops the structural keys from props before they reach
// an implementation; renderers see only their own contract.
func stripReserved(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == "type" || k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

func (n *Node) notify() {
	if n.opts.OnUpdate != nil {
		n.opts.OnUpdate(n.key)
	}
}
