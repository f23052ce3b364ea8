// Package runtime assembles the rendering pipeline: it fetches the
// descriptor tree, keeps it in the reconciling store, and composes
// pages out of per-descriptor dispatch nodes. A live patch re-renders
// only the nodes it targets; everything else keeps its cached view.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ucinar/exepad-runtime/internal/compose"
	"github.com/ucinar/exepad-runtime/internal/descriptor"
	"github.com/ucinar/exepad-runtime/internal/dispatch"
	"github.com/ucinar/exepad-runtime/internal/fetch"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/notice"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/reconcile"
	"github.com/ucinar/exepad-runtime/internal/registry"
	"github.com/ucinar/exepad-runtime/internal/render"
	"github.com/ucinar/exepad-runtime/internal/tracing"
)

// Config tunes the runtime host.
type Config struct {
	AppID string `mapstructure:"app_id"`
	Mode  string `mapstructure:"mode"`
	Route string `mapstructure:"route"`

	RetryBase  time.Duration `mapstructure:"retry_base"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Deps are the runtime's collaborators.
type Deps struct {
	Source   fetch.TreeSource
	Registry *registry.Registry
	Notices  *notice.Broker
	Tracer   *tracing.Provider
	// BusyFn reports editor-side processing for a node id; busy nodes
	// render with a processing overlay.
	BusyFn func(id string) bool
}

type mountedNode struct {
	node      *dispatch.Node
	projected string
	typeName  string
	gen       uint64
}

// Runtime hosts one app instance.
type Runtime struct {
	cfg  Config
	deps Deps

	store    *reconcile.Store
	composer *compose.Composer
	updates  *pubsub.Broker[string]

	mu     sync.Mutex
	nodes  map[string]*mountedNode
	live   bool
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a runtime. Call Load before the first RenderPage.
func New(cfg Config, deps Deps) *Runtime {
	if cfg.Mode == "" {
		cfg.Mode = fetch.ModePreview
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:     cfg,
		deps:    deps,
		store:   reconcile.NewStore(&descriptor.Tree{}, deps.Tracer),
		updates: pubsub.NewBroker[string](),
		nodes:   make(map[string]*mountedNode),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.composer = compose.New(r.renderNode, r.isLayout)
	return r
}

// Store exposes the live tree store.
func (r *Runtime) Store() *reconcile.Store { return r.store }

// Updates publishes node keys whose views changed; the UI re-composes
// on each one.
func (r *Runtime) Updates() *pubsub.Broker[string] { return r.updates }

// Load performs the initial fetch and seeds the store.
func (r *Runtime) Load(ctx context.Context) error {
	tree, err := r.fetchTree(ctx)
	if err != nil {
		return err
	}
	r.store.Reset(tree)
	log.Info(log.CatRender, "tree loaded", "appId", r.cfg.AppID, "mode", r.cfg.Mode)
	return nil
}

// Refresh re-fetches the tree and applies only what changed, leaving
// untouched nodes alone.
func (r *Runtime) Refresh(ctx context.Context) error {
	tree, err := r.fetchTree(ctx)
	if err != nil {
		return err
	}
	patches := r.store.Refresh(ctx, tree)
	log.Info(log.CatRender, "tree refreshed", "patches", len(patches))
	r.updates.Publish(pubsub.UpdatedEvent, "")
	return nil
}

// Reload replaces the tree wholesale and rebuilds every node.
func (r *Runtime) Reload(ctx context.Context) error {
	tree, err := r.fetchTree(ctx)
	if err != nil {
		return err
	}
	r.store.Reset(tree)

	r.mu.Lock()
	old := r.nodes
	r.nodes = make(map[string]*mountedNode)
	r.mu.Unlock()
	for _, m := range old {
		m.node.Unmount()
	}
	log.Info(log.CatRender, "tree reloaded")
	r.updates.Publish(pubsub.UpdatedEvent, "")
	return nil
}

func (r *Runtime) fetchTree(ctx context.Context) (*descriptor.Tree, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "fetch-tree")
	defer span.End()
	tree, err := r.deps.Source.FetchTree(ctx, r.cfg.AppID, r.cfg.Mode, r.cfg.Route)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return tree, nil
}

// SetLive switches live-edit patch subscriptions on or off. Nodes are
// rebuilt so every identified node gains or loses its subscription.
func (r *Runtime) SetLive(live bool) {
	r.mu.Lock()
	if r.live == live {
		r.mu.Unlock()
		return
	}
	r.live = live
	old := r.nodes
	r.nodes = make(map[string]*mountedNode)
	r.mu.Unlock()

	for _, m := range old {
		m.node.Unmount()
	}
	log.Info(log.CatRender, "live mode toggled", "live", live)
	r.updates.Publish(pubsub.UpdatedEvent, "")
}

// RenderPage composes the page for a route: header slot, page content
// (with layout projection), footer slot. A missing route renders an
// explicit not-found view; a missing tree renders the error page. One
// broken node never takes the page down.
func (r *Runtime) RenderPage(ctx context.Context, slug string) string {
	ctx, span := r.deps.Tracer.Start(ctx, "render-page")
	defer span.End()

	tree := r.store.Tree()
	if tree == nil || len(tree.Pages) == 0 {
		return render.ErrorPage(errors.New("no configuration loaded"))
	}
	page, err := tree.Page(slug)
	if err != nil {
		if errors.Is(err, descriptor.ErrPageNotFound) {
			log.Warn(log.CatRender, "route not found", "slug", slug)
			return render.NotFoundPage(slug)
		}
		return render.ErrorPage(err)
	}

	r.mu.Lock()
	r.gen++
	r.mu.Unlock()

	blocks := make([]string, 0, 3)
	header, _ := r.composer.List(ctx, tree.Header)
	if header != "" {
		blocks = append(blocks, header)
	}
	body, err := r.composer.Page(ctx, page)
	if err != nil {
		// Node failures are absorbed inside dispatch; reaching here
		// means composition itself broke.
		log.ErrorErr(log.CatRender, "compose failed", err, "slug", slug)
		return render.ErrorPage(err)
	}
	if body != "" {
		blocks = append(blocks, body)
	}
	footer, _ := r.composer.List(ctx, tree.Footer)
	if footer != "" {
		blocks = append(blocks, footer)
	}
	r.pruneStaleNodes()

	return joinBlocks(blocks)
}

// renderNode is the compose callback: it reuses the mounted node for a
// key when the descriptor still matches, and rebuilds it when the
// type, revision or projected content moved on.
func (r *Runtime) renderNode(ctx context.Context, key string, d *descriptor.Descriptor, projected string) (string, error) {
	r.mu.Lock()
	m, ok := r.nodes[key]
	rebuild := !ok ||
		m.typeName != d.Type ||
		m.projected != projected ||
		d.Revision > m.node.Revision()
	if rebuild {
		opts := dispatch.Options{
			Registry:   r.deps.Registry,
			OnUpdate:   r.onNodeUpdate,
			RetryBase:  r.cfg.RetryBase,
			MaxRetries: r.cfg.MaxRetries,
		}
		if r.live && d.ID != "" {
			opts.Applied = r.store.Applied()
		}
		old := m
		m = &mountedNode{
			node:      dispatch.NewNode(opts, key, d.Clone(), projected),
			projected: projected,
			typeName:  d.Type,
			gen:       r.gen,
		}
		r.nodes[key] = m
		r.mu.Unlock()
		if old != nil {
			old.node.Unmount()
		}
		m.node.Mount(r.ctx)
	} else {
		m.gen = r.gen
		r.mu.Unlock()
	}

	view := m.node.View()
	if d.ID != "" && r.deps.BusyFn != nil && r.deps.BusyFn(d.ID) {
		view = render.Busy(view)
	}
	return view, nil
}

// pruneStaleNodes unmounts nodes the latest composition never touched.
func (r *Runtime) pruneStaleNodes() {
	r.mu.Lock()
	var stale []*mountedNode
	for key, m := range r.nodes {
		if m.gen != r.gen {
			stale = append(stale, m)
			delete(r.nodes, key)
		}
	}
	r.mu.Unlock()
	for _, m := range stale {
		m.node.Unmount()
	}
}

func (r *Runtime) isLayout(typeName string) bool {
	meta, ok := r.deps.Registry.Meta(typeName)
	return ok && meta.Category == "layout"
}

func (r *Runtime) onNodeUpdate(key string) {
	r.updates.Publish(pubsub.UpdatedEvent, key)
}

// Close unmounts every node and stops background work.
func (r *Runtime) Close() {
	r.cancel()
	r.mu.Lock()
	old := r.nodes
	r.nodes = make(map[string]*mountedNode)
	r.mu.Unlock()
	for _, m := range old {
		m.node.Unmount()
	}
	r.updates.Close()
}

func joinBlocks(blocks []string) string {
	out := ""
	for i, b := range blocks {
		if i > 0 {
			out += "\n"
		}
		out += b
	}
	return out
}
