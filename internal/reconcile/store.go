package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/tracing"
)

// Store errors. Both are reported, never fatal: a session keeps running
// and may fall back to a full re-fetch.
var (
	ErrTargetNotFound = errors.New("patch target not found in tree")
	ErrStaleRevision  = errors.New("patch revision not newer than current")
)

// Store owns the live descriptor tree. Mutations are copy-on-write: a
// patch clones the tree, edits the clone and swaps the reference, so a
// render holding the previous version never observes a torn tree.
// Applied patches fan out on a shared broker; subscribers filter by
// target id.
type Store struct {
	mu        sync.RWMutex
	tree      *descriptor.Tree
	revisions map[string]int64
	removed   map[string]bool

	applied *pubsub.Broker[descriptor.Patch]
	tracer  *tracing.Provider
}

// NewStore creates a store over an initial tree (which may be nil until
// the first fetch lands).
func NewStore(tree *descriptor.Tree, tracer *tracing.Provider) *Store {
	s := &Store{
		revisions: make(map[string]int64),
		removed:   make(map[string]bool),
		applied:   pubsub.NewBroker[descriptor.Patch](),
		tracer:    tracer,
	}
	s.Reset(tree)
	return s
}

// Applied exposes the broker carrying every applied patch.
func (s *Store) Applied() *pubsub.Broker[descriptor.Patch] {
	return s.applied
}

// Tree returns the current tree version. Callers treat it as immutable;
// the store never edits a tree it has handed out.
func (s *Store) Tree() *descriptor.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// Revision returns the last applied revision for an id (0 if unknown).
func (s *Store) Revision(id string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revisions[id]
}

// Reset replaces the tree wholesale without emitting patches, seeding
// the revision table from the new tree. Used for the initial fetch.
func (s *Store) Reset(tree *descriptor.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
	s.revisions = make(map[string]int64)
	s.removed = make(map[string]bool)
	if tree != nil {
		tree.Walk(func(d *descriptor.Descriptor) bool {
			if d.ID != "" && d.Revision > s.revisions[d.ID] {
				s.revisions[d.ID] = d.Revision
			}
			return true
		})
	}
}

// Apply applies one patch copy-on-write. Idempotent: a patch whose
// revision is not newer than the current one for its target is
// discarded with ErrStaleRevision and no event. A target absent from
// the tree yields ErrTargetNotFound so the caller can fall back to a
// full re-fetch.
func (s *Store) Apply(ctx context.Context, patch descriptor.Patch) error {
	ctx, span := s.tracer.Start(ctx, "reconcile.apply")
	defer span.End()

	if err := patch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.Removed {
		return s.applyRemoval(patch)
	}
	return s.applyFragment(patch)
}

func (s *Store) applyFragment(patch descriptor.Patch) error {
	current := s.revisions[patch.TargetID]
	if patch.Revision <= current {
		log.Debug(log.CatPatch, "discarding stale patch", "target", patch.TargetID,
			"revision", patch.Revision, "current", current)
		return fmt.Errorf("%w: %q rev %d <= %d", ErrStaleRevision, patch.TargetID, patch.Revision, current)
	}

	if s.tree == nil || s.tree.FindByID(patch.TargetID) == nil {
		log.Warn(log.CatPatch, "patch target not in tree", "target", patch.TargetID)
		return fmt.Errorf("%w: %q", ErrTargetNotFound, patch.TargetID)
	}

	next := s.tree.Clone()
	replaced := replaceEverywhere(next, patch.TargetID, patch.Fragment)
	if replaced == 0 {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, patch.TargetID)
	}

	s.tree = next
	s.revisions[patch.TargetID] = patch.Revision
	delete(s.removed, patch.TargetID)

	log.Debug(log.CatPatch, "applied patch", "target", patch.TargetID,
		"revision", patch.Revision, "occurrences", replaced)
	s.applied.Publish(pubsub.AppliedEvent, patch)
	return nil
}

func (s *Store) applyRemoval(patch descriptor.Patch) error {
	if s.removed[patch.TargetID] {
		// Redelivered removal: already gone, nothing to do.
		return nil
	}
	if s.tree == nil || s.tree.FindByID(patch.TargetID) == nil {
		log.Warn(log.CatPatch, "removal target not in tree", "target", patch.TargetID)
		return fmt.Errorf("%w: %q", ErrTargetNotFound, patch.TargetID)
	}

	next := s.tree.Clone()
	excised := exciseEverywhere(next, patch.TargetID)
	if excised == 0 {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, patch.TargetID)
	}

	s.tree = next
	s.removed[patch.TargetID] = true
	if patch.Revision > s.revisions[patch.TargetID] {
		s.revisions[patch.TargetID] = patch.Revision
	}

	log.Debug(log.CatPatch, "removed descriptor", "target", patch.TargetID, "occurrences", excised)
	s.applied.Publish(pubsub.AppliedEvent, patch)
	return nil
}

// Refresh swaps in a freshly fetched tree and emits the minimal patch
// list against the previous version, so only changed nodes re-render.
func (s *Store) Refresh(ctx context.Context, tree *descriptor.Tree) []descriptor.Patch {
	_, span := s.tracer.Start(ctx, "reconcile.refresh")
	defer span.End()

	s.mu.Lock()
	patches := Diff(s.tree, tree)
	s.tree = tree
	for _, p := range patches {
		if p.Revision > s.revisions[p.TargetID] {
			s.revisions[p.TargetID] = p.Revision
		}
		delete(s.removed, p.TargetID)
	}
	s.mu.Unlock()

	log.Info(log.CatPatch, "refreshed tree", "patches", len(patches))
	for _, p := range patches {
		s.applied.Publish(pubsub.AppliedEvent, p)
	}
	return patches
}

// replaceEverywhere swaps a fresh clone of fragment into every position
// holding the target id: top-level slot lists, children and nested
// slots. Returns the number of occurrences replaced.
func replaceEverywhere(tree *descriptor.Tree, id string, fragment *descriptor.Descriptor) int {
	count := 0
	replaceList := func(list []*descriptor.Descriptor) {
		for i, d := range list {
			if d.ID == id {
				list[i] = fragment.Clone()
				count++
			}
		}
	}

	replaceList(tree.Header)
	replaceList(tree.Footer)
	replaceList(tree.Sidebar)
	for _, p := range tree.Pages {
		replaceList(p.Content)
	}
	tree.Walk(func(d *descriptor.Descriptor) bool {
		if d.ID == id {
			return true // already a fresh clone
		}
		replaceList(d.Children)
		for _, list := range d.Slots {
			replaceList(list)
		}
		return true
	})
	return count
}

// exciseEverywhere removes every descriptor with the target id from the
// tree. Returns the number of occurrences removed.
func exciseEverywhere(tree *descriptor.Tree, id string) int {
	count := 0
	filter := func(list []*descriptor.Descriptor) []*descriptor.Descriptor {
		out := list[:0]
		for _, d := range list {
			if d.ID == id {
				count++
				continue
			}
			out = append(out, d)
		}
		return out
	}

	tree.Header = filter(tree.Header)
	tree.Footer = filter(tree.Footer)
	tree.Sidebar = filter(tree.Sidebar)
	for _, p := range tree.Pages {
		p.Content = filter(p.Content)
	}
	tree.Walk(func(d *descriptor.Descriptor) bool {
		d.Children = filter(d.Children)
		for name, list := range d.Slots {
			d.Slots[name] = filter(list)
		}
		return true
	})
	return count
}
