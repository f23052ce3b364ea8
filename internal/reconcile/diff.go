// Package reconcile keeps a live descriptor tree synchronized with
// out-of-band changes. It has two entry points: Diff compares two full
// trees into a minimal ordered patch list, and Store.Apply applies a
// single already-identified patch copy-on-write, gated by per-id
// revisions so redelivery and reordering are harmless.
package reconcile

import (
	"github.com/ucinar/exepad-runtime/internal/descriptor"
)

// Diff walks both trees and emits one fragment patch per identified
// descriptor whose revision advanced, in new-tree document order. Ids
// present only in the new tree are additions and are emitted the same
// way. Ids missing from the new tree are NOT turned into removals;
// only explicit removal patches delete.
func Diff(oldTree, newTree *descriptor.Tree) []descriptor.Patch {
	if newTree == nil {
		return nil
	}

	oldIndex := map[string]*descriptor.Descriptor{}
	if oldTree != nil {
		oldIndex = oldTree.Index()
	}

	var patches []descriptor.Patch
	seen := make(map[string]bool)
	newTree.Walk(func(d *descriptor.Descriptor) bool {
		if d.ID == "" || seen[d.ID] {
			return true
		}
		seen[d.ID] = true

		old, existed := oldIndex[d.ID]
		if existed && d.Revision <= old.Revision {
			return true
		}
		patches = append(patches, descriptor.Patch{
			TargetID: d.ID,
			Revision: d.Revision,
			Fragment: d.Clone(),
		})
		return true
	})
	return patches
}
