// Package descriptor defines the JSON data model the runtime renders:
// typed component descriptors, the named-slot tree they form, and the
// patches that mutate them during a live-edit session.
package descriptor

import (
	"encoding/json"
	"fmt"
)

// Descriptor is one UI node: a type tag selecting an implementation, a
// stable identity assigned by the authoring side, a monotonic revision,
// and an open map of type-specific props. It may nest further
// descriptors through Children and named Slots.
type Descriptor struct {
	ID       string                   `json:"id,omitempty"`
	Type     string                   `json:"type"`
	Revision int64                    `json:"revision,omitempty"`
	Props    map[string]any           `json:"props,omitempty"`
	Children []*Descriptor            `json:"children,omitempty"`
	Slots    map[string][]*Descriptor `json:"slots,omitempty"`
}

// Clone returns a deep copy. Props maps are copied one level deep plus
// recursively for nested maps and slices, which covers JSON-decoded
// values; descriptors never share mutable state with their clones.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := &Descriptor{
		ID:       d.ID,
		Type:     d.Type,
		Revision: d.Revision,
	}
	if d.Props != nil {
		out.Props = cloneValue(d.Props).(map[string]any)
	}
	if d.Children != nil {
		out.Children = cloneList(d.Children)
	}
	if d.Slots != nil {
		out.Slots = make(map[string][]*Descriptor, len(d.Slots))
		for name, list := range d.Slots {
			out.Slots[name] = cloneList(list)
		}
	}
	return out
}

func cloneList(list []*Descriptor) []*Descriptor {
	out := make([]*Descriptor, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

// cloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// Walk visits d and every nested descriptor depth-first, children
// before slots. Returning false from fn stops the walk.
func (d *Descriptor) Walk(fn func(*Descriptor) bool) bool {
	if d == nil {
		return true
	}
	if !fn(d) {
		return false
	}
	for _, c := range d.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	for _, list := range d.Slots {
		for _, c := range list {
			if !c.Walk(fn) {
				return false
			}
		}
	}
	return true
}

// PropString returns a string prop, or "" when absent or not a string.
func (d *Descriptor) PropString(key string) string {
	if d == nil || d.Props == nil {
		return ""
	}
	s, _ := d.Props[key].(string)
	return s
}

// Parse decodes a single descriptor from JSON.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	return &d, nil
}
