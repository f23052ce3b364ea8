package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Tree errors.
var (
	ErrPageNotFound = errors.New("no page matches route")
)

// Well-known slot names.
const (
	SlotHeader  = "header"
	SlotFooter  = "footer"
	SlotSidebar = "sidebar"
)

// Page is one routed content tree.
type Page struct {
	Slug    string        `json:"slug"`
	Name    string        `json:"name,omitempty"`
	Content []*Descriptor `json:"content"`
}

// Tree is the ordered forest a fetch returns: shared named slots plus
// one content tree per page.
type Tree struct {
	AppID   string        `json:"appId,omitempty"`
	Header  []*Descriptor `json:"header,omitempty"`
	Footer  []*Descriptor `json:"footer,omitempty"`
	Sidebar []*Descriptor `json:"sidebar,omitempty"`
	Pages   []*Page       `json:"pages"`
}

// ParseTree decodes a full descriptor tree from JSON.
func ParseTree(data []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	return &t, nil
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := &Tree{AppID: t.AppID}
	out.Header = cloneList(t.Header)
	out.Footer = cloneList(t.Footer)
	out.Sidebar = cloneList(t.Sidebar)
	out.Pages = make([]*Page, len(t.Pages))
	for i, p := range t.Pages {
		out.Pages[i] = &Page{
			Slug:    p.Slug,
			Name:    p.Name,
			Content: cloneList(p.Content),
		}
	}
	return out
}

// Page returns the page whose slug matches the route. An explicit
// ErrPageNotFound is returned when nothing matches; callers render a
// terminal not-found state, never a silent empty page.
func (t *Tree) Page(slug string) (*Page, error) {
	for _, p := range t.Pages {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrPageNotFound, slug)
}

// Walk visits every descriptor in the tree depth-first: header, footer,
// sidebar, then each page's content in order. Returning false stops.
func (t *Tree) Walk(fn func(*Descriptor) bool) {
	for _, list := range t.slotLists() {
		for _, d := range list {
			if !d.Walk(fn) {
				return
			}
		}
	}
}

func (t *Tree) slotLists() [][]*Descriptor {
	lists := [][]*Descriptor{t.Header, t.Footer, t.Sidebar}
	for _, p := range t.Pages {
		lists = append(lists, p.Content)
	}
	return lists
}

// FindByID returns the first descriptor with the given id, or nil.
func (t *Tree) FindByID(id string) *Descriptor {
	var found *Descriptor
	t.Walk(func(d *Descriptor) bool {
		if d.ID == id {
			found = d
			return false
		}
		return true
	})
	return found
}

// CollectByID returns every occurrence of an id in document order.
// Patches replace all of them, so duplicated ids stay in lockstep.
func (t *Tree) CollectByID(id string) []*Descriptor {
	var out []*Descriptor
	t.Walk(func(d *Descriptor) bool {
		if d.ID == id {
			out = append(out, d)
		}
		return true
	})
	return out
}

// Index collects every identified descriptor keyed by id. When an id
// appears more than once the first occurrence wins; revision handling
// downstream treats duplicates as replicas of one logical node.
func (t *Tree) Index() map[string]*Descriptor {
	idx := make(map[string]*Descriptor)
	t.Walk(func(d *Descriptor) bool {
		if d.ID != "" {
			if _, seen := idx[d.ID]; !seen {
				idx[d.ID] = d
			}
		}
		return true
	})
	return idx
}
