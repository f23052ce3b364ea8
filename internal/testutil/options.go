package testutil

import "github.com/ucinar/exepad-runtime/internal/descriptor"

// NodeOption configures a descriptor under construction.
type NodeOption func(*descriptor.Descriptor)

// WithRevision sets the node revision.
func WithRevision(rev int64) NodeOption {
	return func(d *descriptor.Descriptor) {
		d.Revision = rev
	}
}

// WithText sets the conventional "text" prop.
func WithText(text string) NodeOption {
	return func(d *descriptor.Descriptor) {
		if d.Props == nil {
			d.Props = make(map[string]any)
		}
		d.Props["text"] = text
	}
}

// WithProp sets one prop.
func WithProp(key string, value any) NodeOption {
	return func(d *descriptor.Descriptor) {
		if d.Props == nil {
			d.Props = make(map[string]any)
		}
		d.Props[key] = value
	}
}

// WithChildren nests child descriptors.
func WithChildren(children ...*descriptor.Descriptor) NodeOption {
	return func(d *descriptor.Descriptor) {
		d.Children = append(d.Children, children...)
	}
}

func defaultNode(id, typeName string) descriptor.Descriptor {
	return descriptor.Descriptor{
		ID:       id,
		Type:     typeName,
		Revision: 1,
	}
}
