package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Patch errors.
var (
	ErrInvalidPatch = errors.New("invalid patch")
)

// Patch is one out-of-band change: replace the descriptor with
// TargetID everywhere it appears with Fragment, or remove it when
// Removed is set. Revision gates application: a patch is applied only
// if Revision is greater than the currently-known revision for the id.
type Patch struct {
	TargetID string      `json:"targetId"`
	Revision int64       `json:"revision,omitempty"`
	Fragment *Descriptor `json:"fragment,omitempty"`
	Removed  bool        `json:"removed,omitempty"`
}

// Validate checks structural well-formedness. A patch must name a
// target and carry either a fragment or the removed flag, not neither.
func (p *Patch) Validate() error {
	if p.TargetID == "" {
		return fmt.Errorf("%w: missing targetId", ErrInvalidPatch)
	}
	if !p.Removed && p.Fragment == nil {
		return fmt.Errorf("%w: neither fragment nor removed", ErrInvalidPatch)
	}
	if p.Removed && p.Fragment != nil {
		return fmt.Errorf("%w: both fragment and removed", ErrInvalidPatch)
	}
	return nil
}

// ParsePatch decodes and validates a patch from JSON.
func ParsePatch(data []byte) (*Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
