// Package protocol defines the live-edit wire protocol: JSON envelopes
// with a discriminating type tag, exchanged over the transport channel
// between the runtime and the hosting editor.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
)

// Message types sent by the runtime.
const (
	TypePing               = "ping"
	TypeContentEdit        = "content_edit"
	TypeComponentSelection = "component_selection"
	TypeActionRequest      = "action_request"
	TypeAppConfigSaved     = "app_config_saved"
)

// Message types received from the editor.
const (
	TypePong                = "pong"
	TypeEnterEditMode       = "enter_edit_mode"
	TypeExitEditMode        = "exit_edit_mode"
	TypeSaveChanges         = "save_changes"
	TypeAppConfigUpdated    = "app_config_updated"
	TypeComponentProcessing = "component_processing"
)

// Change types carried by app_config_updated.
const (
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

// Save reasons carried by save_changes.
const (
	SaveReasonAutosave = "autosave"
	SaveReasonManual   = "manual"
)

// Selection actions carried by component_selection.
const (
	SelectionSelect   = "select"
	SelectionDeselect = "deselect"
)

// Envelope is the wire frame. Every message carries a type; MessageID
// enables at-most-once delivery on top of an at-least-once transport.
type Envelope struct {
	MessageID string          `json:"messageId,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload in an envelope with a fresh message id.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	env := Envelope{
		MessageID: uuid.NewString(),
		Type:      msgType,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// ParseEnvelope decodes an envelope from wire bytes.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

// DecodePayload unpacks an envelope's payload into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

// ContentEdit reports one local edit to an editable leaf field.
type ContentEdit struct {
	ID        string `json:"id"`
	Field     string `json:"field"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// ComponentSelection reports selecting or deselecting a node.
type ComponentSelection struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// ActionRequest asks the editor to run an action against a node.
type ActionRequest struct {
	Action  string         `json:"action"`
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// AppConfigSaved flushes a batch of accumulated edits.
type AppConfigSaved struct {
	Edits       []ContentEdit `json:"edits"`
	Forced      bool          `json:"forced"`
	IsAutoSaved bool          `json:"isAutoSaved"`
}

// SaveChanges asks the runtime to flush pending edits.
type SaveChanges struct {
	Reason string `json:"reason"`
}

// AppConfigUpdated announces a remote tree change. Exactly one of the
// following shapes arrives: Reload set (hard reload), ChangedID with a
// Fragment (direct patch), ChangedID with ChangeRemoved (removal), or
// ChangedID alone (re-fetch fallback).
type AppConfigUpdated struct {
	Reload     bool                   `json:"reload,omitempty"`
	ChangedID  string                 `json:"changedId,omitempty"`
	ChangeType string                 `json:"changeType,omitempty"`
	Revision   int64                  `json:"revision,omitempty"`
	Fragment   *descriptor.Descriptor `json:"fragment,omitempty"`
}

// ComponentProcessing marks a node busy while the editor works on it.
type ComponentProcessing struct {
	ID           string `json:"id"`
	IsProcessing bool   `json:"isProcessing"`
}
