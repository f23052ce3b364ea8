// Package session runs the live-edit session: activation gating,
// token acquisition, the inbound message dispatch table, and local
// edit capture with debounced sync back to the editor.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/notice"
	"github.com/ucinar/exepad-runtime/internal/protocol"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/reconcile"
	"github.com/ucinar/exepad-runtime/internal/transport"
)

// State is the session lifecycle state.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
)

// Config tunes session behavior.
type Config struct {
	// Preview marks this a preview instance; published instances never
	// activate editing.
	Preview bool `mapstructure:"preview"`
	// DebounceInterval batches rapid keystrokes into one content_edit.
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	// AutosaveInterval flushes accumulated edits periodically.
	AutosaveInterval time.Duration `mapstructure:"autosave_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: 400 * time.Millisecond,
		AutosaveInterval: 30 * time.Second,
	}
}

// Deps are the session controller's collaborators.
type Deps struct {
	Channel   transport.Channel
	Store     *reconcile.Store
	Embedding EmbeddingContext
	Tokens    TokenSource
	Notices   *notice.Broker
	// Reload replaces the whole tree from source.
	Reload func(ctx context.Context) error
	// Refetch re-fetches and diffs when a change arrives without a
	// usable fragment.
	Refetch func(ctx context.Context, changedID string) error
	// OnBusy reports editor-side processing markers for a node.
	OnBusy func(id string, busy bool)
}

type pendingEdit struct {
	edit protocol.ContentEdit
	sent bool
}

// Controller drives one live-edit session over one transport channel.
type Controller struct {
	cfg  Config
	deps Deps

	mu         sync.Mutex
	state      State
	readOnly   bool
	dirty      map[string]*pendingEdit
	dirtyOrder []string
	debounce   *time.Timer
	busy       map[string]bool
	unsubs     []func()
	cancel     context.CancelFunc

	states *pubsub.Broker[State]
}

// New creates a session controller. It stays Inactive until the editor
// sends an explicit edit signal and every activation gate passes.
func New(cfg Config, deps Deps) *Controller {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = DefaultConfig().AutosaveInterval
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		state:  StateInactive,
		dirty:  make(map[string]*pendingEdit),
		busy:   make(map[string]bool),
		states: pubsub.NewBroker[State](),
	}
}

// Start acquires a token, connects the channel and registers the
// inbound handlers.
func (c *Controller) Start(ctx context.Context, appID, sessionID string) error {
	token := ""
	if c.deps.Tokens != nil {
		var err error
		token, err = c.deps.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("session: acquire token: %w", err)
		}
	}
	if token == "" {
		log.Info(log.CatSession, "no edit token; session stays read-only capable")
	}

	if err := c.deps.Channel.Connect(appID, sessionID, token); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	handlers := map[string]transport.Handler{
		protocol.TypeEnterEditMode:       c.handleEnterEditMode,
		protocol.TypeExitEditMode:        c.handleExitEditMode,
		protocol.TypeSaveChanges:         c.handleSaveChanges,
		protocol.TypeAppConfigUpdated:    c.handleAppConfigUpdated,
		protocol.TypeComponentProcessing: c.handleComponentProcessing,
	}
	c.mu.Lock()
	for msgType, h := range handlers {
		c.unsubs = append(c.unsubs, c.deps.Channel.Subscribe(msgType, h))
	}
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	states := c.deps.Channel.States().Subscribe(runCtx)
	log.SafeGo("session-channel-states", func() {
		for ev := range states {
			if ev.Payload == transport.StateError {
				c.degradeReadOnly()
			}
		}
	})
	log.SafeGo("session-autosave", func() {
		c.autosaveLoop(runCtx)
	})
	return nil
}

// Stop flushes pending edits best-effort and tears the session down.
func (c *Controller) Stop() {
	c.Flush(context.Background(), protocol.SaveReasonManual)

	c.mu.Lock()
	cancel := c.cancel
	unsubs := c.unsubs
	c.unsubs = nil
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	c.deps.Channel.Disconnect()
	c.setState(StateInactive)
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// States exposes session state transitions.
func (c *Controller) States() *pubsub.Broker[State] { return c.states }

// Editing reports whether edits are currently captured.
func (c *Controller) Editing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive && !c.readOnly
}

// Busy reports whether the editor marked a node as processing.
func (c *Controller) Busy(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[id]
}

// handleEnterEditMode activates the session when every gate passes:
// this must be a preview instance, the edit signal is explicit (this
// message), and the embedding is trusted. Any missing gate keeps the
// session inactive; an unavailable embedding check counts as failed.
func (c *Controller) handleEnterEditMode(protocol.Envelope) {
	if !c.cfg.Preview {
		log.Warn(log.CatSession, "edit signal on non-preview instance, ignored")
		return
	}
	if !trusted(c.deps.Embedding) {
		log.Warn(log.CatSession, "edit signal from untrusted embedding, ignored")
		return
	}
	c.mu.Lock()
	if c.readOnly {
		c.mu.Unlock()
		log.Warn(log.CatSession, "edit signal while read-only, ignored")
		return
	}
	c.mu.Unlock()

	c.setState(StateActive)
	log.Info(log.CatSession, "edit mode entered")
}

func (c *Controller) handleExitEditMode(protocol.Envelope) {
	c.Flush(context.Background(), protocol.SaveReasonManual)
	c.setState(StateInactive)
	log.Info(log.CatSession, "edit mode exited")
}

func (c *Controller) handleSaveChanges(env protocol.Envelope) {
	reason := protocol.SaveReasonManual
	if req, err := protocol.DecodePayload[protocol.SaveChanges](env); err == nil && req.Reason != "" {
		reason = req.Reason
	}
	c.Flush(context.Background(), reason)
}

// handleAppConfigUpdated routes a remote change to the cheapest
// applicable path: hard reload, direct patch, removal, or the re-fetch
// fallback when no fragment came along.
func (c *Controller) handleAppConfigUpdated(env protocol.Envelope) {
	upd, err := protocol.DecodePayload[protocol.AppConfigUpdated](env)
	if err != nil {
		log.ErrorErr(log.CatSession, "bad app_config_updated", err)
		return
	}
	ctx := context.Background()

	switch {
	case upd.Reload:
		log.Info(log.CatSession, "remote change requires full reload")
		if c.deps.Reload != nil {
			if err := c.deps.Reload(ctx); err != nil {
				log.ErrorErr(log.CatSession, "reload failed", err)
				notice.Publish(c.deps.Notices, notice.LevelError,
					"failed to reload after a remote change")
			}
		}
	case upd.ChangedID != "" && upd.ChangeType == protocol.ChangeRemoved:
		c.applyPatch(ctx, descriptor.Patch{TargetID: upd.ChangedID, Removed: true})
	case upd.ChangedID != "" && upd.Fragment != nil:
		rev := upd.Revision
		if rev == 0 {
			rev = upd.Fragment.Revision
		}
		c.applyPatch(ctx, descriptor.Patch{
			TargetID: upd.ChangedID,
			Revision: rev,
			Fragment: upd.Fragment,
		})
	case upd.ChangedID != "":
		log.Debug(log.CatSession, "change without fragment, re-fetching",
			"changedId", upd.ChangedID)
		if c.deps.Refetch != nil {
			if err := c.deps.Refetch(ctx, upd.ChangedID); err != nil {
				log.ErrorErr(log.CatSession, "refetch failed", err)
			}
		}
	default:
		log.Warn(log.CatSession, "app_config_updated with no usable shape")
	}
}

func (c *Controller) applyPatch(ctx context.Context, patch descriptor.Patch) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.Apply(ctx, patch); err != nil {
		log.ErrorErr(log.CatSession, "patch apply failed", err,
			"targetId", patch.TargetID)
	}
}

func (c *Controller) handleComponentProcessing(env protocol.Envelope) {
	p, err := protocol.DecodePayload[protocol.ComponentProcessing](env)
	if err != nil || p.ID == "" {
		return
	}
	c.mu.Lock()
	if p.IsProcessing {
		c.busy[p.ID] = true
	} else {
		delete(c.busy, p.ID)
	}
	c.mu.Unlock()
	if c.deps.OnBusy != nil {
		c.deps.OnBusy(p.ID, p.IsProcessing)
	}
}

// CaptureEdit records a local text edit. Captures outside an active
// session are dropped. The edit joins the dirty set, a debounced
// content_edit announces it, and Flush later commits the batch.
func (c *Controller) CaptureEdit(id, field, oldValue, newValue string) {
	if !c.Editing() {
		log.Debug(log.CatSession, "edit dropped, session not editing",
			"nodeId", id, "field", field)
		return
	}
	logEditDiff(id, field, oldValue, newValue)

	key := id + "\x00" + field
	c.mu.Lock()
	if pe, ok := c.dirty[key]; ok {
		pe.edit.Value = newValue
		pe.edit.Timestamp = time.Now().UnixMilli()
		pe.sent = false
	} else {
		c.dirty[key] = &pendingEdit{edit: protocol.ContentEdit{
			ID: id, Field: field, Value: newValue,
			Timestamp: time.Now().UnixMilli(),
		}}
		c.dirtyOrder = append(c.dirtyOrder, key)
	}
	if c.debounce == nil {
		c.debounce = time.AfterFunc(c.cfg.DebounceInterval, c.announceEdits)
	} else {
		c.debounce.Reset(c.cfg.DebounceInterval)
	}
	c.mu.Unlock()
}

// logEditDiff logs a character-level summary of the edit. Values never
// appear in the log, only sizes.
func logEditDiff(id, field, oldValue, newValue string) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldValue, newValue, false)
	var inserted, deleted int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}
	log.Debug(log.CatSession, "edit captured",
		"nodeId", id, "field", field,
		"inserted", inserted, "deleted", deleted)
}

// announceEdits streams unsent dirty edits as individual content_edit
// messages. The dirty set stays intact until a flush is confirmed.
func (c *Controller) announceEdits() {
	c.mu.Lock()
	var toSend []protocol.ContentEdit
	for _, key := range c.dirtyOrder {
		if pe := c.dirty[key]; pe != nil && !pe.sent {
			toSend = append(toSend, pe.edit)
			pe.sent = true
		}
	}
	c.mu.Unlock()

	for _, edit := range toSend {
		env, err := protocol.NewEnvelope(protocol.TypeContentEdit, edit)
		if err != nil {
			continue
		}
		if err := c.deps.Channel.Send(env); err != nil {
			log.Warn(log.CatSession, "content_edit send failed",
				"nodeId", edit.ID, "error", err.Error())
		}
	}
}

// Flush commits all pending edits as one app_config_saved batch. The
// dirty set is cleared only when the channel accepted the message.
func (c *Controller) Flush(ctx context.Context, reason string) error {
	c.mu.Lock()
	if len(c.dirtyOrder) == 0 {
		c.mu.Unlock()
		return nil
	}
	edits := make([]protocol.ContentEdit, 0, len(c.dirtyOrder))
	for _, key := range c.dirtyOrder {
		if pe := c.dirty[key]; pe != nil {
			edits = append(edits, pe.edit)
		}
	}
	c.mu.Unlock()

	env, err := protocol.NewEnvelope(protocol.TypeAppConfigSaved, protocol.AppConfigSaved{
		Edits:       edits,
		Forced:      reason == protocol.SaveReasonManual,
		IsAutoSaved: reason == protocol.SaveReasonAutosave,
	})
	if err != nil {
		return err
	}
	if err := c.deps.Channel.Send(env); err != nil {
		log.Warn(log.CatSession, "flush not confirmed, edits kept",
			"count", len(edits), "error", err.Error())
		return err
	}

	c.mu.Lock()
	c.dirty = make(map[string]*pendingEdit)
	c.dirtyOrder = nil
	c.mu.Unlock()
	log.Info(log.CatSession, "edits flushed", "count", len(edits), "reason", reason)
	return nil
}

// Select reports a selection change to the editor.
func (c *Controller) Select(id string, selected bool) {
	if !c.Editing() {
		return
	}
	action := protocol.SelectionSelect
	if !selected {
		action = protocol.SelectionDeselect
	}
	env, err := protocol.NewEnvelope(protocol.TypeComponentSelection,
		protocol.ComponentSelection{Action: action, ID: id})
	if err != nil {
		return
	}
	c.deps.Channel.Send(env)
}

func (c *Controller) autosaveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Editing() {
				c.Flush(ctx, protocol.SaveReasonAutosave)
			}
		}
	}
}

// degradeReadOnly turns editing off for good after a terminal
// transport failure. The page keeps rendering.
func (c *Controller) degradeReadOnly() {
	c.mu.Lock()
	already := c.readOnly
	c.readOnly = true
	c.mu.Unlock()
	if already {
		return
	}
	log.Warn(log.CatSession, "transport lost, degrading to read-only")
	notice.Publish(c.deps.Notices, notice.LevelWarning,
		"connection lost; the page is read-only until reload")
	c.setState(StateInactive)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.states.Publish(pubsub.StateEvent, s)
	}
}
