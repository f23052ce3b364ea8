package transport

import (
	"sync"

	"github.com/ucinar/exepad-runtime/internal/protocol"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
)

// FakeChannel is an in-memory Channel for tests. Outbound envelopes
// are recorded; inbound envelopes are injected with Deliver.
type FakeChannel struct {
	mu      sync.Mutex
	state   State
	sent    []protocol.Envelope
	subs    map[string][]subscription
	subSeq  int64
	sendErr error
	states  *pubsub.Broker[State]
}

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		state:  StateDisconnected,
		subs:   make(map[string][]subscription),
		states: pubsub.NewBroker[State](),
	}
}

func (f *FakeChannel) Connect(appID, sessionID, token string) error {
	f.SetState(StateConnected)
	return nil
}

func (f *FakeChannel) Disconnect() error {
	f.SetState(StateDisconnected)
	return nil
}

func (f *FakeChannel) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *FakeChannel) Subscribe(msgType string, h Handler) func() {
	f.mu.Lock()
	f.subSeq++
	id := f.subSeq
	f.subs[msgType] = append(f.subs[msgType], subscription{id: id, handler: h})
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		entries := f.subs[msgType]
		for i, e := range entries {
			if e.id == id {
				f.subs[msgType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (f *FakeChannel) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeChannel) States() *pubsub.Broker[State] { return f.states }

// SetState flips the fake's state and publishes the transition.
func (f *FakeChannel) SetState(s State) {
	f.mu.Lock()
	changed := f.state != s
	f.state = s
	f.mu.Unlock()
	if changed {
		f.states.Publish(pubsub.StateEvent, s)
	}
}

// SetSendError makes subsequent Sends fail with err.
func (f *FakeChannel) SetSendError(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// Deliver injects an inbound envelope, fanning out to subscribers the
// way the real channel does.
func (f *FakeChannel) Deliver(env protocol.Envelope) {
	f.mu.Lock()
	handlers := make([]Handler, 0, len(f.subs[env.Type])+len(f.subs[Wildcard]))
	for _, e := range f.subs[env.Type] {
		handlers = append(handlers, e.handler)
	}
	for _, e := range f.subs[Wildcard] {
		handlers = append(handlers, e.handler)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

// Sent returns a copy of the envelopes sent so far.
func (f *FakeChannel) Sent() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentOfType filters Sent by message type.
func (f *FakeChannel) SentOfType(msgType string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range f.Sent() {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}
