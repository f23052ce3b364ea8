package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ucinar/exepad-runtime/internal/notice"
	"github.com/ucinar/exepad-runtime/internal/protocol"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.PongTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.ReconnectBase = 5 * time.Millisecond
	cfg.ReconnectMax = time.Second
	cfg.MaxReconnectAttempts = 3
	cfg.QueueCapacity = 8
	cfg.QueueTTL = time.Minute
	cfg.DedupeWindow = time.Minute
	return cfg
}

// wsServer accepts one websocket at a time and forwards everything the
// client sends (minus pings) to received.
type wsServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan protocol.Envelope
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan protocol.Envelope, 64),
	}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.ParseEnvelope(data)
			if err != nil || env.Type == protocol.TypePing {
				continue
			}
			ws.received <- env
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ws.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no client connected")
		return nil
	}
}

func (ws *wsServer) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ws.received:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
		return protocol.Envelope{}
	}
}

func TestSendWhileConnected(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWebsocketChannel(testConfig(ws.url()), nil)
	require.NoError(t, ch.Connect("app-1", "sess-1", "secret"))
	defer ch.Disconnect()
	ws.waitConn(t)

	env, err := protocol.NewEnvelope(protocol.TypeContentEdit,
		protocol.ContentEdit{ID: "h1", Field: "text", Value: "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Send(env))

	got := ws.next(t)
	require.Equal(t, protocol.TypeContentEdit, got.Type)
	require.Equal(t, env.MessageID, got.MessageID)
}

func TestQueueThenConnect_FlushesInOrder(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWebsocketChannel(testConfig(ws.url()), nil)

	var ids []string
	for i := 0; i < 3; i++ {
		env, err := protocol.NewEnvelope(protocol.TypeContentEdit,
			protocol.ContentEdit{ID: "n", Field: "text", Value: "v"})
		require.NoError(t, err)
		ids = append(ids, env.MessageID)
		require.NoError(t, ch.Send(env))
	}

	require.NoError(t, ch.Connect("app-1", "sess-1", ""))
	defer ch.Disconnect()
	ws.waitConn(t)

	for _, want := range ids {
		require.Equal(t, want, ws.next(t).MessageID)
	}
	select {
	case extra := <-ws.received:
		t.Fatalf("unexpected extra message %s", extra.MessageID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueEviction_NoticePerDrop(t *testing.T) {
	notices := notice.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	noticeCh := notices.Subscribe(ctx)

	cfg := testConfig("ws://unused.invalid")
	cfg.QueueCapacity = 2
	ch := NewWebsocketChannel(cfg, notices)

	for i := 0; i < 4; i++ {
		env, err := protocol.NewEnvelope(protocol.TypeContentEdit, nil)
		require.NoError(t, err)
		require.NoError(t, ch.Send(env))
	}

	// 4 sends into a capacity-2 queue evicts twice.
	for i := 0; i < 2; i++ {
		select {
		case ev := <-noticeCh:
			require.Equal(t, notice.LevelWarning, ev.Payload.Level)
		case <-time.After(time.Second):
			t.Fatal("missing eviction notice")
		}
	}
}

func TestSendTooLarge(t *testing.T) {
	notices := notice.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	noticeCh := notices.Subscribe(ctx)

	cfg := testConfig("ws://unused.invalid")
	cfg.MaxMessageBytes = 32
	ch := NewWebsocketChannel(cfg, notices)

	env, err := protocol.NewEnvelope(protocol.TypeContentEdit,
		protocol.ContentEdit{ID: "n", Field: "text", Value: strings.Repeat("x", 128)})
	require.NoError(t, err)
	require.ErrorIs(t, ch.Send(env), ErrTooLarge)

	select {
	case ev := <-noticeCh:
		require.Equal(t, notice.LevelWarning, ev.Payload.Level)
	case <-time.After(time.Second):
		t.Fatal("missing oversize notice")
	}
}

func TestInboundDuplicateSuppressed(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWebsocketChannel(testConfig(ws.url()), nil)

	var mu sync.Mutex
	var deliveries int
	ch.Subscribe(protocol.TypeAppConfigUpdated, func(env protocol.Envelope) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	})

	require.NoError(t, ch.Connect("app-1", "sess-1", ""))
	defer ch.Disconnect()
	conn := ws.waitConn(t)

	env, err := protocol.NewEnvelope(protocol.TypeAppConfigUpdated,
		protocol.AppConfigUpdated{Reload: true})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries >= 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 1, deliveries, "duplicate message id must be delivered once")
	mu.Unlock()
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	ch := NewWebsocketChannel(testConfig("ws://unused.invalid"), nil)

	var order []string
	ch.Subscribe(protocol.TypePong, func(protocol.Envelope) {
		order = append(order, "first")
	})
	cancel := ch.Subscribe(protocol.TypePong, func(protocol.Envelope) {
		order = append(order, "second")
	})
	ch.Subscribe(Wildcard, func(protocol.Envelope) {
		order = append(order, "wildcard")
	})

	ch.dispatch(protocol.Envelope{Type: protocol.TypePong})
	require.Equal(t, []string{"first", "second", "wildcard"}, order)

	cancel()
	order = nil
	ch.dispatch(protocol.Envelope{Type: protocol.TypePong})
	require.Equal(t, []string{"first", "wildcard"}, order)
}

func TestReconnectBudget_TerminalErrorOnce(t *testing.T) {
	// Server slams every connection shut right after the handshake.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	notices := notice.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	noticeCh := notices.Subscribe(ctx)

	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	ch := NewWebsocketChannel(cfg, notices)
	stateCh := ch.States().Subscribe(ctx)

	require.NoError(t, ch.Connect("app-1", "sess-1", ""))

	var errorEvents int
	deadline := time.After(5 * time.Second)
	grace := 50 * time.Millisecond
collect:
	for {
		select {
		case ev := <-stateCh:
			if ev.Payload == StateError {
				errorEvents++
				// Keep draining briefly to catch a second emission.
				grace = 300 * time.Millisecond
			}
		case <-time.After(grace):
			if errorEvents > 0 {
				break collect
			}
		case <-deadline:
			break collect
		}
	}
	require.Equal(t, 1, errorEvents, "terminal error must be published exactly once")
	require.Equal(t, StateError, ch.State())

	select {
	case ev := <-noticeCh:
		require.Equal(t, notice.LevelError, ev.Payload.Level)
	case <-time.After(time.Second):
		t.Fatal("missing terminal notice")
	}

	require.ErrorIs(t, ch.Send(protocol.Envelope{Type: protocol.TypePing}), ErrClosed)
}

func TestDisconnect_NoReconnect(t *testing.T) {
	ws := newWSServer(t)
	ch := NewWebsocketChannel(testConfig(ws.url()), nil)
	require.NoError(t, ch.Connect("app-1", "sess-1", ""))
	ws.waitConn(t)

	require.Eventually(t, func() bool {
		return ch.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Disconnect())
	require.Equal(t, StateDisconnected, ch.State())

	select {
	case <-ws.conns:
		t.Fatal("channel reconnected after Disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBuildURL_CarriesIdentity(t *testing.T) {
	ch := NewWebsocketChannel(testConfig("wss://editor.example/live"), nil)
	u, err := ch.buildURL("app-9", "sess-9", "tok")
	require.NoError(t, err)
	require.Contains(t, u, "appId=app-9")
	require.Contains(t, u, "session=sess-9")
	require.Contains(t, u, "type=runtime")
	require.Contains(t, u, "token=tok")

	u, err = ch.buildURL("app-9", "sess-9", "")
	require.NoError(t, err)
	require.NotContains(t, u, "token=")
}

func TestFakeChannel(t *testing.T) {
	f := NewFakeChannel()
	require.NoError(t, f.Connect("a", "s", ""))
	require.Equal(t, StateConnected, f.State())

	var got []protocol.Envelope
	f.Subscribe(protocol.TypeEnterEditMode, func(env protocol.Envelope) {
		got = append(got, env)
	})
	f.Deliver(protocol.Envelope{Type: protocol.TypeEnterEditMode})
	require.Len(t, got, 1)

	require.NoError(t, f.Send(protocol.Envelope{Type: protocol.TypePing}))
	require.Len(t, f.SentOfType(protocol.TypePing), 1)
}
