package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/shared/testutil"
)

type mockConn struct {
	mu        sync.Mutex
	written   [][]byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{closed: make(chan struct{})}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closed:
		return errors.New("connection closed")
	default:
	}
	if messageType == websocket.TextMessage {
		m.mu.Lock()
		m.written = append(m.written, data)
		m.mu.Unlock()
	}
	return nil
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	<-m.closed
	return 0, nil, errors.New("connection closed")
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConn) SetReadDeadline(time.Time) error     { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error    { return nil }
func (m *mockConn) SetReadLimit(int64)                  {}
func (m *mockConn) SetPongHandler(func(string) error)   {}
func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (m *mockConn) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.written))
	for _, raw := range m.written {
		var msg Message
		if json.Unmarshal(raw, &msg) == nil {
			out = append(out, msg)
		}
	}
	return out
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func TestHubBroadcastFiltersBySite(t *testing.T) {
	hub := startHub(t)
	siteA, siteB, all := newMockConn(), newMockConn(), newMockConn()

	ServeWS(hub, siteA, "site_a", "")
	ServeWS(hub, siteB, "site_b", "")
	ServeWS(hub, all, "", "trace-1")

	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 5*time.Millisecond)
	for _, c := range []*mockConn{siteA, siteB, all} {
		require.Eventually(t, func() bool { return len(c.messages()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, TypeConnection, c.messages()[0].Type)
	}
	assert.Equal(t, "trace-1", all.messages()[0].TraceID)

	require.True(t, hub.Broadcast(context.Background(), "site_a", TypeEvents, []string{"pe_1"}))

	require.Eventually(t, func() bool { return len(siteA.messages()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(all.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, siteB.messages(), 1, "other sites are not notified")

	got := siteA.messages()[1]
	assert.Equal(t, TypeEvents, got.Type)
	assert.Equal(t, "site_a", got.SiteID)
	assert.Equal(t, []any{"pe_1"}, got.Data)
}

func TestHubUnregistersClosedClient(t *testing.T) {
	hub := startHub(t)
	conn := newMockConn()

	ServeWS(hub, conn, "site_a", "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubStop(t *testing.T) {
	hub := startHub(t)
	conn := newMockConn()
	ServeWS(hub, conn, "", "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()
	hub.Stop()

	assert.Zero(t, hub.ClientCount())
	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond, "write pump closes the connection")
	assert.False(t, hub.Broadcast(context.Background(), "site_a", TypeEvents, nil))

	late := newMockConn()
	ServeWS(hub, late, "", "")
	assert.True(t, late.isClosed(), "registration after stop is refused")
}

func TestHubBroadcastRespectsContext(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger)
	t.Cleanup(hub.Stop)

	// not started: the buffer fills and Broadcast must give up with ctx
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok := true
	for i := 0; i < cap(hub.broadcast)+1 && ok; i++ {
		ok = hub.Broadcast(ctx, "s", TypeEvents, i)
	}
	assert.False(t, ok)
}

func TestServeWSOverHTTP(t *testing.T) {
	hub := startHub(t)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ServeWS(hub, conn, r.URL.Query().Get("site_id"), "")
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?site_id=site_live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var hello Message
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, TypeConnection, hello.Type)
	assert.Equal(t, "site_live", hello.SiteID)

	require.True(t, hub.Broadcast(context.Background(), "site_live", TypeEvents, map[string]int{"count": 2}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeEvents, msg.Type)
	assert.Equal(t, map[string]any{"count": float64(2)}, msg.Data)
}
