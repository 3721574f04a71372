package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowLocal(origin string) bool {
	return origin == "http://localhost:8080"
}

func newTestHub(t *testing.T, config HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	if config.OriginValidator == nil {
		config.OriginValidator = OriginValidatorFunc(allowLocal)
	}
	hub, err := NewHub(config)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, server.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://localhost:8080"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) UpdateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestNewHubRequiresOriginValidator(t *testing.T) {
	_, err := NewHub(HubConfig{})
	assert.Error(t, err)
}

func TestBroadcastReachesClients(t *testing.T) {
	hub, server := newTestHub(t, HubConfig{})

	first := dial(t, server)
	second := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastMessage(UpdateMessage{Type: TypeStatus, State: "ready", Sequence: 3, Content: "<svg/>"})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readUpdate(t, conn)
		assert.Equal(t, TypeStatus, msg.Type)
		assert.Equal(t, "ready", msg.State)
		assert.Equal(t, uint64(3), msg.Sequence)
		assert.Equal(t, "<svg/>", msg.Content)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestOnConnectSendsGreeting(t *testing.T) {
	_, server := newTestHub(t, HubConfig{
		OnConnect: func(client *Client) {
			client.Send(UpdateMessage{Type: TypeStatus, State: "idle"})
		},
	})

	conn := dial(t, server)
	msg := readUpdate(t, conn)
	assert.Equal(t, "idle", msg.State)
}

func TestRejectsForeignOrigin(t *testing.T) {
	_, server := newTestHub(t, HubConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, server.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example.com"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestClientMessagesReachHandler(t *testing.T) {
	received := make(chan ClientMessage, 4)
	_, server := newTestHub(t, HubConfig{
		OnMessage: func(client *Client, message ClientMessage) error {
			assert.NotEmpty(t, client.ID)
			received <- message
			if message.Type == TypeTrigger {
				return errors.New("nothing to render")
			}
			return nil
		},
	})

	conn := dial(t, server)
	writeJSON(t, conn, ClientMessage{Type: TypeSource, Content: "graph TD\nA-->B"})

	select {
	case msg := <-received:
		assert.Equal(t, TypeSource, msg.Type)
		assert.Equal(t, "graph TD\nA-->B", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}

	writeJSON(t, conn, ClientMessage{Type: TypeTrigger})
	<-received
	reply := readUpdate(t, conn)
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "nothing to render", reply.Error)
}

func TestMalformedMessageIsReported(t *testing.T) {
	_, server := newTestHub(t, HubConfig{})
	conn := dial(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	reply := readUpdate(t, conn)
	assert.Equal(t, TypeError, reply.Type)
	assert.Contains(t, reply.Error, "malformed message")
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, server := newTestHub(t, HubConfig{})
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	hub, server := newTestHub(t, HubConfig{})
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	assert.True(t, hub.IsShutdown())
	assert.Equal(t, 0, hub.ClientCount())

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err)

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Second call is a no-op.
	require.NoError(t, hub.Shutdown(ctx))
}

func TestSlidingWindowRateLimiter(t *testing.T) {
	limiter := NewSlidingWindowRateLimiter(3, 50*time.Millisecond)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	time.Sleep(70 * time.Millisecond)
	assert.True(t, limiter.Allow())

	limiter.Reset()
	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
}

func TestClientSendAfterClose(t *testing.T) {
	client := &Client{send: make(chan []byte, 1)}
	assert.True(t, client.Send(UpdateMessage{Type: TypeStatus}))
	assert.False(t, client.Send(UpdateMessage{Type: TypeStatus}), "buffer full")

	client.close()
	client.close()
	assert.False(t, client.Send(UpdateMessage{Type: TypeStatus}))
}
