package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vawter.tech/stopper"
)

func newTestHub(t *testing.T, opts Options) (*Hub, *httptest.Server) {
	t.Helper()
	sctx := stopper.WithContext(context.Background())
	h := NewHub(sctx, opts)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		sctx.Stop(time.Second)
		_ = sctx.Wait()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type reply struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *int64          `json:"ack"`
}

func read(t *testing.T, ws *websocket.Conn) reply {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var r reply
	require.NoError(t, ws.ReadJSON(&r))
	return r
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Count() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestAckedHandler(t *testing.T) {
	h, srv := newTestHub(t, Options{})
	h.On("custom_event", func(_ context.Context, c *Conn, data json.RawMessage) (any, error) {
		assert.NotEmpty(t, c.ID)
		assert.JSONEq(t, `{"x":1}`, string(data))
		return map[string]any{"status_code": 200, "success": true}, nil
	})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(map[string]any{"event": "custom_event", "data": map[string]int{"x": 1}, "ack": 3}))
	r := read(t, ws)
	assert.Equal(t, AckEvent, r.Event)
	require.NotNil(t, r.Ack)
	assert.EqualValues(t, 3, *r.Ack)
	assert.JSONEq(t, `{"status_code":200,"success":true}`, string(r.Data))
}

func TestHandlerErrorAndUnknownEvent(t *testing.T) {
	h, srv := newTestHub(t, Options{})
	h.On("boom", func(context.Context, *Conn, json.RawMessage) (any, error) {
		return nil, errors.New("bad payload")
	})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(map[string]any{"event": "boom", "ack": 1}))
	r := read(t, ws)
	assert.JSONEq(t, `{"success":false,"status_code":400,"error":"bad payload"}`, string(r.Data))

	require.NoError(t, ws.WriteJSON(map[string]any{"event": "nope", "ack": 2}))
	r = read(t, ws)
	assert.EqualValues(t, 2, *r.Ack)
	assert.Contains(t, string(r.Data), ErrUnknownEvent.Error())
}

func TestPublishReachesEveryClient(t *testing.T) {
	h, srv := newTestHub(t, Options{})
	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, h, 2)

	h.Publish("update_todos", []string{"one"})
	for _, ws := range []*websocket.Conn{a, b} {
		r := read(t, ws)
		assert.Equal(t, "update_todos", r.Event)
		assert.Nil(t, r.Ack)
		assert.JSONEq(t, `["one"]`, string(r.Data))
	}

	require.NoError(t, a.Close())
	waitClients(t, h, 1)
}

func TestMalformedMessageIsSkipped(t *testing.T) {
	h, srv := newTestHub(t, Options{})
	h.On("ping", func(context.Context, *Conn, json.RawMessage) (any, error) { return "pong", nil })
	ws := dial(t, srv)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{oops")))
	require.NoError(t, ws.WriteJSON(map[string]any{"event": "ping", "ack": 1}))
	r := read(t, ws)
	assert.JSONEq(t, `"pong"`, string(r.Data))
}

func TestOriginCheck(t *testing.T) {
	_, srv := newTestHub(t, Options{AllowedOrigins: []string{"http://good.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://good.example"}})
	require.NoError(t, err)
	_ = ws.Close()
}
