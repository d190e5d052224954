package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"server already running (pid 12)"}`))
	})
	mux.HandleFunc("POST /stop", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"status":"Server not responding, forced stop.","mode":"forced_timeout"}`))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"status":"Online","process_ram":"512 MB","system_ram":"1.0 / 2.0 GB","pid":12}`))
	})
	mux.HandleFunc("GET /logs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["a","b"]`))
	})
	mux.HandleFunc("GET /api/todos", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"todos":[{"id":"x","title":"t","text":"","completed":false,"date":null}]}`))
	})
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"status":"ok"}`))
	})
	mux.HandleFunc("POST /restart", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/"})
}

func TestClientCalls(t *testing.T) {
	c := testServer(t)
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	_, err := c.Start(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "already running")

	stop, err := c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "forced_timeout", stop.Mode)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Online", stats.Status)
	assert.Equal(t, 12, stats.PID)

	logs, err := c.Logs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, logs)

	todos, err := c.Todos(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.JSONEq(t, `"x"`, string(todos[0].ID))

	_, err = c.Restart(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "boom", apiErr.Message)
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, c.IsReachable(context.Background()))
}
