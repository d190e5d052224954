package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncStart()
	IncStart()
	IncSpawnFailure()
	IncStop("clean")
	IncStop("forced_timeout")
	IncStop("forced_timeout")
	IncRestart()
	SetState("running")
	SetBusClients(3)
	IncBusDropped()
	SetTodoItems(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(starts))
	assert.Equal(t, 1.0, testutil.ToFloat64(spawnFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(stops.WithLabelValues("clean")))
	assert.Equal(t, 2.0, testutil.ToFloat64(stops.WithLabelValues("forced_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(state.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(state.WithLabelValues("stopped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(busClients))
	assert.Equal(t, 5.0, testutil.ToFloat64(todoItems))

	SetState("stopping")
	assert.Equal(t, 0.0, testutil.ToFloat64(state.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(state.WithLabelValues("stopping")))

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"gamectl_supervisor_starts_total",
		"gamectl_supervisor_stops_total",
		"gamectl_supervisor_state",
		"gamectl_bus_clients",
		"gamectl_todo_items",
	} {
		assert.True(t, strings.Contains(string(body), name), "missing %s", name)
	}
}
