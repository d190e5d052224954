package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States tracked by the supervisor_state gauge.
var States = []string{"stopped", "starting", "running", "stopping"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	starts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gamectl",
			Subsystem: "supervisor",
			Name:      "starts_total",
			Help:      "Number of successful server spawns.",
		},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gamectl",
			Subsystem: "supervisor",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawn attempts.",
		},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamectl",
			Subsystem: "supervisor",
			Name:      "stops_total",
			Help:      "Number of completed stops by mode (clean, forced_timeout, forced_remote_error).",
		}, []string{"mode"},
	)
	restarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gamectl",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of successful restarts.",
		},
	)
	state = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gamectl",
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	busClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamectl",
			Subsystem: "bus",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		},
	)
	busDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gamectl",
			Subsystem: "bus",
			Name:      "dropped_clients_total",
			Help:      "Clients disconnected because their send queue was full.",
		},
	)
	todoItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamectl",
			Subsystem: "todo",
			Name:      "items",
			Help:      "Items currently in the todo list.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{starts, spawnFailures, stops, restarts, state, busClients, busDropped, todoItems}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		starts.Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}

func IncStop(mode string) {
	if regOK.Load() {
		stops.WithLabelValues(mode).Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		restarts.Inc()
	}
}

// SetState marks current as the only active state.
func SetState(current string) {
	if !regOK.Load() {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		state.WithLabelValues(s).Set(v)
	}
}

func SetBusClients(n int) {
	if regOK.Load() {
		busClients.Set(float64(n))
	}
}

func IncBusDropped() {
	if regOK.Load() {
		busDropped.Inc()
	}
}

func SetTodoItems(n int) {
	if regOK.Load() {
		todoItems.Set(float64(n))
	}
}
