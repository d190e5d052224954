package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func TestDaemonArgs(t *testing.T) {
	in := []string{"serve", "--daemonize", "--pidfile", "/run/g.pid", "--logfile=/tmp/g.log", "--config", "g.toml"}
	got := daemonArgs(in)
	want := []string{"serve", "--config", "g.toml"}
	if !slices.Equal(got, want) {
		t.Fatalf("daemonArgs=%v want %v", got, want)
	}
}

func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--api-url", url))
	err := root.Execute()
	return out.String(), err
}

func TestCommandsAgainstAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /stop", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"status":"Remote control error (refused), forced stop.","mode":"forced_remote_error"}`))
	})
	mux.HandleFunc("POST /start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"server already running (pid 7)"}`))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"status":"Offline","process_ram":"0","system_ram":"1.0 / 2.0 GB"}`))
	})
	mux.HandleFunc("GET /api/todos", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"todos":[{"id":1,"title":"backup","text":"","completed":true,"date":null}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "stop")
	if err != nil || !strings.Contains(out, "forced_remote_error") {
		t.Fatalf("stop: %q %v", out, err)
	}
	if _, err := runCLI(t, srv.URL, "start"); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("start should fail: %v", err)
	}
	out, err = runCLI(t, srv.URL, "stats")
	if err != nil || !strings.Contains(out, "Offline") || !strings.Contains(out, "1.0 / 2.0 GB") {
		t.Fatalf("stats: %q %v", out, err)
	}
	out, err = runCLI(t, srv.URL, "todos")
	if err != nil || !strings.Contains(out, "[x] 1 backup") {
		t.Fatalf("todos: %q %v", out, err)
	}
	if _, err := runCLI(t, "http://127.0.0.1:1", "ping"); err == nil {
		t.Fatalf("ping should fail against closed port")
	}
}
