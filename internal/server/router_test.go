package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	mng "github.com/loykin/gamectl/internal/manager"
	"github.com/loykin/gamectl/internal/process"
	"github.com/loykin/gamectl/internal/telemetry"
	"github.com/loykin/gamectl/internal/todo"
)

func setupRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(opts).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

type failingRemote struct{}

func (failingRemote) Send(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func newSleepSupervisor(t *testing.T) *mng.Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}
	pidFile := filepath.Join(t.TempDir(), "server.pid")
	sup, err := mng.New(mng.Options{
		Spec:      process.Spec{Name: "game", Command: "sleep 30", PIDFile: pidFile, Match: "sleep"},
		Remote:    failingRemote{},
		KillGrace: 500 * time.Millisecond,
		Poll:      20 * time.Millisecond,
		HostMemory: func(context.Context) (telemetry.HostMemory, error) {
			return telemetry.HostMemory{UsedBytes: 3 << 30, TotalBytes: 8 << 30}, nil
		},
	})
	if err != nil {
		t.Fatalf("supervisor: %v", err)
	}
	t.Cleanup(func() {
		if pid, err := process.ReadRecord(pidFile); err == nil {
			_ = process.Kill(pid, syscall.SIGKILL)
		}
	})
	return sup
}

func TestLifecycleScenario(t *testing.T) {
	sup := newSleepSupervisor(t)
	h := setupRouter(t, Options{Supervisor: sup})

	rec := doReq(t, h, http.MethodPost, "/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	pid := int(body["pid"].(float64))
	if !strings.Contains(body["status"].(string), "PID") || body["success"] != true {
		t.Fatalf("start body: %v", body)
	}
	if got, err := process.ReadRecord(sup.PIDFile()); err != nil || got != pid {
		t.Fatalf("record = %d, %v; want %d", got, err, pid)
	}

	rec = doReq(t, h, http.MethodPost, "/start")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second start: %d", rec.Code)
	}
	if body := decode(t, rec); body["success"] != false || !strings.Contains(body["error"].(string), "already running") {
		t.Fatalf("second start body: %v", body)
	}

	rec = doReq(t, h, http.MethodGet, "/stats")
	if body := decode(t, rec); body["status"] != "Online" || !strings.HasSuffix(body["process_ram"].(string), " MB") {
		t.Fatalf("stats online: %v", body)
	}

	rec = doReq(t, h, http.MethodPost, "/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d %s", rec.Code, rec.Body.String())
	}
	body = decode(t, rec)
	if body["mode"] != string(mng.StopForcedRemoteError) || !strings.Contains(body["status"].(string), "forced") {
		t.Fatalf("stop body: %v", body)
	}
	if _, err := os.Stat(sup.PIDFile()); !os.IsNotExist(err) {
		t.Fatalf("record should be gone, stat err=%v", err)
	}

	rec = doReq(t, h, http.MethodGet, "/stats")
	body = decode(t, rec)
	if body["status"] != "Offline" || body["process_ram"] != "0" || body["system_ram"] != "3.0 / 8.0 GB" {
		t.Fatalf("stats offline: %v", body)
	}

	rec = doReq(t, h, http.MethodPost, "/stop")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("stop when stopped: %d", rec.Code)
	}
}

type stubSupervisor struct {
	startErr   error
	stopErr    error
	restartErr error
	state      mng.State
}

func (s stubSupervisor) Start(context.Context) (int, error) { return 42, s.startErr }
func (s stubSupervisor) Stop(context.Context) (mng.StopOutcome, error) {
	return mng.StopOutcome{Mode: mng.StopClean}, s.stopErr
}
func (s stubSupervisor) Restart(context.Context) (mng.RestartResult, error) {
	return mng.RestartResult{PID: 43}, s.restartErr
}
func (s stubSupervisor) Status(context.Context) mng.Status {
	if s.state == mng.StateRunning {
		return mng.Status{State: mng.Online, PID: 42}
	}
	return mng.Status{State: mng.Offline}
}
func (s stubSupervisor) State() mng.State { return s.state }

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		sup  stubSupervisor
		path string
		code int
	}{
		{"spawn failure", stubSupervisor{startErr: &mng.SpawnError{Command: "./start.sh", Err: os.ErrNotExist}}, "/start", 500},
		{"force stop failure", stubSupervisor{stopErr: &mng.ForceStopError{PID: 1, Err: syscall.EPERM}}, "/stop", 500},
		{"restart failure", stubSupervisor{restartErr: &mng.RestartError{Phase: "start", Err: mng.ErrSpawnFailed}}, "/restart", 500},
		{"clean stop", stubSupervisor{}, "/stop", 200},
		{"restart ok", stubSupervisor{}, "/restart", 200},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := setupRouter(t, Options{Supervisor: c.sup})
			rec := doReq(t, h, http.MethodPost, c.path)
			if rec.Code != c.code {
				t.Fatalf("%s: got %d want %d (%s)", c.path, rec.Code, c.code, rec.Body.String())
			}
			body := decode(t, rec)
			if (c.code == 200) != (body["success"] == true) {
				t.Fatalf("success flag mismatch: %v", body)
			}
			if c.code != 200 && body["error"] == "" {
				t.Fatalf("missing error: %v", body)
			}
		})
	}
}

func TestLogsEndpoint(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "latest.log")
	h := setupRouter(t, Options{Supervisor: stubSupervisor{}, LogFile: logFile, LogLines: 2})

	var lines []string
	if err := json.Unmarshal(doReq(t, h, http.MethodGet, "/logs").Body.Bytes(), &lines); err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != telemetry.MissingLogLine {
		t.Fatalf("missing log: %v", lines)
	}

	if err := os.WriteFile(logFile, []byte("a\nb\nc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(doReq(t, h, http.MethodGet, "/logs").Body.Bytes(), &lines); err != nil {
		t.Fatal(err)
	}
	if strings.Join(lines, ",") != "b,c" {
		t.Fatalf("tail: %v", lines)
	}
}

type listOnly []todo.Item

func (l listOnly) List() []todo.Item { return l }

func TestSimpleEndpoints(t *testing.T) {
	h := setupRouter(t, Options{
		Supervisor: stubSupervisor{state: mng.StateRunning},
		Todos:      listOnly{{ID: todo.ID(`1`), Title: "a", Text: "b"}},
		BasePath:   "/mc/",
	})

	if body := decode(t, doReq(t, h, http.MethodGet, "/mc/ping")); body["status"] != "ok" || body["success"] != true {
		t.Fatalf("ping: %v", body)
	}
	if body := decode(t, doReq(t, h, http.MethodGet, "/mc/api/status")); body["the_status_is"] != "ok!" {
		t.Fatalf("api status: %v", body)
	}
	if body := decode(t, doReq(t, h, http.MethodPost, "/mc/api/message")); body["success"] != true {
		t.Fatalf("api message: %v", body)
	}
	body := decode(t, doReq(t, h, http.MethodGet, "/mc/api/todos"))
	if todos, _ := body["todos"].([]any); len(todos) != 1 {
		t.Fatalf("api todos: %v", body)
	}
	body = decode(t, doReq(t, h, http.MethodGet, "/mc/status"))
	if body["state"] != "running" || body["pid"] != float64(42) {
		t.Fatalf("state: %v", body)
	}
	if rec := doReq(t, h, http.MethodGet, "/ping"); rec.Code != http.StatusNotFound {
		t.Fatalf("base path not applied: %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := setupRouter(t, Options{Supervisor: stubSupervisor{}, CORSOrigins: []string{"http://ui.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/start", nil)
	req.Header.Set("Origin", "http://ui.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://ui.example" {
		t.Fatalf("allow origin: %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Fatalf("allow methods: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}

	h = setupRouter(t, Options{Supervisor: stubSupervisor{}, CORSOrigins: []string{"*"}})
	rec = doReq(t, h, http.MethodGet, "/ping")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("wildcard: %q", got)
	}
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("gamectl_up 1\n"))
	})
	h := setupRouter(t, Options{Supervisor: stubSupervisor{}, Metrics: metrics, MetricsPath: "/prom"})
	rec := doReq(t, h, http.MethodGet, "/prom")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "gamectl_up") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}
