package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/gamectl/internal/bus"
	mng "github.com/loykin/gamectl/internal/manager"
	"github.com/loykin/gamectl/internal/telemetry"
	"github.com/loykin/gamectl/internal/todo"
)

// Supervisor is the lifecycle surface the router drives.
type Supervisor interface {
	Start(ctx context.Context) (int, error)
	Stop(ctx context.Context) (mng.StopOutcome, error)
	Restart(ctx context.Context) (mng.RestartResult, error)
	Status(ctx context.Context) mng.Status
	State() mng.State
}

// TodoLister is the read side of the todo store.
type TodoLister interface {
	List() []todo.Item
}

// Options wires the router to its collaborators.
type Options struct {
	Supervisor Supervisor
	Todos      TodoLister
	Hub        *bus.Hub
	// LogFile is the game's own log, served by /logs.
	LogFile  string
	LogLines int
	BasePath string
	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string
	// Metrics, when set, is served at MetricsPath.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

// Router provides the HTTP API of the control service.
// Endpoints (relative to basePath):
//
//	POST /start, /stop, /restart      lifecycle
//	GET  /logs, /stats, /ping, /status
//	GET  /api/status, /api/todos
//	POST /api/message                 broadcasts "message"
//	GET  /ws                          event bus
type Router struct {
	opts     Options
	basePath string
	log      *slog.Logger
}

// NewRouter constructs a Router. basePath may be empty or start with '/'.
func NewRouter(opts Options) *Router {
	if opts.LogLines <= 0 {
		opts.LogLines = 30
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		opts:     opts,
		basePath: sanitizeBase(opts.BasePath),
		log:      opts.Logger.With("component", "http"),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog(), cors(r.opts.CORSOrigins))
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.GET("/logs", r.handleLogs)
	group.GET("/stats", r.handleStats)
	group.GET("/ping", r.handlePing)
	group.GET("/status", r.handleState)

	api := group.Group("/api")
	api.GET("/status", r.handleAPIStatus)
	api.POST("/message", r.handleMessage)
	api.GET("/todos", r.handleTodos)

	if r.opts.Hub != nil {
		group.GET("/ws", gin.WrapH(r.opts.Hub))
	}
	if r.opts.Metrics != nil {
		group.GET(r.opts.MetricsPath, gin.WrapH(r.opts.Metrics))
	}
	// Preflights for any path reach the cors middleware through NoRoute.
	g.NoRoute(func(c *gin.Context) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "not found"})
	})
	return g
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// NewServer returns an http.Server for addr serving h with the configured
// timeouts. The caller runs and shuts it down.
func NewServer(addr string, h http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 90 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Lifecycle ---

type startResp struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	PID     int    `json:"pid"`
}

type stopResp struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Mode    string `json:"mode"`
}

type statusResp struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func (r *Router) handleStart(c *gin.Context) {
	pid, err := r.opts.Supervisor.Start(c.Request.Context())
	switch {
	case errors.Is(err, mng.ErrAlreadyRunning):
		writeError(c, http.StatusBadRequest, err)
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
	default:
		writeJSON(c, http.StatusOK, startResp{
			Success: true,
			Status:  fmt.Sprintf("Server starting (PID: %d)", pid),
			PID:     pid,
		})
	}
}

func (r *Router) handleStop(c *gin.Context) {
	out, err := r.opts.Supervisor.Stop(c.Request.Context())
	switch {
	case errors.Is(err, mng.ErrNotRunning):
		writeError(c, http.StatusBadRequest, err)
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
	default:
		writeJSON(c, http.StatusOK, stopResp{Success: true, Status: stopMessage(out), Mode: string(out.Mode)})
	}
}

func stopMessage(out mng.StopOutcome) string {
	switch out.Mode {
	case mng.StopForcedTimeout:
		return "Server not responding, forced stop."
	case mng.StopForcedRemoteError:
		return fmt.Sprintf("Remote control error (%v), forced stop.", out.Cause)
	default:
		return "Server stopped cleanly."
	}
}

func (r *Router) handleRestart(c *gin.Context) {
	res, err := r.opts.Supervisor.Restart(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	msg := fmt.Sprintf("Server restarted (PID: %d)", res.PID)
	if res.Stopped != nil && res.Stopped.Mode.Forced() {
		msg += ", previous instance was " + stopMessage(*res.Stopped)
	}
	writeJSON(c, http.StatusOK, statusResp{Success: true, Status: msg})
}

// --- Telemetry ---

func (r *Router) handleLogs(c *gin.Context) {
	writeJSON(c, http.StatusOK, telemetry.TailLog(r.opts.LogFile, r.opts.LogLines))
}

type statsResp struct {
	Success             bool   `json:"success"`
	Status              string `json:"status"`
	ProcessRAM          string `json:"process_ram"`
	SystemRAM           string `json:"system_ram"`
	PID                 int    `json:"pid,omitempty"`
	ProcessRAMBytes     uint64 `json:"process_ram_bytes"`
	SystemRAMUsedBytes  uint64 `json:"system_ram_used_bytes"`
	SystemRAMTotalBytes uint64 `json:"system_ram_total_bytes"`
}

func (r *Router) handleStats(c *gin.Context) {
	st := r.opts.Supervisor.Status(c.Request.Context())
	resp := statsResp{
		Success:             true,
		Status:              string(st.State),
		ProcessRAM:          "0",
		SystemRAM:           telemetry.FormatSystemRAM(telemetry.HostMemory{UsedBytes: st.HostUsedBytes, TotalBytes: st.HostTotalBytes}),
		PID:                 st.PID,
		ProcessRAMBytes:     st.ProcessRSSBytes,
		SystemRAMUsedBytes:  st.HostUsedBytes,
		SystemRAMTotalBytes: st.HostTotalBytes,
	}
	if st.State == mng.Online {
		resp.ProcessRAM = telemetry.FormatProcessRAM(st.ProcessRSSBytes)
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handlePing(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"success": true, "status": "ok", "message": "control service up"})
}

func (r *Router) handleState(c *gin.Context) {
	st := r.opts.Supervisor.State()
	resp := gin.H{"success": true, "state": st.String()}
	if st == mng.StateRunning {
		resp["pid"] = r.opts.Supervisor.Status(c.Request.Context()).PID
	}
	writeJSON(c, http.StatusOK, resp)
}

// --- API ---

func (r *Router) handleAPIStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"success": true, "the_status_is": "ok!"})
}

func (r *Router) handleMessage(c *gin.Context) {
	if r.opts.Hub != nil {
		r.opts.Hub.Publish(EventMessage, "hello!")
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true})
}

func (r *Router) handleTodos(c *gin.Context) {
	items := []todo.Item{}
	if r.opts.Todos != nil {
		items = r.opts.Todos.List()
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "todos": items})
}
