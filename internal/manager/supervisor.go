package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loykin/gamectl/internal/metrics"
	"github.com/loykin/gamectl/internal/process"
	"github.com/loykin/gamectl/internal/telemetry"
)

const (
	DefaultStopCommand = "stop"
	DefaultStopTimeout = 30 * time.Second
	DefaultRestartWait = 10 * time.Second
	DefaultKillGrace   = time.Second
	defaultPoll        = 200 * time.Millisecond
)

// RemoteControl sends an administrative command to the running server.
type RemoteControl interface {
	Send(ctx context.Context, command string) (string, error)
}

// HostMemoryFunc reads host memory usage.
type HostMemoryFunc func(ctx context.Context) (telemetry.HostMemory, error)

// Options configures a Supervisor.
type Options struct {
	Spec        process.Spec
	Remote      RemoteControl
	StopCommand string
	StopTimeout time.Duration
	RestartWait time.Duration
	KillGrace   time.Duration
	KillSignal  syscall.Signal
	// Poll is the liveness check interval of the bounded waits.
	Poll       time.Duration
	HostMemory HostMemoryFunc
	// Kill delivers the forced-termination signal. Defaults to process.Kill.
	Kill   func(pid int, sig syscall.Signal) error
	Logger *slog.Logger
}

// Supervisor manages the single server slot. Operations are serialized by
// one mutex; restart holds it across both phases.
//
// State Machine:
// Stopped -> Starting -> Running -> Stopping -> Stopped
type Supervisor struct {
	mu       sync.Mutex
	opts     Options
	resolver process.Resolver
	log      *slog.Logger
	state    atomic.Int32
	// child is the last server spawned by this Supervisor.
	child atomic.Pointer[process.Child]
}

// New validates opts, fills defaults and returns a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if err := opts.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if opts.StopCommand == "" {
		opts.StopCommand = DefaultStopCommand
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.RestartWait <= 0 {
		opts.RestartWait = DefaultRestartWait
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.KillSignal == 0 {
		opts.KillSignal = syscall.SIGKILL
	}
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}
	if opts.HostMemory == nil {
		opts.HostMemory = telemetry.ReadHostMemory
	}
	if opts.Kill == nil {
		opts.Kill = process.Kill
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With("component", "supervisor", "name", opts.Spec.Name)
	s := &Supervisor{
		opts: opts,
		log:  log,
		resolver: process.Resolver{
			PIDFile: opts.Spec.PIDFile,
			Match:   opts.Spec.Match,
			Logger:  log,
		},
	}
	s.resolver.Owned = s.ownsChild
	if h, ok := s.resolver.Resolve(context.Background()); ok {
		log.Info("recovered running server from record", "pid", h.PID)
		s.setState(StateRunning)
	} else {
		s.setState(StateStopped)
	}
	return s, nil
}

// ownsChild reports whether pid is our spawned child and still unreaped.
func (s *Supervisor) ownsChild(pid int) bool {
	c := s.child.Load()
	if c == nil || c.PID != pid {
		return false
	}
	select {
	case <-c.Done():
		return false
	default:
		return true
	}
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	metrics.SetState(st.String())
}

// State returns the state machine position. When no operation is in
// flight it is re-synced from the supervision record first.
func (s *Supervisor) State() State {
	if s.mu.TryLock() {
		_, ok := s.resolver.Resolve(context.Background())
		if ok {
			s.setState(StateRunning)
		} else {
			s.setState(StateStopped)
		}
		s.mu.Unlock()
	}
	return State(s.state.Load())
}

// Start spawns the server. It fails with ErrAlreadyRunning when a live
// server is recorded and with a *SpawnError when the spawn fails.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) (int, error) {
	if h, ok := s.resolver.Resolve(ctx); ok {
		s.setState(StateRunning)
		return h.PID, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, h.PID)
	}
	s.setState(StateStarting)
	spec := s.opts.Spec

	child, err := process.Spawn(spec)
	if err != nil {
		s.setState(StateStopped)
		metrics.IncSpawnFailure()
		s.log.Error("spawn failed", "command", spec.Command, "error", err)
		return 0, &SpawnError{Command: spec.Command, Err: err}
	}
	if err := process.WriteRecord(spec.PIDFile, child.PID); err != nil {
		// An unrecorded child could never be found again.
		if kerr := s.opts.Kill(child.PID, s.opts.KillSignal); kerr != nil {
			s.log.Error("kill unrecorded child", "pid", child.PID, "error", kerr)
		}
		s.setState(StateStopped)
		metrics.IncSpawnFailure()
		s.log.Error("write pid record", "pid", child.PID, "pid_file", spec.PIDFile, "error", err)
		return 0, &SpawnError{Command: spec.Command, Err: fmt.Errorf("write pid record: %w", err)}
	}
	s.child.Store(child)
	s.setState(StateRunning)
	metrics.IncStart()
	s.log.Info("server started", "pid", child.PID)
	go func() {
		<-child.Done()
		s.log.Info("server process exited", "pid", child.PID, "exit", child.Err())
	}()
	return child.PID, nil
}

// Stop asks the server to stop over remote control and waits for it to
// exit, killing it when the command fails or the wait times out. Caller
// cancellation does not abort the wait or the kill.
func (s *Supervisor) Stop(ctx context.Context) (StopOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, _, err := s.stop(ctx)
	return out, err
}

func (s *Supervisor) stop(ctx context.Context) (StopOutcome, int, error) {
	h, ok := s.resolver.Resolve(ctx)
	if !ok {
		s.setState(StateStopped)
		return StopOutcome{}, 0, ErrNotRunning
	}
	s.setState(StateStopping)
	wctx := context.WithoutCancel(ctx)
	log := s.log.With("pid", h.PID)

	var rerr error
	if s.opts.Remote == nil {
		rerr = ErrNoRemote
	} else {
		_, rerr = s.opts.Remote.Send(wctx, s.opts.StopCommand)
	}
	if rerr != nil {
		log.Warn("remote stop failed, killing server", "error", rerr)
		out, err := s.force(wctx, h.PID, StopForcedRemoteError, rerr)
		return out, h.PID, err
	}

	log.Info("stop command sent, waiting for exit", "timeout", s.opts.StopTimeout)
	if process.WaitExit(wctx, h.PID, s.opts.StopTimeout, s.opts.Poll) {
		s.finishStop(StopClean)
		log.Info("server stopped", "mode", StopClean)
		return StopOutcome{Mode: StopClean}, h.PID, nil
	}
	log.Warn("server ignored stop command, killing", "timeout", s.opts.StopTimeout)
	out, err := s.force(wctx, h.PID, StopForcedTimeout, errStopTimeout)
	return out, h.PID, err
}

// force delivers the kill signal once and gives the server kill_grace to
// go away. A failed kill leaves the record in place.
func (s *Supervisor) force(ctx context.Context, pid int, mode StopMode, cause error) (StopOutcome, error) {
	if err := s.opts.Kill(pid, s.opts.KillSignal); err != nil {
		s.setState(StateRunning)
		s.log.Error("force stop failed", "pid", pid, "signal", s.opts.KillSignal.String(), "error", err)
		return StopOutcome{}, &ForceStopError{PID: pid, Err: err}
	}
	if !process.WaitExit(ctx, pid, s.opts.KillGrace, s.opts.Poll) {
		s.log.Warn("server still present after kill grace", "pid", pid, "grace", s.opts.KillGrace)
	}
	s.finishStop(mode)
	s.log.Info("server stopped", "pid", pid, "mode", mode, "cause", cause)
	return StopOutcome{Mode: mode, Cause: cause}, nil
}

func (s *Supervisor) finishStop(mode StopMode) {
	if err := process.RemoveRecord(s.opts.Spec.PIDFile); err != nil {
		s.log.Warn("remove pid record", "pid_file", s.opts.Spec.PIDFile, "error", err)
	}
	s.setState(StateStopped)
	metrics.IncStop(string(mode))
}

// Restart stops a running server, waits for the old process to go away and
// starts a new one. On a stopped slot it behaves like Start. A degraded
// (forced) stop does not prevent the start.
func (s *Supervisor) Restart(ctx context.Context) (RestartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res RestartResult
	if _, ok := s.resolver.Resolve(ctx); ok {
		out, oldPID, err := s.stop(ctx)
		if err != nil {
			return res, &RestartError{Phase: "stop", Err: err}
		}
		res.Stopped = &out
		if !process.WaitExit(context.WithoutCancel(ctx), oldPID, s.opts.RestartWait, s.opts.Poll) {
			s.log.Warn("old server still present, starting anyway", "pid", oldPID, "waited", s.opts.RestartWait)
		}
	}
	pid, err := s.start(ctx)
	if err != nil {
		return res, &RestartError{Phase: "start", Err: err}
	}
	res.PID = pid
	metrics.IncRestart()
	return res, nil
}

// Status reports liveness plus process and host memory. It never fails;
// a host memory error yields zeros.
func (s *Supervisor) Status(ctx context.Context) Status {
	var st Status
	if h, ok := s.resolver.Resolve(ctx); ok {
		st.State = Online
		st.PID = h.PID
		st.ProcessRSSBytes = h.RSSBytes
	} else {
		st.State = Offline
	}
	mem, err := s.opts.HostMemory(ctx)
	if err != nil {
		s.log.Debug("read host memory", "error", err)
		return st
	}
	st.HostUsedBytes = mem.UsedBytes
	st.HostTotalBytes = mem.TotalBytes
	return st
}

// PIDFile returns the supervision record path.
func (s *Supervisor) PIDFile() string { return s.opts.Spec.PIDFile }
