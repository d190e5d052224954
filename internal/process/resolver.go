package process

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Handle is a point-in-time view of the supervised process.
type Handle struct {
	PID      int    `json:"pid"`
	Alive    bool   `json:"alive"`
	RSSBytes uint64 `json:"rss_bytes"`
	Name     string `json:"name"`
}

// Info is what the OS reports about a PID.
type Info struct {
	PID     int
	Name    string
	Exe     string
	RSS     uint64
	Zombie  bool
	Running bool
}

// Inspect looks up pid in the OS process table.
func Inspect(ctx context.Context, pid int) (Info, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Info{PID: pid}, err
	}
	info := Info{PID: pid, Running: true}
	if st, err := p.StatusWithContext(ctx); err == nil && slices.Contains(st, gopsproc.Zombie) {
		info.Zombie = true
		info.Running = false
		return info, nil
	}
	if info.Name, err = p.NameWithContext(ctx); err != nil {
		return info, err
	}
	// Exe is unreadable for foreign users' processes; the name alone is enough then.
	info.Exe, _ = p.ExeWithContext(ctx)
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return info, err
	}
	info.RSS = mem.RSS
	return info, nil
}

// Matches reports whether the process looks like the expected runtime.
func (i Info) Matches(match string) bool {
	if match == "" {
		return true
	}
	return strings.Contains(i.Name, match) || (i.Exe != "" && strings.Contains(filepath.Base(i.Exe), match))
}

// Alive reports whether pid exists and is not a zombie.
func Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		// vanished between the two lookups
		return PidSignalable(pid)
	}
	return !slices.Contains(st, gopsproc.Zombie)
}

// WaitExit blocks until pid is no longer alive or timeout elapses.
// It returns true when the process exited in time.
func WaitExit(ctx context.Context, pid int, timeout, poll time.Duration) bool {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if !Alive(ctx, pid) {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(poll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return !Alive(context.Background(), pid)
		case <-deadline.C:
			return !Alive(ctx, pid)
		case <-tick.C:
			if !Alive(ctx, pid) {
				return true
			}
		}
	}
}

// Resolver turns the SupervisionRecord into a live Handle.
// It never fails: anything unexpected is treated as "not running" and the
// stale record is removed.
type Resolver struct {
	PIDFile string
	Match   string
	// Owned reports whether pid is a child this service spawned and has not
	// yet reaped. Such a pid skips the Match check: a start script keeps its
	// own name until it execs the runtime.
	Owned  func(pid int) bool
	Logger *slog.Logger
}

// Resolve returns the live handle of the recorded process, if any.
func (r Resolver) Resolve(ctx context.Context) (Handle, bool) {
	pid, err := ReadRecord(r.PIDFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Handle{}, false
		}
		r.discard(pid, "unreadable record", err)
		return Handle{}, false
	}
	info, err := Inspect(ctx, pid)
	switch {
	case err != nil:
		r.discard(pid, "process lookup failed", err)
		return Handle{}, false
	case !info.Running:
		r.discard(pid, "process exited", nil)
		return Handle{}, false
	case !info.Matches(r.Match) && (r.Owned == nil || !r.Owned(pid)):
		r.discard(pid, "pid belongs to "+info.Name, nil)
		return Handle{}, false
	}
	return Handle{PID: pid, Alive: true, RSSBytes: info.RSS, Name: info.Name}, true
}

func (r Resolver) discard(pid int, reason string, cause error) {
	rmErr := RemoveRecord(r.PIDFile)
	if r.Logger == nil {
		return
	}
	attrs := []any{"pid", pid, "pid_file", r.PIDFile, "reason", reason}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	if rmErr != nil {
		attrs = append(attrs, "remove_error", rmErr)
	}
	r.Logger.Debug("discarding stale supervision record", attrs...)
}
