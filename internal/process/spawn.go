package process

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Child is a process started by Spawn. Its exit is collected in the
// background so it never lingers as a zombie.
type Child struct {
	PID  int
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed once the child has exited and been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Err returns the exit error after Done is closed.
func (c *Child) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Spawn starts spec.Command in a new session. It does not touch the
// SupervisionRecord; callers decide when the start is committed.
func Spawn(spec Spec) (*Child, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)

	var closers []io.Closer
	if spec.Output.Enabled() {
		if spec.Output.Dir != "" {
			if err := os.MkdirAll(spec.Output.Dir, 0o750); err != nil {
				return nil, fmt.Errorf("create output dir: %w", err)
			}
		}
		outW, errW, err := spec.Output.Writers(spec.Name)
		if err != nil {
			return nil, err
		}
		// nil writers leave the stream on the null device
		if outW != nil {
			cmd.Stdout = outW
			closers = append(closers, outW)
		}
		if errW != nil {
			cmd.Stderr = errW
			closers = append(closers, errW)
		}
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, err
	}
	child := &Child{PID: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		closeAll()
		child.mu.Lock()
		child.err = err
		child.mu.Unlock()
		close(child.done)
	}()
	return child, nil
}
