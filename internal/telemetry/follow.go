package telemetry

import (
	"io"
	stdlog "log"
	"log/slog"

	"github.com/hpcloud/tail"
	"vawter.tech/stopper"
)

// LogLineEvent is the bus event carrying one new log line.
const LogLineEvent = "log_line"

// Publisher delivers an event to every connected client.
type Publisher interface {
	Publish(event string, data any)
}

// Follower streams lines appended to the log artifact to a Publisher.
type Follower struct {
	Path   string
	Pub    Publisher
	Logger *slog.Logger
}

// Run follows the file until sctx starts stopping. The file may not exist
// yet and may be rotated; both are handled by reopening.
func (f *Follower) Run(sctx *stopper.Context) error {
	t, err := tail.TailFile(f.Path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()
	log := f.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Debug("following server log", "path", f.Path)

	for {
		select {
		case <-sctx.Stopping():
			if err := t.Stop(); err != nil {
				log.Debug("stop log follower", "path", f.Path, "error", err)
			}
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				// Following is best-effort; /logs keeps working without it.
				if err := t.Err(); err != nil {
					log.Warn("log follower ended", "path", f.Path, "error", err)
				}
				return nil
			}
			if line.Err != nil {
				log.Debug("log follow error", "path", f.Path, "error", line.Err)
				continue
			}
			f.Pub.Publish(LogLineEvent, line.Text)
		}
	}
}
