package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vawter.tech/stopper"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (r *recorder) Publish(event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.data = append(r.data, data)
}

func (r *recorder) snapshot() ([]string, []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]any(nil), r.data...)
}

func TestFollowerPublishesAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	if err := os.WriteFile(path, []byte("old line\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	sctx := stopper.WithContext(context.Background())
	f := &Follower{Path: path, Pub: rec}
	sctx.Go(f.Run)

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = fh.Close() }()

	deadline := time.Now().Add(5 * time.Second)
	for i := 0; time.Now().Before(deadline); i++ {
		if _, err := fmt.Fprintf(fh, "new line %d\n", i); err != nil {
			t.Fatal(err)
		}
		if ev, _ := rec.snapshot(); len(ev) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	sctx.Stop(time.Second)
	if err := sctx.Wait(); err != nil {
		t.Fatalf("follower stopped with error: %v", err)
	}
	events, data := rec.snapshot()
	if len(events) == 0 {
		t.Fatalf("no lines published")
	}
	for i, ev := range events {
		if ev != LogLineEvent {
			t.Fatalf("unexpected event %q", ev)
		}
		if data[i] == "old line" {
			t.Fatalf("pre-existing content must not be replayed")
		}
	}
}
