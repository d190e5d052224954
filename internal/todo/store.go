// Package todo holds the shared todo list and its JSON snapshot file.
package todo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/loykin/gamectl/internal/metrics"
	"vawter.tech/stopper"
)

// UpdateEvent is published with the full list after every change.
const UpdateEvent = "update_todos"

// Publisher receives list updates.
type Publisher interface {
	Publish(event string, data any)
}

// Store is the ordered todo list backed by a snapshot file.
type Store struct {
	path string
	pub  Publisher
	log  *slog.Logger

	mu        sync.Mutex
	items     []Item
	lastWrite []byte
}

// Open loads the snapshot at path. A missing file starts an empty list, as
// does a corrupt one (logged at warn). pub may be nil.
func Open(path string, pub Publisher, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("todo: snapshot path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:  path,
		pub:   pub,
		log:   logger.With("component", "todo", "file", path),
		items: []Item{},
	}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Debug("no snapshot, starting empty")
	case err != nil:
		return nil, fmt.Errorf("read todo snapshot: %w", err)
	default:
		items, perr := decode(b)
		if perr != nil {
			s.log.Warn("corrupt snapshot, starting empty", "error", perr)
		} else {
			s.items = items
			s.lastWrite = b
		}
	}
	metrics.SetTodoItems(len(s.items))
	return s, nil
}

func decode(b []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// List returns a copy of the current list.
func (s *Store) List() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.items)
}

// Add appends item. Ids are not checked for uniqueness.
func (s *Store) Add(item Item) ([]Item, error) {
	return s.mutate(func(cur []Item) []Item {
		return append(clone(cur), item)
	})
}

// Delete removes every item whose id equals id.
func (s *Store) Delete(id ID) ([]Item, error) {
	return s.mutate(func(cur []Item) []Item {
		out := make([]Item, 0, len(cur))
		for _, it := range cur {
			if !it.ID.Equal(id) {
				out = append(out, it)
			}
		}
		return out
	})
}

// Replace swaps the whole list for items.
func (s *Store) Replace(items []Item) ([]Item, error) {
	return s.mutate(func([]Item) []Item {
		return clone(items)
	})
}

func (s *Store) mutate(fn func([]Item) []Item) ([]Item, error) {
	s.mu.Lock()
	next := fn(s.items)
	b, err := s.persist(next)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("persist todo snapshot", "error", err)
		return nil, err
	}
	s.items = next
	s.lastWrite = b
	out := clone(next)
	s.mu.Unlock()

	metrics.SetTodoItems(len(out))
	s.publish(clone(out))
	return out, nil
}

func (s *Store) persist(items []Item) ([]byte, error) {
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode todos: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	if err := renameio.WriteFile(s.path, b, 0o644); err != nil {
		return nil, fmt.Errorf("write todo snapshot: %w", err)
	}
	return b, nil
}

func (s *Store) publish(items []Item) {
	if s.pub != nil {
		s.pub.Publish(UpdateEvent, items)
	}
}

// Watch reloads the list when the snapshot file is changed by another
// writer, publishing the reloaded list. It returns when sctx stops.
func (s *Store) Watch(sctx *stopper.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("todo watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Watch the directory: renameio replaces the file, which drops a
	// watch on the file itself.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)
	for {
		select {
		case <-sctx.Stopping():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("snapshot watcher error", "error", err)
		}
	}
}

func (s *Store) reload() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Debug("reload snapshot", "error", err)
		return
	}
	s.mu.Lock()
	if bytes.Equal(b, s.lastWrite) {
		s.mu.Unlock()
		return
	}
	items, err := decode(b)
	if err != nil {
		s.mu.Unlock()
		// Editors may write in several steps; the final write triggers again.
		s.log.Debug("ignoring unparsable snapshot", "error", err)
		return
	}
	s.items = items
	s.lastWrite = b
	out := clone(items)
	s.mu.Unlock()

	s.log.Info("snapshot changed on disk, reloaded", "items", len(out))
	metrics.SetTodoItems(len(out))
	s.publish(out)
}

func clone(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
