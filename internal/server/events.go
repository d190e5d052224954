package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loykin/gamectl/internal/bus"
	"github.com/loykin/gamectl/internal/todo"
)

// Bus event names.
const (
	EventMessage     = "message"
	EventCustom      = "custom_event"
	EventGetTodos    = "get_todos"
	EventAddTodo     = "add_todo"
	EventDeleteTodo  = "delete_todo"
	EventUpdateTodos = todo.UpdateEvent
)

// TodoStore is the todo surface driven by bus events.
type TodoStore interface {
	List() []todo.Item
	Add(todo.Item) ([]todo.Item, error)
	Delete(todo.ID) ([]todo.Item, error)
	Replace([]todo.Item) ([]todo.Item, error)
}

func ok() map[string]any {
	return map[string]any{"status_code": 200, "success": true}
}

// RegisterEvents installs the client event handlers on hub. Mutations are
// broadcast by the store itself.
func RegisterEvents(hub *bus.Hub, store TodoStore, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "events")

	hub.On(EventMessage, func(_ context.Context, c *bus.Conn, data json.RawMessage) (any, error) {
		log.Info("message", "conn", c.ID, "data", string(data))
		return nil, nil
	})
	hub.On(EventCustom, func(_ context.Context, c *bus.Conn, data json.RawMessage) (any, error) {
		log.Info("custom event", "conn", c.ID, "data", string(data))
		return ok(), nil
	})
	hub.On(EventGetTodos, func(_ context.Context, c *bus.Conn, _ json.RawMessage) (any, error) {
		items := store.List()
		log.Info("todos requested", "conn", c.ID, "count", len(items))
		return map[string]any{"todos": items, "success": true}, nil
	})
	hub.On(EventAddTodo, func(_ context.Context, _ *bus.Conn, data json.RawMessage) (any, error) {
		it, err := todo.ParseItem(data)
		if err != nil {
			return nil, err
		}
		if _, err := store.Add(it); err != nil {
			return nil, err
		}
		return ok(), nil
	})
	hub.On(EventDeleteTodo, func(_ context.Context, _ *bus.Conn, data json.RawMessage) (any, error) {
		id, err := todo.ParseID(data)
		if err != nil {
			return nil, err
		}
		if _, err := store.Delete(id); err != nil {
			return nil, err
		}
		return ok(), nil
	})
	hub.On(EventUpdateTodos, func(_ context.Context, _ *bus.Conn, data json.RawMessage) (any, error) {
		items, err := todo.ParseList(data)
		if err != nil {
			return nil, err
		}
		if _, err := store.Replace(items); err != nil {
			return nil, err
		}
		return ok(), nil
	})
}
