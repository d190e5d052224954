package todo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidItem reports a todo payload missing a required field.
var ErrInvalidItem = errors.New("invalid todo item")

// ID is a client-supplied identifier kept as the JSON token it arrived as,
// so the number 1 and the string "1" are different ids.
type ID json.RawMessage

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler. The token is stored compacted.
func (id *ID) UnmarshalJSON(b []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	*id = ID(buf.Bytes())
	return nil
}

// Equal reports whether both ids have the same compact JSON encoding.
func (id ID) Equal(other ID) bool { return bytes.Equal(id, other) }

func (id ID) String() string { return string(id) }

// Item is one entry of the shared list. Fields the service does not know
// about are kept in Extra and written back unchanged.
type Item struct {
	ID        ID      `json:"id"`
	Title     string  `json:"title"`
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
	Date      *string `json:"date"`

	Extra map[string]json.RawMessage `json:"-"`
}

type itemFields Item

var knownFields = []string{"id", "title", "text", "completed", "date"}

// MarshalJSON implements json.Marshaler.
func (it Item) MarshalJSON() ([]byte, error) {
	if len(it.Extra) == 0 {
		return json.Marshal(itemFields(it))
	}
	known, err := json.Marshal(itemFields(it))
	if err != nil {
		return nil, err
	}
	m := make(map[string]json.RawMessage, len(it.Extra)+len(knownFields))
	if err := json.Unmarshal(known, &m); err != nil {
		return nil, err
	}
	for k, v := range it.Extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler. The payload must be an object.
func (it *Item) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m == nil {
		return errors.New("todo item is null")
	}
	var f itemFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(m, k)
	}
	for k, v := range m {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return err
		}
		m[k] = buf.Bytes()
	}
	*it = Item(f)
	it.Extra = nil
	if len(m) > 0 {
		it.Extra = m
	}
	return nil
}

// ParseItem decodes a client payload. id, title and text are required;
// completed defaults to false and date to null.
func ParseItem(raw json.RawMessage) (Item, error) {
	var in struct {
		ID    ID      `json:"id"`
		Title *string `json:"title"`
		Text  *string `json:"text"`
	}
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	switch {
	case len(in.ID) == 0 || string(in.ID) == "null":
		return Item{}, fmt.Errorf("%w: missing id", ErrInvalidItem)
	case in.Title == nil:
		return Item{}, fmt.Errorf("%w: missing title", ErrInvalidItem)
	case in.Text == nil:
		return Item{}, fmt.Errorf("%w: missing text", ErrInvalidItem)
	}
	return it, nil
}

// ParseID extracts the id from a {"id": ...} payload.
func ParseID(raw json.RawMessage) (ID, error) {
	var in struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if len(in.ID) == 0 || string(in.ID) == "null" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	return in.ID, nil
}

// ParseList extracts the list from a {"todos": [...]} payload. A missing
// list replaces the store with an empty one. The list is taken as sent:
// every element must be an object, but no field is required.
func ParseList(raw json.RawMessage) ([]Item, error) {
	var in struct {
		Todos []json.RawMessage `json:"todos"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	out := make([]Item, 0, len(in.Todos))
	for i, r := range in.Todos {
		var it Item
		if err := json.Unmarshal(r, &it); err != nil {
			return nil, fmt.Errorf("todos[%d]: %w: %v", i, ErrInvalidItem, err)
		}
		out = append(out, it)
	}
	return out, nil
}
