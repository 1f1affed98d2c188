package models

import "encoding/json"

// Event names pushed to clients.
const (
	// EventUpdate carries a full {folders} listing that replaces the
	// client's state.
	EventUpdate = "Gallery.update"

	// EventFileChange tells clients to refetch the snapshot.
	EventFileChange = "Gallery.file_change"

	// EventClear tells clients to drop all state.
	EventClear = "Gallery.clear"

	// EventChanges carries a change batch to apply incrementally.
	EventChanges = "Gallery.changes"
)

// Event is one websocket text frame.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event with data marshaled to JSON. A nil data
// produces an event without a payload.
func NewEvent(typ string, data any) (Event, error) {
	if data == nil {
		return Event{Type: typ}, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: typ, Data: raw}, nil
}
