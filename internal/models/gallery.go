// Package models defines the wire types shared by the gallery server and
// its clients.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Action is the kind of change carried by a change batch entry.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// FileRecord is one image or media entry as reported by the server.
// Fields the server sends that are not modelled here are kept in Extra
// and written back out unchanged.
type FileRecord struct {
	Name      string
	URL       string
	Timestamp float64
	Date      string
	Metadata  map[string]any
	Tags      []string
	Type      string
	Extra     map[string]json.RawMessage
}

// FolderMap maps folder name to file name to record.
type FolderMap map[string]map[string]FileRecord

// Snapshot is the body of GET /Gallery/images.
type Snapshot struct {
	Folders FolderMap `json:"folders"`
}

// Change is one entry of a change batch: an action plus the record
// fields that accompany it.
type Change struct {
	Action Action
	Fields map[string]json.RawMessage
}

// ChangeBatch is a server-pushed delta. Folders is nil when the payload
// had no "folders" key, which callers treat as malformed.
type ChangeBatch struct {
	Folders map[string]map[string]Change `json:"folders"`

	// Invalid lists folders whose value was not an object.
	Invalid []string `json:"-"`
}

var nullJSON = []byte("null")

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), nullJSON)
}

// SetField decodes a single JSON field into the record. Unknown keys
// are stored in Extra.
func (r *FileRecord) SetField(key string, raw json.RawMessage) error {
	switch key {
	case "name":
		return json.Unmarshal(raw, &r.Name)
	case "url":
		return json.Unmarshal(raw, &r.URL)
	case "timestamp":
		if isNull(raw) {
			r.Timestamp = 0
			return nil
		}

		return json.Unmarshal(raw, &r.Timestamp)
	case "date":
		if isNull(raw) {
			r.Date = ""
			return nil
		}

		return json.Unmarshal(raw, &r.Date)
	case "metadata":
		if isNull(raw) {
			r.Metadata = nil
			return nil
		}

		var md map[string]any
		if err := json.Unmarshal(raw, &md); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}

		r.Metadata = md

		return nil
	case "tags":
		if isNull(raw) {
			r.Tags = nil
			return nil
		}

		return json.Unmarshal(raw, &r.Tags)
	case "type":
		return json.Unmarshal(raw, &r.Type)
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}

		r.Extra[key] = append(json.RawMessage(nil), raw...)

		return nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *FileRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = FileRecord{}

	for key, raw := range fields {
		if err := r.SetField(key, raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}

	return nil
}

// MarshalJSON implements json.Marshaler. metadata is always present so
// clients can tell "no metadata" (null) from a missing field.
func (r FileRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+7)
	for k, v := range r.Extra {
		out[k] = v
	}

	out["name"] = r.Name
	out["url"] = r.URL
	out["timestamp"] = r.Timestamp
	out["date"] = r.Date
	out["metadata"] = r.Metadata

	if len(r.Tags) > 0 {
		out["tags"] = r.Tags
	}

	if r.Type != "" {
		out["type"] = r.Type
	}

	return json.Marshal(out)
}

// Fields returns the record as a field map, the shape carried by
// create and update changes.
func (r FileRecord) Fields() map[string]json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}

	return fields
}

// Clone returns a copy that shares no slices or maps with r. Metadata
// values are shared; they are treated as read-only once decoded.
func (r FileRecord) Clone() FileRecord {
	c := r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}

	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}

	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}

	return c
}

// UnmarshalJSON accepts folder values either as a map keyed by file name
// or as an array of records. Arrays are normalized to the map shape,
// keyed by each record's name. Records that fail to decode, and array
// entries without a name, are dropped.
func (m *FolderMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(FolderMap, len(raw))

	for folder, value := range raw {
		files := make(map[string]FileRecord)

		trimmed := bytes.TrimSpace(value)
		switch {
		case len(trimmed) > 0 && trimmed[0] == '[':
			var list []json.RawMessage
			if err := json.Unmarshal(trimmed, &list); err != nil {
				continue
			}

			for _, item := range list {
				var rec FileRecord
				if err := json.Unmarshal(item, &rec); err != nil || rec.Name == "" {
					continue
				}

				files[rec.Name] = rec
			}
		case len(trimmed) > 0 && trimmed[0] == '{':
			var byName map[string]json.RawMessage
			if err := json.Unmarshal(trimmed, &byName); err != nil {
				continue
			}

			for name, item := range byName {
				var rec FileRecord
				if err := json.Unmarshal(item, &rec); err != nil {
					continue
				}

				if rec.Name == "" {
					rec.Name = name
				}

				files[name] = rec
			}
		default:
			continue
		}

		out[folder] = files
	}

	*m = out

	return nil
}

// Count returns the total number of records across all folders.
func (m FolderMap) Count() int {
	n := 0
	for _, files := range m {
		n += len(files)
	}

	return n
}

// Names returns the folder names in lexical order.
func (m FolderMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// UnmarshalJSON splits the "action" key from the record fields. An entry
// that is not an object decodes to a Change with an empty action, which
// the applier reports as unknown.
func (c *Change) UnmarshalJSON(data []byte) error {
	*c = Change{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil //nolint:nilerr // malformed entries surface as an unknown action
	}

	if raw, ok := fields["action"]; ok {
		var action string
		if err := json.Unmarshal(raw, &action); err == nil {
			c.Action = Action(action)
		}

		delete(fields, "action")
	}

	c.Fields = fields

	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Change) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Fields)+1)
	for k, v := range c.Fields {
		out[k] = v
	}

	action, err := json.Marshal(string(c.Action))
	if err != nil {
		return nil, err
	}

	out["action"] = action

	return json.Marshal(out)
}

// UnmarshalJSON keeps valid folders and records the names of folders
// whose value is not an object.
func (b *ChangeBatch) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}

	*b = ChangeBatch{}

	raw, ok := top["folders"]
	if !ok || isNull(raw) {
		return nil
	}

	var folders map[string]json.RawMessage
	if err := json.Unmarshal(raw, &folders); err != nil {
		return fmt.Errorf("folders: %w", err)
	}

	b.Folders = make(map[string]map[string]Change, len(folders))

	for name, value := range folders {
		var files map[string]Change
		if err := json.Unmarshal(value, &files); err != nil {
			b.Invalid = append(b.Invalid, name)
			continue
		}

		b.Folders[name] = files
	}

	sort.Strings(b.Invalid)

	return nil
}

// NewCreate builds a create change carrying the full record.
func NewCreate(rec FileRecord) Change {
	return Change{Action: ActionCreate, Fields: rec.Fields()}
}

// NewUpdate builds an update change carrying the full record. tags is
// always present so a merge clears tags the record no longer has.
func NewUpdate(rec FileRecord) Change {
	fields := rec.Fields()
	if _, ok := fields["tags"]; !ok && fields != nil {
		fields["tags"] = json.RawMessage("null")
	}

	return Change{Action: ActionUpdate, Fields: fields}
}

// NewRemove builds a remove change.
func NewRemove() Change {
	return Change{Action: ActionRemove}
}
