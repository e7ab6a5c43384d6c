package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Operation classifies a change between two consecutive snapshots.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether the operation is one of INSERT, UPDATE, DELETE.
func (o Operation) Valid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ResourceKind identifies which base table a change belongs to.
type ResourceKind string

const (
	ResourceEntity ResourceKind = "entity"
	ResourceScript ResourceKind = "script"
	ResourceAsset  ResourceKind = "asset"
)

// Change is a single resource mutation inside a change set. Fields is
// the full record on INSERT, the minimal field-by-field diff on UPDATE,
// and nil on DELETE. Field values are opaque JSON owned by clients; the
// server diffs them at the JSON level and never interprets them.
type Change struct {
	Kind      ResourceKind               `json:"kind"`
	ID        string                     `json:"id"`
	Operation Operation                  `json:"operation"`
	Fields    map[string]json.RawMessage `json:"fields,omitempty"`
}

// ChangeSet is the diff between the two latest ticks of one sync group.
type ChangeSet struct {
	SyncGroup  string `json:"sync_group"`
	TickNumber int64  `json:"tick_number"`

	Tick *Tick `json:"tick,omitempty"`

	Entities []Change `json:"entities"`
	Scripts  []Change `json:"scripts"`
	Assets   []Change `json:"assets"`
}

// Empty reports whether the change set carries no changes at all.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Entities) == 0 && len(cs.Scripts) == 0 && len(cs.Assets) == 0
}

// Notification is a store NOTIFY payload delivered on a session channel.
type Notification struct {
	Kind      ResourceKind `json:"kind"`
	ID        string       `json:"id"`
	Operation Operation    `json:"operation"`
	SyncGroup string       `json:"sync_group"`
	Timestamp time.Time    `json:"timestamp"`
	AgentID   string       `json:"agent_id"`
}

// DiffFields computes the minimal field-by-field diff between two row
// states, emitting only fields whose JSON values differ. Fields present
// in before but absent in after are emitted as JSON null.
func DiffFields(before, after map[string]json.RawMessage) map[string]json.RawMessage {
	diff := make(map[string]json.RawMessage)
	for k, v := range after {
		if prev, ok := before[k]; !ok || !jsonEqual(prev, v) {
			diff[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			diff[k] = json.RawMessage("null")
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return diff
}

// ApplyChange applies a single change to a snapshot keyed by resource
// id, returning the updated snapshot. Applying the change set emitted
// at tick t to the snapshot at t-1 yields exactly the snapshot at t.
func ApplyChange(snapshot map[string]map[string]json.RawMessage, c Change) map[string]map[string]json.RawMessage {
	if snapshot == nil {
		snapshot = make(map[string]map[string]json.RawMessage)
	}
	switch c.Operation {
	case OperationInsert:
		row := make(map[string]json.RawMessage, len(c.Fields))
		for k, v := range c.Fields {
			row[k] = v
		}
		snapshot[c.ID] = row
	case OperationUpdate:
		row := snapshot[c.ID]
		if row == nil {
			row = make(map[string]json.RawMessage)
			snapshot[c.ID] = row
		}
		for k, v := range c.Fields {
			if bytes.Equal(v, []byte("null")) {
				delete(row, k)
				continue
			}
			row[k] = v
		}
	case OperationDelete:
		delete(snapshot, c.ID)
	}
	return snapshot
}

// jsonEqual compares two raw JSON values, tolerating formatting noise.
func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ac, err := json.Marshal(av)
	if err != nil {
		return false
	}
	bc, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return bytes.Equal(ac, bc)
}
