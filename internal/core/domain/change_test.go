package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestDiffFields(t *testing.T) {
	before := map[string]json.RawMessage{
		"general__entity_name": raw(`"old"`),
		"meta__data":           raw(`{"a":1}`),
		"group__sync":          raw(`"public.NORMAL"`),
	}
	after := map[string]json.RawMessage{
		"general__entity_name": raw(`"new"`),
		"meta__data":           raw(`{"a": 1}`), // formatting noise only
		"group__sync":          raw(`"public.NORMAL"`),
	}

	diff := DiffFields(before, after)
	if len(diff) != 1 {
		t.Fatalf("diff has %d fields, want 1: %v", len(diff), diff)
	}
	if string(diff["general__entity_name"]) != `"new"` {
		t.Errorf("diff value = %s", diff["general__entity_name"])
	}
}

func TestDiffFieldsRemoved(t *testing.T) {
	before := map[string]json.RawMessage{"gone": raw(`1`)}
	after := map[string]json.RawMessage{}

	diff := DiffFields(before, after)
	if string(diff["gone"]) != "null" {
		t.Errorf("removed field should diff to null, got %s", diff["gone"])
	}
}

func TestDiffFieldsIdentical(t *testing.T) {
	state := map[string]json.RawMessage{"x": raw(`true`)}
	if diff := DiffFields(state, state); diff != nil {
		t.Errorf("identical states should produce nil diff, got %v", diff)
	}
}

// Applying the change set emitted between two snapshots to the older
// snapshot must reproduce the newer one exactly.
func TestChangeRoundTrip(t *testing.T) {
	prev := map[string]map[string]json.RawMessage{
		"e1": {"name": raw(`"one"`), "pos": raw(`[0,0,0]`)},
		"e2": {"name": raw(`"two"`)},
	}
	curr := map[string]map[string]json.RawMessage{
		"e1": {"name": raw(`"one!"`), "pos": raw(`[0,0,0]`)},
		"e3": {"name": raw(`"three"`)},
	}

	var changes []Change
	for id, row := range curr {
		if prevRow, ok := prev[id]; ok {
			if diff := DiffFields(prevRow, row); diff != nil {
				changes = append(changes, Change{Kind: ResourceEntity, ID: id, Operation: OperationUpdate, Fields: diff})
			}
		} else {
			changes = append(changes, Change{Kind: ResourceEntity, ID: id, Operation: OperationInsert, Fields: row})
		}
	}
	for id := range prev {
		if _, ok := curr[id]; !ok {
			changes = append(changes, Change{Kind: ResourceEntity, ID: id, Operation: OperationDelete})
		}
	}

	// Deep-copy prev, then apply.
	applied := make(map[string]map[string]json.RawMessage)
	for id, row := range prev {
		cp := make(map[string]json.RawMessage, len(row))
		for k, v := range row {
			cp[k] = v
		}
		applied[id] = cp
	}
	for _, c := range changes {
		applied = ApplyChange(applied, c)
	}

	if !reflect.DeepEqual(applied, curr) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", applied, curr)
	}
}

func TestApplyChangeDeleteUnknown(t *testing.T) {
	snap := map[string]map[string]json.RawMessage{"e1": {"a": raw(`1`)}}
	snap = ApplyChange(snap, Change{Kind: ResourceEntity, ID: "missing", Operation: OperationDelete})
	if len(snap) != 1 {
		t.Error("deleting an unknown id should be a no-op")
	}
}

func TestOperationValid(t *testing.T) {
	for _, op := range []Operation{OperationInsert, OperationUpdate, OperationDelete} {
		if !op.Valid() {
			t.Errorf("%s should be valid", op)
		}
	}
	if Operation("TRUNCATE").Valid() {
		t.Error("TRUNCATE is not a change operation")
	}
}

func TestNotificationJSON(t *testing.T) {
	payload := `{"kind":"entity","id":"abc","operation":"UPDATE","sync_group":"public.NORMAL","timestamp":"2026-08-01T00:00:00Z","agent_id":"a1"}`

	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n.Kind != ResourceEntity || n.Operation != OperationUpdate || n.SyncGroup != "public.NORMAL" {
		t.Errorf("parsed notification = %+v", n)
	}
}
