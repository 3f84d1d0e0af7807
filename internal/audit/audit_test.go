package audit

import (
	"testing"
	"time"

	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/types"
)

func TestComputeHashDeterministic(t *testing.T) {
	entry := NewEntry(ActorPatient, types.NewID(), ActionLogin, "user", nil, map[string]any{
		"zeta":  "last",
		"alpha": "first",
		"nested": map[string]any{
			"b": 2,
			"a": 1,
		},
	})
	entry.Sequence = 1

	first := entry.ComputeHash()
	for i := 0; i < 20; i++ {
		if got := entry.ComputeHash(); got != first {
			t.Fatalf("hash not deterministic: %s != %s", got, first)
		}
	}
	if len(first) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(first))
	}
}

func TestVerifyHashDetectsTampering(t *testing.T) {
	entry := NewEntry(ActorClinician, types.NewID(), ActionUpdate, "patient_record", nil, nil)
	entry.Sequence = 1
	entry.Hash = entry.ComputeHash()

	if !entry.VerifyHash() {
		t.Fatal("untouched entry should verify")
	}

	entry.Action = ActionDelete
	if entry.VerifyHash() {
		t.Error("tampered entry should not verify")
	}
}

// chain builds n linked entries, newest first, as readAll returns them.
func chain(n int) []*AuditEntry {
	var prev string
	ordered := make([]*AuditEntry, n)
	for i := 0; i < n; i++ {
		e := NewEntry(ActorSystem, types.NewID(), ActionCreate, "user", nil, map[string]any{"n": i})
		e.Sequence = int64(i + 1)
		e.PrevHash = prev
		e.Hash = e.ComputeHash()
		prev = e.Hash
		ordered[n-1-i] = e
	}
	return ordered
}

func TestVerifyEntriesValidChain(t *testing.T) {
	result := verifyEntries(chain(5))
	if !result.Valid {
		t.Fatalf("valid chain reported invalid: %v", result.Violations)
	}
	if result.Checked != 5 || result.ContentValid != 5 || result.LinkageValid != 5 {
		t.Errorf("counts = %d/%d/%d, want 5/5/5",
			result.Checked, result.ContentValid, result.LinkageValid)
	}
}

func TestVerifyEntriesDetectsContentTampering(t *testing.T) {
	entries := chain(4)
	entries[2].Changes = map[string]any{"n": 99}

	result := verifyEntries(entries)
	if result.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if result.ContentInvalid != 1 {
		t.Errorf("content invalid = %d, want 1", result.ContentInvalid)
	}
}

func TestVerifyEntriesDetectsBrokenLinkage(t *testing.T) {
	entries := chain(4)
	// Re-hash an entry after changing it, so content verifies but the next
	// entry's prev_hash no longer matches.
	entries[2].Changes = map[string]any{"n": 99}
	entries[2].Hash = entries[2].ComputeHash()

	result := verifyEntries(entries)
	if result.Valid {
		t.Fatal("broken chain reported valid")
	}
	if result.LinkageInvalid == 0 {
		t.Error("expected a linkage violation")
	}
}

func TestVerifyEntriesEmptyChain(t *testing.T) {
	result := verifyEntries(nil)
	if !result.Valid || result.Checked != 0 {
		t.Errorf("empty chain: valid=%v checked=%d", result.Valid, result.Checked)
	}
}

func TestSplitEventType(t *testing.T) {
	tests := []struct {
		eventType    string
		wantResource string
		wantAction   string
	}{
		{"accounts.user.created", "user", ActionCreate},
		{"accounts.user.login", "user", ActionLogin},
		{"accounts.user.logout", "user", ActionLogout},
		{"accounts.user.verified", "user", "verified"},
		{"medical.record.updated", "record", ActionUpdate},
		{"medical.document.uploaded", "document", ActionCreate},
		{"chat.session.deleted", "session", ActionDelete},
		{"chat.document.indexed", "document", "indexed"},
		{"his.patient.synced", "patient", "synced"},
		{"accounts.password.reset_requested", "password", "reset_requested"},
		{"malformed", "malformed", ActionUpdate},
	}

	for _, tt := range tests {
		resource, action := splitEventType(tt.eventType)
		if resource != tt.wantResource || action != tt.wantAction {
			t.Errorf("splitEventType(%q) = %q/%q, want %q/%q",
				tt.eventType, resource, action, tt.wantResource, tt.wantAction)
		}
	}
}

func TestEntryFromEvent(t *testing.T) {
	actorID := types.NewID()
	sessionID := types.NewID()
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	event := events.NewEvent("chat.session.created", "chat", map[string]any{
		"session_id": sessionID.String(),
	}).WithActor(actorID, "patient").WithActorIP("10.1.2.3")
	event.Timestamp = ts

	entry := entryFromEvent(event)

	if entry.ActorType != ActorPatient || entry.ActorID != actorID {
		t.Errorf("actor = %s/%s", entry.ActorType, entry.ActorID)
	}
	if entry.Action != ActionCreate || entry.ResourceType != "session" {
		t.Errorf("action/resource = %s/%s", entry.Action, entry.ResourceType)
	}
	if entry.ResourceID == nil || *entry.ResourceID != sessionID {
		t.Errorf("resource ID = %v, want %v", entry.ResourceID, sessionID)
	}
	if entry.ActorIP != "10.1.2.3" {
		t.Errorf("actor IP = %q", entry.ActorIP)
	}
	if !entry.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want event time", entry.Timestamp)
	}
}

func TestEntryFromEventUnknownRole(t *testing.T) {
	event := events.NewEvent("his.patient.synced", "his", map[string]any{
		"patient_id": types.NewID().String(),
	})

	entry := entryFromEvent(event)
	if entry.ActorType != ActorSystem {
		t.Errorf("actor type = %s, want system", entry.ActorType)
	}
}

func TestListFilterMatches(t *testing.T) {
	actorID := types.NewID()
	resourceID := types.NewID()
	entry := NewEntry(ActorClinician, actorID, ActionUpdate, "record", &resourceID, nil)

	tests := []struct {
		name   string
		filter ListFilter
		want   bool
	}{
		{"empty", ListFilter{}, true},
		{"action match", ListFilter{Action: ActionUpdate}, true},
		{"action mismatch", ListFilter{Action: ActionDelete}, false},
		{"actor match", ListFilter{ActorID: &actorID}, true},
		{"actor type mismatch", ListFilter{ActorType: ActorPatient}, false},
		{"resource match", ListFilter{ResourceType: "record", ResourceID: &resourceID}, true},
		{"resource mismatch", ListFilter{ResourceType: "user"}, false},
	}

	for _, tt := range tests {
		if got := tt.filter.matches(entry); got != tt.want {
			t.Errorf("%s: matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}
