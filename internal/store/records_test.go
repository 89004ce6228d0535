package store

import (
	"testing"
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

func sampleRecord(id, owner string) *model.Record {
	now := time.Now()
	rec := &model.Record{
		ID:           id,
		Content:      "the quick brown fox",
		Size:         19,
		State:        model.StateActive,
		Relevance:    100,
		AccessCount:  1,
		LastAccessed: now,
		CreatedAt:    now,
		Owner:        owner,
	}
	rec.EnsureContentHash()
	return rec
}

func TestSaveAndGetRecord(t *testing.T) {
	db := testDB(t)

	rec := sampleRecord("rec-1", "alice")
	rec.SetMeta("source", "test")
	if err := db.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	got, err := db.GetRecord("rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Owner != "alice" {
		t.Errorf("owner = %q, want alice", got.Owner)
	}
	if got.State != model.StateActive {
		t.Errorf("state = %q, want active", got.State)
	}
	if got.ContentHash == "" {
		t.Error("content hash should round-trip")
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("metadata = %v, want source=test", got.Metadata)
	}
	if got.PurgeAfter != nil {
		t.Error("purge_after should be null for a live record")
	}
}

func TestGetRecordNotFound(t *testing.T) {
	db := testDB(t)

	got, err := db.GetRecord("nope")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing record")
	}
}

func TestSaveRecordUpsert(t *testing.T) {
	db := testDB(t)

	rec := sampleRecord("rec-1", "alice")
	if err := db.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	purge := time.Now().Add(24 * time.Hour)
	rec.State = model.StateDead
	rec.PurgeAfter = &purge
	if err := db.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord upsert: %v", err)
	}

	got, _ := db.GetRecord("rec-1")
	if got.State != model.StateDead {
		t.Errorf("state = %q, want dead after upsert", got.State)
	}
	if got.PurgeAfter == nil {
		t.Fatal("purge_after should persist")
	}
	if got.PurgeAfter.UnixMilli() != purge.UnixMilli() {
		t.Errorf("purge_after = %v, want %v", got.PurgeAfter, purge)
	}
}

func TestTouchRecord(t *testing.T) {
	db := testDB(t)

	rec := sampleRecord("rec-1", "alice")
	db.SaveRecord(rec)

	later := time.Now().Add(time.Minute)
	if err := db.TouchRecord("rec-1", later, 5, 42.5); err != nil {
		t.Fatalf("TouchRecord: %v", err)
	}

	got, _ := db.GetRecord("rec-1")
	if got.AccessCount != 5 {
		t.Errorf("access count = %d, want 5", got.AccessCount)
	}
	if got.Relevance != 42.5 {
		t.Errorf("relevance = %f, want 42.5", got.Relevance)
	}
}

func TestRecordsByStateAndOwner(t *testing.T) {
	db := testDB(t)

	a := sampleRecord("rec-a", "alice")
	b := sampleRecord("rec-b", "bob")
	b.State = model.StateArchived
	db.SaveRecord(a)
	db.SaveRecord(b)

	active, err := db.RecordsByState(model.StateActive)
	if err != nil {
		t.Fatalf("RecordsByState: %v", err)
	}
	if len(active) != 1 || active[0].ID != "rec-a" {
		t.Errorf("active records = %v, want [rec-a]", active)
	}

	bobs, err := db.RecordsByOwner("bob")
	if err != nil {
		t.Fatalf("RecordsByOwner: %v", err)
	}
	if len(bobs) != 1 || bobs[0].ID != "rec-b" {
		t.Errorf("bob's records = %v, want [rec-b]", bobs)
	}
}

func TestDeleteRecord(t *testing.T) {
	db := testDB(t)

	db.SaveRecord(sampleRecord("rec-1", "alice"))
	if err := db.DeleteRecord("rec-1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}

	got, _ := db.GetRecord("rec-1")
	if got != nil {
		t.Error("record should be gone after delete")
	}

	// Deleting a missing record is not an error.
	if err := db.DeleteRecord("rec-1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}
