package score

import (
	"testing"
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

func testRecord(accessCount int64, age, sinceAccess time.Duration, now time.Time) *model.Record {
	return &model.Record{
		ID:           "rec-1",
		State:        model.StateActive,
		AccessCount:  accessCount,
		CreatedAt:    now.Add(-age),
		LastAccessed: now.Add(-sinceAccess),
	}
}

func TestRelevanceFreshRecord(t *testing.T) {
	now := time.Now()
	rec := testRecord(1, 0, 0, now)

	got := Relevance(rec, now)
	// log2(2) * (0.3 + 0.7) * 10 = 10
	if got < 9.99 || got > 10.01 {
		t.Errorf("fresh record relevance = %f, want ~10", got)
	}
}

func TestRelevanceNonIncreasingInAge(t *testing.T) {
	now := time.Now()
	prev := Relevance(testRecord(10, 0, 0, now), now)
	for days := 1; days <= 120; days *= 2 {
		age := time.Duration(days) * 24 * time.Hour
		cur := Relevance(testRecord(10, age, age, now), now)
		if cur > prev {
			t.Fatalf("relevance increased with age: %f -> %f at %d days", prev, cur, days)
		}
		prev = cur
	}
}

func TestRelevanceNonDecreasingInAccessCount(t *testing.T) {
	now := time.Now()
	age := 10 * 24 * time.Hour
	prev := Relevance(testRecord(1, age, time.Hour, now), now)
	for count := int64(2); count <= 1024; count *= 2 {
		cur := Relevance(testRecord(count, age, time.Hour, now), now)
		if cur < prev {
			t.Fatalf("relevance decreased with access count: %f -> %f at %d", prev, cur, count)
		}
		prev = cur
	}
}

func TestRelevanceClamped(t *testing.T) {
	now := time.Now()
	// Absurd access count cannot push past 100.
	rec := testRecord(1<<40, 0, 0, now)
	if got := Relevance(rec, now); got > 100 {
		t.Errorf("relevance = %f, want <= 100", got)
	}
	// Ancient, never re-accessed record cannot go below 0.
	old := testRecord(1, 10*365*24*time.Hour, 10*365*24*time.Hour, now)
	if got := Relevance(old, now); got < 0 {
		t.Errorf("relevance = %f, want >= 0", got)
	}
}

func TestRecencyDominatesAge(t *testing.T) {
	now := time.Now()
	// Same age; one re-accessed recently, one not.
	recent := testRecord(5, 60*24*time.Hour, time.Hour, now)
	stale := testRecord(5, 60*24*time.Hour, 60*24*time.Hour, now)

	if Relevance(recent, now) <= Relevance(stale, now) {
		t.Error("recently accessed record should score higher than a stale one of equal age")
	}
}

func TestShouldArchive(t *testing.T) {
	rec := &model.Record{State: model.StateActive, Relevance: 25}
	if !ShouldArchive(rec, ArchiveThreshold) {
		t.Error("low-relevance active record should archive")
	}

	rec.Relevance = 50
	if ShouldArchive(rec, ArchiveThreshold) {
		t.Error("relevant active record should not archive")
	}

	rec.Relevance = 25
	rec.State = model.StateArchived
	if ShouldArchive(rec, ArchiveThreshold) {
		t.Error("archived record is not an archival candidate")
	}
}

func TestShouldForget(t *testing.T) {
	now := time.Now()
	rec := &model.Record{
		State:     model.StateArchived,
		Relevance: 5,
		CreatedAt: now.Add(-24 * time.Hour),
	}
	if !ShouldForget(rec, ForgetThreshold, MaxAgeDays, now) {
		t.Error("low-relevance archived record should be forgotten")
	}

	// High relevance but very old: age alone qualifies.
	rec.Relevance = 80
	rec.CreatedAt = now.Add(-100 * 24 * time.Hour)
	if !ShouldForget(rec, ForgetThreshold, MaxAgeDays, now) {
		t.Error("over-age archived record should be forgotten")
	}

	// Active records never qualify regardless of score.
	rec.State = model.StateActive
	rec.Relevance = 1
	if ShouldForget(rec, ForgetThreshold, MaxAgeDays, now) {
		t.Error("active record is not a forget candidate")
	}
}

func TestMemoryEfficiency(t *testing.T) {
	if got := MemoryEfficiency(0, 0, 0); got != 100 {
		t.Errorf("empty store efficiency = %f, want 100", got)
	}

	// All data active, zero relevance: fully inefficient.
	if got := MemoryEfficiency(1000, 1000, 0); got != 0 {
		t.Errorf("worst-case efficiency = %f, want 0", got)
	}

	// Nothing active, perfect relevance: fully efficient.
	if got := MemoryEfficiency(0, 1000, 100); got != 100 {
		t.Errorf("best-case efficiency = %f, want 100", got)
	}

	// Half active, 50 relevance: 0.5*0.6*100 + 0.5*0.4*100 = 50.
	if got := MemoryEfficiency(500, 1000, 50); got < 49.99 || got > 50.01 {
		t.Errorf("midpoint efficiency = %f, want 50", got)
	}
}
