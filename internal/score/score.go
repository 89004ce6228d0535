// Package score holds the pure relevance and efficiency formulas that
// drive lifecycle transitions. Everything here is deterministic given an
// explicit clock; no shared state.
package score

import (
	"math"
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

const (
	// ArchiveThreshold is the relevance below which an active record
	// becomes an archival candidate.
	ArchiveThreshold = 30.0

	// ForgetThreshold is the relevance below which an archived record
	// becomes a deletion candidate.
	ForgetThreshold = 10.0

	// MaxAgeDays forces archived records into deletion candidacy on age
	// alone, regardless of relevance.
	MaxAgeDays = 90
)

const (
	ageHalfLife    = 30 * 24 * time.Hour
	accessHalfLife = 7 * 24 * time.Hour
)

// Relevance computes the 0-100 relevance of a record at the given
// instant. Access frequency contributes log2(accessCount+1); age and
// time-since-last-access decay exponentially, with recency weighted 70%
// against 30% for raw age.
func Relevance(rec *model.Record, now time.Time) float64 {
	age := now.Sub(rec.CreatedAt)
	sinceAccess := now.Sub(rec.LastAccessed)

	s := math.Log2(float64(rec.AccessCount) + 1)

	ageDecay := math.Exp(-float64(age) / float64(ageHalfLife))
	accessDecay := math.Exp(-float64(sinceAccess) / float64(accessHalfLife))

	s *= 0.3*ageDecay + 0.7*accessDecay

	return Clamp(s * 10)
}

// ShouldArchive reports whether an active record has decayed below the
// archive threshold.
func ShouldArchive(rec *model.Record, threshold float64) bool {
	return rec.State == model.StateActive && rec.Relevance < threshold
}

// ShouldForget reports whether an archived record qualifies for
// deletion, either by low relevance or by exceeding the maximum age.
func ShouldForget(rec *model.Record, threshold float64, maxAgeDays int, now time.Time) bool {
	if rec.State != model.StateArchived {
		return false
	}
	ageDays := now.Sub(rec.CreatedAt).Hours() / 24
	return rec.Relevance < threshold || ageDays > float64(maxAgeDays)
}

// MemoryEfficiency blends the inactive fraction of total storage (60%)
// with average relevance of retained data (40%) into a 0-100 score. An
// empty store is perfectly efficient.
func MemoryEfficiency(activeSize, totalSize int64, avgRelevance float64) float64 {
	if totalSize == 0 {
		return 100
	}
	sizeEfficiency := 1 - float64(activeSize)/float64(totalSize)
	relevanceEfficiency := avgRelevance / 100
	return (sizeEfficiency*0.6 + relevanceEfficiency*0.4) * 100
}

// Clamp bounds v to [0,100].
func Clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
