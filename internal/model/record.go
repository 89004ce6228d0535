package model

import (
	"time"

	"github.com/lazypower/amnesiad/internal/chainhash"
)

// State is the lifecycle state of a stored record.
type State string

const (
	StateActive   State = "active"
	StateArchived State = "archived"
	StateDead     State = "dead"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateArchived, StateDead:
		return true
	}
	return false
}

// Record is a unit of stored data tracked by the lifecycle manager.
// Relevance is always within [0,100]; AccessCount never decreases while
// the record is alive.
type Record struct {
	ID           string            `json:"id"`
	Content      string            `json:"content,omitempty"`
	ContentHash  string            `json:"contentHash"`
	Size         int64             `json:"size"`
	State        State             `json:"state"`
	Relevance    float64           `json:"relevanceScore"`
	AccessCount  int64             `json:"accessCount"`
	LastAccessed time.Time         `json:"lastAccessedAt"`
	CreatedAt    time.Time         `json:"createdAt"`
	Owner        string            `json:"owner"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// PurgeAfter is set when the record is forgotten; the cleanup sweep
	// physically deletes the record once this instant has passed. Stored
	// durably so a restart cannot lose a pending purge.
	PurgeAfter *time.Time `json:"purgeAfter,omitempty"`
}

// EnsureContentHash fills ContentHash from Content when absent.
func (r *Record) EnsureContentHash() {
	if r.ContentHash == "" {
		r.ContentHash = chainhash.SumString(r.Content)
	}
}

// SetMeta records a metadata key, allocating the map on first use.
func (r *Record) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, 1)
	}
	r.Metadata[key] = value
}

// Clone returns a deep copy so callers cannot mutate manager-owned state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.PurgeAfter != nil {
		t := *r.PurgeAfter
		cp.PurgeAfter = &t
	}
	return &cp
}
