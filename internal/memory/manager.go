// Package memory holds the authoritative in-memory index of lifecycle
// records, mirrored to persistent storage on every mutation. Persistence
// happens before the in-memory commit: the index is rebuilt from the
// store on startup, so the store wins on conflict.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/amnesiad/internal/events"
	"github.com/lazypower/amnesiad/internal/model"
	"github.com/lazypower/amnesiad/internal/score"
)

// RecordStore is the slice of persistence the manager needs.
type RecordStore interface {
	SaveRecord(rec *model.Record) error
	TouchRecord(id string, lastAccessed time.Time, accessCount int64, relevance float64) error
	SetRecordRelevance(id string, relevance float64) error
	DeleteRecord(id string) error
	GetRecord(id string) (*model.Record, error)
	ListRecords() ([]model.Record, error)
}

// PressureSink observes the active-size usage ratio after every
// pressure check, whether or not an eviction ran.
type PressureSink interface {
	SetMemoryPressure(usage float64)
}

// Lifecycle precondition failures. These reject without mutating.
var (
	ErrNotFound    = errors.New("record not found")
	ErrNotActive   = errors.New("record is not active")
	ErrNotArchived = errors.New("record is not archived")
)

// Config tunes the manager's thresholds and sweep intervals.
type Config struct {
	MaxActiveSize     int64         // bytes of active records before pressure eviction
	PressureRatio     float64       // active/max ratio that triggers eviction
	GracePeriod       time.Duration // delay between forget and physical purge
	RelevanceInterval time.Duration // background relevance refresh cadence
	CleanupInterval   time.Duration // background purge sweep cadence
}

// DefaultConfig mirrors the chain's stock deployment values.
func DefaultConfig() Config {
	return Config{
		MaxActiveSize:     100 * 1024 * 1024,
		PressureRatio:     0.8,
		GracePeriod:       24 * time.Hour,
		RelevanceInterval: time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// Stats aggregates the whole index. Computed by full scan: O(n) in
// record count, which is the accepted scaling bound here.
type Stats struct {
	ActiveSize       int64   `json:"activeSize"`
	ArchivedSize     int64   `json:"archivedSize"`
	DeadSize         int64   `json:"deadSize"`
	TotalSize        int64   `json:"totalSize"`
	ActiveCount      int     `json:"activeCount"`
	ArchivedCount    int     `json:"archivedCount"`
	DeadCount        int     `json:"deadCount"`
	PurgedSize       int64   `json:"purgedSize"`
	AverageRelevance float64 `json:"averageRelevance"`
}

// Manager owns all record state. Every mutating operation is serialized
// behind one mutex; callers only ever see cloned records.
type Manager struct {
	mu      sync.Mutex
	records map[string]*model.Record
	purged  int64 // cumulative bytes physically deleted

	store    RecordStore
	bus      *events.Bus
	cfg      Config
	pressure PressureSink
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager over the given store and event bus.
func NewManager(store RecordStore, bus *events.Bus, cfg Config) *Manager {
	return &Manager{
		records: make(map[string]*model.Record),
		store:   store,
		bus:     bus,
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// SetPressureSink registers an observer for usage ratio updates. A nil
// sink disables reporting.
func (m *Manager) SetPressureSink(sink PressureSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pressure = sink
}

// Load rebuilds the in-memory index from the store.
func (m *Manager) Load() error {
	recs, err := m.store.ListRecords()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*model.Record, len(recs))
	for i := range recs {
		m.records[recs[i].ID] = recs[i].Clone()
	}
	log.Info().Int("records", len(recs)).Msg("lifecycle index loaded")
	return nil
}

// Store creates a record: state forced to active, relevance 100, access
// count 1. The persistence write happens before the index commit and
// any error is propagated untouched. A successful store triggers the
// memory-pressure check.
func (m *Manager) Store(rec *model.Record) error {
	m.mu.Lock()

	now := m.now()
	r := rec.Clone()
	r.State = model.StateActive
	r.CreatedAt = now
	r.LastAccessed = now
	r.AccessCount = 1
	r.Relevance = 100
	r.PurgeAfter = nil
	r.EnsureContentHash()
	if r.Size == 0 {
		r.Size = int64(len(r.Content))
	}

	if err := m.store.SaveRecord(r); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist record %s: %w", r.ID, err)
	}
	m.records[r.ID] = r
	*rec = *r.Clone()
	m.mu.Unlock()

	log.Info().Str("record", r.ID).Int64("size", r.Size).Msg("record stored")
	return m.checkPressure()
}

// Get returns the record and registers the access: last-accessed moves,
// access count increments, relevance is recomputed and persisted. A
// miss returns (nil, nil).
func (m *Manager) Get(id string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}

	now := m.now()
	updated := rec.Clone()
	updated.LastAccessed = now
	updated.AccessCount++
	updated.Relevance = score.Relevance(updated, now)

	if err := m.store.TouchRecord(id, updated.LastAccessed, updated.AccessCount, updated.Relevance); err != nil {
		return nil, fmt.Errorf("persist access for %s: %w", id, err)
	}
	m.records[id] = updated

	return updated.Clone(), nil
}

// Peek returns the record without registering an access.
func (m *Manager) Peek(id string) *model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return rec.Clone()
	}
	return nil
}

// Archive moves an active record to the archived state. Rejection
// leaves the record untouched.
func (m *Manager) Archive(id string) (*model.Record, error) {
	m.mu.Lock()
	rec, err := m.archiveLocked(id)
	m.mu.Unlock()
	if err != nil {
		log.Warn().Str("record", id).Err(err).Msg("archive rejected")
		return nil, err
	}

	log.Info().Str("record", id).Msg("record archived")
	m.bus.Publish(events.Event{Type: events.RecordArchived, Record: rec})
	return rec, nil
}

func (m *Manager) archiveLocked(id string) (*model.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.State != model.StateActive {
		return nil, ErrNotActive
	}

	updated := rec.Clone()
	updated.State = model.StateArchived
	updated.SetMeta("archivedAt", m.now().UTC().Format(time.RFC3339))

	if err := m.store.SaveRecord(updated); err != nil {
		return nil, fmt.Errorf("persist archive of %s: %w", id, err)
	}
	m.records[id] = updated
	return updated.Clone(), nil
}

// Promote moves an archived record back to active, counting as an
// access and boosting relevance by 20 points (capped at 100).
func (m *Manager) Promote(id string) (*model.Record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		log.Warn().Str("record", id).Msg("promote rejected: not found")
		return nil, ErrNotFound
	}
	if rec.State != model.StateArchived {
		m.mu.Unlock()
		log.Warn().Str("record", id).Str("state", string(rec.State)).Msg("promote rejected")
		return nil, ErrNotArchived
	}

	updated := rec.Clone()
	updated.State = model.StateActive
	updated.LastAccessed = m.now()
	updated.AccessCount++
	updated.Relevance = score.Clamp(updated.Relevance + 20)
	updated.SetMeta("promotedAt", m.now().UTC().Format(time.RFC3339))

	if err := m.store.SaveRecord(updated); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("persist promote of %s: %w", id, err)
	}
	m.records[id] = updated
	out := updated.Clone()
	m.mu.Unlock()

	log.Info().Str("record", id).Float64("relevance", out.Relevance).Msg("record promoted")
	m.bus.Publish(events.Event{Type: events.RecordPromoted, Record: out})
	return out, nil
}

// Forget marks a record dead and schedules its physical purge after the
// grace period. Idempotent: forgetting a dead record returns it
// unchanged. The purge deadline is stored on the record, so it survives
// restarts; the cleanup sweep enforces it.
func (m *Manager) Forget(id, reason string) (*model.Record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		log.Warn().Str("record", id).Msg("forget rejected: not found")
		return nil, ErrNotFound
	}
	if rec.State == model.StateDead {
		out := rec.Clone()
		m.mu.Unlock()
		return out, nil
	}

	updated := rec.Clone()
	updated.State = model.StateDead
	updated.SetMeta("forgottenAt", m.now().UTC().Format(time.RFC3339))
	if reason != "" {
		updated.SetMeta("forgetReason", reason)
	}
	purgeAt := m.now().Add(m.cfg.GracePeriod)
	updated.PurgeAfter = &purgeAt

	if err := m.store.SaveRecord(updated); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("persist forget of %s: %w", id, err)
	}
	m.records[id] = updated
	out := updated.Clone()
	m.mu.Unlock()

	log.Info().Str("record", id).Time("purgeAfter", purgeAt).Msg("record forgotten")
	m.bus.Publish(events.Event{Type: events.RecordForgotten, Record: out})
	return out, nil
}

// Transfer reassigns ownership of a record. Dead records cannot change
// hands.
func (m *Manager) Transfer(id, newOwner string) (*model.Record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if rec.State == model.StateDead {
		m.mu.Unlock()
		return nil, fmt.Errorf("record %s is dead and cannot be transferred", id)
	}

	updated := rec.Clone()
	updated.Owner = newOwner
	updated.SetMeta("transferredAt", m.now().UTC().Format(time.RFC3339))

	if err := m.store.SaveRecord(updated); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("persist transfer of %s: %w", id, err)
	}
	m.records[id] = updated
	out := updated.Clone()
	m.mu.Unlock()

	log.Info().Str("record", id).Str("owner", newOwner).Msg("record transferred")
	return out, nil
}

// Stats scans the whole index and aggregates sizes, counts and the
// average relevance.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	var s Stats
	var totalRelevance float64
	for _, rec := range m.records {
		switch rec.State {
		case model.StateActive:
			s.ActiveCount++
			s.ActiveSize += rec.Size
		case model.StateArchived:
			s.ArchivedCount++
			s.ArchivedSize += rec.Size
		case model.StateDead:
			s.DeadCount++
			s.DeadSize += rec.Size
		}
		totalRelevance += rec.Relevance
	}
	s.TotalSize = s.ActiveSize + s.ArchivedSize + s.DeadSize
	s.PurgedSize = m.purged
	if n := len(m.records); n > 0 {
		s.AverageRelevance = totalRelevance / float64(n)
	}
	return s
}

// All returns a snapshot of every record.
func (m *Manager) All() []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec.Clone())
	}
	return out
}

// ByState returns a snapshot of records in the given state.
func (m *Manager) ByState(state model.State) []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Record
	for _, rec := range m.records {
		if rec.State == state {
			out = append(out, *rec.Clone())
		}
	}
	return out
}

// StateDigest feeds the block state root: records sorted by id, each
// contributing id, state and relevance. Deterministic for a given index
// state.
func (m *Manager) StateDigest() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	digest := ""
	for i, id := range ids {
		rec := m.records[id]
		if i > 0 {
			digest += "|"
		}
		digest += fmt.Sprintf("%s:%s:%.4f", rec.ID, rec.State, rec.Relevance)
	}
	return digest
}

// ArchiveCandidates returns active records whose relevance has fallen
// below the threshold.
func (m *Manager) ArchiveCandidates(threshold float64) []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Record
	for _, rec := range m.records {
		if score.ShouldArchive(rec, threshold) {
			out = append(out, *rec.Clone())
		}
	}
	return out
}

// ForgetCandidates returns archived records eligible for deletion by
// low relevance or age.
func (m *Manager) ForgetCandidates(threshold float64, maxAgeDays int) []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []model.Record
	for _, rec := range m.records {
		if score.ShouldForget(rec, threshold, maxAgeDays, now) {
			out = append(out, *rec.Clone())
		}
	}
	return out
}

// SetClock overrides the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
