package memory

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/amnesiad/internal/events"
	"github.com/lazypower/amnesiad/internal/model"
	"github.com/lazypower/amnesiad/internal/score"
)

// relevanceNoise is the minimum score change worth a persistence write.
// Anything smaller is drift the next sweep will catch anyway.
const relevanceNoise = 1.0

// checkPressure archives the least relevant 20% of active records when
// active size crosses the configured ratio of the cap. This is the
// emergency path; the scheduled sweep handles the steady state.
func (m *Manager) checkPressure() error {
	m.mu.Lock()

	if m.cfg.MaxActiveSize <= 0 {
		m.mu.Unlock()
		return nil
	}
	stats := m.statsLocked()
	usage := float64(stats.ActiveSize) / float64(m.cfg.MaxActiveSize)
	sink := m.pressure
	if usage <= m.cfg.PressureRatio {
		m.mu.Unlock()
		if sink != nil {
			sink.SetMemoryPressure(usage)
		}
		return nil
	}

	log.Warn().Float64("usage", usage).Msg("memory pressure detected")

	active := make([]*model.Record, 0, stats.ActiveCount)
	for _, rec := range m.records {
		if rec.State == model.StateActive {
			active = append(active, rec)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Relevance < active[j].Relevance
	})

	evictCount := int(math.Ceil(float64(len(active)) * 0.2))
	var evicted []*model.Record
	for _, rec := range active[:evictCount] {
		archived, err := m.archiveLocked(rec.ID)
		if err != nil {
			log.Warn().Str("record", rec.ID).Err(err).Msg("pressure eviction failed")
			continue
		}
		evicted = append(evicted, archived)
	}
	m.mu.Unlock()

	if sink != nil {
		sink.SetMemoryPressure(usage)
	}
	for _, rec := range evicted {
		m.bus.Publish(events.Event{Type: events.RecordArchived, Record: rec})
	}
	m.bus.Publish(events.Event{
		Type:     events.MemoryPressure,
		Pressure: &events.PressureReport{Usage: usage, Archived: len(evicted)},
	})
	return nil
}

// SweepRelevance recomputes every record's relevance, persisting only
// changes beyond the noise threshold to avoid write amplification.
// Returns the number of records updated.
func (m *Manager) SweepRelevance() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	updated := 0
	for id, rec := range m.records {
		fresh := score.Relevance(rec, now)
		if math.Abs(fresh-rec.Relevance) <= relevanceNoise {
			continue
		}
		if err := m.store.SetRecordRelevance(id, fresh); err != nil {
			return updated, err
		}
		rec.Relevance = fresh
		updated++
	}
	return updated, nil
}

// SweepPurge physically deletes dead records whose grace period has
// elapsed. State and deadline are re-checked under the lock, so a
// promote or re-forget racing the sweep cannot purge a live record.
// Purge is irreversible and not transaction-backed.
func (m *Manager) SweepPurge() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for id, rec := range m.records {
		if rec.State != model.StateDead || rec.PurgeAfter == nil || now.Before(*rec.PurgeAfter) {
			continue
		}
		if err := m.store.DeleteRecord(id); err != nil {
			return purged, err
		}
		m.purged += rec.Size
		delete(m.records, id)
		purged++
		log.Info().Str("record", id).Msg("record purged")
	}
	return purged, nil
}

// SearchQuery filters the record index. Zero values mean "any".
type SearchQuery struct {
	State        model.State
	Owner        string
	ContentHash  string
	MinRelevance float64
	MaxAgeDays   int
}

// Search returns records matching every set filter.
func (m *Manager) Search(q SearchQuery) []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []model.Record
	for _, rec := range m.records {
		if q.State != "" && rec.State != q.State {
			continue
		}
		if q.Owner != "" && rec.Owner != q.Owner {
			continue
		}
		if q.ContentHash != "" && rec.ContentHash != q.ContentHash {
			continue
		}
		if q.MinRelevance > 0 && rec.Relevance < q.MinRelevance {
			continue
		}
		if q.MaxAgeDays > 0 {
			if now.Sub(rec.CreatedAt).Hours()/24 > float64(q.MaxAgeDays) {
				continue
			}
		}
		out = append(out, *rec.Clone())
	}
	return out
}

// StartSweeps runs the relevance refresh and purge sweeps on their
// configured intervals until Stop is called. A failed cycle is logged
// and the scheduler keeps going.
func (m *Manager) StartSweeps() {
	go func() {
		relevance := time.NewTicker(m.cfg.RelevanceInterval)
		cleanup := time.NewTicker(m.cfg.CleanupInterval)
		defer relevance.Stop()
		defer cleanup.Stop()

		for {
			select {
			case <-relevance.C:
				if n, err := m.SweepRelevance(); err != nil {
					log.Error().Err(err).Msg("relevance sweep failed")
				} else if n > 0 {
					log.Debug().Int("updated", n).Msg("relevance sweep")
				}
			case <-cleanup.C:
				if n, err := m.SweepPurge(); err != nil {
					log.Error().Err(err).Msg("purge sweep failed")
				} else if n > 0 {
					log.Info().Int("purged", n).Msg("purge sweep")
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the background sweeps. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
