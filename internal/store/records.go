package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

// SaveRecord upserts a record. All mutable fields are written, so this
// doubles as the full-row update used by lifecycle transitions.
func (db *DB) SaveRecord(rec *model.Record) error {
	meta, err := encodeMeta(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", rec.ID, err)
	}

	_, err = db.Exec(`
		INSERT INTO records (record_id, content, content_hash, size, state, relevance,
			access_count, last_accessed, created_at, owner, metadata, purge_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			content       = excluded.content,
			content_hash  = excluded.content_hash,
			size          = excluded.size,
			state         = excluded.state,
			relevance     = excluded.relevance,
			access_count  = excluded.access_count,
			last_accessed = excluded.last_accessed,
			owner         = excluded.owner,
			metadata      = excluded.metadata,
			purge_after   = excluded.purge_after
	`, rec.ID, rec.Content, rec.ContentHash, rec.Size, rec.State, rec.Relevance,
		rec.AccessCount, rec.LastAccessed.UnixMilli(), rec.CreatedAt.UnixMilli(),
		rec.Owner, meta, nullableMilli(rec.PurgeAfter))
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// TouchRecord persists the read-access delta: last access, access count
// and recomputed relevance.
func (db *DB) TouchRecord(id string, lastAccessed time.Time, accessCount int64, relevance float64) error {
	_, err := db.Exec(`
		UPDATE records SET last_accessed = ?, access_count = ?, relevance = ?
		WHERE record_id = ?
	`, lastAccessed.UnixMilli(), accessCount, relevance, id)
	if err != nil {
		return fmt.Errorf("touch record %s: %w", id, err)
	}
	return nil
}

// SetRecordRelevance persists a recomputed relevance score alone.
func (db *DB) SetRecordRelevance(id string, relevance float64) error {
	_, err := db.Exec(`UPDATE records SET relevance = ? WHERE record_id = ?`, relevance, id)
	if err != nil {
		return fmt.Errorf("set relevance %s: %w", id, err)
	}
	return nil
}

// DeleteRecord physically removes a record row.
func (db *DB) DeleteRecord(id string) error {
	_, err := db.Exec(`DELETE FROM records WHERE record_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

const recordColumns = `record_id, content, content_hash, size, state, relevance,
	access_count, last_accessed, created_at, owner, metadata, purge_after`

func scanRecord(row interface{ Scan(...any) error }) (*model.Record, error) {
	var rec model.Record
	var content, meta sql.NullString
	var lastAccessed, createdAt int64
	var purgeAfter sql.NullInt64
	err := row.Scan(&rec.ID, &content, &rec.ContentHash, &rec.Size, &rec.State, &rec.Relevance,
		&rec.AccessCount, &lastAccessed, &createdAt, &rec.Owner, &meta, &purgeAfter)
	if err != nil {
		return nil, err
	}
	rec.Content = content.String
	rec.LastAccessed = time.UnixMilli(lastAccessed)
	rec.CreatedAt = time.UnixMilli(createdAt)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", rec.ID, err)
		}
	}
	if purgeAfter.Valid {
		t := time.UnixMilli(purgeAfter.Int64)
		rec.PurgeAfter = &t
	}
	return &rec, nil
}

// GetRecord returns a record by id, or nil if not found.
func (db *DB) GetRecord(id string) (*model.Record, error) {
	rec, err := scanRecord(db.QueryRow(
		`SELECT `+recordColumns+` FROM records WHERE record_id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns every record in the store.
func (db *DB) ListRecords() ([]model.Record, error) {
	return db.queryRecords(`SELECT ` + recordColumns + ` FROM records`)
}

// RecordsByState returns records in the given lifecycle state.
func (db *DB) RecordsByState(state model.State) ([]model.Record, error) {
	return db.queryRecords(
		`SELECT `+recordColumns+` FROM records WHERE state = ?`, state)
}

// RecordsByOwner returns records belonging to the given owner.
func (db *DB) RecordsByOwner(owner string) ([]model.Record, error) {
	return db.queryRecords(
		`SELECT `+recordColumns+` FROM records WHERE owner = ?`, owner)
}

func (db *DB) queryRecords(query string, args ...any) ([]model.Record, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func encodeMeta(meta map[string]string) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullableMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
