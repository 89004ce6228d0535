package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

// SaveBlock persists a block. The transaction list is stored inline as
// JSON; individual transactions are additionally marked with the block
// index in the transactions table when present there.
func (db *DB) SaveBlock(b *model.Block) error {
	txJSON, err := json.Marshal(b.Transactions)
	if err != nil {
		return fmt.Errorf("encode block transactions: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO blocks (idx, hash, previous_hash, timestamp, nonce, difficulty,
			merkle_root, state_root, efficiency, total_relevance, miner, size, transactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.Index, b.Hash, b.PreviousHash, b.Timestamp.UnixMilli(), b.Nonce, b.Difficulty,
		b.MerkleRoot, b.StateRoot, b.Efficiency, b.TotalRelevance, b.Miner, b.Size, string(txJSON))
	if err != nil {
		return fmt.Errorf("save block %d: %w", b.Index, err)
	}

	for i := range b.Transactions {
		if err := db.MarkTransactionMined(b.Transactions[i].ID, b.Index); err != nil {
			return fmt.Errorf("mark tx %s mined: %w", b.Transactions[i].ID, err)
		}
	}
	return nil
}

const blockColumns = `idx, hash, previous_hash, timestamp, nonce, difficulty,
	merkle_root, state_root, efficiency, total_relevance, miner, size, transactions`

func scanBlock(row interface{ Scan(...any) error }) (*model.Block, error) {
	var b model.Block
	var ts int64
	var txJSON string
	err := row.Scan(&b.Index, &b.Hash, &b.PreviousHash, &ts, &b.Nonce, &b.Difficulty,
		&b.MerkleRoot, &b.StateRoot, &b.Efficiency, &b.TotalRelevance, &b.Miner, &b.Size, &txJSON)
	if err != nil {
		return nil, err
	}
	b.Timestamp = time.UnixMilli(ts)
	if err := json.Unmarshal([]byte(txJSON), &b.Transactions); err != nil {
		return nil, fmt.Errorf("decode block %d transactions: %w", b.Index, err)
	}
	return &b, nil
}

// GetBlock returns the block at the given index, or nil if not found.
func (db *DB) GetBlock(index int64) (*model.Block, error) {
	b, err := scanBlock(db.QueryRow(
		`SELECT `+blockColumns+` FROM blocks WHERE idx = ?`, index))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", index, err)
	}
	return b, nil
}

// GetBlockByHash returns the block with the given hash, or nil.
func (db *DB) GetBlockByHash(hash string) (*model.Block, error) {
	b, err := scanBlock(db.QueryRow(
		`SELECT `+blockColumns+` FROM blocks WHERE hash = ?`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block by hash: %w", err)
	}
	return b, nil
}

// Blocks returns blocks ordered by ascending index. limit <= 0 means no
// limit.
func (db *DB) Blocks(limit, offset int) ([]model.Block, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT `+blockColumns+` FROM blocks ORDER BY idx ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, *b)
	}
	return blocks, rows.Err()
}

// LatestBlocks returns the most recent count blocks, newest first.
func (db *DB) LatestBlocks(count int) ([]model.Block, error) {
	rows, err := db.Query(
		`SELECT `+blockColumns+` FROM blocks ORDER BY idx DESC LIMIT ?`, count)
	if err != nil {
		return nil, fmt.Errorf("latest blocks: %w", err)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, *b)
	}
	return blocks, rows.Err()
}

// BlockHeight returns the highest block index, or -1 when the chain is
// empty.
func (db *DB) BlockHeight() (int64, error) {
	var height sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(idx) FROM blocks`).Scan(&height); err != nil {
		return -1, fmt.Errorf("block height: %w", err)
	}
	if !height.Valid {
		return -1, nil
	}
	return height.Int64, nil
}
