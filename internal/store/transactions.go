package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/amnesiad/internal/model"
)

// SaveTransaction persists a submitted transaction. Fails on duplicate
// id or hash (UNIQUE constraints).
func (db *DB) SaveTransaction(tx *model.Transaction) error {
	_, err := db.Exec(`
		INSERT INTO transactions (tx_id, hash, from_addr, to_addr, type, payload,
			gas_price, gas_limit, nonce, timestamp, signature, relevance_impact)
		VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, tx.ID, tx.Hash, tx.From, tx.To, tx.Type, string(tx.Payload),
		tx.GasPrice, tx.GasLimit, tx.Nonce, tx.Timestamp.UnixMilli(), tx.Signature, tx.RelevanceImpact)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

// MarkTransactionMined records the block that included the transaction.
// A zero-row update is not an error: a block received from elsewhere may
// carry transactions this node never saw in its mempool.
func (db *DB) MarkTransactionMined(txID string, blockIdx int64) error {
	_, err := db.Exec(`UPDATE transactions SET block_idx = ? WHERE tx_id = ?`, blockIdx, txID)
	if err != nil {
		return fmt.Errorf("mark mined %s: %w", txID, err)
	}
	return nil
}

const txColumns = `tx_id, hash, from_addr, to_addr, type, payload,
	gas_price, gas_limit, nonce, timestamp, signature, relevance_impact`

func scanTx(row interface{ Scan(...any) error }) (*model.Transaction, error) {
	var tx model.Transaction
	var ts int64
	var hash, toAddr, payload, signature sql.NullString
	err := row.Scan(&tx.ID, &hash, &tx.From, &toAddr, &tx.Type, &payload,
		&tx.GasPrice, &tx.GasLimit, &tx.Nonce, &ts, &signature, &tx.RelevanceImpact)
	if err != nil {
		return nil, err
	}
	tx.Hash = hash.String
	tx.To = toAddr.String
	tx.Signature = signature.String
	tx.Timestamp = time.UnixMilli(ts)
	if payload.Valid && payload.String != "" {
		tx.Payload = json.RawMessage(payload.String)
	}
	return &tx, nil
}

// GetTransaction returns a transaction by id, or nil if not found.
func (db *DB) GetTransaction(id string) (*model.Transaction, error) {
	tx, err := scanTx(db.QueryRow(
		`SELECT `+txColumns+` FROM transactions WHERE tx_id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

// GetTransactionByHash returns a transaction by hash, or nil.
func (db *DB) GetTransactionByHash(hash string) (*model.Transaction, error) {
	tx, err := scanTx(db.QueryRow(
		`SELECT `+txColumns+` FROM transactions WHERE hash = ?`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by hash: %w", err)
	}
	return tx, nil
}

// PendingTransactions returns transactions no block has included yet,
// in submission order.
func (db *DB) PendingTransactions() ([]model.Transaction, error) {
	rows, err := db.Query(
		`SELECT ` + txColumns + ` FROM transactions
		 WHERE block_idx IS NULL
		 ORDER BY timestamp ASC, tx_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// TransactionsByAddress returns transactions sent from or to the given
// address, newest first.
func (db *DB) TransactionsByAddress(addr string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT `+txColumns+` FROM transactions
		 WHERE from_addr = ? OR to_addr = ?
		 ORDER BY timestamp DESC LIMIT ?`, addr, addr, limit)
	if err != nil {
		return nil, fmt.Errorf("transactions by address: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}
