package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/amnesiad/internal/chainhash"
)

// Block is one entry in the append-only chain. Blocks are immutable once
// appended; Hash covers (index, previousHash, timestamp, merkleRoot,
// nonce, difficulty) and must carry Difficulty leading zero hex chars.
type Block struct {
	Index          int64         `json:"index"`
	Hash           string        `json:"hash"`
	PreviousHash   string        `json:"previousHash"`
	Timestamp      time.Time     `json:"timestamp"`
	Transactions   []Transaction `json:"transactions"`
	Nonce          int64         `json:"nonce"`
	Difficulty     int           `json:"difficulty"`
	MerkleRoot     string        `json:"merkleRoot"`
	StateRoot      string        `json:"stateRoot"`
	Efficiency     float64       `json:"memoryEfficiencyScore"`
	TotalRelevance float64       `json:"totalRelevanceScore"`
	Miner          string        `json:"miner"`
	Size           int64         `json:"size"`
}

// ComputeHash recomputes the block hash from its header fields. The
// preimage layout is fixed; changing it invalidates every existing chain.
func (b *Block) ComputeHash() string {
	preimage := fmt.Sprintf("%d%s%d%s%d%d",
		b.Index, b.PreviousHash, b.Timestamp.UnixMilli(),
		b.MerkleRoot, b.Nonce, b.Difficulty)
	return chainhash.SumString(preimage)
}

// TxHashes returns the contained transaction hashes in block order.
func (b *Block) TxHashes() []string {
	hashes := make([]string, len(b.Transactions))
	for i := range b.Transactions {
		hashes[i] = b.Transactions[i].Hash
	}
	return hashes
}

// ComputeMerkleRoot recomputes the merkle root over the block's
// transactions.
func (b *Block) ComputeMerkleRoot() string {
	return chainhash.MerkleRoot(b.TxHashes())
}

// MeetsDifficulty reports whether the stored hash satisfies the block's
// own difficulty target.
func (b *Block) MeetsDifficulty() bool {
	return chainhash.MeetsDifficulty(b.Hash, b.Difficulty)
}

// EncodedSize is the serialized size of the whole block.
func (b *Block) EncodedSize() int64 {
	raw, err := json.Marshal(b)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}

// ChainState aggregates chain-wide values, recomputed after every
// applied block.
type ChainState struct {
	Height           int64   `json:"height"`
	TotalDifficulty  float64 `json:"totalDifficulty"`
	ActiveMemorySize int64   `json:"activeMemorySize"`
	ArchivedMemory   int64   `json:"archivedMemorySize"`
	DeadMemoryPurged int64   `json:"deadMemoryPurged"`
	AverageRelevance float64 `json:"averageRelevanceScore"`
	MemoryEfficiency float64 `json:"memoryEfficiency"`
	LastBlockHash    string  `json:"lastBlockHash"`
	ChainWork        string  `json:"chainWork"`
}
