// Package ledger ties the chain together: it admits transactions into
// the mempool, mines them into blocks, applies block contents to the
// lifecycle index, and keeps the aggregate chain state current. All
// chain and mempool access is serialized behind one mutex.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/amnesiad/internal/chainhash"
	"github.com/lazypower/amnesiad/internal/consensus"
	"github.com/lazypower/amnesiad/internal/events"
	"github.com/lazypower/amnesiad/internal/memory"
	"github.com/lazypower/amnesiad/internal/model"
	"github.com/lazypower/amnesiad/internal/score"
)

// MaxBlockSize caps the serialized transaction payload of one block.
const MaxBlockSize = 1024 * 1024

// maxMiningIterations bounds the nonce search per attempt. A failed
// attempt leaves the mempool untouched and can simply be retried.
const maxMiningIterations = 1_000_000

// ChainStore is the slice of persistence the ledger needs.
type ChainStore interface {
	SaveBlock(b *model.Block) error
	Blocks(limit, offset int) ([]model.Block, error)
	SaveTransaction(tx *model.Transaction) error
	PendingTransactions() ([]model.Transaction, error)
}

// Transaction admission failures.
var (
	ErrIncompleteTx = errors.New("transaction missing id, hash or sender")
	ErrDuplicateTx  = errors.New("transaction already pending")
	ErrEmptyMempool = errors.New("no pending transactions to mine")
	ErrMiningFailed = errors.New("nonce search exhausted")
)

// Config tunes the ledger's background cycles.
type Config struct {
	AutoMineInterval  time.Duration // 0 disables auto-mining
	LifecycleInterval time.Duration // cadence of the memory management cycle
	MinerAddress      string        // identity stamped on auto-mined blocks
}

// DefaultConfig returns the stock ledger parameters.
func DefaultConfig() Config {
	return Config{
		LifecycleInterval: 5 * time.Minute,
		MinerAddress:      "amnesiad",
	}
}

// Chain is the append-only ledger plus its pending transaction pool.
type Chain struct {
	mu      sync.Mutex
	blocks  []model.Block
	mempool []model.Transaction
	state   model.ChainState

	manager *memory.Manager
	engine  *consensus.Engine
	store   ChainStore
	bus     *events.Bus
	cfg     Config

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewChain wires a Chain over its collaborators. Call Bootstrap before
// use.
func NewChain(store ChainStore, manager *memory.Manager, engine *consensus.Engine, bus *events.Bus, cfg Config) *Chain {
	// Usage observed by the lifecycle index feeds the difficulty retarget.
	manager.SetPressureSink(engine)
	return &Chain{
		manager: manager,
		engine:  engine,
		store:   store,
		bus:     bus,
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Bootstrap loads the persisted chain, creating the genesis block when
// the store is empty, and rebuilds the aggregate state.
func (c *Chain) Bootstrap() error {
	if err := c.manager.Load(); err != nil {
		return err
	}

	blocks, err := c.store.Blocks(0, 0)
	if err != nil {
		return fmt.Errorf("load chain: %w", err)
	}
	pending, err := c.store.PendingTransactions()
	if err != nil {
		return fmt.Errorf("load mempool: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = blocks
	c.mempool = pending
	if len(pending) > 0 {
		log.Info().Int("pending", len(pending)).Msg("mempool restored")
	}
	if len(c.blocks) == 0 {
		genesis := c.genesisBlock()
		if err := c.store.SaveBlock(&genesis); err != nil {
			return fmt.Errorf("persist genesis block: %w", err)
		}
		c.blocks = []model.Block{genesis}
		log.Info().Str("hash", genesis.Hash).Msg("genesis block created")
	} else {
		log.Info().Int("blocks", len(c.blocks)).Msg("chain loaded")
	}

	c.refreshStateLocked()
	return nil
}

// genesisBlock builds the fixed first block. Its hash is computed, not
// mined: difficulty 4 predates any proof-of-work requirement.
func (c *Chain) genesisBlock() model.Block {
	genesis := model.Block{
		Index:        0,
		PreviousHash: chainhash.ZeroHash,
		Timestamp:    c.now(),
		Difficulty:   4,
		MerkleRoot:   chainhash.ZeroHash,
		StateRoot:    chainhash.ZeroHash,
		Efficiency:   100,
		Miner:        "genesis",
	}
	genesis.Hash = genesis.ComputeHash()
	return genesis
}

// AddTransaction validates and admits a transaction into the mempool.
// The persistence write happens before the mempool append, so a
// transaction the caller saw accepted survives a crash.
func (c *Chain) AddTransaction(tx *model.Transaction) error {
	if tx.ID == "" || tx.Hash == "" || tx.From == "" {
		return ErrIncompleteTx
	}

	c.mu.Lock()
	for i := range c.mempool {
		if c.mempool[i].ID == tx.ID {
			c.mu.Unlock()
			log.Warn().Str("tx", tx.ID).Msg("duplicate transaction rejected")
			return ErrDuplicateTx
		}
	}

	if err := c.store.SaveTransaction(tx); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	c.mempool = append(c.mempool, *tx)
	c.mu.Unlock()

	log.Info().Str("tx", tx.ID).Str("type", string(tx.Type)).Msg("transaction added")
	c.bus.Publish(events.Event{Type: events.TransactionAdded, Transaction: tx})
	return nil
}

// selectTransactionsLocked orders the mempool by a blend of relevance
// impact and gas price, then greedily packs transactions until the
// block size cap. The sort is stable, so equal scores keep their
// arrival order. Caller holds c.mu.
func (c *Chain) selectTransactionsLocked() []model.Transaction {
	sorted := make([]model.Transaction, len(c.mempool))
	copy(sorted, c.mempool)
	sort.SliceStable(sorted, func(i, j int) bool {
		si := sorted[i].RelevanceImpact*0.7 + sorted[i].GasPrice*0.3
		sj := sorted[j].RelevanceImpact*0.7 + sorted[j].GasPrice*0.3
		return si > sj
	})

	var selected []model.Transaction
	var total int64
	for i := range sorted {
		size := sorted[i].EncodedSize()
		if total+size > MaxBlockSize {
			continue
		}
		selected = append(selected, sorted[i])
		total += size
	}
	return selected
}

// MineBlock assembles pending transactions into a block, searches for a
// nonce satisfying the difficulty target, and applies the result. A
// failed nonce search leaves the mempool untouched.
func (c *Chain) MineBlock(miner string) (*model.Block, error) {
	c.mu.Lock()
	if len(c.mempool) == 0 {
		c.mu.Unlock()
		log.Debug().Msg("mempool empty, nothing to mine")
		return nil, ErrEmptyMempool
	}

	previous := c.blocks[len(c.blocks)-1]
	difficulty := c.engine.CalculateDifficulty(c.blocks)
	selected := c.selectTransactionsLocked()
	c.mu.Unlock()

	stats := c.manager.Stats()
	block := model.Block{
		Index:          previous.Index + 1,
		PreviousHash:   previous.Hash,
		Timestamp:      c.now(),
		Transactions:   selected,
		Difficulty:     difficulty,
		MerkleRoot:     chainhash.MerkleRoot(txHashes(selected)),
		StateRoot:      chainhash.SumString(c.manager.StateDigest()),
		Efficiency:     score.MemoryEfficiency(stats.ActiveSize, stats.TotalSize, stats.AverageRelevance),
		TotalRelevance: totalRelevance(selected),
		Miner:          miner,
		Size:           txTotalSize(selected),
	}

	start := c.now()
	if !mine(&block) {
		log.Warn().Int64("index", block.Index).Msg("mining failed: nonce search exhausted")
		return nil, ErrMiningFailed
	}
	log.Info().
		Int64("index", block.Index).
		Str("hash", block.Hash).
		Int("difficulty", block.Difficulty).
		Dur("elapsed", c.now().Sub(start)).
		Msg("block mined")

	if err := c.AddBlock(&block); err != nil {
		return nil, err
	}
	return &block, nil
}

// mine searches nonces until the block hash carries enough leading
// zeros. Reports false when the iteration budget runs out.
func mine(block *model.Block) bool {
	for nonce := int64(0); nonce < maxMiningIterations; nonce++ {
		block.Nonce = nonce
		block.Hash = block.ComputeHash()
		if block.MeetsDifficulty() {
			return true
		}
	}
	return false
}

// AddBlock validates a block against the current tip, persists it,
// appends it, applies its transactions to the lifecycle index and
// refreshes the chain state. The mined transactions leave the mempool.
func (c *Chain) AddBlock(block *model.Block) error {
	c.mu.Lock()

	if err := c.validateBlockLocked(block); err != nil {
		c.mu.Unlock()
		log.Warn().Int64("index", block.Index).Err(err).Msg("block rejected")
		return err
	}

	if err := c.store.SaveBlock(block); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("persist block %d: %w", block.Index, err)
	}
	c.blocks = append(c.blocks, *block)
	c.dropFromMempoolLocked(block.Transactions)
	c.mu.Unlock()

	c.applyTransactions(block)

	c.mu.Lock()
	c.refreshStateLocked()
	c.mu.Unlock()

	log.Info().Int64("index", block.Index).Int("txs", len(block.Transactions)).Msg("block added")
	c.bus.Publish(events.Event{Type: events.BlockAdded, Block: block})
	return nil
}

// validateBlockLocked checks structure, linkage, merkle root, hash
// integrity and proof of work. Caller holds c.mu.
func (c *Chain) validateBlockLocked(block *model.Block) error {
	if block.Hash == "" || block.PreviousHash == "" {
		return errors.New("block missing hash fields")
	}

	tip := c.blocks[len(c.blocks)-1]
	if block.PreviousHash != tip.Hash {
		return fmt.Errorf("previous hash %s does not match tip %s", block.PreviousHash, tip.Hash)
	}
	if block.Index != tip.Index+1 {
		return fmt.Errorf("index %d does not extend tip %d", block.Index, tip.Index)
	}
	if got := block.ComputeMerkleRoot(); got != block.MerkleRoot {
		return fmt.Errorf("merkle root mismatch: %s != %s", block.MerkleRoot, got)
	}
	if got := block.ComputeHash(); got != block.Hash {
		return errors.New("block hash does not match contents")
	}
	if !block.MeetsDifficulty() {
		return fmt.Errorf("hash does not meet difficulty %d", block.Difficulty)
	}
	return nil
}

// dropFromMempoolLocked removes mined transactions. Caller holds c.mu.
func (c *Chain) dropFromMempoolLocked(mined []model.Transaction) {
	if len(mined) == 0 {
		return
	}
	minedIDs := make(map[string]struct{}, len(mined))
	for i := range mined {
		minedIDs[mined[i].ID] = struct{}{}
	}
	kept := c.mempool[:0]
	for i := range c.mempool {
		if _, ok := minedIDs[c.mempool[i].ID]; !ok {
			kept = append(kept, c.mempool[i])
		}
	}
	c.mempool = kept
}

// applyTransactions replays block contents against the lifecycle
// index. A failing transaction is logged and skipped; the block stays.
func (c *Chain) applyTransactions(block *model.Block) {
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if err := c.applyTransaction(tx); err != nil {
			log.Error().Str("tx", tx.ID).Err(err).Msg("transaction application failed")
		}
	}
}

func (c *Chain) applyTransaction(tx *model.Transaction) error {
	switch tx.Type {
	case model.TxCreate:
		p, err := tx.DecodeCreate()
		if err != nil {
			return err
		}
		return c.manager.Store(&p.Record)
	case model.TxArchive:
		p, err := tx.DecodeArchive()
		if err != nil {
			return err
		}
		_, err = c.manager.Archive(p.RecordID)
		return err
	case model.TxPromote:
		p, err := tx.DecodePromote()
		if err != nil {
			return err
		}
		_, err = c.manager.Promote(p.RecordID)
		return err
	case model.TxForget:
		p, err := tx.DecodeForget()
		if err != nil {
			return err
		}
		_, err = c.manager.Forget(p.RecordID, p.Reason)
		return err
	case model.TxTransfer:
		p, err := tx.DecodeTransfer()
		if err != nil {
			return err
		}
		_, err = c.manager.Transfer(p.RecordID, p.NewOwner)
		return err
	default:
		log.Warn().Str("tx", tx.ID).Str("type", string(tx.Type)).Msg("unknown transaction type skipped")
		return nil
	}
}

// refreshStateLocked recomputes the aggregate chain state from the
// chain and the lifecycle index. Caller holds c.mu.
func (c *Chain) refreshStateLocked() {
	tip := c.blocks[len(c.blocks)-1]
	stats := c.manager.Stats()

	var totalDifficulty float64
	for i := range c.blocks {
		totalDifficulty += math.Pow(2, float64(c.blocks[i].Difficulty))
	}

	c.state = model.ChainState{
		Height:           tip.Index,
		TotalDifficulty:  totalDifficulty,
		ActiveMemorySize: stats.ActiveSize,
		ArchivedMemory:   stats.ArchivedSize,
		DeadMemoryPurged: stats.PurgedSize,
		AverageRelevance: stats.AverageRelevance,
		MemoryEfficiency: score.MemoryEfficiency(stats.ActiveSize, stats.TotalSize, stats.AverageRelevance),
		LastBlockHash:    tip.Hash,
		ChainWork:        strconv.FormatFloat(consensus.ChainWork(c.blocks), 'f', -1, 64),
	}
}

// IsValid walks the chain verifying every adjacent pair: hash linkage,
// merkle roots, hash integrity and proof of work.
func (c *Chain) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 1; i < len(c.blocks); i++ {
		block := &c.blocks[i]
		prev := &c.blocks[i-1]
		if block.PreviousHash != prev.Hash {
			return false
		}
		if block.ComputeMerkleRoot() != block.MerkleRoot {
			return false
		}
		if block.ComputeHash() != block.Hash {
			return false
		}
		if !block.MeetsDifficulty() {
			return false
		}
	}
	return true
}

// Blocks returns a copy of the whole chain.
func (c *Chain) Blocks() []model.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// LatestBlock returns the chain tip.
func (c *Chain) LatestBlock() model.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[len(c.blocks)-1]
}

// Block returns the block at index, or nil when out of range.
func (c *Chain) Block(index int64) *model.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= int64(len(c.blocks)) {
		return nil
	}
	b := c.blocks[index]
	return &b
}

// BlockByHash returns the block with the given hash, or nil.
func (c *Chain) BlockByHash(hash string) *model.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.blocks {
		if c.blocks[i].Hash == hash {
			b := c.blocks[i]
			return &b
		}
	}
	return nil
}

// PendingTransactions returns a copy of the mempool.
func (c *Chain) PendingTransactions() []model.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Transaction, len(c.mempool))
	copy(out, c.mempool)
	return out
}

// State returns the current aggregate chain state.
func (c *Chain) State() model.ChainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Manager exposes the lifecycle index behind the chain.
func (c *Chain) Manager() *memory.Manager {
	return c.manager
}

// Engine exposes the consensus engine.
func (c *Chain) Engine() *consensus.Engine {
	return c.engine
}

func txHashes(txs []model.Transaction) []string {
	hashes := make([]string, len(txs))
	for i := range txs {
		hashes[i] = txs[i].Hash
	}
	return hashes
}

func totalRelevance(txs []model.Transaction) float64 {
	var total float64
	for i := range txs {
		total += txs[i].RelevanceImpact
	}
	return total
}

func txTotalSize(txs []model.Transaction) int64 {
	var total int64
	for i := range txs {
		total += txs[i].EncodedSize()
	}
	return total
}
