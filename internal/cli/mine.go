package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/amnesiad/internal/config"
	"github.com/lazypower/amnesiad/internal/events"
	"github.com/lazypower/amnesiad/internal/ledger"
	"github.com/lazypower/amnesiad/internal/store"
)

var mineMiner string

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine one block of pending transactions against the local database",
	RunE:  runMine,
}

func init() {
	mineCmd.Flags().StringVar(&mineMiner, "miner", "", "miner identity to stamp on the block")
}

func runMine(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	setupLogging(cfg)

	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	bus := events.NewBus(events.DefaultBuffer)
	defer bus.Close()

	chain, err := buildChain(db, bus, cfg)
	if err != nil {
		return err
	}

	miner := mineMiner
	if miner == "" {
		miner = cfg.Mining.Miner
	}

	block, err := chain.MineBlock(miner)
	if err == ledger.ErrEmptyMempool {
		fmt.Println("nothing to mine: mempool is empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mine: %w", err)
	}

	fmt.Printf("mined block %d (%s)\n", block.Index, block.Hash)
	fmt.Printf("  difficulty: %d  nonce: %d  txs: %d\n", block.Difficulty, block.Nonce, len(block.Transactions))
	fmt.Printf("  reward: %.2f\n", chain.Engine().BlockReward(block))
	return nil
}
