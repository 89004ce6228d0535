package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lazypower/amnesiad/internal/config"
	"github.com/lazypower/amnesiad/internal/consensus"
	"github.com/lazypower/amnesiad/internal/events"
	"github.com/lazypower/amnesiad/internal/ledger"
	"github.com/lazypower/amnesiad/internal/memory"
	"github.com/lazypower/amnesiad/internal/server"
	"github.com/lazypower/amnesiad/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ledger node and HTTP API server",
	RunE:  runServe,
}

// buildChain wires the full stack over the given database.
func buildChain(db *store.DB, bus *events.Bus, cfg config.Config) (*ledger.Chain, error) {
	manager := memory.NewManager(db, bus, memory.DefaultConfig())
	engine := consensus.NewEngine(consensus.DefaultConfig(), bus)

	ledgerCfg := ledger.DefaultConfig()
	ledgerCfg.MinerAddress = cfg.Mining.Miner
	if cfg.Mining.AutoMine {
		ledgerCfg.AutoMineInterval = cfg.Mining.Interval
	}

	chain := ledger.NewChain(db, manager, engine, bus, ledgerCfg)
	if err := chain.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap chain: %w", err)
	}
	return chain, nil
}

func runServe(cmd *cobra.Command, args []string) error {
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
	chain.Start()
	defer chain.Stop()

	srv := server.New(chain, db, bus, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().
			Str("addr", addr).
			Str("db", dbPath).
			Int64("height", chain.State().Height).
			Bool("autoMine", cfg.Mining.AutoMine).
			Msg("amnesiad serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	<-done
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
