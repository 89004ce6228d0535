// Package server exposes the ledger over HTTP: a thin chi API mapping
// requests onto chain and lifecycle operations, plus a websocket feed
// of ledger events.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/amnesiad/internal/events"
	"github.com/lazypower/amnesiad/internal/ledger"
	"github.com/lazypower/amnesiad/internal/store"
)

// Server is the amnesiad HTTP API server.
type Server struct {
	chain   *ledger.Chain
	db      *store.DB
	bus     *events.Bus
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over the given chain, database and event bus.
func New(chain *ledger.Chain, db *store.DB, bus *events.Bus, version string) *Server {
	s := &Server{
		chain:   chain,
		db:      db,
		bus:     bus,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/chain", s.handleGetChain)
		r.Get("/chain/state", s.handleGetChainState)
		r.Get("/chain/valid", s.handleGetChainValid)

		r.Get("/blocks/latest", s.handleGetLatestBlock)
		r.Get("/blocks/{identifier}", s.handleGetBlock)
		r.Post("/blocks/mine", s.handleMineBlock)

		r.Post("/transactions", s.handleCreateTransaction)
		r.Get("/transactions/pending", s.handleGetPendingTransactions)
		r.Get("/transactions/address/{address}", s.handleGetTransactionsByAddress)
		r.Get("/transactions/{id}", s.handleGetTransaction)

		r.Post("/records", s.handleStoreRecord)
		r.Get("/records", s.handleGetRecords)
		r.Get("/records/search", s.handleSearchRecords)
		r.Get("/records/stats", s.handleGetRecordStats)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Post("/records/{id}/archive", s.handleArchiveRecord)
		r.Post("/records/{id}/promote", s.handlePromoteRecord)
		r.Post("/records/{id}/forget", s.handleForgetRecord)

		r.Get("/consensus/difficulty", s.handleGetDifficulty)
		r.Get("/consensus/stats", s.handleGetConsensusStats)
		r.Get("/analytics/memory-trends", s.handleGetMemoryTrends)
	})

	r.Get("/ws", s.handleEvents)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbOK := true
	if err := s.db.Ping(); err != nil {
		status = "degraded"
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"height":  s.chain.State().Height,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
