package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lazypower/amnesiad/internal/consensus"
	"github.com/lazypower/amnesiad/internal/ledger"
	"github.com/lazypower/amnesiad/internal/memory"
	"github.com/lazypower/amnesiad/internal/model"
)

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	blocks := s.chain.Blocks()

	limit := queryInt(r, "limit", 50, 100)
	offset := queryInt(r, "offset", 0, len(blocks))
	if offset > len(blocks) {
		offset = len(blocks)
	}
	end := offset + limit
	if end > len(blocks) {
		end = len(blocks)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"blocks": blocks[offset:end],
		"total":  len(blocks),
	})
}

func (s *Server) handleGetChainState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.State())
}

func (s *Server) handleGetChainValid(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"valid": s.chain.IsValid()})
}

func (s *Server) handleGetLatestBlock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.LatestBlock())
}

// handleGetBlock resolves the identifier as a block index first, then
// as a block hash.
func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	var block *model.Block
	if index, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		block = s.chain.Block(index)
	} else {
		block = s.chain.BlockByHash(identifier)
	}
	if block == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "block not found"})
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleMineBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinerAddress string `json:"minerAddress"`
	}
	// An empty body is fine; the default miner identity applies.
	json.NewDecoder(r.Body).Decode(&req)
	if req.MinerAddress == "" {
		req.MinerAddress = "api-miner"
	}

	block, err := s.chain.MineBlock(req.MinerAddress)
	if err == ledger.ErrEmptyMempool {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no pending transactions to mine"})
		return
	}
	// Nonce exhaustion is retryable, not a server fault.
	if err == ledger.ErrMiningFailed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "nonce search exhausted, retry"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"block":  block,
		"reward": s.chain.Engine().BlockReward(block),
	})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From    string          `json:"from"`
		Type    model.TxType    `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.From == "" || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from and type required"})
		return
	}

	tx, err := buildTransaction(req.From, req.Type, req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.chain.AddTransaction(tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// buildTransaction constructs a sealed transaction from an API request
// by round-tripping the payload through its typed form.
func buildTransaction(from string, txType model.TxType, payload json.RawMessage) (*model.Transaction, error) {
	probe := &model.Transaction{Type: txType, Payload: payload}
	switch txType {
	case model.TxCreate:
		p, err := probe.DecodeCreate()
		if err != nil {
			return nil, err
		}
		return model.NewCreateTx(from, p.Record)
	case model.TxArchive:
		p, err := probe.DecodeArchive()
		if err != nil {
			return nil, err
		}
		return model.NewArchiveTx(from, &model.Record{ID: p.RecordID})
	case model.TxPromote:
		p, err := probe.DecodePromote()
		if err != nil {
			return nil, err
		}
		return model.NewPromoteTx(from, &model.Record{ID: p.RecordID})
	case model.TxForget:
		p, err := probe.DecodeForget()
		if err != nil {
			return nil, err
		}
		return model.NewForgetTx(from, &model.Record{ID: p.RecordID}, p.Reason)
	case model.TxTransfer:
		p, err := probe.DecodeTransfer()
		if err != nil {
			return nil, err
		}
		return model.NewTransferTx(from, &model.Record{ID: p.RecordID}, p.NewOwner)
	default:
		return nil, fmt.Errorf("unknown transaction type %q", txType)
	}
}

func (s *Server) handleGetPendingTransactions(w http.ResponseWriter, r *http.Request) {
	pending := s.chain.PendingTransactions()
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": pending,
		"count":        len(pending),
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := s.db.GetTransaction(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if tx == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleGetTransactionsByAddress(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	limit := queryInt(r, "limit", 50, 100)

	txs, err := s.db.TransactionsByAddress(address, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// handleStoreRecord admits a create transaction for a new record. The
// record only enters the lifecycle index once the transaction is mined.
func (s *Server) handleStoreRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string            `json:"content"`
		Owner    string            `json:"owner"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Content == "" || req.Owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content and owner required"})
		return
	}

	rec := model.Record{
		ID:        uuid.NewString(),
		Content:   req.Content,
		Owner:     req.Owner,
		Metadata:  req.Metadata,
		Relevance: 100,
	}
	rec.EnsureContentHash()

	tx, err := model.NewCreateTx(req.Owner, rec)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.chain.AddTransaction(tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"record":        rec,
		"transactionId": tx.ID,
	})
}

func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	var recs []model.Record
	if state := r.URL.Query().Get("state"); state != "" {
		recs = s.chain.Manager().ByState(model.State(state))
	} else {
		recs = s.chain.Manager().All()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.chain.Manager().Get(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	q := memory.SearchQuery{
		State:       model.State(r.URL.Query().Get("state")),
		Owner:       r.URL.Query().Get("owner"),
		ContentHash: r.URL.Query().Get("contentHash"),
	}
	if v := r.URL.Query().Get("minRelevance"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.MinRelevance = f
		}
	}
	if v := r.URL.Query().Get("maxAge"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.MaxAgeDays = n
		}
	}

	recs := s.chain.Manager().Search(q)
	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

func (s *Server) handleGetRecordStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.Manager().Stats())
}

// lifecycleTx admits a system-originated lifecycle transaction for an
// existing record.
func (s *Server) lifecycleTx(w http.ResponseWriter, id string, build func(*model.Record) (*model.Transaction, error)) {
	rec := s.chain.Manager().Peek(id)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}

	tx, err := build(rec)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.chain.AddTransaction(tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "queued",
		"transactionId": tx.ID,
	})
}

func (s *Server) handleArchiveRecord(w http.ResponseWriter, r *http.Request) {
	s.lifecycleTx(w, chi.URLParam(r, "id"), func(rec *model.Record) (*model.Transaction, error) {
		return model.NewArchiveTx(model.SystemAddress, rec)
	})
}

func (s *Server) handlePromoteRecord(w http.ResponseWriter, r *http.Request) {
	s.lifecycleTx(w, chi.URLParam(r, "id"), func(rec *model.Record) (*model.Transaction, error) {
		return model.NewPromoteTx(model.SystemAddress, rec)
	})
}

func (s *Server) handleForgetRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	s.lifecycleTx(w, chi.URLParam(r, "id"), func(rec *model.Record) (*model.Transaction, error) {
		return model.NewForgetTx(model.SystemAddress, rec, req.Reason)
	})
}

func (s *Server) handleGetDifficulty(w http.ResponseWriter, r *http.Request) {
	blocks := s.chain.Blocks()
	writeJSON(w, http.StatusOK, map[string]any{
		"current": s.chain.LatestBlock().Difficulty,
		"next":    s.chain.Engine().CalculateDifficulty(blocks),
	})
}

func (s *Server) handleGetConsensusStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.Engine().Stats(s.chain.Blocks()))
}

func (s *Server) handleGetMemoryTrends(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window", 50, 500)
	writeJSON(w, http.StatusOK, consensus.AnalyzeTrends(s.chain.Blocks(), window))
}

// queryInt reads an integer query parameter with a default and a cap.
func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
