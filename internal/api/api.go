// Package api exposes the consensus workflow and ledger engine over
// HTTP, grounded on the teacher's walletserver controller/route split
// (synnergy-network/walletserver/controllers, routes) but routed with
// go-chi instead of gorilla/mux (spec §3 "HTTP ingress" supplement).
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/synnergy-cubic/cubicledger/internal/consensus"
	"github.com/synnergy-cubic/cubicledger/internal/ledger"
	"github.com/synnergy-cubic/cubicledger/internal/mempool"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
)

// Server bundles the collaborators an HTTP request needs to drive a
// submission through the whole pipeline.
type Server struct {
	Pool     *mempool.Pool
	Workflow *consensus.Workflow
	Engine   *ledger.Engine
}

// Router builds the chi router exposing this server's endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/tx", s.handleSubmit)
	r.Post("/validate", s.handleValidate)
	r.Post("/finalize", s.handleFinalize)
	r.Get("/stats", s.handleStats)
	r.Get("/stuck", s.handleStuck)
	return r
}

type submitRequest struct {
	LeaderID             string          `json:"leaderId"`
	Tx                   json.RawMessage `json:"tx"`
	SubmissionTimestamp  uint64          `json:"submissionTimestamp"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tx, err := txtypes.FromReader(strings.NewReader(string(req.Tx)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := txtypes.Validate(tx); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	rawTxID, err := s.Workflow.Submit(req.LeaderID, tx, req.SubmissionTimestamp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"rawTxId": rawTxID})
}

type validateRequest struct {
	ValidatorID string `json:"validatorId"`
	RawTxID     string `json:"rawTxId"`
	TimestampNs uint64 `json:"timestampNs"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	validatedHash := s.Workflow.CompleteValidation(req.ValidatorID, req.RawTxID, req.TimestampNs)
	writeJSON(w, map[string]string{"validatedHash": validatedHash})
}

type finalizeRequest struct {
	ValidatedHash string `json:"validatedHash"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok := s.Workflow.Finalize(req.ValidatedHash)
	writeJSON(w, map[string]bool{"finalized": ok})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	raw, proc, fin, locked := s.Pool.Stats()
	writeJSON(w, map[string]int{
		"raw":          raw,
		"processing":   proc,
		"finalized":    fin,
		"lockedUtxos":  locked,
	})
}

func (s *Server) handleStuck(w http.ResponseWriter, r *http.Request) {
	olderThan := uint64(60_000_000_000) // 60s, default threshold
	if v := r.URL.Query().Get("olderThanNs"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			olderThan = parsed
		}
	}
	now := nowNs()
	recs := s.Pool.StuckRawTransactions(olderThan, now)
	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		out = append(out, map[string]interface{}{
			"rawTxId":             rec.RawTxID,
			"leaderId":            rec.LeaderID,
			"submissionTimestamp": rec.SubmissionTimestamp,
		})
	}
	writeJSON(w, out)
}

func nowNs() uint64 {
	return uint64(time.Now().UnixNano())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
