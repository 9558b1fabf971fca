package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobledger/core"
	"jobledger/native/common"
	"jobledger/services/indexer"
)

type jobView struct {
	ID             uint64 `json:"id"`
	Title          string `json:"title"`
	Client         string `json:"client"`
	Budget         string `json:"budget"`
	Status         string `json:"status"`
	SelectedBid    uint64 `json:"selectedBid,omitempty"`
	SelectedWorker string `json:"selectedWorker,omitempty"`
	CreatedAt      uint64 `json:"createdAt"`
}

type escrowView struct {
	ID         string `json:"id"`
	JobID      uint64 `json:"jobId"`
	Client     string `json:"client"`
	Worker     string `json:"worker"`
	Amount     string `json:"amount"`
	Locked     string `json:"locked"`
	Status     string `json:"status"`
	Milestones []bool `json:"milestones"`
	Deadline   uint64 `json:"deadline"`
	CanRelease bool   `json:"canRelease"`
}

type profileView struct {
	Participant string `json:"participant"`
	Role        string `json:"role"`
	Stake       string `json:"stake"`
	Reputation  uint64 `json:"reputation"`
	Weighted    uint64 `json:"weighted"`
	Verified    bool   `json:"verified"`
	Penalty     uint64 `json:"penaltyPoints"`
	Qualified   bool   `json:"meetsThreshold"`
}

func newRouter(node *core.Node, ix *indexer.Indexer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(sr chi.Router) {
		sr.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			st := node.Status()
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"root":     st.Root.Hex(),
				"sequence": st.Sequence,
				"now":      st.Now,
			})
		})
		sr.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, fmt.Errorf("%w: job id", common.ErrValidation))
				return
			}
			job, err := node.Job(id)
			if err != nil {
				writeError(w, err)
				return
			}
			view := jobView{
				ID:          job.ID,
				Title:       job.Title,
				Client:      hexAddr(job.Client),
				Budget:      job.Budget.String(),
				Status:      job.Status.String(),
				SelectedBid: job.SelectedBid,
				CreatedAt:   job.CreatedAt,
			}
			if job.SelectedBid != 0 {
				view.SelectedWorker = hexAddr(job.SelectedWorker)
			}
			writeJSON(w, http.StatusOK, view)
		})
		sr.Get("/escrows/{id}", func(w http.ResponseWriter, r *http.Request) {
			raw, err := hex.DecodeString(strings.TrimPrefix(chi.URLParam(r, "id"), "0x"))
			if err != nil || len(raw) != 32 {
				writeError(w, fmt.Errorf("%w: escrow id", common.ErrValidation))
				return
			}
			var id [32]byte
			copy(id[:], raw)
			esc, err := node.Escrow(id)
			if err != nil {
				writeError(w, err)
				return
			}
			canRelease, err := node.CanRelease(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, escrowView{
				ID:         hex.EncodeToString(esc.ID[:]),
				JobID:      esc.JobID,
				Client:     hexAddr(esc.Client),
				Worker:     hexAddr(esc.Worker),
				Amount:     esc.Amount.String(),
				Locked:     esc.Locked.String(),
				Status:     esc.Status.String(),
				Milestones: esc.Completed,
				Deadline:   esc.Deadline(),
				CanRelease: canRelease,
			})
		})
		sr.Get("/profiles/{address}", func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "address")
			if !ethcommon.IsHexAddress(raw) {
				writeError(w, fmt.Errorf("%w: address", common.ErrValidation))
				return
			}
			addr := [20]byte(ethcommon.HexToAddress(raw))
			profile, err := node.Profile(addr)
			if err != nil {
				writeError(w, err)
				return
			}
			weighted, err := node.WeightedReputation(addr)
			if err != nil {
				writeError(w, err)
				return
			}
			qualified, err := node.MeetsThreshold(addr)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, profileView{
				Participant: hexAddr(profile.Participant),
				Role:        profile.Role.String(),
				Stake:       profile.Stake.String(),
				Reputation:  profile.CurrentReputation,
				Weighted:    weighted,
				Verified:    profile.Verified,
				Penalty:     profile.PenaltyPoints,
				Qualified:   qualified,
			})
		})
		sr.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			if ix == nil {
				http.Error(w, "indexer disabled", http.StatusNotFound)
				return
			}
			after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			records, err := ix.Events(r.Context(), after, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, records)
		})
	})
	return r
}

func hexAddr(addr [20]byte) string {
	return ethcommon.Address(addr).Hex()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch common.Kind(err) {
	case "not_found":
		status = http.StatusNotFound
	case "validation":
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": common.Kind(err)})
}
