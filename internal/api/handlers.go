package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"DCAKeeper/internal/model"
)

type createScheduleRequest struct {
	Amount    uint64 `json:"amount"`
	Frequency uint64 `json:"frequency"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type amountResponse struct {
	Amount uint64 `json:"amount"`
}

type scheduleResponse struct {
	model.Schedule
	SourceBalance uint64 `json:"source_balance"`
	CanExecute    bool   `json:"can_execute"`
	Tick          uint64 `json:"tick"`
}

func (s *Server) owner(r *http.Request) string {
	return r.Header.Get(s.ownerHeader)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tick": s.plan.Now()})
}

func (s *Server) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.plan.Stats())
}

func (s *Server) HandleParams(w http.ResponseWriter, _ *http.Request) {
	p := s.plan.Params()
	writeJSON(w, http.StatusOK, map[string]any{
		"min_amount":     p.MinAmount,
		"min_frequency":  p.MinFrequency,
		"fee_rate_bps":   p.FeeRateBps,
		"contract_owner": p.ContractOwner,
		"source_asset":   p.SourceAsset,
		"target_asset":   p.TargetAsset,
	})
}

func (s *Server) HandleListOwners(w http.ResponseWriter, _ *http.Request) {
	owners := s.plan.Owners()
	if owners == nil {
		owners = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"owners": owners})
}

func (s *Server) HandleDue(w http.ResponseWriter, _ *http.Request) {
	due := s.plan.DueOwners()
	if due == nil {
		due = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tick": s.plan.Now(), "owners": due})
}

func (s *Server) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	sc, ok := s.plan.Schedule(owner)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "schedule not found", Code: "schedule_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Schedule:      sc,
		SourceBalance: s.plan.Balance(owner),
		CanExecute:    s.plan.CanExecute(owner),
		Tick:          s.plan.Now(),
	})
}

func (s *Server) HandleCanExecute(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	writeJSON(w, http.StatusOK, map[string]bool{"can_execute": s.plan.CanExecute(owner)})
}

func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := s.plan.History(r.Context(), owner, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) HandleBalance(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	writeJSON(w, http.StatusOK, model.Balance{Owner: owner, SourceBalance: s.plan.Balance(owner)})
}

func (s *Server) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	owner := s.owner(r)
	if err := s.plan.CreateSchedule(r.Context(), owner, req.Amount, req.Frequency); err != nil {
		writeError(w, err)
		return
	}
	sc, _ := s.plan.Schedule(owner)
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) HandleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.plan.CancelSchedule(r.Context(), s.owner(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	owner := s.owner(r)
	if err := s.plan.Deposit(r.Context(), owner, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Balance{Owner: owner, SourceBalance: s.plan.Balance(owner)})
}

func (s *Server) HandleWithdrawSource(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	owner := s.owner(r)
	if err := s.plan.WithdrawSource(r.Context(), owner, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Balance{Owner: owner, SourceBalance: s.plan.Balance(owner)})
}

func (s *Server) HandleWithdrawTarget(w http.ResponseWriter, r *http.Request) {
	amount, err := s.plan.WithdrawTarget(r.Context(), s.owner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount})
}

func (s *Server) HandleCollectFees(w http.ResponseWriter, r *http.Request) {
	amount, err := s.plan.CollectFees(r.Context(), s.owner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount})
}

func (s *Server) HandleExecute(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	target, err := s.plan.Execute(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"target_amount": target})
}
