// Package api exposes plan operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"DCAKeeper/internal/model"
	"DCAKeeper/internal/plan"
)

// Plan is the set of plan operations served by the API.
type Plan interface {
	CreateSchedule(ctx context.Context, owner string, amount, frequency uint64) error
	CancelSchedule(ctx context.Context, owner string) error
	Deposit(ctx context.Context, owner string, amount uint64) error
	Execute(ctx context.Context, owner string) (uint64, error)
	WithdrawSource(ctx context.Context, owner string, amount uint64) error
	WithdrawTarget(ctx context.Context, owner string) (uint64, error)
	CollectFees(ctx context.Context, caller string) (uint64, error)

	Schedule(owner string) (model.Schedule, bool)
	Balance(owner string) uint64
	Stats() model.Stats
	Owners() []string
	Params() plan.Params
	CanExecute(owner string) bool
	DueOwners() []string
	Now() uint64
	History(ctx context.Context, owner string, limit int) ([]model.Event, error)
}

// Server holds the HTTP handlers.
type Server struct {
	plan        Plan
	ownerHeader string
	metrics     http.Handler
	log         zerolog.Logger
}

// NewServer creates a Server. The caller's identity is read from ownerHeader. metrics may
// be nil.
func NewServer(p Plan, ownerHeader string, metrics http.Handler, log zerolog.Logger) *Server {
	if ownerHeader == "" {
		ownerHeader = "X-Owner"
	}
	return &Server{
		plan:        p,
		ownerHeader: ownerHeader,
		metrics:     metrics,
		log:         log.With().Str("component", "api").Logger(),
	}
}

// NewRouter returns a router with every route registered.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/api/health", s.HandleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	// Reads
	r.HandleFunc("/api/stats", s.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/params", s.HandleParams).Methods(http.MethodGet)
	r.HandleFunc("/api/due", s.HandleDue).Methods(http.MethodGet)
	r.HandleFunc("/api/schedules", s.HandleListOwners).Methods(http.MethodGet)
	r.HandleFunc("/api/schedules/{owner}", s.HandleSchedule).Methods(http.MethodGet)
	r.HandleFunc("/api/schedules/{owner}/can-execute", s.HandleCanExecute).Methods(http.MethodGet)
	r.HandleFunc("/api/schedules/{owner}/history", s.HandleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/balances/{owner}", s.HandleBalance).Methods(http.MethodGet)

	// Owner operations, identity from the owner header
	r.HandleFunc("/api/schedules", s.HandleCreateSchedule).Methods(http.MethodPost)
	r.HandleFunc("/api/schedules", s.HandleCancelSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/api/deposits", s.HandleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/api/withdrawals/source", s.HandleWithdrawSource).Methods(http.MethodPost)
	r.HandleFunc("/api/withdrawals/target", s.HandleWithdrawTarget).Methods(http.MethodPost)
	r.HandleFunc("/api/fees/collect", s.HandleCollectFees).Methods(http.MethodPost)

	// Anyone may trigger a due execution
	r.HandleFunc("/api/executions/{owner}", s.HandleExecute).Methods(http.MethodPost)

	return r
}

// NewHTTPServer wraps the router in an http.Server with sane timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, plan.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, plan.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, plan.ErrExecutionTooEarly), errors.Is(err, plan.ErrScheduleNotActive):
		return http.StatusConflict
	case errors.Is(err, plan.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, plan.ErrInvalidAmount), errors.Is(err, plan.ErrInvalidFrequency):
		return http.StatusBadRequest
	case errors.Is(err, plan.ErrSwapFailed), errors.Is(err, plan.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Code: plan.Code(err)})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "bad_request"})
}
