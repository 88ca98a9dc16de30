package valuation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
	"github.com/tindesk/pnl-engine/internal/store"
)

// Service exposes the valuation engine and the valuation history over HTTP.
type Service struct {
	engine *Engine
	store  store.Store
}

// NewService creates the valuation HTTP service.
func NewService(engine *Engine, st store.Store) *Service {
	return &Service{engine: engine, store: st}
}

// CalculateRequest is the JSON body for POST /api/v1/valuations/calculate.
type CalculateRequest struct {
	Type          string `json:"type"`          // "monthly" or "daily"
	ValuationDate string `json:"valuationDate"` // YYYY-MM-DD; defaults to today
}

// Calculate handles POST /api/v1/valuations/calculate.
// Triggers one monthly or daily valuation run for the given date.
func (s *Service) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	valuationDate := time.Now().UTC()
	if req.ValuationDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ValuationDate)
		if err != nil {
			writeError(w, "valuationDate must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		valuationDate = parsed
	}

	ctx := r.Context()
	switch req.Type {
	case "monthly":
		rec, err := s.engine.RunMonthly(ctx, valuationDate)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	case "daily":
		rec, err := s.engine.RunDaily(ctx, valuationDate)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	default:
		writeError(w, `type must be "monthly" or "daily"`, http.StatusBadRequest)
	}
}

// ListMonthly handles GET /api/v1/valuations/monthly?yearMonth=2026-03
func (s *Service) ListMonthly(w http.ResponseWriter, r *http.Request) {
	var yearMonth *period.Month
	if ym := r.URL.Query().Get("yearMonth"); ym != "" {
		parsed, err := period.ParseMonth(ym)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		yearMonth = &parsed
	}

	records, err := s.store.ListMonthlyValuations(r.Context(), yearMonth)
	if err != nil {
		writeError(w, "failed to list monthly valuations", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.MonthlyValuation{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ListDaily handles GET /api/v1/valuations/daily?from=&to=
func (s *Service) ListDaily(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = &parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = &parsed
	}

	records, err := s.store.ListDailyValuations(r.Context(), from, to)
	if err != nil {
		writeError(w, "failed to list daily valuations", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.DailyValuation{}
	}
	writeJSON(w, http.StatusOK, records)
}

// writeRunError maps a valuation run failure to its HTTP shape. Every run
// failure is terminal; nothing was persisted.
func writeRunError(w http.ResponseWriter, err error) {
	var missing *MissingCurveDataError
	switch {
	case errors.Is(err, store.ErrDuplicateValuation):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &missing):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   missing.Error(),
			"missing": missing.Missing,
		})
	case errors.Is(err, period.ErrMalformedContractMonth):
		// A stored trade carries an unparseable contract month: a data
		// fault, not a caller error.
		writeError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeError(w, "valuation run failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
