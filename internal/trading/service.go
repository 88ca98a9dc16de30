// Package trading provides the HTTP handlers for recording trades and
// deliveries, ingesting futures-curve points, and serving the desk
// dashboard snapshot. These are thin data-access handlers; the valuation
// engine owns all temporal and accounting logic.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trading

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/metrics"
	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
	"github.com/tindesk/pnl-engine/internal/store"
	"github.com/tindesk/pnl-engine/internal/valuation"
)

// Service handles trade, delivery, curve, and dashboard requests.
type Service struct {
	store store.Store
	hub   *valuation.Hub // optional, for curve_updated broadcasts
}

// NewService creates a new trading service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *valuation.Hub) *Service {
	return &Service{store: st, hub: hub}
}

// --- Request types ---

// TradeRequest is the JSON body for POST /api/v1/trades.
type TradeRequest struct {
	TradeDate     string          `json:"trade_date"`     // YYYY-MM-DD
	ContractMonth period.Month    `json:"contract_month"` // "2026-M03" or "2026-03"
	Direction     string          `json:"direction"`      // "BUY" or "SELL"
	QuantityMT    decimal.Decimal `json:"quantity_mt"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	Counterparty  string          `json:"counterparty"`
}

// DeliveryRequest is the JSON body for POST /api/v1/deliveries.
type DeliveryRequest struct {
	LinkedTradeID string          `json:"linked_trade_id"`
	PeriodDate    string          `json:"period_date"` // YYYY-MM-DD
	QuantityMT    decimal.Decimal `json:"quantity_mt"`
	BookingUSD    decimal.Decimal `json:"booking_usd"`
	Status        string          `json:"status"`
	Notes         string          `json:"notes"`
}

// CurveRequest is the JSON body for POST /api/v1/curve: a full or partial
// curve for one as-of date.
type CurveRequest struct {
	AsOfDate string       `json:"as_of_date"` // YYYY-MM-DD
	Source   string       `json:"source"`
	Points   []CurvePoint `json:"points"`
}

// CurvePoint is one (tenor, price) pair in a CurveRequest.
type CurvePoint struct {
	TenorMonths int             `json:"tenor_months"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
}

// --- Trade handlers ---

// CreateTrade handles POST /api/v1/trades.
func (s *Service) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	tradeDate, err := time.Parse("2006-01-02", req.TradeDate)
	if err != nil {
		writeError(w, "trade_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if req.Direction != model.DirectionBuy && req.Direction != model.DirectionSell {
		writeError(w, "direction must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if !req.QuantityMT.IsPositive() {
		writeError(w, "quantity_mt must be positive", http.StatusBadRequest)
		return
	}
	if !req.PriceUSD.IsPositive() {
		writeError(w, "price_usd must be positive", http.StatusBadRequest)
		return
	}
	if (req.ContractMonth == period.Month{}) {
		writeError(w, "contract_month is required", http.StatusBadRequest)
		return
	}

	trade := &model.Trade{
		ID:            uuid.New().String(),
		TradeDate:     tradeDate,
		ContractMonth: req.ContractMonth,
		Direction:     req.Direction,
		QuantityMT:    req.QuantityMT,
		PriceUSD:      req.PriceUSD,
		Counterparty:  req.Counterparty,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.InsertTrade(r.Context(), trade); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}

	metrics.TradesRecorded.WithLabelValues(trade.Direction).Inc()
	slog.Info("trade recorded",
		"id", trade.ID,
		"direction", trade.Direction,
		"contract_month", trade.ContractMonth.Token(),
		"qty_mt", trade.QuantityMT.String(),
		"price_usd", trade.PriceUSD.String(),
	)

	writeJSON(w, http.StatusCreated, trade)
}

// ListTrades handles GET /api/v1/trades
// Optional filters: from, to, direction, contractMonth, limit.
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TradeFilter{Limit: 100}

	var err error
	if f.From, err = optionalDate(q.Get("from")); err != nil {
		writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if f.To, err = optionalDate(q.Get("to")); err != nil {
		writeError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if dir := q.Get("direction"); dir != "" {
		if dir != model.DirectionBuy && dir != model.DirectionSell {
			writeError(w, "direction must be BUY or SELL", http.StatusBadRequest)
			return
		}
		f.Direction = dir
	}
	if cm := q.Get("contractMonth"); cm != "" {
		month, err := period.ParseMonth(cm)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.ContractMonth = &month
	}
	if lim := q.Get("limit"); lim != "" {
		n, err := parsePositiveInt(lim)
		if err != nil {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	trades, err := s.store.ListTrades(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Delivery handlers ---

// CreateDelivery handles POST /api/v1/deliveries.
func (s *Service) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	periodDate, err := time.Parse("2006-01-02", req.PeriodDate)
	if err != nil {
		writeError(w, "period_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if !req.QuantityMT.IsPositive() {
		writeError(w, "quantity_mt must be positive", http.StatusBadRequest)
		return
	}

	status := req.Status
	if status == "" {
		status = "BOOKED"
	}

	delivery := &model.Delivery{
		ID:            uuid.New().String(),
		LinkedTradeID: req.LinkedTradeID,
		PeriodDate:    periodDate,
		QuantityMT:    req.QuantityMT,
		BookingUSD:    req.BookingUSD,
		Status:        status,
		Notes:         req.Notes,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.InsertDelivery(r.Context(), delivery); err != nil {
		writeError(w, "failed to record delivery", http.StatusInternalServerError)
		return
	}

	slog.Info("delivery recorded",
		"id", delivery.ID,
		"linked_trade", delivery.LinkedTradeID,
		"qty_mt", delivery.QuantityMT.String(),
	)
	writeJSON(w, http.StatusCreated, delivery)
}

// ListDeliveries handles GET /api/v1/deliveries
// Optional filters: from, to, limit.
func (s *Service) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.DeliveryFilter{Limit: 100}

	var err error
	if f.From, err = optionalDate(q.Get("from")); err != nil {
		writeError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if f.To, err = optionalDate(q.Get("to")); err != nil {
		writeError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if lim := q.Get("limit"); lim != "" {
		n, err := parsePositiveInt(lim)
		if err != nil {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	deliveries, err := s.store.ListDeliveries(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list deliveries", http.StatusInternalServerError)
		return
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

// --- Curve handlers ---

// UpsertCurve handles POST /api/v1/curve.
// Ingests one as-of date's curve points; re-posting a tenor replaces it.
func (s *Service) UpsertCurve(w http.ResponseWriter, r *http.Request) {
	var req CurveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	asOf, err := time.Parse("2006-01-02", req.AsOfDate)
	if err != nil {
		writeError(w, "as_of_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if len(req.Points) == 0 {
		writeError(w, "points must not be empty", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	for _, p := range req.Points {
		if p.TenorMonths < 0 {
			writeError(w, "tenor_months must be >= 0", http.StatusBadRequest)
			return
		}
		if !p.PriceUSD.IsPositive() {
			writeError(w, "price_usd must be positive", http.StatusBadRequest)
			return
		}
		point := &model.CurvePoint{
			AsOfDate:    asOf,
			TenorMonths: p.TenorMonths,
			PriceUSD:    p.PriceUSD,
			Source:      req.Source,
			CreatedAt:   now,
		}
		if err := s.store.UpsertCurvePoint(ctx, point); err != nil {
			writeError(w, "failed to store curve point", http.StatusInternalServerError)
			return
		}
	}

	slog.Info("curve ingested",
		"as_of", req.AsOfDate,
		"points", len(req.Points),
		"source", req.Source,
	)
	if s.hub != nil {
		s.hub.Broadcast(valuation.WSMessage{
			Type:     "curve_updated",
			AsOfDate: req.AsOfDate,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCurve handles GET /api/v1/curve?asOf=YYYY-MM-DD
func (s *Service) GetCurve(w http.ResponseWriter, r *http.Request) {
	asOf, err := requiredDate(r.URL.Query().Get("asOf"))
	if err != nil {
		writeError(w, "asOf is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	points, err := s.store.CurveByDate(r.Context(), asOf)
	if err != nil {
		writeError(w, "failed to load curve", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.CurvePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Helpers ---

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requiredDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not a positive integer: %q", s)
	}
	return n, nil
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
