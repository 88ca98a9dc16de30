package trading

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/store"
	"github.com/tindesk/pnl-engine/internal/valuation"
)

// DashboardResponse is the composite snapshot behind the desk dashboard:
// open exposure, the day's futures curve, and the latest valuation records.
type DashboardResponse struct {
	AsOf          string                  `json:"as_of"`
	OpenPositions OpenPositionSummary     `json:"open_positions"`
	Curve         []model.CurvePoint      `json:"curve"`
	LatestMonthly *model.MonthlyValuation `json:"latest_monthly"`
	LatestDaily   *model.DailyValuation   `json:"latest_daily"`
}

// OpenPositionSummary aggregates the trades still carrying price risk.
type OpenPositionSummary struct {
	Count         int             `json:"count"`
	NetQuantityMT decimal.Decimal `json:"net_quantity_mt"` // BUY positive, SELL negative
}

// GetDashboard handles GET /api/v1/dashboard?asOf=YYYY-MM-DD
func (s *Service) GetDashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := requiredDate(r.URL.Query().Get("asOf"))
	if err != nil {
		writeError(w, "asOf is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	trades, err := s.store.ListTrades(ctx, store.TradeFilter{To: &asOf})
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	summary := OpenPositionSummary{NetQuantityMT: decimal.Zero}
	for _, p := range valuation.OpenPositions(trades, asOf) {
		summary.Count++
		if p.Trade.Direction == model.DirectionSell {
			summary.NetQuantityMT = summary.NetQuantityMT.Sub(p.Trade.QuantityMT)
		} else {
			summary.NetQuantityMT = summary.NetQuantityMT.Add(p.Trade.QuantityMT)
		}
	}

	curve, err := s.store.CurveByDate(ctx, asOf)
	if err != nil {
		writeError(w, "failed to load curve", http.StatusInternalServerError)
		return
	}
	if curve == nil {
		curve = []model.CurvePoint{}
	}

	resp := DashboardResponse{
		AsOf:          asOf.Format("2006-01-02"),
		OpenPositions: summary,
		Curve:         curve,
	}

	if monthly, err := s.store.ListMonthlyValuations(ctx, nil); err == nil && len(monthly) > 0 {
		resp.LatestMonthly = &monthly[0]
	}
	if daily, err := s.store.ListDailyValuations(ctx, nil, nil); err == nil && len(daily) > 0 {
		resp.LatestDaily = &daily[0]
	}

	writeJSON(w, http.StatusOK, resp)
}
