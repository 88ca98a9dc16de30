package trading_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
	"github.com/tindesk/pnl-engine/internal/store"
	"github.com/tindesk/pnl-engine/internal/trading"
	"github.com/tindesk/pnl-engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func month(y int, m time.Month) period.Month {
	return period.Month{Year: y, Month: m}
}

// newTestEnv creates a trading Service over an in-memory store with the
// production routes mounted.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := trading.NewService(ms, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/trades", svc.CreateTrade)
	r.Get("/api/v1/trades", svc.ListTrades)
	r.Post("/api/v1/deliveries", svc.CreateDelivery)
	r.Get("/api/v1/deliveries", svc.ListDeliveries)
	r.Post("/api/v1/curve", svc.UpsertCurve)
	r.Get("/api/v1/curve", svc.GetCurve)
	r.Get("/api/v1/dashboard", svc.GetDashboard)

	return ms, r
}

func doPost(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Trades ---

func TestCreateTrade_Valid(t *testing.T) {
	ms, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/trades", trading.TradeRequest{
		TradeDate:     "2026-02-10",
		ContractMonth: month(2026, time.June),
		Direction:     model.DirectionBuy,
		QuantityMT:    d(100),
		PriceUSD:      d(27000),
		Counterparty:  "PT Timah",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var trade model.Trade
	json.Unmarshal(w.Body.Bytes(), &trade)

	if trade.ID == "" {
		t.Error("expected non-empty trade id")
	}
	if trade.ContractMonth != month(2026, time.June) {
		t.Errorf("expected contract month 2026-06, got %s", trade.ContractMonth)
	}
	if !trade.QuantityMT.Equal(d(100)) {
		t.Errorf("expected quantity 100, got %s", trade.QuantityMT)
	}

	stored, _ := ms.ListTrades(context.Background(), store.TradeFilter{})
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored trade, got %d", len(stored))
	}
}

func TestCreateTrade_TokenContractMonth(t *testing.T) {
	// The wire form "2026-M06" must parse the same as "2026-06".
	_, router := newTestEnv(t)

	body := []byte(`{"trade_date":"2026-02-10","contract_month":"2026-M06","direction":"BUY","quantity_mt":"100","price_usd":"27000"}`)
	req := httptest.NewRequest("POST", "/api/v1/trades", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var trade model.Trade
	json.Unmarshal(w.Body.Bytes(), &trade)
	if trade.ContractMonth != month(2026, time.June) {
		t.Errorf("expected contract month 2026-06, got %s", trade.ContractMonth)
	}
}

func TestCreateTrade_Validation(t *testing.T) {
	_, router := newTestEnv(t)

	valid := func() trading.TradeRequest {
		return trading.TradeRequest{
			TradeDate:     "2026-02-10",
			ContractMonth: month(2026, time.June),
			Direction:     model.DirectionBuy,
			QuantityMT:    d(100),
			PriceUSD:      d(27000),
		}
	}

	tests := []struct {
		name   string
		mutate func(*trading.TradeRequest)
	}{
		{"bad date", func(r *trading.TradeRequest) { r.TradeDate = "10/02/2026" }},
		{"bad direction", func(r *trading.TradeRequest) { r.Direction = "HOLD" }},
		{"zero quantity", func(r *trading.TradeRequest) { r.QuantityMT = decimal.Zero }},
		{"negative quantity", func(r *trading.TradeRequest) { r.QuantityMT = d(-5) }},
		{"zero price", func(r *trading.TradeRequest) { r.PriceUSD = decimal.Zero }},
		{"missing contract month", func(r *trading.TradeRequest) { r.ContractMonth = period.Month{} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			w := doPost(t, router, "/api/v1/trades", req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestListTrades_Filters(t *testing.T) {
	_, router := newTestEnv(t)

	seed := []trading.TradeRequest{
		{TradeDate: "2026-01-10", ContractMonth: month(2026, time.June), Direction: model.DirectionBuy, QuantityMT: d(100), PriceUSD: d(27000)},
		{TradeDate: "2026-02-10", ContractMonth: month(2026, time.June), Direction: model.DirectionSell, QuantityMT: d(50), PriceUSD: d(28000)},
		{TradeDate: "2026-03-10", ContractMonth: month(2026, time.September), Direction: model.DirectionBuy, QuantityMT: d(25), PriceUSD: d(26500)},
	}
	for _, req := range seed {
		if w := doPost(t, router, "/api/v1/trades", req); w.Code != http.StatusCreated {
			t.Fatalf("seed failed: %d %s", w.Code, w.Body.String())
		}
	}

	var trades []model.Trade

	w := doGet(t, router, "/api/v1/trades?direction=SELL")
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 || trades[0].Direction != model.DirectionSell {
		t.Errorf("expected 1 SELL trade, got %d", len(trades))
	}

	w = doGet(t, router, "/api/v1/trades?contractMonth=2026-06")
	trades = nil
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 2 {
		t.Errorf("expected 2 June trades, got %d", len(trades))
	}

	w = doGet(t, router, "/api/v1/trades?from=2026-02-01&to=2026-02-28")
	trades = nil
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 {
		t.Errorf("expected 1 February trade, got %d", len(trades))
	}

	if w = doGet(t, router, "/api/v1/trades?limit=0"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-positive limit, got %d", w.Code)
	}
	if w = doGet(t, router, "/api/v1/trades?direction=HOLD"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad direction, got %d", w.Code)
	}
}

// --- Deliveries ---

func TestCreateDelivery_DefaultsStatus(t *testing.T) {
	_, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/deliveries", trading.DeliveryRequest{
		LinkedTradeID: "some-trade",
		PeriodDate:    "2026-06-05",
		QuantityMT:    d(100),
		BookingUSD:    d(2700000),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var delivery model.Delivery
	json.Unmarshal(w.Body.Bytes(), &delivery)

	if delivery.Status != "BOOKED" {
		t.Errorf("expected default status BOOKED, got %s", delivery.Status)
	}
	if delivery.ID == "" {
		t.Error("expected non-empty delivery id")
	}
}

func TestCreateDelivery_Validation(t *testing.T) {
	_, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/deliveries", trading.DeliveryRequest{
		PeriodDate: "June 5th",
		QuantityMT: d(100),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad period_date, got %d", w.Code)
	}

	w = doPost(t, router, "/api/v1/deliveries", trading.DeliveryRequest{
		PeriodDate: "2026-06-05",
		QuantityMT: decimal.Zero,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero quantity, got %d", w.Code)
	}
}

func TestListDeliveries_Range(t *testing.T) {
	_, router := newTestEnv(t)

	for _, date := range []string{"2026-06-05", "2026-07-05"} {
		w := doPost(t, router, "/api/v1/deliveries", trading.DeliveryRequest{
			PeriodDate: date,
			QuantityMT: d(50),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("seed failed: %d %s", w.Code, w.Body.String())
		}
	}

	w := doGet(t, router, "/api/v1/deliveries?from=2026-07-01")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var deliveries []model.Delivery
	json.Unmarshal(w.Body.Bytes(), &deliveries)
	if len(deliveries) != 1 {
		t.Errorf("expected 1 delivery in range, got %d", len(deliveries))
	}
}

// --- Curve ---

func TestUpsertCurve_ThenGet(t *testing.T) {
	_, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/curve", trading.CurveRequest{
		AsOfDate: "2026-03-15",
		Source:   "LME",
		Points: []trading.CurvePoint{
			{TenorMonths: 0, PriceUSD: d(27200)},
			{TenorMonths: 3, PriceUSD: d(27500)},
			{TenorMonths: 6, PriceUSD: d(27900)},
		},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doGet(t, router, "/api/v1/curve?asOf=2026-03-15")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var points []model.CurvePoint
	json.Unmarshal(w.Body.Bytes(), &points)

	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[0].TenorMonths != 0 || points[2].TenorMonths != 6 {
		t.Errorf("expected tenor-sorted points, got %d..%d", points[0].TenorMonths, points[2].TenorMonths)
	}
	if points[1].Source != "LME" {
		t.Errorf("expected source LME, got %s", points[1].Source)
	}
}

func TestUpsertCurve_Validation(t *testing.T) {
	_, router := newTestEnv(t)

	tests := []struct {
		name string
		req  trading.CurveRequest
	}{
		{"bad date", trading.CurveRequest{AsOfDate: "soon", Points: []trading.CurvePoint{{TenorMonths: 1, PriceUSD: d(27000)}}}},
		{"empty points", trading.CurveRequest{AsOfDate: "2026-03-15"}},
		{"negative tenor", trading.CurveRequest{AsOfDate: "2026-03-15", Points: []trading.CurvePoint{{TenorMonths: -1, PriceUSD: d(27000)}}}},
		{"zero price", trading.CurveRequest{AsOfDate: "2026-03-15", Points: []trading.CurvePoint{{TenorMonths: 1, PriceUSD: decimal.Zero}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doPost(t, router, "/api/v1/curve", tc.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetCurve_RequiresAsOf(t *testing.T) {
	_, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/curve")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without asOf, got %d", w.Code)
	}
}

// --- Dashboard ---

func TestGetDashboard(t *testing.T) {
	ms, router := newTestEnv(t)

	// One open buy, one open sell, one delivered trade.
	seed := []trading.TradeRequest{
		{TradeDate: "2026-01-10", ContractMonth: month(2026, time.June), Direction: model.DirectionBuy, QuantityMT: d(100), PriceUSD: d(27000)},
		{TradeDate: "2026-02-10", ContractMonth: month(2026, time.September), Direction: model.DirectionSell, QuantityMT: d(40), PriceUSD: d(28000)},
		{TradeDate: "2025-11-10", ContractMonth: month(2026, time.January), Direction: model.DirectionBuy, QuantityMT: d(500), PriceUSD: d(26000)},
	}
	for _, req := range seed {
		if w := doPost(t, router, "/api/v1/trades", req); w.Code != http.StatusCreated {
			t.Fatalf("seed failed: %d %s", w.Code, w.Body.String())
		}
	}

	doPost(t, router, "/api/v1/curve", trading.CurveRequest{
		AsOfDate: "2026-03-15",
		Points:   []trading.CurvePoint{{TenorMonths: 3, PriceUSD: d(27500)}},
	})

	// A prior valuation run so the dashboard has a latest record.
	engine := valuation.NewEngine(ms, nil)
	if _, err := engine.RunMonthly(context.Background(), time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)); err == nil {
		// With only tenor 3 seeded the September trade (tenor 6) fails the
		// run; the dashboard must still render without a latest record.
		t.Log("monthly run unexpectedly succeeded")
	}

	w := doGet(t, router, "/api/v1/dashboard?asOf=2026-03-15")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trading.DashboardResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.AsOf != "2026-03-15" {
		t.Errorf("expected as_of 2026-03-15, got %s", resp.AsOf)
	}
	// Delivered January trade excluded; 100 bought minus 40 sold.
	if resp.OpenPositions.Count != 2 {
		t.Errorf("expected 2 open positions, got %d", resp.OpenPositions.Count)
	}
	if !resp.OpenPositions.NetQuantityMT.Equal(d(60)) {
		t.Errorf("expected net quantity 60, got %s", resp.OpenPositions.NetQuantityMT)
	}
	if len(resp.Curve) != 1 {
		t.Errorf("expected 1 curve point, got %d", len(resp.Curve))
	}
}

func TestGetDashboard_WithLatestValuations(t *testing.T) {
	ms, router := newTestEnv(t)

	doPost(t, router, "/api/v1/trades", trading.TradeRequest{
		TradeDate: "2026-02-10", ContractMonth: month(2026, time.June),
		Direction: model.DirectionBuy, QuantityMT: d(100), PriceUSD: d(27000),
	})
	doPost(t, router, "/api/v1/curve", trading.CurveRequest{
		AsOfDate: "2026-03-15",
		Points:   []trading.CurvePoint{{TenorMonths: 3, PriceUSD: d(27500)}},
	})

	engine := valuation.NewEngine(ms, nil)
	ctx := context.Background()
	valuationDate := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	if _, err := engine.RunMonthly(ctx, valuationDate); err != nil {
		t.Fatalf("monthly run failed: %v", err)
	}
	if _, err := engine.RunDaily(ctx, valuationDate); err != nil {
		t.Fatalf("daily run failed: %v", err)
	}

	w := doGet(t, router, "/api/v1/dashboard?asOf=2026-03-15")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trading.DashboardResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.LatestMonthly == nil {
		t.Fatal("expected latest monthly valuation")
	}
	if !resp.LatestMonthly.NetPnl.Equal(d(50000)) {
		t.Errorf("expected latest monthly net 50000, got %s", resp.LatestMonthly.NetPnl)
	}
	if resp.LatestDaily == nil {
		t.Fatal("expected latest daily valuation")
	}
	if !resp.LatestDaily.TotalPnl.Equal(d(50000)) {
		t.Errorf("expected latest daily total 50000, got %s", resp.LatestDaily.TotalPnl)
	}
}

func TestGetDashboard_RequiresAsOf(t *testing.T) {
	_, router := newTestEnv(t)

	w := doGet(t, router, "/api/v1/dashboard")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without asOf, got %d", w.Code)
	}
}
