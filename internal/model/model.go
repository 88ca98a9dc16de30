// Package model defines the core domain types shared across the PnL engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/period"
)

// Trade directions.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Trade is an executed physical or futures transaction. Created once at
// execution time, immutable thereafter; the valuation engine only reads.
type Trade struct {
	ID            string          `json:"id"`
	TradeDate     time.Time       `json:"trade_date"`
	ContractMonth period.Month    `json:"contract_month"`
	Direction     string          `json:"direction"` // "BUY" or "SELL"
	QuantityMT    decimal.Decimal `json:"quantity_mt"`
	PriceUSD      decimal.Decimal `json:"price_usd"` // per metric ton
	Counterparty  string          `json:"counterparty,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CurvePoint is a futures reference price for one tenor as of one date.
// Unique per (as-of date, tenor). Written by the price-ingestion side,
// read-only to the valuation engine.
type CurvePoint struct {
	AsOfDate    time.Time       `json:"as_of_date"`
	TenorMonths int             `json:"tenor_months"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	Source      string          `json:"source,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Delivery records a physical delivery against a trade. Deliveries are
// bookkeeping for the desk; the valuation engine does not consume them
// (open/delivered classification is driven by the contract month alone).
type Delivery struct {
	ID            string          `json:"id"`
	LinkedTradeID string          `json:"linked_trade_id"`
	PeriodDate    time.Time       `json:"period_date"`
	QuantityMT    decimal.Decimal `json:"quantity_mt"`
	BookingUSD    decimal.Decimal `json:"booking_usd"`
	Status        string          `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MonthlyValuation is one immutable mark-to-market record per year-month.
// NetPnl = ReversalPnl + UnrealizedPnl, where ReversalPnl takes back the
// prior month's recognized result so net figures are incremental.
type MonthlyValuation struct {
	ValuationDate time.Time       `json:"valuation_date"`
	YearMonth     period.Month    `json:"year_month"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	ReversalPnl   decimal.Decimal `json:"reversal_pnl"`
	NetPnl        decimal.Decimal `json:"net_pnl"`
	PositionCount int             `json:"position_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DailyValuation is one immutable mark-to-market record per valuation date.
// RealizedPnl is carried at zero until delivery-triggered realization is
// implemented; TotalPnl = RealizedPnl + UnrealizedPnl.
type DailyValuation struct {
	ValuationDate time.Time       `json:"valuation_date"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	TotalPnl      decimal.Decimal `json:"total_pnl"`
	PositionCount int             `json:"position_count"`
	CreatedAt     time.Time       `json:"created_at"`
}
