// Package store defines the persistence interface for the PnL engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
)

var (
	// ErrDuplicateValuation is returned when a valuation record already
	// exists for the requested key (year-month, or valuation date).
	ErrDuplicateValuation = errors.New("store: valuation already exists for period")

	// ErrNoCurvePoint is returned when no futures price is stored for a
	// requested (as-of date, tenor) pair.
	ErrNoCurvePoint = errors.New("store: no curve point")
)

// TradeFilter narrows ListTrades. Zero-valued fields are ignored.
type TradeFilter struct {
	From          *time.Time
	To            *time.Time
	Direction     string
	ContractMonth *period.Month
	Limit         int
}

// DeliveryFilter narrows ListDeliveries. Zero-valued fields are ignored.
type DeliveryFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer over the reporting reads.
type Store interface {
	// --- Trade ingestion & reporting ---

	// InsertTrade persists a new immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns trades matching the filter, newest first.
	ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error)

	// --- Deliveries ---

	// InsertDelivery persists a delivery record.
	InsertDelivery(ctx context.Context, d *model.Delivery) error

	// ListDeliveries returns deliveries matching the filter, newest first.
	ListDeliveries(ctx context.Context, f DeliveryFilter) ([]model.Delivery, error)

	// --- Futures curve ---

	// UpsertCurvePoint inserts or replaces the price for (as-of date, tenor).
	UpsertCurvePoint(ctx context.Context, p *model.CurvePoint) error

	// CurveByDate returns all curve points for a date, ordered by tenor.
	CurveByDate(ctx context.Context, asOf time.Time) ([]model.CurvePoint, error)

	// --- Valuation history ---

	// ListMonthlyValuations returns monthly records, optionally filtered by
	// year-month, newest first.
	ListMonthlyValuations(ctx context.Context, yearMonth *period.Month) ([]model.MonthlyValuation, error)

	// ListDailyValuations returns daily records in [from, to], newest first.
	ListDailyValuations(ctx context.Context, from, to *time.Time) ([]model.DailyValuation, error)

	// --- Valuation runs ---

	// BeginValuation opens the snapshot a single valuation run computes
	// against. The run either commits exactly one new record or leaves the
	// store untouched.
	BeginValuation(ctx context.Context) (ValuationTx, error)
}

// ValuationTx is one valuation run's view of the store: consistent reads
// plus the single insert the run commits. Implementations must reject a
// second insert for the same key with ErrDuplicateValuation at the storage
// level, even under concurrent runs.
type ValuationTx interface {
	// TradesThrough returns all trades with trade date <= through, in trade
	// date order.
	TradesThrough(ctx context.Context, through time.Time) ([]model.Trade, error)

	// CurvePrice resolves the stored price for (as-of date, tenor), or
	// ErrNoCurvePoint.
	CurvePrice(ctx context.Context, asOf time.Time, tenorMonths int) (decimal.Decimal, error)

	// MonthlyValuationExists reports whether a record exists for the year-month.
	MonthlyValuationExists(ctx context.Context, ym period.Month) (bool, error)

	// DailyValuationExists reports whether a record exists for the date.
	DailyValuationExists(ctx context.Context, date time.Time) (bool, error)

	// LatestMonthlyNetPnl returns the most recent net PnL recorded for the
	// year-month; ok is false when the month was never valued.
	LatestMonthlyNetPnl(ctx context.Context, ym period.Month) (pnl decimal.Decimal, ok bool, err error)

	// InsertMonthlyValuation appends the run's record, or ErrDuplicateValuation.
	InsertMonthlyValuation(ctx context.Context, v *model.MonthlyValuation) error

	// InsertDailyValuation appends the run's record, or ErrDuplicateValuation.
	InsertDailyValuation(ctx context.Context, v *model.DailyValuation) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
