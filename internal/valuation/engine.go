// Package valuation implements the mark-to-market PnL engine: it classifies
// which trades still carry price risk as of a valuation date, prices each
// against the stored futures curve, and persists one immutable monthly or
// daily valuation record per period.
//
// All monetary values use shopspring/decimal — never float64 for money.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/metrics"
	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
	"github.com/tindesk/pnl-engine/internal/store"
)

// Engine runs valuation cycles against an injected store. It holds no
// hidden connection state; each run is a short synchronous operation that
// either commits exactly one record or leaves the store untouched.
type Engine struct {
	store store.Store
	hub   *Hub // optional WebSocket hub for completion broadcasts
}

// NewEngine creates a valuation engine.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewEngine(st store.Store, hub *Hub) *Engine {
	return &Engine{store: st, hub: hub}
}

// OpenPosition is a trade still exposed to price risk as of a valuation
// date, paired with the curve tenor it prices against. Derived per run,
// never persisted.
type OpenPosition struct {
	Trade       model.Trade
	TenorMonths int
}

// OpenPositions partitions trades into delivered and open as of the
// valuation date. A trade is delivered — and excluded — iff its contract
// month's first day is on or before the valuation date. Input order is
// preserved for deterministic output.
func OpenPositions(trades []model.Trade, valuationDate time.Time) []OpenPosition {
	var open []OpenPosition
	for _, t := range trades {
		if t.ContractMonth.FirstDay().After(valuationDate) {
			open = append(open, OpenPosition{
				Trade:       t,
				TenorMonths: t.ContractMonth.TenorFrom(valuationDate),
			})
		}
	}
	return open
}

// unrealizedPnl marks one open trade against its resolved curve price:
// sign × (price − tradePrice) × quantity, sign +1 for BUY, −1 for SELL.
// A buyer profits when price rises above the trade price; a seller profits
// when it falls below.
func unrealizedPnl(t model.Trade, currentPrice decimal.Decimal) decimal.Decimal {
	pnl := currentPrice.Sub(t.PriceUSD).Mul(t.QuantityMT)
	if t.Direction == model.DirectionSell {
		return pnl.Neg()
	}
	return pnl
}

// priceOpenPositions resolves every open position's curve price and sums
// unrealized PnL. Any absent price fails the whole batch with a
// MissingCurveDataError naming every missing (contract month, tenor) pair.
func priceOpenPositions(ctx context.Context, tx store.ValuationTx, valuationDate time.Time, open []OpenPosition) (decimal.Decimal, error) {
	total := decimal.Zero
	var missing []MissingPrice
	seen := make(map[MissingPrice]bool)

	for _, p := range open {
		price, err := tx.CurvePrice(ctx, valuationDate, p.TenorMonths)
		if errors.Is(err, store.ErrNoCurvePoint) {
			pair := MissingPrice{ContractMonth: p.Trade.ContractMonth, TenorMonths: p.TenorMonths}
			if !seen[pair] {
				seen[pair] = true
				missing = append(missing, pair)
			}
			continue
		}
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("curve price tenor %d: %w", p.TenorMonths, err)
		}
		total = total.Add(unrealizedPnl(p.Trade, price))
	}

	if len(missing) > 0 {
		metrics.MissingCurvePoints.Add(float64(len(missing)))
		return decimal.Decimal{}, &MissingCurveDataError{AsOf: valuationDate, Missing: missing}
	}
	return total, nil
}

// RunMonthly executes the monthly valuation cycle for the month containing
// valuationDate: classify open positions, mark them against the curve, add
// the reversal of the preceding month's net result, and persist exactly one
// record for the year-month. A period with no open exposure persists a
// zero-valued record — absence of exposure is a fully computed outcome.
func (e *Engine) RunMonthly(ctx context.Context, valuationDate time.Time) (rec *model.MonthlyValuation, err error) {
	start := time.Now()
	valuationDate = dateOnly(valuationDate)
	ym := period.MonthOf(valuationDate)
	defer func() { metrics.ObserveValuationRun("monthly", runOutcome(err), time.Since(start)) }()

	tx, err := e.store.BeginValuation(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	exists, err := tx.MonthlyValuationExists(ctx, ym)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("monthly valuation for %s: %w", ym, store.ErrDuplicateValuation)
	}

	trades, err := tx.TradesThrough(ctx, valuationDate)
	if err != nil {
		return nil, err
	}
	open := OpenPositions(trades, valuationDate)

	rec = &model.MonthlyValuation{
		ValuationDate: valuationDate,
		YearMonth:     ym,
		UnrealizedPnl: decimal.Zero,
		ReversalPnl:   decimal.Zero,
		NetPnl:        decimal.Zero,
		PositionCount: len(open),
		CreatedAt:     time.Now().UTC(),
	}

	if len(open) > 0 {
		unrealized, err := priceOpenPositions(ctx, tx, valuationDate, open)
		if err != nil {
			return nil, err
		}

		// Take back the preceding month's recognized result so net PnL
		// reflects only this period's incremental change. A month that was
		// never valued reverses nothing.
		reversal := decimal.Zero
		prevNet, ok, err := tx.LatestMonthlyNetPnl(ctx, ym.Prev())
		if err != nil {
			return nil, err
		}
		if ok {
			reversal = prevNet.Neg()
		}

		rec.UnrealizedPnl = unrealized
		rec.ReversalPnl = reversal
		rec.NetPnl = reversal.Add(unrealized)
	}

	if err := tx.InsertMonthlyValuation(ctx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	slog.Info("monthly valuation completed",
		"valuation_date", valuationDate.Format("2006-01-02"),
		"year_month", ym.String(),
		"unrealized_pnl", rec.UnrealizedPnl.String(),
		"reversal_pnl", rec.ReversalPnl.String(),
		"net_pnl", rec.NetPnl.String(),
		"positions", rec.PositionCount,
	)
	metrics.OpenPositionsLastRun.Set(float64(rec.PositionCount))

	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:          "valuation_completed",
			Cycle:         "monthly",
			ValuationDate: valuationDate.Format("2006-01-02"),
			YearMonth:     ym.String(),
			NetPnl:        rec.NetPnl.String(),
			PositionCount: rec.PositionCount,
		})
	}
	return rec, nil
}

// RunDaily executes the daily valuation cycle: the same classification and
// marking as the monthly cycle, keyed by valuation date, with no reversal
// step. Realized PnL is carried at zero — delivery-triggered realization is
// not implemented yet.
func (e *Engine) RunDaily(ctx context.Context, valuationDate time.Time) (rec *model.DailyValuation, err error) {
	start := time.Now()
	valuationDate = dateOnly(valuationDate)
	defer func() { metrics.ObserveValuationRun("daily", runOutcome(err), time.Since(start)) }()

	tx, err := e.store.BeginValuation(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	exists, err := tx.DailyValuationExists(ctx, valuationDate)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("daily valuation for %s: %w",
			valuationDate.Format("2006-01-02"), store.ErrDuplicateValuation)
	}

	trades, err := tx.TradesThrough(ctx, valuationDate)
	if err != nil {
		return nil, err
	}
	open := OpenPositions(trades, valuationDate)

	unrealized := decimal.Zero
	if len(open) > 0 {
		unrealized, err = priceOpenPositions(ctx, tx, valuationDate, open)
		if err != nil {
			return nil, err
		}
	}

	realized := decimal.Zero // settlement accounting not implemented
	rec = &model.DailyValuation{
		ValuationDate: valuationDate,
		RealizedPnl:   realized,
		UnrealizedPnl: unrealized,
		TotalPnl:      realized.Add(unrealized),
		PositionCount: len(open),
		CreatedAt:     time.Now().UTC(),
	}

	if err := tx.InsertDailyValuation(ctx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	slog.Info("daily valuation completed",
		"valuation_date", valuationDate.Format("2006-01-02"),
		"unrealized_pnl", rec.UnrealizedPnl.String(),
		"total_pnl", rec.TotalPnl.String(),
		"positions", rec.PositionCount,
	)
	metrics.OpenPositionsLastRun.Set(float64(rec.PositionCount))

	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:          "valuation_completed",
			Cycle:         "daily",
			ValuationDate: valuationDate.Format("2006-01-02"),
			NetPnl:        rec.TotalPnl.String(),
			PositionCount: rec.PositionCount,
		})
	}
	return rec, nil
}

// dateOnly normalizes a timestamp to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// runOutcome maps a run error to its metrics label.
func runOutcome(err error) string {
	var missing *MissingCurveDataError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrDuplicateValuation):
		return "duplicate"
	case errors.As(err, &missing):
		return "missing_curve"
	default:
		return "error"
	}
}
