package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
	"github.com/tindesk/pnl-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func month(y int, m time.Month) period.Month {
	return period.Month{Year: y, Month: m}
}

func seedTrade(t *testing.T, ms *store.MemoryStore, id string, tradeDate time.Time, contract period.Month, direction string) {
	t.Helper()
	err := ms.InsertTrade(context.Background(), &model.Trade{
		ID:            id,
		TradeDate:     tradeDate,
		ContractMonth: contract,
		Direction:     direction,
		QuantityMT:    d(100),
		PriceUSD:      d(27000),
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed trade %s: %v", id, err)
	}
}

// --- Trade filters ---

func TestListTrades_Filters(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedTrade(t, ms, "t1", day(2026, time.January, 10), month(2026, time.June), model.DirectionBuy)
	seedTrade(t, ms, "t2", day(2026, time.February, 10), month(2026, time.June), model.DirectionSell)
	seedTrade(t, ms, "t3", day(2026, time.March, 10), month(2026, time.September), model.DirectionBuy)

	all, err := ms.ListTrades(ctx, store.TradeFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(all))
	}
	// Newest trade date first.
	if all[0].ID != "t3" || all[2].ID != "t1" {
		t.Errorf("expected newest-first ordering, got %s..%s", all[0].ID, all[2].ID)
	}

	from := day(2026, time.February, 1)
	byDate, _ := ms.ListTrades(ctx, store.TradeFilter{From: &from})
	if len(byDate) != 2 {
		t.Errorf("expected 2 trades from February, got %d", len(byDate))
	}

	byDirection, _ := ms.ListTrades(ctx, store.TradeFilter{Direction: model.DirectionSell})
	if len(byDirection) != 1 || byDirection[0].ID != "t2" {
		t.Errorf("expected only t2 for SELL filter, got %d", len(byDirection))
	}

	june := month(2026, time.June)
	byContract, _ := ms.ListTrades(ctx, store.TradeFilter{ContractMonth: &june})
	if len(byContract) != 2 {
		t.Errorf("expected 2 June trades, got %d", len(byContract))
	}

	limited, _ := ms.ListTrades(ctx, store.TradeFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "t3" {
		t.Errorf("expected limit to keep the newest trade")
	}
}

// --- Curve ---

func TestCurve_UpsertOverwrites(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	asOf := day(2026, time.March, 15)

	for _, price := range []float64{27500, 27650} {
		err := ms.UpsertCurvePoint(ctx, &model.CurvePoint{
			AsOfDate: asOf, TenorMonths: 3, PriceUSD: d(price),
		})
		if err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	points, err := ms.CurveByDate(ctx, asOf)
	if err != nil {
		t.Fatalf("curve read failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point after upsert, got %d", len(points))
	}
	if !points[0].PriceUSD.Equal(d(27650)) {
		t.Errorf("expected overwritten price 27650, got %s", points[0].PriceUSD)
	}
}

func TestCurveByDate_SortedByTenor(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	asOf := day(2026, time.March, 15)

	for _, tenor := range []int{6, 0, 3} {
		ms.UpsertCurvePoint(ctx, &model.CurvePoint{
			AsOfDate: asOf, TenorMonths: tenor, PriceUSD: d(27000 + float64(tenor)*100),
		})
	}
	// A different as-of date must not leak in.
	ms.UpsertCurvePoint(ctx, &model.CurvePoint{
		AsOfDate: day(2026, time.March, 16), TenorMonths: 1, PriceUSD: d(27100),
	})

	points, _ := ms.CurveByDate(ctx, asOf)
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i, want := range []int{0, 3, 6} {
		if points[i].TenorMonths != want {
			t.Errorf("point %d: expected tenor %d, got %d", i, want, points[i].TenorMonths)
		}
	}
}

// --- Valuation transaction semantics ---

func TestValuationTx_CommitPersists(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	tx, err := ms.BeginValuation(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	rec := &model.MonthlyValuation{
		ValuationDate: day(2026, time.March, 15),
		YearMonth:     month(2026, time.March),
		UnrealizedPnl: d(50000),
		NetPnl:        d(50000),
		PositionCount: 1,
	}
	if err := tx.InsertMonthlyValuation(ctx, rec); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	records, _ := ms.ListMonthlyValuations(ctx, nil)
	if len(records) != 1 {
		t.Fatalf("expected 1 record after commit, got %d", len(records))
	}
}

func TestValuationTx_RollbackDiscards(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	tx, _ := ms.BeginValuation(ctx)
	tx.InsertDailyValuation(ctx, &model.DailyValuation{
		ValuationDate: day(2026, time.March, 15),
		TotalPnl:      d(50000),
	})
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	records, _ := ms.ListDailyValuations(ctx, nil, nil)
	if len(records) != 0 {
		t.Errorf("expected no records after rollback, got %d", len(records))
	}
}

func TestValuationTx_RollbackAfterCommitIsNoop(t *testing.T) {
	// The engine defers Rollback unconditionally; after a successful Commit
	// it must not undo anything or unlock twice.
	ms := store.NewMemoryStore()
	ctx := context.Background()

	tx, _ := ms.BeginValuation(ctx)
	tx.InsertDailyValuation(ctx, &model.DailyValuation{ValuationDate: day(2026, time.March, 15)})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback after commit failed: %v", err)
	}

	records, _ := ms.ListDailyValuations(ctx, nil, nil)
	if len(records) != 1 {
		t.Errorf("expected committed record to survive rollback, got %d", len(records))
	}

	// The store must be usable again (lock released exactly once).
	tx2, err := ms.BeginValuation(ctx)
	if err != nil {
		t.Fatalf("second begin failed: %v", err)
	}
	tx2.Rollback(ctx)
}

func TestValuationTx_DuplicateMonthlyInsert(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	rec := &model.MonthlyValuation{
		ValuationDate: day(2026, time.March, 15),
		YearMonth:     month(2026, time.March),
	}

	tx, _ := ms.BeginValuation(ctx)
	if err := tx.InsertMonthlyValuation(ctx, rec); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	tx.Commit(ctx)

	tx2, _ := ms.BeginValuation(ctx)
	defer tx2.Rollback(ctx)

	exists, err := tx2.MonthlyValuationExists(ctx, month(2026, time.March))
	if err != nil || !exists {
		t.Errorf("expected existing March record, exists=%v err=%v", exists, err)
	}
	err = tx2.InsertMonthlyValuation(ctx, rec)
	if !errors.Is(err, store.ErrDuplicateValuation) {
		t.Errorf("expected ErrDuplicateValuation, got %v", err)
	}
}

func TestValuationTx_TradesThroughExcludesLater(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedTrade(t, ms, "early", day(2026, time.February, 10), month(2026, time.June), model.DirectionBuy)
	seedTrade(t, ms, "late", day(2026, time.March, 20), month(2026, time.June), model.DirectionBuy)

	tx, _ := ms.BeginValuation(ctx)
	defer tx.Rollback(ctx)

	trades, err := tx.TradesThrough(ctx, day(2026, time.March, 15))
	if err != nil {
		t.Fatalf("trades read failed: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != "early" {
		t.Fatalf("expected only the early trade, got %d", len(trades))
	}
}

func TestValuationTx_CurvePrice(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	asOf := day(2026, time.March, 15)

	ms.UpsertCurvePoint(ctx, &model.CurvePoint{AsOfDate: asOf, TenorMonths: 3, PriceUSD: d(27500)})

	tx, _ := ms.BeginValuation(ctx)
	defer tx.Rollback(ctx)

	price, err := tx.CurvePrice(ctx, asOf, 3)
	if err != nil {
		t.Fatalf("curve price failed: %v", err)
	}
	if !price.Equal(d(27500)) {
		t.Errorf("expected 27500, got %s", price)
	}

	_, err = tx.CurvePrice(ctx, asOf, 9)
	if !errors.Is(err, store.ErrNoCurvePoint) {
		t.Errorf("expected ErrNoCurvePoint, got %v", err)
	}
}

func TestValuationTx_LatestMonthlyNetPnl(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	tx, _ := ms.BeginValuation(ctx)
	tx.InsertMonthlyValuation(ctx, &model.MonthlyValuation{
		ValuationDate: day(2026, time.February, 27),
		YearMonth:     month(2026, time.February),
		NetPnl:        d(12000),
	})
	tx.Commit(ctx)

	tx2, _ := ms.BeginValuation(ctx)
	defer tx2.Rollback(ctx)

	net, ok, err := tx2.LatestMonthlyNetPnl(ctx, month(2026, time.February))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !ok || !net.Equal(d(12000)) {
		t.Errorf("expected (12000, true), got (%s, %v)", net, ok)
	}

	_, ok, err = tx2.LatestMonthlyNetPnl(ctx, month(2026, time.January))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unvalued month")
	}
}

// --- Daily valuation range listing ---

func TestListDailyValuations_Range(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, dd := range []int{14, 15, 16} {
		tx, _ := ms.BeginValuation(ctx)
		if err := tx.InsertDailyValuation(ctx, &model.DailyValuation{
			ValuationDate: day(2026, time.March, dd),
		}); err != nil {
			t.Fatalf("insert for day %d failed: %v", dd, err)
		}
		tx.Commit(ctx)
	}

	from := day(2026, time.March, 15)
	records, err := ms.ListDailyValuations(ctx, &from, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !records[0].ValuationDate.Equal(day(2026, time.March, 16)) {
		t.Errorf("expected newest first, got %s", records[0].ValuationDate)
	}
}
