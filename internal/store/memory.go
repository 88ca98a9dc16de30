package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
)

// MemoryStore implements Store with in-memory slices and maps. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	trades     []model.Trade
	deliveries []model.Delivery
	curve      map[curveKey]model.CurvePoint
	monthly    []model.MonthlyValuation
	daily      []model.DailyValuation
}

type curveKey struct {
	asOf  string // YYYY-MM-DD
	tenor int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		curve: make(map[curveKey]model.CurvePoint),
	}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func sameDate(a, b time.Time) bool {
	return dateKey(a) == dateKey(b)
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, f TradeFilter) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if f.From != nil && t.TradeDate.Before(*f.From) {
			continue
		}
		if f.To != nil && t.TradeDate.After(*f.To) {
			continue
		}
		if f.Direction != "" && t.Direction != f.Direction {
			continue
		}
		if f.ContractMonth != nil && t.ContractMonth != *f.ContractMonth {
			continue
		}
		result = append(result, t)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TradeDate.After(result[j].TradeDate)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// --- Deliveries ---

func (s *MemoryStore) InsertDelivery(_ context.Context, d *model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries = append(s.deliveries, *d)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, f DeliveryFilter) ([]model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Delivery
	for _, d := range s.deliveries {
		if f.From != nil && d.PeriodDate.Before(*f.From) {
			continue
		}
		if f.To != nil && d.PeriodDate.After(*f.To) {
			continue
		}
		result = append(result, d)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PeriodDate.After(result[j].PeriodDate)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// --- Futures curve ---

func (s *MemoryStore) UpsertCurvePoint(_ context.Context, p *model.CurvePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.curve[curveKey{asOf: dateKey(p.AsOfDate), tenor: p.TenorMonths}] = *p
	return nil
}

func (s *MemoryStore) CurveByDate(_ context.Context, asOf time.Time) ([]model.CurvePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var points []model.CurvePoint
	for k, p := range s.curve {
		if k.asOf == dateKey(asOf) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].TenorMonths < points[j].TenorMonths
	})
	return points, nil
}

// --- Valuation history ---

func (s *MemoryStore) ListMonthlyValuations(_ context.Context, yearMonth *period.Month) ([]model.MonthlyValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MonthlyValuation
	for _, v := range s.monthly {
		if yearMonth != nil && v.YearMonth != *yearMonth {
			continue
		}
		result = append(result, v)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].YearMonth != result[j].YearMonth {
			return result[i].YearMonth.FirstDay().After(result[j].YearMonth.FirstDay())
		}
		return result[i].ValuationDate.After(result[j].ValuationDate)
	})
	return result, nil
}

func (s *MemoryStore) ListDailyValuations(_ context.Context, from, to *time.Time) ([]model.DailyValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.DailyValuation
	for _, v := range s.daily {
		if from != nil && v.ValuationDate.Before(*from) {
			continue
		}
		if to != nil && v.ValuationDate.After(*to) {
			continue
		}
		result = append(result, v)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ValuationDate.After(result[j].ValuationDate)
	})
	return result, nil
}

// --- Valuation runs ---

// BeginValuation takes the store's write lock for the duration of the run,
// which gives the same observable guarantees the Postgres transaction does:
// a consistent snapshot, and at most one committed record per key.
func (s *MemoryStore) BeginValuation(_ context.Context) (ValuationTx, error) {
	s.mu.Lock()
	tx := &memoryValuationTx{store: s}
	return tx, nil
}

type memoryValuationTx struct {
	store   *MemoryStore
	pending []func(s *MemoryStore)
	done    sync.Once
}

func (t *memoryValuationTx) TradesThrough(_ context.Context, through time.Time) ([]model.Trade, error) {
	var trades []model.Trade
	for _, tr := range t.store.trades {
		if !tr.TradeDate.After(through) {
			trades = append(trades, tr)
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].TradeDate.Before(trades[j].TradeDate)
	})
	return trades, nil
}

func (t *memoryValuationTx) CurvePrice(_ context.Context, asOf time.Time, tenorMonths int) (decimal.Decimal, error) {
	p, ok := t.store.curve[curveKey{asOf: dateKey(asOf), tenor: tenorMonths}]
	if !ok {
		return decimal.Decimal{}, ErrNoCurvePoint
	}
	return p.PriceUSD, nil
}

func (t *memoryValuationTx) MonthlyValuationExists(_ context.Context, ym period.Month) (bool, error) {
	for _, v := range t.store.monthly {
		if v.YearMonth == ym {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryValuationTx) DailyValuationExists(_ context.Context, date time.Time) (bool, error) {
	for _, v := range t.store.daily {
		if sameDate(v.ValuationDate, date) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryValuationTx) LatestMonthlyNetPnl(_ context.Context, ym period.Month) (decimal.Decimal, bool, error) {
	var latest *model.MonthlyValuation
	for i := range t.store.monthly {
		v := &t.store.monthly[i]
		if v.YearMonth != ym {
			continue
		}
		if latest == nil || v.ValuationDate.After(latest.ValuationDate) {
			latest = v
		}
	}
	if latest == nil {
		return decimal.Decimal{}, false, nil
	}
	return latest.NetPnl, true, nil
}

func (t *memoryValuationTx) InsertMonthlyValuation(ctx context.Context, v *model.MonthlyValuation) error {
	exists, _ := t.MonthlyValuationExists(ctx, v.YearMonth)
	if exists {
		return ErrDuplicateValuation
	}
	record := *v
	t.pending = append(t.pending, func(s *MemoryStore) {
		s.monthly = append(s.monthly, record)
	})
	return nil
}

func (t *memoryValuationTx) InsertDailyValuation(ctx context.Context, v *model.DailyValuation) error {
	exists, _ := t.DailyValuationExists(ctx, v.ValuationDate)
	if exists {
		return ErrDuplicateValuation
	}
	record := *v
	t.pending = append(t.pending, func(s *MemoryStore) {
		s.daily = append(s.daily, record)
	})
	return nil
}

func (t *memoryValuationTx) Commit(_ context.Context) error {
	t.done.Do(func() {
		for _, apply := range t.pending {
			apply(t.store)
		}
		t.pending = nil
		t.store.mu.Unlock()
	})
	return nil
}

func (t *memoryValuationTx) Rollback(_ context.Context) error {
	t.done.Do(func() {
		t.pending = nil
		t.store.mu.Unlock()
	})
	return nil
}
