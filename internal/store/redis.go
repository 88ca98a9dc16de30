package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the reporting reads (curve and valuation history). Writes go
// to the primary store and invalidate the cache. Valuation runs always
// bypass the cache: a run must compute against the source of truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Passthrough writes (trades and deliveries are not cached) ---

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, f)
}

func (s *CachedStore) InsertDelivery(ctx context.Context, d *model.Delivery) error {
	return s.primary.InsertDelivery(ctx, d)
}

func (s *CachedStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]model.Delivery, error) {
	return s.primary.ListDeliveries(ctx, f)
}

// --- Futures curve (read-through) ---

func (s *CachedStore) UpsertCurvePoint(ctx context.Context, p *model.CurvePoint) error {
	if err := s.primary.UpsertCurvePoint(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, curveDateKey(p.AsOfDate))
	return nil
}

func (s *CachedStore) CurveByDate(ctx context.Context, asOf time.Time) ([]model.CurvePoint, error) {
	key := curveDateKey(asOf)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var points []model.CurvePoint
		if json.Unmarshal(data, &points) == nil {
			return points, nil
		}
	}

	points, err := s.primary.CurveByDate(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(points); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return points, nil
}

// --- Valuation history (read-through) ---

func (s *CachedStore) ListMonthlyValuations(ctx context.Context, yearMonth *period.Month) ([]model.MonthlyValuation, error) {
	key := monthlyKey(yearMonth)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.MonthlyValuation
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	records, err := s.primary.ListMonthlyValuations(ctx, yearMonth)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return records, nil
}

func (s *CachedStore) ListDailyValuations(ctx context.Context, from, to *time.Time) ([]model.DailyValuation, error) {
	// Range queries are not cached; history pages vary too much per caller.
	return s.primary.ListDailyValuations(ctx, from, to)
}

// --- Valuation runs ---

// BeginValuation passes straight through to the primary store. The wrapper
// only hooks Commit to drop stale valuation-history entries.
func (s *CachedStore) BeginValuation(ctx context.Context) (ValuationTx, error) {
	tx, err := s.primary.BeginValuation(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedValuationTx{ValuationTx: tx, rdb: s.rdb}, nil
}

type cachedValuationTx struct {
	ValuationTx
	rdb *redis.Client
}

func (t *cachedValuationTx) Commit(ctx context.Context) error {
	if err := t.ValuationTx.Commit(ctx); err != nil {
		return err
	}
	// A committed run changed the history lists.
	iter := t.rdb.Scan(ctx, 0, "pnl:monthly:*", 0).Iterator()
	for iter.Next(ctx) {
		t.rdb.Del(ctx, iter.Val())
	}
	return nil
}

// --- Cache keys ---

func curveDateKey(asOf time.Time) string {
	return fmt.Sprintf("pnl:curve:%s", asOf.UTC().Format("2006-01-02"))
}

func monthlyKey(ym *period.Month) string {
	if ym == nil {
		return "pnl:monthly:all"
	}
	return fmt.Sprintf("pnl:monthly:%s", ym)
}
