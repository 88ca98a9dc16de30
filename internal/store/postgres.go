package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tindesk/pnl-engine/internal/model"
	"github.com/tindesk/pnl-engine/internal/period"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Contract-month tokens are parsed once at scan time; the rest of the
// engine only ever sees the typed period.Month.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, trade_date, contract_month, direction, quantity_mt, price_usd, counterparty, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		t.ID, t.TradeDate, t.ContractMonth.Token(), t.Direction,
		t.QuantityMT.String(), t.PriceUSD.String(),
		t.Counterparty, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	sql := `SELECT id, trade_date, contract_month, direction,
	               quantity_mt::TEXT, price_usd::TEXT, COALESCE(counterparty, ''), created_at
	        FROM trades WHERE 1=1`
	var args []any

	if f.From != nil {
		args = append(args, *f.From)
		sql += fmt.Sprintf(" AND trade_date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		sql += fmt.Sprintf(" AND trade_date <= $%d", len(args))
	}
	if f.Direction != "" {
		args = append(args, f.Direction)
		sql += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	if f.ContractMonth != nil {
		args = append(args, f.ContractMonth.Token())
		sql += fmt.Sprintf(" AND contract_month = $%d", len(args))
	}
	sql += " ORDER BY trade_date DESC, created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// --- Deliveries ---

func (s *PostgresStore) InsertDelivery(ctx context.Context, d *model.Delivery) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deliveries (id, linked_trade_id, period_date, quantity_mt, booking_usd, status, notes, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		d.ID, d.LinkedTradeID, d.PeriodDate,
		d.QuantityMT.String(), d.BookingUSD.String(),
		d.Status, d.Notes, d.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]model.Delivery, error) {
	sql := `SELECT id, linked_trade_id, period_date,
	               quantity_mt::TEXT, booking_usd::TEXT, status, COALESCE(notes, ''), created_at
	        FROM deliveries WHERE 1=1`
	var args []any

	if f.From != nil {
		args = append(args, *f.From)
		sql += fmt.Sprintf(" AND period_date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		sql += fmt.Sprintf(" AND period_date <= $%d", len(args))
	}
	sql += " ORDER BY period_date DESC, created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []model.Delivery
	for rows.Next() {
		var d model.Delivery
		var qtyS, bookingS string
		if err := rows.Scan(&d.ID, &d.LinkedTradeID, &d.PeriodDate,
			&qtyS, &bookingS, &d.Status, &d.Notes, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.QuantityMT, _ = decimal.NewFromString(qtyS)
		d.BookingUSD, _ = decimal.NewFromString(bookingS)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// --- Futures curve ---

func (s *PostgresStore) UpsertCurvePoint(ctx context.Context, p *model.CurvePoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO futures_curve (as_of_date, tenor_months, price_usd, source, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)
		 ON CONFLICT (as_of_date, tenor_months)
		 DO UPDATE SET price_usd = EXCLUDED.price_usd, source = EXCLUDED.source, created_at = EXCLUDED.created_at`,
		p.AsOfDate, p.TenorMonths, p.PriceUSD.String(), p.Source, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) CurveByDate(ctx context.Context, asOf time.Time) ([]model.CurvePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT as_of_date, tenor_months, price_usd::TEXT, COALESCE(source, ''), created_at
		 FROM futures_curve WHERE as_of_date = $1 ORDER BY tenor_months`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.CurvePoint
	for rows.Next() {
		var p model.CurvePoint
		var priceS string
		if err := rows.Scan(&p.AsOfDate, &p.TenorMonths, &priceS, &p.Source, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PriceUSD, _ = decimal.NewFromString(priceS)
		points = append(points, p)
	}
	return points, rows.Err()
}

// --- Valuation history ---

func (s *PostgresStore) ListMonthlyValuations(ctx context.Context, yearMonth *period.Month) ([]model.MonthlyValuation, error) {
	sql := `SELECT valuation_date, year_month,
	               unrealized_pnl::TEXT, reversal_pnl::TEXT, net_pnl::TEXT, position_count, created_at
	        FROM monthly_pnl`
	var args []any
	if yearMonth != nil {
		args = append(args, yearMonth.String())
		sql += " WHERE year_month = $1"
	}
	sql += " ORDER BY year_month DESC, valuation_date DESC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.MonthlyValuation
	for rows.Next() {
		var v model.MonthlyValuation
		var ymS, unrealS, reversalS, netS string
		if err := rows.Scan(&v.ValuationDate, &ymS,
			&unrealS, &reversalS, &netS, &v.PositionCount, &v.CreatedAt); err != nil {
			return nil, err
		}
		ym, err := period.ParseYearMonth(ymS)
		if err != nil {
			return nil, err
		}
		v.YearMonth = ym
		v.UnrealizedPnl, _ = decimal.NewFromString(unrealS)
		v.ReversalPnl, _ = decimal.NewFromString(reversalS)
		v.NetPnl, _ = decimal.NewFromString(netS)
		records = append(records, v)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ListDailyValuations(ctx context.Context, from, to *time.Time) ([]model.DailyValuation, error) {
	sql := `SELECT valuation_date,
	               realized_pnl::TEXT, unrealized_pnl::TEXT, total_pnl::TEXT, position_count, created_at
	        FROM daily_pnl WHERE 1=1`
	var args []any
	if from != nil {
		args = append(args, *from)
		sql += fmt.Sprintf(" AND valuation_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		sql += fmt.Sprintf(" AND valuation_date <= $%d", len(args))
	}
	sql += " ORDER BY valuation_date DESC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.DailyValuation
	for rows.Next() {
		var v model.DailyValuation
		var realS, unrealS, totalS string
		if err := rows.Scan(&v.ValuationDate,
			&realS, &unrealS, &totalS, &v.PositionCount, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.RealizedPnl, _ = decimal.NewFromString(realS)
		v.UnrealizedPnl, _ = decimal.NewFromString(unrealS)
		v.TotalPnl, _ = decimal.NewFromString(totalS)
		records = append(records, v)
	}
	return records, rows.Err()
}

// --- Valuation runs ---

// BeginValuation opens a REPEATABLE READ transaction so one run's trade and
// curve reads observe a single snapshot, and the record insert commits
// atomically with it.
func (s *PostgresStore) BeginValuation(ctx context.Context) (ValuationTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin valuation tx: %w", err)
	}
	return &postgresValuationTx{tx: tx}, nil
}

type postgresValuationTx struct {
	tx pgx.Tx
}

func (t *postgresValuationTx) TradesThrough(ctx context.Context, through time.Time) ([]model.Trade, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, trade_date, contract_month, direction,
		        quantity_mt::TEXT, price_usd::TEXT, COALESCE(counterparty, ''), created_at
		 FROM trades WHERE trade_date <= $1 ORDER BY trade_date, created_at`, through)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (t *postgresValuationTx) CurvePrice(ctx context.Context, asOf time.Time, tenorMonths int) (decimal.Decimal, error) {
	var priceS string
	err := t.tx.QueryRow(ctx,
		`SELECT price_usd::TEXT FROM futures_curve
		 WHERE as_of_date = $1 AND tenor_months = $2`, asOf, tenorMonths).
		Scan(&priceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, ErrNoCurvePoint
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	price, err := decimal.NewFromString(priceS)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse curve price %q: %w", priceS, err)
	}
	return price, nil
}

func (t *postgresValuationTx) MonthlyValuationExists(ctx context.Context, ym period.Month) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM monthly_pnl WHERE year_month = $1)`, ym.String()).
		Scan(&exists)
	return exists, err
}

func (t *postgresValuationTx) DailyValuationExists(ctx context.Context, date time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM daily_pnl WHERE valuation_date = $1)`, date).
		Scan(&exists)
	return exists, err
}

func (t *postgresValuationTx) LatestMonthlyNetPnl(ctx context.Context, ym period.Month) (decimal.Decimal, bool, error) {
	var netS string
	err := t.tx.QueryRow(ctx,
		`SELECT net_pnl::TEXT FROM monthly_pnl
		 WHERE year_month = $1 ORDER BY valuation_date DESC LIMIT 1`, ym.String()).
		Scan(&netS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	net, err := decimal.NewFromString(netS)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse net pnl %q: %w", netS, err)
	}
	return net, true, nil
}

func (t *postgresValuationTx) InsertMonthlyValuation(ctx context.Context, v *model.MonthlyValuation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO monthly_pnl (valuation_date, year_month, unrealized_pnl, reversal_pnl, net_pnl, position_count, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		v.ValuationDate, v.YearMonth.String(),
		v.UnrealizedPnl.String(), v.ReversalPnl.String(), v.NetPnl.String(),
		v.PositionCount, v.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateValuation
	}
	return err
}

func (t *postgresValuationTx) InsertDailyValuation(ctx context.Context, v *model.DailyValuation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO daily_pnl (valuation_date, realized_pnl, unrealized_pnl, total_pnl, position_count, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		v.ValuationDate,
		v.RealizedPnl.String(), v.UnrealizedPnl.String(), v.TotalPnl.String(),
		v.PositionCount, v.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateValuation
	}
	return err
}

func (t *postgresValuationTx) Commit(ctx context.Context) error {
	err := t.tx.Commit(ctx)
	// A deferred unique check can also surface at commit.
	if isUniqueViolation(err) {
		return ErrDuplicateValuation
	}
	return err
}

func (t *postgresValuationTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// scanTrades reads pgx rows into Trade slices, parsing the stored
// contract-month token into its typed form. A malformed token in the table
// is a data fault and fails the read.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var tr model.Trade
		var monthS, qtyS, priceS string

		if err := rows.Scan(&tr.ID, &tr.TradeDate, &monthS, &tr.Direction,
			&qtyS, &priceS, &tr.Counterparty, &tr.CreatedAt); err != nil {
			return nil, err
		}

		month, err := period.ParseContractMonth(monthS)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", tr.ID, err)
		}
		tr.ContractMonth = month
		tr.QuantityMT, _ = decimal.NewFromString(qtyS)
		tr.PriceUSD, _ = decimal.NewFromString(priceS)

		trades = append(trades, tr)
	}
	return trades, rows.Err()
}
