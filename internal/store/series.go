package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/pkg/model"
)

const valueColumns = `index_code, value_date, value::float8, change_1d::float8, change_1w::float8, change_1m::float8,
	n_constituents, total_market_cap::float8, ratio::float8, coverage::float8, method`

// PublishConstituents replaces the period's constituents in one transaction.
// Either every row is visible or the previously published set remains.
func (s *HybridStore) PublishConstituents(ctx context.Context, set model.ConstituentSet) error {
	if s.PG == nil {
		return ErrNoDatabase
	}
	if len(set.Constituents) == 0 {
		return fmt.Errorf("publish %s %s: %w", set.IndexCode, set.Period, model.ErrNoConstituents)
	}

	tx, err := s.PG.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM idx.constituents WHERE index_code = $1 AND period = $2;
	`, set.IndexCode, set.Period.Start); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}

	rows := make([][]any, 0, len(set.Constituents))
	for _, c := range set.Constituents {
		rows = append(rows, []any{
			set.IndexCode, set.Period.Start, c.ItemID, c.Rank, c.Weight,
			c.RankingScore, c.Price, c.LiquidityScore, c.IsNew, model.Day(set.EffectiveFrom),
		})
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"idx", "constituents"},
		[]string{"index_code", "period", "item_id", "rank", "weight",
			"ranking_score", "price", "liquidity_score", "is_new", "effective_from"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("insert constituents: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("insert constituents: wrote %d of %d rows", n, len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("store.pg.publish_constituents_failed", zap.String("index", set.IndexCode), zap.Error(err))
		return fmt.Errorf("commit publish: %w", err)
	}

	s.evict(ctx, constituentsKey(set.IndexCode, set.Period))
	s.logger.Info("store.pg.constituents_published",
		zap.String("index", set.IndexCode),
		zap.String("period", set.Period.String()),
		zap.Int("count", len(rows)))
	return nil
}

// AppendIndexValue inserts one value. An existing (index, date) row is never overwritten.
func (s *HybridStore) AppendIndexValue(ctx context.Context, v model.IndexValue) error {
	if s.PG == nil {
		return ErrNoDatabase
	}
	tag, err := s.PG.Exec(ctx, `
		INSERT INTO idx.values (
			index_code, value_date, value, change_1d, change_1w, change_1m,
			n_constituents, total_market_cap, ratio, coverage, method
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (index_code, value_date) DO NOTHING;
	`, v.IndexCode, model.Day(v.Date), v.Value, v.Changes.Day, v.Changes.Week, v.Changes.Month,
		v.NConstituents, v.TotalMarketCap, v.Ratio, v.Coverage, v.Method)
	if err != nil {
		s.logger.Error("store.pg.append_value_failed", zap.String("index", v.IndexCode), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s on %s: %w", v.IndexCode, v.Date.Format(model.DayLayout), model.ErrValueExists)
	}

	s.evict(ctx, latestValueKey(v.IndexCode))
	return nil
}

// RecordSkip stores a day that produced no value.
func (s *HybridStore) RecordSkip(ctx context.Context, skip model.Skip) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO idx.skips (index_code, skip_date, reason, coverage)
		VALUES ($1, $2, $3, $4);
	`, skip.IndexCode, model.Day(skip.Date), skip.Reason, skip.Coverage)
	if err != nil {
		s.logger.Error("store.pg.insert_skip_failed", zap.Error(err))
	}
	return err
}

// LatestValue returns the newest published value, or nil when the series is empty.
func (s *HybridStore) LatestValue(ctx context.Context, indexCode string) (*model.IndexValue, error) {
	key := latestValueKey(indexCode)
	var v model.IndexValue
	if s.cached(ctx, key, &v) {
		return &v, nil
	}
	if s.PG == nil {
		return nil, ErrNoDatabase
	}

	row := s.PG.QueryRow(ctx, `SELECT `+valueColumns+`
		FROM idx.values WHERE index_code = $1
		ORDER BY value_date DESC LIMIT 1;`, indexCode)
	got, err := scanValue(row)
	if err != nil || got == nil {
		return got, err
	}
	s.cache(ctx, key, got)
	return got, nil
}

// ValueOnOrBefore returns the latest published value dated on or before date, or nil.
func (s *HybridStore) ValueOnOrBefore(ctx context.Context, indexCode string, date time.Time) (*model.IndexValue, error) {
	if s.PG == nil {
		return nil, ErrNoDatabase
	}
	row := s.PG.QueryRow(ctx, `SELECT `+valueColumns+`
		FROM idx.values WHERE index_code = $1 AND value_date <= $2
		ORDER BY value_date DESC LIMIT 1;`, indexCode, model.Day(date))
	return scanValue(row)
}

// Values returns the published series between from and to inclusive, oldest first.
func (s *HybridStore) Values(ctx context.Context, indexCode string, from, to time.Time) ([]model.IndexValue, error) {
	if s.PG == nil {
		return nil, ErrNoDatabase
	}
	rows, err := s.PG.Query(ctx, `SELECT `+valueColumns+`
		FROM idx.values WHERE index_code = $1 AND value_date BETWEEN $2 AND $3
		ORDER BY value_date;`, indexCode, model.Day(from), model.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IndexValue
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func scanValue(row pgx.Row) (*model.IndexValue, error) {
	var v model.IndexValue
	err := row.Scan(&v.IndexCode, &v.Date, &v.Value, &v.Changes.Day, &v.Changes.Week, &v.Changes.Month,
		&v.NConstituents, &v.TotalMarketCap, &v.Ratio, &v.Coverage, &v.Method)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan index value: %w", err)
	}
	v.Date = model.Day(v.Date)
	return &v, nil
}

// ActiveConstituents returns the set in force on date: the latest published period whose
// weights are effective on or before date. Sets are never mixed across periods.
func (s *HybridStore) ActiveConstituents(ctx context.Context, indexCode string, date time.Time) (*model.ConstituentSet, error) {
	if s.PG == nil {
		return nil, ErrNoDatabase
	}
	var period *time.Time
	err := s.PG.QueryRow(ctx, `
		SELECT MAX(period) FROM idx.constituents
		WHERE index_code = $1 AND effective_from <= $2;
	`, indexCode, model.Day(date)).Scan(&period)
	if err != nil {
		return nil, fmt.Errorf("active period: %w", err)
	}
	if period == nil {
		return nil, fmt.Errorf("%s on %s: %w", indexCode, model.Day(date).Format(model.DayLayout), model.ErrNoConstituents)
	}
	p := model.PeriodOf(*period)

	key := constituentsKey(indexCode, p)
	var set model.ConstituentSet
	if s.cached(ctx, key, &set) {
		return &set, nil
	}

	rows, err := s.PG.Query(ctx, `
		SELECT item_id, rank, weight::float8, ranking_score::float8, price::float8,
		       liquidity_score::float8, is_new, effective_from
		FROM idx.constituents
		WHERE index_code = $1 AND period = $2
		ORDER BY rank;
	`, indexCode, p.Start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set = model.ConstituentSet{IndexCode: indexCode, Period: p}
	for rows.Next() {
		c := model.Constituent{IndexCode: indexCode, Period: p}
		if err := rows.Scan(&c.ItemID, &c.Rank, &c.Weight, &c.RankingScore, &c.Price,
			&c.LiquidityScore, &c.IsNew, &set.EffectiveFrom); err != nil {
			return nil, err
		}
		set.Constituents = append(set.Constituents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	set.EffectiveFrom = model.Day(set.EffectiveFrom)

	s.cache(ctx, key, set)
	return &set, nil
}
