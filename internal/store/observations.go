package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/metrics"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// GetUniverse returns every item known on asOf, active or not, ordered by id.
// Snapshots are cached per day; items created later never appear in an earlier snapshot.
func (s *HybridStore) GetUniverse(ctx context.Context, asOf time.Time) ([]model.Item, error) {
	key := universeKey(asOf)
	var items []model.Item
	if s.cached(ctx, key, &items) {
		metrics.IncCacheHit("universe", "hit")
		return items, nil
	}
	metrics.IncCacheHit("universe", "miss")

	if s.PG == nil {
		return nil, &model.DataFetchError{Op: "get_universe", Err: ErrNoDatabase}
	}
	rows, err := s.PG.Query(ctx, `
		SELECT item_id, kind, name, tier, release_date, eligible
		FROM market.items
		WHERE created_at::date <= $1
		ORDER BY item_id;
	`, model.Day(asOf))
	if err != nil {
		return nil, &model.DataFetchError{Op: "get_universe", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it      model.Item
			kind    string
			release *time.Time
		)
		if err := rows.Scan(&it.ID, &kind, &it.Name, &it.Tier, &release, &it.Eligible); err != nil {
			return nil, &model.DataFetchError{Op: "get_universe", Err: err}
		}
		it.Kind = model.ItemKind(kind)
		if release != nil {
			it.ReleaseDate = model.Day(*release)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.DataFetchError{Op: "get_universe", Err: err}
	}

	s.cache(ctx, key, items)
	return items, nil
}

// GetObservations returns every ingested row (corrections included) for the items between
// from and to inclusive, grouped by item and ordered by date then ingestion time.
func (s *HybridStore) GetObservations(ctx context.Context, itemIDs []string, from, to time.Time) (map[string][]model.DailyObservation, error) {
	out := make(map[string][]model.DailyObservation, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	if s.PG == nil {
		return nil, &model.DataFetchError{Op: "get_observations", Err: ErrNoDatabase}
	}

	rows, err := s.PG.Query(ctx, `
		SELECT item_id, obs_date, prices, volumes, listings, source_ts, ingested_at
		FROM market.observations
		WHERE item_id = ANY($1) AND obs_date BETWEEN $2 AND $3
		ORDER BY item_id, obs_date, ingested_at;
	`, itemIDs, model.Day(from), model.Day(to))
	if err != nil {
		return nil, &model.DataFetchError{Op: "get_observations", Err: err}
	}
	defer rows.Close()

	var skipped int
	for rows.Next() {
		var (
			o                         model.DailyObservation
			prices, volumes, listings []byte
		)
		if err := rows.Scan(&o.ItemID, &o.Date, &prices, &volumes, &listings, &o.SourceTS, &o.IngestedAt); err != nil {
			return nil, &model.DataFetchError{Op: "get_observations", Err: err}
		}
		if err := decodeFields(&o, prices, volumes, listings); err != nil {
			// a malformed row is treated as absent for that day
			skipped++
			s.logger.Warn("store.observation_decode_failed",
				zap.String("item_id", o.ItemID),
				zap.Time("date", o.Date),
				zap.Error(err))
			continue
		}
		o.Date = model.Day(o.Date)
		out[o.ItemID] = append(out[o.ItemID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.DataFetchError{Op: "get_observations", Err: err}
	}
	if skipped > 0 {
		metrics.IncError("store", "observation_decode")
	}
	return out, nil
}

func decodeFields(o *model.DailyObservation, prices, volumes, listings []byte) error {
	if len(prices) > 0 {
		if err := json.Unmarshal(prices, &o.Prices); err != nil {
			return fmt.Errorf("prices: %w", err)
		}
	}
	if len(volumes) > 0 {
		if err := json.Unmarshal(volumes, &o.Volumes); err != nil {
			return fmt.Errorf("volumes: %w", err)
		}
		if len(o.Volumes) == 0 {
			o.Volumes = nil
		}
	}
	if len(listings) > 0 {
		if err := json.Unmarshal(listings, &o.Listings); err != nil {
			return fmt.Errorf("listings: %w", err)
		}
	}
	return nil
}

// GetFXRates returns the EUR→USD table between from and to inclusive.
func (s *HybridStore) GetFXRates(ctx context.Context, from, to time.Time) ([]model.FXRate, error) {
	if s.PG == nil {
		return nil, &model.DataFetchError{Op: "get_fx_rates", Err: ErrNoDatabase}
	}
	rows, err := s.PG.Query(ctx, `
		SELECT rate_date, eur_usd::float8
		FROM market.fx_rates
		WHERE rate_date BETWEEN $1 AND $2
		ORDER BY rate_date;
	`, model.Day(from), model.Day(to))
	if err != nil {
		return nil, &model.DataFetchError{Op: "get_fx_rates", Err: err}
	}
	defer rows.Close()

	var rates []model.FXRate
	for rows.Next() {
		var r model.FXRate
		if err := rows.Scan(&r.Date, &r.EURUSD); err != nil {
			return nil, &model.DataFetchError{Op: "get_fx_rates", Err: err}
		}
		r.Date = model.Day(r.Date)
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.DataFetchError{Op: "get_fx_rates", Err: err}
	}
	return rates, nil
}

// LatestObservationDate is the newest observation day, used by the data health check.
func (s *HybridStore) LatestObservationDate(ctx context.Context) (time.Time, error) {
	if s.PG == nil {
		return time.Time{}, ErrNoDatabase
	}
	var latest *time.Time
	if err := s.PG.QueryRow(ctx, `SELECT MAX(obs_date) FROM market.observations;`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("latest observation date: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return model.Day(*latest), nil
}
