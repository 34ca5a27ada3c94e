package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// ErrNoDatabase is returned by relational operations when no Postgres pool is configured.
var ErrNoDatabase = errors.New("postgres unavailable")

//go:embed schema.sql
var schemaSQL string

// Store is the persistence contract of the index engine: the observation source it reads,
// the published series it writes and the run audit trail.
type Store interface {
	GetUniverse(ctx context.Context, asOf time.Time) ([]model.Item, error)
	GetObservations(ctx context.Context, itemIDs []string, from, to time.Time) (map[string][]model.DailyObservation, error)
	GetFXRates(ctx context.Context, from, to time.Time) ([]model.FXRate, error)

	PublishConstituents(ctx context.Context, set model.ConstituentSet) error
	AppendIndexValue(ctx context.Context, value model.IndexValue) error
	RecordSkip(ctx context.Context, skip model.Skip) error

	LatestValue(ctx context.Context, indexCode string) (*model.IndexValue, error)
	ValueOnOrBefore(ctx context.Context, indexCode string, date time.Time) (*model.IndexValue, error)
	Values(ctx context.Context, indexCode string, from, to time.Time) ([]model.IndexValue, error)
	ActiveConstituents(ctx context.Context, indexCode string, date time.Time) (*model.ConstituentSet, error)
	LatestObservationDate(ctx context.Context) (time.Time, error)

	StartRun(ctx context.Context, run *model.RunLog) error
	FinishRun(ctx context.Context, run *model.RunLog) error
	RecentRuns(ctx context.Context, indexCode string, limit int) ([]model.RunLog, error)

	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore keeps the published series in Postgres and snapshots hot reads in Redis.
type HybridStore struct {
	redis       *redis.Client
	PG          *pgxpool.Pool
	logger      *zap.Logger
	snapshotTTL time.Duration
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-cached, Postgres-backed store.
func NewHybrid(redisAddr string, redisDB int, redisPass string, pgURL string, pgPoolConfig PGPoolConfig, snapshotTTL time.Duration, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger, snapshotTTL: snapshotTTL}, nil
}

// Migrate creates the index schema when missing. Observation tables belong to the ingestion
// process and are only created here for local development.
func (s *HybridStore) Migrate(ctx context.Context) error {
	if s.PG == nil {
		return ErrNoDatabase
	}
	if _, err := s.PG.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("store.pg.schema_applied")
	return nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// cached reads key into dest. A miss or a broken entry reports false; the caller reloads.
func (s *HybridStore) cached(ctx context.Context, key string, dest any) bool {
	if s.redis == nil {
		return false
	}
	err := s.GetJSON(ctx, key, dest)
	switch {
	case err == nil:
		return true
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("store.cache.read_failed", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (s *HybridStore) cache(ctx context.Context, key string, value any) {
	if s.redis == nil {
		return
	}
	if err := s.SetJSON(ctx, key, value, s.snapshotTTL); err != nil {
		s.logger.Warn("store.cache.write_failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *HybridStore) evict(ctx context.Context, keys ...string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("store.cache.evict_failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// cache keys
func universeKey(asOf time.Time) string {
	return "universe:" + model.Day(asOf).Format(model.DayLayout)
}

func latestValueKey(indexCode string) string {
	return "index:latest:" + indexCode
}

func constituentsKey(indexCode string, period model.Period) string {
	return "index:constituents:" + indexCode + ":" + period.String()
}
