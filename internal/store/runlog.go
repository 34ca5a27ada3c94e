package store

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/pkg/model"
)

// StartRun inserts the opening row of a run.
func (s *HybridStore) StartRun(ctx context.Context, run *model.RunLog) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO idx.run_logs (id, run_type, index_code, as_of, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, run.ID, string(run.RunType), run.IndexCode, run.AsOf, string(run.Status), run.StartedAt)
	if err != nil {
		s.logger.Error("store.pg.start_run_failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	return err
}

// FinishRun closes a run with its final status and counters.
func (s *HybridStore) FinishRun(ctx context.Context, run *model.RunLog) error {
	if s.PG == nil {
		return nil
	}
	details, err := json.Marshal(run.Details)
	if err != nil {
		return err
	}
	_, err = s.PG.Exec(ctx, `
		UPDATE idx.run_logs SET
			status = $2,
			finished_at = $3,
			records_processed = $4,
			records_failed = $5,
			error_message = NULLIF($6, ''),
			details = $7
		WHERE id = $1;
	`, run.ID, string(run.Status), run.FinishedAt, run.Processed, run.Failed, run.Error, details)
	if err != nil {
		s.logger.Error("store.pg.finish_run_failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	return err
}

// RecentRuns lists the latest runs, optionally for one index.
func (s *HybridStore) RecentRuns(ctx context.Context, indexCode string, limit int) ([]model.RunLog, error) {
	if s.PG == nil {
		return nil, ErrNoDatabase
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.PG.Query(ctx, `
		SELECT id, run_type, index_code, as_of, status, started_at, finished_at,
		       records_processed, records_failed, COALESCE(error_message, ''), details
		FROM idx.run_logs
		WHERE ($1 = '' OR index_code = $1)
		ORDER BY started_at DESC
		LIMIT $2;
	`, indexCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunLog
	for rows.Next() {
		var (
			r               model.RunLog
			runType, status string
			finished        *time.Time
			details         []byte
		)
		if err := rows.Scan(&r.ID, &runType, &r.IndexCode, &r.AsOf, &status, &r.StartedAt, &finished,
			&r.Processed, &r.Failed, &r.Error, &details); err != nil {
			return nil, err
		}
		if finished != nil {
			r.FinishedAt = *finished
		}
		r.RunType = model.RunType(runType)
		r.Status = model.RunStatus(status)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &r.Details)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
