package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

type RunRepository interface {
	SaveRun(ctx context.Context, run entity.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]entity.RunSummary, error)
	GetRun(ctx context.Context, runID string) (entity.RunSummary, error)
}

type runRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewRunRepository(db *DB, logger *slog.Logger) RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &runRepo{db: db, logger: logger}
}

const runColumns = `run_id, prefix, threshold, started_at, finished_at, documents, pages,
	errored_pages, empty, failed, input_tokens, output_tokens, cancelled, tiers, results`

func (r *runRepo) SaveRun(ctx context.Context, run entity.RunSummary) error {
	tiers, err := json.Marshal(run.Tiers)
	if err != nil {
		return common.StorageError(err, "encode run tiers")
	}
	results, err := json.Marshal(run.Results)
	if err != nil {
		return common.StorageError(err, "encode run results")
	}
	q := r.db.rebind(`INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.SQL.ExecContext(ctx, q,
		run.RunID, run.Prefix, run.Threshold,
		run.StartedAt.UTC().UnixMilli(), run.FinishedAt.UTC().UnixMilli(),
		run.Documents, run.Pages, run.ErroredPages, run.Empty, run.Failed,
		run.Usage.InputTokens, run.Usage.OutputTokens, run.Cancelled,
		string(tiers), string(results),
	)
	if err != nil {
		r.logger.Error("history.run.save_failed", "run_id", run.RunID, "error", err)
		return common.StorageError(err, "save run")
	}
	r.logger.Debug("history.run.saved", "run_id", run.RunID, "documents", run.Documents)
	return nil
}

// ListRuns returns the most recent runs first. Per-document results are
// omitted; use GetRun for those.
func (r *runRepo) ListRuns(ctx context.Context, limit int) ([]entity.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	q := r.db.rebind(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`)
	rows, err := r.db.SQL.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, common.StorageError(err, "list runs")
	}
	defer func() { _ = rows.Close() }()

	var out []entity.RunSummary
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, common.StorageError(err, "list runs")
	}
	return out, nil
}

func (r *runRepo) GetRun(ctx context.Context, runID string) (entity.RunSummary, error) {
	q := r.db.rebind(`SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`)
	rows, err := r.db.SQL.QueryContext(ctx, q, runID)
	if err != nil {
		return entity.RunSummary{}, common.StorageError(err, "get run")
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return entity.RunSummary{}, common.StorageError(err, "get run")
		}
		return entity.RunSummary{}, common.NotFoundf("run %q", runID)
	}
	return scanRun(rows, true)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner, withResults bool) (entity.RunSummary, error) {
	var (
		run                entity.RunSummary
		started, finished  int64
		tiersJSON, resJSON string
	)
	err := s.Scan(&run.RunID, &run.Prefix, &run.Threshold, &started, &finished,
		&run.Documents, &run.Pages, &run.ErroredPages, &run.Empty, &run.Failed,
		&run.Usage.InputTokens, &run.Usage.OutputTokens, &run.Cancelled,
		&tiersJSON, &resJSON)
	if err != nil {
		return run, common.StorageError(err, "scan run")
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	run.FinishedAt = time.UnixMilli(finished).UTC()
	run.Tiers = map[constants.Tier]int{}
	if err := json.Unmarshal([]byte(tiersJSON), &run.Tiers); err != nil {
		return run, common.StorageError(err, "decode run tiers")
	}
	if withResults {
		if err := json.Unmarshal([]byte(resJSON), &run.Results); err != nil {
			return run, common.StorageError(err, "decode run results")
		}
	}
	return run, nil
}
