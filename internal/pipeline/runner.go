package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// RunRecorder persists run summaries; the repository package implements it.
type RunRecorder interface {
	SaveRun(ctx context.Context, run entity.RunSummary) error
}

type Runner struct {
	processor *Processor
	store     storage.Store
	container string
	threshold float64
	workers   int
	history   RunRecorder
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunner(p *Processor, store storage.Store, workers int, history RunRecorder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		processor: p,
		store:     store,
		container: p.cfg.InputContainer,
		threshold: p.cfg.Threshold,
		workers:   workers,
		history:   history,
		logger:    logger,
		now:       time.Now,
	}
}

// Run processes every supported document under prefix in the input
// container. Individual document failures land in the summary; the returned
// error is reserved for failures that prevent the run from starting.
func (r *Runner) Run(ctx context.Context, prefix string) (entity.RunSummary, error) {
	sum := entity.RunSummary{
		RunID:     uuid.NewString(),
		Prefix:    prefix,
		Threshold: r.threshold,
		StartedAt: r.now().UTC(),
	}
	ctx = common.WithRunID(ctx, sum.RunID)
	log := r.logger.With("run_id", sum.RunID, "prefix", prefix)

	objs, err := r.store.List(ctx, r.container, prefix)
	if err != nil {
		if errors.Is(err, storage.ErrContainerNotFound) {
			return sum, common.NewAppError(common.CodeConfig, "input container "+r.container+" does not exist", err)
		}
		return sum, err
	}
	sources := supported(objs)
	log.Info("pipeline.run.start", "documents", len(sources), "skipped", len(objs)-len(sources), "workers", r.workers)

	results := make([]entity.DocumentResult, len(sources))
	started := make([]bool, len(sources))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, src := range sources {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// g.Go may have blocked on a free worker past cancellation
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			results[i] = r.processor.ProcessDocument(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		sum.Cancelled = true
	}

	processed := make([]entity.DocumentResult, 0, len(results))
	for i, ok := range started {
		if ok {
			processed = append(processed, results[i])
		}
	}
	if skipped := len(sources) - len(processed); skipped > 0 && sum.Cancelled {
		log.Warn("pipeline.run.cancelled", "unprocessed", skipped)
	}
	sum.Summarize(processed)
	sum.FinishedAt = r.now().UTC()

	log.Info("pipeline.run.done",
		"documents", sum.Documents,
		"pages", sum.Pages,
		"errored_pages", sum.ErroredPages,
		"high", sum.Tiers[constants.TierHigh],
		"low", sum.Tiers[constants.TierLow],
		"empty", sum.Empty,
		"failed", sum.Failed,
		"input_tokens", sum.Usage.InputTokens,
		"output_tokens", sum.Usage.OutputTokens,
		"cancelled", sum.Cancelled,
	)

	if r.history != nil {
		if err := r.history.SaveRun(context.WithoutCancel(ctx), sum); err != nil {
			log.Warn("pipeline.run.history_failed", "error", err)
		}
	}
	return sum, nil
}

// supported filters a listing to document types and orders it by key.
func supported(objs []entity.ObjectInfo) []entity.ObjectInfo {
	out := make([]entity.ObjectInfo, 0, len(objs))
	for _, o := range objs {
		ext := constants.NormalizeExt(path.Ext(o.Key))
		if _, ok := constants.AllowedExtensions[ext]; ok {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b entity.ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return out
}
