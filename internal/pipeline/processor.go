// Package pipeline runs documents through rasterization, extraction, tiering
// and routing.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/artifact"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/confidence"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/raster"
	"github.com/joseph-ayodele/docextract/internal/router"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// PageExtractor is the per-page model call; *llm.Extractor satisfies it.
type PageExtractor interface {
	Extract(ctx context.Context, ref llm.PageRef, image entity.Image, prompt llm.Prompt) entity.ExtractionRecord
}

// Observer receives per-document outcomes; the metrics package implements it.
type Observer interface {
	ObserveDocument(res entity.DocumentResult)
}

type Config struct {
	InputContainer  string
	OutputContainer string
	Threshold       float64

	// CategoryGate drops pages whose category is not in Extractable.
	CategoryGate bool
	Extractable  []string
}

type Processor struct {
	cfg       Config
	store     storage.Store
	router    *router.Router
	raster    raster.Rasterizer
	prompts   *llm.PromptBuilder
	extractor PageExtractor
	limiter   *Limiter
	observer  Observer
	logger    *slog.Logger
}

type Option func(*Processor)

func WithObserver(o Observer) Option { return func(p *Processor) { p.observer = o } }

func NewProcessor(cfg Config, store storage.Store, rt *router.Router, rs raster.Rasterizer,
	prompts *llm.PromptBuilder, extractor PageExtractor, limiter *Limiter, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewLimiter(1, 0)
	}
	p := &Processor{
		cfg:       cfg,
		store:     store,
		router:    rt,
		raster:    rs,
		prompts:   prompts,
		extractor: extractor,
		limiter:   limiter,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessDocument handles one source object end to end. Failures are
// reported on the result; only cancellation before extraction finishes
// leaves no artifact behind.
func (p *Processor) ProcessDocument(ctx context.Context, src entity.ObjectInfo) entity.DocumentResult {
	start := time.Now()
	id := entity.ParseDocumentID(src.Key)
	res := entity.DocumentResult{Key: src.Key, ID: id}
	log := p.logger.With("document", id.String(), "key", src.Key)
	if runID := common.RunIDFromContext(ctx); runID != "" {
		log = log.With("run_id", runID)
	}

	finish := func(err error) entity.DocumentResult {
		res.Duration = time.Since(start)
		if err != nil {
			res.Status = constants.RunStatusFailed
			res.Error = err.Error()
			res.ErrorCode = common.CodeOf(err)
			log.Error("pipeline.document.failed", "error", err, "code", res.ErrorCode)
		} else {
			log.Info("pipeline.document.ok",
				"status", res.Status,
				"tier", res.Tier,
				"pages", res.Pages,
				"errored_pages", res.ErroredPages,
				"elapsed_ms", res.Duration.Milliseconds(),
			)
		}
		if p.observer != nil {
			p.observer.ObserveDocument(res)
		}
		return res
	}

	log.Info("pipeline.document.start")
	data, err := p.store.Get(ctx, p.cfg.InputContainer, src.Key)
	if err != nil {
		return finish(err)
	}

	records, err := p.extractAll(ctx, id, data)
	if err != nil {
		return finish(err)
	}
	res.Pages = len(records)
	for _, r := range records {
		res.Usage = res.Usage.Add(r.Usage)
		if r.State == constants.StateErrored {
			res.ErroredPages++
		}
	}

	kept := p.gate(records)
	res.DroppedPages = len(records) - len(kept)
	if len(kept) == 0 {
		res.Status = constants.RunStatusEmpty
		return finish(nil)
	}

	tier, err := confidence.DocumentTier(kept, p.cfg.Threshold)
	if err != nil {
		return finish(err)
	}
	for i := range kept {
		kept[i].Tier = tier
	}
	res.Tier = tier

	paths, err := p.write(ctx, id, data, tier, kept)
	if err != nil {
		return finish(err)
	}
	res.SourceKey, res.ResultKey = paths.Source, paths.Result
	res.Status = constants.RunStatusOK
	return finish(nil)
}

// extractAll rasterizes the source and extracts every page under the shared
// limiter. Records come back in page order.
func (p *Processor) extractAll(ctx context.Context, id entity.DocumentID, data []byte) ([]entity.ExtractionRecord, error) {
	pages, err := p.raster.Rasterize(ctx, id.String(), data)
	if err != nil {
		return nil, err
	}
	records := make([]entity.ExtractionRecord, len(pages))
	var g errgroup.Group
	for i, img := range pages {
		g.Go(func() error {
			if err := p.limiter.Acquire(ctx); err != nil {
				return err
			}
			defer p.limiter.Release()
			prompt := p.prompts.Build(llm.PromptOptions{DocumentName: id.String(), Page: i, PageCount: len(pages)})
			records[i] = p.extractor.Extract(ctx, llm.PageRef{DocumentID: id, PageIndex: i}, img, prompt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, common.WrapError(err, "extraction cancelled")
	}
	return records, nil
}

// ExtractPages re-runs extraction for the given page indexes of a source
// document; the returned map is keyed by page index.
func (p *Processor) ExtractPages(ctx context.Context, id entity.DocumentID, data []byte, pages []int) (map[int]entity.ExtractionRecord, error) {
	images, err := p.raster.Rasterize(ctx, id.String(), data)
	if err != nil {
		return nil, err
	}
	for _, i := range pages {
		if i < 0 || i >= len(images) {
			return nil, common.ValidationErrorf("%s has no page %d", id, i+1)
		}
	}
	out := make(map[int]entity.ExtractionRecord, len(pages))
	results := make([]entity.ExtractionRecord, len(pages))
	var g errgroup.Group
	for j, i := range pages {
		g.Go(func() error {
			if err := p.limiter.Acquire(ctx); err != nil {
				return err
			}
			defer p.limiter.Release()
			prompt := p.prompts.Build(llm.PromptOptions{DocumentName: id.String(), Page: i, PageCount: len(images)})
			results[j] = p.extractor.Extract(ctx, llm.PageRef{DocumentID: id, PageIndex: i}, images[i], prompt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, common.WrapError(err, "extraction cancelled")
	}
	for j, i := range pages {
		out[i] = results[j]
	}
	return out, nil
}

// gate keeps errored pages so reviewers see them.
func (p *Processor) gate(records []entity.ExtractionRecord) []entity.ExtractionRecord {
	if !p.cfg.CategoryGate {
		return records
	}
	kept := make([]entity.ExtractionRecord, 0, len(records))
	for _, r := range records {
		if r.State == constants.StateErrored || slices.Contains(p.cfg.Extractable, r.Category) {
			kept = append(kept, r)
		}
	}
	return kept
}

// write stores the source copy and then the artifact. Writes are detached
// from cancellation so a started document is never left half written.
func (p *Processor) write(ctx context.Context, id entity.DocumentID, data []byte, tier constants.Tier, records []entity.ExtractionRecord) (router.Paths, error) {
	ctx = context.WithoutCancel(ctx)
	paths := p.router.Route(id, tier)
	if err := p.router.EnsureContainer(ctx, p.cfg.OutputContainer); err != nil {
		return paths, err
	}
	csv, err := artifact.New(records).Marshal()
	if err != nil {
		return paths, err
	}
	if _, err := p.store.Put(ctx, p.cfg.OutputContainer, paths.Source, data, mimetype.Detect(data).String()); err != nil {
		return paths, err
	}
	if _, err := p.store.Put(ctx, p.cfg.OutputContainer, paths.Result, csv, constants.ContentTypeCSV); err != nil {
		return paths, err
	}
	return paths, nil
}
