package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/llm/providers"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/raster"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/review"
	"github.com/joseph-ayodele/docextract/internal/router"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// app holds the dependencies shared by subcommands.
type app struct {
	cfg        *common.Config
	extraction *common.ExtractionConfig
	store      storage.Store
	router     *router.Router
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func newApp(ctx context.Context, c *common.Config, log *slog.Logger) (*app, error) {
	ext, err := common.LoadExtractionConfig(c.ExtractionConfig)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, c.Storage, log)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:        c,
		extraction: ext,
		store:      st,
		router:     router.New(st, c.Storage.OutputPrefix, c.Storage.FinalPrefix, log),
		metrics:    metrics.New(prometheus.NewRegistry()),
		logger:     log,
	}, nil
}

func (a *app) Close() {
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("storage.close_failed", "error", err)
		}
	}
}

// processor wires the model provider, prompts and rasterizer into a pipeline
// processor. It is the only place that needs provider credentials.
func (a *app) processor(ctx context.Context) (*pipeline.Processor, error) {
	if err := a.cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	model, err := providers.New(ctx, a.cfg.LLM, a.logger)
	if err != nil {
		return nil, err
	}
	prompts, err := llm.NewPromptBuilderFromConfig(a.extraction)
	if err != nil {
		return nil, err
	}
	extractor := llm.NewExtractor(model, a.logger,
		llm.WithCallTimeout(a.cfg.LLM.Timeout),
		llm.WithKnownCategories(a.extraction.Categories),
	)
	rs := raster.New(raster.Config{
		Pdftoppm: a.cfg.Pipeline.Pdftoppm,
		DPI:      a.cfg.Pipeline.RasterDPI,
		MaxPages: a.cfg.Pipeline.MaxPages,
	}, a.logger)
	pcfg := pipeline.Config{
		InputContainer:  a.cfg.Storage.InputContainer,
		OutputContainer: a.cfg.Storage.OutputContainer,
		Threshold:       a.cfg.Pipeline.Threshold,
		CategoryGate:    a.extraction.CategoryGate,
		Extractable:     a.extraction.Extractable,
	}
	limiter := pipeline.NewLimiter(a.cfg.LLM.Concurrency, a.cfg.LLM.RPS)
	return pipeline.NewProcessor(pcfg, a.store, a.router, rs, prompts, extractor, limiter, a.logger,
		pipeline.WithObserver(a.metrics)), nil
}

// review builds the correction service. Re-extraction is enabled only when
// a processor is supplied.
func (a *app) review(proc *pipeline.Processor) (*review.Service, error) {
	policy, err := reconcile.ParsePolicy(a.cfg.Pipeline.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	var opts []review.Option
	if proc != nil {
		opts = append(opts, review.WithExtractor(proc))
	}
	return review.NewService(review.Config{
		Container:      a.cfg.Storage.OutputContainer,
		FinalContainer: a.cfg.Storage.FinalContainer,
		Required:       a.extraction.Required,
		Threshold:      a.cfg.Pipeline.Threshold,
		Warn:           a.cfg.Pipeline.Warn,
		Policy:         policy,
	}, a.store, a.router, a.logger, opts...), nil
}

// history opens the run repository. It returns nil when HISTORY_DSN is unset.
func (a *app) history(ctx context.Context) (repository.RunRepository, func(), error) {
	if a.cfg.History.DSN == "" {
		return nil, func() {}, nil
	}
	db, err := repository.Open(ctx, repository.Config{
		DSN:         a.cfg.History.DSN,
		MaxConns:    a.cfg.History.MaxConns,
		DialTimeout: a.cfg.History.DialTimeout,
	}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewRunRepository(db, a.logger), func() { db.Close(a.logger) }, nil
}

func tierFlag(s string) (constants.Tier, error) {
	t, ok := constants.ParseTier(s)
	if !ok {
		return "", common.ValidationErrorf("tier must be high or low, got %q", s)
	}
	return t, nil
}
