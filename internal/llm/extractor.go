package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const DefaultCallTimeout = 60 * time.Second

// PageRef identifies the page being extracted.
type PageRef struct {
	DocumentID entity.DocumentID
	PageIndex  int
}

// Extractor runs one model call per page and always yields a record.
type Extractor struct {
	model      VisionModel
	timeout    time.Duration
	categories []string
	logger     *slog.Logger
	now        func() time.Time
}

type ExtractorOption func(*Extractor)

func WithCallTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithKnownCategories canonicalizes model categories against the list.
func WithKnownCategories(categories []string) ExtractorOption {
	return func(e *Extractor) { e.categories = categories }
}

func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

func NewExtractor(model VisionModel, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{model: model, timeout: DefaultCallTimeout, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.categories) == 0 {
		e.categories = constants.AsStringSlice()
	}
	return e
}

// Extract never returns an error: provider and parse failures produce an
// ERRORED record with every field at confidence 0. The call is detached from
// ctx cancellation and bounded by the per-call timeout instead.
func (e *Extractor) Extract(ctx context.Context, ref PageRef, image entity.Image, prompt Prompt) entity.ExtractionRecord {
	rec := entity.NewRecord(ref.DocumentID, ref.PageIndex, prompt.Fields, e.now())
	log := e.logger.With("document", ref.DocumentID.String(), "page", ref.PageIndex+1, "model", e.model.Name())
	if id := common.RequestIDFromContext(ctx); id != "" {
		log = log.With("req_id", id)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	start := time.Now()
	log.Info("llm.extract.start", "examples", prompt.ExampleCount())
	out, err := e.model.Complete(callCtx, CompletionRequest{
		System:   prompt.System,
		Messages: prompt.Messages(image),
		JSONMode: true,
	})
	rec.Usage = out.Usage
	if err != nil {
		if !common.IsCode(err, common.CodeProvider) {
			err = common.ProviderError(err, "vision model call")
		}
		log.Error("llm.extract.provider_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return fail(rec, err)
	}

	resp, err := DecodeResponse(out.Content, prompt.Fields)
	if err != nil {
		log.Error("llm.extract.parse_error", "error", err, "content_bytes", len(out.Content))
		return fail(rec, err)
	}

	for _, f := range prompt.Fields {
		fv, ok := resp.Fields[f]
		if !ok {
			continue // stays absent at confidence 0
		}
		rec.Fields[f] = entity.FieldExtraction{
			Name:       f,
			Value:      fv.Value,
			Confidence: entity.QuantizeConfidence(fv.Confidence),
		}
	}
	if resp.Category != nil {
		if c, ok := constants.Canonicalize(*resp.Category, e.categories); ok {
			rec.Category = c
		} else {
			rec.Category = *resp.Category
		}
	}
	rec.State = constants.StateExtracted

	log.Info("llm.extract.ok",
		"category", rec.Category,
		"input_tokens", rec.Usage.InputTokens,
		"output_tokens", rec.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rec
}

func fail(rec entity.ExtractionRecord, err error) entity.ExtractionRecord {
	rec.State = constants.StateErrored
	rec.Error = err.Error()
	rec.ErrorCode = common.CodeOf(err)
	return rec
}
