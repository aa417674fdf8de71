// Package review backs the correction workflow: listing, loading, editing,
// re-extracting and publishing reviewed documents.
package review

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/artifact"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/confidence"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/ledger"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/router"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// PageExtractor re-runs extraction for selected pages of a source document.
// *pipeline.Processor satisfies it.
type PageExtractor interface {
	ExtractPages(ctx context.Context, id entity.DocumentID, data []byte, pages []int) (map[int]entity.ExtractionRecord, error)
}

type Config struct {
	Container      string // where tier prefixes live
	FinalContainer string
	Required       []string
	Threshold      float64
	Warn           float64
	Policy         reconcile.Policy
}

type Service struct {
	cfg       Config
	store     storage.Store
	router    *router.Router
	locks     *ledger.Locker
	exporter  *export.Service
	extractor PageExtractor
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithExtractor enables re-extraction of errored pages.
func WithExtractor(e PageExtractor) Option { return func(s *Service) { s.extractor = e } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(cfg Config, store storage.Store, rt *router.Router, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		router:   rt,
		locks:    ledger.NewLocker(),
		exporter: export.NewService(cfg.Threshold, cfg.Warn, logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Document is a loaded result artifact with its advisory statistics. Tier
// is computed from the records; Location is the tier prefix the document is
// stored under.
type Document struct {
	Stem     string                    `json:"stem"`
	Tier     constants.Tier            `json:"tier"`
	Location constants.Tier            `json:"location"`
	Pair     reconcile.Pair            `json:"pair"`
	Artifact *artifact.Artifact        `json:"-"`
	Records  []entity.ExtractionRecord `json:"records"`
	Stats    confidence.Stats          `json:"stats"`
	Issues   []ledger.ValidationIssue  `json:"issues"`
}

// List reconciles the tier's sources against its results.
func (s *Service) List(ctx context.Context, tier constants.Tier) (reconcile.Result, error) {
	sources, err := s.store.List(ctx, s.cfg.Container, s.router.SourcePrefix(tier))
	if err != nil {
		if storage.IsNotFound(err) {
			return reconcile.Result{Matched: []reconcile.Pair{}}, nil
		}
		return reconcile.Result{}, err
	}
	results, err := s.store.List(ctx, s.cfg.Container, s.router.ResultPrefix(tier))
	if err != nil {
		return reconcile.Result{}, err
	}
	return reconcile.Reconcile(sources, results, s.cfg.Policy)
}

func (s *Service) pair(ctx context.Context, tier constants.Tier, stem string) (reconcile.Pair, error) {
	res, err := s.List(ctx, tier)
	if err != nil {
		return reconcile.Pair{}, err
	}
	i := sort.Search(len(res.Matched), func(i int) bool { return res.Matched[i].Stem >= stem })
	if i == len(res.Matched) || res.Matched[i].Stem != stem {
		return reconcile.Pair{}, common.NotFoundf("%s document %q", tier, stem)
	}
	return res.Matched[i], nil
}

// Load reads the result artifact of a matched document.
func (s *Service) Load(ctx context.Context, tier constants.Tier, stem string) (Document, error) {
	p, err := s.pair(ctx, tier, stem)
	if err != nil {
		return Document{}, err
	}
	return s.load(ctx, tier, p)
}

func (s *Service) load(ctx context.Context, tier constants.Tier, p reconcile.Pair) (Document, error) {
	raw, err := s.store.Get(ctx, s.cfg.Container, p.Result.Key)
	if err != nil {
		return Document{}, err
	}
	a, err := artifact.Unmarshal(raw)
	if err != nil {
		return Document{}, err
	}
	return s.document(tier, p, a)
}

// document stamps the computed tier on every record.
func (s *Service) document(location constants.Tier, p reconcile.Pair, a *artifact.Artifact) (Document, error) {
	tier, err := confidence.DocumentTier(a.Records, s.cfg.Threshold)
	if err != nil {
		return Document{}, err
	}
	for i := range a.Records {
		a.Records[i].Tier = tier
	}
	return Document{
		Stem:     p.Stem,
		Tier:     tier,
		Location: location,
		Pair:     p,
		Artifact: a,
		Records:  a.Records,
		Stats:    confidence.Summarize(a.Records, s.cfg.Warn),
		Issues:   ledger.Validate(a.Records, s.cfg.Required),
	}, nil
}

func lockKey(tier constants.Tier, stem string) string {
	return string(tier) + "/" + stem
}

// lockAll takes the stem's lock in every tier, always in AllTiers order.
func (s *Service) lockAll(stem string) (unlock func()) {
	unlocks := make([]func(), 0, len(constants.AllTiers))
	for _, t := range constants.AllTiers {
		unlocks = append(unlocks, s.locks.Lock(lockKey(t, stem)))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Source returns the source bytes of a matched document and their media type.
func (s *Service) Source(ctx context.Context, tier constants.Tier, stem string) ([]byte, string, error) {
	p, err := s.pair(ctx, tier, stem)
	if err != nil {
		return nil, "", err
	}
	data, err := s.store.Get(ctx, s.cfg.Container, p.Source.Key)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

// SubmitEdits applies page edits and writes the artifact back in place.
// Writers of the same document are serialized; the returned issues list
// required fields that are still absent.
func (s *Service) SubmitEdits(ctx context.Context, tier constants.Tier, stem string, edits map[int]ledger.Edits) (Document, error) {
	unlock := s.locks.Lock(lockKey(tier, stem))
	defer unlock()

	doc, err := s.Load(ctx, tier, stem)
	if err != nil {
		return Document{}, err
	}
	updated, err := ledger.ApplyDocument(doc.Artifact.Records, edits, s.now())
	if err != nil {
		return Document{}, err
	}
	doc.Artifact.Records = updated
	if err := s.save(ctx, doc); err != nil {
		return Document{}, err
	}
	s.logger.Info("review.edits.saved", "tier", tier, "stem", stem, "pages", len(edits))
	return s.document(tier, doc.Pair, doc.Artifact)
}

// Reextract re-runs the model on every ERRORED page of a document. When
// the fresh confidences change the document's tier, its source and artifact
// move to the new tier's prefixes; otherwise the artifact is saved in place.
func (s *Service) Reextract(ctx context.Context, tier constants.Tier, stem string) (Document, error) {
	if s.extractor == nil {
		return Document{}, common.ConfigErrorf("re-extraction is not configured")
	}
	unlock := s.lockAll(stem)
	defer unlock()

	doc, err := s.Load(ctx, tier, stem)
	if err != nil {
		return Document{}, err
	}
	var pages []int
	for i, r := range doc.Artifact.Records {
		if r.State != constants.StateErrored {
			continue
		}
		reset, err := ledger.Reset(r)
		if err != nil {
			return Document{}, err
		}
		doc.Artifact.Records[i] = reset
		pages = append(pages, r.PageIndex)
	}
	if len(pages) == 0 {
		return doc, nil
	}

	src, err := s.store.Get(ctx, s.cfg.Container, doc.Pair.Source.Key)
	if err != nil {
		return Document{}, err
	}
	fresh, err := s.extractor.ExtractPages(ctx, entity.ParseDocumentID(doc.Pair.Source.Key), src, pages)
	if err != nil {
		return Document{}, err
	}
	for i, r := range doc.Artifact.Records {
		if f, ok := fresh[r.PageIndex]; ok {
			doc.Artifact.Records[i] = f
		}
	}
	updated, err := s.document(tier, doc.Pair, doc.Artifact)
	if err != nil {
		return Document{}, err
	}
	if updated.Tier == tier {
		if err := s.save(ctx, updated); err != nil {
			return Document{}, err
		}
		s.logger.Info("review.reextract.saved", "tier", tier, "stem", stem, "pages", len(pages))
		return updated, nil
	}

	pair, err := s.move(ctx, updated, src)
	if err != nil {
		return Document{}, err
	}
	s.logger.Info("review.reextract.moved", "from", tier, "to", updated.Tier, "stem", stem, "pages", len(pages))
	return s.document(updated.Tier, pair, updated.Artifact)
}

// move writes the document under its computed tier and then removes the
// old copies. A failure before the deletes leaves the old copies intact.
func (s *Service) move(ctx context.Context, doc Document, src []byte) (reconcile.Pair, error) {
	ctx = context.WithoutCancel(ctx)
	raw, err := doc.Artifact.Marshal()
	if err != nil {
		return reconcile.Pair{}, err
	}
	paths := s.router.Route(entity.ParseDocumentID(doc.Pair.Source.Key), doc.Tier)
	if _, err := s.store.Put(ctx, s.cfg.Container, paths.Source, src, mimetype.Detect(src).String()); err != nil {
		return reconcile.Pair{}, err
	}
	if _, err := s.store.Put(ctx, s.cfg.Container, paths.Result, raw, constants.ContentTypeCSV); err != nil {
		return reconcile.Pair{}, err
	}
	for _, key := range []string{doc.Pair.Result.Key, doc.Pair.Source.Key} {
		if err := s.store.Delete(ctx, s.cfg.Container, key); err != nil && !storage.IsNotFound(err) {
			return reconcile.Pair{}, err
		}
	}
	now := s.now()
	return reconcile.Pair{
		Stem:   doc.Stem,
		Source: entity.ObjectInfo{Key: paths.Source, Size: int64(len(src)), LastModified: now},
		Result: entity.ObjectInfo{Key: paths.Result, Size: int64(len(raw)), LastModified: now},
	}, nil
}

func (s *Service) save(ctx context.Context, doc Document) error {
	raw, err := doc.Artifact.Marshal()
	if err != nil {
		return err
	}
	_, err = s.store.Put(context.WithoutCancel(ctx), s.cfg.Container, doc.Pair.Result.Key, raw, constants.ContentTypeCSV)
	return err
}

// ExportXLSX renders the listed documents of a tier into a review workbook.
func (s *Service) ExportXLSX(ctx context.Context, tier constants.Tier) ([]byte, error) {
	res, err := s.List(ctx, tier)
	if err != nil {
		return nil, err
	}
	var fields []string
	items := make([]export.Item, 0, len(res.Matched))
	for _, p := range res.Matched {
		doc, err := s.load(ctx, tier, p)
		if err != nil {
			s.logger.Warn("review.export.skip", "stem", p.Stem, "error", err)
			continue
		}
		if fields == nil {
			fields = doc.Artifact.Fields
		}
		items = append(items, export.Item{Tier: tier, Records: doc.Artifact.Records})
	}
	return s.exporter.ExportXLSX(ctx, fields, items)
}
