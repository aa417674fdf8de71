package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/artifact"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/ledger"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/router"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	fields  = []string{"VendorName", "Total"}
	editAt  = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	pdf     = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
)

type fixture struct {
	store *storage.Memory
	rt    *router.Router
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.Create(context.Background(), "output"))
	rt := router.New(store, "invoices", "final_output", discard)
	cfg := Config{
		Container:      "output",
		FinalContainer: "final",
		Required:       []string{"VendorName", "Total"},
		Threshold:      0.95,
		Warn:           0.90,
		Policy:         reconcile.LatestModified,
	}
	opts = append(opts, WithClock(func() time.Time { return editAt }))
	return &fixture{store: store, rt: rt, svc: NewService(cfg, store, rt, discard, opts...)}
}

func page(stem string, i int, state constants.RecordState, vendor *string, conf float64) entity.ExtractionRecord {
	r := entity.NewRecord(entity.DocumentID{Stem: stem, Ext: ".pdf"}, i, fields, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	r.State = state
	r.Tier = constants.TierLow
	r.Fields["VendorName"] = entity.FieldExtraction{Name: "VendorName", Value: vendor, Confidence: conf}
	r.Fields["Total"] = entity.FieldExtraction{Name: "Total", Value: entity.StrPtr("10.00"), Confidence: conf}
	if state == constants.StateErrored {
		r.Error, r.ErrorCode = "boom", common.CodeProvider
	}
	return r
}

func (f *fixture) seed(t *testing.T, stem string, records ...entity.ExtractionRecord) router.Paths {
	t.Helper()
	ctx := context.Background()
	p := f.rt.Route(entity.DocumentID{Stem: stem, Ext: ".pdf"}, constants.TierLow)
	raw, err := artifact.New(records).Marshal()
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "output", p.Source, pdf, constants.ContentTypePDF)
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "output", p.Result, raw, constants.ContentTypeCSV)
	require.NoError(t, err)
	return p
}

func TestListAndLoad(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.92))
	f.seed(t, "b", page("b", 0, constants.StateExtracted, nil, 0.70))
	_, err := f.store.Put(context.Background(), "output", f.rt.SourcePrefix(constants.TierLow)+"orphan.pdf", pdf, "")
	require.NoError(t, err)
	ctx := context.Background()

	res, err := f.svc.List(ctx, constants.TierLow)
	require.NoError(t, err)
	require.Len(t, res.Matched, 2)
	assert.Equal(t, []string{"orphan"}, res.SourceOnly)

	doc, err := f.svc.Load(ctx, constants.TierLow, "b")
	require.NoError(t, err)
	require.Len(t, doc.Records, 1)
	assert.Equal(t, 2, doc.Stats.BelowReview)
	require.Len(t, doc.Issues, 1)
	assert.Equal(t, "VendorName", doc.Issues[0].Field)

	_, err = f.svc.Load(ctx, constants.TierLow, "orphan")
	assert.ErrorIs(t, err, common.ErrNotFound)

	high, err := f.svc.List(ctx, constants.TierHigh)
	require.NoError(t, err)
	assert.Empty(t, high.Matched)

	data, mime, err := f.svc.Source(ctx, constants.TierLow, "a")
	require.NoError(t, err)
	assert.Equal(t, pdf, data)
	assert.Equal(t, constants.ContentTypePDF, mime)
}

func TestSubmitEditsWritesBack(t *testing.T) {
	f := newFixture(t)
	paths := f.seed(t, "a",
		page("a", 0, constants.StateExtracted, nil, 0.92),
		page("a", 1, constants.StateExtracted, entity.StrPtr("Acme"), 0.99))
	ctx := context.Background()

	doc, err := f.svc.SubmitEdits(ctx, constants.TierLow, "a", map[int]ledger.Edits{0: {"VendorName": "Acme Corp"}})
	require.NoError(t, err)
	assert.Empty(t, doc.Issues)

	raw, err := f.store.Get(ctx, "output", paths.Result)
	require.NoError(t, err)
	a, err := artifact.Unmarshal(raw)
	require.NoError(t, err)
	rec := a.Records[0]
	assert.Equal(t, constants.StateManuallyEdited, rec.State)
	assert.Equal(t, []string{"VendorName"}, rec.EditedFields)
	assert.Nil(t, rec.Edits["VendorName"].Original)
	assert.Equal(t, "Acme Corp", entity.ValueOf(rec.Edits["VendorName"].LatestNew))
	require.NotNil(t, rec.EditTimestamp)
	assert.Equal(t, editAt, rec.EditTimestamp.UTC())
	assert.Equal(t, constants.StateExtracted, a.Records[1].State)

	// a second edit keeps the first baseline
	_, err = f.svc.SubmitEdits(ctx, constants.TierLow, "a", map[int]ledger.Edits{0: {"VendorName": "ACME"}})
	require.NoError(t, err)
	doc, err = f.svc.Load(ctx, constants.TierLow, "a")
	require.NoError(t, err)
	assert.Nil(t, doc.Records[0].Edits["VendorName"].Original)
	assert.Equal(t, "ACME", entity.ValueOf(doc.Records[0].Edits["VendorName"].LatestNew))
}

func TestSubmitEditsRejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateErrored, nil, 0))
	ctx := context.Background()

	_, err := f.svc.SubmitEdits(ctx, constants.TierLow, "a", map[int]ledger.Edits{0: {"VendorName": "x"}})
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = f.svc.SubmitEdits(ctx, constants.TierLow, "missing", map[int]ledger.Edits{0: {"VendorName": "x"}})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSubmitEditsConcurrentWritersKeepAllEdits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.9))
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, fe := range []ledger.Edits{{"VendorName": "One"}, {"Total": "99.00"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitEdits(ctx, constants.TierLow, "a", map[int]ledger.Edits{0: fe})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := f.svc.Load(ctx, constants.TierLow, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"VendorName", "Total"}, doc.Records[0].EditedFields)
}

type fakeExtractor struct{ pages []int }

func (f *fakeExtractor) ExtractPages(_ context.Context, id entity.DocumentID, _ []byte, pages []int) (map[int]entity.ExtractionRecord, error) {
	f.pages = pages
	out := map[int]entity.ExtractionRecord{}
	for _, p := range pages {
		out[p] = page(id.Stem, p, constants.StateExtracted, entity.StrPtr("Fresh"), 0.97)
	}
	return out, nil
}

func TestReextract(t *testing.T) {
	ex := &fakeExtractor{}
	f := newFixture(t, WithExtractor(ex))
	f.seed(t, "a",
		page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.99),
		page("a", 1, constants.StateErrored, nil, 0))

	doc, err := f.svc.Reextract(context.Background(), constants.TierLow, "a")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ex.pages)
	assert.Equal(t, constants.StateExtracted, doc.Records[1].State)
	assert.Equal(t, "Fresh", entity.ValueOf(doc.Records[1].Fields["VendorName"].Value))
	assert.Empty(t, doc.Records[1].Error)
	assert.Equal(t, constants.TierHigh, doc.Tier)
	assert.Equal(t, constants.TierHigh, doc.Location)
	for _, r := range doc.Records {
		assert.Equal(t, constants.TierHigh, r.Tier)
	}

	_, err = newFixture(t).svc.Reextract(context.Background(), constants.TierLow, "a")
	assert.True(t, common.IsCode(err, common.CodeConfig))
}

func TestReextractMovesDocumentToComputedTier(t *testing.T) {
	f := newFixture(t, WithExtractor(&fakeExtractor{}))
	old := f.seed(t, "a",
		page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.99),
		page("a", 1, constants.StateErrored, nil, 0))
	ctx := context.Background()

	_, err := f.svc.Reextract(ctx, constants.TierLow, "a")
	require.NoError(t, err)

	low, err := f.svc.List(ctx, constants.TierLow)
	require.NoError(t, err)
	assert.Empty(t, low.Matched)
	assert.Empty(t, low.SourceOnly)
	assert.Empty(t, low.ResultOnly)
	_, err = f.store.Get(ctx, "output", old.Source)
	assert.True(t, storage.IsNotFound(err))

	moved := f.rt.Route(entity.DocumentID{Stem: "a", Ext: ".pdf"}, constants.TierHigh)
	src, err := f.store.Get(ctx, "output", moved.Source)
	require.NoError(t, err)
	assert.Equal(t, pdf, src)

	doc, err := f.svc.Load(ctx, constants.TierHigh, "a")
	require.NoError(t, err)
	assert.Equal(t, constants.TierHigh, doc.Tier)
	assert.Equal(t, "Fresh", entity.ValueOf(doc.Records[1].Fields["VendorName"].Value))
}

func TestReextractKeepsTierWhenStillLow(t *testing.T) {
	f := newFixture(t, WithExtractor(&fakeExtractor{}))
	paths := f.seed(t, "a",
		page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.80),
		page("a", 1, constants.StateErrored, nil, 0))
	ctx := context.Background()

	doc, err := f.svc.Reextract(ctx, constants.TierLow, "a")
	require.NoError(t, err)
	assert.Equal(t, constants.TierLow, doc.Tier)
	assert.Equal(t, paths.Result, doc.Pair.Result.Key)

	raw, err := f.store.Get(ctx, "output", paths.Result)
	require.NoError(t, err)
	a, err := artifact.Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, constants.StateExtracted, a.Records[1].State)
}

func TestLoadComputesTierFromRecords(t *testing.T) {
	f := newFixture(t)
	// stored under the low prefix, but every field clears the threshold
	f.seed(t, "a", page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.99))

	doc, err := f.svc.Load(context.Background(), constants.TierLow, "a")
	require.NoError(t, err)
	assert.Equal(t, constants.TierHigh, doc.Tier)
	assert.Equal(t, constants.TierLow, doc.Location)
	assert.Equal(t, constants.TierHigh, doc.Records[0].Tier)
}

func TestLocksAreScopedByTier(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.9))

	unlock := f.svc.locks.Lock(lockKey(constants.TierHigh, "a"))
	defer unlock()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SubmitEdits(context.Background(), constants.TierLow, "a", map[int]ledger.Edits{0: {"Total": "11.00"}})
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("low tier edit blocked on a high tier lock")
	}
	assert.Equal(t, "low/a", lockKey(constants.TierLow, "a"))
}

func TestPublishContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.99))
	f.seed(t, "b", page("b", 0, constants.StateExtracted, nil, 0.99))
	f.seed(t, "c", page("c", 0, constants.StateExtracted, entity.StrPtr("C"), 0.99))
	f.store.FailPut = func(container, key string) error {
		if container == "final" && strings.Contains(key, "/b.") {
			return errors.New("quota exceeded")
		}
		return nil
	}
	ctx := context.Background()

	rep, err := f.svc.Publish(ctx, constants.TierLow, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Published)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Items, 3)
	assert.Equal(t, PublishFailed, rep.Items[1].Status)
	assert.Contains(t, rep.Items[1].Error, "quota exceeded")

	assert.Equal(t, "final_output/low_confidence/source/a.pdf", rep.Items[0].SourceKey)
	assert.Equal(t, "final_output/low_confidence/processed/a.csv", rep.Items[0].ResultKey)
	got, err := f.store.Get(ctx, "final", "final_output/low_confidence/processed/c.csv")
	require.NoError(t, err)
	a, err := artifact.Unmarshal(got)
	require.NoError(t, err)
	assert.Equal(t, "C", entity.ValueOf(a.Records[0].Fields["VendorName"].Value))
}

func TestPublishSameStemAcrossTiers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateExtracted, entity.StrPtr("Low"), 0.80))
	high := f.rt.Route(entity.DocumentID{Stem: "a", Ext: ".pdf"}, constants.TierHigh)
	raw, err := artifact.New([]entity.ExtractionRecord{page("a", 0, constants.StateExtracted, entity.StrPtr("High"), 0.99)}).Marshal()
	require.NoError(t, err)
	ctx := context.Background()
	_, err = f.store.Put(ctx, "output", high.Source, pdf, constants.ContentTypePDF)
	require.NoError(t, err)
	_, err = f.store.Put(ctx, "output", high.Result, raw, constants.ContentTypeCSV)
	require.NoError(t, err)

	for _, tier := range constants.AllTiers {
		rep, err := f.svc.Publish(ctx, tier, nil)
		require.NoError(t, err)
		require.Equal(t, 1, rep.Published, tier)
	}

	for tier, vendor := range map[constants.Tier]string{constants.TierHigh: "High", constants.TierLow: "Low"} {
		key := f.rt.Final(entity.DocumentID{Stem: "a", Ext: ".pdf"}, tier).Result
		got, err := f.store.Get(ctx, "final", key)
		require.NoError(t, err)
		a, err := artifact.Unmarshal(got)
		require.NoError(t, err)
		assert.Equal(t, vendor, entity.ValueOf(a.Records[0].Fields["VendorName"].Value))
	}
}

func TestPublishSelected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateExtracted, nil, 0.99))
	f.seed(t, "b", page("b", 0, constants.StateExtracted, entity.StrPtr("B"), 0.99))

	rep, err := f.svc.Publish(context.Background(), constants.TierLow, []string{"a", "zzz", "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Published)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Items, 2)
	assert.Len(t, rep.Items[0].Issues, 1, "missing vendor is advisory")
	assert.Equal(t, "zzz", rep.Items[1].Stem)
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", page("a", 0, constants.StateExtracted, entity.StrPtr("Acme"), 0.99))
	b, err := f.svc.ExportXLSX(context.Background(), constants.TierLow)
	require.NoError(t, err)
	assert.True(t, len(b) > 0)
	assert.Equal(t, "PK", string(b[:2]))
}
