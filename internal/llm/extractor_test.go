package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

type fakeModel struct {
	content string
	usage   entity.Usage
	err     error
	delay   time.Duration
	calls   atomic.Int32
	last    CompletionRequest
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	f.calls.Add(1)
	f.last = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
	return Completion{Content: f.content, Usage: f.usage}, f.err
}

var (
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	fixedNow   = time.Date(2024, 3, 1, 10, 30, 15, 500, time.UTC)
	ref        = PageRef{DocumentID: entity.DocumentID{Stem: "inv", Ext: ".pdf"}, PageIndex: 0}
)

func newTestExtractor(m VisionModel, opts ...ExtractorOption) *Extractor {
	opts = append(opts, WithClock(func() time.Time { return fixedNow }))
	return NewExtractor(m, testLogger, opts...)
}

func testPrompt() Prompt {
	return NewPromptBuilder(fields, nil, 0).Build(PromptOptions{DocumentName: "inv.pdf", PageCount: 1})
}

func TestExtractSuccess(t *testing.T) {
	m := &fakeModel{
		content: `{"category":"invoice","fields":{"VendorName":{"value":"Acme","confidence":0.97123},"Total":{"value":"10.00","confidence":0.92}}}`,
		usage:   entity.Usage{InputTokens: 1200, OutputTokens: 80},
	}
	rec := newTestExtractor(m).Extract(context.Background(), ref, png, testPrompt())

	assert.Equal(t, int32(1), m.calls.Load())
	assert.True(t, m.last.JSONMode)
	require.Len(t, m.last.Messages, 1)

	assert.Equal(t, constants.StateExtracted, rec.State)
	assert.Empty(t, rec.Error)
	assert.Equal(t, "Other", rec.Category)
	assert.Equal(t, fixedNow.Truncate(time.Second), rec.CreatedAt)
	assert.Equal(t, entity.Usage{InputTokens: 1200, OutputTokens: 80}, rec.Usage)
	assert.Equal(t, fields, rec.FieldOrder)
	require.Len(t, rec.Fields, 3)

	assert.Equal(t, "Acme", entity.ValueOf(rec.Fields["VendorName"].Value))
	assert.Equal(t, 0.9712, rec.Fields["VendorName"].Confidence)
	assert.Nil(t, rec.Fields["InvoiceNumber"].Value)
	assert.Zero(t, rec.Fields["InvoiceNumber"].Confidence)
}

func TestExtractProviderError(t *testing.T) {
	m := &fakeModel{err: errors.New("503 overloaded"), usage: entity.Usage{InputTokens: 5}}
	rec := newTestExtractor(m).Extract(context.Background(), ref, png, testPrompt())

	assert.Equal(t, int32(1), m.calls.Load(), "no retries")
	assert.Equal(t, constants.StateErrored, rec.State)
	assert.Equal(t, common.CodeProvider, rec.ErrorCode)
	assert.Contains(t, rec.Error, "503 overloaded")
	assert.Equal(t, int64(5), rec.Usage.InputTokens)
	for _, f := range rec.Fields {
		assert.Nil(t, f.Value)
		assert.Zero(t, f.Confidence)
	}
}

func TestExtractParseError(t *testing.T) {
	m := &fakeModel{content: `{"fields":{"Total":{"value":"1","confidence":1.2}}}`}
	rec := newTestExtractor(m).Extract(context.Background(), ref, png, testPrompt())

	assert.Equal(t, constants.StateErrored, rec.State)
	assert.Equal(t, common.CodeParse, rec.ErrorCode)
	assert.Zero(t, rec.Fields["Total"].Confidence)
}

func TestExtractTimeout(t *testing.T) {
	m := &fakeModel{delay: time.Second}
	rec := newTestExtractor(m, WithCallTimeout(20*time.Millisecond)).Extract(context.Background(), ref, png, testPrompt())

	assert.Equal(t, constants.StateErrored, rec.State)
	assert.Equal(t, common.CodeProvider, rec.ErrorCode)
}

func TestExtractIgnoresParentCancellation(t *testing.T) {
	m := &fakeModel{delay: 20 * time.Millisecond, content: `{"fields":{}}`}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := newTestExtractor(m).Extract(ctx, ref, png, testPrompt())
	assert.Equal(t, constants.StateExtracted, rec.State)
}

func TestExtractUnknownCategoryKept(t *testing.T) {
	m := &fakeModel{content: `{"category":"Brochure","fields":{}}`}
	rec := newTestExtractor(m).Extract(context.Background(), ref, png, testPrompt())
	assert.Equal(t, "Brochure", rec.Category)
}

func TestExtractMissingStructureErrors(t *testing.T) {
	for _, content := range []string{`{}`, `{"error":"cannot read image"}`, `{"fields":"none"}`} {
		t.Run(content, func(t *testing.T) {
			rec := newTestExtractor(&fakeModel{content: content}).Extract(context.Background(), ref, png, testPrompt())
			assert.Equal(t, constants.StateErrored, rec.State)
			assert.Equal(t, common.CodeParse, rec.ErrorCode)
			for _, f := range rec.Fields {
				assert.Nil(t, f.Value)
				assert.Zero(t, f.Confidence)
			}
		})
	}
}
