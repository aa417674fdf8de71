package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/artifact"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/review"
	"github.com/joseph-ayodele/docextract/internal/router"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T) (*httptest.Server, *storage.Memory) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.Create(ctx, "output"))
	rt := router.New(store, "invoices", "final_output", discard)

	id := entity.DocumentID{Stem: "inv", Ext: ".png"}
	rec := entity.NewRecord(id, 0, []string{"VendorName", "Total"}, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	rec.State = constants.StateExtracted
	rec.Fields["VendorName"] = entity.FieldExtraction{Name: "VendorName", Value: entity.StrPtr("Acme"), Confidence: 0.9}
	raw, err := artifact.New([]entity.ExtractionRecord{rec}).Marshal()
	require.NoError(t, err)
	p := rt.Route(id, constants.TierLow)
	_, err = store.Put(ctx, "output", p.Source, []byte("\x89PNG\r\n\x1a\n"), "image/png")
	require.NoError(t, err)
	_, err = store.Put(ctx, "output", p.Result, raw, constants.ContentTypeCSV)
	require.NoError(t, err)

	svc := review.NewService(review.Config{
		Container:      "output",
		FinalContainer: "final",
		Required:       []string{"Total"},
		Threshold:      0.95,
		Warn:           0.9,
		Policy:         reconcile.LatestModified,
	}, store, rt, discard)
	m := metrics.New(prometheus.NewRegistry())
	srv := httptest.NewServer(NewHTTPServer(svc, m, discard).Handler("http://localhost:3000"))
	t.Cleanup(srv.Close)
	return srv, store
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `docextract_review_requests_total{code="200",route="/healthz"} 1`)
}

func TestListAndGetDocument(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/low/documents")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res reconcile.Result
	decode(t, resp, &res)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "inv", res.Matched[0].Stem)

	resp, err = http.Get(srv.URL + "/api/v1/low/documents/inv")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		Records []entity.ExtractionRecord `json:"records"`
		Issues  []map[string]any          `json:"issues"`
	}
	decode(t, resp, &doc)
	require.Len(t, doc.Records, 1)
	assert.Len(t, doc.Issues, 1)

	resp, err = http.Get(srv.URL + "/api/v1/low/documents/inv/source")
	require.NoError(t, err)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	resp.Body.Close()
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	tests := []struct {
		method, path, body string
		status             int
		code               string
	}{
		{http.MethodGet, "/api/v1/medium/documents", "", http.StatusBadRequest, common.CodeValidation},
		{http.MethodGet, "/api/v1/low/documents/nope", "", http.StatusNotFound, common.CodeNotFound},
		{http.MethodPost, "/api/v1/low/documents/inv/edits", `{"pages":{"1":{"Bogus":"x"}}}`, http.StatusBadRequest, common.CodeValidation},
		{http.MethodPost, "/api/v1/low/documents/inv/edits", `{"pages":{"0":{"Total":"1"}}}`, http.StatusBadRequest, common.CodeValidation},
		{http.MethodPost, "/api/v1/low/documents/inv/edits", `not json`, http.StatusBadRequest, common.CodeValidation},
		{http.MethodPost, "/api/v1/low/documents/inv/reextract", "", http.StatusNotImplemented, common.CodeConfig},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorBody
			decode(t, resp, &body)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestSubmitEditsAndPublish(t *testing.T) {
	srv, store := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/low/documents/inv/edits", "application/json",
		strings.NewReader(`{"pages":{"1":{"Total":"12.50"}}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		Records []entity.ExtractionRecord `json:"records"`
		Issues  []map[string]any          `json:"issues"`
	}
	decode(t, resp, &doc)
	assert.Empty(t, doc.Issues)
	assert.Equal(t, constants.StateManuallyEdited, doc.Records[0].State)

	resp, err = http.Post(srv.URL+"/api/v1/low/publish", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep review.PublishReport
	decode(t, resp, &rep)
	assert.Equal(t, 1, rep.Published)

	_, err = store.Get(context.Background(), "final", "final_output/low_confidence/processed/inv.csv")
	assert.NoError(t, err)
}

func TestExportAndCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/low/export.xlsx")
	require.NoError(t, err)
	assert.Equal(t, constants.ContentTypeXLSX, resp.Header.Get("Content-Type"))
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/low/documents", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
