package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

func TestObserveDocument(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveDocument(entity.DocumentResult{
		Status:       constants.RunStatusOK,
		Tier:         constants.TierLow,
		Pages:        3,
		ErroredPages: 1,
		Usage:        entity.Usage{InputTokens: 1000, OutputTokens: 50},
		Duration:     2 * time.Second,
	})
	m.ObserveDocument(entity.DocumentResult{Status: constants.RunStatusFailed})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("ok", "low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("failed", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pages.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("errored")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.tokens.WithLabelValues("input")))
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRequest("/api/v1/{tier}/documents", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `docextract_review_requests_total{code="200",route="/api/v1/{tier}/documents"} 1`)
}
