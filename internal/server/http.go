// Package server exposes the review workflow over HTTP and a gRPC health
// endpoint.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/ledger"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/review"
)

const maxBody = 1 << 20

type HTTPServer struct {
	review  *review.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHTTPServer(svc *review.Service, m *metrics.Metrics, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{review: svc, metrics: m, logger: logger}
}

// Handler builds the router. allowedOrigins configures CORS for the review UI.
func (s *HTTPServer) Handler(allowedOrigins ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1/{tier}", func(r chi.Router) {
		r.Get("/documents", s.listDocuments)
		r.Get("/documents/{stem}", s.getDocument)
		r.Get("/documents/{stem}/source", s.getSource)
		r.Post("/documents/{stem}/edits", s.submitEdits)
		r.Post("/documents/{stem}/reextract", s.reextract)
		r.Post("/publish", s.publish)
		r.Get("/export.xlsx", s.exportXLSX)
	})
	return r
}

// observe attaches the request id to the context and records one log line
// and one counter per request.
func (s *HTTPServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := common.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, strconv.Itoa(status))
		}
		s.logger.Debug("server.request",
			"req_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *HTTPServer) tier(w http.ResponseWriter, r *http.Request) (constants.Tier, bool) {
	raw := chi.URLParam(r, "tier")
	t, ok := constants.ParseTier(raw)
	if !ok {
		writeError(w, s.logger, common.ValidationErrorf("unknown tier %q", raw))
	}
	return t, ok
}

func (s *HTTPServer) listDocuments(w http.ResponseWriter, r *http.Request) {
	tier, ok := s.tier(w, r)
	if !ok {
		return
	}
	res, err := s.review.List(r.Context(), tier)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) getDocument(w http.ResponseWriter, r *http.Request) {
	tier, ok := s.tier(w, r)
	if !ok {
		return
	}
	doc, err := s.review.Load(r.Context(), tier, chi.URLParam(r, "stem"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) getSource(w http.ResponseWriter, r *http.Request) {
	tier, ok := s.tier(w, r)
	if !ok {
		return
	}
	data, mime, err := s.review.Source(r.Context(), tier, chi.URLParam(r, "stem"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// editsRequest keys pages by their 1-based number as shown to reviewers.
type editsRequest struct {
	Pages map[string]map[string]string `json:"pages"`
}

func (s *HTTPServer) submitEdits(w http.ResponseWriter, r *http.Request) {
	tier, ok := s.tier(w, r)
	if !ok {
		return
	}
	var req editsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, s.logger, common.ValidationErrorf("decode edits: %v", err))
		return
	}
	edits := make(map[int]ledger.Edits, len(req.Pages))
	for k, fields := range req.Pages {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			writeError(w, s.logger, common.ValidationErrorf("invalid page %q", k))
			return
		}
		edits[n-1] = fields
	}
	doc, err := s.review.SubmitEdits(r.Context(), tier, chi.URLParam(r, "stem"), edits)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) reextract(w http.ResponseWriter, r *http.Request) {
	tier, ok := s.tier(w, r)
	if !ok {
		return
	}
	doc, err := s.review.Reextract(r.Context(), tier, chi.URLParam(r, "stem"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type publishRequest struct {
	Stems []string `json:"stems"`
}

func (s *HTTPServer) publish(w http.ResponseWriter, r *http.Request) {
	tier, ok := s.tier(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			writeError(w, s.logger, common.ValidationErrorf("decode publish request: %v", err))
			return
		}
	}
	rep, err := s.review.Publish(r.Context(), tier, req.Stems)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *HTTPServer) exportXLSX(w http.ResponseWriter, r *http.Request) {
	tier, ok := s.tier(w, r)
	if !ok {
		return
	}
	b, err := s.review.ExportXLSX(r.Context(), tier)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", constants.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="`+string(tier)+`_confidence.xlsx"`)
	_, _ = w.Write(b)
}
