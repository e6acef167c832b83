package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ipopipe/internal/domain"
	"ipopipe/internal/logging"
	"ipopipe/internal/ports"
	"ipopipe/internal/quality"
	"ipopipe/internal/services/pipeline"
	"ipopipe/internal/services/refresh"
	"ipopipe/internal/services/summary"
)

// Refresher is satisfied by *refresh.Service.
type Refresher interface {
	Refresh(ctx context.Context, corpCode, basDd string) (refresh.Diagnostics, error)
}

type Options struct {
	DefaultCorpCode string
	Location        *time.Location
	// RefreshTimeout bounds a ?refresh=true request; zero means 2 minutes.
	RefreshTimeout time.Duration
}

// Server exposes the read API over the store plus the live refresh trigger.
type Server struct {
	pipeline  *pipeline.Service
	summaries *summary.Service
	refresher Refresher
	store     ports.Store
	catalog   *quality.Catalog
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
}

// New builds a Server; refresher may be nil, in which case refresh requests
// get 503.
func New(store ports.Store, pipe *pipeline.Service, summaries *summary.Service, refresher Refresher, catalog *quality.Catalog, logger zerolog.Logger, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 2 * time.Minute
	}
	return &Server{
		pipeline:  pipe,
		summaries: summaries,
		refresher: refresher,
		store:     store,
		catalog:   catalog,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Route("/ipo", func(r chi.Router) {
			r.Get("/pipeline", s.listPipeline)
			r.Get("/{pipelineID}", s.getPipelineItem)
		})
		r.Route("/quality", func(r chi.Router) {
			r.Get("/issues", s.listIssues)
			r.Get("/summary", s.listSummaries)
			r.Get("/entity/{entityKey}", s.entityHistory)
			r.Get("/rules", s.listRules)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		l := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), l)))
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pipelineResponse struct {
	Items   []domain.PipelineItem `json:"items"`
	Total   int                   `json:"total"`
	Refresh *refresh.Diagnostics  `json:"refresh,omitempty"`
}

func (s *Server) listPipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var resp pipelineResponse

	if wantRefresh, _ := strconv.ParseBool(q.Get("refresh")); wantRefresh {
		if s.refresher == nil {
			writeError(w, http.StatusServiceUnavailable, "live refresh is not configured")
			return
		}
		corpCode := q.Get("corp_code")
		if corpCode == "" {
			corpCode = s.opts.DefaultCorpCode
		}
		basDd := q.Get("bas_dd")
		if basDd == "" {
			basDd = s.now().In(s.opts.Location).Format("20060102")
		}
		rctx, cancel := context.WithTimeout(ctx, s.opts.RefreshTimeout)
		defer cancel()
		diag, err := s.refresher.Refresh(rctx, corpCode, basDd)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		resp.Refresh = &diag
	}

	if _, err := s.pipeline.EnsureDemoIfEmpty(ctx); err != nil {
		s.internalError(w, r, err)
		return
	}
	items, err := s.pipeline.ListItems(ctx)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.PipelineItem{}
	}
	resp.Items, resp.Total = items, len(items)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getPipelineItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := s.pipeline.EnsureDemoIfEmpty(ctx); err != nil {
		s.internalError(w, r, err)
		return
	}
	item, err := s.pipeline.GetItem(ctx, chi.URLParam(r, "pipelineID"))
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pipeline item not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}

// parseDay reads a YYYY-MM-DD query value; invalid values are ignored.
func (s *Server) parseDay(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, s.opts.Location)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ports.IssueFilter{
		Source:   domain.Source(q.Get("source")),
		Severity: domain.Severity(q.Get("severity")),
		RuleCode: q.Get("rule_code"),
		BatchID:  q.Get("batch_id"),
	}
	if d, ok := s.parseDay(q.Get("from")); ok {
		f.From = d.UTC()
	}
	if d, ok := s.parseDay(q.Get("to")); ok {
		f.To = d.AddDate(0, 0, 1).UTC()
	}
	issues, err := s.store.ListIssues(r.Context(), f)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(issues))
}

func (s *Server) listSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ports.SummaryFilter{Source: domain.Source(q.Get("source"))}
	if d, ok := s.parseDay(q.Get("from")); ok {
		f.From = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	if d, ok := s.parseDay(q.Get("to")); ok {
		f.To = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	rows, err := s.summaries.List(r.Context(), f)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(rows))
}

func (s *Server) entityHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "entityKey")
	issues, err := s.store.ListIssues(r.Context(), ports.IssueFilter{EntityKey: key})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		EntityKey string `json:"entity_key"`
		listResponse[domain.StoredIssue]
	}{key, newList(issues)})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rules := s.catalog.Filter(domain.Source(q.Get("source")), domain.Severity(q.Get("severity")))
	writeJSON(w, http.StatusOK, newList(rules))
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
