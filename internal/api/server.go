// Package api serves the assembled county dataset over a read-only HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/dataset"
	"github.com/sells-group/agcensus/internal/store"
)

// County is one dataset row in API form. Null values are omitted from
// Values.
type County struct {
	State         string             `json:"state_name"`
	County        string             `json:"county_name"`
	Year          int                `json:"year"`
	Values        map[string]float64 `json:"values"`
	Reconstructed []string           `json:"reconstructed,omitempty"`
}

// MetricInfo describes the coverage of one column.
type MetricInfo struct {
	Name          string  `json:"name"`
	NonNull       int     `json:"non_null"`
	Total         int     `json:"total"`
	Reconstructed int     `json:"reconstructed"`
	Percent       float64 `json:"percent"`
}

type server struct {
	src    Source
	ledger store.Store
	log    *zap.Logger
}

// NewRouter builds the API handler. ledger may be nil, in which case the
// runs endpoints are not mounted.
func NewRouter(src Source, ledger store.Store, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &server{src: src, ledger: ledger, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/metrics", s.listMetrics)
		r.Get("/counties", s.listCounties)
		r.Get("/counties/{state}/{county}", s.getCounty)
		if ledger != nil {
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{id}", s.getRun)
		}
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *server) dataset(w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	d, err := s.src.Dataset(r.Context())
	if err != nil {
		s.log.Error("load dataset", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "dataset unavailable")
		return nil, false
	}
	return d, true
}

func (s *server) listMetrics(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dataset(w, r)
	if !ok {
		return
	}
	stats := d.Completeness()
	out := make([]MetricInfo, len(stats))
	for i, st := range stats {
		out[i] = MetricInfo{
			Name:          st.Column,
			NonNull:       st.NonNull,
			Total:         st.Total,
			Reconstructed: st.Reconstructed,
			Percent:       st.Percent(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) listCounties(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dataset(w, r)
	if !ok {
		return
	}
	state := strings.ToUpper(r.URL.Query().Get("state"))
	year, ok := yearParam(w, r)
	if !ok {
		return
	}

	out := []County{}
	for _, k := range d.Keys() {
		if state != "" && k.Region != state {
			continue
		}
		if year != 0 && k.Year != year {
			continue
		}
		out = append(out, toCounty(d, k))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getCounty(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dataset(w, r)
	if !ok {
		return
	}
	state := strings.ToUpper(chi.URLParam(r, "state"))
	county := strings.ToUpper(chi.URLParam(r, "county"))
	year, ok := yearParam(w, r)
	if !ok {
		return
	}

	// Latest year wins unless one is requested.
	var (
		found bool
		best  dataset.Key
	)
	for _, k := range d.Keys() {
		if k.Region != state || k.County != county || (year != 0 && k.Year != year) {
			continue
		}
		if !found || k.Year > best.Year {
			best, found = k, true
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "county not found")
		return
	}
	writeJSON(w, http.StatusOK, toCounty(d, best))
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status:  store.RunStatus(r.URL.Query().Get("status")),
		Command: r.URL.Query().Get("command"),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	runs, err := s.ledger.ListRuns(r.Context(), filter)
	if err != nil {
		s.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.ledger.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error("get run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	stats, err := s.ledger.ListMetricStats(r.Context(), id)
	if err != nil {
		s.log.Error("list metric stats", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list metric stats failed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*store.Run
		Metrics []store.MetricStat `json:"metric_stats"`
	}{run, stats})
}

func toCounty(d *dataset.Dataset, k dataset.Key) County {
	c := County{State: k.Region, County: k.County, Year: k.Year, Values: map[string]float64{}}
	for _, col := range d.Columns() {
		cell := d.Get(k, col)
		if !cell.Valid {
			continue
		}
		c.Values[col] = cell.Value
		if cell.Reconstructed {
			c.Reconstructed = append(c.Reconstructed, col)
		}
	}
	slices.Sort(c.Reconstructed)
	return c
}

func yearParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return 0, true
	}
	y, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid year")
		return 0, false
	}
	return y, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
