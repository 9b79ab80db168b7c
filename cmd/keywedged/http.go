package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"keywedge/internal/config"
	"keywedge/internal/decode"
	"keywedge/internal/device"
	"keywedge/internal/health"
	"keywedge/internal/metrics"
	"keywedge/internal/scanner"
	"keywedge/internal/store"
)

// maxBody bounds POST bodies; a scan is at most a few hundred keys.
const maxBody = 64 << 10

// historyStore is the part of store.Store the API reads.
type historyStore interface {
	Get(ctx context.Context, id string) (*scanner.Result, error)
	List(ctx context.Context, q store.Query) ([]*scanner.Result, error)
	FindByField(ctx context.Context, ai, value string, n int) ([]*scanner.Result, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// api serves the HTTP endpoints. history and registry are nil when storage
// or metrics are disabled.
type api struct {
	history    historyStore
	classifier *scanner.Classifier
	decoder    decode.Decoder
	metrics    *metrics.ScannerMetrics
	registry   *metrics.Registry
	device     func() *device.Status
	checker    *health.Checker
	logger     *slog.Logger
}

func (d *daemon) router(cfg *config.Config) http.Handler {
	a := &api{
		classifier: d.classifier,
		decoder:    d.decoder,
		metrics:    d.metrics,
		device:     d.deviceStatus,
		checker:    d.checker,
		logger:     d.logger.Logger,
	}
	if d.store != nil {
		a.history = d.store
	}
	if cfg.Metrics.Enabled {
		a.registry = d.metrics.Registry()
	}
	return a.routes()
}

func (a *api) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", a.health)
	if a.checker != nil {
		r.Method(http.MethodGet, "/readyz", a.checker.Handler())
	}
	if a.registry != nil {
		r.Method(http.MethodGet, "/metrics", a.registry.HTTPHandler())
	}
	r.Post("/decode", a.decode)
	r.Post("/simulate", a.simulate)

	r.Route("/scans", func(r chi.Router) {
		r.Get("/stream", a.stream)
		r.Get("/ws", a.streamWS)
		r.Group(func(r chi.Router) {
			r.Use(a.requireHistory)
			r.Get("/", a.listScans)
			r.Get("/stats", a.stats)
			r.Get("/{id}", a.getScan)
		})
	})
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (a *api) requireHistory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.history == nil {
			writeError(w, http.StatusServiceUnavailable, "scan history is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status   string           `json:"status"`
	Version  string           `json:"version"`
	Strategy scanner.Strategy `json:"strategy"`
	Device   *deviceHealth    `json:"device,omitempty"`
}

type deviceHealth struct {
	Attached bool   `json:"attached"`
	Path     string `json:"path,omitempty"`
	Name     string `json:"name,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: version, Strategy: a.classifier.Strategy()}
	if a.device != nil {
		if s := a.device(); s != nil {
			resp.Device = &deviceHealth{Attached: s.Attached, Path: s.Device.Path, Name: s.Device.Name}
			if s.Err != nil {
				resp.Device.Error = s.Err.Error()
			}
			if !s.Attached {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode runs the configured decoder over the request body without
// touching the classifier or the history.
func (a *api) decode(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := a.decoder.Decode(raw)
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// simulate types the request body into the classifier as if it had been
// scanned. With flush=true the buffer is decoded right away.
func (a *api) simulate(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "empty scan")
		return
	}
	flush, err := parseBool(r.URL.Query().Get("flush"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid flush: "+err.Error())
		return
	}
	if err := a.classifier.Simulate(raw); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if flush {
		if err := a.classifier.Flush(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// listScans serves GET /scans. An ai and value pair searches by field,
// otherwise since, until, strategy and structured filter the history.
func (a *api) listScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := parseInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit: "+err.Error())
		return
	}

	if ai := q.Get("ai"); ai != "" {
		results, err := a.history.FindByField(r.Context(), ai, q.Get("value"), n)
		if err != nil {
			a.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(results))
		return
	}

	query, err := parseQuery(q.Get, n)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := a.history.List(r.Context(), query)
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(results))
}

func (a *api) getScan(w http.ResponseWriter, r *http.Request) {
	res, err := a.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.history.Stats(r.Context())
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// stream sends every scan as a server-sent event until the client goes
// away.
func (a *api) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub := a.classifier.Subscribe(r.Context())
	defer sub.Close()
	if a.metrics != nil {
		a.metrics.Subscribers.Inc()
		defer a.metrics.Subscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(res)
			if err != nil {
				a.logger.Error("encode scan event", "id", res.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: scan\nid: %s\ndata: %s\n\n", res.ID, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// deviceCheck reports the input device as a readiness component.
func deviceCheck(status func() *device.Status) health.Check {
	return func(context.Context) health.Result {
		s := status()
		switch {
		case s == nil:
			return health.Result{Status: health.StatusUnknown, Message: "waiting for input device"}
		case !s.Attached:
			r := health.Result{Status: health.StatusUnhealthy, Message: "input device lost: " + s.Device.Path}
			if s.Err != nil {
				r.Error = s.Err.Error()
			}
			return r
		default:
			return health.Result{Status: health.StatusHealthy, Message: s.Device.Name}
		}
	}
}

func (a *api) internalError(w http.ResponseWriter, err error) {
	a.logger.Error("http handler failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// parseQuery builds a store.Query from URL parameters.
func parseQuery(get func(string) string, n int) (store.Query, error) {
	q := store.Query{Limit: n}
	var err error
	if q.Since, err = parseTime(get("since")); err != nil {
		return q, fmt.Errorf("invalid since: %w", err)
	}
	if q.Until, err = parseTime(get("until")); err != nil {
		return q, fmt.Errorf("invalid until: %w", err)
	}
	if s := get("strategy"); s != "" {
		var strategy scanner.Strategy
		if err := strategy.UnmarshalText([]byte(s)); err != nil {
			return q, err
		}
		q.Strategy = &strategy
	}
	if q.Structured, err = parseBool(get("structured")); err != nil {
		return q, fmt.Errorf("invalid structured: %w", err)
	}
	return q, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err == nil && n < 0 {
		err = errors.New("must not be negative")
	}
	return n, err
}

func readBody(w http.ResponseWriter, r *http.Request) (string, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil(results []*scanner.Result) []*scanner.Result {
	if results == nil {
		return []*scanner.Result{}
	}
	return results
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
