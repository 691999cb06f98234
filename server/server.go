// Package server exposes stored type graphs over a read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
	"github.com/gofhir/codegen/store"
)

// Server serves graphs from a GraphStore.
type Server struct {
	store    store.GraphStore
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithTracerProvider sets the tracer provider for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp.Tracer("github.com/gofhir/codegen/server")
		}
	}
}

// New creates a server over st.
func New(st store.GraphStore, opts ...Option) *Server {
	s := &Server{
		store:    st,
		gatherer: prometheus.DefaultGatherer,
		logger:   zerolog.Nop(),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "server").Logger()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/graphs/{version}", func(r chi.Router) {
		r.Get("/", s.graph)
		r.Get("/builds", s.builds)
		r.Get("/types/{name}", s.typeByName)
		r.Get("/resources/{name}/search-parameters", s.searchParameters)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("graph server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info().Msg("shutting down graph server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// latest loads the newest graph for the {version} parameter and writes the
// error response itself when that fails.
func (s *Server) latest(w http.ResponseWriter, r *http.Request) (*ir.TypeGraph, bool) {
	version, err := fc.ParseFHIRVersion(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}

	ctx, span := s.tracer.Start(r.Context(), "server.latest", trace.WithAttributes(attribute.String("fhir_version", version.String())))
	defer span.End()

	g, err := s.store.Latest(ctx, version)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return g, true
}

func (s *Server) graph(w http.ResponseWriter, r *http.Request) {
	format, err := ir.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, ok := s.latest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := ir.Encode(w, g, format); err != nil {
		s.logger.Error().Err(err).Msg("encode graph")
	}
}

func (s *Server) builds(w http.ResponseWriter, r *http.Request) {
	version, err := fc.ParseFHIRVersion(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.store.List(r.Context(), version)
	if err != nil {
		s.fail(w, err)
		return
	}
	if list == nil {
		list = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// typeResponse wraps a single type with the map it came from.
type typeResponse struct {
	Category string `json:"category"`
	Type     any    `json:"type"`
}

func (s *Server) typeByName(w http.ResponseWriter, r *http.Request) {
	g, ok := s.latest(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	category, value, found := g.Lookup(name)
	if !found {
		writeError(w, http.StatusNotFound, fc.NewError(fc.ErrNotFound, "type "+name, nil))
		return
	}
	writeJSON(w, http.StatusOK, typeResponse{Category: category, Type: value})
}

func (s *Server) searchParameters(w http.ResponseWriter, r *http.Request) {
	g, ok := s.latest(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	rt, found := g.Resources.Get(name)
	if !found {
		writeError(w, http.StatusNotFound, fc.NewError(fc.ErrNotFound, "resource "+name, nil))
		return
	}
	params := rt.SearchParameters
	if params == nil {
		params = []ir.SearchParameter{}
	}
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, fc.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Error().Err(err).Msg("store lookup failed")
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
