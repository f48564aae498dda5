// Package httpapi exposes the ETL engine and the star-schema reports over
// HTTP. Routes:
//
//	GET|POST /api/etl/process/{year}         run the ETL ("all" or a year; ?mode=)
//	GET      /api/etl/status/{year}          per-year load status
//	DELETE   /api/clear/all                  empty the star schema
//	DELETE   /api/clear/year/{year}          delete one year and unused dimensions
//	GET      /api/clear/status               row count per table
//	GET      /api/facts                      paged fact details (?page&size&year&month)
//	GET      /api/facts/summary/year/{year}[/month/{month}]
//	GET      /api/facts/top-countries/{year} (?limit)
//	GET      /api/facts/top-hs2/{year}       (?limit)
//	GET      /api/facts/summary/{year}[/{month}] (?limit)
//	GET      /api/data/dimensions/{hs2|hs4|countries}
//	GET      /api/data/facts/summary         (?year&month)
//	GET      /api/data/years
//	GET      /healthz, /metrics
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"

	"tradeetl/internal/multitable"
	"tradeetl/internal/storage"
)

// Engine is the slice of *multitable.Engine the API drives.
type Engine interface {
	Run(ctx context.Context, scope storage.Scope, mode multitable.Mode) (multitable.RunResult, error)
	ResetAll(ctx context.Context) error
	ResetYear(ctx context.Context, year int) (multitable.ResetStats, error)
	Status(ctx context.Context, year int) (multitable.Status, error)
	TableCounts(ctx context.Context) (storage.TableCounts, error)
}

// Store is the read side used by the report endpoints.
type Store interface {
	storage.Reporter
	LoadDimensions(ctx context.Context, kind storage.DimensionKind) ([]storage.Dimension, error)
	SourceYears(ctx context.Context) ([]string, error)
}

// Options configure the router.
type Options struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// DefaultMode applies when ?mode is absent.
	DefaultMode multitable.Mode

	// CORSOrigins defaults to all origins.
	CORSOrigins []string

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// QueryTimeout bounds each report query. Defaults to 30s.
	QueryTimeout time.Duration
}

// Server holds the handlers' dependencies.
type Server struct {
	engine Engine
	store  Store
	opts   Options

	// mutating serializes runs and resets; they rewrite the same tables.
	mutating sync.Mutex
}

// New builds the API router.
func New(engine Engine, store Store, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	s := &Server{engine: engine, store: store, opts: opts}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api/etl", func(r chi.Router) {
		r.Get("/process/{year}", s.handleProcess)
		r.Post("/process/{year}", s.handleProcess)
		r.Get("/status/{year}", s.handleStatus)
	})

	r.Route("/api/clear", func(r chi.Router) {
		r.Delete("/all", s.handleClearAll)
		r.Delete("/year/{year}", s.handleClearYear)
		r.Get("/status", s.handleTableCounts)
	})

	r.Route("/api/facts", func(r chi.Router) {
		r.Get("/", s.handleFacts)
		r.Get("/summary/year/{year}", s.handleTotals)
		r.Get("/summary/year/{year}/month/{month}", s.handleTotals)
		r.Get("/top-countries/{year}", s.handleTopCountries)
		r.Get("/top-hs2/{year}", s.handleTopHS2)
		r.Get("/summary/{year}", s.handleSummary)
		r.Get("/summary/{year}/{month}", s.handleSummary)
	})

	r.Route("/api/data", func(r chi.Router) {
		r.Get("/dimensions/{kind}", s.handleDimensions)
		r.Get("/facts/summary", s.handleDataSummary)
		r.Get("/years", s.handleYears)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method "+r.Method+" not allowed")
	})
	return r
}

// requestLogger logs one line per request with slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.opts.Clock.Now()
		next.ServeHTTP(ww, r)
		s.opts.Logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", s.opts.Clock.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// queryCtx bounds a report query.
func (s *Server) queryCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.QueryTimeout)
}
