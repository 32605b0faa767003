// Package httpapi exposes the analysis and practice services over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chessblunders/analysis-core/internal/analysis"
	"github.com/chessblunders/analysis-core/internal/practice"
)

// UsageReader exposes the user's engine call count for the current day.
type UsageReader interface {
	Today(ctx context.Context, userID string) (int64, error)
}

type Server struct {
	repo     analysis.Repository
	orch     *analysis.Orchestrator
	practice *practice.Service
	usage    UsageReader
	log      *zap.Logger
}

func NewServer(repo analysis.Repository, orch *analysis.Orchestrator, practiceSvc *practice.Service, usage UsageReader, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{repo: repo, orch: orch, practice: practiceSvc, usage: usage, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/games", s.handleImportGame)
			r.Post("/games/{gameID}/analyze", s.handleAnalyzeOne)
			r.Post("/analysis/jobs", s.handleStartJob)
			r.Get("/analysis/jobs/latest", s.handleJobStatus)
			r.Post("/analysis/jobs/stop", s.handleStopJob)
			r.Get("/usage", s.handleUsage)
			r.Post("/practice/attempts", s.handlePracticeAttempt)
			r.Post("/practice/runs", s.handlePracticeRun)
			r.Get("/practice/stats", s.handlePracticeStats)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
