// Package server exposes the medinotes HTTP API: cited research
// answers, drug interaction checks, consultation summaries, feedback,
// and history.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/AndrewLee0430/medinotes/internal/audit"
	"github.com/AndrewLee0430/medinotes/internal/db"
	"github.com/AndrewLee0430/medinotes/internal/history"
	"github.com/AndrewLee0430/medinotes/internal/knowledge"
	"github.com/AndrewLee0430/medinotes/internal/rag"
	"github.com/AndrewLee0430/medinotes/internal/retrieval"
	"github.com/AndrewLee0430/medinotes/internal/verify"
)

// Config holds server configuration.
type Config struct {
	Addr       string
	MaxResults int  // retrieval cap per research query
	AllowAll   bool // allow all CORS origins (dev mode)
}

// DocumentRetriever produces ranked documents for a query.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string, maxResults int, sourceFilter []retrieval.SourceType) []retrieval.Document
}

// AnswerStreamer generates cited answers and visit summaries.
type AnswerStreamer interface {
	GenerateStream(ctx context.Context, question string, docs []retrieval.Document, onEvent func(rag.StreamEvent) error) error
	SummarizeVisitStream(ctx context.Context, visit rag.Visit, onDelta func(string) error) error
}

// InteractionChecker runs the drug interaction pipeline.
type InteractionChecker interface {
	Check(ctx context.Context, userID string, drugs []string, patientContext string) verify.Result
}

// KnowledgeStats reports local knowledge base statistics.
type KnowledgeStats interface {
	GetStats() knowledge.Stats
}

// Server is the medinotes API server.
type Server struct {
	cfg        Config
	db         *db.DB
	retriever  DocumentRetriever
	generator  AnswerStreamer
	verifier   InteractionChecker
	know       KnowledgeStats
	auditLog   *audit.Store
	histStore  *history.Store
	feedback   *history.FeedbackStore
	validate   *validator.Validate
	router     chi.Router
	httpServer *http.Server
}

// New creates a server with all dependencies wired.
func New(cfg Config, database *db.DB, ret DocumentRetriever, gen AnswerStreamer, ver InteractionChecker, know KnowledgeStats) *Server {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}

	s := &Server{
		cfg:       cfg,
		db:        database,
		retriever: ret,
		generator: gen,
		verifier:  ver,
		know:      know,
		validate:  validator.New(),
	}
	if database != nil {
		s.auditLog = audit.NewStore(database)
		s.histStore = history.NewStore(database)
		s.feedback = history.NewFeedbackStore(database)
	}

	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		// Streaming endpoints check the question inside the
		// handler; the gate middleware covers buffered bodies.
		r.Post("/api/research", s.handleResearch)
		r.Get("/api/research/suggestions", s.handleSuggestions)
		r.Post("/api/consultation", s.handleConsultation)
		r.Get("/ws/research", s.handleResearchWS)

		r.Group(func(r chi.Router) {
			r.Use(phiGate)
			r.Post("/api/verify", s.handleVerify)
			r.Post("/api/feedback", s.handleFeedback)
		})

		r.Get("/api/history", s.handleHistory)
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("medinotes server listening on %s", s.cfg.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
