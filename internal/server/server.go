// Package server provides the threadline HTTP API server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jxucoder/threadline/internal/config"
	"github.com/jxucoder/threadline/internal/orchestrator"
	"github.com/jxucoder/threadline/internal/policy"
	"github.com/jxucoder/threadline/internal/search"
)

// IdentityHeader carries the authenticated user's email, set by the
// authenticating proxy in front of the server.
const IdentityHeader = "X-User-Email"

const maxBodyBytes = 1 << 20

// Conversation runs one chat turn.
type Conversation interface {
	Converse(ctx context.Context, input, sessionID string) (orchestrator.Result, error)
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

// Authorizer reports whether identity may use the API.
type Authorizer func(identity string) bool

// AllowEmails authorizes the listed emails, case-insensitively. An empty list
// authorizes everyone.
func AllowEmails(emails []string) Authorizer {
	if len(emails) == 0 {
		return func(string) bool { return true }
	}
	allowed := make(map[string]bool, len(emails))
	for _, e := range emails {
		allowed[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return func(identity string) bool {
		return allowed[strings.ToLower(strings.TrimSpace(identity))]
	}
}

// Runner is a background channel (chat bot) started with the server.
type Runner interface {
	Run(ctx context.Context) error
}

// Server is the threadline HTTP API server.
type Server struct {
	config    *config.Config
	conv      Conversation
	searcher  Searcher
	authorize Authorizer
	bots      map[string]Runner
	logger    *slog.Logger
	router    chi.Router
}

// Option customizes a Server.
type Option func(*Server)

// WithAuthorizer replaces the allow list built from config.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Server) { s.authorize = a }
}

// WithBot starts r alongside the HTTP listener.
func WithBot(name string, r Runner) Option {
	return func(s *Server) { s.bots[name] = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(cfg *config.Config, conv Conversation, searcher Searcher, opts ...Option) *Server {
	s := &Server{
		config:    cfg,
		conv:      conv,
		searcher:  searcher,
		authorize: AllowEmails(cfg.AllowedEmails),
		bots:      map[string]Runner{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP and runs the chat bots until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	for name, bot := range s.bots {
		name, bot := name, bot
		go func() {
			s.logger.Info("chat bot enabled", "bot", name)
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("chat bot stopped", "bot", name, "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.config.ServerAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()

	s.logger.Info("threadline server listening", "addr", s.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// A turn may legitimately take the whole poll budget.
	r.Use(middleware.Timeout(s.config.PollBudget() + 30*time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireIdentity)
		r.Post("/chat", s.handleChat)
		r.Post("/search", s.handleSearch)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type chatRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"sessionId,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Middleware ---

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := r.Header.Get(IdentityHeader)
		if !s.authorize(identity) {
			s.logger.Warn("unauthorized request", "identity", identity, "path", r.URL.Path)
			w.Header().Set("Cache-Control", policy.NoCache)
			writeError(w, http.StatusForbidden, "not authorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Cache-Control", policy.NoCache)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.conv.Converse(r.Context(), req.Input, req.SessionID)
	decision, body := policy.Chat(res, err)
	if err != nil && decision.Status >= http.StatusInternalServerError {
		s.logger.Error("chat turn failed", "session_id", body.SessionID, "status", decision.Status, "error", err)
	}

	w.Header().Set("Cache-Control", decision.CacheControl)
	writeJSON(w, decision.Status, body)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var q search.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		w.Header().Set("Cache-Control", policy.NoCache)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.searcher.Search(r.Context(), q)
	decision := policy.Search(err)
	w.Header().Set("Cache-Control", decision.CacheControl)
	if err != nil {
		s.logger.Warn("search failed", "status", decision.Status, "error", err)
		writeError(w, decision.Status, err.Error())
		return
	}
	writeJSON(w, decision.Status, resp)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
