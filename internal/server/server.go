// Package server exposes the HTTP API: session login, project CRUD,
// repository sync, the change proposer, the chat relay, and the applier.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wakelak/wakelak/internal/agent"
	"github.com/wakelak/wakelak/internal/apperr"
	"github.com/wakelak/wakelak/internal/auth"
	"github.com/wakelak/wakelak/internal/config"
	"github.com/wakelak/wakelak/internal/db"
	"github.com/wakelak/wakelak/internal/github"
	"github.com/wakelak/wakelak/internal/llm"
	"github.com/wakelak/wakelak/internal/log"
)

type Server struct {
	cfg      *config.Config
	queries  *db.Queries
	sessions *auth.Sessions
	resolver *auth.TokenResolver
	gh       *github.Client
	ai       *llm.Client
	agent    *agent.Agent
	httpSrv  *http.Server
	ln       net.Listener
	addr     string
}

func New(cfg *config.Config, queries *db.Queries, gh *github.Client, ai *llm.Client) *Server {
	s := &Server{
		cfg:      cfg,
		queries:  queries,
		sessions: auth.NewSessions(cfg.Auth.Secret, cfg.Auth.Email, cfg.Auth.Password, cfg.Auth.TokenTTL),
		resolver: auth.NewTokenResolver(queries, cfg.GitHub.FallbackToken),
		gh:       gh,
		ai:       ai,
		agent:    agent.New(ai, cfg.Limits.MaxPromptChars, cfg.Limits.MaxContentChars),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.Handle("GET /api/projects", s.requireAuth(s.handleListProjects))
	mux.Handle("POST /api/projects", s.requireAuth(s.handleCreateProject))
	mux.Handle("DELETE /api/projects/{id}", s.requireAuth(s.handleDeleteProject))
	mux.Handle("POST /api/projects/{id}/open", s.requireAuth(s.handleOpenProject))
	mux.Handle("POST /api/projects/{id}/link", s.requireAuth(s.handleLinkProject))
	mux.Handle("GET /api/projects/{id}/messages", s.requireAuth(s.handleListMessages))

	mux.Handle("POST /api/github/oauth", s.requireAuth(s.handleGitHubOAuth))
	mux.Handle("POST /api/github/sync", s.requireAuth(s.handleGitHubSync))

	mux.Handle("POST /api/agent", s.requireAuth(s.handleAgent))
	mux.Handle("POST /api/agent/fix", s.requireAuth(s.handleAgentFix))
	mux.Handle("POST /api/changes/apply", s.requireAuth(s.handleApplyChanges))
	mux.Handle("POST /api/chat", s.requireAuth(s.handleChat))

	s.httpSrv = &http.Server{Handler: mux}
	return s
}

// Listen binds the configured address. Call before Run; Addr is valid after.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Run serves requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Logger.Info("server listening", zap.String("addr", s.addr))
		if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Logger.Info("shutting down")
		return s.httpSrv.Shutdown(context.Background())
	})

	return g.Wait()
}

func (s *Server) Addr() string {
	return s.addr
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

type ctxKey int

const userKey ctxKey = 0

// requireAuth verifies the bearer session token and stores the user in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, apperr.New(apperr.CodeUnauthorized, "missing session token"))
			return
		}
		userID, err := s.sessions.Verify(token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	})
}

func userFrom(r *http.Request) string {
	if v, ok := r.Context().Value(userKey).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger.Warn("writing response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Logger.Error("request failed", zap.Error(err))
	} else {
		log.Logger.Debug("request rejected", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": apperr.ClientMessage(err),
		"code":  string(apperr.CodeOf(err)),
	})
}

// decodeBody parses a JSON request body into v, rejecting unreadable input.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "invalid request body")
	}
	return nil
}
