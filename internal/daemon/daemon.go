// Copyright 2026 The Cmdgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon implements the cmdgate validation daemon: a local HTTP
// service that validates commands against the loaded rule set, records
// audit events, streams decisions over WebSocket, and reloads rules when
// the rule files change on disk.
//
// The daemon is an optional convenience over the hook path. Validation
// semantics are identical; the daemon just keeps the rule set warm and
// gives operators a live view.
package daemon

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peg/cmdgate/internal/audit"
	"github.com/peg/cmdgate/internal/build"
	"github.com/peg/cmdgate/internal/engine"
	"github.com/peg/cmdgate/internal/scan"
)

// maxRequestBody is the maximum allowed request body size (1MB).
const maxRequestBody = 1 << 20

// Server is the cmdgate daemon runtime.
type Server struct {
	store    *engine.RuleStore
	env      engine.Env
	analyzer *scan.Analyzer
	sink     audit.Sink
	token    string
	logger   *slog.Logger
	hub      *hub

	metricsEnabled bool

	mu         sync.RWMutex
	eng        *engine.Engine
	ruleSet    *engine.RuleSet
	server     *http.Server
	listenAddr string

	startedAt time.Time
	reloads   atomic.Int64
}

// Option configures a daemon server.
type Option func(*Server)

// WithToken sets the bearer auth token. An empty token at construction
// time generates a random one.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithLogger sets the logger used by the daemon.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables the /metrics Prometheus endpoint.
func WithMetrics(enabled bool) Option {
	return func(s *Server) {
		s.metricsEnabled = enabled
	}
}

// WithSink sets the audit sink. A nil sink disables audit recording.
func WithSink(sink audit.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithAnalyzer sets the script analyzer used by the validation engine.
func WithAnalyzer(analyzer *scan.Analyzer) Option {
	return func(s *Server) {
		s.analyzer = analyzer
	}
}

// New creates a daemon server over the given rule store. Rules are loaded
// immediately; a store that cannot load is a construction error.
func New(store *engine.RuleStore, env engine.Env, opts ...Option) (*Server, error) {
	s := &Server{
		store:     store,
		env:       env,
		logger:    slog.Default(),
		hub:       newHub(),
		startedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	if s.token == "" {
		s.token = generateToken(s.logger)
	}
	if len(s.token) > 4 {
		s.logger.Info("daemon: auth token", "prefix", s.token[:4]+"…")
	}

	return s, nil
}

// Token returns the daemon's bearer token.
func (s *Server) Token() string {
	return s.token
}

// Reload re-reads every rule tier and swaps in a fresh engine. Parse
// errors do not fail the reload; malformed lines are skipped with a
// warning, matching the hook path.
func (s *Server) Reload() error {
	set, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("daemon: load rules: %w", err)
	}
	for _, perr := range set.Errors {
		s.logger.Warn("daemon: rule parse error", "error", perr.Error())
	}

	eng := engine.New(set.Rules, s.env, s.analyzer, s.logger)

	s.mu.Lock()
	s.eng = eng
	s.ruleSet = set
	s.mu.Unlock()

	n := s.reloads.Add(1)
	if s.metricsEnabled {
		SetRuleCount(len(set.Rules))
		RecordReload()
	}
	s.logger.Info("daemon: rules loaded", "rules", len(set.Rules), "files", len(set.Files), "reloads", n)
	return nil
}

// Run serves HTTP on addr and watches rule files for changes until the
// context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen: %w", err)
	}
	s.mu.Lock()
	s.listenAddr = listener.Addr().String()
	s.mu.Unlock()

	go s.watchRuleFiles(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s.Serve(listener)
}

// Serve starts serving HTTP requests on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listenAddr = listener.Addr().String()
	srv := &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("daemon: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the daemon server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	s.hub.closeAll()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("daemon: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/check", s.handleCheck)
	mux.HandleFunc("GET /v1/rules", s.handleRules)
	mux.HandleFunc("POST /v1/rules/reload", s.handleReload)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsEnabled {
		mux.Handle("GET /metrics", MetricsHandler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return http.MaxBytesHandler(mux, maxRequestBody)
}

// checkRequest is the JSON body for POST /v1/check.
type checkRequest struct {
	Command string `json:"command"`
	Agent   string `json:"agent,omitempty"`
	Session string `json:"session,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	s.mu.RLock()
	eng := s.eng
	s.mu.RUnlock()

	result := eng.ValidateCommand(req.Command)

	if s.metricsEnabled {
		pattern := ""
		if result.Rule != nil {
			pattern = result.Rule.Pattern
		}
		RecordDecision(result.Action.String(), pattern, result.EvalDuration)
		SetUptime(time.Since(s.startedAt))
	}

	event := s.writeAudit(req, result)
	s.hub.broadcast(event)

	resp := map[string]any{
		"decision":         result.Action.String(),
		"reason":           result.Reason,
		"eval_duration_us": result.EvalDuration.Microseconds(),
	}
	if result.Rule != nil {
		resp["rule_pattern"] = result.Rule.Pattern
		resp["rule_source"] = result.Rule.Source.String()
	}
	if result.Meta != nil {
		if len(result.Meta.TargetPaths) > 0 {
			resp["target_paths"] = result.Meta.TargetPaths
		}
		if result.Meta.EstimatedImpact != "" {
			resp["estimated_impact"] = result.Meta.EstimatedImpact
		}
	}

	status := http.StatusOK
	switch result.Action {
	case engine.ActionBlock:
		status = http.StatusForbidden
	case engine.ActionConfirm:
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeAudit(req checkRequest, result engine.Result) audit.Event {
	event := audit.Event{
		ID:        audit.NewEventID(),
		Timestamp: time.Now().UTC(),
		Agent:     req.Agent,
		Session:   req.Session,
		Command:   req.Command,
		Decision: audit.Decision{
			Action:     result.Action.String(),
			Reason:     result.Reason,
			EvalTimeUS: result.EvalDuration.Microseconds(),
		},
	}
	if result.Rule != nil {
		event.Decision.RulePattern = result.Rule.Pattern
		event.Decision.RuleSource = result.Rule.Source.String()
	}
	if result.Meta != nil {
		event.Decision.TargetPaths = result.Meta.TargetPaths
	}

	if s.sink != nil {
		if err := s.sink.Write(event); err != nil {
			s.logger.Error("daemon: audit write failed", "error", err)
		}
	}
	return event
}

// handleRules returns a summary of the loaded rule set.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}

	s.mu.RLock()
	set := s.ruleSet
	s.mu.RUnlock()

	counts := map[string]int{}
	for _, rule := range set.Rules {
		counts[rule.Kind.String()]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rule_count":   len(set.Rules),
		"kind_counts":  counts,
		"files":        set.Files,
		"parse_errors": len(set.Errors),
		"reloads":      s.reloads.Load(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}

	if err := s.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.RLock()
	count := len(s.ruleSet.Rules)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":   true,
		"rule_count": count,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	uptime := int(time.Since(s.startedAt).Seconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": uptime,
		"version":        build.Version,
	})
}

// checkAuth validates the bearer token. Returns false if auth fails
// (error already written).
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization header")
		return false
	}

	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid authorization token")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func generateToken(logger *slog.Logger) string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is a critical system issue. Fail hard rather
		// than starting with a predictable token.
		logger.Error("daemon: crypto/rand unavailable, cannot generate secure token", "error", err)
		panic("cmdgate: crypto/rand failed; refusing to start with insecure token")
	}
	return hex.EncodeToString(buf)
}
