// Package introspect implements the HTTP introspection and control
// surface of spec.md section 4.9: a read-only window onto the being's
// internal state, plus the narrow write paths (chat, shell, and approving
// or rejecting a modification proposal) a human operator needs.
//
// Grounded on the teacher's modules/chimux (chi router construction,
// route registration shape) and modules/httpserver (http.Server
// lifecycle: goroutine-started Start, context-timeout-bounded graceful
// Stop), generalized from the teacher's dependency-injected module
// framework to a single plain struct since this being has no DI
// container.
package introspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digitalbeing/core/internal/budget"
	"github.com/digitalbeing/core/internal/cognitive"
	"github.com/digitalbeing/core/internal/health"
	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/memory/vector"
	"github.com/digitalbeing/core/internal/model"
	"github.com/digitalbeing/core/internal/shellexec"
	"github.com/digitalbeing/core/internal/tick/heavy"
	"github.com/digitalbeing/core/internal/tick/light"
)

// Orchestrator is the subset of *heavy.Orchestrator this surface reads.
type Orchestrator interface {
	Tick() uint64
	ActiveGoal() *model.ActiveGoal
	Emotions() cognitive.EmotionState
	Values() cognitive.ValueScores
	Beliefs() []string
	GoalsCompleted() int
}

var _ Orchestrator = (*heavy.Orchestrator)(nil)

// LightLoop is the subset of *light.Loop this surface reads.
type LightLoop interface {
	Counter() int64
}

var _ LightLoop = (*light.Loop)(nil)

// SelfModManager is the subset of *cognitive.Manager this surface reads
// and writes through /modifications.
type SelfModManager interface {
	List() []model.ModificationProposal
	Approve(ctx context.Context, id string, currentTick uint64) error
	Reject(ctx context.Context, id, reason string) error
}

// ShellExecutor is the subset of *shellexec.Executor this surface reads
// and writes through /shell/execute and /shell/stats.
type ShellExecutor interface {
	Execute(ctx context.Context, command string) (shellexec.Result, error)
	RejectedCount() int
}

// Deps bundles every collaborator the introspection surface reads from.
type Deps struct {
	ListenAddr string
	InboxPath  string

	Heavy    Orchestrator
	Light    LightLoop
	Episodic *episodic.Store
	Vector   *vector.Store
	Gateway  *llm.Gateway
	Budget   *budget.Tracker
	Health   *health.Monitor
	SelfMod  SelfModManager
	Shell    ShellExecutor
	Logger   logging.Logger
}

// Server is the introspection HTTP surface.
type Server struct {
	deps   Deps
	server *http.Server
	logger logging.Logger
}

// New builds the chi router and wraps it in an http.Server, unstarted.
func New(deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	s := &Server{deps: deps, logger: deps.Logger}

	r.Get("/status", s.handleStatus)
	r.Get("/memory", s.handleMemory)
	r.Get("/values", s.handleValues)
	r.Get("/emotions", s.handleEmotions)
	r.Get("/beliefs", s.handleBeliefs)
	r.Get("/contradictions", s.handleByType("contradiction"))
	r.Get("/milestones", s.handleByType("milestone"))
	r.Get("/diary", s.handleByType("narrative"))
	r.Get("/reflection", s.handleByType("action.outcome"))
	r.Get("/strategy", s.handleByType("goal_selection"))
	r.Get("/time", s.handleByType("time_perception"))
	r.Get("/meta-cognition", s.handleByType("meta_cognition"))
	r.Get("/skills", s.handleSkills)
	r.Get("/curiosity", s.handleByType("curiosity"))
	r.Get("/episodes", s.handleEpisodes)
	r.Get("/search", s.handleSearch)
	r.Get("/modifications", s.handleModifications)
	r.Post("/modifications/{id}/approve", s.handleModificationApprove)
	r.Post("/modifications/{id}/reject", s.handleModificationReject)
	r.Get("/shell/stats", s.handleShellStats)
	r.Post("/shell/execute", s.handleShellExecute)
	r.Get("/chat/outbox", s.handleChatOutbox)
	r.Post("/chat/send", s.handleChatSend)

	s.server = &http.Server{
		Addr:         deps.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine. A failure to bind is
// logged; it does not panic the process, matching spec.md section 4.9's
// characterization of this surface as non-essential to the being's
// operation.
func (s *Server) Start() {
	go func() {
		if s.logger != nil {
			s.logger.Info("introspect: starting HTTP server", "addr", s.deps.ListenAddr)
		}
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("introspect: server error", "error", err)
			}
		}
	}()
}

// Stop gracefully shuts the server down within a bounded timeout.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"heavy_tick":      s.deps.Heavy.Tick(),
		"active_goal":     s.deps.Heavy.ActiveGoal(),
		"goals_completed": s.deps.Heavy.GoalsCompleted(),
	}
	if s.deps.Budget != nil {
		resp["budget"] = s.deps.Budget.Report()
	}
	if s.deps.Light != nil {
		resp["light_tick"] = s.deps.Light.Counter()
	}
	if s.deps.Health != nil {
		resp["health"] = s.deps.Health.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := s.deps.Episodic.Count(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"episodic_count": count}
	if s.deps.Vector != nil {
		resp["vector_count"] = s.deps.Vector.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Heavy.Values())
}

func (s *Server) handleEmotions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Heavy.Emotions())
}

func (s *Server) handleBeliefs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Heavy.Beliefs())
}

// handleByType serves recent episodes of eventType -- it backs every
// content-shaped endpoint (strategy, diary, reflection, curiosity, ...)
// since those cognitive steps persist their output as typed episodes
// rather than through dedicated tables.
func (s *Server) handleByType(eventType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 20)
		episodes, err := s.deps.Episodic.GetByType(r.Context(), eventType, limit, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, episodes)
	}
}

// handleSkills reports recently logged skill episodes plus the
// principle dedup set size, per SPEC_FULL.md section C.5.
func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	episodes, err := s.deps.Episodic.GetByType(r.Context(), "skill", limit, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skills":          episodes,
		"principle_count": s.principleCount(r.Context()),
	})
}

func (s *Server) principleCount(ctx context.Context) int {
	principles, err := s.deps.Episodic.GetActivePrinciples(ctx)
	if err != nil {
		return 0
	}
	return len(principles)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	eventType := r.URL.Query().Get("event_type")
	ctx := r.Context()

	var (
		episodes []model.Episode
		err      error
	)
	if eventType != "" {
		episodes, err = s.deps.Episodic.GetByType(ctx, eventType, limit, nil)
	} else {
		episodes, err = s.deps.Episodic.GetRecent(ctx, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Vector == nil || s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "vector search not configured")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	topK := 5
	if v := r.URL.Query().Get("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}

	embedding, ok := s.deps.Gateway.Embed(r.Context(), q)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "embedding gateway call failed")
		return
	}
	results, err := s.deps.Vector.Search(r.Context(), embedding, topK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleModifications reports proposals plus the principle dedup set
// size, per SPEC_FULL.md section C.5 -- an operator watching proposals
// over time benefits from seeing how the self-model's principle count
// is growing alongside them.
func (s *Server) handleModifications(w http.ResponseWriter, r *http.Request) {
	proposals := []model.ModificationProposal{}
	if s.deps.SelfMod != nil {
		proposals = s.deps.SelfMod.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals":       proposals,
		"principle_count": s.principleCount(r.Context()),
	})
}

func (s *Server) handleModificationApprove(w http.ResponseWriter, r *http.Request) {
	if s.deps.SelfMod == nil {
		writeError(w, http.StatusServiceUnavailable, "self-modification not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.SelfMod.Approve(r.Context(), id, s.deps.Heavy.Tick()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleModificationReject(w http.ResponseWriter, r *http.Request) {
	if s.deps.SelfMod == nil {
		writeError(w, http.StatusServiceUnavailable, "self-modification not configured")
		return
	}
	id := chi.URLParam(r, "id")
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.deps.SelfMod.Reject(r.Context(), id, body.Reason); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleShellStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Shell == nil {
		writeError(w, http.StatusServiceUnavailable, "shell executor not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rejected_count": s.deps.Shell.RejectedCount()})
}

func (s *Server) handleShellExecute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Shell == nil {
		writeError(w, http.StatusServiceUnavailable, "shell executor not configured")
		return
	}
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.deps.Shell.Execute(r.Context(), body.Command)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChatOutbox(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	episodes, err := s.deps.Episodic.GetByType(r.Context(), "chat.outbound", limit, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, episodes)
}

// handleChatSend appends a message to the inbox file Light Tick polls,
// per spec.md section 4.7: operator messages ride the same inbox path
// as any other user input. Setting urgent=true applies the same
// "!URGENT " prefix Light Tick treats specially; plain messages wait for
// the next Light Tick poll like any other inbox line.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text   string `json:"text"`
		Urgent bool   `json:"urgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, "missing text field")
		return
	}
	if s.deps.InboxPath == "" {
		writeError(w, http.StatusServiceUnavailable, "inbox not configured")
		return
	}
	f, err := os.OpenFile(s.deps.InboxPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	line := body.Text
	if body.Urgent {
		line = "!URGENT " + line
	}
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
