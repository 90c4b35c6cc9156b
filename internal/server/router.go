package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openskirmish/skirmish-server-go/internal/auth"
	"github.com/openskirmish/skirmish-server-go/internal/content"
	"github.com/openskirmish/skirmish-server-go/internal/game"
	"github.com/openskirmish/skirmish-server-go/internal/repository"
)

// RouterConfig carries everything the HTTP surface depends on. History may
// be nil when no database is configured; Tokens may be nil to disable join
// tokens; Limiter may be nil to run without rate limiting (tests).
type RouterConfig struct {
	Logger         *zap.Logger
	Engine         *game.Engine
	Gateway        *Gateway
	Catalog        *content.Catalog
	Tokens         *auth.TokenStore
	History        *repository.HistoryRepository
	Limiter        *RateLimiter
	Metrics        *MetricsObserver
	AllowedOrigins []string
	AdminPassword  string
}

// NewRouter builds the chi router. It is pure: no goroutines, no
// listeners, safe to mount in httptest servers.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := &handlers{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger))
	}
	r.Use(metricsMiddleware)
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if cfg.Gateway != nil {
		r.Get("/ws", cfg.Gateway.HandleWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/cards", h.handleListCards)

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.handleCreateMatch)
			r.Get("/", h.handleListMatches)

			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", h.handleGetMatch)
				r.Get("/stats", h.handleGetStats)
				r.Get("/runs", h.handleGetRuns)
				r.Post("/resolve", h.handleResolve)
				r.Delete("/", h.requireAdmin(h.handleCloseMatch))
				r.Delete("/combatants/{combatantID}", h.requireAdmin(h.handleRemoveCombatant))
			})
		})
	})

	return r
}

// requestLogger logs each request once it completes.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type handlers struct {
	cfg RouterConfig
}

func (h *handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.CheckAdminPassword(h.cfg.AdminPassword, r.Header.Get("X-Admin-Password")) {
			writeError(w, "admin access required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *handlers) handleListCards(w http.ResponseWriter, r *http.Request) {
	catalog := h.cfg.Catalog
	if catalog == nil {
		catalog = content.Default()
	}
	writeJSON(w, map[string]any{"cards": catalog.Cards()})
}

func (h *handlers) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MatchID    string `json:"match_id"`
		Seed       int64  `json:"seed"`
		Combatants []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			MaxHealth int    `json:"max_health"`
		} `json:"combatants"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	matchID := req.MatchID
	if matchID == "" {
		matchID = uuid.NewString()
	}

	lineup := make([]game.CombatantSetup, 0, len(req.Combatants))
	for _, c := range req.Combatants {
		lineup = append(lineup, game.CombatantSetup{
			ID:        c.ID,
			Name:      c.Name,
			MaxHealth: c.MaxHealth,
		})
	}

	if err := h.cfg.Engine.CreateMatch(matchID, req.Seed, lineup); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, game.ErrMatchExists) {
			status = http.StatusConflict
		}
		writeError(w, err.Error(), status)
		return
	}
	setActiveMatches(len(h.cfg.Engine.Matches()))

	if h.cfg.Metrics != nil {
		if _, err := h.cfg.Engine.Subscribe(matchID, h.cfg.Metrics); err != nil && h.cfg.Logger != nil {
			h.cfg.Logger.Warn("metrics subscription failed", zap.String("match_id", matchID), zap.Error(err))
		}
	}

	view, err := h.cfg.Engine.MatchView(matchID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"match_id": matchID,
		"seed":     view.Seed,
		"match":    view,
	}

	if h.cfg.Tokens != nil {
		tokens := make(map[string]string, len(lineup))
		for _, c := range lineup {
			token, err := h.cfg.Tokens.Issue(matchID, c.ID)
			if err != nil {
				writeError(w, "issuing join tokens failed", http.StatusInternalServerError)
				return
			}
			tokens[c.ID] = token
		}
		resp["tokens"] = tokens
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *handlers) handleListMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"matches": h.cfg.Engine.Matches()})
}

func (h *handlers) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	view, err := h.cfg.Engine.MatchView(chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, view)
}

func (h *handlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cfg.Engine.Stats(chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, stats)
}

func (h *handlers) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	if h.cfg.History == nil {
		writeError(w, "run history requires a database", http.StatusServiceUnavailable)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.cfg.History.RecentRuns(r.Context(), chi.URLParam(r, "matchID"), limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"runs": records})
}

func (h *handlers) handleResolve(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	report, err := h.cfg.Engine.StartResolution(r.Context(), matchID)
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, game.ErrMatchNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]any{
		"run_id":      report.RunID,
		"seed":        report.Seed,
		"drained":     report.Drained,
		"executed":    report.Executed,
		"skipped":     report.Skipped,
		"order":       report.Order,
		"started":     report.Started,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

func (h *handlers) handleCloseMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	if err := h.cfg.Engine.CloseMatch(matchID); err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if h.cfg.Tokens != nil {
		h.cfg.Tokens.RevokeMatch(matchID)
	}
	setActiveMatches(len(h.cfg.Engine.Matches()))

	writeJSON(w, map[string]string{"closed": matchID})
}

func (h *handlers) handleRemoveCombatant(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	combatantID := chi.URLParam(r, "combatantID")

	if err := h.cfg.Engine.RemoveCombatant(matchID, combatantID); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, game.ErrMatchFinished) {
			status = http.StatusConflict
		}
		writeError(w, err.Error(), status)
		return
	}
	if h.cfg.Tokens != nil {
		h.cfg.Tokens.Revoke(matchID, combatantID)
	}

	writeJSON(w, map[string]string{"removed": combatantID})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
