// Package httpapi is the web surface: health and info endpoints, the
// Prometheus scrape target, the audit listing and the challenge login flow.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/overbridge/chatgate/internal/audit"
	"github.com/overbridge/chatgate/internal/challenge"
	"github.com/overbridge/chatgate/internal/config"
	"github.com/overbridge/chatgate/internal/obs"
	"github.com/overbridge/chatgate/internal/resume"
	"github.com/overbridge/chatgate/internal/security"
)

type Dependencies struct {
	Config   config.Config
	Security *security.Manager
	Broker   *challenge.Broker
	Resume   *resume.Engine
	Audit    *audit.Store
	Logger   *slog.Logger
}

type router struct {
	deps    Dependencies
	limiter *rate.Limiter
}

func NewRouter(deps Dependencies) http.Handler {
	rt := &router{
		deps:    deps,
		limiter: rate.NewLimiter(rate.Limit(deps.Config.LoginRatePerSecond), deps.Config.LoginRateBurst),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/auth/login", rt.handleLogin)
	mux.HandleFunc("/api/v1/audit/events", rt.handleAuditEvents)
	mux.HandleFunc("/login", rt.handleLoginPage)
	mux.Handle("/metrics", obs.Handler())
	return mux
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Audit.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "chatgate",
		"bot_name":   r.deps.Config.BotName,
		"public_url": r.deps.Config.PublicURL,
		"strategy":   r.deps.Config.AuthStrategy,
	})
}

func (r *router) handleAuditEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}
	events, err := r.deps.Audit.ListRecent(req.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	payload := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payload = append(payload, map[string]any{
			"id":              event.ID,
			"kind":            event.Kind,
			"user":            event.User,
			"detail":          event.Detail,
			"created_at_unix": event.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": payload,
		"count": len(payload),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
