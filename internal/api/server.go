package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"deepwiki-proxy/internal/audit"
	"deepwiki-proxy/internal/config"
	"deepwiki-proxy/internal/gateway"
	"deepwiki-proxy/internal/ratelimit"
	"deepwiki-proxy/internal/telemetry"
)

// Server wires the HTTP surface of the proxy: the job control facade, the
// two streaming relays, and the operational endpoints.
type Server struct {
	cfg     config.Config
	gw      *gateway.Gateway
	limiter *ratelimit.Limiter // nil disables rate limiting
	audit   *audit.Store       // nil disables the audit trail
	log     zerolog.Logger
}

// New constructs the API server.
func New(cfg config.Config, gw *gateway.Gateway, limiter *ratelimit.Limiter, auditStore *audit.Store, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		gw:      gw,
		limiter: limiter,
		audit:   auditStore,
		log:     logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Delete("/jobs/{id}", s.handleCancelJob)
	r.Post("/jobs/{id}/pause", s.controlHandler("pause"))
	r.Post("/jobs/{id}/resume", s.controlHandler("resume"))
	r.Post("/jobs/{id}/retry", s.controlHandler("retry"))
	r.Post("/jobs/{id}/delete", s.handleHardDelete)
	r.Post("/jobs/{id}/pages/{pageId}/retry", s.handleRetryPage)
	r.Get("/jobs/{id}/progress/stream", s.handleProgressStream)
	r.Post("/chat/completions/stream", s.handleChatStream)
	r.Get("/audit", s.handleAuditRecent)

	return r
}

// sessionToken reads the per-request bearer token from the HttpOnly session
// cookie. Tokens are never cached across requests.
func (s *Server) sessionToken(r *http.Request) string {
	c, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// allow applies the token bucket for expensive operations. Returns false
// after writing the 429 reply.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, op string) bool {
	if s.limiter == nil {
		return true
	}
	d, err := s.limiter.Allow(r.Context(), "rl:"+op+":"+r.RemoteAddr)
	if err != nil {
		// The limiter protects upstream; its own outage must not take the
		// proxy down with it.
		s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		return true
	}
	if !d.Allowed {
		telemetry.RateLimitRejects.Inc()
		writeError(w, http.StatusTooManyRequests, "rate limited, slow down")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeUpstreamError surfaces a normalized gateway failure: the upstream
// status verbatim, or 503 when the backend was unreachable.
func (s *Server) writeUpstreamError(w http.ResponseWriter, op string, err error) {
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) {
		if ue.Status == http.StatusServiceUnavailable {
			telemetry.UpstreamUnreach.Inc()
		} else {
			telemetry.UpstreamErrors.WithLabelValues(op).Inc()
		}
		writeError(w, ue.Status, ue.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// relayJSON copies a successful upstream JSON reply to the client with the
// upstream status code preserved.
func relayJSON(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
