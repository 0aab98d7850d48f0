package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"deepwiki-proxy/internal/audit"
	"deepwiki-proxy/internal/gateway"
	"deepwiki-proxy/internal/telemetry"
)

// proxyJSON is the shared facade helper: one upstream call, one normalized
// reply. Non-2xx upstream bodies are decoded into the {error} shape with the
// upstream status preserved; 2xx bodies are relayed verbatim.
func (s *Server) proxyJSON(w http.ResponseWriter, r *http.Request, op string, spec gateway.ForwardSpec) *http.Response {
	telemetry.ProxiedRequests.WithLabelValues(op).Inc()
	spec.BearerToken = s.sessionToken(r)

	resp, err := s.gw.Forward(r.Context(), spec)
	if err != nil {
		s.writeUpstreamError(w, op, err)
		return nil
	}
	if resp.StatusCode >= 400 {
		s.writeUpstreamError(w, op, gateway.DecodeError(resp))
		return nil
	}
	return resp
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "create") {
		return
	}

	// Decode just far enough to reject garbage before it reaches upstream;
	// the forwarded body is the caller's own JSON.
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if repoURL, _ := req["repo_url"].(string); repoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	resp := s.proxyJSON(w, r, "create", gateway.ForwardSpec{
		Method: http.MethodPost,
		Path:   "/jobs",
		Body:   bytes.NewReader(body),
	})
	if resp == nil {
		return
	}
	relayJSON(w, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := url.Values{}
	// Empty filter values are omitted, never forwarded as empty strings.
	for _, key := range []string{"owner", "repo", "status"} {
		if v := r.URL.Query().Get(key); v != "" {
			q.Set(key, v)
		}
	}
	for _, key := range []string{"limit", "offset"} {
		if v := r.URL.Query().Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				q.Set(key, strconv.Itoa(n))
			}
		}
	}

	resp := s.proxyJSON(w, r, "list", gateway.ForwardSpec{
		Method: http.MethodGet,
		Path:   "/jobs",
		Query:  q.Encode(),
	})
	if resp == nil {
		return
	}
	relayJSON(w, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Progress must always be current; intermediaries may not cache it.
	// Set before the upstream call so error replies carry it too.
	w.Header().Set("Cache-Control", "no-store")
	resp := s.proxyJSON(w, r, "get", gateway.ForwardSpec{
		Method: http.MethodGet,
		Path:   "/jobs/" + url.PathEscape(id),
	})
	if resp == nil {
		return
	}
	relayJSON(w, resp)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := s.proxyJSON(w, r, "cancel", gateway.ForwardSpec{
		Method: http.MethodDelete,
		Path:   "/jobs/" + url.PathEscape(id),
	})
	if resp == nil {
		return
	}
	s.recordControl(r, id, "cancel")
	relayJSON(w, resp)
}

// controlHandler builds the pause/resume/retry handlers, which differ only
// in the sub-resource they POST to.
func (s *Server) controlHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		resp := s.proxyJSON(w, r, action, gateway.ForwardSpec{
			Method: http.MethodPost,
			Path:   "/jobs/" + url.PathEscape(id) + "/" + action,
		})
		if resp == nil {
			return
		}
		s.recordControl(r, id, action)
		relayJSON(w, resp)
	}
}

// handleHardDelete is the POST /jobs/{id}/delete sub-resource, distinct from
// cancel. Upstream rejects it for non-terminal jobs; that verdict is relayed
// as-is.
func (s *Server) handleHardDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := s.proxyJSON(w, r, "delete", gateway.ForwardSpec{
		Method: http.MethodPost,
		Path:   "/jobs/" + url.PathEscape(id) + "/delete",
	})
	if resp == nil {
		return
	}
	s.recordControl(r, id, "delete")
	relayJSON(w, resp)
}

func (s *Server) handleRetryPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pageID := chi.URLParam(r, "pageId")
	resp := s.proxyJSON(w, r, "retry_page", gateway.ForwardSpec{
		Method: http.MethodPost,
		Path:   "/jobs/" + url.PathEscape(id) + "/pages/" + url.PathEscape(pageID) + "/retry",
	})
	if resp == nil {
		return
	}
	s.recordControl(r, id, "retry_page:"+pageID)
	relayJSON(w, resp)
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	entries, err := s.audit.Recent(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// recordControl appends an audit row for an accepted control action. Audit
// failures are logged, never surfaced: the upstream transition already
// happened.
func (s *Server) recordControl(r *http.Request, jobID, action string) {
	detail := fmt.Sprintf("requested via %s from %s", r.URL.Path, r.RemoteAddr)
	if err := s.audit.Record(r.Context(), jobID, action, detail); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("action", action).Msg("audit write failed")
	}
}
