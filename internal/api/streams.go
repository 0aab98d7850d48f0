package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"deepwiki-proxy/internal/gateway"
	"deepwiki-proxy/internal/relay"
	"deepwiki-proxy/internal/telemetry"
)

// handleChatStream proxies POST /chat/completions/stream. The upstream body
// is an opaque token stream relayed byte-for-byte.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, "chat") {
		return
	}
	telemetry.ProxiedRequests.WithLabelValues("chat").Inc()

	header := http.Header{}
	header.Set("Accept", "text/event-stream")
	resp, err := s.gw.Forward(r.Context(), gateway.ForwardSpec{
		Method:      http.MethodPost,
		Path:        "/chat/completions/stream",
		Body:        r.Body,
		Header:      header,
		BearerToken: s.sessionToken(r),
	})
	if err != nil {
		s.writeUpstreamError(w, "chat", err)
		return
	}

	session, err := relay.New(resp, s.log)
	if err != nil {
		// No partial relay of an error page; surface the upstream verdict.
		s.writeUpstreamError(w, "chat", gateway.DecodeError(resp))
		return
	}
	if err := session.Copy(r.Context(), w); err != nil {
		// Headers are long gone; all that is left is to note the failure.
		s.log.Error().Err(err).Msg("chat relay ended with upstream error")
	}
}

// handleProgressStream proxies GET /jobs/{id}/progress/stream, relaying the
// newline-delimited progress records one line at a time.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	telemetry.ProxiedRequests.WithLabelValues("progress").Inc()

	id := chi.URLParam(r, "id")
	header := http.Header{}
	header.Set("Accept", "application/x-ndjson")
	resp, err := s.gw.Forward(r.Context(), gateway.ForwardSpec{
		Method:      http.MethodGet,
		Path:        "/jobs/" + url.PathEscape(id) + "/progress/stream",
		Header:      header,
		BearerToken: s.sessionToken(r),
	})
	if err != nil {
		s.writeUpstreamError(w, "progress", err)
		return
	}

	session, err := relay.New(resp, s.log)
	if err != nil {
		s.writeUpstreamError(w, "progress", gateway.DecodeError(resp))
		return
	}
	if err := session.CopyLines(r.Context(), w); err != nil {
		s.log.Error().Err(err).Str("job_id", id).Msg("progress relay ended with upstream error")
	}
}
