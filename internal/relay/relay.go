package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deepwiki-proxy/internal/telemetry"
)

// ErrNotStreamable is returned when the upstream response cannot be relayed:
// a non-2xx status or a missing body. The caller surfaces the upstream
// status and body directly instead of starting a partial relay.
var ErrNotStreamable = errors.New("upstream response is not streamable")

// Session forwards one long-lived upstream response body to a client
// ResponseWriter. A Session is owned by the request handler that created it
// and is never shared; the upstream body is closed exactly once on every
// exit path.
type Session struct {
	id       string
	upstream *http.Response
	log      zerolog.Logger
}

// New validates the upstream response and builds a relay session. On
// ErrNotStreamable the upstream body is left untouched so the caller can
// decode the error page.
func New(upstream *http.Response, logger zerolog.Logger) (*Session, error) {
	if upstream.StatusCode < 200 || upstream.StatusCode >= 300 || upstream.Body == nil {
		return nil, ErrNotStreamable
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		upstream: upstream,
		log:      logger.With().Str("session_id", id).Logger(),
	}, nil
}

// writeHeaders mirrors the upstream Content-Type and disables intermediary
// buffering and caching. lineStream additionally tells buffering proxies to
// pass records through immediately.
func (s *Session) writeHeaders(w http.ResponseWriter, lineStream bool) {
	if ct := s.upstream.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	if lineStream {
		w.Header().Set("X-Accel-Buffering", "no")
	}
}

// Copy relays the upstream body to the client byte-for-byte, flushing after
// every chunk, until the body is exhausted, the upstream read fails, or ctx
// is cancelled. Memory use is bounded by one chunk regardless of stream
// length.
func (s *Session) Copy(ctx context.Context, w http.ResponseWriter) error {
	defer s.upstream.Body.Close()
	s.writeHeaders(w, false)

	telemetry.RelaysStarted.Inc()
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			s.clientGone("chat")
			return nil
		}
		n, readErr := s.upstream.Body.Read(buf)
		if n > 0 {
			telemetry.RelayBytes.Add(float64(n))
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				s.clientGone("chat")
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return s.finishRead(ctx, readErr)
		}
	}
}

// CopyLines relays complete newline-delimited records in order, one line at
// a time. Record content is opaque here; parsing belongs to the consumer.
func (s *Session) CopyLines(ctx context.Context, w http.ResponseWriter) error {
	defer s.upstream.Body.Close()
	s.writeHeaders(w, true)

	telemetry.RelaysStarted.Inc()
	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(s.upstream.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			s.clientGone("progress")
			return nil
		}
		line := scanner.Bytes()
		telemetry.RelayBytes.Add(float64(len(line) + 1))
		if _, err := w.Write(append(line, '\n')); err != nil {
			s.clientGone("progress")
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return s.finishRead(ctx, scanner.Err())
}

// finishRead classifies the end of the upstream body. io.EOF and
// scanner-exhaustion are clean ends; a read failure after the client already
// went away is an expected, low-severity event, not an error.
func (s *Session) finishRead(ctx context.Context, readErr error) error {
	if readErr == nil || errors.Is(readErr, io.EOF) || errors.Is(readErr, context.Canceled) {
		return nil
	}
	if ctx.Err() != nil {
		s.log.Debug().Err(readErr).Msg("upstream read failed after client disconnect")
		return nil
	}
	return fmt.Errorf("upstream read: %w", readErr)
}

func (s *Session) clientGone(kind string) {
	telemetry.ClientDisconnects.Inc()
	s.log.Debug().Str("stream", kind).Msg("client disconnected, stopping relay")
}
