package stream

import (
	"bytes"
	"context"
	"encoding/json"

	"deepwiki-proxy/internal/models"
)

// ProgressHandlers receives decoded progress records. OnEvent sees only
// substantive updates; heartbeats go to OnHeartbeat. Exactly one of OnClose
// or OnError fires per WatchProgress call.
type ProgressHandlers struct {
	OnEvent     func(ev models.ProgressEvent)
	OnHeartbeat func()
	OnError     func(err error)
	OnClose     func()
}

// WatchProgress consumes a newline-delimited JSON progress stream through the
// resilient reader. Each complete line decodes to one ProgressEvent; a
// malformed line is logged and skipped without ending the stream. A record
// with a terminal job status is authoritative: it is delivered and then the
// stream ends cleanly regardless of transport state.
func (r *Reader) WatchProgress(ctx context.Context, build RequestBuilder, h ProgressHandlers, opts Options) error {
	var lineBuf bytes.Buffer

	inner := Handlers{
		OnAttempt: func(int) {
			// A retried attempt replays the stream from the start; a partial
			// line from the previous attempt must not prefix it.
			lineBuf.Reset()
		},
		OnChunk: func(p []byte) error {
			lineBuf.Write(p)
			for {
				data := lineBuf.Bytes()
				idx := bytes.IndexByte(data, '\n')
				if idx == -1 {
					return nil
				}
				// Dispatch before consuming: line aliases the buffer's
				// array, which the next Write is free to reuse.
				line := bytes.TrimSpace(data[:idx])
				stop := false
				if len(line) > 0 {
					stop = r.dispatchLine(line, h)
				}
				lineBuf.Next(idx + 1)
				if stop {
					return ErrStop
				}
			}
		},
		OnError: h.OnError,
		OnClose: h.OnClose,
	}

	return r.Stream(ctx, build, inner, opts)
}

// dispatchLine decodes one record and routes it. Returns true when the
// record carries a terminal status and the stream should end.
func (r *Reader) dispatchLine(line []byte, h ProgressHandlers) bool {
	var ev models.ProgressEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		// One bad record must not take down an otherwise healthy stream.
		r.log.Debug().Err(err).Int("len", len(line)).Msg("skipping malformed progress record")
		return false
	}

	if ev.Heartbeat {
		if h.OnHeartbeat != nil {
			h.OnHeartbeat()
		}
		return false
	}

	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
	return ev.Terminal()
}
