package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"deepwiki-proxy/internal/gateway"
	"deepwiki-proxy/internal/telemetry"
)

// ErrStop can be returned from OnChunk to end the stream early. The reader
// treats it as a clean close, not an error.
var ErrStop = errors.New("stop streaming")

// Options bounds one logical stream request. The attempt counter resets only
// when a new top-level Stream call is made.
type Options struct {
	// Timeout aborts an attempt if no response headers arrive in time. The
	// body itself may stay open indefinitely.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first.
	Retries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// Handlers receives stream lifecycle callbacks. Exactly one of OnClose or
// OnError fires per Stream call: OnClose when the body was exhausted, OnChunk
// stopped the stream, or the caller cancelled; OnError when a terminal error
// occurred or the attempt budget ran out.
type Handlers struct {
	// OnAttempt fires at the start of every attempt, 1-based.
	OnAttempt func(n int)
	// OnChunk receives body bytes in arrival order. The slice is reused
	// between calls; copy it to retain. Returning ErrStop ends the stream
	// cleanly, any other error terminally.
	OnChunk func(p []byte) error
	OnError func(err error)
	OnClose func()
}

// RequestBuilder produces a fresh request per attempt, bound to the attempt
// context so an aborted attempt cancels its in-flight fetch.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Reader consumes a relayed stream with a header timeout, bounded fixed-delay
// retries, and retryable-vs-terminal error classification. One Reader may be
// shared; per-call state lives on the stack.
type Reader struct {
	client *http.Client
	log    zerolog.Logger
}

func NewReader(client *http.Client, logger zerolog.Logger) *Reader {
	if client == nil {
		client = &http.Client{}
	}
	return &Reader{client: client, log: logger}
}

// Stream runs the request until the body is exhausted or the retry budget is
// spent. An error is terminal (no retry) when the caller cancelled or when a
// response arrived with a 4xx/5xx status; connection failures, resets, and
// header timeouts are retryable.
func (r *Reader) Stream(ctx context.Context, build RequestBuilder, h Handlers, opts Options) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			telemetry.ReaderRetries.Inc()
			select {
			case <-ctx.Done():
				closeStream(h)
				return nil
			case <-time.After(opts.RetryDelay):
			}
		}
		if h.OnAttempt != nil {
			h.OnAttempt(attempt + 1)
		}

		retryable, err := r.attempt(ctx, build, h, opts)
		if err == nil {
			closeStream(h)
			return nil
		}
		if ctx.Err() != nil {
			// Caller abandoned the stream; not a failure.
			closeStream(h)
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if attempt < opts.Retries {
			r.log.Debug().Err(err).Int("attempt", attempt+1).Msg("stream attempt failed, retrying")
		}
	}

	if h.OnError != nil {
		h.OnError(lastErr)
	}
	return lastErr
}

func (r *Reader) attempt(ctx context.Context, build RequestBuilder, h Handlers, opts Options) (retryable bool, err error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	// The timeout covers response headers only; an open body has no
	// deadline. Racing Do against a timer means a response that lands on
	// the boundary is either taken whole or abandoned, never cancelled
	// after it was accepted.
	type fetchResult struct {
		resp *http.Response
		err  error
	}
	fetched := make(chan fetchResult, 1)
	go func() {
		resp, err := r.client.Do(req)
		fetched <- fetchResult{resp, err}
	}()

	headerTimer := time.NewTimer(opts.Timeout)
	defer headerTimer.Stop()

	var resp *http.Response
	select {
	case res := <-fetched:
		if res.err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return true, res.err
		}
		resp = res.resp
	case <-headerTimer.C:
		cancel()
		if res := <-fetched; res.resp != nil {
			res.resp.Body.Close()
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("no response headers within %s", opts.Timeout)
	}

	if resp.StatusCode >= 400 && resp.StatusCode <= 599 {
		// The server explicitly rejected the request; a retry cannot fix it.
		return false, gateway.DecodeError(resp)
	}
	defer resp.Body.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 && h.OnChunk != nil {
			if cbErr := h.OnChunk(buf[:n]); cbErr != nil {
				if errors.Is(cbErr, ErrStop) {
					return false, nil
				}
				return false, cbErr
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return false, nil
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return true, fmt.Errorf("read stream: %w", readErr)
		}
	}
}

func closeStream(h Handlers) {
	if h.OnClose != nil {
		h.OnClose()
	}
}
