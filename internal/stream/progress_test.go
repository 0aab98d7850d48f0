package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepwiki-proxy/internal/models"
)

type progressRecorder struct {
	events     []models.ProgressEvent
	heartbeats int
	errors     []error
	closes     int
}

func (rec *progressRecorder) handlers() ProgressHandlers {
	return ProgressHandlers{
		OnEvent:     func(ev models.ProgressEvent) { rec.events = append(rec.events, ev) },
		OnHeartbeat: func() { rec.heartbeats++ },
		OnError:     func(err error) { rec.errors = append(rec.errors, err) },
		OnClose:     func() { rec.closes++ },
	}
}

func ndjsonServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
			w.(http.Flusher).Flush()
		}
	}))
}

func TestWatchProgressDeliversEventsInOrder(t *testing.T) {
	srv := ndjsonServer(t,
		`{"job_id":"j1","status":"preparing_embeddings","progress_percent":5}`,
		`{"job_id":"j1","status":"generating_structure","progress_percent":30}`,
		`{"job_id":"j1","status":"generating_pages","progress_percent":80}`,
		`{"job_id":"j1","status":"completed","progress_percent":100}`,
	)
	defer srv.Close()

	rec := &progressRecorder{}
	reader := NewReader(srv.Client(), zerolog.Nop())
	err := reader.WatchProgress(context.Background(), buildGet(srv.URL), rec.handlers(), fastOpts(2))

	require.NoError(t, err)
	require.Len(t, rec.events, 4)
	assert.Equal(t, models.StatusPreparingEmbeddings, rec.events[0].Status)
	assert.Equal(t, models.StatusGeneratingStructure, rec.events[1].Status)
	assert.Equal(t, models.StatusGeneratingPages, rec.events[2].Status)
	assert.Equal(t, models.StatusCompleted, rec.events[3].Status)
	assert.Equal(t, 1, rec.closes)
	assert.Empty(t, rec.errors)
}

func TestWatchProgressFiltersHeartbeats(t *testing.T) {
	srv := ndjsonServer(t,
		`{"heartbeat":true}`,
		`{"job_id":"j1","status":"generating_pages","progress_percent":50}`,
		`{"heartbeat":true}`,
		`{"heartbeat":true}`,
		`{"job_id":"j1","status":"completed","progress_percent":100}`,
	)
	defer srv.Close()

	rec := &progressRecorder{}
	reader := NewReader(srv.Client(), zerolog.Nop())
	err := reader.WatchProgress(context.Background(), buildGet(srv.URL), rec.handlers(), fastOpts(2))

	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, 3, rec.heartbeats)
	assert.Equal(t, 1, rec.closes)
}

func TestWatchProgressHandlesCoalescedChunks(t *testing.T) {
	// The relay and TCP both coalesce writes, so one chunk routinely
	// carries several records. Every record before the last must survive
	// the buffer being consumed underneath it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"heartbeat":true}` + "\n" +
			`{"job_id":"j1","status":"generating_pages","progress_percent":50}` + "\n" +
			`{"job_id":"j1","status":"completed","progress_percent":100}` + "\n"))
	}))
	defer srv.Close()

	rec := &progressRecorder{}
	reader := NewReader(srv.Client(), zerolog.Nop())
	err := reader.WatchProgress(context.Background(), buildGet(srv.URL), rec.handlers(), fastOpts(2))

	require.NoError(t, err)
	assert.Equal(t, 1, rec.heartbeats)
	require.Len(t, rec.events, 2)
	assert.Equal(t, models.StatusGeneratingPages, rec.events[0].Status)
	assert.Equal(t, models.StatusCompleted, rec.events[1].Status)
	assert.Equal(t, 1, rec.closes)
	assert.Empty(t, rec.errors)
}

func TestWatchProgressStopsAtTerminalRecord(t *testing.T) {
	// Anything the transport still carries after the terminal record must
	// not reach the consumer.
	srv := ndjsonServer(t,
		`{"job_id":"j1","status":"generating_pages","progress_percent":90}`,
		`{"job_id":"j1","status":"failed","error":"clone failed"}`,
		`{"job_id":"j1","status":"generating_pages","progress_percent":95}`,
		`garbage after the end`,
	)
	defer srv.Close()

	rec := &progressRecorder{}
	reader := NewReader(srv.Client(), zerolog.Nop())
	err := reader.WatchProgress(context.Background(), buildGet(srv.URL), rec.handlers(), fastOpts(2))

	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, models.StatusFailed, rec.events[1].Status)
	assert.Equal(t, "clone failed", rec.events[1].Error)
	assert.Equal(t, 1, rec.closes)
	assert.Empty(t, rec.errors)
}

func TestWatchProgressSkipsMalformedLines(t *testing.T) {
	srv := ndjsonServer(t,
		`{"job_id":"j1","status":"generating_pages","progress_percent":40}`,
		`{truncated`,
		``,
		`{"job_id":"j1","status":"completed","progress_percent":100}`,
	)
	defer srv.Close()

	rec := &progressRecorder{}
	reader := NewReader(srv.Client(), zerolog.Nop())
	err := reader.WatchProgress(context.Background(), buildGet(srv.URL), rec.handlers(), fastOpts(2))

	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, models.StatusGeneratingPages, rec.events[0].Status)
	assert.Equal(t, models.StatusCompleted, rec.events[1].Status)
}

func TestWatchProgressReassemblesSplitLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		// One record split across two writes, then two records in one.
		w.Write([]byte(`{"job_id":"j1","status":"genera`))
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("ting_pages\",\"progress_percent\":10}\n"))
		flusher.Flush()
		w.Write([]byte(`{"heartbeat":true}` + "\n" + `{"job_id":"j1","status":"completed"}` + "\n"))
	}))
	defer srv.Close()

	rec := &progressRecorder{}
	reader := NewReader(srv.Client(), zerolog.Nop())
	err := reader.WatchProgress(context.Background(), buildGet(srv.URL), rec.handlers(), fastOpts(2))

	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, models.StatusGeneratingPages, rec.events[0].Status)
	assert.InDelta(t, 10, rec.events[0].ProgressPercent, 0.001)
	assert.Equal(t, models.StatusCompleted, rec.events[1].Status)
	assert.Equal(t, 1, rec.heartbeats)
}

func TestWatchProgressDiscardsPartialLineOnRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			// Die mid-record; the retried attempt replays from the start.
			w.Write([]byte(`{"job_id":"j1","status":"gen`))
			w.(http.Flusher).Flush()
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write([]byte(`{"job_id":"j1","status":"generating_pages","progress_percent":20}` + "\n"))
		w.Write([]byte(`{"job_id":"j1","status":"completed"}` + "\n"))
	}))
	defer srv.Close()

	rec := &progressRecorder{}
	reader := NewReader(srv.Client(), zerolog.Nop())
	err := reader.WatchProgress(context.Background(), buildGet(srv.URL), rec.handlers(), fastOpts(2))

	require.NoError(t, err)
	assert.Equal(t, 2, hits)
	require.Len(t, rec.events, 2)
	// No record stitched together from bytes of both attempts.
	assert.Equal(t, models.StatusGeneratingPages, rec.events[0].Status)
	assert.Equal(t, models.StatusCompleted, rec.events[1].Status)
	assert.Equal(t, 1, rec.closes)
	assert.Empty(t, rec.errors)
}
