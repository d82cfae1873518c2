package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xblabs/WhisperDog-sub003/internal/config"
	"github.com/xblabs/WhisperDog-sub003/internal/events"
)

func newTestServer(cfg *config.Config, bus *events.Bus) *Server {
	return NewServer(cfg, nil, nil, bus, "test", time.Now(), zerolog.Nop())
}

// The SSE endpoint runs behind every global middleware, including the
// metrics writer wrapper; it must still be able to flush the stream.
func TestServer_EventsStreamsThroughMiddleware(t *testing.T) {
	bus := events.NewBus(16)
	bus.Publish("session_complete", map[string]string{"id": "7"})

	srv := newTestServer(&config.Config{HTTPAddr: ":0"}, bus)

	// A pre-cancelled context makes the handler replay buffered events
	// and return instead of holding the stream open.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: session_complete") {
		t.Errorf("replayed event missing from stream: %q", body)
	}
	if !strings.Contains(body, "id: ") {
		t.Errorf("stream carries no event IDs for reconnect replay: %q", body)
	}
}

func TestServer_EventsReplaySince(t *testing.T) {
	bus := events.NewBus(16)
	bus.Publish("progress", map[string]int{"n": 1})
	firstID := bus.ReplaySince("")[0].ID
	bus.Publish("progress", map[string]int{"n": 2})

	srv := newTestServer(&config.Config{HTTPAddr: ":0"}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", "/api/v1/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", firstID)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, `"n":1`) {
		t.Errorf("already-seen event was replayed: %q", body)
	}
	if !strings.Contains(body, `"n":2`) {
		t.Errorf("missed event was not replayed: %q", body)
	}
}

func TestServer_EventsAuthViaQueryToken(t *testing.T) {
	bus := events.NewBus(16)
	srv := newTestServer(&config.Config{HTTPAddr: ":0", AuthToken: "secret"}, bus)

	t.Run("missing_token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/events", nil)
		srv.http.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("query_token", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest("GET", "/api/v1/events?token=secret", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		srv.http.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}
