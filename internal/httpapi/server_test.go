package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/you/chatscoop/internal/core"
	"github.com/you/chatscoop/internal/store"
)

type fakeStore struct {
	rows    []core.ChatRecord
	lastReq store.Filters
	fail    bool
}

func (f *fakeStore) Count(_ context.Context, filters store.Filters) (int64, error) {
	f.lastReq = filters
	if f.fail {
		return 0, context.DeadlineExceeded
	}
	return int64(len(f.rows)), nil
}

func (f *fakeStore) List(_ context.Context, filters store.Filters) ([]core.ChatRecord, error) {
	f.lastReq = filters
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return f.rows, nil
}

func testServer(t *testing.T, st Store, opts Options) *Server {
	t.Helper()
	srv := New(st, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func TestHandleHealthz(t *testing.T) {
	srv := testServer(t, &fakeStore{}, Options{})
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestHandleStatus(t *testing.T) {
	srv := testServer(t, &fakeStore{}, Options{Status: func() string { return "polling" }})
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "polling" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestHandleCount(t *testing.T) {
	st := &fakeStore{rows: []core.ChatRecord{{ID: "1"}, {ID: "2"}}}
	srv := testServer(t, st, Options{})
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/count?kind=superchat", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var payload map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["count"] != 2 {
		t.Fatalf("count = %d", payload["count"])
	}
	if len(st.lastReq.Kinds) != 1 || st.lastReq.Kinds[0] != "superchat" {
		t.Fatalf("filters not forwarded: %+v", st.lastReq)
	}
}

func TestHandleMessages(t *testing.T) {
	st := &fakeStore{rows: []core.ChatRecord{{ID: "m1", Author: "Alice", Text: "hi", Kind: core.KindText}}}
	srv := testServer(t, st, Options{})
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages?limit=5&order=asc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rows []core.ChatRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "m1" {
		t.Fatalf("rows = %+v", rows)
	}
	if st.lastReq.Limit != 5 || st.lastReq.Order != store.OrderAsc {
		t.Fatalf("filters not forwarded: %+v", st.lastReq)
	}
}

func TestHandleMessagesBadQuery(t *testing.T) {
	srv := testServer(t, &fakeStore{}, Options{})
	for _, target := range []string{
		"/messages?limit=zero",
		"/messages?order=sideways",
		"/messages?since=yesterday",
	} {
		w := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestHandleMessagesStoreError(t *testing.T) {
	srv := testServer(t, &fakeStore{fail: true}, Options{})
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	srv := testServer(t, &fakeStore{}, Options{RateLimitRPS: 1, RateLimitBurst: 2})
	var rejected int
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		srv.httpServer.Handler.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	if rejected == 0 {
		t.Fatal("expected some requests rejected")
	}

	// A different client has its own bucket.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fresh client status = %d", w.Code)
	}
}

func TestCORSPolicy(t *testing.T) {
	srv := testServer(t, &fakeStore{}, Options{CORSOrigins: []string{"https://ok.example"}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://ok.example")
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("allowed origin status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ok.example" {
		t.Fatalf("allow-origin = %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("denied origin status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/messages", nil)
	req.Header.Set("Origin", "https://ok.example")
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", w.Code)
	}
}

func TestBroadcastDropsSlowClients(t *testing.T) {
	srv := testServer(t, &fakeStore{}, Options{})
	ch, ok := srv.subscribe()
	if !ok {
		t.Fatal("subscribe failed")
	}
	defer srv.unsubscribe(ch)

	for i := 0; i < cap(ch)+10; i++ {
		srv.Broadcast(core.ChatRecord{ID: "x"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("channel holds %d, want full buffer %d", len(ch), cap(ch))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t, &fakeStore{}, Options{EnableMetrics: true})
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
