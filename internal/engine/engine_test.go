package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/you/chatscoop/internal/core"
	"github.com/you/chatscoop/internal/ytchat"
)

type bootFunc func(ctx context.Context, input string) (ytchat.Session, error)

func (f bootFunc) Bootstrap(ctx context.Context, input string) (ytchat.Session, error) {
	return f(ctx, input)
}

type fetchFunc func(ctx context.Context, sess ytchat.Session) (ytchat.Batch, error)

func (f fetchFunc) Fetch(ctx context.Context, sess ytchat.Session) (ytchat.Batch, error) {
	return f(ctx, sess)
}

type memStore struct {
	mu        sync.Mutex
	rows      map[string]core.ChatRecord
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]core.ChatRecord)}
}

func (m *memStore) Insert(_ context.Context, rec core.ChatRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if _, ok := m.rows[rec.ID]; ok {
		return false, nil
	}
	m.rows[rec.ID] = rec
	return true, nil
}

func (m *memStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func stubSession() ytchat.Session {
	return ytchat.Session{
		VideoID:        "vid123",
		APIKey:         "key",
		ClientVersion:  "2.0",
		Continuation:   "cont-0",
		PollIntervalMs: 1,
	}
}

func stubBoot(sess ytchat.Session) bootFunc {
	return func(context.Context, string) (ytchat.Session, error) {
		return sess, nil
	}
}

func textAction(id, author, text string, tsMs int64) map[string]any {
	return map[string]any{
		"addChatItemAction": map[string]any{
			"item": map[string]any{
				"liveChatTextMessageRenderer": map[string]any{
					"id":            id,
					"timestampUsec": strconv.FormatInt(tsMs*1000, 10),
					"authorName":    map[string]any{"simpleText": author},
					"message": map[string]any{
						"runs": []any{map[string]any{"text": text}},
					},
				},
			},
		},
	}
}

// fastOptions keeps inter-poll sleeps negligible in tests.
func fastOptions() Options {
	return Options{
		MinPollInterval: time.Millisecond,
		MaxPollInterval: 2 * time.Millisecond,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      4 * time.Millisecond,
	}
}

func TestEngineStoresAndDeduplicates(t *testing.T) {
	batches := []ytchat.Batch{
		{
			Actions:          []map[string]any{textAction("m1", "Alice", "hi", 1000)},
			NextContinuation: "cont-1",
			TimeoutMs:        1,
		},
		{
			// m1 re-delivered by the overlapping follow-up batch.
			Actions: []map[string]any{
				textAction("m1", "Alice", "hi", 1000),
				textAction("m2", "Bob", "hello", 2000),
			},
		},
	}
	var call int
	fetch := fetchFunc(func(_ context.Context, sess ytchat.Session) (ytchat.Batch, error) {
		if call >= len(batches) {
			t.Fatal("fetched past the stream end")
		}
		if call == 1 && sess.Continuation != "cont-1" {
			t.Fatalf("cursor not advanced: %q", sess.Continuation)
		}
		b := batches[call]
		call++
		return b, nil
	})

	st := newMemStore()
	var handled []string
	opts := fastOptions()
	opts.Handler = func(rec core.ChatRecord) { handled = append(handled, rec.ID) }

	eng := New(stubBoot(stubSession()), fetch, st, opts)
	if err := eng.Start(context.Background(), "vid123"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if st.Len() != 2 {
		t.Fatalf("stored = %d, want 2", st.Len())
	}
	if len(handled) != 2 || handled[0] != "m1" || handled[1] != "m2" {
		t.Fatalf("handler saw %v", handled)
	}
	if got := eng.Status(); got != StatusStopped {
		t.Fatalf("status = %s", got)
	}
	if rec := st.rows["m1"]; rec.VideoID != "vid123" {
		t.Fatalf("video id not stamped: %+v", rec)
	}
}

func TestEngineStreamEndIsClean(t *testing.T) {
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		return ytchat.Batch{}, nil
	})
	eng := New(stubBoot(stubSession()), fetch, newMemStore(), fastOptions())
	if err := eng.Start(context.Background(), "vid123"); err != nil {
		t.Fatalf("stream end must return nil, got %v", err)
	}
	if eng.Status() != StatusStopped {
		t.Fatalf("status = %s", eng.Status())
	}
}

func TestEngineBootstrapErrorVerbatim(t *testing.T) {
	bootErr := &ytchat.NoActiveChatError{Target: "@quiet"}
	boot := bootFunc(func(context.Context, string) (ytchat.Session, error) {
		return ytchat.Session{}, bootErr
	})
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		t.Fatal("fetch must not run after bootstrap failure")
		return ytchat.Batch{}, nil
	})

	eng := New(boot, fetch, newMemStore(), fastOptions())
	err := eng.Start(context.Background(), "@quiet")
	var notLive *ytchat.NoActiveChatError
	if !errors.As(err, &notLive) {
		t.Fatalf("expected NoActiveChatError, got %v", err)
	}
	if eng.Status() != StatusStopped {
		t.Fatalf("status = %s", eng.Status())
	}
}

func TestEngineRetriesThenFails(t *testing.T) {
	var calls int
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		calls++
		return ytchat.Batch{}, &ytchat.FetchError{Status: 500, Err: fmt.Errorf("boom")}
	})

	opts := fastOptions()
	opts.FetchRetryLimit = 3
	eng := New(stubBoot(stubSession()), fetch, newMemStore(), opts)

	err := eng.Start(context.Background(), "vid123")
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	var fetchErr *ytchat.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if calls != 4 {
		t.Fatalf("fetch attempts = %d, want limit+1", calls)
	}
}

func TestEngineRecoversAfterTransientError(t *testing.T) {
	var calls int
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		calls++
		if calls == 1 {
			return ytchat.Batch{}, &ytchat.FetchError{Err: fmt.Errorf("blip")}
		}
		return ytchat.Batch{
			Actions: []map[string]any{textAction("m1", "Alice", "hi", 1000)},
		}, nil
	})

	st := newMemStore()
	eng := New(stubBoot(stubSession()), fetch, st, fastOptions())
	if err := eng.Start(context.Background(), "vid123"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("stored = %d", st.Len())
	}
}

func TestEngineRebootstrapsOnAuthExpiry(t *testing.T) {
	var boots int
	boot := bootFunc(func(context.Context, string) (ytchat.Session, error) {
		boots++
		sess := stubSession()
		sess.Continuation = fmt.Sprintf("cont-boot-%d", boots)
		return sess, nil
	})

	var fetches int
	fetch := fetchFunc(func(_ context.Context, sess ytchat.Session) (ytchat.Batch, error) {
		fetches++
		if fetches == 1 {
			return ytchat.Batch{}, &ytchat.FetchError{Status: 403, Err: ytchat.ErrAuthExpired}
		}
		if sess.Continuation != "cont-boot-2" {
			t.Fatalf("fetch after recovery used cursor %q", sess.Continuation)
		}
		return ytchat.Batch{}, nil
	})

	eng := New(boot, fetch, newMemStore(), fastOptions())
	if err := eng.Start(context.Background(), "vid123"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if boots != 2 {
		t.Fatalf("bootstraps = %d, want 2", boots)
	}
}

func TestEngineRebootstrapLimit(t *testing.T) {
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		return ytchat.Batch{}, &ytchat.FetchError{Status: 401, Err: ytchat.ErrAuthExpired}
	})

	opts := fastOptions()
	opts.RebootstrapLimit = 2
	eng := New(stubBoot(stubSession()), fetch, newMemStore(), opts)

	err := eng.Start(context.Background(), "vid123")
	if err == nil || !errors.Is(err, ytchat.ErrAuthExpired) {
		t.Fatalf("expected auth expiry failure, got %v", err)
	}
}

func TestEngineParseFailureDoesNotAbortBatch(t *testing.T) {
	bad := map[string]any{
		"addChatItemAction": map[string]any{
			"item": map[string]any{
				// Known shape with no id: a parse error, not a stop.
				"liveChatTextMessageRenderer": map[string]any{
					"timestampUsec": "1000000",
				},
			},
		},
	}
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		return ytchat.Batch{
			Actions: []map[string]any{bad, textAction("good", "Alice", "hi", 1000)},
		}, nil
	})

	st := newMemStore()
	eng := New(stubBoot(stubSession()), fetch, st, fastOptions())
	if err := eng.Start(context.Background(), "vid123"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("stored = %d, want the good record", st.Len())
	}
}

func TestEngineStorageErrorLimit(t *testing.T) {
	var actions []map[string]any
	for i := 0; i < 5; i++ {
		actions = append(actions, textAction(fmt.Sprintf("m%d", i), "Alice", "hi", int64(1000+i)))
	}
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		return ytchat.Batch{Actions: actions, NextContinuation: "cont-next", TimeoutMs: 1}, nil
	})

	st := newMemStore()
	st.insertErr = fmt.Errorf("disk full")
	opts := fastOptions()
	opts.StorageErrorLimit = 3
	eng := New(stubBoot(stubSession()), fetch, st, opts)

	err := eng.Start(context.Background(), "vid123")
	if err == nil {
		t.Fatal("expected fatal storage error")
	}
}

func TestEngineStopDuringSleep(t *testing.T) {
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		return ytchat.Batch{NextContinuation: "cont-next", TimeoutMs: 60000}, nil
	})

	opts := fastOptions()
	opts.MaxPollInterval = time.Hour
	eng := New(stubBoot(stubSession()), fetch, newMemStore(), opts)

	done := make(chan error, 1)
	go func() { done <- eng.Start(context.Background(), "vid123") }()

	time.Sleep(20 * time.Millisecond)
	eng.RequestStop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop must be clean, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop promptly")
	}
	if eng.Status() != StatusStopped {
		t.Fatalf("status = %s", eng.Status())
	}
}

func TestEngineContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		cancel()
		return ytchat.Batch{NextContinuation: "cont-next", TimeoutMs: 60000}, nil
	})

	opts := fastOptions()
	opts.MaxPollInterval = time.Hour
	eng := New(stubBoot(stubSession()), fetch, newMemStore(), opts)
	if err := eng.Start(ctx, "vid123"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngineSingleUse(t *testing.T) {
	fetch := fetchFunc(func(context.Context, ytchat.Session) (ytchat.Batch, error) {
		return ytchat.Batch{}, nil
	})
	eng := New(stubBoot(stubSession()), fetch, newMemStore(), fastOptions())
	if err := eng.Start(context.Background(), "vid123"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := eng.Start(context.Background(), "vid123"); err == nil {
		t.Fatal("second start must fail")
	}
}

func TestStatusString(t *testing.T) {
	want := map[Status]string{
		StatusIdle:          "idle",
		StatusBootstrapping: "bootstrapping",
		StatusPolling:       "polling",
		StatusStopping:      "stopping",
		StatusStopped:       "stopped",
	}
	for status, name := range want {
		if status.String() != name {
			t.Fatalf("%d.String() = %q, want %q", int(status), status.String(), name)
		}
	}
}
