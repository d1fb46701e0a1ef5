package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/you/chatscoop/internal/core"
	"github.com/you/chatscoop/internal/ytchat"
)

// Status is the lifecycle state of one ingestion session.
type Status int

const (
	StatusIdle Status = iota
	StatusBootstrapping
	StatusPolling
	StatusStopping
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBootstrapping:
		return "bootstrapping"
	case StatusPolling:
		return "polling"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Bootstrapper resolves an identifier to a live chat session.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, input string) (ytchat.Session, error)
}

// Fetcher performs one poll round-trip for the given session.
type Fetcher interface {
	Fetch(ctx context.Context, sess ytchat.Session) (ytchat.Batch, error)
}

// RecordStore persists records, absorbing duplicate ids silently.
type RecordStore interface {
	Insert(ctx context.Context, rec core.ChatRecord) (bool, error)
}

// Handler observes each newly stored record (console echo, API broadcast).
type Handler func(core.ChatRecord)

// Options tune one session. Zero values take the defaults below.
type Options struct {
	MinPollInterval   time.Duration // floor for the server interval hint
	MaxPollInterval   time.Duration // ceiling for the server interval hint
	FetchRetryLimit   int           // consecutive fetch failures before giving up
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RebootstrapLimit  int // auth-expiry recoveries per session
	StorageErrorLimit int // consecutive insert failures before giving up
	Handler           Handler
	Metrics           *Metrics
}

const (
	defaultMinPollInterval   = 500 * time.Millisecond
	defaultMaxPollInterval   = 30 * time.Second
	defaultFetchRetryLimit   = 5
	defaultInitialBackoff    = time.Second
	defaultMaxBackoff        = 60 * time.Second
	defaultRebootstrapLimit  = 3
	defaultStorageErrorLimit = 5
)

func (o Options) withDefaults() Options {
	if o.MinPollInterval <= 0 {
		o.MinPollInterval = defaultMinPollInterval
	}
	if o.MaxPollInterval <= 0 {
		o.MaxPollInterval = defaultMaxPollInterval
	}
	if o.FetchRetryLimit <= 0 {
		o.FetchRetryLimit = defaultFetchRetryLimit
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.RebootstrapLimit <= 0 {
		o.RebootstrapLimit = defaultRebootstrapLimit
	}
	if o.StorageErrorLimit <= 0 {
		o.StorageErrorLimit = defaultStorageErrorLimit
	}
	return o
}

// Engine owns one ingestion session: bootstrap once, then fetch → parse →
// store cycles until the stream ends, a fatal error occurs, or a stop is
// requested. Instances are single-use; a new session needs a new Engine.
type Engine struct {
	boot  Bootstrapper
	fetch Fetcher
	store RecordStore
	opts  Options

	stopOnce sync.Once
	stopCh   chan struct{}

	mu      sync.Mutex
	status  Status
	started bool
}

func New(boot Bootstrapper, fetch Fetcher, store RecordStore, opts Options) *Engine {
	return &Engine{
		boot:   boot,
		fetch:  fetch,
		store:  store,
		opts:   opts.withDefaults(),
		stopCh: make(chan struct{}),
		status: StatusIdle,
	}
}

// Status reports the current session state for UIs.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// RequestStop asks the session to finish its in-flight cycle and stop.
// Idempotent; safe to call from any goroutine, before or after the run ends.
func (e *Engine) RequestStop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.mu.Lock()
		if e.status == StatusBootstrapping || e.status == StatusPolling {
			e.status = StatusStopping
		}
		e.mu.Unlock()
	})
}

func (e *Engine) stopRequested() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// setStatus transitions the state, never downgrading an observed Stopping
// except to Stopped.
func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusStopping && s != StatusStopped {
		return
	}
	if e.status == StatusStopped {
		return
	}
	e.status = s
}

// Start runs the session for the given identifier and blocks until Stopped.
// Bootstrap failures surface verbatim; a stream end or a stop request return
// nil.
func (e *Engine) Start(ctx context.Context, input string) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine: instance already used; sessions are single-use")
	}
	e.started = true
	e.mu.Unlock()

	defer e.setStatus(StatusStopped)

	e.setStatus(StatusBootstrapping)
	sess, err := e.boot.Bootstrap(ctx, input)
	if err != nil {
		return err
	}
	log.Printf("engine: session started video=%s interval_hint=%dms", sess.VideoID, sess.PollIntervalMs)

	e.setStatus(StatusPolling)

	var (
		retries      int
		backoff      = e.opts.InitialBackoff
		rebootstraps int
		storageErrs  int
	)

	for {
		if e.stopRequested() || ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := e.fetch.Fetch(ctx, sess)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ytchat.ErrAuthExpired) {
				rebootstraps++
				e.opts.Metrics.IncRebootstraps()
				if rebootstraps > e.opts.RebootstrapLimit {
					return fmt.Errorf("engine: re-bootstrap limit (%d) exceeded: %w", e.opts.RebootstrapLimit, err)
				}
				log.Printf("engine: auth token rejected, re-bootstrapping (%d/%d)", rebootstraps, e.opts.RebootstrapLimit)
				e.setStatus(StatusBootstrapping)
				sess, err = e.boot.Bootstrap(ctx, input)
				if err != nil {
					return err
				}
				e.setStatus(StatusPolling)
				continue
			}

			retries++
			e.opts.Metrics.IncFetchErrors()
			if retries > e.opts.FetchRetryLimit {
				return fmt.Errorf("engine: fetch retries (%d) exhausted: %w", e.opts.FetchRetryLimit, err)
			}
			log.Printf("engine: fetch error (attempt %d/%d, retrying in %s): %v", retries, e.opts.FetchRetryLimit, backoff, err)
			if !e.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > e.opts.MaxBackoff {
				backoff = e.opts.MaxBackoff
			}
			continue
		}
		retries = 0
		backoff = e.opts.InitialBackoff

		e.opts.Metrics.IncPolls()

		var stored, duplicates, skipped, failed int
		for _, action := range batch.Actions {
			rec, perr := ytchat.ParseAction(action)
			if perr != nil {
				failed++
				e.opts.Metrics.IncParseFailures()
				log.Printf("engine: parse failure: %v", perr)
				continue
			}
			if rec == nil {
				skipped++
				continue
			}
			rec.VideoID = sess.VideoID

			inserted, serr := e.store.Insert(ctx, *rec)
			if serr != nil {
				storageErrs++
				e.opts.Metrics.IncStorageErrors()
				log.Printf("engine: store record %s: %v", rec.ID, serr)
				if storageErrs >= e.opts.StorageErrorLimit {
					return fmt.Errorf("engine: %d consecutive storage errors: %w", storageErrs, serr)
				}
				continue
			}
			storageErrs = 0
			if inserted {
				stored++
				e.opts.Metrics.IncRecordsStored()
				if e.opts.Handler != nil {
					e.opts.Handler(*rec)
				}
			} else {
				duplicates++
				e.opts.Metrics.IncDuplicates()
			}
		}

		if len(batch.Actions) > 0 || failed > 0 {
			log.Printf("engine: poll summary actions=%d stored=%d duplicates=%d skipped=%d failed=%d",
				len(batch.Actions), stored, duplicates, skipped, failed)
		}

		if batch.NextContinuation == "" {
			log.Printf("engine: stream ended for video=%s", sess.VideoID)
			return nil
		}
		sess.Continuation = batch.NextContinuation
		if batch.TimeoutMs > 0 {
			sess.PollIntervalMs = batch.TimeoutMs
		}

		if !e.sleep(ctx, e.clampInterval(sess.PollIntervalMs)) {
			return ctx.Err()
		}
	}
}

func (e *Engine) clampInterval(hintMs int) time.Duration {
	interval := time.Duration(hintMs) * time.Millisecond
	if interval < e.opts.MinPollInterval {
		interval = e.opts.MinPollInterval
	}
	if interval > e.opts.MaxPollInterval {
		interval = e.opts.MaxPollInterval
	}
	return interval
}

// sleep waits for d, aborting early on a stop request or context cancel.
// Returns false when the wait was aborted.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
