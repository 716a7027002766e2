package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/procflow/procflow/internal/document"
	"github.com/procflow/procflow/pkg/logger"
	"github.com/procflow/procflow/pkg/metrics"
)

// SnapshotProvider hands back the current content of an open document. The
// scheduler never interprets the payload; it only compares bytes.
type SnapshotProvider func() (string, error)

// Saver persists one coalesced snapshot and returns the resulting version.
type Saver interface {
	Save(ctx context.Context, documentID, snapshot string) (int64, error)
}

// Config tunes the two save triggers: Coalesce is the short quiet-period
// window restarted by every change notification, Debounce is the background
// tick that flushes anything still dirty.
type Config struct {
	Debounce time.Duration
	Coalesce time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 30 * time.Second
	}
	if c.Coalesce <= 0 {
		c.Coalesce = 750 * time.Millisecond
	}
	return c
}

type docState struct {
	timer     *time.Timer
	provider  SnapshotProvider
	dirty     bool
	inflight  bool
	pending   bool   // change arrived while a save was in flight
	lastSaved string // last successfully persisted snapshot
	hasSaved  bool
	touched   time.Time
}

// Scheduler absorbs a high-frequency stream of edit notifications per
// document and emits at most one persistence call per quiet period. At most
// one save per document is ever in flight; a notification during a save
// queues exactly one follow-up instead of running concurrently. A failed save
// is logged and retried on the next natural trigger, deliberately without a
// backoff loop.
type Scheduler struct {
	mu     sync.Mutex
	cfg    Config
	saver  Saver
	docs   map[string]*docState
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

func NewScheduler(saver Saver, cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:   cfg.withDefaults(),
		saver: saver,
		docs:  make(map[string]*docState),
		done:  make(chan struct{}),
	}
	s.ticker = time.NewTicker(s.cfg.Debounce)
	go s.tickLoop()
	return s
}

func (s *Scheduler) tickLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			for _, id := range s.dirtyDocs() {
				s.flush(id)
			}
			s.sweep(s.cfg.Debounce)
		}
	}
}

func (s *Scheduler) dirtyDocs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for id, st := range s.docs {
		if st.dirty && !st.inflight {
			out = append(out, id)
		}
	}
	return out
}

// NotifyChanged records that the document's content changed and (re)starts
// its coalescing timer; a burst of calls collapses into one save.
func (s *Scheduler) NotifyChanged(documentID string, provider SnapshotProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	st := s.docs[documentID]
	if st == nil {
		st = &docState{}
		s.docs[documentID] = st
	}
	st.provider = provider
	st.dirty = true
	st.touched = time.Now()
	if st.inflight {
		st.pending = true
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(s.cfg.Coalesce, func() { s.flush(documentID) })
}

// ForceFlush fires any pending save immediately. Safe to call when nothing is
// pending.
func (s *Scheduler) ForceFlush(documentID string) {
	s.flush(documentID)
}

func (s *Scheduler) flush(documentID string) {
	s.mu.Lock()
	st := s.docs[documentID]
	if st == nil || !st.dirty || s.closed {
		s.mu.Unlock()
		return
	}
	if st.inflight {
		st.pending = true
		s.mu.Unlock()
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	provider := st.provider
	lastSaved, hasSaved := st.lastSaved, st.hasSaved
	st.inflight = true
	st.dirty = false
	s.mu.Unlock()

	snap, err := provider()
	switch {
	case err != nil:
		logger.Warnf("autosave: snapshot provider for %s failed: %v", documentID, err)
		metrics.AutosaveFlushes.WithLabelValues("error").Inc()
		s.finish(documentID, "", false, true)
	case hasSaved && snap == lastSaved:
		// byte-identical to the last persisted snapshot: no write, no version
		metrics.AutosaveFlushes.WithLabelValues("unchanged").Inc()
		s.finish(documentID, snap, false, false)
	default:
		s.save(documentID, snap)
	}
}

func (s *Scheduler) save(documentID, snap string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	version, err := s.saver.Save(ctx, documentID, snap)
	switch {
	case err == nil:
		logger.Debugf("autosave: document %s persisted at version %d", documentID, version)
		metrics.AutosaveFlushes.WithLabelValues("saved").Inc()
		s.finish(documentID, snap, true, false)
	default:
		if _, ok := document.AsConflict(err); ok {
			// expected outcome, not a failure: a newer version exists and the
			// owner of the local edits has to choose; retrying the same
			// snapshot would conflict forever
			logger.Warnf("autosave: document %s conflicted with a newer version", documentID)
			metrics.AutosaveFlushes.WithLabelValues("conflict").Inc()
			s.finish(documentID, snap, false, false)
			return
		}
		// transient failure: stay dirty and retry on the next natural trigger
		logger.Warnf("autosave: save for %s failed, will retry on next trigger: %v", documentID, err)
		metrics.AutosaveFlushes.WithLabelValues("error").Inc()
		s.finish(documentID, snap, false, true)
	}
}

func (s *Scheduler) finish(documentID, snap string, saved, retry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.docs[documentID]
	if st == nil {
		return
	}
	st.inflight = false
	st.touched = time.Now()
	if saved {
		st.lastSaved = snap
		st.hasSaved = true
	}
	if retry {
		// stay dirty but do not re-arm the coalesce timer: a failed save
		// waits for the next natural trigger (debounce tick, a fresh edit,
		// an explicit flush) instead of hammering the backend every window
		st.dirty = true
	}
	if st.pending {
		// a fresh edit arrived mid-save; that is a natural trigger
		st.pending = false
		st.dirty = true
		if !s.closed {
			if st.timer != nil {
				st.timer.Stop()
			}
			st.timer = time.AfterFunc(s.cfg.Coalesce, func() { s.flush(documentID) })
		}
	}
}

// sweep drops per-document state that has been clean for at least maxIdle, so
// finished editing sessions do not pin their entries forever. Dirty, pending,
// or in-flight documents are never dropped. Returns the number of entries
// removed.
func (s *Scheduler) sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.docs {
		if st.dirty || st.inflight || st.pending {
			continue
		}
		if time.Since(st.touched) >= maxIdle {
			if st.timer != nil {
				st.timer.Stop()
			}
			delete(s.docs, id)
			n++
		}
	}
	return n
}

// Close stops the background tick and all per-document timers. Pending edits
// are not flushed; callers wanting durability use ForceFlush first.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, st := range s.docs {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	s.mu.Unlock()
	s.ticker.Stop()
	close(s.done)
}
