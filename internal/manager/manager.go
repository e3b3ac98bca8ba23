// Package manager implements a reference-counted cache of named
// inference sessions. Sessions are loaded lazily on first lease and
// unloaded after an idle TTL once the last lease is released.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotLoaded is returned when unloading a model that is not resident.
	ErrNotLoaded = errors.New("model is not loaded")
	// ErrBusy is returned when unloading a model that is still leased.
	ErrBusy = errors.New("model is still in use")
	// ErrAlreadyLoaded is returned by LoadEager for a resident model.
	ErrAlreadyLoaded = errors.New("model is already loaded")
)

// LoadFunc constructs a session for a model id. It is invoked at most
// once per load cycle; concurrent leases coalesce on the result.
type LoadFunc[T any] func(ctx context.Context, modelID string) (T, error)

// DisposeFunc releases a session's resources on unload. May be nil.
type DisposeFunc[T any] func(T)

// Options configures a Manager.
type Options[T any] struct {
	Load    LoadFunc[T]
	Dispose DisposeFunc[T]

	// TTL is the idle duration before an unleased session unloads.
	// Zero unloads immediately on last release; negative never unloads.
	TTL time.Duration

	// MaxModels is an advisory cap on resident sessions; when reached,
	// the eldest idle session is evicted on the next lease. Zero means
	// unlimited. Sessions with active leases are never evicted.
	MaxModels int

	Logger *slog.Logger
}

// Manager is a per-executor cache of named sessions. One coarse mutex
// protects the id-to-entry mapping; each entry has its own mutex so a
// slow load of one model never blocks leases of another.
type Manager[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]

	load      LoadFunc[T]
	dispose   DisposeFunc[T]
	ttl       time.Duration
	maxModels int
	log       *slog.Logger
}

type entry[T any] struct {
	mu sync.Mutex

	mgr     *Manager[T]
	modelID string

	session T
	loaded  bool
	refs    int
	removed bool

	// timer is the pending idle unload; its identity doubles as the
	// cancellation token for the AfterFunc callback.
	timer        *time.Timer
	lastReleased time.Time
}

// Lease is a scoped capability: while held, the session is resident
// and will not be unloaded. Release must be called on every exit path
// and is safe to call more than once.
type Lease[T any] struct {
	e       *entry[T]
	session T
	once    sync.Once
}

// Session returns the loaded session.
func (l *Lease[T]) Session() T { return l.session }

// Release decrements the reference count and, on reaching zero, arms
// the idle unload per the manager's TTL policy.
func (l *Lease[T]) Release() {
	l.once.Do(func() { l.e.release() })
}

func New[T any](opts Options[T]) *Manager[T] {
	if opts.Load == nil {
		panic("manager: Load function is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager[T]{
		entries:   make(map[string]*entry[T]),
		load:      opts.Load,
		dispose:   opts.Dispose,
		ttl:       opts.TTL,
		maxModels: opts.MaxModels,
		log:       log,
	}
}

// Lease returns a leased session for modelID, loading it first if
// necessary. The load runs without holding the manager mutex, so
// leases of other models proceed concurrently.
func (m *Manager[T]) Lease(ctx context.Context, modelID string) (*Lease[T], error) {
	for {
		m.mu.Lock()
		m.evictForCapLocked(modelID)
		e, ok := m.entries[modelID]
		if !ok {
			e = &entry[T]{mgr: m, modelID: modelID}
			m.entries[modelID] = e
		}
		m.mu.Unlock()

		lease, retry, err := e.acquire(ctx)
		if err != nil {
			return nil, err
		}
		if retry {
			// The entry was unloaded and dropped from the mapping
			// between lookup and acquire; start over with a fresh one.
			continue
		}
		return lease, nil
	}
}

// LoadEager loads a model without holding a lease, used by the
// operational load endpoint. Returns ErrAlreadyLoaded for a resident
// model.
func (m *Manager[T]) LoadEager(ctx context.Context, modelID string) error {
	m.mu.Lock()
	if e, ok := m.entries[modelID]; ok {
		e.mu.Lock()
		loaded := e.loaded
		e.mu.Unlock()
		if loaded {
			m.mu.Unlock()
			return ErrAlreadyLoaded
		}
	}
	m.mu.Unlock()

	lease, err := m.Lease(ctx, modelID)
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

// ListLoaded returns the ids of all resident sessions, sorted.
func (m *Manager[T]) ListLoaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.entries))
	for id, e := range m.entries {
		e.mu.Lock()
		if e.loaded {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// ForceUnload unloads a resident idle session immediately, cancelling
// any pending idle timer. Returns ErrBusy while leases are held and
// ErrNotLoaded when the session is absent.
func (m *Manager[T]) ForceUnload(modelID string) error {
	m.mu.Lock()
	e, ok := m.entries[modelID]
	m.mu.Unlock()
	if !ok {
		return ErrNotLoaded
	}

	e.mu.Lock()
	err := e.unloadLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	m.removeEntry(modelID, e)
	return nil
}

// UnloadAll force-unloads every idle session. Used on shutdown.
func (m *Manager[T]) UnloadAll() {
	for _, id := range m.ListLoaded() {
		if err := m.ForceUnload(id); err != nil {
			m.log.Warn("unload on shutdown failed", "model", id, "error", err)
		}
	}
}

// evictForCapLocked drops the eldest idle sessions while the resident
// count is at or above the cap. Called with m.mu held. The candidate
// being leased is exempt so a lease never evicts its own model.
func (m *Manager[T]) evictForCapLocked(leasing string) {
	if m.maxModels <= 0 {
		return
	}
	if e, ok := m.entries[leasing]; ok && e.mu.TryLock() {
		loaded := e.loaded
		e.mu.Unlock()
		if loaded {
			// Leasing an already-resident model does not grow the
			// resident set.
			return
		}
	}

	type idle struct {
		id       string
		e        *entry[T]
		released time.Time
	}

	resident := 0
	var idlers []idle
	for id, e := range m.entries {
		// Entry locks are held across loads. Blocking here would
		// serialize every lease behind one slow load, so a busy entry
		// is counted resident and never considered for eviction.
		if !e.mu.TryLock() {
			resident++
			continue
		}
		if e.loaded {
			resident++
			if e.refs == 0 && id != leasing {
				idlers = append(idlers, idle{id: id, e: e, released: e.lastReleased})
			}
		}
		e.mu.Unlock()
	}
	if resident < m.maxModels {
		return
	}

	sort.Slice(idlers, func(i, j int) bool { return idlers[i].released.Before(idlers[j].released) })
	for _, cand := range idlers {
		if resident < m.maxModels {
			break
		}
		// A candidate leased since the scan is busy again; skip it.
		if !cand.e.mu.TryLock() {
			continue
		}
		err := cand.e.unloadLocked()
		cand.e.mu.Unlock()
		if err != nil {
			continue
		}
		cand.e.markRemoved()
		delete(m.entries, cand.id)
		resident--
		m.log.Info("evicted idle model to respect max_models cap", "model", cand.id)
	}
}

// removeEntry drops an unloaded entry from the mapping. The entry
// pointer is compared so a freshly recreated entry for the same id is
// left alone.
func (m *Manager[T]) removeEntry(modelID string, e *entry[T]) {
	m.mu.Lock()
	if cur, ok := m.entries[modelID]; ok && cur == e {
		delete(m.entries, modelID)
	}
	m.mu.Unlock()
	e.markRemoved()
}

func (e *entry[T]) markRemoved() {
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

func (e *entry[T]) acquire(ctx context.Context) (*Lease[T], bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil, true, nil
	}

	if !e.loaded {
		start := time.Now()
		session, err := e.mgr.load(ctx, e.modelID)
		if err != nil {
			return nil, false, fmt.Errorf("load model %s: %w", e.modelID, err)
		}
		e.session = session
		e.loaded = true
		e.mgr.log.Info("model loaded",
			slog.String("model", e.modelID),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	}

	e.refs++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		e.mgr.log.Debug("cancelled pending unload", "model", e.modelID)
	}
	e.mgr.log.Debug("incremented ref count", "model", e.modelID, "refs", e.refs)

	return &Lease[T]{e: e, session: e.session}, false, nil
}

func (e *entry[T]) release() {
	e.mu.Lock()
	e.refs--
	e.lastReleased = time.Now()
	e.mgr.log.Debug("decremented ref count", "model", e.modelID, "refs", e.refs)

	if e.refs > 0 {
		e.mu.Unlock()
		return
	}

	ttl := e.mgr.ttl
	switch {
	case ttl > 0:
		e.mgr.log.Info("model is idle, scheduling unload", "model", e.modelID, "ttl", ttl)
		var t *time.Timer
		t = time.AfterFunc(ttl, func() { e.expire(t) })
		e.timer = t
		e.mu.Unlock()
	case ttl == 0:
		e.mgr.log.Info("model is idle, unloading immediately", "model", e.modelID)
		err := e.unloadLocked()
		e.mu.Unlock()
		if err == nil {
			e.mgr.removeEntry(e.modelID, e)
		}
	default:
		e.mgr.log.Info("model is idle, not unloading", "model", e.modelID)
		e.mu.Unlock()
	}
}

// expire runs on the timer goroutine after TTL idleness. The refcount
// is re-validated under the entry lock; a lease taken in the meantime
// has stopped the timer and replaced e.timer, which is detected by
// identity.
func (e *entry[T]) expire(t *time.Timer) {
	e.mu.Lock()
	if e.timer != t {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	if e.refs > 0 || !e.loaded {
		e.mu.Unlock()
		return
	}
	err := e.unloadLocked()
	e.mu.Unlock()
	if err == nil {
		e.mgr.removeEntry(e.modelID, e)
	}
}

// unloadLocked drops the session. Caller holds e.mu.
func (e *entry[T]) unloadLocked() error {
	if !e.loaded {
		return fmt.Errorf("%w: %s", ErrNotLoaded, e.modelID)
	}
	if e.refs > 0 {
		return fmt.Errorf("%w: %s (refs=%d)", ErrBusy, e.modelID, e.refs)
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if e.mgr.dispose != nil {
		e.mgr.dispose(e.session)
	}
	var zero T
	e.session = zero
	e.loaded = false
	debug.FreeOSMemory()
	e.mgr.log.Info("model unloaded", "model", e.modelID)
	return nil
}
