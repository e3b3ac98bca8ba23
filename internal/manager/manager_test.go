package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSession struct {
	id string
}

func newManager(t *testing.T, ttl time.Duration, maxModels int, loads, disposals *atomic.Int64) *Manager[*fakeSession] {
	t.Helper()
	return New(Options[*fakeSession]{
		Load: func(_ context.Context, id string) (*fakeSession, error) {
			if loads != nil {
				loads.Add(1)
			}
			return &fakeSession{id: id}, nil
		},
		Dispose: func(*fakeSession) {
			if disposals != nil {
				disposals.Add(1)
			}
		},
		TTL:       ttl,
		MaxModels: maxModels,
	})
}

func TestConcurrentLeasesCoalesceLoad(t *testing.T) {
	var loads atomic.Int64
	slowLoader := New(Options[*fakeSession]{
		Load: func(_ context.Context, id string) (*fakeSession, error) {
			loads.Add(1)
			time.Sleep(50 * time.Millisecond)
			return &fakeSession{id: id}, nil
		},
		TTL: -1,
	})

	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := slowLoader.Lease(context.Background(), "owner/model")
			if err != nil {
				t.Errorf("Lease: %v", err)
				return
			}
			defer lease.Release()
			if lease.Session().id != "owner/model" {
				t.Errorf("unexpected session %q", lease.Session().id)
			}
		}()
	}
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Errorf("loader invoked %d times, want 1", got)
	}
}

func TestSlowLoadDoesNotBlockOtherModels(t *testing.T) {
	release := make(chan struct{})
	m := New(Options[*fakeSession]{
		Load: func(_ context.Context, id string) (*fakeSession, error) {
			if id == "slow/model" {
				<-release
			}
			return &fakeSession{id: id}, nil
		},
		TTL: -1,
	})

	go func() {
		lease, err := m.Lease(context.Background(), "slow/model")
		if err == nil {
			lease.Release()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		lease, err := m.Lease(context.Background(), "fast/model")
		if err != nil {
			t.Errorf("Lease fast/model: %v", err)
			return
		}
		lease.Release()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lease of fast/model blocked behind slow load")
	}
	close(release)
}

// The cap-eviction scan must not wait on entry locks held across a
// load, or one cold model serializes every other lease.
func TestSlowLoadDoesNotBlockOtherModelsWithCap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	m := New(Options[*fakeSession]{
		Load: func(_ context.Context, id string) (*fakeSession, error) {
			if id == "slow/model" {
				close(started)
				<-release
			}
			return &fakeSession{id: id}, nil
		},
		TTL:       -1,
		MaxModels: 2,
	})

	go func() {
		lease, err := m.Lease(context.Background(), "slow/model")
		if err == nil {
			lease.Release()
		}
	}()
	<-started

	done := make(chan struct{})
	go func() {
		defer close(done)
		lease, err := m.Lease(context.Background(), "fast/model")
		if err != nil {
			t.Errorf("Lease fast/model: %v", err)
			return
		}
		lease.Release()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lease of fast/model blocked behind slow load with max_models set")
	}
	close(release)
}

func TestNoUnloadWhileLeased(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, 10*time.Millisecond, 0, nil, &disposals)

	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := disposals.Load(); got != 0 {
		t.Errorf("session disposed %d times while leased", got)
	}
	if err := m.ForceUnload("a/b"); !errors.Is(err, ErrBusy) {
		t.Errorf("ForceUnload while leased = %v, want ErrBusy", err)
	}
	lease.Release()
}

func TestTTLUnloadsExactlyOnce(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, 20*time.Millisecond, 0, nil, &disposals)

	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	lease.Release()

	deadline := time.Now().Add(time.Second)
	for disposals.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := disposals.Load(); got != 1 {
		t.Errorf("session disposed %d times, want 1", got)
	}
	if loaded := m.ListLoaded(); len(loaded) != 0 {
		t.Errorf("ListLoaded after TTL = %v, want empty", loaded)
	}
}

func TestLeaseBeforeTTLCancelsUnload(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, 60*time.Millisecond, 0, nil, &disposals)

	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	lease.Release()

	time.Sleep(20 * time.Millisecond)
	lease2, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("second Lease: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := disposals.Load(); got != 0 {
		t.Errorf("pending unload fired despite new lease (%d disposals)", got)
	}
	lease2.Release()
}

func TestZeroTTLUnloadsOnLastRelease(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, 0, 0, nil, &disposals)

	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	lease.Release()

	if got := disposals.Load(); got != 1 {
		t.Errorf("disposals = %d, want 1 (immediate unload)", got)
	}
}

func TestNegativeTTLNeverUnloads(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, -1, 0, nil, &disposals)

	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	lease.Release()

	time.Sleep(30 * time.Millisecond)
	if got := disposals.Load(); got != 0 {
		t.Errorf("disposals = %d, want 0", got)
	}
	if loaded := m.ListLoaded(); len(loaded) != 1 {
		t.Errorf("ListLoaded = %v, want one model", loaded)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, -1, 0, nil, &disposals)

	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	lease.Release()
	lease.Release()
	lease.Release()

	// A double release must not drive the refcount negative: a second
	// lease followed by a release should still leave the model loaded.
	lease2, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if err := m.ForceUnload("a/b"); !errors.Is(err, ErrBusy) {
		t.Errorf("ForceUnload = %v, want ErrBusy while leased", err)
	}
	lease2.Release()
}

func TestForceUnload(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, time.Hour, 0, nil, &disposals)

	if err := m.ForceUnload("a/b"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("ForceUnload absent = %v, want ErrNotLoaded", err)
	}

	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	lease.Release()

	// Idle with a pending timer: force-unload cancels it and unloads now.
	if err := m.ForceUnload("a/b"); err != nil {
		t.Fatalf("ForceUnload idle: %v", err)
	}
	if got := disposals.Load(); got != 1 {
		t.Errorf("disposals = %d, want 1", got)
	}
	if err := m.ForceUnload("a/b"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("second ForceUnload = %v, want ErrNotLoaded", err)
	}
}

func TestLoadEager(t *testing.T) {
	m := newManager(t, -1, 0, nil, nil)

	if err := m.LoadEager(context.Background(), "a/b"); err != nil {
		t.Fatalf("LoadEager: %v", err)
	}
	if err := m.LoadEager(context.Background(), "a/b"); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second LoadEager = %v, want ErrAlreadyLoaded", err)
	}
}

func TestLoaderFailureDoesNotCountReference(t *testing.T) {
	boom := errors.New("corrupt artifact")
	calls := 0
	m := New(Options[*fakeSession]{
		Load: func(_ context.Context, id string) (*fakeSession, error) {
			calls++
			if calls == 1 {
				return nil, boom
			}
			return &fakeSession{id: id}, nil
		},
		TTL: -1,
	})

	if _, err := m.Lease(context.Background(), "a/b"); !errors.Is(err, boom) {
		t.Fatalf("Lease = %v, want load error", err)
	}
	if loaded := m.ListLoaded(); len(loaded) != 0 {
		t.Errorf("ListLoaded after failed load = %v", loaded)
	}

	// The entry must recover: a later lease retries the loader.
	lease, err := m.Lease(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("Lease after failure: %v", err)
	}
	lease.Release()
}

func TestMaxModelsEvictsEldestIdle(t *testing.T) {
	var disposals atomic.Int64
	m := newManager(t, time.Hour, 2, nil, &disposals)

	for _, id := range []string{"m/1", "m/2"} {
		lease, err := m.Lease(context.Background(), id)
		if err != nil {
			t.Fatalf("Lease %s: %v", id, err)
		}
		lease.Release()
		time.Sleep(5 * time.Millisecond) // distinct last-release times
	}

	lease, err := m.Lease(context.Background(), "m/3")
	if err != nil {
		t.Fatalf("Lease m/3: %v", err)
	}
	defer lease.Release()

	loaded := m.ListLoaded()
	if len(loaded) != 2 {
		t.Fatalf("ListLoaded = %v, want 2 resident", loaded)
	}
	for _, id := range loaded {
		if id == "m/1" {
			t.Errorf("eldest idle model m/1 still resident: %v", loaded)
		}
	}
}

func TestMaxModelsNeverEvictsLeased(t *testing.T) {
	m := newManager(t, time.Hour, 1, nil, nil)

	held, err := m.Lease(context.Background(), "m/held")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	defer held.Release()

	other, err := m.Lease(context.Background(), "m/other")
	if err != nil {
		t.Fatalf("Lease over cap: %v", err)
	}
	other.Release()

	found := false
	for _, id := range m.ListLoaded() {
		if id == "m/held" {
			found = true
		}
	}
	if !found {
		t.Error("leased model was evicted by the cap")
	}
}
