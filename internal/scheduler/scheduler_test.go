package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/connector"
	"github.com/dl-alexandre/cloudsync/internal/logging"
)

type fakeSyncer struct {
	mu        sync.Mutex
	due       []string
	syncCalls int
	panicOnce bool
}

func (f *fakeSyncer) AutoSyncDue(now time.Time) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnce {
		f.panicOnce = false
		panic("simulated loop failure")
	}
	return f.due
}

func (f *fakeSyncer) SyncNow(ctx context.Context, provider string, items []string) map[string]connector.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	result := connector.SyncResult{Provider: provider}
	result.Finish(time.Now())
	return map[string]connector.SyncResult{provider: result}
}

func (f *fakeSyncer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls
}

func TestSchedulerRunsDueProviders(t *testing.T) {
	syncer := &fakeSyncer{due: []string{"fake"}}
	s := New(syncer, logging.NewNopLogger(), Options{
		Tick:        5 * time.Millisecond,
		JoinTimeout: time.Second,
	})

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for syncer.calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler ran %d passes, want at least 2", syncer.calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerStopWakesMidWait(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(syncer, logging.NewNopLogger(), Options{
		Tick:        time.Hour,
		JoinTimeout: 2 * time.Second,
	})

	s.Start()
	start := time.Now()
	s.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v, want well under the tick interval", elapsed)
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	s := New(&fakeSyncer{}, logging.NewNopLogger(), Options{
		Tick:        time.Hour,
		JoinTimeout: time.Second,
	})
	s.Start()
	s.Stop()
	s.Stop()

	// Stop before Start is also a no-op.
	fresh := New(&fakeSyncer{}, logging.NewNopLogger(), Options{})
	fresh.Stop()
}

func TestSchedulerSurvivesPanic(t *testing.T) {
	syncer := &fakeSyncer{due: []string{"fake"}, panicOnce: true}
	s := New(syncer, logging.NewNopLogger(), Options{
		Tick:        5 * time.Millisecond,
		Cooldown:    10 * time.Millisecond,
		JoinTimeout: time.Second,
	})

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for syncer.calls() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("loop did not recover after a panic")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
