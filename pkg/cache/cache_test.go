package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetLoadsOnceWithinTTL(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})
	var loads int32

	loader := func(ctx context.Context) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return "service-1", true, nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), "course-1", loader)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != "service-1" {
			t.Fatalf("expected service-1, got %v", got)
		}
	}
	if loads != 1 {
		t.Fatalf("expected 1 load, got %d", loads)
	}
}

func TestConcurrentGetCollapsesLoads(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})
	var loads int32

	loader := func(ctx context.Context) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(10 * time.Millisecond)
		return 42, true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "k", loader); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if loads != 1 {
		t.Fatalf("expected singleflight to collapse to 1 load, got %d", loads)
	}
}

func TestConcurrentHitsAfterWarmup(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})
	var loads int32

	loader := func(ctx context.Context) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return "warm", true, nil
	}

	if _, err := c.Get(context.Background(), "k", loader); err != nil {
		t.Fatalf("warmup Get: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Get(context.Background(), "k", loader)
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			if got != "warm" {
				t.Errorf("expected warm, got %v", got)
			}
		}()
	}
	wg.Wait()

	if loads != 1 {
		t.Fatalf("expected hits only after warmup, got %d loads", loads)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})
	var loads int32

	loader := func(ctx context.Context) (interface{}, bool, error) {
		return atomic.AddInt32(&loads, 1), true, nil
	}

	first, _ := c.Get(context.Background(), "k", loader)
	c.Invalidate("k")
	second, _ := c.Get(context.Background(), "k", loader)

	if first == second {
		t.Fatalf("expected reload after invalidate")
	}
}

func TestMaxEntriesEvicts(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 2}, MetricsHooks{})
	loader := func(v string) Loader {
		return func(ctx context.Context) (interface{}, bool, error) { return v, true, nil }
	}

	_, _ = c.Get(context.Background(), "a", loader("a"))
	_, _ = c.Get(context.Background(), "b", loader("b"))
	_, _ = c.Get(context.Background(), "c", loader("c"))

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.items) > 2 {
		t.Fatalf("expected at most 2 entries, got %d", len(c.items))
	}
}
