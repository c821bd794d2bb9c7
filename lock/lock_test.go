package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/taskvault/taskvault/errors"
)

func TestAcquireRelease(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	h, err := mgr.Acquire(ctx, "task:1", "owner-a", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if h.Resource() != "task:1" || h.Owner() != "owner-a" {
		t.Errorf("unexpected handle: %+v", h)
	}

	st := mgr.Status("task:1")
	if !st.Held || st.Owner != "owner-a" {
		t.Errorf("Status = %+v", st)
	}

	if err := mgr.Release(h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if mgr.Status("task:1").Held {
		t.Error("lock should be free after release")
	}
}

func TestAcquireEmptyKey(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.Acquire(context.Background(), "", "o", 0); !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("expected VALIDATION, got %v", err)
	}
}

func TestDoubleRelease(t *testing.T) {
	mgr := NewManager()
	h, err := mgr.Acquire(context.Background(), "task:1", "o", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := mgr.Release(h); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := mgr.Release(h); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("second Release should fail with NOT_FOUND, got %v", err)
	}
}

func TestAcquireTimeout(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	h, err := mgr.Acquire(ctx, "task:1", "holder", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer mgr.Release(h)

	start := time.Now()
	_, err = mgr.Acquire(ctx, "task:1", "waiter", 50*time.Millisecond)
	if !errors.Is(err, errors.ErrCodeLockTimeout) {
		t.Fatalf("expected LOCK_TIMEOUT, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
}

func TestAcquireContextCancel(t *testing.T) {
	mgr := NewManager()

	h, err := mgr.Acquire(context.Background(), "task:1", "holder", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer mgr.Release(h)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := mgr.Acquire(ctx, "task:1", "waiter", 0)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrCodeCanceled) {
			t.Errorf("expected CANCELED, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after cancel")
	}
}

func TestFIFOOrder(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	h, err := mgr.Acquire(ctx, "task:1", "holder", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	const n = 5
	order := make(chan int, n)
	var started sync.WaitGroup
	var done sync.WaitGroup

	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		go func(idx int) {
			defer done.Done()
			started.Done()
			hi, err := mgr.Acquire(ctx, "task:1", fmt.Sprintf("w%d", idx), 0)
			if err != nil {
				t.Errorf("Acquire %d failed: %v", idx, err)
				return
			}
			order <- idx
			mgr.Release(hi)
		}(i)
		started.Wait()
		started = sync.WaitGroup{}
		// Give each goroutine time to enqueue before the next starts,
		// so queue order matches loop order.
		time.Sleep(10 * time.Millisecond)
	}

	mgr.Release(h)
	done.Wait()
	close(order)

	want := 0
	for got := range order {
		if got != want {
			t.Fatalf("waiter %d was served before waiter %d", got, want)
		}
		want++
	}
	if want != n {
		t.Fatalf("served %d waiters, want %d", want, n)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	wantErr := fmt.Errorf("operation failed")
	err := mgr.WithLock(ctx, "task:1", "o", 0, func() error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("WithLock should return fn's error, got %v", err)
	}
	if mgr.Status("task:1").Held {
		t.Error("lock should be released after fn error")
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	func() {
		defer func() { recover() }()
		_ = mgr.WithLock(ctx, "task:1", "o", 0, func() error {
			panic("boom")
		})
	}()

	if mgr.Status("task:1").Held {
		t.Error("lock should be released after panic")
	}
}

func TestMapEntryRemovedWhenDrained(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		h, err := mgr.Acquire(ctx, fmt.Sprintf("task:%d", i), "o", 0)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if err := mgr.Release(h); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
	}

	if n := mgr.Len(); n != 0 {
		t.Errorf("lock table should be empty after all releases, has %d entries", n)
	}
}

func TestMutualExclusion(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			err := mgr.WithLock(ctx, "task:shared", fmt.Sprintf("w%d", idx), 0, func() error {
				// Unsynchronized increment; the lock is the only guard.
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50; lock failed to serialize", counter)
	}
}

func TestIndependentKeysDoNotBlock(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()

	h, err := mgr.Acquire(ctx, "task:a", "o", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer mgr.Release(h)

	// A different key must be grantable immediately.
	h2, err := mgr.Acquire(ctx, "task:b", "o", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	mgr.Release(h2)
}

func TestClosedManager(t *testing.T) {
	mgr := NewManager()
	mgr.Close()
	if _, err := mgr.Acquire(context.Background(), "task:1", "o", 0); !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("expected CLOSED, got %v", err)
	}
}
