package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitForWaiters(t *testing.T, q *signerQueue, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for q.waiting() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d waiters, got %d", n, q.waiting())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSignerQueueServesInArrivalOrder(t *testing.T) {
	q := newSignerQueue(nil)
	release, err := q.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := q.acquire(context.Background())
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			done()
		}(i)
		waitForWaiters(t, q, i+1)
	}

	release()
	wg.Wait()
	for i, got := range order {
		if got != i {
			t.Fatalf("served out of order: %v", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("expected 5 callers served, got %v", order)
	}
}

func TestSignerQueueCancelledWaiterLeavesLine(t *testing.T) {
	q := newSignerQueue(nil)
	release, err := q.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.acquire(ctx)
		errc <- err
	}()
	waitForWaiters(t, q, 1)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if q.waiting() != 0 {
		t.Fatalf("cancelled caller still queued")
	}

	release()
	next, err := q.acquire(context.Background())
	if err != nil {
		t.Fatalf("slot not freed: %v", err)
	}
	next()
}
