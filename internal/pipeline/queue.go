package pipeline

import (
	"context"
	"sync"

	"tagAirdrop/internal/chain"
)

// signerQueue serialises the transactions of one signer. Waiting callers are
// served in arrival order and may give up with their context.
type signerQueue struct {
	signer *chain.Signer

	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

func newSignerQueue(signer *chain.Signer) *signerQueue {
	return &signerQueue{signer: signer}
}

func (q *signerQueue) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return q.release, nil
	}
	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	q.mu.Unlock()

	select {
	case <-ready:
		return q.release, nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	for i, w := range q.waiters {
		if w == ready {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			q.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	q.mu.Unlock()
	// The slot was handed over while ctx ended; pass it on.
	q.release()
	return nil, ctx.Err()
}

// release hands the slot to the oldest waiter, or frees it.
func (q *signerQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}

func (q *signerQueue) waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
