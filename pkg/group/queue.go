package group

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("group: operation queue closed")

type queuedOp struct {
	op      operation
	waiters []chan struct{}
}

// done wakes everybody waiting for the operation.
func (q *queuedOp) done() {
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}

// opQueue is an unbounded FIFO drained by a single consumer. An operation
// whose key matches one still waiting in the queue is not admitted; the
// check and the insert happen under the same lock.
type opQueue struct {
	mu      sync.Mutex
	items   *list.List
	pending map[string]*list.Element
	closed  bool
	signal  chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{
		items:   list.New(),
		pending: make(map[string]*list.Element),
		signal:  make(chan struct{}, 1),
	}
}

// push appends op unless an equal operation is already queued. A non-nil
// done channel is closed once op, or the queued duplicate it was folded
// into, has run.
func (q *opQueue) push(op operation, done chan struct{}) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, errQueueClosed
	}
	if el, ok := q.pending[op.key]; ok {
		if done != nil {
			qo := el.Value.(*queuedOp)
			qo.waiters = append(qo.waiters, done)
		}
		return false, nil
	}
	qo := &queuedOp{op: op}
	if done != nil {
		qo.waiters = append(qo.waiters, done)
	}
	q.pending[op.key] = q.items.PushBack(qo)
	q.wake()
	return true, nil
}

// pop blocks until an operation is available, the queue is closed and
// drained, or ctx is done.
func (q *opQueue) pop(ctx context.Context) (*queuedOp, error) {
	for {
		q.mu.Lock()
		if front := q.items.Front(); front != nil {
			qo := q.items.Remove(front).(*queuedOp)
			delete(q.pending, qo.op.key)
			q.mu.Unlock()
			return qo, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, errQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// closeWith stops admission, discards queued work and leaves final as the
// last operation to run.
func (q *opQueue) closeWith(final operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for el := q.items.Front(); el != nil; el = el.Next() {
		el.Value.(*queuedOp).done()
	}
	q.items.Init()
	clear(q.pending)
	q.pending[final.key] = q.items.PushBack(&queuedOp{op: final})
	q.wake()
}

func (q *opQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *opQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
