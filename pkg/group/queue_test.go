package group

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpQueueDeduplicatesResidentOperations(t *testing.T) {
	q := newOpQueue()

	admitted, err := q.push(refreshOp(RefreshStandard), nil)
	require.NoError(t, err)
	assert.True(t, admitted)
	for range 2 {
		admitted, err = q.push(refreshOp(RefreshStandard), nil)
		require.NoError(t, err)
		assert.False(t, admitted)
	}
	admitted, _ = q.push(refreshOp(RefreshForce), nil)
	assert.True(t, admitted)
	assert.Equal(t, 2, q.len())

	ctx := context.Background()
	qo, err := q.pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh:standard", qo.op.key)

	// no longer resident, so admitted again
	admitted, _ = q.push(refreshOp(RefreshStandard), nil)
	assert.True(t, admitted)
}

func TestOpQueueIsFIFO(t *testing.T) {
	q := newOpQueue()
	ops := []operation{getDataOp("/a"), eventOp(EventChanged), deregisterOp(), getDataOp("/b")}
	for _, op := range ops {
		_, err := q.push(op, nil)
		require.NoError(t, err)
	}
	for _, want := range ops {
		qo, err := q.pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want.key, qo.op.key)
	}
}

func TestOpQueueUpdatesFoldRegardlessOfState(t *testing.T) {
	q := newOpQueue()
	admitted, err := q.push(compositeOp(refreshOp(RefreshForce), updateOp()), nil)
	require.NoError(t, err)
	assert.True(t, admitted)
	admitted, _ = q.push(compositeOp(refreshOp(RefreshForce), updateOp()), nil)
	assert.False(t, admitted)

	assert.NotEqual(t, updateOp().key, deregisterOp().key)
	assert.True(t, deregisterOp().deregister)
	assert.False(t, updateOp().deregister)
}

func TestOpQueuePopWaitsForPush(t *testing.T) {
	q := newOpQueue()
	got := make(chan string, 1)
	go func() {
		qo, err := q.pop(context.Background())
		if err == nil {
			got <- qo.op.key
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := q.push(getDataOp("/x"), nil)
	require.NoError(t, err)

	select {
	case key := <-got:
		assert.Equal(t, "get_data:/x", key)
	case <-time.After(time.Second):
		t.Fatal("pop did not return")
	}
}

func TestOpQueuePopHonoursContext(t *testing.T) {
	q := newOpQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpQueueWaitersFoldIntoResidentDuplicate(t *testing.T) {
	q := newOpQueue()
	first := make(chan struct{})
	second := make(chan struct{})
	admitted, _ := q.push(refreshOp(RefreshForce), first)
	assert.True(t, admitted)
	admitted, _ = q.push(refreshOp(RefreshForce), second)
	assert.False(t, admitted)

	qo, err := q.pop(context.Background())
	require.NoError(t, err)
	qo.done()

	for _, ch := range []chan struct{}{first, second} {
		select {
		case <-ch:
		default:
			t.Fatal("waiter not released")
		}
	}
}

func TestOpQueueCloseWith(t *testing.T) {
	q := newOpQueue()
	waiter := make(chan struct{})
	_, _ = q.push(refreshOp(RefreshStandard), waiter)
	_, _ = q.push(getDataOp("/a"), nil)

	q.closeWith(deregisterOp())

	// discarded work releases its waiters
	select {
	case <-waiter:
	default:
		t.Fatal("waiter of discarded operation not released")
	}

	_, err := q.push(refreshOp(RefreshForce), nil)
	assert.ErrorIs(t, err, errQueueClosed)

	qo, err := q.pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "update:nil", qo.op.key)

	_, err = q.pop(context.Background())
	assert.ErrorIs(t, err, errQueueClosed)
}
