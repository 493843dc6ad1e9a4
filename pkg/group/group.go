package group

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// Group is one process' view of, and registration in, a group path.
type Group struct {
	path         string
	store        coord.Store
	codec        Codec
	logger       *zap.Logger
	metrics      Metrics
	prefix       string
	closeTimeout time.Duration
	uuid         string

	members    *membershipStore
	queue      *opQueue
	listeners  *listenerList
	childWatch *childWatcher
	dataWatch  *dataWatcher

	// written by the worker only
	ownPath  *atomic.String
	creating *atomic.Bool

	started   *atomic.Bool
	closed    *atomic.Bool
	connected *atomic.Bool
	unstable  *atomic.Bool

	mu             sync.Mutex
	requested      *NodeState
	requestedBytes []byte
	lastState      *NodeState

	// lifecycle serializes Start and Close around the fields below
	lifecycle   sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a Group for path on store. Nothing happens until Start.
func New(store coord.Store, path string, opts ...Option) *Group {
	g := &Group{
		path:         path,
		store:        store,
		codec:        JSONCodec{},
		logger:       zap.NewNop(),
		metrics:      noopMetrics{},
		prefix:       DefaultMemberPrefix,
		closeTimeout: DefaultCloseTimeout,
		uuid:         uuid.NewString(),
		members:      newMembershipStore(),
		queue:        newOpQueue(),
		listeners:    &listenerList{},
		ownPath:      atomic.NewString(""),
		creating:     atomic.NewBool(false),
		started:      atomic.NewBool(false),
		closed:       atomic.NewBool(false),
		connected:    atomic.NewBool(false),
		unstable:     atomic.NewBool(false),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt.Apply(g)
	}
	g.childWatch = &childWatcher{g: g}
	g.dataWatch = &dataWatcher{g: g}
	g.logger = g.logger.With(zap.String("group", path), zap.String("uuid", g.uuid))
	return g
}

// Start launches the worker and subscribes to session transitions. If the
// store is already connected the initial refresh is queued right away.
func (g *Group) Start(ctx context.Context) error {
	g.lifecycle.Lock()
	if g.closed.Load() {
		g.lifecycle.Unlock()
		return ErrClosed
	}
	if !g.started.CompareAndSwap(false, true) {
		g.lifecycle.Unlock()
		return ErrAlreadyStarted
	}

	// the worker outlives the caller's context, only Close stops it
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancel = cancel
	go g.run(workerCtx)

	g.unsubscribe = g.store.SubscribeSession(g.handleSessionState)
	g.lifecycle.Unlock()

	if g.store.Connected() {
		g.handleSessionState(coord.SessionConnected)
	}
	g.logger.Info("group started", zap.String("prefix", g.prefix))
	return nil
}

// Close stops admitting work, deregisters this member on a best-effort
// basis and waits a bounded time for the worker to exit.
func (g *Group) Close(ctx context.Context) error {
	g.lifecycle.Lock()
	if !g.closed.CompareAndSwap(false, true) {
		g.lifecycle.Unlock()
		return nil
	}
	unsubscribe, cancel := g.unsubscribe, g.cancel
	started := g.started.Load()
	g.lifecycle.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if !started {
		return nil
	}

	g.queue.closeWith(deregisterOp())

	var err error
	timer := time.NewTimer(g.closeTimeout)
	defer timer.Stop()
	select {
	case <-g.done:
	case <-timer.C:
		err = multierr.Append(err, fmt.Errorf("deregistration: %w", context.DeadlineExceeded))
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	// interrupt whatever the worker is still doing
	cancel()
	select {
	case <-g.done:
	case <-time.After(g.closeTimeout):
		err = multierr.Append(err, ErrWorkerStuck)
	}

	g.connected.Store(false)
	g.logger.Info("group closed")
	return err
}

// Update publishes state as this member's registration; nil deregisters.
// It only queues the work: registration completes asynchronously.
// Byte-identical repeated states are ignored.
func (g *Group) Update(state *NodeState) error {
	if g.closed.Load() {
		return ErrClosed
	}
	if !g.started.Load() {
		return ErrNotStarted
	}

	var encoded []byte
	if state != nil {
		var err error
		if encoded, err = g.codec.Encode(*state); err != nil {
			return err
		}
	}

	g.mu.Lock()
	unchanged := (g.requested == nil && state == nil) ||
		(g.requested != nil && state != nil && bytes.Equal(g.requestedBytes, encoded))
	if unchanged {
		g.mu.Unlock()
		return nil
	}
	var next *NodeState
	if state != nil {
		s := state.Clone()
		next = &s
	}
	g.requested = next
	g.requestedBytes = encoded
	g.mu.Unlock()

	g.enqueue(compositeOp(refreshOp(RefreshForce), updateOp()))
	return nil
}

// ClearAndRefresh empties the cache and rebuilds it from the store. With
// sync set it waits until the refresh has run or ctx is done.
func (g *Group) ClearAndRefresh(ctx context.Context, force, sync bool) error {
	if g.closed.Load() {
		return ErrClosed
	}
	if !g.started.Load() {
		return ErrNotStarted
	}

	mode := RefreshStandard
	if force {
		mode = RefreshForce
	}
	op := clearingRefreshOp(mode)
	if !sync {
		g.enqueue(op)
		return nil
	}

	done := make(chan struct{})
	if _, err := g.queue.push(op, done); err != nil {
		return ErrClosed
	}
	g.metrics.SetQueueDepth(g.path, g.queue.len())
	select {
	case <-done:
		if g.closed.Load() {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddListener subscribes l to group events.
func (g *Group) AddListener(l Listener) *Subscription {
	return g.listeners.add(l)
}

// RemoveListener cancels a subscription returned by AddListener.
func (g *Group) RemoveListener(s *Subscription) {
	s.Cancel()
}

// Path returns the group path.
func (g *Group) Path() string { return g.path }

// ID returns the uuid injected in this member's state.
func (g *Group) ID() string { return g.uuid }

// IsConnected reports whether the store session is usable.
func (g *Group) IsConnected() bool { return g.connected.Load() }

// IsUnstable reports that a registration may have been created server-side
// without this member learning its path; a duplicate entry may exist until
// the session cycles.
func (g *Group) IsUnstable() bool { return g.unstable.Load() }

// OwnRegistrationPath returns the path of this member's node, or "" while
// unregistered.
func (g *Group) OwnRegistrationPath() string { return g.ownPath.Load() }

// LastState returns the state last written to the store, nil when this
// member is not registered.
func (g *Group) LastState() *NodeState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastState == nil {
		return nil
	}
	s := g.lastState.Clone()
	return &s
}

func (g *Group) setLastState(s *NodeState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s == nil {
		g.lastState = nil
		return
	}
	c := s.Clone()
	g.lastState = &c
}

func (g *Group) requestedState() *NodeState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.requested == nil {
		return nil
	}
	s := g.requested.Clone()
	return &s
}

// enqueue admits op unless an equal operation is already pending or the
// group is closing.
func (g *Group) enqueue(op operation) {
	admitted, err := g.queue.push(op, nil)
	if err != nil {
		g.logger.Debug("dropping operation, group closing", zap.String("op", op.key))
		return
	}
	if !admitted {
		g.metrics.DropOperation(g.path, op.kind.String())
		return
	}
	g.metrics.SetQueueDepth(g.path, g.queue.len())
}

func (g *Group) run(ctx context.Context) {
	defer close(g.done)
	for {
		qo, err := g.queue.pop(ctx)
		if err != nil {
			return
		}
		g.metrics.SetQueueDepth(g.path, g.queue.len())
		g.execute(ctx, qo.op)
		qo.done()
	}
}

// execute runs one operation; failures are logged and never stop the worker.
func (g *Group) execute(ctx context.Context, op operation) {
	start := time.Now()
	err := g.invoke(ctx, op)
	g.metrics.ObserveOperation(g.path, op.kind.String(), time.Since(start), err)
	if err != nil && ctx.Err() == nil {
		g.logger.Error("operation failed", zap.String("op", op.key), zap.Error(err))
	}
}

func (g *Group) invoke(ctx context.Context, op operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", op.kind, r)
		}
	}()

	switch op.kind {
	case opRefresh:
		if op.clear {
			g.members.clear()
		}
		return g.refresh(ctx, op.mode)
	case opGetData:
		return g.getData(ctx, op.path)
	case opUpdate:
		if op.deregister {
			return g.doUpdate(ctx, nil)
		}
		return g.doUpdate(ctx, g.requestedState())
	case opEvent:
		g.fire(op.event)
		return nil
	case opForget:
		g.forget()
		return nil
	case opComposite:
		for _, child := range op.ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := g.invoke(ctx, child); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				g.logger.Warn("composite step failed", zap.String("op", child.key), zap.Error(err))
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown operation kind %d", op.kind)
	}
}

// fire notifies every listener; a failing listener does not prevent the
// others from being called.
func (g *Group) fire(ev EventType) {
	g.metrics.CountEvent(g.path, ev.String())
	g.metrics.SetMembers(g.path, len(g.ActiveMembers()))
	g.metrics.SetMaster(g.path, g.IsMaster())
	for _, e := range g.listeners.snapshot() {
		if err := g.notify(e.listener, ev); err != nil {
			g.metrics.CountListenerFailure(g.path)
			g.logger.Error("listener failed", zap.Stringer("event", ev), zap.Error(err))
		}
	}
}

func (g *Group) notify(l Listener, ev EventType) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.GroupEvent(g, ev)
}
