package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// grant obtains a fresh lease, retrying with backoff.
func (s *EtcdStore) grant(ctx context.Context) error {
	retrier := retry.NewRetrier(s.cfg.ConnectAttempts, 100*time.Millisecond, s.cfg.DialTimeout)
	return retrier.RunContext(ctx, func(ctx context.Context) error {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		resp, err := s.client.Grant(gctx, s.cfg.TTL)
		if err != nil {
			s.logger.Warn("lease grant failed", zap.Error(err))
			return fmt.Errorf("grant lease: %w", err)
		}
		s.mu.Lock()
		s.lease = resp.ID
		s.mu.Unlock()
		return nil
	})
}

// keepAlive refreshes the lease for the lifetime of the store and maps its
// health onto session states:
//
//	no ack for 2/3 of the TTL    -> SessionSuspended
//	ack again while suspended    -> SessionReconnected
//	lease gone or TTL elapsed    -> SessionLost, then a new lease and SessionReconnected
func (s *EtcdStore) keepAlive(ctx context.Context) {
	defer s.wg.Done()
	for {
		kaCtx, kaCancel := context.WithCancel(ctx)
		ch, err := s.client.KeepAlive(kaCtx, s.currentLease())
		if err != nil {
			s.logger.Warn("keep-alive could not start", zap.Error(err))
		} else {
			s.superviseLease(ctx, ch)
		}
		kaCancel()
		if ctx.Err() != nil {
			return
		}

		old := s.currentLease()
		s.logger.Warn("session lease lost", zap.Int64("lease", int64(old)))
		s.setState(coord.SessionLost)
		for {
			err := s.grant(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("could not re-establish session, backing off", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.DialTimeout):
			}
		}
		// keys of the old lease must not outlive the session that wrote them
		s.retireLease(ctx, old)
		s.logger.Info("session re-established", zap.Int64("lease", int64(s.currentLease())))
		s.setState(coord.SessionReconnected)
	}
}

// retireLease revokes a lease the store no longer keeps alive, deleting the
// keys still attached to it. Failures are logged: the lease then expires on
// its own.
func (s *EtcdStore) retireLease(ctx context.Context, lease clientv3.LeaseID) {
	if lease == clientv3.NoLease || lease == s.currentLease() {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if _, err := s.client.Revoke(rctx, lease); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
		s.logger.Warn("could not revoke old lease", zap.Int64("lease", int64(lease)), zap.Error(err))
	}
}

// superviseLease returns once the lease must be considered expired or ctx
// is done.
func (s *EtcdStore) superviseLease(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	ttl := time.Duration(s.cfg.TTL) * time.Second
	ticker := time.NewTicker(ttl / 6)
	defer ticker.Stop()

	lastAck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-ch:
			if !ok || resp == nil {
				return
			}
			lastAck = time.Now()
			if s.sessionState() == coord.SessionSuspended {
				s.setState(coord.SessionReconnected)
			}
		case <-ticker.C:
			silent := time.Since(lastAck)
			if silent >= ttl {
				return
			}
			if silent >= ttl*2/3 && s.Connected() {
				s.logger.Warn("lease refresh overdue, suspending session", zap.Duration("silent", silent))
				s.setState(coord.SessionSuspended)
			}
		}
	}
}

func (s *EtcdStore) sessionState() coord.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState records the new state and notifies subscribers on the calling
// goroutine. Losing the session drops every armed watch.
func (s *EtcdStore) setState(state coord.SessionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	if state == coord.SessionLost {
		s.watchCancel()
		s.watchCtx, s.watchCancel = context.WithCancel(s.ctx)
	}
	fns := make([]func(coord.SessionState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if state == coord.SessionLost {
		s.watches.Clear()
	}
	s.logger.Info("session state changed", zap.Stringer("state", state))
	for _, fn := range fns {
		fn(state)
	}
}
