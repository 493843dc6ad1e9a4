package discovery

import (
	"context"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// startWatch derives a context from the current session and accounts for
// the goroutine that will serve the watch. It refuses once the store is
// closing, so Close never waits on a goroutine added after it started.
func (s *EtcdStore) startWatch() (context.Context, context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || s.watchCtx.Err() != nil {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(s.watchCtx)
	s.wg.Add(1)
	return ctx, cancel, true
}

// watchData backs the one-shot data watches of path with an etcd watch
// starting at rev. The first relevant event disarms and fires them.
func (s *EtcdStore) watchData(path string, rev int64) {
	ctx, cancel, ok := s.startWatch()
	if !ok {
		return
	}
	ch := s.watcher.Watch(ctx, path, clientv3.WithRev(rev))

	go func() {
		defer s.wg.Done()
		defer cancel()
		for resp := range ch {
			if err := resp.Err(); err != nil {
				// compacted or canceled server-side: readers must re-read
				s.logger.Debug("data watch interrupted", zap.String("path", path), zap.Error(err))
				coord.Fire(s.watches.TakeData(path), coord.WatchEvent{Type: coord.EventNodeDataChanged, Path: path})
				return
			}
			if len(resp.Events) > 0 {
				coord.Fire(s.watches.TakeData(path), coord.WatchEvent{Type: dataEventType(resp.Events[0]), Path: path})
				return
			}
		}
	}()
}

// watchChildren backs the one-shot children watches of path. Only the
// creation or deletion of a direct child fires them.
func (s *EtcdStore) watchChildren(path string, rev int64) {
	ctx, cancel, ok := s.startWatch()
	if !ok {
		return
	}
	dir := childPrefix(path)
	ch := s.watcher.Watch(ctx, dir, clientv3.WithPrefix(), clientv3.WithRev(rev))

	go func() {
		defer s.wg.Done()
		defer cancel()
		for resp := range ch {
			if err := resp.Err(); err != nil {
				s.logger.Debug("children watch interrupted", zap.String("path", path), zap.Error(err))
				coord.Fire(s.watches.TakeChildren(path), coord.WatchEvent{Type: coord.EventNodeChildrenChanged, Path: path})
				return
			}
			for _, ev := range resp.Events {
				if _, ok := directChild(dir, string(ev.Kv.Key)); !ok {
					continue
				}
				if ev.Type == mvccpb.PUT && !ev.IsCreate() {
					continue
				}
				coord.Fire(s.watches.TakeChildren(path), coord.WatchEvent{Type: coord.EventNodeChildrenChanged, Path: path})
				return
			}
		}
	}()
}

func dataEventType(ev *clientv3.Event) coord.EventType {
	switch {
	case ev.Type == mvccpb.DELETE:
		return coord.EventNodeDeleted
	case ev.IsCreate():
		return coord.EventNodeCreated
	default:
		return coord.EventNodeDataChanged
	}
}
