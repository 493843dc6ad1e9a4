package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// seqRoot holds the per-parent counters used to name sequential nodes.
// It sits outside any group path, so children listings never see it.
const seqRoot = "/.seq"

// EtcdStore implements coord.Store on etcd. Ephemeral nodes are keys bound
// to the store's lease; the lease plays the part of the session.
type EtcdStore struct {
	cfg     Config
	client  *clientv3.Client
	kv      clientv3.KV
	watcher clientv3.Watcher
	logger  *zap.Logger

	watches *coord.WatchRegistry

	mu           sync.Mutex
	lease        clientv3.LeaseID
	state        coord.SessionState
	listeners    map[int]func(coord.SessionState)
	nextListener int
	watchCtx     context.Context
	watchCancel  context.CancelFunc

	closed *atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ coord.Store = (*EtcdStore)(nil)

func NewClient(cfg Config) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		TLS:         cfg.TLS,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Logger:      cfg.Logger.Named("etcd-client"),
	})
}

// Open connects to etcd, grants the session lease and starts keeping it
// alive. The returned store is connected.
func Open(ctx context.Context, cfg Config) (*EtcdStore, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	retrier := retry.NewRetrier(cfg.ConnectAttempts, 100*time.Millisecond, cfg.DialTimeout)
	err = retrier.RunContext(ctx, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		_, err := client.Status(sctx, cfg.Endpoints[0])
		return err
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("connect to etcd: %w", err), client.Close())
	}

	s := &EtcdStore{
		cfg:       cfg,
		client:    client,
		kv:        namespace.NewKV(client.KV, cfg.Namespace),
		watcher:   namespace.NewWatcher(client.Watcher, cfg.Namespace),
		logger:    cfg.Logger.With(zap.String("namespace", cfg.Namespace)),
		watches:   coord.NewWatchRegistry(),
		state:     coord.SessionConnected,
		listeners: make(map[int]func(coord.SessionState)),
		closed:    atomic.NewBool(false),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.watchCtx, s.watchCancel = context.WithCancel(s.ctx)

	if err := s.grant(ctx); err != nil {
		s.cancel()
		return nil, multierr.Append(err, client.Close())
	}

	s.wg.Add(1)
	go s.keepAlive(s.ctx)

	s.logger.Info("etcd store opened",
		zap.Strings("endpoints", cfg.Endpoints),
		zap.Int64("ttl", cfg.TTL),
		zap.Int64("lease", int64(s.currentLease())))
	return s, nil
}

// Close stops the session, revoking the lease so that every ephemeral node
// of this store disappears right away.
func (s *EtcdStore) Close() error {
	// under mu so that no watch goroutine is added once Wait may run
	s.mu.Lock()
	closing := s.closed.CompareAndSwap(false, true)
	s.mu.Unlock()
	if !closing {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.watches.Clear()

	var err error
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	if lease := s.currentLease(); lease != clientv3.NoLease {
		if _, rerr := s.client.Revoke(ctx, lease); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("revoke lease: %w", rerr))
		}
	}
	err = multierr.Append(err, s.client.Close())
	s.logger.Info("etcd store closed")
	return err
}

// CreateSequentialEphemeral implements coord.Store. The sequence is taken
// from a per-parent counter bumped in the same transaction that creates
// the node.
func (s *EtcdStore) CreateSequentialEphemeral(ctx context.Context, prefix string, data []byte) (string, error) {
	lease, err := s.usable(ctx)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	parent := coord.Parent(prefix)
	counter := seqRoot + parent
	for {
		resp, err := s.kv.Get(ctx, counter)
		if err != nil {
			return "", s.wrap(ctx, err)
		}
		var seq, rev int64
		if len(resp.Kvs) > 0 {
			if seq, err = strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64); err != nil {
				return "", fmt.Errorf("corrupt sequence counter %s: %w", counter, err)
			}
			rev = resp.Kvs[0].ModRevision
		}

		path := coord.Join(parent, coord.SequenceName(coord.Base(prefix), seq))
		txn, err := s.kv.Txn(ctx).
			If(
				clientv3.Compare(clientv3.ModRevision(counter), "=", rev),
				clientv3.Compare(clientv3.CreateRevision(path), "=", 0),
			).
			Then(
				clientv3.OpPut(counter, strconv.FormatInt(seq+1, 10)),
				clientv3.OpPut(path, string(data), clientv3.WithLease(lease)),
			).
			Commit()
		if err != nil {
			return "", s.wrap(ctx, err)
		}
		if txn.Succeeded {
			return path, nil
		}
		// another member took this sequence number
		s.logger.Debug("sequence contended, retrying", zap.String("parent", parent), zap.Int64("seq", seq))
	}
}

// SetData implements coord.Store. etcd versions start at 1, coord versions
// at 0.
func (s *EtcdStore) SetData(ctx context.Context, path string, data []byte, version int64) (coord.Stat, error) {
	if _, err := s.usable(ctx); err != nil {
		return coord.Stat{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	txn, err := s.kv.Txn(ctx).
		If(versionGuard(path, version)...).
		Then(clientv3.OpPut(path, string(data), clientv3.WithIgnoreLease()), clientv3.OpGet(path)).
		Else(clientv3.OpGet(path)).
		Commit()
	if err != nil {
		return coord.Stat{}, s.wrap(ctx, err)
	}
	if !txn.Succeeded {
		return coord.Stat{}, guardFailure(txn)
	}
	kvs := txn.Responses[1].GetResponseRange().GetKvs()
	if len(kvs) == 0 {
		return coord.Stat{}, coord.ErrNoNode
	}
	return coord.Stat{Version: kvs[0].Version - 1}, nil
}

// Delete implements coord.Store.
func (s *EtcdStore) Delete(ctx context.Context, path string, version int64) error {
	if _, err := s.usable(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	txn, err := s.kv.Txn(ctx).
		If(versionGuard(path, version)...).
		Then(clientv3.OpDelete(path)).
		Else(clientv3.OpGet(path)).
		Commit()
	if err != nil {
		return s.wrap(ctx, err)
	}
	if !txn.Succeeded {
		return guardFailure(txn)
	}
	return nil
}

// GetData implements coord.Store.
func (s *EtcdStore) GetData(ctx context.Context, path string, w coord.Watcher) ([]byte, coord.Stat, error) {
	if _, err := s.usable(ctx); err != nil {
		return nil, coord.Stat{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.kv.Get(ctx, path)
	if err != nil {
		return nil, coord.Stat{}, s.wrap(ctx, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, coord.Stat{}, coord.ErrNoNode
	}
	if w != nil && s.watches.AddData(path, w) {
		s.watchData(path, resp.Header.Revision+1)
	}
	kv := resp.Kvs[0]
	return kv.Value, coord.Stat{Version: kv.Version - 1}, nil
}

// Children implements coord.Store.
func (s *EtcdStore) Children(ctx context.Context, path string, w coord.Watcher) ([]string, error) {
	if _, err := s.usable(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	dir := childPrefix(path)
	resp, err := s.kv.Get(ctx, dir, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	names := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if name, ok := directChild(dir, string(kv.Key)); ok {
			names = append(names, name)
		}
	}
	if w != nil && s.watches.AddChildren(path, w) {
		s.watchChildren(path, resp.Header.Revision+1)
	}
	return names, nil
}

// Connected implements coord.Store.
func (s *EtcdStore) Connected() bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == coord.SessionConnected || s.state == coord.SessionReconnected
}

// SubscribeSession implements coord.Store.
func (s *EtcdStore) SubscribeSession(fn func(coord.SessionState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// usable returns the current lease, or why requests cannot be issued.
func (s *EtcdStore) usable(ctx context.Context) (clientv3.LeaseID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, coord.ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == coord.SessionSuspended || s.state == coord.SessionLost {
		return 0, coord.ErrConnectionLoss
	}
	return s.lease, nil
}

// wrap maps a client error: the caller's own cancellation passes through,
// anything else means the request outcome is unknown.
func (s *EtcdStore) wrap(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", coord.ErrConnectionLoss, err)
}

func (s *EtcdStore) currentLease() clientv3.LeaseID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease
}

// versionGuard requires path to exist and, unless version is AnyVersion, to
// be at that version.
func versionGuard(path string, version int64) []clientv3.Cmp {
	cmps := []clientv3.Cmp{clientv3.Compare(clientv3.CreateRevision(path), ">", 0)}
	if version != coord.AnyVersion {
		cmps = append(cmps, clientv3.Compare(clientv3.Version(path), "=", version+1))
	}
	return cmps
}

// guardFailure tells a missing node from a version mismatch using the Else
// branch read.
func guardFailure(txn *clientv3.TxnResponse) error {
	if len(txn.Responses) == 0 || len(txn.Responses[0].GetResponseRange().GetKvs()) == 0 {
		return coord.ErrNoNode
	}
	return coord.ErrBadVersion
}

func childPrefix(path string) string {
	return strings.TrimSuffix(path, "/") + "/"
}

func directChild(dir, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, dir)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
