package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
	"github.com/ryandielhenn/zephyrgroup/pkg/group"
)

const simPath = "/sim/fleet"

type simConfig struct {
	Members int
	Rounds  int
	Timeout time.Duration
	Logger  *zap.Logger
}

type simReport struct {
	Failovers     int
	Min, Max      time.Duration
	total         time.Duration
	DoubleMasters int
}

func (r *simReport) observe(d time.Duration) {
	r.Failovers++
	r.total += d
	if r.Min == 0 || d < r.Min {
		r.Min = d
	}
	if d > r.Max {
		r.Max = d
	}
}

func (r *simReport) Avg() time.Duration {
	if r.Failovers == 0 {
		return 0
	}
	return r.total / time.Duration(r.Failovers)
}

type simMember struct {
	group   *group.Group
	session *coord.MemSession
}

// simulate runs a fleet on an in-memory store, repeatedly expires the
// master's session and measures how long the survivors take to agree on a
// new master.
func simulate(ctx context.Context, cfg simConfig) (*simReport, error) {
	if cfg.Members < 2 {
		return nil, errors.New("groupsim: need at least two members")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	store := coord.NewMemStore()
	members := make([]*simMember, cfg.Members)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := range members {
		eg.Go(func() error {
			s := store.Session()
			g := group.New(s, simPath, group.WithLogger(cfg.Logger.With(zap.Int("member", i))))
			if err := g.Start(egCtx); err != nil {
				return err
			}
			members[i] = &simMember{group: g, session: s}
			return g.Update(&group.NodeState{ID: "sim", Container: fmt.Sprintf("m%02d", i)})
		})
	}
	err := eg.Wait()
	defer func() {
		for _, m := range members {
			if m != nil {
				_ = m.group.Close(context.Background())
				_ = m.session.Close()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	report := &simReport{}
	for round := range cfg.Rounds {
		master, err := waitForAgreement(ctx, store, members, nil, cfg.Timeout)
		if err != nil {
			return report, fmt.Errorf("round %d: %w", round, err)
		}

		killed := members[master]
		start := time.Now()
		killed.session.Expire()

		doubles, err := watchFailover(ctx, store, members, killed, cfg.Timeout)
		report.DoubleMasters += doubles
		if err != nil {
			return report, fmt.Errorf("round %d: %w", round, err)
		}
		report.observe(time.Since(start))
		cfg.Logger.Info("failover", zap.Int("round", round), zap.Duration("took", time.Since(start)))

		killed.session.Reconnect()
	}
	return report, nil
}

// watchFailover polls until the survivors agree on a new master, counting
// the polls where more than one member claimed mastership.
func watchFailover(ctx context.Context, store *coord.MemStore, members []*simMember, killed *simMember, timeout time.Duration) (int, error) {
	doubles := 0
	_, err := waitForAgreement(ctx, store, members, func(masters int) {
		if masters > 1 {
			doubles++
		}
	}, timeout, killed)
	return doubles, err
}

// waitForAgreement waits until every member outside skip sees the lowest
// live node as master and exactly one of them claims it. It returns the
// index of that member.
func waitForAgreement(ctx context.Context, store *coord.MemStore, members []*simMember, sample func(masters int), timeout time.Duration, skip ...*simMember) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	var last error
	for {
		idx, masters, err := agreement(store, members, skip)
		if sample != nil {
			sample(masters)
		}
		if err == nil {
			return idx, nil
		}
		last = err
		select {
		case <-ctx.Done():
			return -1, multierr.Append(ctx.Err(), last)
		case <-ticker.C:
		}
	}
}

func agreement(store *coord.MemStore, members []*simMember, skip []*simMember) (int, int, error) {
	paths := store.Paths(simPath)
	if len(paths) == 0 {
		return -1, 0, errors.New("no live registration")
	}
	master, masters := -1, 0
	for i, m := range members {
		if isSkipped(m, skip) {
			continue
		}
		if m.group.IsMaster() {
			masters++
			master = i
		}
		if _, ok := m.group.Members()[paths[0]]; !ok {
			return -1, masters, fmt.Errorf("member %d does not see %s yet", i, paths[0])
		}
	}
	if masters != 1 {
		return -1, masters, fmt.Errorf("%d members claim mastership", masters)
	}
	return master, masters, nil
}

func isSkipped(m *simMember, skip []*simMember) bool {
	for _, s := range skip {
		if s == m {
			return true
		}
	}
	return false
}
