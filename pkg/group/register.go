package group

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// maxCreateAttempts bounds how often the create flow restarts when the
// freshly created node vanishes before it could be marked ready.
const maxCreateAttempts = 3

var errRegistrationVanished = errors.New("group: registration node vanished while being marked ready")

// doUpdate applies the requested registration on the worker. A nil state
// deregisters.
func (g *Group) doUpdate(ctx context.Context, state *NodeState) error {
	path := g.ownPath.Load()

	if state == nil {
		if path != "" {
			err := g.store.Delete(ctx, path, coord.AnyVersion)
			if err != nil && !errors.Is(err, coord.ErrNoNode) {
				return fmt.Errorf("delete %s: %w", path, err)
			}
			g.ownPath.Store("")
			g.logger.Info("deregistered", zap.String("path", path))
		} else if g.creating.CompareAndSwap(true, false) {
			// the create may have succeeded without us learning the path
			g.unstable.Store(true)
			g.logger.Warn("deregistered while a registration was in flight, a stale entry may remain")
		}
		g.setLastState(nil)
		return nil
	}

	st := state.Clone()
	st.UUID = g.uuid
	if path == "" {
		return g.create(ctx, st)
	}

	st.Ready = true
	data, err := g.codec.Encode(st)
	if err != nil {
		return err
	}
	if _, err := g.store.SetData(ctx, path, data, coord.AnyVersion); err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			g.logger.Info("registration node is gone, registering again", zap.String("path", path))
			g.ownPath.Store("")
			return g.create(ctx, st)
		}
		return fmt.Errorf("update %s: %w", path, err)
	}
	g.setLastState(&st)
	return nil
}

// create registers st in two phases: an unready sequential ephemeral node
// first, then the same node flipped to ready.
func (g *Group) create(ctx context.Context, st NodeState) error {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		st.Ready = false
		data, err := g.codec.Encode(st)
		if err != nil {
			return err
		}

		g.creating.Store(true)
		path, err := g.store.CreateSequentialEphemeral(ctx, coord.Join(g.path, g.prefix), data)
		if err != nil {
			// creating stays set: the node may exist server-side
			return fmt.Errorf("create registration under %s: %w", g.path, err)
		}
		g.creating.Store(false)
		g.ownPath.Store(path)

		st.Ready = true
		if data, err = g.codec.Encode(st); err != nil {
			return err
		}
		if _, err := g.store.SetData(ctx, path, data, coord.AnyVersion); err != nil {
			if errors.Is(err, coord.ErrNoNode) {
				g.logger.Warn("registration node vanished before becoming ready", zap.String("path", path))
				g.ownPath.Store("")
				continue
			}
			return fmt.Errorf("mark %s ready: %w", path, err)
		}

		g.setLastState(&st)
		g.logger.Info("registered", zap.String("path", path))
		return nil
	}
	return errRegistrationVanished
}

// forget drops the known registration without touching the store. A node
// left behind by a lost session goes away with that session.
func (g *Group) forget() {
	if path := g.ownPath.Swap(""); path != "" {
		g.logger.Info("forgetting registration of the lost session", zap.String("path", path))
	}
	g.setLastState(nil)
}
