package group

import (
	"context"
	"errors"
	"fmt"

	goset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// Change classifies what a read observed relative to the cache.
type Change uint8

const (
	ChangeNone Change = iota
	ChangeAdded
	ChangeModified
)

func (c Change) String() string {
	switch c {
	case ChangeAdded:
		return "ADDED"
	case ChangeModified:
		return "MODIFIED"
	default:
		return "NONE"
	}
}

// refresh lists the group children, re-arming the children watch, drops
// cached entries that disappeared and reads the others according to mode.
// One EventChanged is queued if anything changed.
func (g *Group) refresh(ctx context.Context, mode RefreshMode) error {
	names, err := g.store.Children(ctx, g.path, g.childWatch)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", g.path, err)
	}

	current := goset.NewThreadUnsafeSetWithSize[string](len(names))
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := coord.Join(g.path, name)
		current.Add(p)
		paths = append(paths, p)
	}

	changed := false
	for _, removed := range g.members.paths().Difference(current).ToSlice() {
		if g.members.remove(removed) {
			g.logger.Debug("member removed", zap.String("path", removed))
			changed = true
		}
	}

	for _, p := range sortedPaths(paths) {
		if mode == RefreshStandard && g.members.has(p) {
			continue
		}
		change, err := g.fetchOne(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			g.logger.Warn("failed to read member", zap.String("path", p), zap.Error(err))
			continue
		}
		if change != ChangeNone {
			changed = true
		}
	}

	if changed {
		g.enqueue(eventOp(EventChanged))
	}
	return nil
}

// getData re-reads one node after its data watch fired.
func (g *Group) getData(ctx context.Context, path string) error {
	change, err := g.fetchOne(ctx, path)
	if err != nil {
		return err
	}
	if change != ChangeNone {
		g.enqueue(eventOp(EventChanged))
	}
	return nil
}

// fetchOne reads path with a data watch armed and updates the cache when
// the version moved. A node that is already gone yields ChangeNone; the next
// children refresh removes it.
func (g *Group) fetchOne(ctx context.Context, path string) (Change, error) {
	data, stat, err := g.store.GetData(ctx, path, g.dataWatch)
	if errors.Is(err, coord.ErrNoNode) {
		return ChangeNone, nil
	}
	if err != nil {
		return ChangeNone, fmt.Errorf("read %s: %w", path, err)
	}

	prev, cached := g.members.get(path)
	if cached && prev.Version == stat.Version {
		return ChangeNone, nil
	}

	state, err := g.codec.Decode(data)
	if err != nil {
		g.logger.Warn("skipping member with undecodable state", zap.String("path", path), zap.Error(err))
		if cached && g.members.remove(path) {
			return ChangeModified, nil
		}
		return ChangeNone, nil
	}

	g.members.put(ChildData{Path: path, Version: stat.Version, Data: data, State: state})
	if cached {
		return ChangeModified, nil
	}
	return ChangeAdded, nil
}

func sortedPaths(paths []string) []string {
	out := make([]string, len(paths))
	copy(out, paths)
	sortPaths(out)
	return out
}

type childWatcher struct {
	g *Group
}

func (w *childWatcher) Process(coord.WatchEvent) {
	w.g.enqueue(refreshOp(RefreshStandard))
}

type dataWatcher struct {
	g *Group
}

func (w *dataWatcher) Process(ev coord.WatchEvent) {
	switch ev.Type {
	case coord.EventNodeDeleted:
		w.g.enqueue(refreshOp(RefreshStandard))
	case coord.EventNodeDataChanged, coord.EventNodeCreated:
		w.g.enqueue(getDataOp(ev.Path))
	}
}
