// Package group turns a coordination store into a cluster membership
// directory and leader election primitive.
//
// Every process of a fleet creates one ephemeral, sequence-numbered node
// under a shared group path and advertises a NodeState in it. A Group keeps
// a watched cache of all nodes under that path and derives, from the ready
// ones, who is master (lowest sequence) and who are slaves.
//
// All cache mutations and listener callbacks happen on a single worker
// goroutine per Group, which drains a FIFO of deduplicated operations.
// Queries read the cache at any time and may be stale; there is no
// synchronous acknowledgement of registration, callers observe effects
// through listeners or by polling Members and LastState.
//
//	g := group.New(store, "/fleet/autoscaler", group.WithLogger(logger))
//	if err := g.Start(ctx); err != nil {
//		return err
//	}
//	defer g.Close(ctx)
//	sub := g.AddListener(group.ListenerFunc(func(g *group.Group, ev group.EventType) error {
//		if ev == group.EventChanged && g.IsMaster() {
//			// take over
//		}
//		return nil
//	}))
//	defer sub.Cancel()
//	_ = g.Update(&group.NodeState{ID: "autoscaler", Container: "root"})
package group
