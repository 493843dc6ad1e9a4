package group

// ActiveMembers returns the ready members, one per identity, ordered by
// ascending sequence. The first one is the master.
func (g *Group) ActiveMembers() []ChildData {
	return activeOrdered(g.members.snapshot())
}

// Members returns the state of every active member keyed by path.
func (g *Group) Members() map[string]NodeState {
	active := g.ActiveMembers()
	out := make(map[string]NodeState, len(active))
	for _, cd := range active {
		out[cd.Path] = cd.State.Clone()
	}
	return out
}

// Master returns the state of the current master, if any.
func (g *Group) Master() (NodeState, bool) {
	active := g.ActiveMembers()
	if len(active) == 0 {
		return NodeState{}, false
	}
	return active[0].State.Clone(), true
}

// Slaves returns the states of the active members other than the master,
// in election order.
func (g *Group) Slaves() []NodeState {
	active := g.ActiveMembers()
	if len(active) <= 1 {
		return []NodeState{}
	}
	out := make([]NodeState, 0, len(active)-1)
	for _, cd := range active[1:] {
		out = append(out, cd.State.Clone())
	}
	return out
}

// IsMaster reports whether this member's own node heads the active list.
// Ownership is proven by path only; an entry carrying our uuid does not
// count until the store confirmed its creation.
func (g *Group) IsMaster() bool {
	own := g.ownPath.Load()
	if own == "" {
		return false
	}
	active := g.ActiveMembers()
	return len(active) > 0 && active[0].Path == own
}

// MasterOf returns the first active member advertising service.
func (g *Group) MasterOf(service string) (NodeState, bool) {
	if cd, ok := g.masterOf(service); ok {
		return cd.State.Clone(), true
	}
	return NodeState{}, false
}

// IsMasterOf reports whether this member is the first active member
// advertising service.
func (g *Group) IsMasterOf(service string) bool {
	own := g.ownPath.Load()
	if own == "" {
		return false
	}
	cd, ok := g.masterOf(service)
	return ok && cd.Path == own
}

func (g *Group) masterOf(service string) (ChildData, bool) {
	for _, cd := range g.ActiveMembers() {
		if cd.State.HasService(service) {
			return cd, true
		}
	}
	return ChildData{}, false
}
