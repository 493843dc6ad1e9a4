package group

import (
	"strings"
)

// RefreshMode selects how much of the group a refresh re-reads.
type RefreshMode uint8

const (
	// RefreshStandard only reads nodes that are not cached yet and relies on
	// data watches for later updates.
	RefreshStandard RefreshMode = iota
	// RefreshForce re-reads every node's data and version.
	RefreshForce
)

func (m RefreshMode) String() string {
	if m == RefreshForce {
		return "force"
	}
	return "standard"
}

type opKind uint8

const (
	opRefresh opKind = iota + 1
	opGetData
	opUpdate
	opEvent
	opComposite
	opForget
)

func (k opKind) String() string {
	switch k {
	case opRefresh:
		return "refresh"
	case opGetData:
		return "get_data"
	case opUpdate:
		return "update"
	case opEvent:
		return "event"
	case opComposite:
		return "composite"
	case opForget:
		return "forget"
	default:
		return "unknown"
	}
}

// operation is one unit of work for the worker. Only the fields of its
// kind are set; key is the identity used to drop duplicates.
type operation struct {
	kind       opKind
	key        string
	mode       RefreshMode
	clear      bool
	path       string
	deregister bool
	event      EventType
	ops        []operation
}

func refreshOp(mode RefreshMode) operation {
	return operation{kind: opRefresh, mode: mode, key: "refresh:" + mode.String()}
}

// clearingRefreshOp drops the cache before refreshing.
func clearingRefreshOp(mode RefreshMode) operation {
	return operation{kind: opRefresh, mode: mode, clear: true, key: "refresh:" + mode.String() + ":clear"}
}

func getDataOp(path string) operation {
	return operation{kind: opGetData, path: path, key: "get_data:" + path}
}

// updateOp publishes whatever state is requested when it runs, so a queued
// update never carries a state that a later Update has replaced.
func updateOp() operation {
	return operation{kind: opUpdate, key: "update:requested"}
}

// deregisterOp removes this member's node regardless of the requested state.
func deregisterOp() operation {
	return operation{kind: opUpdate, deregister: true, key: "update:nil"}
}

// forgetOp drops the registration of a lost session so that the next
// update creates a new node instead of writing to the old one.
func forgetOp() operation {
	return operation{kind: opForget, key: "forget"}
}

func eventOp(ev EventType) operation {
	return operation{kind: opEvent, event: ev, key: "event:" + ev.String()}
}

func compositeOp(ops ...operation) operation {
	keys := make([]string, len(ops))
	for i, op := range ops {
		keys[i] = op.key
	}
	return operation{kind: opComposite, ops: ops, key: "composite(" + strings.Join(keys, ",") + ")"}
}
