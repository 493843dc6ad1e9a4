// Package coord defines the contract zephyrgroup expects from a hierarchical,
// watchable, optimistically versioned key-value store, and ships an
// in-memory implementation of it.
//
// The contract mirrors the handful of primitives a group member needs:
// sequential ephemeral creation, versioned writes, one-shot data and children
// watches, deletes and session state notifications. Paths are slash separated
// and parents are implicit, so listing a path nobody wrote under simply
// yields no children.
//
// MemStore is used by tests and by the fleet simulator. A MemStore is shared
// by any number of sessions, each playing the part of one process' client:
//
//	store := coord.NewMemStore()
//	s1 := store.Session()
//	s2 := store.Session()
//	s1.Expire() // s1's ephemeral nodes vanish, s2's watches fire
//
// The production implementation lives in the discovery package.
package coord
