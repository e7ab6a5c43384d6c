// Package cmap implements a sharded concurrent map.
//
// It backs read-heavy indexes such as the bound-session table and the
// per-group subscription membership: each shard carries its own
// RWMutex, so concurrent readers on different shards never contend.
//
//	m := cmap.New[string, *Session]()
//	m.Set(id, s)
//	s, ok := m.Get(id)
//
// Range iterates shard by shard under read locks and therefore sees a
// live view, not a snapshot.
package cmap
