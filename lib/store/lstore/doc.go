// Package lstore implements a local, in-memory key-value store based on the
// store.IStore interface. Data is not persisted between process restarts unless
// the caller snapshots it with Save and restores it with Load.
//
// Implementation Details:
//
//   - Entries live in an xsync.MapOf. A read/write mutex on top of it keeps batch
//     writes atomic with respect to concurrent readers.
//
//   - Time to live is stored as an absolute deadline. Expired entries are invisible to
//     Get and Keys and are overwritten by SetIfUnset.
//
//   - The dstore raft state machine embeds a Store and calls SetIfUnsetUntil and
//     BatchUntil with the deadlines picked by the proposing replica, so all replicas
//     agree on them.
//
// Usage Example:
//
//	s := lstore.NewLocalStore()
//	_ = s.SetIfUnset("lease/plan/7", owner, 30*time.Second)
//	value, ok, err := s.Get("lease/plan/7")
package lstore
