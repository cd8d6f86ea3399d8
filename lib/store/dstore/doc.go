// Package dstore implements store.IStore on top of a raft shard managed by the
// Dragonboat library. Several admin processes pointing at the same shard share plans,
// metadata catalogs and leases with linearizable reads and writes.
//
// Architecture:
//
//   - Store Client: serializes operations into internal.Command entries, proposes them
//     with SyncPropose and reads with SyncRead.
//
//   - State Machine: a Dragonboat IConcurrentStateMachine holding an lstore.Store.
//     Batches are a single log entry, so they are applied atomically on every replica.
//     Batch guards are evaluated inside Update against the replicated state.
//
// Time to live:
//
//	SetIfUnset and batch sets with a ttl turn it into an absolute deadline on the
//	proposing replica.
//	The deadline travels inside the log entry so all replicas store the same value.
//
// Error Handling and Retries:
//
//	ErrSystemBusy is retried up to five times with a short pause. Timeouts and an
//	unready shard surface as store.RetCUnavailable.
//
// Snapshots:
//
//	The state machine snapshots the lstore with gob and restores it on recovery.
//
// Example:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//	err = nh.StartConcurrentReplica(members, false, dstore.CreateStateMachineFactory(), shardConfig)
//	if err != nil { ... }
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
package dstore
