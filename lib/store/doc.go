// Package store provides the key-value persistence substrate of the admin service.
// Plans, metadata catalogs and plan-run leases are all stored through the IStore
// interface, so the executor can run against an in-memory map in tests, a SQL
// database on a single admin host, or a raft replicated shard when several admin
// processes share state.
//
// Key Components:
//
//   - IStore Interface: Get/Set/Delete plus SetIfUnset with a ttl (used for leases),
//     prefix listing (used to enumerate plans) and atomic batches. A batch can carry
//     guards (OpExpect, OpExpectAbsent) that must hold against the stored values or
//     the whole batch fails with RetCConflict. Metadata commits, the shared lock
//     table and lease renewal are compare-and-set writes built on them.
//
//   - Error System: every backend reports failures as *Error carrying a RetCode, so
//     callers can tell invalid requests from internal and availability failures.
//
// Implementations:
//
//   - Local Store (lstore): in-memory map, suitable for tests and single-process use.
//     Also used as the state of the raft state machine.
//
//   - Distributed Store (dstore): a shard replicated with the Dragonboat raft library.
//
//   - SQL Store (sqlstore): a single table in sqlite or postgres.
package store
