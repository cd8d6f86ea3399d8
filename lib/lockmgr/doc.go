// Package lockmgr serializes conflicting administrative operations.
//
// It offers two kinds of locks:
//
//   - The resource lock Table. Before a task runs, it declares every resource it
//     needs (TOPOLOGY, TABLE or REGION category) in one Acquire call. The call either
//     takes all locks for the owning plan or none, failing fast with a
//     *LockConflictError that matches ErrLocksHeld. Locks are re-entrant per plan.
//     An exclusive lock on a path implies read locks on every ancestor of the path,
//     which yields the hierarchy the operations rely on:
//
//     TOPOLOGY  sn/<sn>             storage node
//     TOPOLOGY  rg/<rg>             whole replication group
//     TOPOLOGY  rg/<rg>/<node>      replication or arbiter node (reads rg/<rg>)
//     TABLE     <ns>                namespace
//     TABLE     <ns>/<table>        table (reads the namespace)
//     TABLE     <ns>/<table>/<idx>  index (reads table and namespace)
//     REGION    <name>              remote region (also reads the local region sentinel)
//     REGION    $local-region$      local region name
//
//     NewTable keeps the table in memory for a single admin process. NewSharedTable
//     keeps it in one store record, rewritten with a batch guarded by the bytes it
//     read, so every admin process on the store sees the same locks. Locks of a
//     crashed process stay in the record until the executor recovers or cancels
//     its plans.
//
//   - Store backed leases (ILeaseManager). A lease is a key written with
//     SetIfUnset and a ttl, read back to verify the owner. The executor holds one lease
//     per running plan and renews it while the plan runs, so two admin processes
//     sharing a store never execute the same plan concurrently. A crashed holder
//     loses its lease when the ttl runs out.
package lockmgr
