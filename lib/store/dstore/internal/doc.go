// Package internal provides the raft log entry format and the query structures of the
// dstore package.
//
// Command Format:
//
//	- 1 byte: Command type (Set, SetIfUnset, Delete, Batch)
//	- 8 bytes: Deadline (unix nano, big endian, 0 = no expiry)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data
//	- M bytes: Value data
//
//	A Batch command has an empty key. Its value is a sequence of nested commands,
//	each prefixed with its length as a 4 byte big endian integer. Batches may not nest.
//
// Queries are never written to the raft log and therefore are plain structs.
package internal
