// Package sqlstore implements store.IStore on a single SQL table, using
// github.com/mattn/go-sqlite3 for sqlite files and the database/sql driver of
// github.com/jackc/pgx/v5 for postgres.
//
// The table holds the key, the value and an absolute expiry (unix nano, 0 = never).
// Expired rows are filtered on read and replaced by SetIfUnset. Batches run in a
// single SQL transaction. Batch guards are checked inside it, on postgres with
// serializable isolation so that a concurrent writer aborts one of the two.
package sqlstore
