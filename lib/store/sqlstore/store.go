package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lni/dragonboat/v4/logger"
	_ "github.com/mattn/go-sqlite3"
)

var log = logger.GetLogger("store")

const tableName = "dkv_admin_kv"

// serializationFailure is the SQLSTATE postgres reports for aborted serializable transactions.
const serializationFailure = "40001"

// Dialect captures the differences between the supported SQL databases.
type Dialect struct {
	Name       string // display name
	DriverName string // database/sql driver
	BlobType   string // column type for values
	// Numbered placeholders ($1, $2, ...) instead of ?
	Numbered bool
}

var (
	// SQLite uses github.com/mattn/go-sqlite3.
	SQLite = Dialect{Name: "sqlite", DriverName: "sqlite3", BlobType: "BLOB"}
	// Postgres uses the database/sql driver of github.com/jackc/pgx/v5.
	Postgres = Dialect{Name: "postgres", DriverName: "pgx", BlobType: "BYTEA", Numbered: true}
)

// DialectByName returns the dialect for "sqlite" or "postgres".
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
	}
}

// rebind rewrites ? placeholders for dialects with numbered placeholders.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB is the subset of *sql.DB and *sql.Tx used by the store.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a store.IStore backed by a single SQL table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
	now     func() time.Time
}

// Open connects to the database, verifies the connection and creates the table if needed.
func Open(ctx context.Context, dialect Dialect, dsn string, timeout time.Duration) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sql store: dsn is required")
	}
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if dialect.DriverName == SQLite.DriverName {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: dialect, timeout: timeout, now: time.Now}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Infof("opened %s store", dialect.Name)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		k TEXT PRIMARY KEY,
		v %s,
		expire_at BIGINT NOT NULL DEFAULT 0
	)`, tableName, s.dialect.BlobType)
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) exec(db DB, ctx context.Context, query string, args ...any) error {
	_, err := db.ExecContext(ctx, s.dialect.rebind(query), args...)
	return wrapTx(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return store.NewError(store.RetCUnavailable, err.Error())
	}
	return store.NewError(store.RetCInternalError, err.Error())
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

var (
	upsertSQL = `INSERT INTO ` + tableName + ` (k, v, expire_at) VALUES (?, ?, ?)
		ON CONFLICT (k) DO UPDATE SET v = excluded.v, expire_at = excluded.expire_at`
	insertIfUnsetSQL = `INSERT INTO ` + tableName + ` (k, v, expire_at) VALUES (?, ?, ?)
		ON CONFLICT (k) DO UPDATE SET v = excluded.v, expire_at = excluded.expire_at
		WHERE ` + tableName + `.expire_at <> 0 AND ` + tableName + `.expire_at <= ?`
	deleteSQL = `DELETE FROM ` + tableName + ` WHERE k = ?`
	getSQL    = `SELECT v FROM ` + tableName + ` WHERE k = ? AND (expire_at = 0 OR expire_at > ?)`
	keysSQL   = `SELECT k FROM ` + tableName + ` WHERE k LIKE ? ESCAPE '\' AND (expire_at = 0 OR expire_at > ?) ORDER BY k`
)

func (s *Store) Set(key string, value []byte) error {
	if key == "" {
		return store.NewError(store.RetCInvalidOperation, "empty key")
	}
	ctx, cancel := s.ctx()
	defer cancel()
	return s.exec(s.db, ctx, upsertSQL, key, value, 0)
}

func (s *Store) SetIfUnset(key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return store.NewError(store.RetCInvalidOperation, "empty key")
	}
	now := s.now().UnixNano()
	var deadline int64
	if ttl > 0 {
		deadline = now + ttl.Nanoseconds()
	}
	ctx, cancel := s.ctx()
	defer cancel()
	return s.exec(s.db, ctx, insertIfUnsetSQL, key, value, deadline, now)
}

func (s *Store) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.exec(s.db, ctx, deleteSQL, key)
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(getSQL), key, s.now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap(err)
	}
	return value, true, nil
}

func (s *Store) Keys(prefix string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(keysSQL), escapeLike(prefix)+"%", s.now().UnixNano())
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrap(err)
		}
		keys = append(keys, k)
	}
	return keys, wrap(rows.Err())
}

func (s *Store) Batch(ops []store.Op) (err error) {
	if len(ops) == 0 {
		return nil
	}
	guarded := false
	for _, op := range ops {
		if op.Type.IsGuard() {
			guarded = true
		}
	}
	ctx, cancel := s.ctx()
	defer cancel()

	var opts *sql.TxOptions
	if guarded && s.dialect.DriverName != SQLite.DriverName {
		// sqlite has a single connection, postgres needs serializable to see a
		// concurrent insert of an expected-absent key
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return wrapTx(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UnixNano()
	for _, op := range ops {
		if op.Type.IsGuard() {
			if err = s.check(tx, ctx, op, now); err != nil {
				return err
			}
		}
	}
	for _, op := range ops {
		switch op.Type {
		case store.OpSet:
			var deadline int64
			if op.TTL > 0 {
				deadline = now + op.TTL.Nanoseconds()
			}
			err = s.exec(tx, ctx, upsertSQL, op.Key, op.Value, deadline)
		case store.OpDelete:
			err = s.exec(tx, ctx, deleteSQL, op.Key)
		case store.OpExpect, store.OpExpectAbsent:
		default:
			err = store.NewError(store.RetCInvalidOperation, "unknown batch operation")
		}
		if err != nil {
			return err
		}
	}
	return wrapTx(tx.Commit())
}

// check evaluates a batch guard inside the transaction.
func (s *Store) check(tx *sql.Tx, ctx context.Context, op store.Op, now int64) error {
	var value []byte
	err := tx.QueryRowContext(ctx, s.dialect.rebind(getSQL), op.Key, now).Scan(&value)
	live := true
	if errors.Is(err, sql.ErrNoRows) {
		live = false
	} else if err != nil {
		return wrapTx(err)
	}
	switch {
	case op.Type == store.OpExpectAbsent && live,
		op.Type == store.OpExpect && (!live || !bytes.Equal(value, op.Value)):
		return store.ConflictError(op)
	}
	return nil
}

// wrapTx is wrap, but reports postgres serialization failures as conflicts.
func wrapTx(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return store.NewError(store.RetCConflict, pgErr.Message)
	}
	return wrap(err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
