package lstore

import (
	"bytes"
	"encoding/gob"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// entry is a stored value. A zero deadline means the entry never expires.
type entry struct {
	Value    []byte
	Deadline int64 // unix nano
}

func (e entry) expired(now int64) bool {
	return e.Deadline != 0 && e.Deadline <= now
}

// Store is the in-memory implementation of store.IStore.
// It is exported (not only the interface) because the raft state machine in
// dstore applies commands with absolute deadlines chosen by the proposer.
type Store struct {
	// mu serializes writers against each other and keeps batches atomic for readers
	mu   sync.RWMutex
	data *xsync.MapOf[string, entry]
	now  func() time.Time
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works in a single process.
func NewLocalStore() *Store {
	return NewLocalStoreWithClock(time.Now)
}

// NewLocalStoreWithClock creates a local store that evaluates ttls against the given clock.
func NewLocalStoreWithClock(now func() time.Time) *Store {
	return &Store{
		data: xsync.NewMapOf[string, entry](),
		now:  now,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Set(key string, value []byte) error {
	if key == "" {
		return store.NewError(store.RetCInvalidOperation, "empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Store(key, entry{Value: clone(value)})
	return nil
}

func (s *Store) SetIfUnset(key string, value []byte, ttl time.Duration) error {
	var deadline int64
	if ttl > 0 {
		deadline = s.now().Add(ttl).UnixNano()
	}
	return s.SetIfUnsetUntil(key, value, deadline)
}

// SetIfUnsetUntil is SetIfUnset with an absolute deadline (unix nano, 0 = never).
func (s *Store) SetIfUnsetUntil(key string, value []byte, deadline int64) error {
	if key == "" {
		return store.NewError(store.RetCInvalidOperation, "empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data.Load(key); ok && !cur.expired(s.now().UnixNano()) {
		return nil
	}
	s.data.Store(key, entry{Value: clone(value), Deadline: deadline})
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Delete(key)
	return nil
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data.Load(key)
	if !ok || e.expired(s.now().UnixNano()) {
		return nil, false, nil
	}
	return clone(e.Value), true, nil
}

func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UnixNano()
	keys := make([]string, 0)
	s.data.Range(func(k string, e entry) bool {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Batch(ops []store.Op) error {
	now := s.now()
	deadlines := make([]int64, len(ops))
	for i, op := range ops {
		if op.Type == store.OpSet && op.TTL > 0 {
			deadlines[i] = now.Add(op.TTL).UnixNano()
		}
	}
	return s.BatchUntil(ops, deadlines)
}

// BatchUntil is Batch with absolute deadlines (unix nano, 0 = never) for the
// OpSet entries. deadlines is indexed like ops, the TTL fields are ignored.
func (s *Store) BatchUntil(ops []store.Op, deadlines []int64) error {
	if len(deadlines) != len(ops) {
		return store.NewError(store.RetCInvalidOperation, "batch deadlines do not match operations")
	}
	for _, op := range ops {
		if op.Key == "" {
			return store.NewError(store.RetCInvalidOperation, "empty key in batch")
		}
		switch op.Type {
		case store.OpSet, store.OpDelete, store.OpExpect, store.OpExpectAbsent:
		default:
			return store.NewError(store.RetCInvalidOperation, "unknown batch operation")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixNano()
	for _, op := range ops {
		if !op.Type.IsGuard() {
			continue
		}
		cur, ok := s.data.Load(op.Key)
		live := ok && !cur.expired(now)
		switch {
		case op.Type == store.OpExpectAbsent && live,
			op.Type == store.OpExpect && (!live || !bytes.Equal(cur.Value, op.Value)):
			return store.ConflictError(op)
		}
	}
	for i, op := range ops {
		switch op.Type {
		case store.OpSet:
			s.data.Store(op.Key, entry{Value: clone(op.Value), Deadline: deadlines[i]})
		case store.OpDelete:
			s.data.Delete(op.Key)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// Save writes all live entries to w.
func (s *Store) Save(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UnixNano()
	snapshot := make(map[string]entry, s.data.Size())
	s.data.Range(func(k string, e entry) bool {
		if !e.expired(now) {
			snapshot[k] = e
		}
		return true
	})
	return gob.NewEncoder(w).Encode(snapshot)
}

// Load replaces the content of the store with a snapshot written by Save.
func (s *Store) Load(r io.Reader) error {
	snapshot := make(map[string]entry)
	if err := gob.NewDecoder(r).Decode(&snapshot); err != nil {
		return store.NewError(store.RetCInternalError, "decode snapshot: "+err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Clear()
	for k, e := range snapshot {
		s.data.Store(k, e)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
