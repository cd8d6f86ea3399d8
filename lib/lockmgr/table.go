package lockmgr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/cockroachdb/errors"
)

// ErrLocksHeld is matched (errors.Is) by every lock acquisition failure.
var ErrLocksHeld = errors.New("locks held")

// Owner identifies the plan a lock belongs to.
type Owner struct {
	PlanID   uint64
	PlanName string
}

func (o Owner) String() string {
	return fmt.Sprintf("plan %d (%s)", o.PlanID, o.PlanName)
}

// LockConflictError reports the first resource that could not be locked.
type LockConflictError struct {
	Request Request
	Holder  Owner
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("locks held: cannot take %s lock on %s, it is held by %s",
		e.Request.Mode, e.Request.Resource.Key(), e.Holder)
}

// Is makes errors.Is(err, ErrLocksHeld) true.
func (e *LockConflictError) Is(target error) bool {
	return target == ErrLocksHeld
}

// lockState is the bookkeeping of one resource. Counts make locks re-entrant per plan.
type lockState struct {
	Resource Resource         `json:"resource"`
	Writer   uint64           `json:"writer"` // plan id, 0 if none
	Writes   int              `json:"writes"`
	Readers  map[uint64]int   `json:"readers"`
	Owners   map[uint64]Owner `json:"owners"`
}

func (s *lockState) empty() bool {
	return s.Writes == 0 && len(s.Readers) == 0
}

// conflict returns the holder blocking the request, if any.
func (s *lockState) conflict(planID uint64, mode Mode) (Owner, bool) {
	if s.Writes > 0 && s.Writer != planID {
		return s.Owners[s.Writer], true
	}
	if mode == Exclusive {
		for reader := range s.Readers {
			if reader != planID {
				return s.Owners[reader], true
			}
		}
	}
	return Owner{}, false
}

// Grant is the set of locks taken by one successful Acquire.
type Grant struct {
	Owner    Owner
	requests []Request // normalized, includes implicit ancestors
	released bool
}

// Resources returns the canonical keys of everything held through this grant.
func (g *Grant) Resources() []string {
	keys := make([]string, 0, len(g.requests))
	for _, r := range g.requests {
		keys = append(keys, r.String())
	}
	return keys
}

// HeldLock describes one locked resource for status output.
type HeldLock struct {
	Resource string
	Mode     Mode
	Owners   []Owner
}

// normalize expands implicit ancestor read locks and merges duplicates,
// keeping the strongest mode per resource.
func normalize(reqs []Request) []Request {
	byKey := make(map[string]Request)
	add := func(r Request) {
		if cur, ok := byKey[r.Resource.Key()]; ok && cur.Mode >= r.Mode {
			return
		}
		byKey[r.Resource.Key()] = r
	}
	for _, r := range reqs {
		for _, a := range r.Resource.ancestors() {
			add(Request{Resource: a, Mode: Read})
		}
		add(r)
	}

	out := make([]Request, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource.Key() < out[j].Resource.Key() })
	return out
}

// --------------------------------------------------------------------------
// Lock set (the table content, keyed by canonical resource)
// --------------------------------------------------------------------------

type lockSet map[string]*lockState

func (ls lockSet) acquire(owner Owner, normalized []Request) error {
	for _, r := range normalized {
		s, ok := ls[r.Resource.Key()]
		if !ok {
			continue
		}
		if holder, blocked := s.conflict(owner.PlanID, r.Mode); blocked {
			log.Debugf("%s denied %s: held by %s", owner, r, holder)
			return &LockConflictError{Request: r, Holder: holder}
		}
	}

	for _, r := range normalized {
		key := r.Resource.Key()
		s, ok := ls[key]
		if !ok {
			s = &lockState{Resource: r.Resource, Readers: make(map[uint64]int), Owners: make(map[uint64]Owner)}
			ls[key] = s
		}
		s.Owners[owner.PlanID] = owner
		if r.Mode == Exclusive {
			s.Writer = owner.PlanID
			s.Writes++
		} else {
			s.Readers[owner.PlanID]++
		}
	}
	return nil
}

func (ls lockSet) release(g *Grant) {
	id := g.Owner.PlanID
	for _, r := range g.requests {
		key := r.Resource.Key()
		s, ok := ls[key]
		if !ok {
			continue
		}
		if r.Mode == Exclusive && s.Writer == id {
			if s.Writes--; s.Writes == 0 {
				s.Writer = 0
			}
		} else if r.Mode == Read {
			if s.Readers[id]--; s.Readers[id] <= 0 {
				delete(s.Readers, id)
			}
		}
		if s.Writer != id && s.Readers[id] == 0 {
			delete(s.Owners, id)
		}
		if s.empty() {
			delete(ls, key)
		}
	}
}

func (ls lockSet) releaseAll(planID uint64) int {
	n := 0
	for key, s := range ls {
		if s.Writer == planID {
			s.Writer, s.Writes = 0, 0
			n++
		}
		if _, ok := s.Readers[planID]; ok {
			delete(s.Readers, planID)
			n++
		}
		delete(s.Owners, planID)
		if s.empty() {
			delete(ls, key)
		}
	}
	return n
}

func (ls lockSet) held(planID uint64) []string {
	var keys []string
	for key, s := range ls {
		if s.Writer == planID || s.Readers[planID] > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (ls lockSet) snapshot() []HeldLock {
	out := make([]HeldLock, 0, len(ls))
	for key, s := range ls {
		h := HeldLock{Resource: key, Mode: Read}
		if s.Writes > 0 {
			h.Mode = Exclusive
		}
		for _, o := range s.Owners {
			h.Owners = append(h.Owners, o)
		}
		sort.Slice(h.Owners, func(i, j int) bool { return h.Owners[i].PlanID < h.Owners[j].PlanID })
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// --------------------------------------------------------------------------
// Table
// --------------------------------------------------------------------------

// tableKey is the store record holding a shared lock table.
const tableKey = "lock/table"

var (
	casAttempts = 16
	casBackoff  = 5 * time.Millisecond
)

// Table is the lock table shared by all plans. In memory it serves a single
// admin process. A shared table keeps its content in one store record that is
// rewritten with a guarded batch, so admin processes on the same store exclude
// each other.
type Table struct {
	mu    sync.Mutex
	locks lockSet
	st    store.IStore // nil for an in-memory table
}

// NewTable creates an empty in-memory lock table.
func NewTable() *Table {
	return &Table{locks: make(lockSet)}
}

// NewSharedTable creates a lock table persisted in st.
func NewSharedTable(st store.IStore) *Table {
	return &Table{st: st}
}

// load decodes the shared record. raw is nil if the record does not exist.
func (t *Table) load() (lockSet, []byte, error) {
	raw, ok, err := t.st.Get(tableKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read lock table")
	}
	ls := make(lockSet)
	if !ok {
		return ls, nil, nil
	}
	if err := json.Unmarshal(raw, &ls); err != nil {
		return nil, nil, errors.Wrap(err, "decode lock table")
	}
	for _, s := range ls {
		if s.Readers == nil {
			s.Readers = make(map[uint64]int)
		}
		if s.Owners == nil {
			s.Owners = make(map[uint64]Owner)
		}
	}
	return ls, raw, nil
}

// update applies fn to the table content. A shared table is reloaded and fn
// reapplied whenever another process changed the record in between.
// fn must leave the set unchanged when it returns an error.
func (t *Table) update(fn func(lockSet) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st == nil {
		return fn(t.locks)
	}

	for attempt := 1; ; attempt++ {
		ls, raw, err := t.load()
		if err != nil {
			return err
		}
		if err := fn(ls); err != nil {
			return err
		}
		ops := []store.Op{store.ExpectOp(tableKey, raw)}
		if len(ls) == 0 {
			if raw == nil {
				return nil
			}
			ops = append(ops, store.DeleteOp(tableKey))
		} else {
			data, err := json.Marshal(ls)
			if err != nil {
				return errors.Wrap(err, "encode lock table")
			}
			if bytes.Equal(data, raw) {
				return nil
			}
			ops = append(ops, store.SetOp(tableKey, data))
		}
		err = t.st.Batch(ops)
		if err == nil {
			return nil
		}
		if !store.IsConflict(err) || attempt >= casAttempts {
			return errors.Wrap(err, "write lock table")
		}
		log.Debugf("lock table changed concurrently, retrying (%d/%d)", attempt, casAttempts)
		time.Sleep(casBackoff)
	}
}

// view runs fn on a consistent copy of the table content.
func (t *Table) view(fn func(lockSet)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st == nil {
		fn(t.locks)
		return nil
	}
	ls, _, err := t.load()
	if err != nil {
		return err
	}
	fn(ls)
	return nil
}

// Acquire takes all requested locks for owner or none of them.
// On contention it returns a *LockConflictError and the table is unchanged.
func (t *Table) Acquire(owner Owner, reqs ...Request) (*Grant, error) {
	if owner.PlanID == 0 {
		return nil, errors.AssertionFailedf("lock owner without plan id")
	}
	normalized := normalize(reqs)
	if err := t.update(func(ls lockSet) error { return ls.acquire(owner, normalized) }); err != nil {
		return nil, err
	}
	return &Grant{Owner: owner, requests: normalized}, nil
}

// Release gives back every lock of the grant. Releasing twice is a no-op.
// A grant must not be released concurrently.
func (t *Table) Release(g *Grant) error {
	if g == nil || g.released {
		return nil
	}
	if err := t.update(func(ls lockSet) error {
		ls.release(g)
		return nil
	}); err != nil {
		return err
	}
	g.released = true
	return nil
}

// ReleaseAll drops every lock held by the plan regardless of grants.
func (t *Table) ReleaseAll(planID uint64) (int, error) {
	n := 0
	err := t.update(func(ls lockSet) error {
		n = ls.releaseAll(planID)
		return nil
	})
	return n, err
}

// Held returns the canonical keys of the resources locked by the plan, sorted.
func (t *Table) Held(planID uint64) ([]string, error) {
	var keys []string
	err := t.view(func(ls lockSet) { keys = ls.held(planID) })
	return keys, err
}

// Snapshot returns all currently held locks, sorted by resource.
func (t *Table) Snapshot() ([]HeldLock, error) {
	var out []HeldLock
	err := t.view(func(ls lockSet) { out = ls.snapshot() })
	return out, err
}
