package metadata

import (
	"sync"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("metadata")

const keyPrefix = "md/"

func storeKey(kind Kind) string {
	return keyPrefix + string(kind)
}

// Store persists metadata aggregates in a store.IStore. Every read decodes a fresh
// copy, so callers never share in-memory state.
type Store struct {
	st store.IStore
	// commit serializes commits of this process, other processes are fenced by the
	// guarded batch
	commit sync.Mutex
}

// NewStore creates a metadata store on top of st.
func NewStore(st store.IStore) *Store {
	return &Store{st: st}
}

// Read returns the current aggregate of a kind. A kind that was never written
// returns its empty aggregate with sequence 0.
func (s *Store) Read(kind Kind) (Metadata, error) {
	md, _, err := s.readRaw(kind)
	return md, err
}

// readRaw also returns the stored bytes, nil if the kind was never written.
func (s *Store) readRaw(kind Kind) (Metadata, []byte, error) {
	data, ok, err := s.st.Get(storeKey(kind))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s metadata", kind)
	}
	if !ok {
		md, err := New(kind)
		return md, nil, err
	}
	md, err := Decode(kind, data)
	return md, data, err
}

// ReadTables returns the table catalog.
func (s *Store) ReadTables() (*TableCatalog, error) {
	md, err := s.Read(KindTable)
	if err != nil {
		return nil, err
	}
	return md.(*TableCatalog), nil
}

// ReadSecurity returns the security catalog.
func (s *Store) ReadSecurity() (*SecurityCatalog, error) {
	md, err := s.Read(KindSecurity)
	if err != nil {
		return nil, err
	}
	return md.(*SecurityCatalog), nil
}

// ReadRegions returns the region catalog.
func (s *Store) ReadRegions() (*RegionCatalog, error) {
	md, err := s.Read(KindRegion)
	if err != nil {
		return nil, err
	}
	return md.(*RegionCatalog), nil
}

// ReadTopology returns the topology.
func (s *Store) ReadTopology() (*Topology, error) {
	md, err := s.Read(KindTopology)
	if err != nil {
		return nil, err
	}
	return md.(*Topology), nil
}

// Begin opens a transaction.
func (s *Store) Begin() *Txn {
	return &Txn{
		s:      s,
		read:   make(map[Kind]uint64),
		raw:    make(map[Kind][]byte),
		staged: make(map[Kind]Metadata),
	}
}

// Txn is an optimistic read-modify-write transaction over one or more kinds.
// Commit fails with CodeConflict if any kind read in the transaction changed since.
type Txn struct {
	s      *Store
	read   map[Kind]uint64
	raw    map[Kind][]byte // stored bytes at first read, guard of the commit batch
	staged map[Kind]Metadata
	done   bool
}

// Get reads a kind inside the transaction.
func (t *Txn) Get(kind Kind) (Metadata, error) {
	if t.done {
		return nil, errors.AssertionFailedf("metadata transaction already finished")
	}
	md, raw, err := t.s.readRaw(kind)
	if err != nil {
		return nil, err
	}
	if _, seen := t.read[kind]; !seen {
		t.read[kind] = md.Sequence()
		t.raw[kind] = raw
	}
	return md, nil
}

// Put stages a changed aggregate. The kind must have been read in this transaction.
func (t *Txn) Put(md Metadata) error {
	if t.done {
		return errors.AssertionFailedf("metadata transaction already finished")
	}
	seq, ok := t.read[md.Kind()]
	if !ok {
		return errors.AssertionFailedf("put of %s metadata that was not read in the transaction", md.Kind())
	}
	if md.Sequence() != seq {
		return errors.AssertionFailedf("%s metadata sequence changed in memory (%d != %d)", md.Kind(), md.Sequence(), seq)
	}
	t.staged[md.Kind()] = md
	return nil
}

// Rollback abandons the transaction.
func (t *Txn) Rollback() {
	t.done = true
}

// Commit bumps the sequence number of every staged aggregate and writes them in
// one atomic batch. The batch is guarded by the bytes read in the transaction, so
// a commit of another process in between fails it with CodeConflict.
// It returns the committed aggregates.
func (t *Txn) Commit() ([]Metadata, error) {
	if t.done {
		return nil, errors.AssertionFailedf("metadata transaction already finished")
	}
	t.done = true
	if len(t.staged) == 0 {
		return nil, nil
	}

	t.s.commit.Lock()
	defer t.s.commit.Unlock()

	ok := false
	defer func() {
		if ok {
			return
		}
		// nothing was written, restore the in-memory sequences
		for kind, md := range t.staged {
			md.setSequence(t.read[kind])
		}
	}()

	ops := make([]store.Op, 0, 2*len(t.staged))
	committed := make([]Metadata, 0, len(t.staged))
	for kind, md := range t.staged {
		md.setSequence(t.read[kind] + 1)
		data, err := Encode(md)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s metadata", kind)
		}
		ops = append(ops,
			store.ExpectOp(storeKey(kind), t.raw[kind]),
			store.SetOp(storeKey(kind), data))
		committed = append(committed, md)
	}

	if err := t.s.st.Batch(ops); err != nil {
		if store.IsConflict(err) {
			return nil, &Error{Code: CodeConflict, Msg: "concurrent change of metadata: " + err.Error()}
		}
		return nil, errors.Wrap(err, "commit metadata")
	}
	ok = true
	for _, md := range committed {
		log.Debugf("committed %s metadata seq %d", md.Kind(), md.Sequence())
	}
	return committed, nil
}
