package lockmgr

import (
	"sync"
	"testing"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/ValentinKolb/dkv-admin/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	planA = Owner{PlanID: 1, PlanName: "add-index-a"}
	planB = Owner{PlanID: 2, PlanName: "add-index-b"}
)

// eachTable runs fn against an in-memory and a store backed table.
func eachTable(t *testing.T, fn func(t *testing.T, tbl *Table)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewTable()) })
	t.Run("shared", func(t *testing.T) { fn(t, NewSharedTable(lstore.NewLocalStore())) })
}

func release(t *testing.T, tbl *Table, g *Grant) {
	t.Helper()
	require.NoError(t, tbl.Release(g))
}

func held(t *testing.T, tbl *Table, planID uint64) []string {
	t.Helper()
	keys, err := tbl.Held(planID)
	require.NoError(t, err)
	return keys
}

func snapshot(t *testing.T, tbl *Table) []HeldLock {
	t.Helper()
	locks, err := tbl.Snapshot()
	require.NoError(t, err)
	return locks
}

func TestExclusiveTableLockIsMutuallyExclusive(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl *Table) {
		g1, err := tbl.Acquire(planA, TableOf("ns", "T")...)
		require.NoError(t, err)

		_, err = tbl.Acquire(planB, TableOf("ns", "T")...)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLocksHeld))

		var conflict *LockConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, planA, conflict.Holder)
		assert.Equal(t, "TABLE:ns/t", conflict.Request.Resource.Key())

		release(t, tbl, g1)
		g2, err := tbl.Acquire(planB, TableOf("ns", "T")...)
		require.NoError(t, err)
		release(t, tbl, g2)
		assert.Empty(t, snapshot(t, tbl))
	})
}

func TestIndexLocksDoNotInterfere(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl *Table) {
		_, err := tbl.Acquire(planA, Index("ns", "T", "idx")...)
		require.NoError(t, err)

		// unrelated index on the same table
		g, err := tbl.Acquire(planB, Index("ns", "T", "other")...)
		require.NoError(t, err)
		release(t, tbl, g)

		// same index
		_, err = tbl.Acquire(planB, Index("ns", "T", "IDX")...)
		assert.ErrorIs(t, err, ErrLocksHeld)

		// whole table
		_, err = tbl.Acquire(planB, TableOf("ns", "T")...)
		assert.ErrorIs(t, err, ErrLocksHeld)

		// namespace drop
		_, err = tbl.Acquire(planB, Namespace("ns")...)
		assert.ErrorIs(t, err, ErrLocksHeld)
	})
}

func TestAcquireIsAllOrNothing(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl *Table) {
		_, err := tbl.Acquire(planA, TableOf("ns", "busy")...)
		require.NoError(t, err)

		reqs := append(TableOf("ns", "free"), TableOf("ns", "busy")...)
		_, err = tbl.Acquire(planB, reqs...)
		require.ErrorIs(t, err, ErrLocksHeld)

		assert.Empty(t, held(t, tbl, planB.PlanID), "no partial locks may remain")

		// the free table is still available
		_, err = tbl.Acquire(Owner{PlanID: 3, PlanName: "c"}, TableOf("ns", "free")...)
		assert.NoError(t, err)
	})
}

func TestLocksAreReentrantPerPlan(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl *Table) {
		g1, err := tbl.Acquire(planA, TableOf("ns", "T")...)
		require.NoError(t, err)
		g2, err := tbl.Acquire(planA, Index("ns", "T", "idx")...)
		require.NoError(t, err)

		release(t, tbl, g1)
		_, err = tbl.Acquire(planB, TableOf("ns", "T")...)
		assert.ErrorIs(t, err, ErrLocksHeld, "index grant still reads the table")

		release(t, tbl, g2)
		release(t, tbl, g2)
		_, err = tbl.Acquire(planB, TableOf("ns", "T")...)
		assert.NoError(t, err)
	})
}

func TestTopologyHierarchy(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl *Table) {
		_, err := tbl.Acquire(planA, TopologyNode("rg1", "rg1-rn1")...)
		require.NoError(t, err)

		g, err := tbl.Acquire(planB, TopologyNode("rg1", "rg1-rn2")...)
		require.NoError(t, err, "sibling node only shares a read lock on the group")
		release(t, tbl, g)

		_, err = tbl.Acquire(planB, TopologyGroup("rg1")...)
		assert.ErrorIs(t, err, ErrLocksHeld)

		g, err = tbl.Acquire(planB, StorageNode("sn1")...)
		assert.NoError(t, err)
		release(t, tbl, g)
	})
}

func TestRegionSentinel(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl *Table) {
		east, err := Region("east")
		require.NoError(t, err)
		west, err := Region("west")
		require.NoError(t, err)

		_, err = tbl.Acquire(planA, east...)
		require.NoError(t, err)
		g, err := tbl.Acquire(planB, west...)
		require.NoError(t, err)
		release(t, tbl, g)

		_, err = tbl.Acquire(planB, LocalRegion()...)
		assert.ErrorIs(t, err, ErrLocksHeld)

		_, err = Region(LocalRegionSentinel)
		assert.Error(t, err)
	})
}

func TestReleaseAllAndHeld(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl *Table) {
		_, err := tbl.Acquire(planA, Index("ns", "T", "idx")...)
		require.NoError(t, err)

		assert.Equal(t, []string{"TABLE:ns", "TABLE:ns/t", "TABLE:ns/t/idx"}, held(t, tbl, planA.PlanID))
		n, err := tbl.ReleaseAll(planA.PlanID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Empty(t, snapshot(t, tbl))
	})
}

func TestAcquireWithoutPlanID(t *testing.T) {
	_, err := NewTable().Acquire(Owner{}, Namespace("ns")...)
	require.Error(t, err)
	assert.True(t, errors.IsAssertionFailure(err))
}

func TestSharedTableExcludesAcrossProcesses(t *testing.T) {
	st := lstore.NewLocalStore()
	first, second := NewSharedTable(st), NewSharedTable(st)

	g, err := first.Acquire(planA, TableOf("ns", "T")...)
	require.NoError(t, err)

	_, err = second.Acquire(planB, TableOf("ns", "T")...)
	require.ErrorIs(t, err, ErrLocksHeld)
	var conflict *LockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, planA, conflict.Holder)
	assert.Equal(t, []string{"TABLE:ns", "TABLE:ns/t"}, held(t, second, planA.PlanID))

	release(t, first, g)
	_, ok, err := st.Get(tableKey)
	require.NoError(t, err)
	assert.False(t, ok, "empty table removes its record")

	g, err = second.Acquire(planB, TableOf("ns", "T")...)
	require.NoError(t, err)
	release(t, second, g)
}

func TestSharedTableConcurrentAcquire(t *testing.T) {
	st := lstore.NewLocalStore()
	const workers = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, err := NewSharedTable(st).Acquire(Owner{PlanID: id, PlanName: "p"}, TableOf("ns", "T")...)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrLocksHeld)
		}(uint64(i))
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Len(t, snapshot(t, NewSharedTable(st)), 2)
}

func TestSharedTableReleaseAllDropsCrashedPlan(t *testing.T) {
	st := lstore.NewLocalStore()
	_, err := NewSharedTable(st).Acquire(planA, TableOf("ns", "T")...)
	require.NoError(t, err)

	// a later process cleans up after the one that crashed
	n, err := NewSharedTable(st).ReleaseAll(planA.PlanID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = NewSharedTable(st).Acquire(planB, TableOf("ns", "T")...)
	assert.NoError(t, err)
}

func TestSharedTableGivesUpAfterRepeatedConflicts(t *testing.T) {
	tbl := NewSharedTable(conflictingStore{lstore.NewLocalStore()})
	_, err := tbl.Acquire(planA, TableOf("ns", "T")...)
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
	assert.False(t, errors.Is(err, ErrLocksHeld))
}

// conflictingStore fails every batch as if another process always won.
type conflictingStore struct {
	*lstore.Store
}

func (conflictingStore) Batch(ops []store.Op) error {
	return store.ConflictError(ops[0])
}
