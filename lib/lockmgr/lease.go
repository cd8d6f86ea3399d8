package lockmgr

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/store"
)

type leaseMgrImpl struct {
	store store.IStore
}

// NewLeaseManager creates a lease manager on top of the given store.
// It keeps no state of its own, every instance on the same store sees the same leases.
func NewLeaseManager(store store.IStore) ILeaseManager {
	return &leaseMgrImpl{
		store: store,
	}
}

func (lm *leaseMgrImpl) Acquire(key string, owner []byte, ttl time.Duration) (bool, []byte, []byte, error) {
	if owner == nil {
		var err error
		if owner, err = generateOwnerID(); err != nil {
			return false, nil, nil, err
		}
	}

	// only one writer can create the key (atomic CAS operation)
	if err := lm.store.SetIfUnset(key, owner, ttl); err != nil {
		log.Warningf("lease %s: set failed: %v", key, err)
		return false, nil, nil, err
	}

	// read back who won
	value, found, err := lm.store.Get(key)
	if err != nil {
		return false, nil, nil, err
	}
	if found && bytes.Equal(value, owner) {
		return true, owner, nil, nil
	}
	return false, owner, value, nil
}

func (lm *leaseMgrImpl) Renew(key string, ownerID []byte, ttl time.Duration) (bool, error) {
	err := lm.store.Batch([]store.Op{
		store.ExpectOp(key, ownerID),
		store.SetTTLOp(key, ownerID, ttl),
	})
	if store.IsConflict(err) {
		return false, nil
	}
	return err == nil, err
}

func (lm *leaseMgrImpl) Release(key string, ownerID []byte) (bool, error) {
	value, ok, err := lm.store.Get(key)
	if err != nil || !ok {
		return err == nil, err
	}
	if !bytes.Equal(ownerID, value) {
		return false, nil
	}
	// the lease may expire and be taken over between the read and the delete
	err = lm.store.Batch([]store.Op{store.ExpectOp(key, ownerID), store.DeleteOp(key)})
	if store.IsConflict(err) {
		return false, nil
	}
	return err == nil, err
}
