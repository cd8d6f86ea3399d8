package lockmgr

import "time"

// ILeaseManager hands out store backed leases. The executor uses one lease per plan
// so that two admin processes never drive the same plan at the same time.
type ILeaseManager interface {
	// Acquire tries to take the lease for key. A nil owner gets a random owner id.
	// It returns whether the lease is now held by owner, the owner id used, and the
	// current holder when someone else has it.
	Acquire(key string, owner []byte, ttl time.Duration) (ok bool, ownerID []byte, holder []byte, err error)

	// Renew extends a lease held by ownerID to ttl from now.
	// It returns false if the lease expired or belongs to someone else.
	Renew(key string, ownerID []byte, ttl time.Duration) (ok bool, err error)

	// Release gives up the lease if it is held by ownerID.
	// It returns true if the lease was released or did not exist.
	Release(key string, ownerID []byte) (ok bool, err error)
}
