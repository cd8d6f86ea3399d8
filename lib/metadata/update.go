package metadata

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Broadcaster delivers a new metadata version to the live cluster members.
// Delivery is best-effort; wait tasks observe completion later.
type Broadcaster interface {
	Broadcast(ctx context.Context, md Metadata) error
}

// Update runs the read-modify-write-broadcast protocol for one kind:
//
//  1. read the current aggregate from the store (never a cached copy)
//  2. let mutate compute the desired state on it
//  3. if mutate returns ErrNoChange the desired state is already present: nothing is
//     committed, the current version is re-broadcast as a repair, and the call
//     succeeds with changed == false
//  4. any other mutate error (usually an *Error) is returned unchanged
//  5. otherwise commit (bumping the sequence number) and broadcast
//
// Broadcast failures are logged, never returned.
func Update[T Metadata](ctx context.Context, s *Store, b Broadcaster, kind Kind, mutate func(cur T) error) (T, bool, error) {
	var zero T
	txn := s.Begin()
	md, err := txn.Get(kind)
	if err != nil {
		txn.Rollback()
		return zero, false, err
	}
	cur, ok := md.(T)
	if !ok {
		txn.Rollback()
		return zero, false, errors.AssertionFailedf("%s metadata has type %T, expected %T", kind, md, zero)
	}

	if err := mutate(cur); err != nil {
		txn.Rollback()
		if errors.Is(err, ErrNoChange) {
			broadcast(ctx, b, cur)
			return cur, false, nil
		}
		return zero, false, err
	}

	if v, ok := md.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			txn.Rollback()
			return zero, false, err
		}
	}

	if err := txn.Put(cur); err != nil {
		txn.Rollback()
		return zero, false, err
	}
	if _, err := txn.Commit(); err != nil {
		return zero, false, err
	}
	broadcast(ctx, b, cur)
	return cur, true, nil
}

func broadcast(ctx context.Context, b Broadcaster, md Metadata) {
	if b == nil {
		return
	}
	if err := b.Broadcast(ctx, md); err != nil {
		log.Warningf("broadcast of %s metadata seq %d incomplete: %v", md.Kind(), md.Sequence(), err)
	}
}
