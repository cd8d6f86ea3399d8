package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/ValentinKolb/dkv-admin/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the raft backed implementation of store.IStore.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple admin processes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// It returns a *store.Error if an error occurs, or nil on success.
func (s *storeImpl) write(cmd internal.Command) error {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if errors.Is(err, dragonboat.ErrTimeout) || errors.Is(err, dragonboat.ErrShardNotReady) {
			return store.NewError(store.RetCUnavailable, err.Error())
		}
		if err != nil {
			return store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	return store.NewError(store.RetCUnavailable, "timeout")
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// SyncRead (linearizable) is used by default, stale switches to the faster StaleRead.
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}
		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCUnavailable, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.write(internal.Command{
		Type:  internal.CommandTSet,
		Key:   key,
		Value: value,
	})
}

func (s *storeImpl) SetIfUnset(key string, value []byte, ttl time.Duration) error {
	var deadline int64
	if ttl > 0 {
		deadline = time.Now().Add(ttl).UnixNano()
	}
	return s.write(internal.Command{
		Type:     internal.CommandTSetIfUnset,
		Key:      key,
		Value:    value,
		Deadline: deadline,
	})
}

func (s *storeImpl) Delete(key string) error {
	return s.write(internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
	})
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Ok, nil
}

func (s *storeImpl) Keys(prefix string) ([]string, error) {
	return read[[]string](s, internal.Query{
		Type: internal.QueryTKeys,
		Key:  prefix,
	}, false)
}

func (s *storeImpl) Batch(ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	now := time.Now()
	cmds := make([]internal.Command, 0, len(ops))
	for _, op := range ops {
		switch op.Type {
		case store.OpSet:
			cmd := internal.Command{Type: internal.CommandTSet, Key: op.Key, Value: op.Value}
			if op.TTL > 0 {
				cmd.Deadline = now.Add(op.TTL).UnixNano()
			}
			cmds = append(cmds, cmd)
		case store.OpDelete:
			cmds = append(cmds, internal.Command{Type: internal.CommandTDelete, Key: op.Key})
		case store.OpExpect:
			cmds = append(cmds, internal.Command{Type: internal.CommandTExpect, Key: op.Key, Value: op.Value})
		case store.OpExpectAbsent:
			cmds = append(cmds, internal.Command{Type: internal.CommandTExpectAbsent, Key: op.Key})
		default:
			return store.NewError(store.RetCInvalidOperation, "unknown batch operation")
		}
	}
	return s.write(internal.NewBatchCommand(cmds))
}
