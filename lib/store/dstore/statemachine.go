package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/ValentinKolb/dkv-admin/lib/store/dstore/internal"
	"github.com/ValentinKolb/dkv-admin/lib/store/lstore"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is a state machine implementation for Dragonboat RAFT.
// The replicated state is an in-memory lstore.Store.
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	data      *lstore.Store
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
func CreateStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			data:      lstore.NewLocalStore(),
		}
	}
}

// Lookup handles read-only queries.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGet:
		val, ok, err := fsm.data.Get(q.Key)
		if err != nil {
			return nil, err
		}
		return internal.QueryResult{Value: val, Ok: ok}, nil
	case internal.QueryTKeys:
		return fsm.data.Keys(q.Key)
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update handles write commands.
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}
		entries[idx].Result = fsm.apply(cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *KVStateMachine) apply(cmd internal.Command) sm.Result {
	var err error
	switch cmd.Type {
	case internal.CommandTSet:
		err = fsm.data.Set(cmd.Key, cmd.Value)
	case internal.CommandTSetIfUnset:
		err = fsm.data.SetIfUnsetUntil(cmd.Key, cmd.Value, cmd.Deadline)
	case internal.CommandTDelete:
		err = fsm.data.Delete(cmd.Key)
	case internal.CommandTBatch:
		var nested []internal.Command
		nested, err = cmd.Unbatch()
		if err != nil {
			return sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte(err.Error())}
		}
		ops := make([]store.Op, 0, len(nested))
		deadlines := make([]int64, 0, len(nested))
		for _, n := range nested {
			switch n.Type {
			case internal.CommandTSet:
				ops = append(ops, store.SetOp(n.Key, n.Value))
			case internal.CommandTDelete:
				ops = append(ops, store.DeleteOp(n.Key))
			case internal.CommandTExpect:
				ops = append(ops, store.Op{Type: store.OpExpect, Key: n.Key, Value: n.Value})
			case internal.CommandTExpectAbsent:
				ops = append(ops, store.Op{Type: store.OpExpectAbsent, Key: n.Key})
			default:
				return sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte(fmt.Sprintf("%s not allowed in batch", n.Type))}
			}
			deadlines = append(deadlines, n.Deadline)
		}
		// guards are evaluated against the replicated state, so every replica agrees
		err = fsm.data.BatchUntil(ops, deadlines)
	default:
		return sm.Result{
			Value: uint64(store.RetCInvalidOperation),
			Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
		}
	}

	if err != nil {
		if se, ok := err.(*store.Error); ok {
			return sm.Result{Value: uint64(se.Code), Data: []byte(se.Msg)}
		}
		return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(err.Error())}
	}
	return sm.Result{Value: uint64(store.RetCSuccess), Data: []byte(fmt.Sprintf("%s: key=%s", cmd.Type, cmd.Key))}
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a gob snapshot of the data to the writer
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.data.Save(writer)
}

// RecoverFromSnapshot replaces the data with the snapshot content.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.data.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return nil
}
