package plan

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/task"
	"github.com/stretchr/testify/require"
)

func TestDecodeVersion1Record(t *testing.T) {
	data := []byte(`{
		"version": 1,
		"id": 7,
		"name": "legacy",
		"state": "ERROR",
		"created": "2024-01-02T03:04:05Z",
		"updated": "2024-01-02T04:04:05Z",
		"taskList": [
			{"kind": "test-step", "params": {"id": "a"}},
			{"kind": "test-step", "params": {"id": "b", "continuePastError": true}}
		],
		"runs": [{"index": 0, "state": "SUCCEEDED"}],
		"error": "boom"
	}`)

	p, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, uint64(7), p.ID)
	require.Equal(t, StateError, p.State)
	require.Equal(t, task.Serial, p.List.Strategy)
	require.Equal(t, 2, p.List.Size())
	require.True(t, p.Leaves()[1].ContinuePastError())

	require.Len(t, p.Runs, 2)
	require.Equal(t, task.StateSucceeded, p.Runs[0].State)
	require.Equal(t, task.StatePending, p.Runs[1].State)
	require.Equal(t, "step b", p.Runs[1].Name)
	require.Empty(t, p.Locks)

	require.Len(t, p.Attempts, 1)
	require.Equal(t, StateError, p.Attempts[0].State)
	require.Equal(t, "boom", p.Attempts[0].Error)
}

func TestDecodeVersion2RecordWithoutAttempts(t *testing.T) {
	data := []byte(`{
		"version": 2,
		"id": 3,
		"name": "approved",
		"state": "APPROVED",
		"tasks": {"strategy": "PARALLEL", "nodes": [{"kind": "test-step", "params": {"id": "a"}}]},
		"locks": []
	}`)
	p, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, task.Parallel, p.List.Strategy)
	require.Empty(t, p.Attempts)
	require.Equal(t, task.StatePending, p.Runs[0].State)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version": 99, "id": 1}`))
	require.Error(t, err)
}

func TestEncodeWritesCurrentVersion(t *testing.T) {
	list := task.NewList(task.Serial).Add(step("a")).AddList(task.NewList(task.Parallel).Add(step("b")))
	p := New(4, "current", list, time.Unix(100, 0).UTC())
	p.Runs[1].State = task.StateError
	p.Runs[1].Error = "failed"

	data, err := Encode(p)
	require.NoError(t, err)
	require.Contains(t, string(data), `"version":3`)

	back, err := Decode(data)
	require.NoError(t, err)
	require.True(t, p.List.LogicalCompare(back.List))
	require.Equal(t, "failed", back.Runs[1].Error)
	require.Equal(t, p.Created, back.Created)
}
