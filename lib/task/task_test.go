package task

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/store/lstore"
	"github.com/stretchr/testify/require"
)

// noopTask is a test kind that succeeds immediately.
type noopTask struct {
	Base
	ID string `json:"id"`
}

func (t *noopTask) Kind() string { return "test-noop" }
func (t *noopTask) Name() string { return "noop " + t.ID }
func (t *noopTask) Locks(*Env) ([]lockmgr.Request, error) {
	return lockmgr.Namespace(t.ID), nil
}
func (t *noopTask) FirstJob(*Env) Job {
	return JobFunc(func(context.Context, *Env) NextJob { return Success() })
}
func (t *noopTask) LogicalCompare(other Task) bool {
	o, ok := other.(*noopTask)
	return ok && o.ID == t.ID
}

func init() {
	Register("test-noop", func() Task { return &noopTask{} })
}

func testEnv(t *testing.T) *Env {
	t.Helper()
	return &Env{
		PlanID:   1,
		PlanName: "test",
		Metadata: metadata.NewStore(lstore.NewLocalStore()),
		Params: Params{
			MaxRetries:       4,
			UnreachableDelay: time.Millisecond,
			PollInitial:      time.Millisecond,
			PollMax:          4 * time.Millisecond,
		},
	}
}

func TestListSizeCountsLeaves(t *testing.T) {
	inner := NewList(Parallel).Add(&noopTask{ID: "b"}, &noopTask{ID: "c"})
	l := NewList(Serial).
		Add(&noopTask{ID: "a"}).
		AddList(inner).
		AddList(NewList(Serial)).
		Add(&noopTask{ID: "d"})

	require.Equal(t, 4, l.Size())
	var ids []string
	for _, leaf := range l.Leaves() {
		ids = append(ids, leaf.(*noopTask).ID)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestListRecordDecodesRegisteredKinds(t *testing.T) {
	l := NewList(Serial).
		Add(&noopTask{ID: "a", Base: Base{ContinueOnError: true}}).
		AddList(NewList(Parallel).Add(&noopTask{ID: "b"}))

	rec, err := l.Record()
	require.NoError(t, err)
	decoded, err := DecodeList(rec)
	require.NoError(t, err)

	require.True(t, l.LogicalCompare(decoded))
	require.Equal(t, Parallel, decoded.Nodes[1].List.Strategy)
	require.True(t, decoded.Leaves()[0].ContinuePastError())
	require.True(t, decoded.Leaves()[1].RestartOnInterrupted())
}

func TestListRecordRejectsEmptyNode(t *testing.T) {
	sub := NewList(Parallel).Add(&noopTask{ID: "b"})
	sub.Nodes = append(sub.Nodes, Node{})
	l := NewList(Serial).Add(&noopTask{ID: "a"}).AddList(sub)

	require.NotPanics(t, func() {
		_, err := l.Record()
		require.ErrorContains(t, err, "task list node 1 is empty")
	})
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode("no-such-kind", nil)
	require.Error(t, err)
}

func TestListLogicalCompare(t *testing.T) {
	a := NewList(Serial).Add(&noopTask{ID: "x"})
	require.True(t, a.LogicalCompare(NewList(Serial).Add(&noopTask{ID: "x"})))
	require.False(t, a.LogicalCompare(NewList(Serial).Add(&noopTask{ID: "y"})))
	require.False(t, a.LogicalCompare(NewList(Parallel).Add(&noopTask{ID: "x"})))
	require.False(t, a.LogicalCompare(NewList(Serial).AddList(NewList(Serial).Add(&noopTask{ID: "x"}))))
}

func TestStateText(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("interrupted")))
	require.Equal(t, StateInterrupted, s)
	require.Error(t, s.UnmarshalText([]byte("bogus")))
	require.True(t, StateError.Terminal())
	require.False(t, StateRunning.Terminal())
}
