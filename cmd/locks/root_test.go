package locks

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ValentinKolb/dkv-admin/lib/plan"
)

func TestWriteLocks(t *testing.T) {
	plans := []*plan.Plan{
		{ID: 1, Name: "add-index ns:t.i", State: plan.StateRunning, Locks: []string{"table/ns/t/i", "table/ns"}},
		{ID: 2, Name: "old", State: plan.StateError, Locks: []string{"table/ns/x"}},
	}
	var buf bytes.Buffer
	if err := writeLocks(&buf, plans); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "table/ns/t/i") || !strings.Contains(out, "add-index ns:t.i") {
		t.Errorf("missing lock of running plan:\n%s", out)
	}
	if strings.Contains(out, "table/ns/x") {
		t.Errorf("locks of finished plans must not be shown:\n%s", out)
	}
}

func TestWriteLocksEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeLocks(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "no locks held\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}
