package serve

import (
	"bytes"
	"strings"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

func TestWriteRegistry(t *testing.T) {
	r := gometrics.NewRegistry()
	gometrics.GetOrRegisterCounter("plan.lock_conflicts", r).Inc(3)
	gometrics.GetOrRegisterTimer("sched.lag", r).Update(2 * time.Second)
	_ = r.Register("plan.running", gometrics.NewFunctionalGauge(func() int64 { return 2 }))

	var buf bytes.Buffer
	writeRegistry(&buf, "dkvadmin_", r)
	out := buf.String()

	for _, want := range []string{
		"dkvadmin_plan_lock_conflicts_total 3\n",
		"dkvadmin_plan_running 2\n",
		"dkvadmin_sched_lag_seconds_count 1\n",
		"dkvadmin_sched_lag_seconds_sum 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output misses %q:\n%s", want, out)
		}
	}
}
