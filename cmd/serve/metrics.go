package serve

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	cmdUtil "github.com/ValentinKolb/dkv-admin/cmd/util"
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// metricsHandler serves the process metrics in the Prometheus text format
func metricsHandler(admin *cmdUtil.Admin) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		vm.WritePrometheus(w, true)
		writeRegistry(w, "dkvadmin_", admin.Registry)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := admin.Store.Keys("plan/"); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

// writeRegistry renders the engine's go-metrics registry next to the
// VictoriaMetrics series. Names like "plan.lock_conflicts" become
// dkvadmin_plan_lock_conflicts.
func writeRegistry(w io.Writer, prefix string, r gometrics.Registry) {
	var names []string
	all := make(map[string]interface{})
	r.Each(func(name string, m interface{}) {
		names = append(names, name)
		all[name] = m
	})
	sort.Strings(names)

	for _, name := range names {
		n := prefix + strings.NewReplacer(".", "_", "-", "_").Replace(name)
		switch m := all[name].(type) {
		case gometrics.Counter:
			fmt.Fprintf(w, "%s_total %d\n", n, m.Count())
		case gometrics.Gauge:
			fmt.Fprintf(w, "%s %d\n", n, m.Value())
		case gometrics.Meter:
			s := m.Snapshot()
			fmt.Fprintf(w, "%s_total %d\n", n, s.Count())
			fmt.Fprintf(w, "%s_rate1 %g\n", n, s.Rate1())
		case gometrics.Timer:
			s := m.Snapshot()
			fmt.Fprintf(w, "%s_seconds_count %d\n", n, s.Count())
			fmt.Fprintf(w, "%s_seconds_sum %g\n", n, float64(s.Sum())/1e9)
			for _, q := range []float64{0.5, 0.99} {
				fmt.Fprintf(w, "%s_seconds{quantile=\"%g\"} %g\n", n, q, s.Percentile(q)/1e9)
			}
		}
	}
}
