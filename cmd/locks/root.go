package locks

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	cmdUtil "github.com/ValentinKolb/dkv-admin/cmd/util"
	"github.com/ValentinKolb/dkv-admin/lib/plan"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var LocksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show the resources locked by running plans",
	Long: `Show the resources locked by running plans. Lock tables live in the memory of the
admin process driving a plan, this command reads the lock records every plan persists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmdUtil.RunWithAdmin(cmd, func(_ context.Context, a *cmdUtil.Admin) error {
			plans, err := a.Executor.List()
			if err != nil {
				return err
			}
			return writeLocks(cmd.OutOrStdout(), plans)
		})
	},
}

func init() {
	cmdUtil.SetupAdminFlags(LocksCmd, "warn")
}

type lockRow struct {
	resource string
	plan     *plan.Plan
}

// writeLocks renders one row per locked resource
func writeLocks(w io.Writer, plans []*plan.Plan) error {
	var rows []lockRow
	for _, p := range plans {
		if p.State != plan.StateRunning {
			continue
		}
		for _, r := range p.Locks {
			rows = append(rows, lockRow{resource: r, plan: p})
		}
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no locks held")
		return err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].resource != rows[j].resource {
			return rows[i].resource < rows[j].resource
		}
		return rows[i].plan.ID < rows[j].plan.ID
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RESOURCE", "PLAN", "NAME")
	for _, r := range rows {
		t.Row(r.resource, strconv.FormatUint(r.plan.ID, 10), r.plan.Name)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
