package plan

import (
	"context"
	"fmt"
	"strconv"

	cmdUtil "github.com/ValentinKolb/dkv-admin/cmd/util"
	"github.com/ValentinKolb/dkv-admin/lib/plan"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	PlanCommands = &cobra.Command{
		Use:   "plan",
		Short: "Create and manage plans",
		Long: `Create and manage plans. A create-* command records a plan in state CREATED, it only
changes the cluster once it was approved and executed, either by 'plan run' or by a running
admin service ('dkvadmin serve'). Issuing the same create command twice returns the existing
unfinished plan.`,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return cmdUtil.RunWithAdmin(cmd, func(_ context.Context, a *cmdUtil.Admin) error {
				plans, err := a.Executor.List()
				if err != nil {
					return err
				}
				if !all {
					plans = unfinished(plans)
				}
				return writePlanList(cmd.OutOrStdout(), plans)
			})
		},
	}

	showCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Show a plan with its tasks and attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			return cmdUtil.RunWithAdmin(cmd, func(_ context.Context, a *cmdUtil.Admin) error {
				p, err := a.Executor.Get(id)
				if err != nil {
					return err
				}
				return writePlan(cmd.OutOrStdout(), p, output)
			})
		},
	}

	approveCmd = &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a plan for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cmdUtil.RunWithAdmin(cmd, func(_ context.Context, a *cmdUtil.Admin) error {
				p, err := a.Executor.Approve(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "plan %d (%s) is %s\n", p.ID, p.Name, coloredState(p.State))
				return nil
			})
		},
	}

	runCmd = &cobra.Command{
		Use:   "run <id>",
		Short: "Execute a plan in this process",
		Long: `Execute a plan in this process and wait until it finished. Interrupted plans are
resumed. Ctrl-C interrupts the plan, it can be run again later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			approve, _ := cmd.Flags().GetBool("approve")
			return cmdUtil.RunWithAdmin(cmd, func(ctx context.Context, a *cmdUtil.Admin) error {
				if approve {
					if _, err := a.Executor.Approve(id); err != nil && !errors.Is(err, plan.ErrIllegalTransition) {
						return err
					}
				}
				return execute(ctx, cmd, a, id)
			})
		},
	}

	interruptCmd = &cobra.Command{
		Use:   "interrupt <id>",
		Short: "Interrupt a running plan",
		Long: `Interrupt a running plan. The admin process driving the plan stops it on its next
executor tick, tasks that did not finish are resumed when the plan runs again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cmdUtil.RunWithAdmin(cmd, func(ctx context.Context, a *cmdUtil.Admin) error {
				if err := a.Executor.RequestInterrupt(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "interrupt of plan %d requested\n", id)
				return nil
			})
		},
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a plan that has not succeeded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return cmdUtil.RunWithAdmin(cmd, func(ctx context.Context, a *cmdUtil.Admin) error {
				p, err := a.Executor.Cancel(ctx, id)
				if errors.Is(err, plan.ErrLeased) {
					_ = a.Executor.RequestInterrupt(ctx, id)
					return errors.Wrap(err, "interrupt requested, cancel again once the plan stopped")
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "plan %d (%s) is %s\n", p.ID, p.Name, coloredState(p.State))
				return nil
			})
		},
	}
)

func init() {
	cmdUtil.SetupAdminFlags(PlanCommands, "warn")

	listCmd.Flags().BoolP("all", "a", false, cmdUtil.WrapString("Include succeeded and canceled plans"))
	showCmd.Flags().StringP("output", "o", "text", cmdUtil.WrapString("Output format (text, yaml, json)"))
	runCmd.Flags().Bool("approve", false, cmdUtil.WrapString("Approve the plan before running it"))

	PlanCommands.AddCommand(listCmd, showCmd, approveCmd, runCmd, interruptCmd, cancelCmd)
	addCreateCommands(PlanCommands)
}

// execute runs a plan to completion and prints the outcome
func execute(ctx context.Context, cmd *cobra.Command, a *cmdUtil.Admin, id uint64) error {
	p, err := a.Executor.Execute(ctx, id)
	if p != nil {
		if werr := writePlan(cmd.OutOrStdout(), p, "text"); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	if p.State == plan.StateError {
		return fmt.Errorf("plan %d failed: %s", p.ID, p.Error)
	}
	return nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid plan id %q", s)
	}
	return id, nil
}

func unfinished(plans []*plan.Plan) []*plan.Plan {
	out := plans[:0]
	for _, p := range plans {
		if !p.State.Terminal() {
			out = append(out, p)
		}
	}
	return out
}
