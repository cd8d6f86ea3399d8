package plan

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/ValentinKolb/dkv-admin/cmd/util"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/plan"
	"github.com/ValentinKolb/dkv-admin/lib/task"
	"github.com/ValentinKolb/dkv-admin/lib/tasks"
	"github.com/spf13/cobra"
)

// builder turns the arguments of a create command into a named task list
type builder func(cmd *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error)

// newCreateCmd creates a command that records the plan returned by build
func newCreateCmd(use, short string, args cobra.PositionalArgs, build builder) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdUtil.RunWithAdmin(cmd, func(ctx context.Context, a *cmdUtil.Admin) error {
				name, list, err := build(cmd, a.Metadata, args)
				if err != nil {
					return err
				}
				return submit(ctx, cmd, a, name, list)
			})
		},
	}
	c.Flags().Bool("approve", false, cmdUtil.WrapString("Approve the plan right away"))
	c.Flags().Bool("run", false, cmdUtil.WrapString("Approve and execute the plan in this process"))
	return c
}

// submit records the plan and, if requested, approves and runs it
func submit(ctx context.Context, cmd *cobra.Command, a *cmdUtil.Admin, name string, list *task.List) error {
	out := cmd.OutOrStdout()
	p, created, err := a.Executor.Create(name, list)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "created plan %d (%s) with %d tasks\n", p.ID, p.Name, list.Size())
	} else {
		fmt.Fprintf(out, "equivalent plan %d (%s) exists in state %s\n", p.ID, p.Name, coloredState(p.State))
	}

	run, _ := cmd.Flags().GetBool("run")
	approve, _ := cmd.Flags().GetBool("approve")
	if !run && !approve {
		return nil
	}
	if p.State == plan.StateCreated {
		if p, err = a.Executor.Approve(p.ID); err != nil {
			return err
		}
	}
	if !run {
		fmt.Fprintf(out, "plan %d is %s\n", p.ID, coloredState(p.State))
		return nil
	}
	return execute(ctx, cmd, a, p.ID)
}

func addCreateCommands(parent *cobra.Command) {
	createTable := newCreateCmd("create-table <namespace> <table>", "Create a table", cobra.ExactArgs(2),
		func(cmd *cobra.Command, _ *metadata.Store, args []string) (string, *task.List, error) {
			pk, _ := cmd.Flags().GetStringSlice("pk")
			fields, _ := cmd.Flags().GetStringToString("field")
			description, _ := cmd.Flags().GetString("description")
			return tasks.CreateTablePlan(metadata.Table{
				Namespace:   args[0],
				Name:        args[1],
				PrimaryKey:  pk,
				Fields:      fields,
				Description: description,
			})
		})
	createTable.Flags().StringSlice("pk", nil, cmdUtil.WrapString("Primary key fields in order"))
	createTable.Flags().StringToString("field", nil, cmdUtil.WrapString("Fields as name=type, repeatable"))
	createTable.Flags().String("description", "", cmdUtil.WrapString("Free text description"))

	dropTable := newCreateCmd("drop-table <namespace> <table>", "Drop a table", cobra.ExactArgs(2),
		func(_ *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.DropTablePlan(md, args[0], args[1])
		})

	addIndex := newCreateCmd("add-index <namespace> <table> <index>", "Add a secondary index and wait for its population", cobra.ExactArgs(3),
		func(cmd *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			fields, _ := cmd.Flags().GetStringSlice("field")
			description, _ := cmd.Flags().GetString("description")
			return tasks.AddIndexPlan(md, args[0], args[1], metadata.Index{Name: args[2], Fields: fields, Description: description})
		})
	addIndex.Flags().StringSlice("field", nil, cmdUtil.WrapString("Indexed fields in order"))
	addIndex.Flags().String("description", "", cmdUtil.WrapString("Free text description"))

	dropIndex := newCreateCmd("drop-index <namespace> <table> <index>", "Drop a secondary index", cobra.ExactArgs(3),
		func(_ *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.DropIndexPlan(md, args[0], args[1], args[2])
		})

	createNamespace := newCreateCmd("create-namespace <namespace>", "Create a namespace", cobra.ExactArgs(1),
		func(cmd *cobra.Command, _ *metadata.Store, args []string) (string, *task.List, error) {
			owner, _ := cmd.Flags().GetString("owner")
			return tasks.CreateNamespacePlan(args[0], owner)
		})
	createNamespace.Flags().String("owner", "", cmdUtil.WrapString("Owner of the namespace"))

	dropNamespace := newCreateCmd("drop-namespace <namespace>", "Drop an empty namespace", cobra.ExactArgs(1),
		func(_ *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.DropNamespacePlan(md, args[0])
		})

	createRegion := newCreateCmd("create-region <region>", "Register a remote region", cobra.ExactArgs(1),
		func(_ *cobra.Command, _ *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.CreateRegionPlan(args[0])
		})

	dropRegion := newCreateCmd("drop-region <region>", "Remove a remote region", cobra.ExactArgs(1),
		func(_ *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.DropRegionPlan(md, args[0])
		})

	setLocalRegion := newCreateCmd("set-local-region <region>", "Name the local region", cobra.ExactArgs(1),
		func(_ *cobra.Command, _ *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.SetLocalRegionPlan(args[0])
		})

	deployParams := newCreateCmd("deploy-params <key=value>...", "Push parameters to every service", cobra.MinimumNArgs(1),
		func(_ *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			params, err := parseParams(args)
			if err != nil {
				return "", nil, err
			}
			return tasks.DeployParamsPlan(md, params)
		})

	rotateCredentials := newCreateCmd("rotate-credentials <hash>", "Record a new credential hash and verify every node installed it", cobra.ExactArgs(1),
		func(_ *cobra.Command, _ *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.RotateCredentialsPlan(args[0])
		})

	changeRF := newCreateCmd("change-rf <factor>", "Change the replication factor", cobra.ExactArgs(1),
		func(_ *cobra.Command, _ *metadata.Store, args []string) (string, *task.List, error) {
			factor, err := strconv.Atoi(args[0])
			if err != nil {
				return "", nil, fmt.Errorf("invalid replication factor %q", args[0])
			}
			return tasks.ChangeReplicationFactorPlan(factor)
		})

	replaceNode := newCreateCmd("replace-node <from> <to>", "Move every service of a storage node to another one", cobra.ExactArgs(2),
		func(_ *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.ReplaceNodePlan(md, args[0], args[1])
		})

	restartService := newCreateCmd("restart-service <service>", "Stop and start a service", cobra.ExactArgs(1),
		func(_ *cobra.Command, md *metadata.Store, args []string) (string, *task.List, error) {
			return tasks.RestartServicePlan(md, args[0])
		})

	parent.AddCommand(
		createTable, dropTable, addIndex, dropIndex,
		createNamespace, dropNamespace,
		createRegion, dropRegion, setLocalRegion,
		deployParams, rotateCredentials,
		changeRF, replaceNode, restartService,
	)
}

// parseParams parses key=value arguments
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", arg)
		}
		params[strings.TrimSpace(k)] = v
	}
	return params, nil
}
