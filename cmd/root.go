package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dkv-admin/cmd/agent"
	"github.com/ValentinKolb/dkv-admin/cmd/locks"
	"github.com/ValentinKolb/dkv-admin/cmd/plan"
	"github.com/ValentinKolb/dkv-admin/cmd/serve"
	"github.com/ValentinKolb/dkv-admin/cmd/topology"
	"github.com/ValentinKolb/dkv-admin/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:     "dkvadmin",
		Version: Version,
		Short:   "administration of a sharded key-value store",
		Long: fmt.Sprintf(`dkvadmin (v%s)

The control plane of a sharded key-value store. Administrative changes
(tables, indexes, regions, credentials, topology) are recorded as plans:
durable task lists that are approved and then driven to completion
against the node agents of the storage nodes.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dkvadmin",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dkvadmin v%s\n", Version)
		},
	}
)

func init() {
	// load .env files and environment variables before any command runs
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(agent.AgentCmd)
	RootCmd.AddCommand(plan.PlanCommands)
	RootCmd.AddCommand(topology.TopologyCommands)
	RootCmd.AddCommand(locks.LocksCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer of the node agent protocol (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport of the node agent protocol (http, tcp)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
