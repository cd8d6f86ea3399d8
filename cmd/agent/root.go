package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dkv-admin/cmd/util"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	agentCmdConfig = &common.AgentConfig{}
	AgentCmd       = &cobra.Command{
		Use:   "agent",
		Short: "Start the node agent of a storage node",
		Long: `Start the node agent of a storage node. The admin service reaches the agent at the
endpoint registered for the storage node in the topology. The format of the environment
variables is DKVADMIN_<flag> (e.g. DKVADMIN_ENDPOINT=0.0.0.0:7070)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "storage-node"
	AgentCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Id of the storage node this agent runs on (e.g. 'sn1')"))

	key = "endpoint"
	AgentCmd.PersistentFlags().String(key, "0.0.0.0:7070", cmdUtil.WrapString("The address on which the agent will listen"))

	key = "timeout"
	AgentCmd.PersistentFlags().Int64(key, 10, cmdUtil.WrapString("Timeout in seconds of a single request"))

	key = "workers-per-conn"
	AgentCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Requests handled concurrently per tcp connection"))

	key = "populate-delay"
	AgentCmd.PersistentFlags().Duration(key, 5*time.Second, cmdUtil.WrapString("How long populating a new secondary index takes"))

	key = "transport-write-buffer"
	AgentCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer for the transport (in KB, ignored for http)"))

	key = "transport-read-buffer"
	AgentCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer for the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	AgentCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY for accepted connections"))

	key = "transport-tcp-keepalive"
	AgentCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for accepted connections (in seconds)"))

	key = "transport-tcp-linger"
	AgentCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time for accepted connections (in seconds)"))

	key = "log-level"
	AgentCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	agentCmdConfig.StorageNodeID = viper.GetString("storage-node")
	if agentCmdConfig.StorageNodeID == "" {
		return fmt.Errorf("storage-node is required")
	}
	agentCmdConfig.Endpoint = viper.GetString("endpoint")
	agentCmdConfig.Serializer = viper.GetString("serializer")
	agentCmdConfig.Transport = viper.GetString("transport")
	agentCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	agentCmdConfig.WorkersPerConn = viper.GetInt("workers-per-conn")
	agentCmdConfig.PopulateDelay = viper.GetDuration("populate-delay")
	agentCmdConfig.TCP = common.TCPConf{
		NoDelay:         viper.GetBool("transport-tcp-nodelay"),
		KeepAliveSec:    viper.GetInt("transport-tcp-keepalive"),
		LingerSec:       viper.GetInt("transport-tcp-linger"),
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
	}
	agentCmdConfig.LogLevel = viper.GetString("log-level")

	return common.InitLoggers(agentCmdConfig.LogLevel)
}

// run starts the agent and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*agentCmdConfig,
		t,
		s,
		server.NewAgent(agentCmdConfig.StorageNodeID, agentCmdConfig.PopulateDelay),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = serv.Close()
	}()

	return serv.Serve()
}
