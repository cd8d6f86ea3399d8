package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dkv-admin/rpc/client"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/ValentinKolb/dkv-admin/rpc/transport/http"
	"github.com/ValentinKolb/dkv-admin/rpc/transport/tcp"
	"github.com/cespare/xxhash/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. DKVADMIN_STORE)
	EnvPrefix = "dkvadmin"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DKVADMIN_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupAdminFlags adds the flags every command touching the admin store needs
func SetupAdminFlags(cmd *cobra.Command, logLevel string) {
	key := "store"
	cmd.PersistentFlags().String(key, string(common.StoreSQLite), WrapString("Where plans and metadata are persisted (memory, sqlite, postgres, raft)"))

	key = "store-dsn"
	cmd.PersistentFlags().String(key, "", WrapString("Data source of the store: the database file for sqlite (default dkvadmin.db), a connection url for postgres, an optional snapshot file for memory"))

	key = "log-level"
	cmd.PersistentFlags().String(key, logLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	// raft backend

	key = "shard-id"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("(raft store) Shard that replicates the admin store"))

	key = "replica-id"
	cmd.PersistentFlags().String(key, "", WrapString("(raft store) ReplicaID is the unique name of this admin replica (e.g. 'admin-1')"))

	key = "cluster-members"
	cmd.PersistentFlags().String(key, "", WrapString("(raft store) Comma-separated list of admin replicas in the format 'admin-1=localhost:63001,admin-2=localhost:63002,...'"))

	key = "rtt-millisecond"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("(raft store) Average round trip time between two replicas, election and heartbeat timeouts are derived from it"))

	key = "snapshot-entries"
	cmd.PersistentFlags().Uint64(key, 100, WrapString("(raft store) Applied log entries between two snapshots, 0 disables snapshots (not recommended)"))

	key = "compaction-overhead"
	cmd.PersistentFlags().Uint64(key, 50, WrapString("(raft store) Log entries kept after a snapshot"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("(raft store) Directory of the raft log and snapshots"))

	key = "store-timeout"
	cmd.PersistentFlags().Int64(key, 5, WrapString("Timeout in seconds of a single store operation"))

	// plan engine

	key = "workers"
	cmd.PersistentFlags().Int(key, 8, WrapString("Scheduler workers running jobs of all plans"))

	key = "parallelism"
	cmd.PersistentFlags().Int(key, 8, WrapString("Maximum concurrently running nodes of one parallel task list, 0 means no limit"))

	key = "broadcast-parallelism"
	cmd.PersistentFlags().Int(key, 16, WrapString("Storage nodes contacted concurrently when metadata is broadcast"))

	key = "max-retries"
	cmd.PersistentFlags().Int(key, 10, WrapString("Retries of a node call failing because the node is unreachable"))

	key = "unreachable-delay"
	cmd.PersistentFlags().Duration(key, 5*time.Second, WrapString("Delay between retries of an unreachable node"))

	key = "poll-initial"
	cmd.PersistentFlags().Duration(key, 500*time.Millisecond, WrapString("First interval of wait-and-poll jobs, doubled after every poll"))

	key = "poll-max"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("Maximum interval of wait-and-poll jobs"))

	key = "poll-timeout"
	cmd.PersistentFlags().Duration(key, 30*time.Minute, WrapString("A wait-and-poll job fails after this long, 0 waits forever"))

	key = "lease-ttl"
	cmd.PersistentFlags().Duration(key, time.Minute, WrapString("How long a crashed admin process blocks the plans it was running, running plans renew their lease every third of it"))

	key = "executor-interval"
	cmd.PersistentFlags().Duration(key, 2*time.Second, WrapString("How often the admin service looks for approved plans"))

	SetupRPCClientFlags(cmd)
}

// SetupRPCClientFlags adds the flags of the connections to the node agents
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of a call to a node agent"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per node agent (tcp only)"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times the transport retries a request before the node counts as unreachable"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB, ignored for http)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds)"))
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// GetClientConfig reads the node agent client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("transport-retries"),
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
		TCP:                    getTCPConf(),
	}
}

func getTCPConf() common.TCPConf {
	return common.TCPConf{
		NoDelay:         viper.GetBool("transport-tcp-nodelay"),
		KeepAliveSec:    viper.GetInt("transport-tcp-keepalive"),
		LingerSec:       viper.GetInt("transport-tcp-linger"),
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
	}
}

// GetAdminConfig reads the admin configuration from viper
func GetAdminConfig() (*common.AdminConfig, error) {
	conf := &common.AdminConfig{
		Store:    common.StoreBackend(strings.ToLower(viper.GetString("store"))),
		StoreDSN: viper.GetString("store-dsn"),
		Raft: common.RaftConfig{
			ShardID:            viper.GetUint64("shard-id"),
			RTTMillisecond:     viper.GetUint64("rtt-millisecond"),
			SnapshotEntries:    viper.GetUint64("snapshot-entries"),
			CompactionOverhead: viper.GetUint64("compaction-overhead"),
			DataDir:            viper.GetString("data-dir"),
			TimeoutSecond:      viper.GetInt64("store-timeout"),
		},
		Engine: common.EngineConfig{
			Workers:              viper.GetInt("workers"),
			Parallelism:          viper.GetInt("parallelism"),
			BroadcastParallelism: viper.GetInt("broadcast-parallelism"),
			MaxRetries:           viper.GetInt("max-retries"),
			UnreachableDelay:     viper.GetDuration("unreachable-delay"),
			PollInitial:          viper.GetDuration("poll-initial"),
			PollMax:              viper.GetDuration("poll-max"),
			PollTimeout:          viper.GetDuration("poll-timeout"),
			LeaseTTL:             viper.GetDuration("lease-ttl"),
			ExecutorInterval:     viper.GetDuration("executor-interval"),
		},
		Serializer:      viper.GetString("serializer"),
		Transport:       viper.GetString("transport"),
		Client:          GetClientConfig(),
		MetricsEndpoint: viper.GetString("metrics-endpoint"),
		LogLevel:        viper.GetString("log-level"),
	}

	switch conf.Store {
	case common.StoreMemory, common.StoreSQLite, common.StorePostgres:
	case common.StoreRaft:
		if err := parseRaftMembers(&conf.Raft, viper.GetString("replica-id"), viper.GetString("cluster-members")); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid store %q (expected one of: memory, sqlite, postgres, raft)", conf.Store)
	}
	return conf, nil
}

// parseRaftMembers sets the replica id and the members of the raft store. Replica
// names are hashed into the numeric ids dragonboat expects.
func parseRaftMembers(conf *common.RaftConfig, replicaID, members string) error {
	if replicaID == "" {
		return fmt.Errorf("replica-id is required for the raft store")
	}
	if members == "" {
		return fmt.Errorf("cluster-members is required for the raft store")
	}
	conf.ReplicaID = ReplicaIDOf(replicaID)
	conf.ClusterMembers = make(map[uint64]string)
	for _, member := range strings.Split(members, ",") {
		parts := strings.Split(strings.TrimSpace(member), "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid cluster member format: %s (expected name=address)", member)
		}
		conf.ClusterMembers[ReplicaIDOf(parts[0])] = parts[1]
	}

	// test if the replica id is in the cluster members
	if _, ok := conf.ClusterMembers[conf.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica %s in cluster members", replicaID)
	}
	return nil
}

// ReplicaIDOf maps a replica name to a raft replica id (never 0)
func ReplicaIDOf(name string) uint64 {
	id := xxhash.Sum64String(strings.ToLower(name))
	if id == 0 {
		id = 1
	}
	return id
}

// --------------------------------------------------------------------------
// Factories
// --------------------------------------------------------------------------

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetClientTransportFactory returns the constructor of the configured client transport
func GetClientTransportFactory() (client.TransportFactory, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport, nil
	case "tcp":
		return tcp.NewTCPClientTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the configured server transport
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}
