package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the raft store backend)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the raft settings to a Dragonboat shard Config
func (c *RaftConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *RaftConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Shared configuration structs
// --------------------------------------------------------------------------

// StoreBackend selects where the admin service persists plans and metadata.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
	StoreRaft     StoreBackend = "raft"
)

// RaftConfig holds the parameters of the replicated store backend.
type RaftConfig struct {
	ShardID            uint64
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	TimeoutSecond      int64
}

// TCPConf holds socket options for the tcp transport
type TCPConf struct {
	NoDelay         bool
	KeepAliveSec    int
	LingerSec       int
	WriteBufferSize int
	ReadBufferSize  int
}

// --------------------------------------------------------------------------
// Admin service configuration struct
// --------------------------------------------------------------------------

// EngineConfig holds the plan engine parameters.
type EngineConfig struct {
	Workers              int
	Parallelism          int
	BroadcastParallelism int
	MaxRetries           int
	UnreachableDelay     time.Duration
	PollInitial          time.Duration
	PollMax              time.Duration
	PollTimeout          time.Duration
	LeaseTTL             time.Duration
	ExecutorInterval     time.Duration
}

// AdminConfig holds all configuration parameters of the admin service.
type AdminConfig struct {
	// Persistence
	Store    StoreBackend
	StoreDSN string
	Raft     RaftConfig

	// Plan engine
	Engine EngineConfig

	// Storage node agent connections
	Serializer string
	Transport  string
	Client     ClientConfig

	// HTTP endpoint for /metrics and /healthz, disabled when empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *AdminConfig) String() string {
	w := &configWriter{}

	w.section("Store")
	w.field("Backend", string(c.Store))
	if c.Store == StoreSQLite || c.Store == StorePostgres {
		w.field("DSN", redactDSN(c.StoreDSN))
	}
	if c.Store == StoreRaft {
		w.field("Shard ID", strconv.FormatUint(c.Raft.ShardID, 10))
		w.field("Replica ID", strconv.FormatUint(c.Raft.ReplicaID, 10))
		w.field("RAFT Address", c.Raft.ClusterMembers[c.Raft.ReplicaID])
		w.field("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.Raft.RTTMillisecond))
		w.field("Election RTT (ms)", fmt.Sprintf("%d", c.Raft.RTTMillisecond*electionRTTFactor))
		w.field("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.Raft.RTTMillisecond*heartbeatRTTFactor))
		w.field("Snapshot Entries", fmt.Sprintf("%d", c.Raft.SnapshotEntries))
		w.field("Compaction Overhead", fmt.Sprintf("%d", c.Raft.CompactionOverhead))
		w.field("Timeout", fmt.Sprintf("%d sec", c.Raft.TimeoutSecond))
		w.field("Data Directory", c.Raft.DataDir)

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.Raft.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			w.field(fmt.Sprintf("Member %d", k), c.Raft.ClusterMembers[k])
		}
	}

	w.section("Plan Engine")
	w.field("Workers", strconv.Itoa(c.Engine.Workers))
	w.field("Parallelism", strconv.Itoa(c.Engine.Parallelism))
	w.field("Broadcast Parallelism", strconv.Itoa(c.Engine.BroadcastParallelism))
	w.field("Max Retries", strconv.Itoa(c.Engine.MaxRetries))
	w.field("Unreachable Delay", c.Engine.UnreachableDelay.String())
	w.field("Poll Interval", fmt.Sprintf("%s .. %s", c.Engine.PollInitial, c.Engine.PollMax))
	w.field("Poll Timeout", c.Engine.PollTimeout.String())
	w.field("Lease TTL", c.Engine.LeaseTTL.String())
	w.field("Executor Interval", c.Engine.ExecutorInterval.String())

	w.section("Node Agents")
	w.field("Transport", c.Transport)
	w.field("Serializer", c.Serializer)
	w.field("Timeout", fmt.Sprintf("%d sec", c.Client.TimeoutSecond))
	w.field("Retry Count", strconv.Itoa(c.Client.RetryCount))

	w.section("Observability")
	w.field("Metrics Endpoint", orNone(c.MetricsEndpoint))
	w.field("Log Level", c.LogLevel)

	return w.String()
}

// --------------------------------------------------------------------------
// Storage node agent configuration struct
// --------------------------------------------------------------------------

// AgentConfig holds the configuration of a storage node agent.
type AgentConfig struct {
	StorageNodeID string
	Endpoint      string
	Serializer    string
	Transport     string
	TimeoutSecond int64

	// WorkersPerConn limits concurrent requests per tcp connection
	WorkersPerConn int
	// PopulateDelay is how long the agent takes to populate a new index
	PopulateDelay time.Duration

	TCP TCPConf

	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *AgentConfig) String() string {
	w := &configWriter{}

	w.section("Node Agent")
	w.field("Storage Node", c.StorageNodeID)
	w.field("Endpoint", c.Endpoint)
	w.field("Transport", c.Transport)
	w.field("Serializer", c.Serializer)
	w.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	w.field("Index Population", c.PopulateDelay.String())

	w.section("Logging")
	w.field("Log Level", c.LogLevel)

	return w.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures the connection to one storage node agent.
type ClientConfig struct {
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	TCP                    TCPConf
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	w := &configWriter{}

	w.section("Client Configuration")
	w.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	w.field("Retry Count", strconv.Itoa(c.RetryCount))
	w.field("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	return w.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// configWriter renders configuration in titled sections of aligned fields
type configWriter struct {
	sb strings.Builder
}

func (w *configWriter) section(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (w *configWriter) field(name, value string) {
	w.sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
}

func (w *configWriter) String() string {
	return w.sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// redactDSN hides the password of a postgres url
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
