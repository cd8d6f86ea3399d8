package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/plan"
	"github.com/ValentinKolb/dkv-admin/lib/sched"
	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/ValentinKolb/dkv-admin/lib/store/dstore"
	"github.com/ValentinKolb/dkv-admin/lib/store/lstore"
	"github.com/ValentinKolb/dkv-admin/lib/store/sqlstore"
	"github.com/ValentinKolb/dkv-admin/lib/task"
	"github.com/ValentinKolb/dkv-admin/rpc/client"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
)

const defaultSQLiteFile = "dkvadmin.db"

var log = logger.GetLogger("admin")

// Admin bundles the services of an admin process
type Admin struct {
	Config      *common.AdminConfig
	Store       store.IStore
	Metadata    *metadata.Store
	Broadcaster *cluster.Broadcaster
	Dialer      *client.Dialer
	Scheduler   *sched.Scheduler
	Executor    *plan.Executor
	Registry    gometrics.Registry

	closeStore func() error
}

// OpenAdmin opens the configured store and wires the plan engine on top of it
func OpenAdmin(ctx context.Context, conf *common.AdminConfig) (*Admin, error) {
	s, err := serializer.ByName(conf.Serializer)
	if err != nil {
		return nil, err
	}
	newTransport, err := GetClientTransportFactory()
	if err != nil {
		return nil, err
	}

	st, closeStore, err := OpenStore(ctx, conf)
	if err != nil {
		return nil, err
	}

	a := &Admin{
		Config:     conf,
		Store:      st,
		Metadata:   metadata.NewStore(st),
		Dialer:     client.NewDialer(conf.Client, newTransport, s),
		Registry:   gometrics.NewRegistry(),
		closeStore: closeStore,
	}
	a.Broadcaster = cluster.NewBroadcaster(a.Metadata, a.Dialer, conf.Engine.BroadcastParallelism)

	params := task.DefaultParams()
	if conf.Engine.MaxRetries > 0 {
		params.MaxRetries = conf.Engine.MaxRetries
	}
	if conf.Engine.UnreachableDelay > 0 {
		params.UnreachableDelay = conf.Engine.UnreachableDelay
	}
	if conf.Engine.PollInitial > 0 {
		params.PollInitial = conf.Engine.PollInitial
	}
	if conf.Engine.PollMax > 0 {
		params.PollMax = conf.Engine.PollMax
	}
	params.PollTimeout = conf.Engine.PollTimeout

	env := &task.Env{
		Metadata:    a.Metadata,
		Broadcaster: a.Broadcaster,
		Dialer:      a.Dialer,
		Params:      params,
	}

	a.Scheduler = sched.New(conf.Engine.Workers, a.Registry)
	a.Executor = plan.NewExecutor(
		plan.Config{
			LeaseTTL:    conf.Engine.LeaseTTL,
			Parallelism: conf.Engine.Parallelism,
			Interval:    conf.Engine.ExecutorInterval,
		},
		plan.NewStore(st),
		// shared so that the CLI and a running service exclude each other
		lockmgr.NewSharedTable(st),
		lockmgr.NewLeaseManager(st),
		a.Scheduler,
		env,
		a.Registry,
	)
	return a, nil
}

// Close interrupts running plans and releases all resources
func (a *Admin) Close() error {
	a.Executor.Shutdown()
	a.Scheduler.Close()
	a.Dialer.Close()
	if a.closeStore != nil {
		return a.closeStore()
	}
	return nil
}

// OpenStore opens the configured store backend. The returned function closes it.
func OpenStore(ctx context.Context, conf *common.AdminConfig) (store.IStore, func() error, error) {
	timeout := time.Duration(conf.Raft.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	switch conf.Store {
	case common.StoreMemory:
		return openMemoryStore(conf.StoreDSN)

	case common.StoreSQLite, common.StorePostgres:
		dialect, err := sqlstore.DialectByName(string(conf.Store))
		if err != nil {
			return nil, nil, err
		}
		dsn := conf.StoreDSN
		if dsn == "" {
			if conf.Store == common.StorePostgres {
				return nil, nil, fmt.Errorf("store-dsn is required for the postgres store")
			}
			dsn = defaultSQLiteFile
		}
		s, err := sqlstore.Open(ctx, dialect, dsn, timeout)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("opened %s store", dialect.Name)
		return s, s.Close, nil

	case common.StoreRaft:
		nh, err := dragonboat.NewNodeHost(conf.Raft.ToNodeHostConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create node host: %w", err)
		}
		if err := nh.StartConcurrentReplica(conf.Raft.ClusterMembers, false, dstore.CreateStateMachineFactory(), conf.Raft.ToDragonboatConfig()); err != nil {
			nh.Close()
			return nil, nil, fmt.Errorf("failed to start shard %d: %w", conf.Raft.ShardID, err)
		}
		log.Infof("started raft replica %d of shard %d", conf.Raft.ReplicaID, conf.Raft.ShardID)
		closer := func() error {
			nh.Close()
			return nil
		}
		return dstore.NewDistributedStore(nh, conf.Raft.ShardID, timeout), closer, nil

	default:
		return nil, nil, fmt.Errorf("invalid store %q", conf.Store)
	}
}

// openMemoryStore creates an in-memory store. With a snapshot file the content is
// loaded on open and written back on close.
func openMemoryStore(snapshot string) (store.IStore, func() error, error) {
	s := lstore.NewLocalStore()
	if snapshot == "" {
		return s, func() error { return nil }, nil
	}

	f, err := os.Open(snapshot)
	switch {
	case err == nil:
		err = s.Load(f)
		_ = f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load snapshot %s: %w", snapshot, err)
		}
		log.Infof("loaded memory store snapshot %s", snapshot)
	case !os.IsNotExist(err):
		return nil, nil, err
	}

	closer := func() error {
		tmp, err := os.CreateTemp(filepath.Dir(snapshot), filepath.Base(snapshot)+".*")
		if err != nil {
			return err
		}
		var result *multierror.Error
		result = multierror.Append(result, s.Save(tmp))
		result = multierror.Append(result, tmp.Close())
		if err := result.ErrorOrNil(); err != nil {
			_ = os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), snapshot)
	}
	return s, closer, nil
}

// RunWithAdmin reads the configuration of cmd, opens the admin services, runs fn
// and closes them again. It is the body of every short-lived admin command.
func RunWithAdmin(cmd *cobra.Command, fn func(ctx context.Context, a *Admin) error) error {
	if err := BindCommandFlags(cmd); err != nil {
		return err
	}
	conf, err := GetAdminConfig()
	if err != nil {
		return err
	}
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := OpenAdmin(ctx, conf)
	if err != nil {
		return err
	}
	var result *multierror.Error
	result = multierror.Append(result, fn(ctx, a))
	result = multierror.Append(result, a.Close())
	if result.Len() == 1 {
		return result.Errors[0]
	}
	return result.ErrorOrNil()
}
