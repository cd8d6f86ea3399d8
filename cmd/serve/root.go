package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dkv-admin/cmd/util"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/fatih/color"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	log = logger.GetLogger("admin")

	serveCmdConfig = &common.AdminConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the admin service",
		Long: `Start the admin service. It recovers plans left running by a previous process and
executes every approved plan. The configuration can be set via command line flags or environment
variables. The format of the environment variables is DKVADMIN_<flag> (e.g. DKVADMIN_STORE=postgres)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupAdminFlags(ServeCmd, "info")

	key := "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "127.0.0.1:9190", cmdUtil.WrapString("Address of the HTTP endpoint serving /metrics and /healthz, empty to disable"))

	key = "stats-interval"
	ServeCmd.PersistentFlags().Duration(key, time.Minute, cmdUtil.WrapString("How often engine statistics are logged, 0 to disable"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	conf, err := cmdUtil.GetAdminConfig()
	if err != nil {
		return err
	}
	*serveCmdConfig = *conf
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the admin service and blocks until SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.New(color.Bold).Printf("dkvadmin %s\n", cmd.Root().Version)
	fmt.Print(serveCmdConfig.String())
	fmt.Println()

	admin, err := cmdUtil.OpenAdmin(ctx, serveCmdConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := admin.Close(); err != nil {
			log.Errorf("failed to close admin store: %v", err)
		}
	}()

	if serveCmdConfig.MetricsEndpoint != "" {
		srv := &http.Server{Addr: serveCmdConfig.MetricsEndpoint, Handler: metricsHandler(admin)}
		go func() {
			log.Infof("serving metrics on http://%s/metrics", serveCmdConfig.MetricsEndpoint)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics endpoint failed: %v", err)
			}
		}()
		defer srv.Close()
	}

	if interval, _ := cmd.Flags().GetDuration("stats-interval"); interval > 0 {
		go logStats(ctx, admin, interval)
	}

	log.Infof("admin service started")
	err = admin.Executor.RunApproved(ctx)
	log.Infof("admin service stopped")
	return err
}

func logStats(ctx context.Context, admin *cmdUtil.Admin, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Infof("executor: %s", admin.Executor.Stats())
			log.Infof("scheduler: %s", admin.Scheduler.Stats())
		}
	}
}
