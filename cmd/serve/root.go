package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store/fstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dDoc server",
		Long:    `Start the dDoc server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_DATA_DIR=/var/lib/ddoc)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig()

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("The address on which the server will listen (host:port for tcp, socket path for unix)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, defaults.DataDir, cmdUtil.WrapString("Directory holding one <collection>.dat file per collection. Created if missing"))

	key = "sync-writes"
	ServeCmd.PersistentFlags().Bool(key, defaults.SyncWrites, cmdUtil.WrapString("fsync every write before acknowledging it. Disabling this is faster but may lose acknowledged writes on power loss"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Uint32(key, defaults.MaxFrameSize, cmdUtil.WrapString("Largest accepted request payload in bytes. Larger frames close the connection"))

	key = "max-connections"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxConnections, cmdUtil.WrapString("Maximum number of concurrent client connections, 0 means unbounded. Connections above the limit are closed immediately"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Idle timeout in seconds after which a silent connection is closed, 0 disables it"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.MetricsEndpoint, cmdUtil.WrapString("Address for the Prometheus /metrics endpoint (e.g. localhost:9100). Empty disables it"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.SyncWrites = viper.GetBool("sync-writes")
	serveCmdConfig.MaxFrameSize = viper.GetUint32("max-frame-size")
	serveCmdConfig.MaxConnections = viper.GetInt("max-connections")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// Init logger
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the dDoc server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	// One set for store and request metrics
	set := metrics.NewSet()

	st, err := fstore.NewStore(fstore.Options{
		Fs:         afero.NewOsFs(),
		Dir:        serveCmdConfig.DataDir,
		SyncWrites: serveCmdConfig.SyncWrites,
		Metrics:    set,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serv := server.NewRPCServer(*serveCmdConfig, t, st, set)
	return serv.Serve(ctx)
}
