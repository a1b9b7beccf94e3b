package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/vigil/internal/config"
	"github.com/andresmejia3/vigil/internal/input"
	"github.com/andresmejia3/vigil/internal/logging"
	"github.com/andresmejia3/vigil/internal/metrics"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds the persistent flags. Empty values fall back to the
// environment (see config.Load).
type rootOptions struct {
	DBURL       string
	LogLevel    string
	LogFile     string
	MetricsAddr string
	Region      string
	OutputDir   string
}

var (
	rootOpts rootOptions

	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// Logger is the process logger
	Logger *zap.Logger
	// Metrics collects live session counters
	Metrics *metrics.Metrics
	// DB is opened on first use by commands that need the session ledger
	DB *store.Store

	// Console output is routed through these so it stays readable while the
	// terminal is in raw mode.
	stdout = input.NewNewlineWriter(os.Stdout)
	stderr = input.NewNewlineWriter(os.Stderr)
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "vigil",
	Short:         "Live camera analysis with periodic face and label detection",
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		Cfg = config.Load()
		applyOverrides(Cfg, rootOpts)

		var err error
		Logger, err = logging.New(logging.Config{
			Level:     Cfg.LogLevel,
			File:      Cfg.LogFile,
			MaxSizeMB: Cfg.LogMaxMB,
			Writer:    stderr,
		})
		if err != nil {
			return errors.Wrap(err, "configuring logging")
		}

		Metrics = metrics.New()
		if Cfg.MetricsAddr != "" {
			go Metrics.Serve(cmd.Context(), Cfg.MetricsAddr, Logger.Named("metrics"))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C
			DB.Close(context.Background())
			DB = nil
		}
		if Logger != nil {
			Logger.Sync()
		}
	},
}

func applyOverrides(c *config.Config, o rootOptions) {
	if o.DBURL != "" {
		c.DBURL = o.DBURL
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	if o.MetricsAddr != "" {
		c.MetricsAddr = o.MetricsAddr
	}
	if o.Region != "" {
		c.Region = o.Region
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
}

// openStore connects to the session ledger. Commands that cannot work without
// it pass required=true; otherwise an unconfigured ledger yields nil.
func openStore(ctx context.Context, required bool) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	url := Cfg.DBURL
	if url == "" {
		if !required {
			return nil, nil
		}
		url = config.DefaultDBURL
	}
	s, err := store.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	DB = s
	return DB, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.ShowError(fmt.Sprintf("%s failed", rootCmd.Name()), err, nil)
		stop()
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootOpts.DBURL, "db", "", "PostgreSQL connection string for the session ledger (env: VIGIL_DB_URL or POSTGRES_*)")
	f.StringVar(&rootOpts.LogLevel, "log-level", "", "Log level: debug, info, warn, error (env: VIGIL_LOG_LEVEL)")
	f.StringVar(&rootOpts.LogFile, "log-file", "", "Also write logs to this file, rotated (env: VIGIL_LOG_FILE)")
	f.StringVar(&rootOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (env: VIGIL_METRICS_ADDR)")
	f.StringVar(&rootOpts.Region, "region", "", "AWS region for Rekognition and S3 (env: AWS_REGION)")
	f.StringVar(&rootOpts.OutputDir, "output-dir", "", "Directory for saved visualizations and charts (env: VIGIL_OUTPUT_DIR)")
}
