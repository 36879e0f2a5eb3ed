// Package cmd is the command line of the vulnerability reporter. One binary
// serves the api, scanner and reporter roles and can also run the whole
// pipeline in-process.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/config"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/metrics"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/pprof"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

const metricsNamespace = "uds_vuln_reporter"

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

// app is the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	logger  types.Logger
	metrics metrics.Collector
}

// Execute is the main entry point of the command line.
func Execute(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	return (&app{v: config.NewViper()}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uds-vuln-reporter",
		Short: "Scan container images for vulnerabilities and publish PDF reports",
		Long: `uds-vuln-reporter resolves container images, scans them with an external scanner,
stores the raw results and renders PDF reports with severity trends.
Settings are read from the environment; flags override them.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				log.Sync(a.logger)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "Log level. options: debug|info|warn|error")
	flags.String("pprof-addr", "", "Serve pprof on this address when set, e.g. localhost:6060")
	flags.StringSliceP("registry-creds", "r", []string{},
		`List of registry credentials in the format 'registry:username:password'.
Example: 'registry1.dso.mil:myuser:mypassword'`)
	flags.String("docstore-backend", config.DocstoreFirestore, "Document store. options: firestore|sqlite|postgres|cloudsql")
	flags.String("db-path", "reports.db", "Path of the SQLite database")
	flags.String("blobstore-backend", config.BlobstoreGCS, "Blob store. options: gcs|filesystem")
	flags.String("blobstore-root", "", "Root directory of the filesystem blob store")
	bindFlags(a.v, flags)

	rootCmd.AddCommand(
		newServeCmd(a),
		newScanCmd(a),
		newReportCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// bindFlags makes every flag in flags a setting named like the flag with
// underscores, so --db-path overrides DB_PATH.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f) //nolint:errcheck
	})
}

// setup loads the configuration and installs the logger and metrics of the run.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	logger, err := log.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger

	ctx := log.WithLogger(cmd.Context(), logger)
	a.metrics = metrics.New(metricsNamespace)
	if err := metrics.RegisterPipelineMetrics(ctx, a.metrics); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	if cfg.PprofAddr != "" {
		go func() {
			if err := pprof.StartPprofServer(ctx, cfg.PprofAddr); err != nil {
				logger.Error("pprof server failed", zap.Error(err))
			}
		}()
	}
	cmd.SetContext(ctx)
	return nil
}
