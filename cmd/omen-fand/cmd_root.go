package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/omen-fan/omen-fan/internal/daemon"
	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/fandconfig"
	"github.com/omen-fan/omen-fan/pkg/hal"
	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var configPath string

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", fandconfig.DefaultPath, "Path to the configuration file")
	rootCmd.Flags().String("log-level", "info", "Log level, overrides log_level in the [daemon] section")
	rootCmd.Flags().String("metrics-listen", "", "Serve prometheus metrics on this address, overrides metrics_listen")
	rootCmd.Flags().String("pid-file", "", "Liveness token path, overrides pid_file")
	rootCmd.Flags().Bool("bypass-device-check", false, "Skip the DMI product name check")
}

var rootCmd = &cobra.Command{
	Use:           "omen-fand",
	Short:         "omen-fand drives the fans of an HP OMEN laptop from a temperature curve",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := fandconfig.NewViper(configPath)
		if err := fandconfig.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		return run(cmd.Context(), v)
	},
}

// run walks through STARTING. Everything up to signal handler installation may fail
// without side effects on the EC registers.
func run(ctx context.Context, v *viper.Viper) error {
	if err := ec.RequireRoot(); err != nil {
		return err
	}

	cfg, err := fandconfig.Load(v)
	if err != nil {
		return err
	}

	logger, lerr := log.New(cfg.Daemon.LogLevel)
	if lerr != nil {
		return lerr
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	ctx = log.IntoContext(ctx, logger)

	logger.Info("Starting omen-fand",
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("date", Date),
		zap.String("config", v.ConfigFileUsed()),
	)

	fanController, err := cfg.FanController()
	if err != nil {
		return err
	}

	fanHal, err := hal.NewHal(ctx, hal.FanHalOpts{
		IOFile:            cfg.Daemon.ECIOFile,
		BypassDeviceCheck: cfg.Script.BypassDeviceCheck,
	})
	if err != nil {
		return err
	}
	defer fanHal.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	d := daemon.New(fanHal, fanController,
		daemon.WithPollInterval(cfg.PollDuration()),
		daemon.WithToken(pidfile.New(cfg.Daemon.PidFile)),
		daemon.WithPID(os.Getpid()),
		daemon.WithMetricsListen(cfg.Daemon.MetricsListen),
	)

	if err := d.Run(ctx); err != nil {
		logger.Error("Fan control loop failed", log.ErrorFields(err)...)
		return err
	}

	logger.Info("Exiting", zap.String("state", d.State().String()))
	return nil
}
