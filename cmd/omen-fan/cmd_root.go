package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/fandconfig"
	"github.com/omen-fan/omen-fan/pkg/hal"
	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/sierrasoftworks/humane-errors-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string
	stopSignal context.CancelFunc
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", fandconfig.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level of diagnostic output on stderr")
}

var rootCmd = &cobra.Command{
	Use:           "omen-fan",
	Short:         "omen-fan starts, stops and inspects omen-fand and sets static fan speeds",
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		ctx, err := setupContext(cmd.Context())
		if err != nil {
			return err
		}

		cfg, herr := fandconfig.Load(fandconfig.NewViper(configPath))
		if herr != nil {
			return herr
		}

		cmd.SetContext(configIntoContext(ctx, cfg))
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if stopSignal != nil {
			stopSignal()
		}
	},
}

// setupContext attaches the logger and cancels the context on SIGINT or SIGTERM.
func setupContext(origCtx context.Context) (context.Context, error) {
	logger, err := log.New(logLevel)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(log.IntoContext(origCtx, logger), syscall.SIGINT, syscall.SIGTERM)
	stopSignal = stop
	return ctx, nil
}

// openHal prepares the EC for a one-shot operation, loading ec_sys if needed.
func openHal(ctx context.Context, cfg *fandconfig.Config) (hal.FanHal, humane.Error) {
	if err := ec.RequireRoot(); err != nil {
		return nil, err
	}

	return hal.NewHal(ctx, hal.FanHalOpts{
		IOFile:            cfg.Daemon.ECIOFile,
		BypassDeviceCheck: cfg.Script.BypassDeviceCheck,
	})
}
