package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/fandconfig"
	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/sierrasoftworks/humane-errors-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	daemonName   = "omen-fand"
	startTimeout = 10 * time.Second
	stopTimeout  = 10 * time.Second
	pollEvery    = 100 * time.Millisecond
)

var daemonBinary string

func init() {
	cmdServiceStart.Flags().StringVar(&daemonBinary, "daemon", "", "Path to the omen-fand binary (default: next to omen-fan, then $PATH)")

	cmdService.AddCommand(cmdServiceStart)
	cmdService.AddCommand(cmdServiceStop)
	rootCmd.AddCommand(cmdService)
}

var (
	cmdService = &cobra.Command{
		Use:     "service",
		Aliases: []string{"svc"},
		Short:   "Start or stop the omen-fand fan control daemon",
	}

	cmdServiceStart = &cobra.Command{
		Use:     "start",
		Aliases: []string{"1"},
		Short:   "Start omen-fand in the background unless it is already running",
		Example: "sudo omen-fan service start",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return startDaemon(ctx, configFromContext(ctx))
		},
	}

	cmdServiceStop = &cobra.Command{
		Use:     "stop",
		Aliases: []string{"0"},
		Short:   "Stop omen-fand and hand the fans back to the BIOS",
		Example: "sudo omen-fan service stop",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return stopDaemon(ctx, configFromContext(ctx))
		},
	}
)

func startDaemon(ctx context.Context, cfg *fandconfig.Config) error {
	if err := ec.RequireRoot(); err != nil {
		return err
	}

	token := pidfile.New(cfg.Daemon.PidFile)
	status, pid, err := token.Inspect(ctx)
	if err != nil {
		return err
	}

	switch status {
	case pidfile.Running:
		fmt.Printf("%s is already running (PID %d)\n", daemonName, pid)
		return nil
	case pidfile.Stale:
		log.FromContext(ctx).Warn("Removing stale liveness token", zap.String("token", token.Path), zap.Int("pid", pid))
		if err := token.Remove(); err != nil {
			return humane.Wrap(err, "failed to remove stale liveness token "+token.Path)
		}
	}

	bin, herr := findDaemonBinary()
	if herr != nil {
		return herr
	}

	proc := exec.Command(bin, "--config", configPath)
	// Own session, so the daemon survives the terminal that started it
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return humane.Wrap(err, "failed to start "+bin)
	}
	_ = proc.Process.Release()

	err = waitFor(ctx, startTimeout, func() (bool, error) {
		s, _, err := token.Inspect(ctx)
		return s == pidfile.Running, err
	})
	if err != nil {
		return humane.Wrap(err, daemonName+" did not come up",
			"run '"+bin+" --config "+configPath+"' in the foreground to see why it exits",
		)
	}

	pid, err = token.Read()
	if err != nil {
		return err
	}
	fmt.Printf("%s started (PID %d)\n", daemonName, pid)
	return nil
}

func stopDaemon(ctx context.Context, cfg *fandconfig.Config) error {
	token := pidfile.New(cfg.Daemon.PidFile)
	status, pid, err := token.Inspect(ctx)
	if err != nil {
		return err
	}

	switch status {
	case pidfile.Stopped:
		fmt.Printf("%s is not running\n", daemonName)
		return nil
	case pidfile.Stale:
		return recoverVanishedDaemon(ctx, cfg, token, pid)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return recoverVanishedDaemon(ctx, cfg, token, pid)
		}
		return humane.Wrap(err, fmt.Sprintf("failed to signal %s (PID %d)", daemonName, pid),
			"run as root: sudo omen-fan service stop",
		)
	}

	err = waitFor(ctx, stopTimeout, func() (bool, error) {
		_, serr := os.Stat(token.Path)
		return errors.Is(serr, os.ErrNotExist), nil
	})
	if err != nil {
		return humane.Wrap(err, fmt.Sprintf("%s (PID %d) did not stop", daemonName, pid),
			"check the daemon log, it may be stuck on EC I/O",
		)
	}

	fmt.Printf("%s stopped\n", daemonName)
	return nil
}

// recoverVanishedDaemon cleans up after a daemon that died without its shutdown
// sequence: the token is left behind and the fans are still under manual control.
func recoverVanishedDaemon(ctx context.Context, cfg *fandconfig.Config, token *pidfile.Token, pid int) error {
	fmt.Printf("%s (PID %d) was killed unexpectedly\n", daemonName, pid)

	if err := token.Remove(); err != nil {
		return humane.Wrap(err, "failed to remove stale liveness token "+token.Path)
	}

	fanHal, herr := openHal(ctx, cfg)
	if herr != nil {
		return herr
	}
	defer fanHal.Close()

	if err := fanHal.SetBiosControl(true); err != nil {
		return humane.Wrap(err, "failed to hand fan control back to the BIOS",
			"reboot to reset the embedded controller",
		)
	}

	return humane.New(daemonName+" was killed unexpectedly",
		"BIOS fan control has been restored",
		"check the system journal for the reason the daemon died",
	)
}

func findDaemonBinary() (string, humane.Error) {
	if daemonBinary != "" {
		return daemonBinary, nil
	}

	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), daemonName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	bin, err := exec.LookPath(daemonName)
	if err != nil {
		return "", humane.Wrap(err, "cannot find the "+daemonName+" binary",
			"install "+daemonName+" next to omen-fan or in $PATH",
			"or pass its location with --daemon",
		)
	}
	return bin, nil
}

// waitFor polls cond until it reports true, fails, or timeout elapses.
func waitFor(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
