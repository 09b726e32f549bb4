package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/hal"
	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/sierrasoftworks/humane-errors-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(cmdSet)
}

var cmdSet = &cobra.Command{
	Use:   "set <speed> [speed2]",
	Short: "Take the fans from the BIOS and run them at a fixed speed",
	Long: "Each speed is either a raw duty value between 0 and the fan maximum, or a percentage such as 60%.\n" +
		"With a single speed both fans use it.",
	Example: "sudo omen-fan set 60%\nsudo omen-fan set 30 45",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := configFromContext(ctx)

		fan1, err := parseSpeed(args[0], ec.Fan1MaxDuty)
		if err != nil {
			return err
		}
		fan2Arg := args[0]
		if len(args) == 2 {
			fan2Arg = args[1]
		}
		fan2, err := parseSpeed(fan2Arg, ec.Fan2MaxDuty)
		if err != nil {
			return err
		}

		if status, pid, ierr := pidfile.New(cfg.Daemon.PidFile).Inspect(ctx); ierr == nil && status == pidfile.Running {
			log.FromContext(ctx).Warn("omen-fand is running and will override this speed on its next tick",
				zap.Int("pid", pid))
			fmt.Printf("Warning: omen-fand (PID %d) is running, stop it with 'omen-fan service stop' to keep this speed\n", pid)
		}

		fanHal, err := openHal(ctx, cfg)
		if err != nil {
			return err
		}
		defer fanHal.Close()

		if err := fanHal.SetBiosControl(false); err != nil {
			return humane.Wrap(err, "failed to disable BIOS fan control")
		}
		if err := fanHal.SetFanDuty(fan1, fan2); err != nil {
			return humane.Wrap(err, "failed to write fan duty")
		}

		fmt.Printf("Fan 1 duty set to %d/%d, fan 2 duty set to %d/%d\n", fan1, ec.Fan1MaxDuty, fan2, ec.Fan2MaxDuty)
		return nil
	},
}

// parseSpeed accepts a raw duty ("30") or a percentage ("50%") for a fan whose
// maximum duty is maxDuty.
func parseSpeed(arg string, maxDuty byte) (byte, humane.Error) {
	if pct, ok := strings.CutSuffix(arg, "%"); ok {
		percent, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || percent < 0 || percent > 100 {
			return 0, humane.New(fmt.Sprintf("invalid speed %q", arg),
				"percentages must be between 0% and 100%",
			)
		}
		return hal.DutyFromPercent(maxDuty, percent), nil
	}

	duty, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || duty < 0 || duty > int(maxDuty) {
		return 0, humane.New(fmt.Sprintf("invalid speed %q", arg),
			fmt.Sprintf("raw speeds must be whole numbers between 0 and %d", maxDuty),
			"append % to give a percentage instead, e.g. 60%",
		)
	}
	return byte(duty), nil
}
