package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/omen-fan/omen-fan/pkg/hal"
	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/omen-fan/omen-fan/pkg/util"
	"github.com/sierrasoftworks/humane-errors-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const notAvailable = "Not available"

var outputFormat string

func init() {
	cmdStatus.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or yaml")
	rootCmd.AddCommand(cmdStatus)
}

var cmdStatus = &cobra.Command{
	Use:     "status",
	Aliases: []string{"info"},
	Short:   "Show daemon state, BIOS control, fan speeds and fan boost",
	Example: "omen-fan status -o yaml",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg := configFromContext(ctx)

		status, pid, err := pidfile.New(cfg.Daemon.PidFile).Inspect(ctx)
		if err != nil {
			return err
		}

		// The EC is only consulted when no daemon owns it
		var fanHal hal.FanHal
		if status != pidfile.Running {
			if h, herr := openHal(ctx, cfg); herr != nil {
				log.FromContext(ctx).Info("EC not readable, BIOS control state unknown", log.ErrorFields(herr)...)
			} else {
				fanHal = h
				defer fanHal.Close()
			}
		}

		info := collectStatus(status, pid, fanHal, hal.DefaultHwmonGlob)

		switch outputFormat {
		case "yaml":
			out, err := yaml.Marshal(info)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
		case "text":
			fmt.Println(util.PrintKeyValues(buildStatusKeyValues(info)))
		default:
			return humane.New("unknown output format "+outputFormat, "use -o text or -o yaml")
		}
		return nil
	},
}

type statusInfo struct {
	Status      string `yaml:"status"`
	PID         int    `yaml:"pid,omitempty"`
	BiosControl string `yaml:"bios_control"`
	CPUTemp     string `yaml:"cpu_temperature"`
	GPUTemp     string `yaml:"gpu_temperature"`
	Fan1Speed   string `yaml:"fan1_speed"`
	Fan2Speed   string `yaml:"fan2_speed"`
	FanBoost    string `yaml:"fan_boost"`
}

// collectStatus gathers what can be read without disturbing a running daemon. fanHal
// may be nil, in which case register backed fields are reported as not available.
func collectStatus(status pidfile.Status, pid int, fanHal hal.FanHal, hwmonGlob string) statusInfo {
	info := statusInfo{
		Status:      status.String(),
		BiosControl: notAvailable,
		CPUTemp:     notAvailable,
		GPUTemp:     notAvailable,
		Fan1Speed:   notAvailable,
		Fan2Speed:   notAvailable,
		FanBoost:    notAvailable,
	}

	if status != pidfile.Stopped {
		info.PID = pid
	}

	switch {
	case status == pidfile.Running:
		info.BiosControl = "Disabled"
	case fanHal != nil:
		if enabled, err := fanHal.BiosControlEnabled(); err == nil {
			info.BiosControl = enabledLabel(enabled)
		}
	}

	if fanHal != nil {
		if cpu, gpu, err := fanHal.GetTemperatures(); err == nil {
			info.CPUTemp = tempLabel(cpu)
			info.GPUTemp = tempLabel(gpu)
		}
	}

	if rpm, err := hal.ReadFanRPM(hwmonGlob, 1); err == nil {
		info.Fan1Speed = rpmLabel(rpm)
	}
	if rpm, err := hal.ReadFanRPM(hwmonGlob, 2); err == nil {
		info.Fan2Speed = rpmLabel(rpm)
	}
	if boost, err := hal.ReadFanBoost(hwmonGlob); err == nil {
		info.FanBoost = enabledLabel(boost)
	}

	return info
}

func buildStatusKeyValues(info statusInfo) []util.KeyValuePair {
	pid := []any{"-"}
	if info.PID != 0 {
		pid = []any{fmt.Sprint(info.PID)}
	}

	return []util.KeyValuePair{
		{
			Key:    "Service Status",
			Format: "%s",
			Value:  []any{info.Status},
			Style:  serviceStyle,
		},
		{
			Key:    "Service PID",
			Format: "%s",
			Value:  pid,
		},
		{
			Key:    "BIOS Control",
			Format: "%s",
			Value:  []any{info.BiosControl},
			Style:  availableStyle,
		},
		{
			Key:    "CPU Temperature",
			Format: "%s",
			Value:  []any{info.CPUTemp},
			Style:  availableStyle,
		},
		{
			Key:    "GPU Temperature",
			Format: "%s",
			Value:  []any{info.GPUTemp},
			Style:  availableStyle,
		},
		{
			Key:    "Fan 1 Speed",
			Format: "%s",
			Value:  []any{info.Fan1Speed},
			Style:  availableStyle,
		},
		{
			Key:    "Fan 2 Speed",
			Format: "%s",
			Value:  []any{info.Fan2Speed},
			Style:  availableStyle,
		},
		{
			Key:    "Fan Boost",
			Format: "%s",
			Value:  []any{info.FanBoost},
			Style:  availableStyle,
		},
	}
}

func enabledLabel(b bool) string {
	if b {
		return "Enabled"
	}
	return "Disabled"
}

func tempLabel(temp float64) string {
	return fmt.Sprintf("%.0f°C", temp)
}

func rpmLabel(rpm float64) string {
	return fmt.Sprintf("%.0f RPM", rpm)
}

func serviceStyle(a []any) lipgloss.Style {
	color := util.ColorUnknown

	switch a[0].(string) {
	case pidfile.Running.String():
		color = util.ColorOk
	case pidfile.Stale.String():
		color = util.ColorCritical
	case pidfile.Stopped.String():
		color = util.ColorWarning
	}

	return lipgloss.NewStyle().Foreground(color)
}

func availableStyle(a []any) lipgloss.Style {
	if a[0].(string) == notAvailable {
		return util.UnknownStyle(a)
	}
	return util.OkStyle(a)
}
