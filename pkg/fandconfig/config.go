// Package fandconfig loads the controller configuration shared by omen-fand and omen-fan.
package fandconfig

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/fancontroller"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/sierrasoftworks/humane-errors-go"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultPath = "/etc/omen-fan/config.toml"
	EnvPrefix   = "OMEN_FAN"
)

// DefaultDocument is written by EnsureFile when no configuration exists yet.
const DefaultDocument = `[service]
TEMP_CURVE = [50, 60, 70, 75, 80, 90]
SPEED_CURVE = [50, 60, 80, 100, 100, 100]
IDLE_SPEED = 0
POLL_INTERVAL = 1

[script]
BYPASS_DEVICE_CHECK = 0

[daemon]
pid_file = "/tmp/omen-fand.PID"
ec_io_file = "/sys/kernel/debug/ec/ec0/io"
metrics_listen = ""
log_level = "info"
`

type Config struct {
	Service ServiceConfig `mapstructure:"service" yaml:"service"`
	Script  ScriptConfig  `mapstructure:"script" yaml:"script"`
	Daemon  DaemonConfig  `mapstructure:"daemon" yaml:"daemon"`
}

type ServiceConfig struct {
	TempCurve  []float64 `mapstructure:"temp_curve" yaml:"temp_curve"`
	SpeedCurve []float64 `mapstructure:"speed_curve" yaml:"speed_curve"`
	IdleSpeed  float64   `mapstructure:"idle_speed" yaml:"idle_speed"`
	// PollInterval is in seconds, fractions allowed.
	PollInterval float64 `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type ScriptConfig struct {
	BypassDeviceCheck bool `mapstructure:"bypass_device_check" yaml:"bypass_device_check"`
}

type DaemonConfig struct {
	PidFile       string `mapstructure:"pid_file" yaml:"pid_file"`
	ECIOFile      string `mapstructure:"ec_io_file" yaml:"ec_io_file"`
	MetricsListen string `mapstructure:"metrics_listen" yaml:"metrics_listen"`
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
}

// SetDefaults registers every key with viper. Keys unknown to viper are not picked
// up from the environment, so this must run before Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.temp_curve", []float64{50, 60, 70, 75, 80, 90})
	v.SetDefault("service.speed_curve", []float64{50, 60, 80, 100, 100, 100})
	v.SetDefault("service.idle_speed", 0)
	v.SetDefault("service.poll_interval", 1)
	v.SetDefault("script.bypass_device_check", false)
	v.SetDefault("daemon.pid_file", pidfile.DefaultPath)
	v.SetDefault("daemon.ec_io_file", ec.DefaultIOFile)
	v.SetDefault("daemon.metrics_listen", "")
	v.SetDefault("daemon.log_level", "info")
}

// NewViper returns a viper instance reading path as TOML, with OMEN_FAN_ environment overrides.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// FlagKeys maps command line flag names onto configuration keys.
var FlagKeys = map[string]string{
	"log-level":           "daemon.log_level",
	"metrics-listen":      "daemon.metrics_listen",
	"pid-file":            "daemon.pid_file",
	"bypass-device-check": "script.bypass_device_check",
}

// BindFlags binds every flag in flags that has an entry in FlagKeys. Flags the user did
// not set leave the file and environment values in effect.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration file behind v and validates it. A missing file yields
// the defaults; a malformed one is an error.
func Load(v *viper.Viper) (*Config, humane.Error) {
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, humane.Wrap(err, "failed to read configuration file "+v.ConfigFileUsed(),
			"check the file is valid TOML",
			"run 'omen-fan config init' on a fresh system to write the default configuration",
		)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, humane.Wrap(err, "failed to decode configuration",
			"TEMP_CURVE and SPEED_CURVE must be lists of numbers",
		)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything the daemon relies on, so a bad file fails before any EC I/O.
func (c *Config) Validate() humane.Error {
	if _, err := c.FanController(); err != nil {
		return err
	}

	if c.Service.PollInterval <= 0 {
		return humane.New("POLL_INTERVAL must be greater than zero",
			"set POLL_INTERVAL in the [service] section to the loop period in seconds, e.g. 1 or 0.5",
		)
	}
	return nil
}

// FanControllerConfig converts the two parallel curve lists into controller steps.
func (c *Config) FanControllerConfig() (fancontroller.Config, humane.Error) {
	steps, err := fancontroller.StepsFromCurve(c.Service.TempCurve, c.Service.SpeedCurve)
	if err != nil {
		return fancontroller.Config{}, err
	}
	return fancontroller.Config{Steps: steps, IdleSpeed: c.Service.IdleSpeed}, nil
}

// FanController builds the interpolator described by the [service] section.
func (c *Config) FanController() (fancontroller.FanController, humane.Error) {
	fcc, err := c.FanControllerConfig()
	if err != nil {
		return nil, err
	}
	return fancontroller.NewLinearFanController(fcc)
}

func (c *Config) PollDuration() time.Duration {
	return time.Duration(c.Service.PollInterval * float64(time.Second))
}

// EnsureFile writes DefaultDocument to path unless a file already exists there.
// It reports whether the file was created.
func EnsureFile(path string) (bool, humane.Error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, humane.Wrap(err, "failed to check for configuration file "+path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, humane.Wrap(err, "failed to create configuration directory "+filepath.Dir(path),
			"run as root to write below /etc",
		)
	}

	if err := os.WriteFile(path, []byte(DefaultDocument), 0o644); err != nil {
		return false, humane.Wrap(err, "failed to write default configuration to "+path,
			"run as root to write below /etc",
		)
	}
	return true, nil
}
