package hal

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotAvailable is returned for telemetry the platform driver does not expose.
var ErrNotAvailable = errors.New("not available")

const (
	DefaultProductNameFile = "/sys/devices/virtual/dmi/id/product_name"
	DefaultHwmonGlob       = "/sys/devices/platform/hp-wmi/hwmon/hwmon*"

	// DefaultSettleDelay is how long the EC firmware needs to latch a BIOS control mode change.
	DefaultSettleDelay = 100 * time.Millisecond
)

var (
	fanTargetPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "omen_fan",
		Name:      "fan_target_percent",
		Help:      "Target fan speed in percent",
	})
	fanDuty = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "omen_fan",
		Name:      "fan_duty",
		Help:      "Raw duty value last written to the EC per fan",
	}, []string{"fan"})
	chipTemperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "omen_fan",
		Name:      "temperature_celsius",
		Help:      "Chip temperature reported by the EC",
	}, []string{"sensor"})
	biosControlEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "omen_fan",
		Name:      "bios_control_enabled",
		Help:      "1 if the EC firmware owns the fans, 0 if they are under manual control",
	})
	registerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omen_fan",
		Name:      "ec_register_writes_total",
		Help:      "Number of EC register writes",
	}, []string{"register"})
)

// FanHal is the hardware abstraction over the OMEN embedded controller.
type FanHal interface {
	// GetTemperature returns the control temperature, the hotter of CPU and GPU.
	GetTemperature() (float64, error)
	// GetTemperatures returns the CPU and GPU readings separately.
	GetTemperatures() (cpu, gpu float64, err error)
	// SetFanSpeed applies a percentage to both fans. Repeating the last applied
	// percentage issues no register writes.
	SetFanSpeed(percent float64) error
	// SetFanDuty writes raw duty values to both fans.
	SetFanDuty(fan1, fan2 byte) error
	// SetBiosControl hands the fans to the firmware (true) or takes them over (false).
	SetBiosControl(enabled bool) error
	// BiosControlEnabled reports whether the firmware currently owns the fans.
	BiosControlEnabled() (bool, error)
	// GetFanRPM returns the measured speed of fan 1 or 2.
	GetFanRPM(fan int) (float64, error)
	// FanBoostEnabled reports the hp-wmi fan boost state.
	FanBoostEnabled() (bool, error)
	Close() error
}

// FanHalOpts configures NewHal.
type FanHalOpts struct {
	IOFile            string
	ProductNameFile   string
	HwmonGlob         string
	BypassDeviceCheck bool
	SettleDelay       time.Duration
	Clock             clock.Clock
	// ModuleLoader defaults to ec.NewModuleLoader(IOFile).
	ModuleLoader *ec.ModuleLoader
}

func (o FanHalOpts) withDefaults() FanHalOpts {
	if o.IOFile == "" {
		o.IOFile = ec.DefaultIOFile
	}
	if o.ProductNameFile == "" {
		o.ProductNameFile = DefaultProductNameFile
	}
	if o.HwmonGlob == "" {
		o.HwmonGlob = DefaultHwmonGlob
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.ModuleLoader == nil {
		o.ModuleLoader = ec.NewModuleLoader(o.IOFile)
	}
	return o
}
