package hal

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/omen-fan/omen-fan/pkg/ec"
)

// omen implements the FanHal interface for the HP OMEN 15 embedded controller.
type omen struct {
	port        ec.Port
	clock       clock.Clock
	settleDelay time.Duration
	hwmonGlob   string

	mu          sync.Mutex
	lastPercent float64
	hasLast     bool
}

// Compile-time interface check
var _ FanHal = &omen{}

// NewWithPort builds the HAL on an already opened register port. No platform checks are
// performed.
func NewWithPort(port ec.Port, opts FanHalOpts) FanHal {
	opts = opts.withDefaults()
	settle := opts.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}

	return &omen{
		port:        port,
		clock:       opts.Clock,
		settleDelay: settle,
		hwmonGlob:   opts.HwmonGlob,
	}
}

func (o *omen) Close() error {
	return o.port.Close()
}

// DutyFromPercent converts a speed percentage into the raw duty value of a fan whose
// maximum duty is maxDuty.
func DutyFromPercent(maxDuty byte, percent float64) byte {
	percent = math.Max(0, math.Min(100, percent))
	return byte(math.Round(float64(maxDuty) * percent / 100))
}

func (o *omen) GetTemperatures() (float64, float64, error) {
	cpu, err := o.port.Read(ec.RegCPUTemp)
	if err != nil {
		return 0, 0, err
	}
	gpu, err := o.port.Read(ec.RegGPUTemp)
	if err != nil {
		return 0, 0, err
	}

	chipTemperature.WithLabelValues("cpu").Set(float64(cpu))
	chipTemperature.WithLabelValues("gpu").Set(float64(gpu))
	return float64(cpu), float64(gpu), nil
}

// GetTemperature returns the worst-case chip temperature. Each call is an independent
// sample, no smoothing is applied.
func (o *omen) GetTemperature() (float64, error) {
	cpu, gpu, err := o.GetTemperatures()
	if err != nil {
		return -1, err
	}
	return math.Max(cpu, gpu), nil
}

func (o *omen) SetFanSpeed(percent float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.hasLast && o.lastPercent == percent {
		return nil
	}

	if err := o.writeDuty(DutyFromPercent(ec.Fan1MaxDuty, percent), DutyFromPercent(ec.Fan2MaxDuty, percent)); err != nil {
		return err
	}

	fanTargetPercent.Set(percent)
	o.lastPercent = percent
	o.hasLast = true
	return nil
}

func (o *omen) SetFanDuty(fan1, fan2 byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.hasLast = false
	return o.writeDuty(fan1, fan2)
}

func (o *omen) writeDuty(fan1, fan2 byte) error {
	if err := o.write(ec.RegFan1Duty, fan1); err != nil {
		return err
	}
	fanDuty.WithLabelValues("1").Set(float64(fan1))

	if err := o.write(ec.RegFan2Duty, fan2); err != nil {
		return err
	}
	fanDuty.WithLabelValues("2").Set(float64(fan2))
	return nil
}

// SetBiosControl toggles firmware fan management. It keeps no history, so taking over
// control is safe to repeat on every tick.
func (o *omen) SetBiosControl(enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !enabled {
		if err := o.write(ec.RegBiosCtrl, ec.BiosCtrlManual); err != nil {
			return err
		}
		o.clock.Sleep(o.settleDelay)
		if err := o.write(ec.RegTimer, 0); err != nil {
			return err
		}
		biosControlEnabled.Set(0)
		return nil
	}

	if err := o.write(ec.RegBiosCtrl, ec.BiosCtrlAuto); err != nil {
		return err
	}
	// Firmware resumes from a neutral state rather than the last manual duty
	if err := o.writeDuty(0, 0); err != nil {
		return err
	}
	o.hasLast = false
	biosControlEnabled.Set(1)
	return nil
}

func (o *omen) BiosControlEnabled() (bool, error) {
	v, err := o.port.Read(ec.RegBiosCtrl)
	if err != nil {
		return false, err
	}
	return v != ec.BiosCtrlManual, nil
}

func (o *omen) GetFanRPM(fan int) (float64, error) {
	return ReadFanRPM(o.hwmonGlob, fan)
}

func (o *omen) FanBoostEnabled() (bool, error) {
	return ReadFanBoost(o.hwmonGlob)
}

func (o *omen) write(reg ec.Register, value byte) error {
	if err := o.port.Write(reg, value); err != nil {
		return err
	}
	registerWrites.WithLabelValues(reg.String()).Inc()
	return nil
}
