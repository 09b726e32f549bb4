package fancontroller

import (
	"fmt"
	"slices"

	"github.com/sierrasoftworks/humane-errors-go"
)

type FanController interface {
	// GetFanSpeedPercent returns the fan speed in percent based on the current temperature
	GetFanSpeedPercent(temperature float64) float64

	// Steps returns the list of temperature and fan speed steps configured for the fan controller.
	Steps() []Step

	// IdleSpeed returns the speed applied at or below the first step's temperature.
	IdleSpeed() float64
}

// fanControllerLinear maps temperatures onto a piecewise-linear curve. Slopes are derived
// once at construction so a poll tick never divides.
type fanControllerLinear struct {
	config Config
	temps  []float64
	speeds []float64
	slopes []float64
}

// StepsFromCurve zips the parallel temperature and speed curves into steps.
func StepsFromCurve(temperatures, speeds []float64) ([]Step, humane.Error) {
	if len(temperatures) != len(speeds) {
		return nil, humane.New("temperature and speed curves must have the same length",
			fmt.Sprintf("TEMP_CURVE has %d points but SPEED_CURVE has %d", len(temperatures), len(speeds)),
		)
	}

	steps := make([]Step, len(temperatures))
	for i := range temperatures {
		steps[i] = Step{Temperature: temperatures[i], Percent: speeds[i]}
	}
	return steps, nil
}

// NewLinearFanController creates a new FanControllerLinear
func NewLinearFanController(config Config) (FanController, humane.Error) {
	steps := config.Steps

	if len(steps) < 2 {
		return nil, humane.New("fan curve needs at least two steps",
			"Define at least two temperature/speed points in TEMP_CURVE and SPEED_CURVE",
		)
	}

	for i := 0; i < len(steps)-1; i++ {
		curr := steps[i]
		next := steps[i+1]

		if curr.Temperature > next.Temperature {
			return nil, humane.New("steps must have ascending temperatures",
				"Ensure that the temperatures in TEMP_CURVE are in ascending order",
				fmt.Sprintf("Temperature step %.2f is defined after %.2f", next.Temperature, curr.Temperature),
			)
		}
	}

	for _, step := range steps {
		if step.Percent < 0 || step.Percent > 100 {
			return nil, humane.New("fan percent must be between 0 and 100",
				fmt.Sprintf("Ensure your fan percentage is 0 <= %.2f <= 100", step.Percent),
			)
		}
	}

	if config.IdleSpeed < 0 || config.IdleSpeed > 100 {
		return nil, humane.New("idle speed must be between 0 and 100",
			fmt.Sprintf("Ensure IDLE_SPEED is 0 <= %.2f <= 100", config.IdleSpeed),
		)
	}

	f := &fanControllerLinear{
		config: config,
		temps:  make([]float64, len(steps)),
		speeds: make([]float64, len(steps)),
		slopes: make([]float64, len(steps)-1),
	}
	for i, step := range steps {
		f.temps[i] = step.Temperature
		f.speeds[i] = step.Percent
	}
	for i := range f.slopes {
		// Equal neighbouring temperatures never bracket a sample, their slope stays zero.
		if dt := f.temps[i+1] - f.temps[i]; dt > 0 {
			f.slopes[i] = (f.speeds[i+1] - f.speeds[i]) / dt
		}
	}

	return f, nil
}

func (f *fanControllerLinear) Steps() []Step {
	return f.config.Steps
}

func (f *fanControllerLinear) IdleSpeed() float64 {
	return f.config.IdleSpeed
}

// GetFanSpeedPercent returns the fan speed in percent based on the current temperature
func (f *fanControllerLinear) GetFanSpeedPercent(temperature float64) float64 {
	// At or below the first step: idle floor, independent of the first step's speed
	if temperature <= f.temps[0] {
		return f.config.IdleSpeed
	}

	lastIdx := len(f.temps) - 1
	if temperature >= f.temps[lastIdx] {
		return f.speeds[lastIdx]
	}

	// Leftmost index with temps[i] >= temperature
	i, found := slices.BinarySearch(f.temps, temperature)
	if found {
		return f.speeds[i]
	}

	return f.speeds[i-1] + f.slopes[i-1]*(temperature-f.temps[i-1])
}
