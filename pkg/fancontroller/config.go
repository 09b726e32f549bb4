package fancontroller

// Step is one control point of the fan curve.
type Step struct {
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	Percent     float64 `mapstructure:"percent" yaml:"percent"`
}

type Config struct {
	// Steps must be ordered by non-decreasing temperature.
	Steps []Step `mapstructure:"steps" yaml:"steps"`
	// IdleSpeed applies at or below the first step's temperature.
	IdleSpeed float64 `mapstructure:"idle_speed" yaml:"idle_speed"`
}
