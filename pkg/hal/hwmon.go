package hal

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadFanRPM returns the measured speed of fan 1 or 2 as published by the hp-wmi hwmon
// device. It needs no privileges and does not touch the EC.
func ReadFanRPM(hwmonGlob string, fan int) (float64, error) {
	raw, err := readHwmon(hwmonGlob, "fan"+strconv.Itoa(fan)+"_input")
	if err != nil {
		return -1, err
	}
	return strconv.ParseFloat(raw, 64)
}

// ReadFanBoost reports whether hp-wmi fan boost is engaged.
func ReadFanBoost(hwmonGlob string) (bool, error) {
	raw, err := readHwmon(hwmonGlob, "pwm1_enable")
	if err != nil {
		return false, err
	}
	// pwm1_enable reads 0 (no control, full speed) while boost is engaged
	return raw == "0", nil
}

// readHwmon returns the trimmed content of name in the first hwmon directory matching
// hwmonGlob that provides it.
func readHwmon(hwmonGlob, name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(hwmonGlob, name))
	if err != nil {
		return "", err
	}

	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	return "", ErrNotAvailable
}
