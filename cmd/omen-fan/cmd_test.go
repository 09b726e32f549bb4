package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/hal"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpeed(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		arg      string
		expected byte
		wantErr  bool
	}{
		{arg: "0", expected: 0},
		{arg: "30", expected: 30},
		{arg: "59", expected: 59},
		{arg: "60", wantErr: true},
		{arg: "-1", wantErr: true},
		{arg: "fast", wantErr: true},
		{arg: "0%", expected: 0},
		{arg: "50%", expected: 30},
		{arg: "55%", expected: 32},
		{arg: "100%", expected: 59},
		{arg: "101%", wantErr: true},
		{arg: "%", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.arg, func(t *testing.T) {
			t.Parallel()

			duty, err := parseSpeed(tc.arg, ec.Fan1MaxDuty)
			if tc.wantErr {
				require.NotNil(t, err)
				assert.NotEmpty(t, err.Advice())
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tc.expected, duty)
		})
	}
}

func newStatusHal(t *testing.T, bios, cpu, gpu byte) hal.FanHal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "io")
	regs := make([]byte, 256)
	regs[ec.RegBiosCtrl] = bios
	regs[ec.RegCPUTemp] = cpu
	regs[ec.RegGPUTemp] = gpu
	require.NoError(t, os.WriteFile(path, regs, 0o600))

	port, err := ec.Open(path)
	require.Nil(t, err)
	h := hal.NewWithPort(port, hal.FanHalOpts{SettleDelay: time.Millisecond})
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func newHwmon(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "hwmon2")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fan1_input"), []byte("3100\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fan2_input"), []byte("2950\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pwm1_enable"), []byte("2\n"), 0o644))
	return filepath.Join(root, "hwmon*")
}

func TestCollectStatus_DaemonRunning(t *testing.T) {
	t.Parallel()

	info := collectStatus(pidfile.Running, 1234, nil, newHwmon(t))

	assert.Equal(t, statusInfo{
		Status:      "Running",
		PID:         1234,
		BiosControl: "Disabled",
		CPUTemp:     notAvailable,
		GPUTemp:     notAvailable,
		Fan1Speed:   "3100 RPM",
		Fan2Speed:   "2950 RPM",
		FanBoost:    "Disabled",
	}, info)
}

func TestCollectStatus_Stopped(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		bios     byte
		expected string
	}{
		{name: "firmware owns fans", bios: ec.BiosCtrlAuto, expected: "Enabled"},
		{name: "left in manual mode", bios: ec.BiosCtrlManual, expected: "Disabled"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			info := collectStatus(pidfile.Stopped, 0, newStatusHal(t, tc.bios, 61, 48), filepath.Join(t.TempDir(), "hwmon*"))
			assert.Equal(t, "Stopped", info.Status)
			assert.Zero(t, info.PID)
			assert.Equal(t, tc.expected, info.BiosControl)
			assert.Equal(t, "61°C", info.CPUTemp)
			assert.Equal(t, "48°C", info.GPUTemp)
			assert.Equal(t, notAvailable, info.Fan1Speed)
			assert.Equal(t, notAvailable, info.FanBoost)
		})
	}
}

func TestCollectStatus_WithoutEC(t *testing.T) {
	t.Parallel()

	info := collectStatus(pidfile.Stale, 777, nil, filepath.Join(t.TempDir(), "hwmon*"))
	assert.Equal(t, "Stale", info.Status)
	assert.Equal(t, 777, info.PID)
	assert.Equal(t, notAvailable, info.BiosControl)

	pairs := buildStatusKeyValues(info)
	require.Len(t, pairs, 8)
	assert.Equal(t, "Service PID", pairs[1].Key)
	assert.Equal(t, []any{"777"}, pairs[1].Value)
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	calls := 0
	err := waitFor(context.Background(), time.Second, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = waitFor(context.Background(), 150*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	err = waitFor(context.Background(), time.Second, func() (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}
