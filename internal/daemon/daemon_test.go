package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/fancontroller"
	"github.com/omen-fan/omen-fan/pkg/hal"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// flakyPort fails every read once broken is set.
type flakyPort struct {
	ec.Port
	broken atomic.Bool
}

func (f *flakyPort) Read(reg ec.Register) (byte, error) {
	if f.broken.Load() {
		return 0, errors.New("input/output error")
	}
	return f.Port.Read(reg)
}

type fixture struct {
	port  *flakyPort
	clock *clock.Mock
	token *pidfile.Token
	d     *Daemon
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	dir := t.TempDir()
	ioFile := filepath.Join(dir, "io")
	require.NoError(t, os.WriteFile(ioFile, make([]byte, 256), 0o600))

	p, err := ec.Open(ioFile)
	require.Nil(t, err)
	t.Cleanup(func() { _ = p.Close() })
	port := &flakyPort{Port: p}

	steps, err := fancontroller.StepsFromCurve(
		[]float64{50, 60, 70, 75, 80, 90},
		[]float64{50, 60, 80, 100, 100, 100},
	)
	require.Nil(t, err)
	fc, err := fancontroller.NewLinearFanController(fancontroller.Config{Steps: steps})
	require.Nil(t, err)

	mock := clock.NewMock()
	token := pidfile.New(filepath.Join(dir, "omen-fand.PID"))

	fanHal := hal.NewWithPort(port, hal.FanHalOpts{SettleDelay: time.Millisecond, HwmonGlob: dir})
	opts = append([]Option{
		WithClock(mock),
		WithToken(token),
		WithPID(4242),
		WithPollInterval(time.Second),
	}, opts...)

	return &fixture{
		port:  port,
		clock: mock,
		token: token,
		d:     New(fanHal, fc, opts...),
	}
}

func (f *fixture) reg(t *testing.T, reg ec.Register) byte {
	t.Helper()
	v, err := f.port.Port.Read(reg)
	require.NoError(t, err)
	return v
}

// peek is safe to call from require.Eventually conditions.
func (f *fixture) peek(reg ec.Register) byte {
	v, _ := f.port.Port.Read(reg)
	return v
}

func (f *fixture) setTemps(t *testing.T, cpu, gpu byte) {
	t.Helper()
	require.NoError(t, f.port.Port.Write(ec.RegCPUTemp, cpu))
	require.NoError(t, f.port.Port.Write(ec.RegGPUTemp, gpu))
}

func (f *fixture) start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- f.d.Run(ctx)
	}()
	return done
}

func TestDaemon_Lifecycle(t *testing.T) {
	f := newFixture(t)
	f.setTemps(t, 55, 40)
	require.NoError(t, f.port.Port.Write(ec.RegTimer, 120))
	assert.Equal(t, Starting, f.d.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := f.start(ctx)

	// First tick runs immediately: 55°C maps to 55%, duty 32 on both fans
	require.Eventually(t, func() bool {
		return f.peek(ec.RegFan1Duty) == 32 && f.peek(ec.RegTimer) == 0
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, byte(32), f.reg(t, ec.RegFan2Duty))
	assert.Equal(t, ec.BiosCtrlManual, f.reg(t, ec.RegBiosCtrl))
	assert.Equal(t, Running, f.d.State())

	pid, err := f.token.Read()
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	// GPU is now the hotter chip
	f.setTemps(t, 40, 75)
	f.clock.Add(time.Second)
	require.Eventually(t, func() bool {
		return f.peek(ec.RegFan1Duty) == 59
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, Terminated, f.d.State())
	assert.Equal(t, ec.BiosCtrlAuto, f.reg(t, ec.RegBiosCtrl))
	assert.Equal(t, byte(0), f.reg(t, ec.RegFan1Duty))
	assert.Equal(t, byte(0), f.reg(t, ec.RegFan2Duty))

	_, err = os.Stat(f.token.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDaemon_CancelledBeforeStartSkipsControl(t *testing.T) {
	f := newFixture(t)
	f.setTemps(t, 80, 80)
	require.NoError(t, f.port.Port.Write(ec.RegTimer, 120))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.d.Run(ctx))
	assert.Equal(t, Terminated, f.d.State())
	assert.Equal(t, byte(120), f.reg(t, ec.RegTimer), "manual mode was never entered")
	assert.Equal(t, ec.BiosCtrlAuto, f.reg(t, ec.RegBiosCtrl))
	assert.Equal(t, byte(0), f.reg(t, ec.RegFan1Duty))
	_, err := os.Stat(f.token.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDaemon_ReplacesLeftoverToken(t *testing.T) {
	f := newFixture(t)
	f.setTemps(t, 55, 40)
	// Left behind by an instance that was SIGKILLed in manual mode
	require.NoError(t, os.WriteFile(f.token.Path, []byte("99999999"), 0o644))
	require.NoError(t, f.port.Port.Write(ec.RegBiosCtrl, ec.BiosCtrlManual))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := f.start(ctx)

	require.Eventually(t, func() bool {
		pid, err := f.token.Read()
		return err == nil && pid == 4242 && f.peek(ec.RegFan1Duty) == 32
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, Running, f.d.State())

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, ec.BiosCtrlAuto, f.reg(t, ec.RegBiosCtrl))
	_, err := os.Stat(f.token.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDaemon_ReadErrorGoesThroughStopping(t *testing.T) {
	f := newFixture(t)
	f.setTemps(t, 80, 60)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := f.start(ctx)

	require.Eventually(t, func() bool {
		return f.peek(ec.RegFan1Duty) == 59
	}, 5*time.Second, time.Millisecond)

	f.port.broken.Store(true)
	f.clock.Add(time.Second)

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read chip temperature")

	assert.Equal(t, Terminated, f.d.State())
	assert.Equal(t, ec.BiosCtrlAuto, f.reg(t, ec.RegBiosCtrl))
	assert.Equal(t, byte(0), f.reg(t, ec.RegFan1Duty))
	_, serr := os.Stat(f.token.Path)
	assert.ErrorIs(t, serr, os.ErrNotExist)
}

func TestDaemon_MetricsServerStopsWithLoop(t *testing.T) {
	f := newFixture(t, WithMetricsListen("127.0.0.1:0"))
	f.setTemps(t, 45, 45)

	ctx, cancel := context.WithCancel(context.Background())
	done := f.start(ctx)

	require.Eventually(t, func() bool {
		return f.d.State() == Running && f.peek(ec.RegBiosCtrl) == ec.BiosCtrlManual
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Terminated, f.d.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "STARTING", Starting.String())
	assert.Equal(t, "RUNNING", Running.String())
	assert.Equal(t, "STOPPING", Stopping.String())
	assert.Equal(t, "TERMINATED", Terminated.String())
}
