// Package daemon runs the fan control loop between liveness token creation and BIOS
// control handback.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/omen-fan/omen-fan/pkg/fancontroller"
	"github.com/omen-fan/omen-fan/pkg/hal"
	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sierrasoftworks/humane-errors-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle phase of the daemon.
type State int32

const (
	Starting State = iota
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	default:
		return "TERMINATED"
	}
}

var (
	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "omen_fan",
		Name:      "daemon_state",
		Help:      "Lifecycle state of omen-fand (0 starting, 1 running, 2 stopping, 3 terminated)",
	})

	tickCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "omen_fan",
		Name:      "control_ticks_total",
		Help:      "Number of completed control loop iterations",
	})
)

const (
	DefaultPollInterval    = time.Second
	metricsShutdownTimeout = 5 * time.Second
)

// Daemon owns the fans from the moment its token is published until Run returns.
type Daemon struct {
	hal           hal.FanHal
	fanController fancontroller.FanController

	clock         clock.Clock
	interval      time.Duration
	token         *pidfile.Token
	pid           int
	metricsListen string

	state atomic.Int32
}

func New(fanHal hal.FanHal, fanController fancontroller.FanController, opts ...Option) *Daemon {
	d := &Daemon{
		hal:           fanHal,
		fanController: fanController,
		clock:         clock.New(),
		interval:      DefaultPollInterval,
		token:         pidfile.New(pidfile.DefaultPath),
		pid:           os.Getpid(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.setState(Starting)
	return d
}

func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
	stateGauge.Set(float64(s))
}

// Run publishes the liveness token and controls the fans until ctx is cancelled or a
// register access fails. Either way the token is removed and the firmware gets the fans
// back before Run returns. Cancellation is not reported as an error.
func (d *Daemon) Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	if err := d.token.Create(d.pid); err != nil {
		d.setState(Terminated)
		return err
	}

	logger.Info("Starting fan control loop",
		zap.Int("pid", d.pid),
		zap.String("token", d.token.Path),
		zap.Duration("interval", d.interval),
	)
	d.setState(Running)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.runControlLoop(groupCtx)
	})
	if d.metricsListen != "" {
		group.Go(func() error {
			return d.runMetricsServer(groupCtx)
		})
	}

	err := group.Wait()

	d.setState(Stopping)
	logger.Info("Stopping, restoring BIOS fan control")
	d.shutdown(ctx)
	d.setState(Terminated)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown runs every step even if an earlier one fails.
func (d *Daemon) shutdown(ctx context.Context) {
	logger := log.FromContext(ctx)

	if err := d.token.Remove(); err != nil {
		logger.Error("Failed to remove liveness token", append(log.ErrorFields(err), zap.String("token", d.token.Path))...)
	}

	if err := d.hal.SetBiosControl(true); err != nil {
		logger.Error("Failed to hand fan control back to the BIOS", log.ErrorFields(err)...)
	}
}

func (d *Daemon) runControlLoop(ctx context.Context) error {
	// A signal that arrived before the loop started must not take the fans over
	if err := ctx.Err(); err != nil {
		return err
	}

	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.tick(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Daemon) tick(ctx context.Context) error {
	temp, err := d.hal.GetTemperature()
	if err != nil {
		return humane.Wrap(err, "failed to read chip temperature from the EC",
			"check that the ec_sys module is still loaded with write_support=1",
		)
	}

	speed := d.fanController.GetFanSpeedPercent(temp)
	log.FromContext(ctx).Debug("Control tick", zap.Float64("temperature", temp), zap.Float64("percent", speed))

	if err := d.hal.SetFanSpeed(speed); err != nil {
		return humane.Wrap(err, "failed to write fan duty to the EC",
			"check that the ec_sys module is still loaded with write_support=1",
		)
	}

	// Firmware may reclaim the fans at any time, so manual mode is asserted every tick
	if err := d.hal.SetBiosControl(false); err != nil {
		return humane.Wrap(err, "failed to disable BIOS fan control",
			"check that the ec_sys module is still loaded with write_support=1",
		)
	}

	tickCounter.Inc()
	return nil
}

func (d *Daemon) runMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              d.metricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.FromContext(ctx).Info("Starting metrics server", zap.String("address", d.metricsListen))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return humane.Wrap(err, "failed to serve metrics on "+d.metricsListen,
			"ensure the address is not bound by another process",
			"set metrics_listen = \"\" in the [daemon] section to disable the metrics endpoint",
		)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}
