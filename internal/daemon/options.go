package daemon

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/omen-fan/omen-fan/pkg/pidfile"
)

type Option func(*Daemon)

// WithClock replaces the wall clock driving the poll ticker.
func WithClock(clk clock.Clock) Option {
	return func(d *Daemon) {
		d.clock = clk
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		d.interval = interval
	}
}

func WithToken(token *pidfile.Token) Option {
	return func(d *Daemon) {
		d.token = token
	}
}

// WithPID sets the process id published in the liveness token.
func WithPID(pid int) Option {
	return func(d *Daemon) {
		d.pid = pid
	}
}

// WithMetricsListen enables the prometheus endpoint on addr. An empty addr disables it.
func WithMetricsListen(addr string) Option {
	return func(d *Daemon) {
		d.metricsListen = addr
	}
}
