// Package pidfile implements the liveness token: a well-known file holding the daemon's
// process id. Its presence tells other tools that the daemon owns the fans.
package pidfile

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sierrasoftworks/humane-errors-go"
)

// DefaultPath is where the daemon publishes its token.
const DefaultPath = "/tmp/omen-fand.PID"

// Status is the state of the daemon as seen through its token.
type Status int

const (
	// Stopped means no token exists.
	Stopped Status = iota
	// Running means the token names a live process.
	Running
	// Stale means the token exists but its process is gone.
	Stale
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Stale:
		return "Stale"
	default:
		return "Stopped"
	}
}

// Token is the liveness token at Path.
type Token struct {
	Path string
}

// New returns the token stored at path.
func New(path string) *Token {
	return &Token{Path: path}
}

// Create publishes pid, replacing any token left behind by a previous instance. The
// single-instance check belongs to whoever starts the daemon.
func (t *Token) Create(pid int) humane.Error {
	f, err := os.OpenFile(t.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return humane.Wrap(err, "failed to create liveness token at "+t.Path,
			"ensure the directory is writable by the daemon",
		)
	}

	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		_ = f.Close()
		_ = os.Remove(t.Path)
		return humane.Wrap(err, "failed to write liveness token at "+t.Path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(t.Path)
		return humane.Wrap(err, "failed to write liveness token at "+t.Path)
	}
	return nil
}

// Read returns the pid recorded in the token. A missing token yields os.ErrNotExist.
func (t *Token) Read() (int, error) {
	raw, err := os.ReadFile(t.Path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, humane.Wrap(err, "liveness token at "+t.Path+" does not contain a process id",
			"remove "+t.Path+" if no daemon is running",
		)
	}
	return pid, nil
}

// Remove deletes the token. A token that is already gone is not an error.
func (t *Token) Remove() error {
	if err := os.Remove(t.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Inspect reports whether the token exists and whether its process is still alive.
func (t *Token) Inspect(ctx context.Context) (Status, int, error) {
	pid, err := t.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Stopped, 0, nil
		}
		return Stopped, 0, err
	}

	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return Stopped, pid, err
	}
	if !alive {
		return Stale, pid, nil
	}
	return Running, pid, nil
}
