package pidfile_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/omen-fan/omen-fan/pkg/pidfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newToken(t *testing.T) *pidfile.Token {
	t.Helper()
	return pidfile.New(filepath.Join(t.TempDir(), "omen-fand.PID"))
}

func TestToken_Lifecycle(t *testing.T) {
	t.Parallel()

	token := newToken(t)
	ctx := context.Background()

	status, _, err := token.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, pidfile.Stopped, status)

	require.Nil(t, token.Create(os.Getpid()))

	raw, rerr := os.ReadFile(token.Path)
	require.NoError(t, rerr)
	assert.Equal(t, []byte(strconv.Itoa(os.Getpid())), raw)

	status, pid, err := token.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, pidfile.Running, status)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, token.Remove())
	require.NoError(t, token.Remove(), "removing a missing token is not an error")

	_, err = os.Stat(token.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestToken_CreateOverwritesToken(t *testing.T) {
	t.Parallel()

	token := newToken(t)
	require.NoError(t, os.WriteFile(token.Path, []byte("99999999"), 0o644))

	require.Nil(t, token.Create(42))

	pid, err := token.Read()
	require.NoError(t, err)
	assert.Equal(t, 42, pid, "a longer leftover id must not bleed through")
}

func TestToken_CreateFailureLeavesNoToken(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}

	// Writes through the link fail with ENOSPC; only the link itself is removed.
	token := newToken(t)
	require.NoError(t, os.Symlink("/dev/full", token.Path))

	err := token.Create(os.Getpid())
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "failed to write liveness token")

	_, serr := os.Lstat(token.Path)
	assert.ErrorIs(t, serr, os.ErrNotExist)

	status, _, ierr := token.Inspect(context.Background())
	require.NoError(t, ierr)
	assert.Equal(t, pidfile.Stopped, status)
}

func TestToken_Stale(t *testing.T) {
	t.Parallel()

	token := newToken(t)
	// Above the default pid_max of 4194304, no process can own this id
	require.NoError(t, os.WriteFile(token.Path, []byte("99999999"), 0o644))

	status, pid, err := token.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pidfile.Stale, status)
	assert.Equal(t, 99999999, pid)
	assert.Equal(t, "Stale", status.String())
}

func TestToken_Garbage(t *testing.T) {
	t.Parallel()

	token := newToken(t)
	require.NoError(t, os.WriteFile(token.Path, []byte("not-a-pid"), 0o644))

	_, err := token.Read()
	assert.Error(t, err)
}
