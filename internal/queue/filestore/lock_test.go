package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, timeout, staleness time.Duration) *fileLock {
	t.Helper()
	return newFileLock(filepath.Join(t.TempDir(), "queue.lock"), "test-host", timeout, staleness)
}

func TestFileLock_AcquireRelease(t *testing.T) {
	l := newTestLock(t, time.Second, 30*time.Second)

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, l.Held(token))

	l.Release(token)
	assert.False(t, l.Held(token))

	// Reacquirable after release.
	token2, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	l.Release(token2)
}

func TestFileLock_TimesOutWhileHeld(t *testing.T) {
	l := newTestLock(t, 300*time.Millisecond, 30*time.Second)

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release(token)

	_, err = l.Acquire(context.Background())
	assert.ErrorIs(t, err, queue.ErrLockTimeout)
}

func TestFileLock_ReclaimsStaleMarker(t *testing.T) {
	l := newTestLock(t, time.Second, 30*time.Second)

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)

	// Shift the clock past the staleness threshold: the next caller must
	// reclaim the abandoned marker instead of waiting out the timeout.
	l.now = func() time.Time { return time.Now().Add(time.Minute) }

	token2, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)

	// The original holder's token no longer opens the lock.
	assert.False(t, l.Held(token))
	assert.True(t, l.Held(token2))
	l.Release(token2)
}

func TestFileLock_ReclaimsCorruptMarker(t *testing.T) {
	l := newTestLock(t, time.Second, 30*time.Second)
	require.NoError(t, os.WriteFile(l.path, []byte("not json"), 0o644))

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Held(token))
	l.Release(token)
}

func TestFileLock_ReleaseIgnoresForeignToken(t *testing.T) {
	l := newTestLock(t, time.Second, 30*time.Second)

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)

	l.Release("not-the-token")
	assert.True(t, l.Held(token), "foreign release must not drop the lock")
	l.Release(token)
}

func TestFileLock_AcquireHonorsContext(t *testing.T) {
	l := newTestLock(t, 10*time.Second, 30*time.Second)

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release(token)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
