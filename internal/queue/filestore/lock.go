package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/simplauto/simplauto-agent-api/internal/queue"
)

// Lock defaults.
const (
	DefaultLockTimeout   = 10 * time.Second
	DefaultLockStaleness = 30 * time.Second
	defaultLockPoll      = 100 * time.Millisecond
)

// lockMarker is the content of the lock file: who holds the lock and a
// fencing token checked again before every persist.
type lockMarker struct {
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// fileLock is a cooperative advisory lock backed by an exclusively-created
// marker file. A marker older than the staleness threshold is presumed
// abandoned by a dead process and reclaimed.
type fileLock struct {
	path      string
	holder    string
	timeout   time.Duration
	staleness time.Duration
	poll      time.Duration

	now func() time.Time
}

func newFileLock(path, holder string, timeout, staleness time.Duration) *fileLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if staleness <= 0 {
		staleness = DefaultLockStaleness
	}
	return &fileLock{
		path:      path,
		holder:    holder,
		timeout:   timeout,
		staleness: staleness,
		poll:      defaultLockPoll,
		now:       time.Now,
	}
}

// Acquire blocks until the lock is taken, the wait budget is exceeded, or
// ctx is cancelled. It returns the fencing token of the acquired lock.
func (l *fileLock) Acquire(ctx context.Context) (string, error) {
	start := l.now()
	deadline := start.Add(l.timeout)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if marker, err := l.read(); err == nil {
			if l.now().Sub(marker.AcquiredAt) > l.staleness {
				slog.Warn("reclaiming stale queue lock",
					"holder", marker.Holder,
					"pid", marker.PID,
					"acquired_at", marker.AcquiredAt,
				)
				queue.RecordStaleLockReclaimed()
				if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return "", fmt.Errorf("reclaim stale lock: %w", err)
				}
			} else {
				if l.now().After(deadline) {
					return "", queue.ErrLockTimeout
				}
				if !sleep(ctx, l.poll) {
					return "", ctx.Err()
				}
				continue
			}
		}

		token, err := l.tryCreate()
		if err == nil {
			queue.RecordLockWait(l.now().Sub(start))
			return token, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		// Another process created the marker between our check and the
		// exclusive create. Back off and retry.
		if l.now().After(deadline) {
			return "", queue.ErrLockTimeout
		}
		if !sleep(ctx, l.poll) {
			return "", ctx.Err()
		}
	}
}

// Release removes the lock marker if it still carries our token. Losing
// the marker to a staleness reclaim is logged, not fatal.
func (l *fileLock) Release(token string) {
	marker, err := l.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("releasing queue lock", "error", err)
		}
		return
	}
	if marker.Token != token {
		slog.Warn("queue lock no longer ours on release",
			"current_holder", marker.Holder,
			"current_pid", marker.PID,
		)
		return
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("releasing queue lock", "error", err)
	}
}

// Held reports whether the marker still carries the given token. Persist
// paths check this before writing so a holder that lost the lock to a
// staleness reclaim cannot clobber a concurrent writer.
func (l *fileLock) Held(token string) bool {
	marker, err := l.read()
	if err != nil {
		return false
	}
	return marker.Token == token
}

func (l *fileLock) tryCreate() (string, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	marker := lockMarker{
		Holder:     l.holder,
		PID:        os.Getpid(),
		Token:      uuid.NewString(),
		AcquiredAt: l.now(),
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(marker); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		return "", fmt.Errorf("write lock marker: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return "", fmt.Errorf("write lock marker: %w", err)
	}

	return marker.Token, nil
}

func (l *fileLock) read() (*lockMarker, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var marker lockMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		// An unreadable marker is treated as stale from epoch so it gets
		// reclaimed rather than wedging every caller.
		return &lockMarker{}, nil
	}
	return &marker, nil
}

// sleep waits for d or until ctx is done. Reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
