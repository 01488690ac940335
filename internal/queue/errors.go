package queue

import "errors"

// Store errors.
var (
	// ErrNotFound means the referenced item is absent from the partition
	// the operation expected it in: caller misuse, a duplicate transition,
	// or a race with another process that already moved the item.
	ErrNotFound = errors.New("queue item not found")

	// ErrLockTimeout means the store lock could not be acquired within the
	// wait budget. The operation did not run; it may be retried later.
	ErrLockTimeout = errors.New("timed out acquiring queue lock")

	// ErrLockLost means the lock was reclaimed from under the holder
	// before it could persist, so the cycle was aborted instead of
	// clobbering a concurrent writer's update.
	ErrLockLost = errors.New("queue lock lost before persist")
)
