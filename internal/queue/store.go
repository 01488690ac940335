// Package queue defines the durable call queue: four partitions of items
// (pending, processing, completed, failed) plus aggregate counters,
// mutated only through atomic lock-guarded transitions.
package queue

import (
	"context"
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
)

// DefaultRetention is how long terminal items are kept before cleanup.
const DefaultRetention = 7 * 24 * time.Hour

// Store is the interface for queue data access. Implementations must
// serialize operations so that concurrent callers, including separate
// processes sharing the same backing store, never corrupt the queue or
// double-process an item.
type Store interface {
	// Enqueue adds a new item. A nil scheduledFor schedules the item for
	// the next open business slot.
	Enqueue(ctx context.Context, req domain.RefundRequest, scheduledFor *time.Time) (*EnqueueResult, error)

	// DueItems returns every pending item whose schedule has come, without
	// mutating partitions. Order is unspecified.
	DueItems(ctx context.Context) ([]domain.QueueItem, error)

	// BeginProcessing moves an item from pending to processing. Returns
	// ErrNotFound if the item is not currently pending.
	BeginProcessing(ctx context.Context, id string) (*domain.QueueItem, error)

	// CompleteAttempt records the outcome of an attempt against an item in
	// processing and applies the retry state machine: terminal outcomes
	// complete the item, callback requests and technical failures either
	// reschedule it or, past their ceiling, fail it. Returns ErrNotFound
	// if the item is not currently processing.
	CompleteAttempt(ctx context.Context, id string, outcome domain.CallOutcome) (*TransitionResult, error)

	// Stats returns a consistent snapshot of partition sizes, counters and
	// the next pending items.
	Stats(ctx context.Context) (*Stats, error)

	// Cleanup removes completed and failed items older than the retention
	// window. Pending and processing items are never touched.
	Cleanup(ctx context.Context, retention time.Duration) (*CleanupResult, error)
}

// EnqueueResult is returned by Enqueue.
type EnqueueResult struct {
	ID           string    `json:"id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// TransitionStatus describes where CompleteAttempt left an item.
type TransitionStatus string

// Transition statuses.
const (
	TransitionCompleted   TransitionStatus = "completed"
	TransitionRescheduled TransitionStatus = "rescheduled"
	TransitionFailed      TransitionStatus = "failed"
)

// TransitionResult is returned by CompleteAttempt. NextAttempt is set only
// for rescheduled items.
type TransitionResult struct {
	Status      TransitionStatus `json:"status"`
	Item        domain.QueueItem `json:"item"`
	NextAttempt *time.Time       `json:"next_attempt,omitempty"`
}

// Counters are the queue's aggregate lifetime counters.
type Counters struct {
	TotalRequests      int `json:"total_requests"`
	SuccessfulCalls    int `json:"successful_calls"`
	FailedCalls        int `json:"failed_calls"`
	CallbacksRequested int `json:"callbacks_requested"`
}

// UpcomingItem is a pending item projected for display in Stats.
type UpcomingItem struct {
	ID           string          `json:"id"`
	Reference    string          `json:"reference"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Kind         domain.ItemKind `json:"type"`
	Attempts     int             `json:"attempts"`
}

// Stats is a consistent snapshot of the queue.
type Stats struct {
	Pending    int            `json:"pending"`
	Processing int            `json:"processing"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Counters   Counters       `json:"counters"`
	NextItems  []UpcomingItem `json:"next_items"`
}

// CleanupResult is returned by Cleanup.
type CleanupResult struct {
	RemovedCompleted int `json:"removed_completed"`
	RemovedFailed    int `json:"removed_failed"`
}
