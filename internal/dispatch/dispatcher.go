// Package dispatch drives the queue: it periodically fetches due items,
// places the calls, and feeds outcomes back into the queue's state
// machine.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/agent"
	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"github.com/simplauto/simplauto-agent-api/internal/queue"
)

// Config contains dispatcher configuration.
type Config struct {
	PollInterval    time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Minute,
		CleanupInterval: time.Hour,
		Retention:       queue.DefaultRetention,
	}
}

// Caller places outbound calls and waits for their outcome.
type Caller interface {
	StartCall(ctx context.Context, req domain.RefundRequest) (*agent.CallHandle, error)
	AwaitOutcome(ctx context.Context, conversationID string) (domain.CallOutcome, error)
}

// OutcomeSender delivers terminal outcomes downstream.
type OutcomeSender interface {
	Deliver(ctx context.Context, item domain.QueueItem, outcome domain.CallOutcome) error
}

// Dispatcher polls the queue and processes due items.
type Dispatcher struct {
	config Config
	store  queue.Store
	caller Caller
	sender OutcomeSender

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a dispatcher.
func New(config Config, store queue.Store, caller Caller, sender OutcomeSender) *Dispatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if config.Retention <= 0 {
		config.Retention = queue.DefaultRetention
	}
	return &Dispatcher{
		config: config,
		store:  store,
		caller: caller,
		sender: sender,
		stopCh: make(chan struct{}),
	}
}

// Start launches the poll and cleanup loops.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("starting dispatcher",
		"poll_interval", d.config.PollInterval,
		"cleanup_interval", d.config.CleanupInterval,
	)

	d.wg.Add(2)
	go d.pollLoop(ctx)
	go d.cleanupLoop(ctx)
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	slog.Info("dispatcher stopped")
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.processDue(ctx)
		}
	}
}

func (d *Dispatcher) cleanupLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			res, err := d.store.Cleanup(ctx, d.config.Retention)
			if err != nil {
				slog.Error("queue cleanup failed", "error", err)
				continue
			}
			if res.RemovedCompleted > 0 || res.RemovedFailed > 0 {
				slog.Info("queue cleanup",
					"removed_completed", res.RemovedCompleted,
					"removed_failed", res.RemovedFailed,
				)
			}
		}
	}
}

func (d *Dispatcher) processDue(ctx context.Context) {
	items, err := d.store.DueItems(ctx)
	if err != nil {
		slog.Error("failed to fetch due items", "error", err)
		return
	}

	for _, item := range items {
		d.processItem(ctx, item.ID)
	}
}

func (d *Dispatcher) processItem(ctx context.Context, id string) {
	item, err := d.store.BeginProcessing(ctx, id)
	if err != nil {
		// Another process may have picked the item up between DueItems
		// and here; that's the expected shape of the race.
		if errors.Is(err, queue.ErrNotFound) {
			slog.Debug("due item already taken", "item_id", id)
		} else {
			slog.Error("failed to begin processing", "item_id", id, "error", err)
		}
		return
	}

	start := time.Now()
	outcome := d.placeCall(ctx, item)

	result, err := d.store.CompleteAttempt(ctx, item.ID, outcome)
	if err != nil {
		slog.Error("failed to complete attempt", "item_id", item.ID, "error", err)
		return
	}

	recordCall(string(outcome.Result), time.Since(start))

	switch result.Status {
	case queue.TransitionRescheduled:
		slog.Info("item rescheduled",
			"item_id", item.ID,
			"reference", item.Request.Reference,
			"result", outcome.Result,
			"next_attempt", result.NextAttempt,
		)
	case queue.TransitionCompleted, queue.TransitionFailed:
		slog.Info("item terminated",
			"item_id", item.ID,
			"reference", item.Request.Reference,
			"status", result.Status,
			"result", outcome.Result,
		)
		if err := d.sender.Deliver(ctx, result.Item, outcome); err != nil {
			slog.Error("failed to deliver outcome",
				"item_id", item.ID,
				"reference", item.Request.Reference,
				"error", err,
			)
		}
	}
}

// placeCall starts the call and waits for its outcome. Errors become
// failed outcomes so the queue's retry policy decides what happens next.
func (d *Dispatcher) placeCall(ctx context.Context, item *domain.QueueItem) domain.CallOutcome {
	handle, err := d.caller.StartCall(ctx, item.Request)
	if err != nil {
		slog.Warn("call start failed",
			"item_id", item.ID,
			"reference", item.Request.Reference,
			"error", err,
		)
		return domain.CallOutcome{
			CallStatus: domain.CallStatusFailed,
			Result:     domain.CallResultFailed,
			Reason:     err.Error(),
		}
	}

	outcome, err := d.caller.AwaitOutcome(ctx, handle.ConversationID)
	if err != nil {
		slog.Warn("awaiting call outcome failed",
			"item_id", item.ID,
			"conversation_id", handle.ConversationID,
			"error", err,
		)
		return domain.CallOutcome{
			ConversationID: handle.ConversationID,
			CallStatus:     domain.CallStatusFailed,
			Result:         domain.CallResultFailed,
			Reason:         err.Error(),
		}
	}
	return outcome
}
