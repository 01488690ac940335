// Package filestore implements the durable queue on a single JSON
// document guarded by an advisory lock file, so several processes can
// share one queue without a database. Every operation is a lock-guarded
// load/transform/persist cycle; writes are atomic via rename.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"github.com/simplauto/simplauto-agent-api/internal/queue"
	"github.com/simplauto/simplauto-agent-api/internal/schedule"
)

const (
	queueFileName = "queue.json"
	lockFileName  = "queue.lock"
)

// Config contains file store configuration.
type Config struct {
	// Dir holds the queue document and lock marker.
	Dir string
	// Holder identifies this process in the lock marker. Defaults to the
	// hostname.
	Holder string

	LockTimeout   time.Duration
	LockStaleness time.Duration
}

// Store is the file-backed queue store.
type Store struct {
	path string
	lock *fileLock
	cal  *schedule.Calendar

	now func() time.Time
}

// New creates a file store in cfg.Dir, creating the directory if needed.
func New(cfg Config, cal *schedule.Calendar) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("filestore: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	holder := cfg.Holder
	if holder == "" {
		holder, _ = os.Hostname()
	}

	return &Store{
		path: filepath.Join(cfg.Dir, queueFileName),
		lock: newFileLock(filepath.Join(cfg.Dir, lockFileName), holder, cfg.LockTimeout, cfg.LockStaleness),
		cal:  cal,
		now:  time.Now,
	}, nil
}

// document is the persisted aggregate. The layout matches what earlier
// deployments wrote, so an existing queue file is picked up as-is.
type document struct {
	Pending    []domain.QueueItem `json:"pending"`
	Processing []domain.QueueItem `json:"processing"`
	Completed  []domain.QueueItem `json:"completed"`
	Failed     []domain.QueueItem `json:"failed"`
	Counters   queue.Counters     `json:"stats"`
}

func emptyDocument() *document {
	return &document{
		Pending:    []domain.QueueItem{},
		Processing: []domain.QueueItem{},
		Completed:  []domain.QueueItem{},
		Failed:     []domain.QueueItem{},
	}
}

// Enqueue implements queue.Store.
func (s *Store) Enqueue(ctx context.Context, req domain.RefundRequest, scheduledFor *time.Time) (*queue.EnqueueResult, error) {
	var result *queue.EnqueueResult
	err := s.update(ctx, func(doc *document) error {
		now := s.now()
		scheduled := s.cal.NextOpenTime(now, 0)
		if scheduledFor != nil {
			scheduled = *scheduledFor
		}

		item := domain.QueueItem{
			ID:           uuid.NewString(),
			CreatedAt:    now,
			ScheduledFor: scheduled,
			Kind:         domain.ItemKindInitial,
			Status:       domain.ItemStatusPending,
			History:      []domain.AttemptRecord{},
			Request:      req,
		}

		doc.Pending = append(doc.Pending, item)
		doc.Counters.TotalRequests++

		result = &queue.EnqueueResult{ID: item.ID, ScheduledFor: scheduled}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DueItems implements queue.Store.
func (s *Store) DueItems(ctx context.Context) ([]domain.QueueItem, error) {
	var due []domain.QueueItem
	err := s.view(ctx, func(doc *document) error {
		now := s.now()
		for _, item := range doc.Pending {
			if !item.ScheduledFor.After(now) {
				due = append(due, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// BeginProcessing implements queue.Store.
func (s *Store) BeginProcessing(ctx context.Context, id string) (*domain.QueueItem, error) {
	var picked *domain.QueueItem
	err := s.update(ctx, func(doc *document) error {
		item, ok := removeByID(&doc.Pending, id)
		if !ok {
			return fmt.Errorf("%w: %s not in pending", queue.ErrNotFound, id)
		}

		now := s.now()
		item.Status = domain.ItemStatusProcessing
		item.ProcessingStartedAt = &now
		doc.Processing = append(doc.Processing, item)

		picked = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

// CompleteAttempt implements queue.Store.
func (s *Store) CompleteAttempt(ctx context.Context, id string, outcome domain.CallOutcome) (*queue.TransitionResult, error) {
	var result *queue.TransitionResult
	err := s.update(ctx, func(doc *document) error {
		item, ok := removeByID(&doc.Processing, id)
		if !ok {
			return fmt.Errorf("%w: %s not in processing", queue.ErrNotFound, id)
		}

		now := s.now()
		item.History = append(item.History, domain.AttemptRecord{
			Timestamp:      now,
			ConversationID: outcome.ConversationID,
			CallStatus:     outcome.CallStatus,
			Result:         outcome.Result,
			Reason:         outcome.Reason,
		})
		item.Attempts.Total++
		item.LastResult = outcome.Result

		switch {
		case outcome.Result.IsTerminal():
			item.Status = domain.ItemStatusCompleted
			item.CompletedAt = &now
			doc.Completed = append(doc.Completed, item)
			doc.Counters.SuccessfulCalls++
			result = &queue.TransitionResult{Status: queue.TransitionCompleted, Item: item}

		case outcome.Result == domain.CallResultCallbackRequested:
			item.Attempts.CallbackRequests++
			if item.Attempts.CallbackRequests >= schedule.MaxAttempts(outcome.Result) {
				result = failItem(doc, &item, now, "too many callbacks (max 3)")
				return nil
			}
			next := s.reschedule(doc, &item, now, outcome.Result, item.Attempts.CallbackRequests, domain.ItemKindCallback)
			doc.Counters.CallbacksRequested++
			result = &queue.TransitionResult{Status: queue.TransitionRescheduled, Item: item, NextAttempt: &next}

		default:
			// Technical failure category: no_answer, voicemail, failed,
			// and any label the policy does not know.
			item.Attempts.TechnicalFailures++
			if item.Attempts.TechnicalFailures >= schedule.MaxAttempts(outcome.Result) {
				result = failItem(doc, &item, now, "too many technical failures (max 3)")
				return nil
			}
			next := s.reschedule(doc, &item, now, outcome.Result, item.Attempts.TechnicalFailures, domain.ItemKindRetry)
			result = &queue.TransitionResult{Status: queue.TransitionRescheduled, Item: item, NextAttempt: &next}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	queue.RecordTransition(result.Status)
	return result, nil
}

// reschedule puts the item back into pending with a schedule derived from
// the policy delay for this attempt, snapped to the business calendar.
func (s *Store) reschedule(doc *document, item *domain.QueueItem, now time.Time, result domain.CallResult, attempt int, kind domain.ItemKind) time.Time {
	delay := schedule.RetryDelay(result, attempt)
	next := s.cal.NextOpenTime(now, delay)

	item.ScheduledFor = next
	item.Kind = kind
	item.Status = domain.ItemStatusPending
	doc.Pending = append(doc.Pending, *item)

	return next
}

func failItem(doc *document, item *domain.QueueItem, now time.Time, reason string) *queue.TransitionResult {
	item.Status = domain.ItemStatusFailed
	item.FailedAt = &now
	item.FailureReason = reason
	doc.Failed = append(doc.Failed, *item)
	doc.Counters.FailedCalls++
	return &queue.TransitionResult{Status: queue.TransitionFailed, Item: *item}
}

// Stats implements queue.Store.
func (s *Store) Stats(ctx context.Context) (*queue.Stats, error) {
	var stats *queue.Stats
	err := s.view(ctx, func(doc *document) error {
		pending := make([]domain.QueueItem, len(doc.Pending))
		copy(pending, doc.Pending)
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].ScheduledFor.Before(pending[j].ScheduledFor)
		})

		next := make([]queue.UpcomingItem, 0, 5)
		for _, item := range pending {
			if len(next) == 5 {
				break
			}
			next = append(next, queue.UpcomingItem{
				ID:           item.ID,
				Reference:    item.Request.Reference,
				ScheduledFor: item.ScheduledFor,
				Kind:         item.Kind,
				Attempts:     item.Attempts.Total,
			})
		}

		stats = &queue.Stats{
			Pending:    len(doc.Pending),
			Processing: len(doc.Processing),
			Completed:  len(doc.Completed),
			Failed:     len(doc.Failed),
			Counters:   doc.Counters,
			NextItems:  next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	queue.RecordStats(stats)
	return stats, nil
}

// Cleanup implements queue.Store.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (*queue.CleanupResult, error) {
	if retention <= 0 {
		retention = queue.DefaultRetention
	}

	var result *queue.CleanupResult
	err := s.update(ctx, func(doc *document) error {
		cutoff := s.now().Add(-retention)

		var removedCompleted, removedFailed int
		doc.Completed, removedCompleted = pruneOlder(doc.Completed, cutoff, func(item domain.QueueItem) time.Time {
			if item.CompletedAt != nil {
				return *item.CompletedAt
			}
			return item.CreatedAt
		})
		doc.Failed, removedFailed = pruneOlder(doc.Failed, cutoff, func(item domain.QueueItem) time.Time {
			if item.FailedAt != nil {
				return *item.FailedAt
			}
			return item.CreatedAt
		})

		result = &queue.CleanupResult{RemovedCompleted: removedCompleted, RemovedFailed: removedFailed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// update runs fn inside a lock-guarded load/transform/persist cycle. The
// lock is released on every exit path; the document is persisted only when
// fn succeeds.
func (s *Store) update(ctx context.Context, fn func(doc *document) error) error {
	token, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.lock.Release(token)

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(token, doc)
}

// view is update without the persist step, for read-only operations. It
// still takes the exclusive lock so snapshots are consistent with
// concurrent writers.
func (s *Store) view(ctx context.Context, fn func(doc *document) error) error {
	token, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.lock.Release(token)

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyDocument(), nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse queue file: %w", err)
	}
	return doc, nil
}

// save persists the document atomically. It re-checks the fencing token
// first: a holder whose lock was reclaimed as stale must abort rather
// than overwrite a concurrent writer's update.
func (s *Store) save(token string, doc *document) error {
	if !s.lock.Held(token) {
		return queue.ErrLockLost
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

func removeByID(items *[]domain.QueueItem, id string) (domain.QueueItem, bool) {
	for i, item := range *items {
		if item.ID == id {
			*items = append((*items)[:i], (*items)[i+1:]...)
			return item, true
		}
	}
	return domain.QueueItem{}, false
}

func pruneOlder(items []domain.QueueItem, cutoff time.Time, stampOf func(domain.QueueItem) time.Time) ([]domain.QueueItem, int) {
	kept := items[:0]
	removed := 0
	for _, item := range items {
		if stampOf(item).After(cutoff) {
			kept = append(kept, item)
		} else {
			removed++
		}
	}
	return kept, removed
}
