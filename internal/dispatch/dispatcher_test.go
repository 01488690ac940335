package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/agent"
	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"github.com/simplauto/simplauto-agent-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements queue.Store for testing.
type mockStore struct {
	mu          sync.Mutex
	due         []domain.QueueItem
	began       []string
	completed   map[string]domain.CallOutcome
	transitions map[string]*queue.TransitionResult
	beginErr    error
	cleanups    int
}

func newMockStore() *mockStore {
	return &mockStore{
		completed:   make(map[string]domain.CallOutcome),
		transitions: make(map[string]*queue.TransitionResult),
	}
}

func (m *mockStore) Enqueue(_ context.Context, _ domain.RefundRequest, _ *time.Time) (*queue.EnqueueResult, error) {
	return nil, errors.New("not used")
}

func (m *mockStore) DueItems(_ context.Context) ([]domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.due, nil
}

func (m *mockStore) BeginProcessing(_ context.Context, id string) (*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	for _, item := range m.due {
		if item.ID == id {
			m.began = append(m.began, id)
			picked := item
			return &picked, nil
		}
	}
	return nil, queue.ErrNotFound
}

func (m *mockStore) CompleteAttempt(_ context.Context, id string, outcome domain.CallOutcome) (*queue.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[id] = outcome
	if res, ok := m.transitions[id]; ok {
		return res, nil
	}
	return &queue.TransitionResult{Status: queue.TransitionCompleted}, nil
}

func (m *mockStore) Stats(_ context.Context) (*queue.Stats, error) {
	return &queue.Stats{}, nil
}

func (m *mockStore) Cleanup(_ context.Context, _ time.Duration) (*queue.CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
	return &queue.CleanupResult{}, nil
}

// mockCaller implements Caller.
type mockCaller struct {
	startErr error
	outcome  domain.CallOutcome
	started  []string
}

func (m *mockCaller) StartCall(_ context.Context, req domain.RefundRequest) (*agent.CallHandle, error) {
	m.started = append(m.started, req.Reference)
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &agent.CallHandle{ConversationID: "conv_1"}, nil
}

func (m *mockCaller) AwaitOutcome(_ context.Context, conversationID string) (domain.CallOutcome, error) {
	outcome := m.outcome
	outcome.ConversationID = conversationID
	return outcome, nil
}

// mockSender implements OutcomeSender.
type mockSender struct {
	delivered []domain.QueueItem
}

func (m *mockSender) Deliver(_ context.Context, item domain.QueueItem, _ domain.CallOutcome) error {
	m.delivered = append(m.delivered, item)
	return nil
}

func dueItem(id, reference string) domain.QueueItem {
	return domain.QueueItem{
		ID:      id,
		Request: domain.RefundRequest{Reference: reference},
	}
}

func TestDispatcher_ProcessDue(t *testing.T) {
	store := newMockStore()
	store.due = []domain.QueueItem{dueItem("a", "REF_A"), dueItem("b", "REF_B")}
	store.transitions["a"] = &queue.TransitionResult{Status: queue.TransitionCompleted, Item: store.due[0]}
	next := time.Now().Add(time.Hour)
	store.transitions["b"] = &queue.TransitionResult{Status: queue.TransitionRescheduled, NextAttempt: &next}

	caller := &mockCaller{outcome: domain.CallOutcome{
		CallStatus: domain.CallStatusAnswered,
		Result:     domain.CallResultAccepted,
	}}
	sender := &mockSender{}

	d := New(DefaultConfig(), store, caller, sender)
	d.processDue(context.Background())

	assert.Equal(t, []string{"a", "b"}, store.began)
	assert.Equal(t, []string{"REF_A", "REF_B"}, caller.started)
	assert.Len(t, store.completed, 2)
	assert.Equal(t, "conv_1", store.completed["a"].ConversationID)

	// Only terminal transitions are delivered downstream.
	require.Len(t, sender.delivered, 1)
	assert.Equal(t, "REF_A", sender.delivered[0].Request.Reference)
}

func TestDispatcher_StartCallFailureBecomesFailedOutcome(t *testing.T) {
	store := newMockStore()
	store.due = []domain.QueueItem{dueItem("a", "REF_A")}
	store.transitions["a"] = &queue.TransitionResult{Status: queue.TransitionRescheduled}

	caller := &mockCaller{startErr: errors.New("platform down")}
	d := New(DefaultConfig(), store, caller, &mockSender{})

	d.processDue(context.Background())

	require.Contains(t, store.completed, "a")
	outcome := store.completed["a"]
	assert.Equal(t, domain.CallResultFailed, outcome.Result)
	assert.Equal(t, domain.CallStatusFailed, outcome.CallStatus)
	assert.Contains(t, outcome.Reason, "platform down")
}

func TestDispatcher_SkipsItemsTakenByAnotherProcess(t *testing.T) {
	store := newMockStore()
	store.due = []domain.QueueItem{dueItem("a", "REF_A")}
	store.beginErr = queue.ErrNotFound

	caller := &mockCaller{}
	d := New(DefaultConfig(), store, caller, &mockSender{})

	d.processDue(context.Background())

	assert.Empty(t, caller.started)
	assert.Empty(t, store.completed)
}

func TestDispatcher_StartStop(t *testing.T) {
	store := newMockStore()
	cfg := Config{
		PollInterval:    10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
		Retention:       time.Hour,
	}

	d := New(cfg, store, &mockCaller{}, &mockSender{})
	d.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Greater(t, store.cleanups, 0)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, queue.DefaultRetention, cfg.Retention)
}
