package refund

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"github.com/simplauto/simplauto-agent-api/internal/queue"
)

type mockStore struct {
	enqueued     []domain.RefundRequest
	enqueuedFor  []*time.Time
	enqueueErr   error
	stats        *queue.Stats
	cleanupCalls int
}

func (m *mockStore) Enqueue(_ context.Context, req domain.RefundRequest, scheduledFor *time.Time) (*queue.EnqueueResult, error) {
	if m.enqueueErr != nil {
		return nil, m.enqueueErr
	}
	m.enqueued = append(m.enqueued, req)
	m.enqueuedFor = append(m.enqueuedFor, scheduledFor)
	return &queue.EnqueueResult{ID: "item-1", ScheduledFor: time.Date(2025, 7, 28, 10, 0, 0, 0, time.UTC)}, nil
}

func (m *mockStore) DueItems(context.Context) ([]domain.QueueItem, error) { return nil, nil }

func (m *mockStore) BeginProcessing(context.Context, string) (*domain.QueueItem, error) {
	return nil, queue.ErrNotFound
}

func (m *mockStore) CompleteAttempt(context.Context, string, domain.CallOutcome) (*queue.TransitionResult, error) {
	return nil, queue.ErrNotFound
}

func (m *mockStore) Stats(context.Context) (*queue.Stats, error) {
	if m.stats != nil {
		return m.stats, nil
	}
	return &queue.Stats{NextItems: []queue.UpcomingItem{}}, nil
}

func (m *mockStore) Cleanup(context.Context, time.Duration) (*queue.CleanupResult, error) {
	m.cleanupCalls++
	return &queue.CleanupResult{RemovedCompleted: 2, RemovedFailed: 1}, nil
}

func newTestRouter(store queue.Store) http.Handler {
	h := NewHandler(store)
	r := chi.NewRouter()
	r.Route("/api/webhook", h.RegisterWebhookRoutes)
	r.Route("/api/queue", h.RegisterQueueRoutes)
	return r
}

func validPayload() map[string]interface{} {
	return map[string]interface{}{
		"booking": map[string]interface{}{
			"date":           "2025-07-20",
			"backoffice_url": "https://backoffice.example.com/orders/CT-1234",
		},
		"order":    map[string]interface{}{"reference": "CT-1234"},
		"customer": map[string]interface{}{"first_name": "Marie", "last_name": "Dupont"},
		"vehicule": map[string]interface{}{
			"brand":               "Renault",
			"model":               "Clio",
			"registration_number": "AB-123-CD",
		},
		"center": map[string]interface{}{"phone": "01 23 45 67 89"},
	}
}

func postJSON(t *testing.T, router http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateRefundRequest(t *testing.T) {
	store := &mockStore{}
	router := newTestRouter(store)

	rec := postJSON(t, router, "/api/webhook/refund-request", validPayload())

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.enqueued, 1)

	got := store.enqueued[0]
	assert.Equal(t, "CT-1234", got.Reference)
	assert.Equal(t, "Marie Dupont", got.CustomerName)
	assert.Equal(t, "+33123456789", got.CenterPhone)
	assert.Equal(t, "https://backoffice.example.com/orders/CT-1234", got.BackofficeURL)
	assert.Nil(t, store.enqueuedFor[0])

	var resp struct {
		Data queue.EnqueueResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "item-1", resp.Data.ID)
}

func TestCreateRefundRequest_EmptyVehicleFields(t *testing.T) {
	store := &mockStore{}
	router := newTestRouter(store)

	payload := validPayload()
	payload["vehicule"] = map[string]interface{}{}

	rec := postJSON(t, router, "/api/webhook/refund-request", payload)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.enqueued, 1)
	assert.Equal(t, "non renseignée", store.enqueued[0].VehicleBrand)
	assert.Equal(t, "non renseigné", store.enqueued[0].VehicleModel)
	assert.Equal(t, "non renseignée", store.enqueued[0].Registration)
}

func TestCreateRefundRequest_AffiliatedPhoneFallback(t *testing.T) {
	store := &mockStore{}
	router := newTestRouter(store)

	payload := validPayload()
	payload["center"] = map[string]interface{}{"affiliated_phone": "+33 6 12 34 56 78"}

	rec := postJSON(t, router, "/api/webhook/refund-request", payload)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.enqueued, 1)
	assert.Equal(t, "+33612345678", store.enqueued[0].CenterPhone)
}

func TestCreateRefundRequest_ExplicitSchedule(t *testing.T) {
	store := &mockStore{}
	router := newTestRouter(store)

	payload := validPayload()
	payload["scheduled_for"] = "2025-08-04T09:30:00+02:00"

	rec := postJSON(t, router, "/api/webhook/refund-request", payload)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.enqueuedFor, 1)
	require.NotNil(t, store.enqueuedFor[0])
	assert.Equal(t, 2025, store.enqueuedFor[0].Year())
}

func TestCreateRefundRequest_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing reference", func(p map[string]interface{}) {
			p["order"] = map[string]interface{}{}
		}},
		{"missing first name", func(p map[string]interface{}) {
			p["customer"] = map[string]interface{}{"last_name": "Dupont"}
		}},
		{"missing booking date", func(p map[string]interface{}) {
			p["booking"] = map[string]interface{}{}
		}},
		{"no phone at all", func(p map[string]interface{}) {
			p["center"] = map[string]interface{}{}
		}},
		{"invalid phone", func(p map[string]interface{}) {
			p["center"] = map[string]interface{}{"phone": "12345"}
		}},
		{"invalid backoffice url", func(p map[string]interface{}) {
			p["booking"] = map[string]interface{}{"date": "2025-07-20", "backoffice_url": "not a url"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			router := newTestRouter(store)

			payload := validPayload()
			tt.mutate(payload)

			rec := postJSON(t, router, "/api/webhook/refund-request", payload)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, store.enqueued)
		})
	}
}

func TestCreateRefundRequest_InvalidJSON(t *testing.T) {
	router := newTestRouter(&mockStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/refund-request", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRefundRequest_LockTimeout(t *testing.T) {
	store := &mockStore{enqueueErr: queue.ErrLockTimeout}
	router := newTestRouter(store)

	rec := postJSON(t, router, "/api/webhook/refund-request", validPayload())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetStats(t *testing.T) {
	store := &mockStore{stats: &queue.Stats{
		Pending:   3,
		Completed: 7,
		Counters:  queue.Counters{TotalRequests: 10, SuccessfulCalls: 7},
		NextItems: []queue.UpcomingItem{},
	}}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data queue.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Pending)
	assert.Equal(t, 10, resp.Data.Counters.TotalRequests)
}

func TestCleanup(t *testing.T) {
	store := &mockStore{}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/cleanup", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.cleanupCalls)

	var resp struct {
		Data queue.CleanupResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.RemovedCompleted)
	assert.Equal(t, 1, resp.Data.RemovedFailed)
}
