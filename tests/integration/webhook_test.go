//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_EnqueuesRefundRequest(t *testing.T) {
	client := newTestClient(t)

	reference := nextReference()
	resp, err := client.POST("/api/webhook/refund-request", refundPayload(reference))
	require.NoError(t, err)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		Data struct {
			ID           string    `json:"id"`
			ScheduledFor time.Time `json:"scheduled_for"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &result)

	assert.NotEmpty(t, result.Data.ID)
	assert.False(t, result.Data.ScheduledFor.IsZero())
}

func TestWebhook_ExplicitSchedule(t *testing.T) {
	client := newTestClient(t)

	scheduled := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	payload := refundPayload(nextReference())
	payload["scheduled_for"] = scheduled.Format(time.RFC3339)

	resp, err := client.POST("/api/webhook/refund-request", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		Data struct {
			ScheduledFor time.Time `json:"scheduled_for"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &result)

	assert.True(t, result.Data.ScheduledFor.Equal(scheduled),
		"expected %v, got %v", scheduled, result.Data.ScheduledFor)
}

func TestWebhook_RejectsIncompletePayload(t *testing.T) {
	client := newTestClient(t)

	payload := refundPayload(nextReference())
	payload["customer"] = map[string]interface{}{"first_name": "Marie"}

	resp, err := client.POST("/api/webhook/refund-request", payload)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_RejectsInvalidPhone(t *testing.T) {
	client := newTestClient(t)

	payload := refundPayload(nextReference())
	payload["center"] = map[string]interface{}{"phone": "12345"}

	resp, err := client.POST("/api/webhook/refund-request", payload)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_AcceptsAffiliatedPhoneOnly(t *testing.T) {
	client := newTestClient(t)

	payload := refundPayload(nextReference())
	payload["center"] = map[string]interface{}{"affiliated_phone": "+33 6 12 34 56 78"}

	resp, err := client.POST("/api/webhook/refund-request", payload)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
