// Package delivery posts final call outcomes to the downstream automation
// webhook that updates the back office.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Config holds delivery webhook configuration.
type Config struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// Sender delivers call outcomes to the automation webhook.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a delivery sender. Returns an error if enabled
// without a webhook URL.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled && config.WebhookURL == "" {
		return nil, fmt.Errorf("delivery sender: webhook url is required when enabled")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("delivery sender configured", "enabled", config.Enabled)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

type outcomePayload struct {
	Booking struct {
		BackofficeURL string `json:"backoffice_url"`
	} `json:"booking"`
	Order struct {
		Reference string `json:"reference"`
	} `json:"order"`
	CallResult callResultPayload `json:"call_result"`
}

type callResultPayload struct {
	CallStatus domain.CallStatus `json:"call_status"`
	Result     domain.CallResult `json:"result"`
	Reason     string            `json:"reason,omitempty"`
	Attempts   int               `json:"attempts"`
}

// Deliver posts the item's final outcome downstream. Items without a
// backoffice URL have nowhere to deliver to and are skipped silently;
// a disabled sender logs and drops.
func (s *Sender) Deliver(ctx context.Context, item domain.QueueItem, outcome domain.CallOutcome) error {
	if item.Request.BackofficeURL == "" {
		slog.Debug("no backoffice url, skipping delivery", "reference", item.Request.Reference)
		return nil
	}
	if !s.config.Enabled {
		slog.Debug("delivery disabled, skipping", "reference", item.Request.Reference)
		return nil
	}

	payload := outcomePayload{
		CallResult: callResultPayload{
			CallStatus: outcome.CallStatus,
			Result:     outcome.Result,
			Reason:     outcome.Reason,
			Attempts:   item.Attempts.Total,
		},
	}
	payload.Booking.BackofficeURL = item.Request.BackofficeURL
	payload.Order.Reference = item.Request.Reference

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver outcome for %s: %w", item.Request.Reference, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("automation webhook returned %d: %s", resp.StatusCode, respBody)
	}

	slog.Info("outcome delivered",
		"reference", item.Request.Reference,
		"result", outcome.Result,
	)
	return nil
}
