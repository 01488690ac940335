// Package agent talks to the voice-agent platform: it starts outbound
// calls, polls conversations until they finish, and classifies transcripts
// into call outcomes.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config holds voice-agent platform configuration.
type Config struct {
	// APIURL is the outbound-call endpoint.
	APIURL string
	// ConversationURL is the base URL for conversation lookups, the
	// conversation id is appended.
	ConversationURL string
	APIKey          string
	AgentID         string
	PhoneNumberID   string
	PhoneNumber     string

	CallTimeout time.Duration
	// RateLimit caps outbound calls per second. Zero disables limiting.
	RateLimit float64

	// PollInterval and PollBudget drive AwaitOutcome: how often a running
	// conversation is re-checked, and how long before it is written off
	// as failed.
	PollInterval time.Duration
	PollBudget   time.Duration
}

// Validate checks that every field required to place calls is set.
func (c Config) Validate() error {
	var missing []string
	if c.APIURL == "" {
		missing = append(missing, "api_url")
	}
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.AgentID == "" {
		missing = append(missing, "agent_id")
	}
	if c.PhoneNumberID == "" {
		missing = append(missing, "phone_number_id")
	}
	if c.PhoneNumber == "" {
		missing = append(missing, "phone_number")
	}
	if len(missing) > 0 {
		return fmt.Errorf("agent config incomplete, missing: %v", missing)
	}
	return nil
}

// CallHandle identifies a started call on the platform.
type CallHandle struct {
	ConversationID string `json:"conversation_id"`
	SIPCallID      string `json:"sip_call_id"`
}

// Conversation is the platform's view of a call.
type Conversation struct {
	Status     string `json:"status"`
	Transcript []struct {
		Role    string `json:"role"`
		Message string `json:"message"`
	} `json:"transcript"`
	Metadata struct {
		DurationSeconds float64 `json:"duration_seconds"`
	} `json:"metadata"`
}

// ErrMissingPhone means the payload carries no center phone number, so no
// call can be placed.
var ErrMissingPhone = errors.New("center phone number is required")

// Client places and monitors calls. Outbound requests go through a rate
// limiter and a circuit breaker so a failing platform does not get
// hammered by every due item at once.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a voice-agent client.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.CallTimeout <= 0 {
		config.CallTimeout = 60 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.PollBudget <= 0 {
		config.PollBudget = 5 * time.Minute
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "voice-agent",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	slog.Info("voice-agent client configured",
		"agent_id", config.AgentID,
		"phone_number", config.PhoneNumber,
		"rate_limit", config.RateLimit,
	)

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.CallTimeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
	}, nil
}

type startCallRequest struct {
	AgentID            string         `json:"agent_id"`
	AgentPhoneNumberID string         `json:"agent_phone_number_id"`
	ToNumber           string         `json:"to_number"`
	InitiationData     initiationData `json:"conversation_initiation_client_data"`
}

type initiationData struct {
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// StartCall asks the platform to dial the center about the given request.
func (c *Client) StartCall(ctx context.Context, req domain.RefundRequest) (*CallHandle, error) {
	if req.CenterPhone == "" {
		return nil, ErrMissingPhone
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := startCallRequest{
		AgentID:            c.config.AgentID,
		AgentPhoneNumberID: c.config.PhoneNumberID,
		ToNumber:           req.CenterPhone,
		InitiationData: initiationData{
			DynamicVariables: map[string]string{
				"nom_client":       req.CustomerName,
				"date_reservation": req.BookingDate,
				"marque_vehicule":  req.VehicleBrand,
				"modele_vehicule":  req.VehicleModel,
				"immatriculation":  req.Registration,
				"reference":        req.Reference,
			},
		},
	}

	slog.Info("starting outbound call",
		"reference", req.Reference,
		"to", req.CenterPhone,
		"agent_id", c.config.AgentID,
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var handle CallHandle
		if err := c.postJSON(ctx, c.config.APIURL, payload, &handle); err != nil {
			return nil, err
		}
		return &handle, nil
	})
	if err != nil {
		return nil, fmt.Errorf("start call for %s: %w", req.Reference, err)
	}

	handle := result.(*CallHandle)
	slog.Info("outbound call started",
		"reference", req.Reference,
		"conversation_id", handle.ConversationID,
		"sip_call_id", handle.SIPCallID,
	)
	return handle, nil
}

// Conversation fetches the current state of a conversation.
func (c *Client) Conversation(ctx context.Context, conversationID string) (*Conversation, error) {
	url := c.config.ConversationURL + "/" + conversationID

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var conv Conversation
		if err := c.getJSON(ctx, url, &conv); err != nil {
			return nil, err
		}
		return &conv, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", conversationID, err)
	}
	return result.(*Conversation), nil
}

// AwaitOutcome polls the conversation until it finishes and classifies it.
// A conversation that does not finish within the poll budget is reported
// as a failed call so the retry policy applies.
func (c *Client) AwaitOutcome(ctx context.Context, conversationID string) (domain.CallOutcome, error) {
	deadline := time.Now().Add(c.config.PollBudget)

	for {
		conv, err := c.Conversation(ctx, conversationID)
		if err != nil {
			slog.Warn("conversation poll failed", "conversation_id", conversationID, "error", err)
		} else if conv.Status == "done" {
			outcome := Classify(conv)
			outcome.ConversationID = conversationID
			return outcome, nil
		}

		if time.Now().After(deadline) {
			slog.Warn("conversation did not finish in time", "conversation_id", conversationID)
			return domain.CallOutcome{
				ConversationID: conversationID,
				CallStatus:     domain.CallStatusFailed,
				Result:         domain.CallResultFailed,
				Reason:         "conversation did not finish in time",
			}, nil
		}

		timer := time.NewTimer(c.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.CallOutcome{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) postJSON(ctx context.Context, url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.config.APIKey)

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.config.APIKey)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("voice-agent api returned %d: %s", resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
