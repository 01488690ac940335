package domain

import "time"

// ItemStatus mirrors the partition currently holding a queue item.
type ItemStatus string

// Item statuses.
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// ItemKind records why the current attempt of an item exists.
type ItemKind string

// Item kinds.
const (
	ItemKindInitial  ItemKind = "initial"
	ItemKindRetry    ItemKind = "retry"
	ItemKindCallback ItemKind = "callback"
)

// CallResult classifies the outcome of a single call attempt.
type CallResult string

// Call results. Accepted and Rejected are terminal business outcomes,
// CallbackRequested schedules a callback, everything else counts as a
// technical failure.
const (
	CallResultAccepted          CallResult = "accepted"
	CallResultRejected          CallResult = "rejected"
	CallResultCallbackRequested CallResult = "callback_requested"
	CallResultNoAnswer          CallResult = "no_answer"
	CallResultVoicemail         CallResult = "voicemail"
	CallResultFailed            CallResult = "failed"
)

// IsTerminal returns true for results that end the item's lifecycle
// successfully from the queue's point of view.
func (r CallResult) IsTerminal() bool {
	return r == CallResultAccepted || r == CallResultRejected
}

// CallStatus describes how a call itself went, independent of the
// business outcome extracted from it.
type CallStatus string

// Call statuses.
const (
	CallStatusAnswered  CallStatus = "answered"
	CallStatusNoAnswer  CallStatus = "no_answer"
	CallStatusVoicemail CallStatus = "voicemail"
	CallStatusFailed    CallStatus = "failed"
)

// AttemptCounters tracks attempt counts per category. Counters only ever
// increase; callback requests and technical failures are counted
// independently, each against its own ceiling.
type AttemptCounters struct {
	Total             int `json:"total"`
	TechnicalFailures int `json:"technical_failures"`
	CallbackRequests  int `json:"callback_requests"`
}

// AttemptRecord is one entry in an item's append-only attempt history.
type AttemptRecord struct {
	Timestamp      time.Time  `json:"timestamp"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CallStatus     CallStatus `json:"call_status"`
	Result         CallResult `json:"result"`
	Reason         string     `json:"reason,omitempty"`
}

// CallOutcome is the result of a finished call attempt, fed back into the
// queue to decide whether the item is retried, rescheduled or terminated.
type CallOutcome struct {
	ConversationID string     `json:"conversation_id,omitempty"`
	CallStatus     CallStatus `json:"call_status"`
	Result         CallResult `json:"result"`
	Reason         string     `json:"reason,omitempty"`
}

// QueueItem is one unit of deferred work moving through the queue.
type QueueItem struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Kind         ItemKind        `json:"type"`
	Status       ItemStatus      `json:"status,omitempty"`
	Attempts     AttemptCounters `json:"attempts"`
	LastResult   CallResult      `json:"last_result,omitempty"`
	History      []AttemptRecord `json:"history"`
	Request      RefundRequest   `json:"data"`

	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	FailedAt            *time.Time `json:"failed_at,omitempty"`
	FailureReason       string     `json:"failure_reason,omitempty"`
}
