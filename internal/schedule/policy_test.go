package schedule

import (
	"testing"
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name    string
		result  domain.CallResult
		attempt int
		want    time.Duration
	}{
		{"callback first", domain.CallResultCallbackRequested, 1, 2 * time.Hour},
		{"callback second", domain.CallResultCallbackRequested, 2, 4 * time.Hour},
		{"callback third", domain.CallResultCallbackRequested, 3, 24 * time.Hour},
		{"callback saturates past table", domain.CallResultCallbackRequested, 4, 24 * time.Hour},
		{"no answer first", domain.CallResultNoAnswer, 1, 30 * time.Minute},
		{"no answer second", domain.CallResultNoAnswer, 2, time.Hour},
		{"no answer third", domain.CallResultNoAnswer, 3, 2 * time.Hour},
		{"voicemail first", domain.CallResultVoicemail, 1, 30 * time.Minute},
		{"failed first", domain.CallResultFailed, 1, 15 * time.Minute},
		{"failed second", domain.CallResultFailed, 2, 30 * time.Minute},
		{"failed third", domain.CallResultFailed, 3, time.Hour},
		{"unknown label falls back to failed table", domain.CallResult("weird"), 1, 15 * time.Minute},
		{"zero attempt clamps to first entry", domain.CallResultNoAnswer, 0, 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(tt.result, tt.attempt))
		})
	}
}

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 3, MaxAttempts(domain.CallResultCallbackRequested))
	assert.Equal(t, 3, MaxAttempts(domain.CallResultNoAnswer))
	assert.Equal(t, 3, MaxAttempts(domain.CallResultFailed))
	assert.Equal(t, 3, MaxAttempts(domain.CallResult("weird")))
}
