package schedule

import (
	"time"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
)

// Retry delay sequences in minutes, indexed by the attempt number within
// the result's category. A result without its own table uses the failed
// table. The sequence length doubles as the retry ceiling for the
// category.
var retryDelays = map[domain.CallResult][]int{
	domain.CallResultCallbackRequested: {120, 240, 1440},
	domain.CallResultNoAnswer:          {30, 60, 120},
	domain.CallResultVoicemail:         {30, 60, 120},
	domain.CallResultFailed:            {15, 30, 60},
}

// RetryDelay returns the backoff before the next attempt for the given
// result, where attempt is 1-based within the result's category. Attempts
// beyond the table saturate on its last entry.
func RetryDelay(result domain.CallResult, attempt int) time.Duration {
	delays, ok := retryDelays[result]
	if !ok {
		delays = retryDelays[domain.CallResultFailed]
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}

	return time.Duration(delays[idx]) * time.Minute
}

// MaxAttempts returns the retry ceiling for the result's category.
func MaxAttempts(result domain.CallResult) int {
	delays, ok := retryDelays[result]
	if !ok {
		delays = retryDelays[domain.CallResultFailed]
	}
	return len(delays)
}
