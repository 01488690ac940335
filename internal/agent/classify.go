package agent

import (
	"strings"
	"unicode"

	"github.com/simplauto/simplauto-agent-api/internal/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// minAnsweredDuration separates a real pickup from a call that rang out.
const minAnsweredDuration = 5.0 // seconds

// foldAccents strips diacritics so keyword matching works on transcripts
// whether or not the speech-to-text layer preserved accents
// ("accepté" and "accepte" must both match).
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Classify turns a finished conversation into a call outcome: first the
// call status from duration and transcript shape, then, for answered
// calls, the center's decision from keyword matching over the transcript.
func Classify(conv *Conversation) domain.CallOutcome {
	hasTranscript := len(conv.Transcript) > 0

	if conv.Metadata.DurationSeconds < minAnsweredDuration && !hasTranscript {
		return domain.CallOutcome{
			CallStatus: domain.CallStatusNoAnswer,
			Result:     domain.CallResultNoAnswer,
		}
	}

	text := foldedTranscript(conv)

	if strings.Contains(text, "voicemail") || strings.Contains(text, "messagerie vocale") {
		return domain.CallOutcome{
			CallStatus: domain.CallStatusVoicemail,
			Result:     domain.CallResultVoicemail,
		}
	}

	if !hasTranscript {
		return domain.CallOutcome{
			CallStatus: domain.CallStatusFailed,
			Result:     domain.CallResultFailed,
		}
	}

	switch {
	case containsAny(text, "accepte", "valide", "accord"):
		return domain.CallOutcome{
			CallStatus: domain.CallStatusAnswered,
			Result:     domain.CallResultAccepted,
		}
	case containsAny(text, "refuse", "impossible", "pas possible"):
		return domain.CallOutcome{
			CallStatus: domain.CallStatusAnswered,
			Result:     domain.CallResultRejected,
			Reason:     rejectionReason(text),
		}
	default:
		return domain.CallOutcome{
			CallStatus: domain.CallStatusAnswered,
			Result:     domain.CallResultCallbackRequested,
			Reason:     "center answer needs clarification",
		}
	}
}

// rejectionReason extracts a rough refusal motive from the transcript.
func rejectionReason(text string) string {
	switch {
	case strings.Contains(text, "absent"):
		return "customer missed the appointment"
	case strings.Contains(text, "delai"):
		return "refund window expired"
	case strings.Contains(text, "politique"):
		return "center refund policy"
	default:
		return "no reason given"
	}
}

func foldedTranscript(conv *Conversation) string {
	var b strings.Builder
	for _, msg := range conv.Transcript {
		b.WriteString(msg.Message)
		b.WriteByte(' ')
	}

	folded, _, err := transform.String(foldAccents, b.String())
	if err != nil {
		folded = b.String()
	}
	return strings.ToLower(folded)
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
