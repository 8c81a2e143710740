package extraction

import (
	"fmt"

	"github.com/famomatic/streamgate/internal/media"
)

// FailureKind classifies extractor failures for the retry policy.
type FailureKind int

const (
	// FailureTransient covers network blips, throttling and timeouts;
	// retried with backoff.
	FailureTransient FailureKind = iota
	// FailureChallengeRequired means the platform issued an
	// anti-automation challenge; one solver cycle is attempted.
	FailureChallengeRequired
	// FailureNotFound is terminal: the reference does not resolve.
	FailureNotFound
	// FailureUnavailable is terminal: resolved but not playable.
	FailureUnavailable
	// FailureUnknown is an unrecognized failure; retried once.
	FailureUnknown
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureChallengeRequired:
		return "challenge_required"
	case FailureNotFound:
		return "not_found"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified extraction failure.
type Error struct {
	Kind FailureKind
	Ref  media.Reference
	// ChallengePayload carries the raw challenge emitted by the
	// extractor when Kind is FailureChallengeRequired.
	ChallengePayload string
	Detail           string
	Err              error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("extraction %s for %s: %s", e.Kind, e.Ref.Key(), e.Detail)
	}
	return fmt.Sprintf("extraction %s for %s", e.Kind, e.Ref.Key())
}

func (e *Error) Unwrap() error {
	return e.Err
}
