package client

import (
	"context"
	"errors"

	"github.com/famomatic/streamgate/internal/challenge"
	"github.com/famomatic/streamgate/internal/extraction"
	"github.com/famomatic/streamgate/internal/procsup"
	"github.com/famomatic/streamgate/internal/streamer"
)

var (
	// ErrInvalidInput indicates malformed input (not a recognizable reference).
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the referenced media does not exist.
	ErrNotFound = errors.New("media not found")
	// ErrUnavailable indicates the media exists but cannot be served.
	ErrUnavailable = errors.New("media unavailable")
	// ErrChallengeUnsolvable indicates the anti-automation challenge could
	// not be completed.
	ErrChallengeUnsolvable = errors.New("challenge unsolvable")
	// ErrUpstreamTransient indicates a retryable upstream failure that
	// exhausted its retries.
	ErrUpstreamTransient = errors.New("transient upstream failure")
	// ErrSaturated indicates the process pools are full and the request
	// was rejected rather than queued.
	ErrSaturated = errors.New("gateway saturated")
	// ErrClosed indicates the gateway has been shut down.
	ErrClosed = errors.New("gateway closed")
	// ErrClientAborted indicates the caller cancelled the request. Normal
	// early-close path, not a gateway failure.
	ErrClientAborted = errors.New("client aborted")
)

// mapError translates internal failures onto the public sentinels while
// keeping the original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return errors.Join(ErrClientAborted, err)
	case errors.Is(err, procsup.ErrSaturated):
		return errors.Join(ErrSaturated, err)
	case errors.Is(err, procsup.ErrClosed):
		return errors.Join(ErrClosed, err)
	case errors.Is(err, challenge.ErrUnsolvable):
		return errors.Join(ErrChallengeUnsolvable, err)
	case errors.Is(err, streamer.ErrNoPlayableFormats):
		return errors.Join(ErrUnavailable, err)
	case errors.Is(err, streamer.ErrNeedsReresolution):
		// A rejection that survived one refresh cycle.
		return errors.Join(ErrUpstreamTransient, err)
	}

	var exErr *extraction.Error
	if errors.As(err, &exErr) {
		switch exErr.Kind {
		case extraction.FailureNotFound:
			return errors.Join(ErrNotFound, err)
		case extraction.FailureUnavailable:
			return errors.Join(ErrUnavailable, err)
		case extraction.FailureChallengeRequired:
			return errors.Join(ErrChallengeUnsolvable, err)
		case extraction.FailureTransient, extraction.FailureUnknown:
			return errors.Join(ErrUpstreamTransient, err)
		}
	}

	var upErr *streamer.UpstreamError
	if errors.As(err, &upErr) {
		if upErr.Transient() {
			return errors.Join(ErrUpstreamTransient, err)
		}
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
