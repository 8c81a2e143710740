package client

import (
	"io"
	"time"

	"github.com/famomatic/streamgate/internal/media"
)

// MediaInfo is the public metadata result of a resolution.
type MediaInfo struct {
	Ref         media.Reference
	Title       string
	DurationSec int64
	Live        bool
	// Expiry is when the underlying signed URLs stop working.
	Expiry time.Time
}

// DeliverOptions shape one delivery.
type DeliverOptions struct {
	// QualityHint narrows format selection, extractor syntax.
	QualityHint string
	// Range requests a byte range; honored only on pass-through
	// deliveries of seekable upstreams.
	Range media.RangeRequest
	// Transcode routes the bytes through the transcoder.
	Transcode media.TranscodeProfile
	// WantVideo selects a video-bearing format instead of audio-only.
	WantVideo bool
}

// StreamHandle is one open delivery. The caller owns it and must Close
// it; Close is idempotent.
type StreamHandle struct {
	io.ReadCloser

	// SessionID identifies the delivery in logs.
	SessionID string
	Info      MediaInfo
	// ContentType of the delivered bytes.
	ContentType string
	// Size is the total byte size, -1 when unknown.
	Size int64
	// Seekable reports whether range requests against the same
	// reference will be honored.
	Seekable bool
}
