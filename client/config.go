package client

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config holds configuration for the media gateway.
type Config struct {
	// ExtractorBin is the resolver tool executable. Default "yt-dlp".
	ExtractorBin string
	// CookieFile is passed to the extractor when set.
	CookieFile string
	// ExtractorTimeout bounds a single extraction. Default 60s.
	ExtractorTimeout time.Duration

	// SolverBin is the external challenge solver runtime. When empty,
	// challenge scripts are evaluated in-process.
	SolverBin string
	// SolverArgs precede the challenge payload, which arrives on stdin.
	SolverArgs []string

	// TranscoderBin is the transcoder executable. Default "ffmpeg".
	TranscoderBin string

	// HTTPClient performs upstream media requests. If nil, a client
	// without an overall timeout is used.
	HTTPClient *http.Client
	// UserAgent is sent on upstream media requests when set.
	UserAgent string

	// MaxExtractors bounds concurrent extractor processes. Default 2.
	MaxExtractors int
	// MaxSolvers bounds concurrent solver processes. Default 1.
	MaxSolvers int
	// MaxTranscoders bounds concurrent transcoder processes. Default 2.
	MaxTranscoders int

	// CacheEntries bounds the resolution cache. Default 256.
	CacheEntries int
	// CacheSafetyMargin is how long before a signed URL's expiry the
	// cached resolution stops being served. Default 2m.
	CacheSafetyMargin time.Duration

	// MaxAttempts bounds transient extraction retries. Default 3.
	MaxAttempts int

	// Catalog resolves track references (e.g. Spotify links) to search
	// references. Optional.
	Catalog Catalog

	// Logger is the structured logger. The zero value discards output.
	Logger zerolog.Logger
	// Registerer receives the gateway's metric collectors. Nil disables
	// registration.
	Registerer prometheus.Registerer
}
