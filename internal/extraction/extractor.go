// Package extraction adapts the external extractor process: it builds the
// invocation, parses the tool's JSON document into a typed Resolution and
// classifies every failure mode the tool is known to produce.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/internal/media"
	"github.com/famomatic/streamgate/internal/metrics"
	"github.com/famomatic/streamgate/internal/procsup"
)

// challengeMarker is the recognizable signature the extractor prints on
// stderr when the platform demands a solved challenge. Everything after
// the marker on that line is the raw challenge payload.
const challengeMarker = "CHALLENGE_REQUIRED:"

// Runner is the slice of the process supervisor the extractor needs.
type Runner interface {
	Run(ctx context.Context, kind procsup.Kind, bin string, args []string, opts procsup.RunOptions) (procsup.Output, error)
}

// Config configures the extractor adapter.
type Config struct {
	// Bin is the extractor executable. Default "yt-dlp".
	Bin string
	// CookieFile is passed to the extractor when set.
	CookieFile string
	// Timeout for a single extractor invocation. Default 60s.
	Timeout time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Extractor invokes the external extractor through the supervisor.
type Extractor struct {
	cfg Config
	run Runner
	log zerolog.Logger
}

// New creates an extractor adapter on top of runner.
func New(runner Runner, cfg Config) *Extractor {
	if cfg.Bin == "" {
		cfg.Bin = "yt-dlp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Extractor{cfg: cfg, run: runner, log: cfg.Logger}
}

// payload is the extractor's JSON document. Unknown fields are ignored;
// an undecodable document is a classified failure, never a success.
type payload struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Duration int64           `json:"duration"`
	IsLive   bool            `json:"is_live"`
	URL      string          `json:"url"`
	Formats  []payloadFormat `json:"formats"`
}

type payloadFormat struct {
	URL      string  `json:"url"`
	Ext      string  `json:"ext"`
	MimeType string  `json:"mime_type"`
	ACodec   string  `json:"acodec"`
	VCodec   string  `json:"vcodec"`
	ABR      float64 `json:"abr"`
	TBR      float64 `json:"tbr"`
	Filesize int64   `json:"filesize"`
}

// Extract resolves ref into a Resolution. A non-empty solvedToken is
// attached to the invocation when retrying after a challenge cycle.
// All failures come back as *Error except context cancellation and
// supervisor saturation, which pass through untouched.
func (e *Extractor) Extract(ctx context.Context, ref media.Reference, solvedToken string) (*media.Resolution, error) {
	args := e.buildArgs(ref, solvedToken)

	e.log.Debug().Str("ref", ref.Key()).Bool("with_token", solvedToken != "").Msg("invoking extractor")
	out, err := e.run.Run(ctx, procsup.KindExtractor, e.cfg.Bin, args, procsup.RunOptions{Timeout: e.cfg.Timeout})
	if err != nil {
		return nil, e.classifyRunError(ref, out, err)
	}

	res, perr := e.parse(ref, out.Stdout)
	if perr != nil {
		e.count("parse_failure")
		return nil, perr
	}
	e.count("success")
	return res, nil
}

func (e *Extractor) buildArgs(ref media.Reference, solvedToken string) []string {
	args := []string{"-j", "--no-warnings", "--no-playlist"}
	if hint := strings.TrimSpace(ref.QualityHint); hint != "" {
		args = append(args, "-f", hint)
	}
	if e.cfg.CookieFile != "" {
		args = append(args, "--cookies", e.cfg.CookieFile)
	}
	if solvedToken != "" {
		args = append(args, "--extractor-args", "youtube:po_token="+solvedToken)
	}
	return append(args, ref.TargetURL())
}

func (e *Extractor) parse(ref media.Reference, doc []byte) (*media.Resolution, error) {
	var p payload
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, &Error{
			Kind:   FailureUnknown,
			Ref:    ref,
			Detail: "undecodable extractor output",
			Err:    err,
		}
	}

	formats := make([]media.Format, 0, len(p.Formats)+1)
	if p.URL != "" {
		formats = append(formats, media.Format{
			URL:      p.URL,
			HasAudio: true,
			HasVideo: false,
			Size:     -1,
		})
	}
	for _, f := range p.Formats {
		if f.URL == "" {
			continue
		}
		bitrate := f.ABR
		if bitrate == 0 {
			bitrate = f.TBR
		}
		size := f.Filesize
		if size == 0 {
			size = -1
		}
		formats = append(formats, media.Format{
			URL:       f.URL,
			Container: f.Ext,
			MimeType:  f.MimeType,
			Codec:     firstCodec(f.ACodec, f.VCodec),
			Bitrate:   int(bitrate * 1000),
			Size:      size,
			HasAudio:  f.ACodec != "" && f.ACodec != "none",
			HasVideo:  f.VCodec != "" && f.VCodec != "none",
		})
	}

	if len(formats) == 0 {
		return nil, &Error{
			Kind:   FailureUnavailable,
			Ref:    ref,
			Detail: "extractor returned zero usable formats",
		}
	}

	now := e.cfg.Now()
	urls := make([]string, 0, len(formats))
	for _, f := range formats {
		urls = append(urls, f.URL)
	}
	return &media.Resolution{
		Ref:         ref,
		Title:       p.Title,
		DurationSec: p.Duration,
		Live:        p.IsLive || (p.Duration == 0 && media.IsDirectAudioURL(p.URL)),
		Formats:     formats,
		ExpiresAt:   earliestExpiry(now, urls),
		ResolvedAt:  now,
	}, nil
}

func (e *Extractor) classifyRunError(ref media.Reference, out procsup.Output, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, procsup.ErrSaturated), errors.Is(err, procsup.ErrClosed):
		return err
	case errors.Is(err, procsup.ErrTimedOut):
		e.count("timeout")
		return &Error{Kind: FailureTransient, Ref: ref, Detail: "extractor timed out", Err: err}
	}

	var exitErr *procsup.ExitError
	if !errors.As(err, &exitErr) {
		e.count("unknown")
		return &Error{Kind: FailureUnknown, Ref: ref, Detail: err.Error(), Err: err}
	}

	stderr := exitErr.StderrTail
	if cp, ok := challengePayload(stderr); ok {
		e.count("challenge_required")
		return &Error{Kind: FailureChallengeRequired, Ref: ref, ChallengePayload: cp, Detail: "challenge required", Err: err}
	}

	kind := classifyStderr(stderr)
	e.count(kind.String())
	return &Error{Kind: kind, Ref: ref, Detail: stderr, Err: err}
}

func (e *Extractor) count(outcome string) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.Extractions.WithLabelValues(outcome).Inc()
	}
}

func challengePayload(stderr string) (string, bool) {
	for _, line := range strings.Split(stderr, "\n") {
		if i := strings.Index(line, challengeMarker); i >= 0 {
			return strings.TrimSpace(line[i+len(challengeMarker):]), true
		}
	}
	return "", false
}

// classifyStderr maps the extractor's known error signatures onto the
// retry taxonomy. Unrecognized output is FailureUnknown, never accepted.
func classifyStderr(stderr string) FailureKind {
	lowered := strings.ToLower(stderr)
	switch {
	case containsAny(lowered,
		"video unavailable", "private video", "this video is not available",
		"removed by the uploader", "account associated", "members-only",
		"age-restricted", "drm protected"):
		return FailureUnavailable
	case containsAny(lowered,
		"not found", "404", "does not exist", "incomplete youtube id",
		"unable to extract video id", "unsupported url"):
		return FailureNotFound
	case containsAny(lowered,
		"timed out", "timeout", "connection reset", "connection refused",
		"temporary failure", "name resolution", "network", "429",
		"too many requests", "502", "503", "unable to download webpage"):
		return FailureTransient
	default:
		return FailureUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstCodec(codecs ...string) string {
	for _, c := range codecs {
		if c != "" && c != "none" {
			return c
		}
	}
	return ""
}
