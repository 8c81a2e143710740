// Package streamer opens upstream media bytes as client-facing sessions:
// direct ranged pass-through of the signed URL, or a transcode pipeline
// fed through the process supervisor.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/internal/media"
	"github.com/famomatic/streamgate/internal/metrics"
	"github.com/famomatic/streamgate/internal/procsup"
)

// ErrNeedsReresolution means the signed URL was rejected upstream and the
// resolution must be refreshed before retrying.
var ErrNeedsReresolution = errors.New("upstream rejected signed url, re-resolution required")

// ErrNoPlayableFormats means the resolution carried no format matching
// the request.
var ErrNoPlayableFormats = errors.New("no playable formats")

// UpstreamError reports a non-success upstream status that is not the
// signed-URL rejection case.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// Transient reports whether the status is worth retrying later.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PipeStarter is the slice of the process supervisor the streamer needs.
type PipeStarter interface {
	StartPipe(ctx context.Context, kind procsup.Kind, bin string, args []string, src io.Reader) (*procsup.Pipe, error)
}

// Config configures a Streamer.
type Config struct {
	// Client performs upstream requests. Default is a client with no
	// overall timeout so long streams are not cut off mid-body.
	Client *http.Client
	// Pipes runs the transcoder. Required only when transcoding.
	Pipes PipeStarter
	// TranscoderBin is the transcoder executable. Default "ffmpeg".
	TranscoderBin string
	// UserAgent is sent on upstream requests when set.
	UserAgent string

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// buildArgs is replaced in tests.
	buildArgs func(media.TranscodeProfile) []string
}

// OpenOptions shape one session.
type OpenOptions struct {
	// Range is forwarded upstream on direct pass-through. Ignored when
	// transcoding, whose output has no stable byte offsets.
	Range media.RangeRequest
	// Transcode, when non-zero, routes upstream bytes through the
	// transcoder instead of passing them through.
	Transcode media.TranscodeProfile
	// WantVideo selects a video-bearing format instead of audio-only.
	WantVideo bool
}

// Session is one open byte stream. Close is idempotent and must be
// called exactly when the consumer is done.
type Session struct {
	ID          string
	Body        io.ReadCloser
	ContentType string
	// Size is the total byte size, -1 when unknown (live, transcoded).
	Size int64
	// Seekable reports whether byte-range requests are honored.
	Seekable bool
	Live     bool
	Format   media.Format

	closeOnce sync.Once
	upstream  io.Closer
	pipe      *procsup.Pipe
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// Streamer opens sessions. Safe for concurrent use.
type Streamer struct {
	cfg Config
	log zerolog.Logger
}

// New creates a Streamer.
func New(cfg Config) *Streamer {
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	if cfg.TranscoderBin == "" {
		cfg.TranscoderBin = "ffmpeg"
	}
	if cfg.buildArgs == nil {
		cfg.buildArgs = transcodeArgs
	}
	return &Streamer{cfg: cfg, log: cfg.Logger}
}

// Open selects a format from res and opens the upstream bytes. A 403 or
// 410 from the CDN comes back as ErrNeedsReresolution so the caller can
// refresh the resolution and retry.
func (s *Streamer) Open(ctx context.Context, res *media.Resolution, opts OpenOptions) (*Session, error) {
	wantVideo := opts.WantVideo || opts.Transcode.Video
	format, ok := media.SelectFormat(res.Formats, wantVideo, res.Ref.QualityHint)
	if !ok {
		return nil, fmt.Errorf("%w: ref=%s", ErrNoPlayableFormats, res.Ref.Key())
	}

	transcoding := !opts.Transcode.IsZero()
	if transcoding && profileMatchesSource(opts.Transcode, format) {
		// The source already carries the requested container; pass it
		// through instead of re-encoding.
		transcoding = false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, format.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	if !transcoding && !opts.Range.IsZero() {
		req.Header.Set("Range", opts.Range.Header())
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusForbidden, http.StatusGone:
		resp.Body.Close()
		s.log.Info().
			Str("ref", res.Ref.Key()).
			Int("status", resp.StatusCode).
			Msg("signed url rejected upstream")
		return nil, fmt.Errorf("%w: status %d", ErrNeedsReresolution, resp.StatusCode)
	default:
		resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	session := &Session{
		ID:          uuid.NewString(),
		ContentType: contentType(resp, format),
		Size:        upstreamSize(resp, format),
		Seekable:    !transcoding && seekable(resp),
		Live:        res.Live,
		Format:      format,
		upstream:    resp.Body,
		metrics:     s.cfg.Metrics,
		log:         s.log,
	}

	if transcoding {
		if s.cfg.Pipes == nil {
			resp.Body.Close()
			return nil, errors.New("transcoding requested but no transcoder configured")
		}
		pipe, perr := s.cfg.Pipes.StartPipe(ctx, procsup.KindTranscoder, s.cfg.TranscoderBin, s.cfg.buildArgs(opts.Transcode), resp.Body)
		if perr != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("starting transcoder: %w", perr)
		}
		session.Body = pipe.Stdout
		session.ContentType = opts.Transcode.ContentType()
		session.Size = -1
		session.pipe = pipe
	} else {
		session.Body = resp.Body
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveStreams.Inc()
	}
	s.log.Debug().
		Str("session", session.ID).
		Str("ref", res.Ref.Key()).
		Bool("transcoding", transcoding).
		Bool("seekable", session.Seekable).
		Int64("size", session.Size).
		Msg("stream session opened")
	return session, nil
}

// Close tears the session down: the transcoder process first, then the
// upstream body. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.pipe != nil {
			s.pipe.Stop()
			if tail := s.pipe.StderrTail(); tail != "" && s.pipe.Err() != nil {
				s.log.Warn().Str("session", s.ID).Str("stderr", tail).Msg("transcoder exited with error")
			}
		}
		if s.upstream != nil {
			s.upstream.Close()
		}
		if s.metrics != nil {
			s.metrics.ActiveStreams.Dec()
		}
	})
	return nil
}

// profileMatchesSource reports whether the requested audio profile is
// already satisfied by the source container, making a transcode a no-op.
func profileMatchesSource(profile media.TranscodeProfile, format media.Format) bool {
	if profile.Video || profile.BitrateK > 0 || profile.SampleRate > 0 || profile.Channels > 0 {
		return false
	}
	return strings.EqualFold(profile.Format, format.Container) && media.IsDirectAudioURL(format.URL)
}

func contentType(resp *http.Response, format media.Format) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if format.MimeType != "" {
		return format.MimeType
	}
	return "application/octet-stream"
}

// upstreamSize prefers the total size from Content-Range on partial
// responses, then Content-Length, then the format's declared size.
func upstreamSize(resp *http.Response, format media.Format) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return total
		}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if format.Size > 0 {
		return format.Size
	}
	return -1
}

func contentRangeTotal(header string) (int64, bool) {
	// Format: "bytes start-end/total".
	i := strings.LastIndex(header, "/")
	if i < 0 {
		return 0, false
	}
	total, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

func seekable(resp *http.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return true
	}
	return strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
}
