// Package client is the public face of the media gateway: it turns a
// reference (video id, URL, search text or catalog link) into an open
// byte stream, managing resolution, caching, challenge cycles and the
// external process pools behind one handle-based API.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/internal/catalog"
	"github.com/famomatic/streamgate/internal/challenge"
	"github.com/famomatic/streamgate/internal/cookies"
	"github.com/famomatic/streamgate/internal/extraction"
	"github.com/famomatic/streamgate/internal/media"
	"github.com/famomatic/streamgate/internal/mediacache"
	"github.com/famomatic/streamgate/internal/metrics"
	"github.com/famomatic/streamgate/internal/procsup"
	"github.com/famomatic/streamgate/internal/resolver"
	"github.com/famomatic/streamgate/internal/streamer"
)

type resolverAPI interface {
	Resolve(ctx context.Context, ref media.Reference) (*media.Resolution, error)
	Invalidate(ref media.Reference)
}

type opener interface {
	Open(ctx context.Context, res *media.Resolution, opts streamer.OpenOptions) (*streamer.Session, error)
}

// Gateway is the high-level media gateway. Safe for concurrent use.
type Gateway struct {
	cfg     Config
	resolve resolverAPI
	open    opener
	sup     *procsup.Supervisor
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New assembles a gateway from cfg. Call Close when done to reap the
// process pools.
func New(cfg Config) *Gateway {
	m := metrics.New(cfg.Registerer)
	log := cfg.Logger

	if cfg.CookieFile != "" {
		if sum, err := cookies.Inspect(cfg.CookieFile); err != nil {
			log.Warn().Str("file", cfg.CookieFile).Err(err).Msg("cookie file unusable")
		} else if sum.Expired == sum.Total {
			log.Warn().Str("file", cfg.CookieFile).Int("cookies", sum.Total).Msg("all cookies expired")
		}
	}

	sup := procsup.New(procsup.Config{
		Pools: map[procsup.Kind]procsup.PoolConfig{
			procsup.KindExtractor:  {Size: defaultInt(cfg.MaxExtractors, 2)},
			procsup.KindSolver:     {Size: defaultInt(cfg.MaxSolvers, 1)},
			procsup.KindTranscoder: {Size: defaultInt(cfg.MaxTranscoders, 2)},
		},
		Logger:  log,
		Metrics: m,
	})

	extractor := extraction.New(sup, extraction.Config{
		Bin:        cfg.ExtractorBin,
		CookieFile: cfg.CookieFile,
		Timeout:    cfg.ExtractorTimeout,
		Logger:     log,
		Metrics:    m,
	})

	var solver challenge.Solver
	if cfg.SolverBin != "" {
		solver = challenge.NewCommand(sup, challenge.CommandConfig{
			Bin:    cfg.SolverBin,
			Args:   cfg.SolverArgs,
			Logger: log,
		})
	} else {
		solver = &challenge.ScriptSolver{Logger: log}
	}
	solver = challenge.NewCached(solver, 0)

	cache := mediacache.New(mediacache.Config{
		MaxEntries:   cfg.CacheEntries,
		SafetyMargin: cfg.CacheSafetyMargin,
		Logger:       log,
		Metrics:      m,
	})

	res := resolver.New(resolver.Config{
		Cache:       cache,
		Extract:     extractor,
		Solver:      solver,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      log,
	})

	str := streamer.New(streamer.Config{
		Client:        cfg.HTTPClient,
		Pipes:         sup,
		TranscoderBin: cfg.TranscoderBin,
		UserAgent:     cfg.UserAgent,
		Logger:        log,
		Metrics:       m,
	})

	return &Gateway{
		cfg:     cfg,
		resolve: res,
		open:    str,
		sup:     sup,
		metrics: m,
		log:     log,
	}
}

// Resolve maps input to metadata without opening a stream.
func (g *Gateway) Resolve(ctx context.Context, input string) (MediaInfo, error) {
	ref, err := g.reference(ctx, input, "")
	if err != nil {
		return MediaInfo{}, err
	}
	res, err := g.resolve.Resolve(ctx, ref)
	if err != nil {
		return MediaInfo{}, mapError(err)
	}
	return infoFrom(res), nil
}

// Deliver opens a byte stream for input. When the cached signed URL is
// rejected upstream, the resolution is refreshed and the open retried
// exactly once.
func (g *Gateway) Deliver(ctx context.Context, input string, opts DeliverOptions) (*StreamHandle, error) {
	ref, err := g.reference(ctx, input, opts.QualityHint)
	if err != nil {
		return nil, err
	}

	res, err := g.resolve.Resolve(ctx, ref)
	if err != nil {
		return nil, mapError(err)
	}

	openOpts := streamer.OpenOptions{
		Range:     opts.Range,
		Transcode: opts.Transcode,
		WantVideo: opts.WantVideo,
	}
	session, err := g.open.Open(ctx, res, openOpts)
	if errors.Is(err, streamer.ErrNeedsReresolution) {
		g.log.Info().Str("ref", ref.Key()).Msg("refreshing rejected resolution")
		g.resolve.Invalidate(ref)
		if g.metrics != nil {
			g.metrics.Reresolutions.Inc()
		}
		res, err = g.resolve.Resolve(ctx, ref)
		if err != nil {
			return nil, mapError(err)
		}
		session, err = g.open.Open(ctx, res, openOpts)
		if errors.Is(err, streamer.ErrNeedsReresolution) {
			// The refreshed URL was rejected too; it must not stay
			// cached for the next caller.
			g.resolve.Invalidate(ref)
		}
	}
	if err != nil {
		return nil, mapError(err)
	}

	return &StreamHandle{
		ReadCloser:  sessionBody{session},
		SessionID:   session.ID,
		Info:        infoFrom(res),
		ContentType: session.ContentType,
		Size:        session.Size,
		Seekable:    session.Seekable,
	}, nil
}

// Close reaps all supervised processes. In-flight deliveries fail.
func (g *Gateway) Close() {
	g.sup.Close()
}

// reference parses input, consulting the catalog for track links.
func (g *Gateway) reference(ctx context.Context, input, qualityHint string) (media.Reference, error) {
	if id, ok := trackID(input); ok {
		if g.cfg.Catalog == nil {
			return media.Reference{}, fmt.Errorf("%w: catalog links need a configured catalog", ErrInvalidInput)
		}
		ref, err := g.cfg.Catalog.Lookup(ctx, id)
		if err != nil {
			switch {
			case errors.Is(err, catalog.ErrTrackNotFound):
				return media.Reference{}, errors.Join(ErrNotFound, err)
			case errors.Is(err, context.Canceled):
				return media.Reference{}, errors.Join(ErrClientAborted, err)
			default:
				return media.Reference{}, errors.Join(ErrUpstreamTransient, fmt.Errorf("catalog lookup: %w", err))
			}
		}
		ref.QualityHint = qualityHint
		return ref, nil
	}
	ref, err := ParseReference(input)
	if err != nil {
		return media.Reference{}, err
	}
	ref.QualityHint = qualityHint
	return ref, nil
}

// sessionBody adapts a stream session to io.ReadCloser.
type sessionBody struct {
	s *streamer.Session
}

func (b sessionBody) Read(p []byte) (int, error) { return b.s.Body.Read(p) }
func (b sessionBody) Close() error               { return b.s.Close() }

func infoFrom(res *media.Resolution) MediaInfo {
	return MediaInfo{
		Ref:         res.Ref,
		Title:       res.Title,
		DurationSec: res.DurationSec,
		Live:        res.Live,
		Expiry:      res.ExpiresAt,
	}
}

func defaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
