// Package resolver drives a media reference to a live resolution: cache
// lookup, deduplicated extraction, classified retries and at most one
// challenge cycle per resolution.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/famomatic/streamgate/internal/challenge"
	"github.com/famomatic/streamgate/internal/extraction"
	"github.com/famomatic/streamgate/internal/media"
	"github.com/famomatic/streamgate/internal/mediacache"
)

// Extractor resolves one reference through the external tool.
type Extractor interface {
	Extract(ctx context.Context, ref media.Reference, solvedToken string) (*media.Resolution, error)
}

// Config configures a Resolver. Cache and Extract are required.
type Config struct {
	Cache   *mediacache.Cache
	Extract Extractor
	// Solver handles challenge cycles. Nil means challenges are terminal.
	Solver challenge.Solver

	// MaxAttempts bounds transient retries per resolution. Default 3.
	MaxAttempts int
	// BaseDelay is the first retry delay, doubled per attempt. Default 500ms.
	BaseDelay time.Duration
	// MaxDelay caps the per-retry delay. Default 5s.
	MaxDelay time.Duration

	Logger zerolog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Resolver is safe for concurrent use. Concurrent Resolve calls for the
// same reference share one extraction; each caller still observes its
// own context cancellation.
type Resolver struct {
	cfg   Config
	group singleflight.Group
	log   zerolog.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}
	return &Resolver{cfg: cfg, log: cfg.Logger}
}

// Resolve returns a live resolution for ref, from cache when possible.
func (r *Resolver) Resolve(ctx context.Context, ref media.Reference) (*media.Resolution, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if res, ok := r.cfg.Cache.Get(ref); ok {
		return res, nil
	}

	ch := r.group.DoChan(ref.Key(), func() (interface{}, error) {
		// Re-check under the flight: a concurrent winner may have
		// populated the cache between our miss and this call.
		if res, ok := r.cfg.Cache.Get(ref); ok {
			return res, nil
		}
		// The flight is shared and runs to completion even when every
		// waiter has cancelled; the result still lands in the cache.
		return r.resolveFresh(context.WithoutCancel(ctx), ref)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Err
		}
		if out.Shared {
			r.log.Debug().Str("ref", ref.Key()).Msg("resolution shared with concurrent caller")
		}
		return out.Val.(*media.Resolution), nil
	}
}

// Invalidate drops ref's cached resolution. Used when a signed URL is
// rejected upstream before its recorded expiry.
func (r *Resolver) Invalidate(ref media.Reference) {
	r.cfg.Cache.Invalidate(ref)
}

// resolveFresh runs the retry loop around the extractor. Transient
// failures retry with doubling delays; an unknown failure gets exactly
// one retry; a challenge gets exactly one solve-and-retry cycle.
func (r *Resolver) resolveFresh(ctx context.Context, ref media.Reference) (*media.Resolution, error) {
	var (
		lastErr        error
		solvedToken    string
		challengeCycle bool
		unknownRetried bool
	)

	delay := r.cfg.BaseDelay
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		res, err := r.cfg.Extract.Extract(ctx, ref, solvedToken)
		if err == nil {
			r.cfg.Cache.Put(ref, res)
			return res, nil
		}
		lastErr = err

		var exErr *extraction.Error
		if !errors.As(err, &exErr) {
			return nil, err
		}

		switch exErr.Kind {
		case extraction.FailureNotFound, extraction.FailureUnavailable:
			return nil, err

		case extraction.FailureChallengeRequired:
			if challengeCycle || r.cfg.Solver == nil {
				return nil, err
			}
			challengeCycle = true
			token, serr := r.cfg.Solver.Solve(ctx, exErr.ChallengePayload)
			if serr != nil {
				r.log.Warn().Str("ref", ref.Key()).Err(serr).Msg("challenge cycle failed")
				return nil, fmt.Errorf("resolving %s: %w", ref.Key(), serr)
			}
			solvedToken = token
			// The solved retry does not consume a transient attempt.
			attempt--
			continue

		case extraction.FailureUnknown:
			if unknownRetried {
				return nil, err
			}
			unknownRetried = true

		case extraction.FailureTransient:
			// Falls through to the backoff below.
		}

		if attempt == r.cfg.MaxAttempts {
			break
		}
		r.log.Debug().
			Str("ref", ref.Key()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("extraction failed, backing off")
		if serr := r.cfg.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
		delay = min(delay*2, r.cfg.MaxDelay)
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
