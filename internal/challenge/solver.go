// Package challenge turns a platform anti-automation challenge into a
// solved token the extractor can retry with. The primary path delegates
// to an external scripting runtime; when none is configured the payload
// script is evaluated in-process.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/internal/procsup"
)

// ErrUnsolvable means the solver could not produce a usable token.
var ErrUnsolvable = errors.New("challenge unsolvable")

// Solver produces a solved token for one challenge payload.
type Solver interface {
	Solve(ctx context.Context, payload string) (string, error)
}

// Runner is the slice of the process supervisor the command solver needs.
type Runner interface {
	Run(ctx context.Context, kind procsup.Kind, bin string, args []string, opts procsup.RunOptions) (procsup.Output, error)
}

// CommandConfig configures a subprocess-backed solver.
type CommandConfig struct {
	// Bin is the solver runtime executable, e.g. "deno" or "node".
	Bin string
	// Args precede the payload; the payload itself arrives on stdin.
	Args []string
	// Timeout per solve. Default 30s.
	Timeout time.Duration

	Logger zerolog.Logger
}

// CommandSolver feeds the raw payload to an external runtime and reads
// the solved token from its standard output.
type CommandSolver struct {
	cfg CommandConfig
	run Runner
}

// NewCommand creates a subprocess solver on top of runner.
func NewCommand(runner Runner, cfg CommandConfig) *CommandSolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CommandSolver{cfg: cfg, run: runner}
}

func (s *CommandSolver) Solve(ctx context.Context, payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", fmt.Errorf("%w: empty challenge payload", ErrUnsolvable)
	}

	out, err := s.run.Run(ctx, procsup.KindSolver, s.cfg.Bin, s.cfg.Args, procsup.RunOptions{
		Stdin:   strings.NewReader(payload),
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, procsup.ErrSaturated) || errors.Is(err, procsup.ErrClosed) {
			return "", err
		}
		s.cfg.Logger.Warn().Err(err).Msg("challenge solver process failed")
		return "", fmt.Errorf("%w: %v", ErrUnsolvable, err)
	}

	token := strings.TrimSpace(string(out.Stdout))
	if token == "" {
		return "", fmt.Errorf("%w: solver produced empty token", ErrUnsolvable)
	}
	return token, nil
}
