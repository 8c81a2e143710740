package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// ScriptSolver evaluates the platform-supplied challenge script in an
// embedded JS engine. Used when no external solver runtime is configured;
// slower to interrupt than a subprocess but needs nothing installed.
type ScriptSolver struct {
	// Timeout per evaluation. Default 10s.
	Timeout time.Duration
	Logger  zerolog.Logger
}

func (s *ScriptSolver) Solve(ctx context.Context, payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", fmt.Errorf("%w: empty challenge payload", ErrUnsolvable)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	vm := goja.New()
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("challenge evaluation timed out")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("challenge evaluation cancelled")
	})
	defer stop()

	value, err := vm.RunString(payload)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.Logger.Warn().Err(err).Msg("in-process challenge evaluation failed")
		return "", fmt.Errorf("%w: %v", ErrUnsolvable, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", fmt.Errorf("%w: script produced no value", ErrUnsolvable)
	}
	token := strings.TrimSpace(value.String())
	if token == "" {
		return "", fmt.Errorf("%w: script produced empty token", ErrUnsolvable)
	}
	return token, nil
}
