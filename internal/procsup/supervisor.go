// Package procsup launches and supervises the external helper processes
// (extractor, challenge solver, transcoder). It owns process lifecycle
// only: pooling, wall-clock deadlines, process-group termination, and
// normalizing every failure into a small set of typed outcomes.
package procsup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/internal/metrics"
)

// Kind identifies which helper a process belongs to. Pools are bounded
// per kind so extraction load cannot starve transcoding and vice versa.
type Kind string

const (
	KindExtractor  Kind = "extractor"
	KindSolver     Kind = "solver"
	KindTranscoder Kind = "transcoder"
)

// State is the lifecycle of one supervised process.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateTimedOut
	StateKilled
)

var (
	// ErrSaturated means the pool and its wait queue are both full.
	ErrSaturated = errors.New("supervisor saturated")
	// ErrTimedOut means the process was killed on its wall-clock deadline.
	ErrTimedOut = errors.New("process timed out")
	// ErrClosed means the supervisor has been shut down.
	ErrClosed = errors.New("supervisor closed")
)

// ExitError is the normalized form of any non-zero helper exit.
type ExitError struct {
	Kind       Kind
	ExitCode   int
	StderrTail string
}

func (e *ExitError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("%s failed: exit=%d", e.Kind, e.ExitCode)
	}
	return fmt.Sprintf("%s failed: exit=%d stderr=%s", e.Kind, e.ExitCode, e.StderrTail)
}

// PoolConfig bounds one kind's pool.
type PoolConfig struct {
	// Size is the number of concurrently running processes. Default 2.
	Size int
	// Queue is how many callers may wait for a slot before new callers
	// fail fast with ErrSaturated. Default equals Size.
	Queue int
}

// Config configures a Supervisor.
type Config struct {
	// Pools bounds each kind. Missing kinds get defaults.
	Pools map[Kind]PoolConfig
	// KillGrace is how long after SIGTERM the process group gets before
	// SIGKILL. Default 3s.
	KillGrace time.Duration
	// DefaultTimeout applies to Run calls with no explicit timeout.
	// Default 90s.
	DefaultTimeout time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Output is a completed process's captured output.
type Output struct {
	Stdout     []byte
	StderrTail string
}

// Supervisor runs helper processes inside bounded per-kind pools.
// Construct with New and Close on shutdown; both are required.
type Supervisor struct {
	cfg    Config
	log    zerolog.Logger
	met    *metrics.Metrics
	pools  map[Kind]*pool
	mu     sync.Mutex
	active map[int64]*procHandle
	nextID int64
	closed bool
}

type pool struct {
	slots  chan struct{}
	queue  int
	queued int64
}

type procHandle struct {
	kind     Kind
	cmd      *exec.Cmd
	started  time.Time
	deadline time.Time
	state    State
}

// New creates a supervisor. The zero Config is usable.
func New(cfg Config) *Supervisor {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 3 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 90 * time.Second
	}
	pools := make(map[Kind]*pool)
	for _, kind := range []Kind{KindExtractor, KindSolver, KindTranscoder} {
		pc := cfg.Pools[kind]
		if pc.Size <= 0 {
			pc.Size = 2
		}
		if pc.Queue <= 0 {
			pc.Queue = pc.Size
		}
		pools[kind] = &pool{
			slots: make(chan struct{}, pc.Size),
			queue: pc.Queue,
		}
	}
	return &Supervisor{
		cfg:    cfg,
		log:    cfg.Logger,
		met:    cfg.Metrics,
		pools:  pools,
		active: make(map[int64]*procHandle),
	}
}

// RunOptions tunes a single Run call.
type RunOptions struct {
	// Stdin, if non-nil, is fed to the process standard input.
	Stdin io.Reader
	// Timeout overrides Config.DefaultTimeout when positive.
	Timeout time.Duration
}

// Run starts a process, waits for it, and returns its standard output.
// Non-zero exits become *ExitError; deadline kills become ErrTimedOut.
// A raw crash never escapes as anything else.
func (s *Supervisor) Run(ctx context.Context, kind Kind, bin string, args []string, opts RunOptions) (Output, error) {
	release, err := s.acquire(ctx, kind)
	if err != nil {
		return Output{}, err
	}
	defer release()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := newRing(64 * 1024)

	cmd := exec.Command(bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	// Bound the wait on stdin/stderr copy goroutines: a blocked stdin
	// reader must not keep Wait hanging after the child is gone.
	cmd.WaitDelay = s.cfg.KillGrace
	setProcGroup(cmd)

	id, h, err := s.start(kind, cmd, timeout)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return Output{}, err
		}
		return Output{}, &ExitError{Kind: kind, ExitCode: -1, StderrTail: err.Error()}
	}
	defer s.remove(id)

	waitErr := s.wait(ctx, h)
	out := Output{Stdout: stdout.Bytes(), StderrTail: stderr.Tail(40)}
	if waitErr == nil {
		return out, nil
	}
	if errors.Is(waitErr, ErrTimedOut) {
		if s.met != nil {
			s.met.ProcessTimeouts.WithLabelValues(string(kind)).Inc()
		}
		return out, ErrTimedOut
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return out, &ExitError{Kind: kind, ExitCode: exitCode, StderrTail: out.StderrTail}
}

// Pipe is a running process whose standard output is being consumed by
// the caller. Stop is idempotent and always reaps the process group.
type Pipe struct {
	Stdout io.ReadCloser

	sup     *Supervisor
	id      int64
	handle  *procHandle
	cancel  context.CancelFunc
	stderr  *ring
	once    sync.Once
	done    chan struct{}
	waitErr error
}

// StartPipe starts a long-lived process (the transcoder) with stdin wired
// to src and returns its stdout for streaming. The process group is killed
// when Stop is called, when ctx is cancelled, or on supervisor Close.
func (s *Supervisor) StartPipe(ctx context.Context, kind Kind, bin string, args []string, src io.Reader) (*Pipe, error) {
	release, err := s.acquire(ctx, kind)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stderr := newRing(64 * 1024)

	cmd := exec.Command(bin, args...)
	cmd.Stdin = src
	cmd.Stderr = stderr
	cmd.WaitDelay = s.cfg.KillGrace
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		release()
		return nil, &ExitError{Kind: kind, ExitCode: -1, StderrTail: err.Error()}
	}

	id, h, err := s.start(kind, cmd, 0)
	if err != nil {
		cancel()
		release()
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		return nil, &ExitError{Kind: kind, ExitCode: -1, StderrTail: err.Error()}
	}

	p := &Pipe{
		Stdout: stdout,
		sup:    s,
		id:     id,
		handle: h,
		cancel: cancel,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		defer release()
		defer s.remove(id)
		p.waitErr = s.wait(ctx, h)
	}()
	return p, nil
}

// Stop terminates the process group and waits for reaping. Safe to call
// more than once and after natural exit.
func (p *Pipe) Stop() {
	p.once.Do(func() {
		p.cancel()
	})
	<-p.done
}

// StderrTail returns the last captured stderr lines for diagnostics.
func (p *Pipe) StderrTail() string {
	return p.stderr.Tail(40)
}

// Err reports the process outcome after it has exited. nil means a clean
// exit; calling it before exit returns nil.
func (p *Pipe) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

func (s *Supervisor) acquire(ctx context.Context, kind Kind) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	p, ok := s.pools[kind]
	if !ok {
		return nil, fmt.Errorf("unknown process kind %q", kind)
	}
	release := func() { <-p.slots }

	select {
	case p.slots <- struct{}{}:
		return release, nil
	default:
	}
	if atomic.AddInt64(&p.queued, 1) > int64(p.queue) {
		atomic.AddInt64(&p.queued, -1)
		if s.met != nil {
			s.met.PoolRejections.WithLabelValues(string(kind)).Inc()
		}
		return nil, ErrSaturated
	}
	defer atomic.AddInt64(&p.queued, -1)
	select {
	case p.slots <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) start(kind Kind, cmd *exec.Cmd, timeout time.Duration) (int64, *procHandle, error) {
	h := &procHandle{kind: kind, cmd: cmd, state: StateStarting}
	if err := cmd.Start(); err != nil {
		h.state = StateFailed
		return 0, nil, err
	}
	h.started = time.Now()
	if timeout > 0 {
		h.deadline = h.started.Add(timeout)
	}
	h.state = StateRunning

	s.mu.Lock()
	if s.closed {
		// Shutdown raced the start; reap immediately.
		s.mu.Unlock()
		killGroup(cmd, s.cfg.KillGrace)
		_ = cmd.Wait()
		return 0, nil, ErrClosed
	}
	s.nextID++
	id := s.nextID
	s.active[id] = h
	s.mu.Unlock()

	if s.met != nil {
		s.met.ProcessSpawns.WithLabelValues(string(kind)).Inc()
		s.met.RunningProcesses.WithLabelValues(string(kind)).Inc()
	}
	s.log.Debug().Str("kind", string(kind)).Int("pid", cmd.Process.Pid).Msg("process started")
	return id, h, nil
}

func (s *Supervisor) wait(ctx context.Context, h *procHandle) error {
	waitDone := make(chan error, 1)
	go func() { waitDone <- h.cmd.Wait() }()

	select {
	case err := <-waitDone:
		if errors.Is(err, exec.ErrWaitDelay) {
			// Process exited cleanly; only the stdin copy was stuck.
			err = nil
		}
		if err != nil {
			h.state = StateFailed
			s.log.Debug().Str("kind", string(h.kind)).Err(err).Msg("process exited with error")
			return err
		}
		h.state = StateSucceeded
		return nil
	case <-ctx.Done():
		killGroup(h.cmd, s.cfg.KillGrace)
		<-waitDone
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			h.state = StateTimedOut
			s.log.Warn().Str("kind", string(h.kind)).Int("pid", h.cmd.Process.Pid).Msg("process killed on deadline")
			return ErrTimedOut
		}
		h.state = StateKilled
		return ctx.Err()
	}
}

func (s *Supervisor) remove(id int64) {
	s.mu.Lock()
	h, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if ok && s.met != nil {
		s.met.RunningProcesses.WithLabelValues(string(h.kind)).Dec()
	}
}

// Running reports the number of live processes of the given kind.
func (s *Supervisor) Running(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.active {
		if h.kind == kind {
			n++
		}
	}
	return n
}

// Close kills every supervised process group and rejects further work.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	procs := make([]*procHandle, 0, len(s.active))
	for _, h := range s.active {
		procs = append(procs, h)
	}
	s.mu.Unlock()

	for _, h := range procs {
		killGroup(h.cmd, s.cfg.KillGrace)
	}
}
