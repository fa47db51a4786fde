// Package workerproc runs the external analysis worker as a child process.
//
// One Run call owns exactly one process: the request is written to stdin and
// closed while exec drains stdout and stderr, and the process is always reaped
// before Run returns. Descendants that outlive the worker delay Run by at most
// WaitDelay.
package workerproc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultWaitDelay = 2 * time.Second

var (
	// ErrSpawn marks failures to start the worker at all.
	ErrSpawn = errors.New("worker spawn failed")
	// ErrCanceled is returned when the caller's context ends before the worker does.
	ErrCanceled = errors.New("worker run canceled")
	// ErrNoCommand indicates the supervisor has no worker command configured.
	ErrNoCommand = errors.New("worker command not configured")
)

// SpawnError reports that the worker could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Command == "" {
		return "spawn worker: " + e.Err.Error()
	}
	return fmt.Sprintf("spawn worker %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSpawn) match any SpawnError.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// InputMeta captures details about the request payload useful for logging
// without logging the payload itself.
type InputMeta struct {
	Len int
	SHA string
}

// ComputeMeta returns the payload length and SHA-256 hash.
func ComputeMeta(input []byte) InputMeta {
	if len(input) == 0 {
		return InputMeta{}
	}
	sum := sha256.Sum256(input)
	return InputMeta{Len: len(input), SHA: hex.EncodeToString(sum[:])}
}

// Result is what the supervisor observed of one worker run.
type Result struct {
	PID      int
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
	// Truncated is set when output beyond MaxOutputBytes was discarded.
	Truncated bool
	// InputErr is a failure writing the request, usually because the worker
	// exited without reading it. The exit status still decides the outcome.
	InputErr error
	Duration time.Duration
}

// Supervisor launches the worker command once per Run.
type Supervisor struct {
	Command []string
	Dir     string
	// Env is appended to the parent environment.
	Env []string
	// WaitDelay bounds how long Run waits for the process after killing it.
	WaitDelay time.Duration
	// MaxOutputBytes caps each of stdout and stderr; 0 means unlimited.
	// Output past the cap is still drained so the worker never blocks.
	MaxOutputBytes int64
}

// New constructs a Supervisor for the given command line.
func New(command []string, dir string) *Supervisor {
	return &Supervisor{Command: command, Dir: dir, WaitDelay: defaultWaitDelay}
}

// Run spawns the worker, streams input to it and collects its output. A
// timeout of zero or less disables the deadline. Timeouts are reported via
// Result.TimedOut with a nil error; spawn failures wrap ErrSpawn and caller
// cancellation wraps ErrCanceled.
func (s *Supervisor) Run(ctx context.Context, input []byte, timeout time.Duration) (Result, error) {
	if s == nil || len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return Result{}, &SpawnError{Err: ErrNoCommand}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCanceled, err)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	setProcessGroup(cmd)
	var killed atomic.Bool
	cmd.Cancel = func() error {
		killed.Store(true)
		return terminate(cmd)
	}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	outBuf := &cappedBuffer{max: s.MaxOutputBytes}
	errBuf := &cappedBuffer{max: s.MaxOutputBytes}
	// exec drains these itself, so a descendant that escapes the process
	// group and keeps the pipes open only delays Wait by WaitDelay.
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, &SpawnError{Command: s.Command[0], Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Command: s.Command[0], Err: err}
	}

	// The write must not hold up Wait: a worker may exit without reading
	// stdin, and Wait closes the pipe, which unblocks a stuck Write.
	var inputErr error
	var g errgroup.Group
	g.Go(func() error {
		_, werr := stdin.Write(input)
		if cerr := stdin.Close(); werr == nil && !errors.Is(cerr, os.ErrClosed) {
			werr = cerr
		}
		inputErr = werr
		return nil
	})
	waitErr := cmd.Wait()
	_ = g.Wait()

	res := Result{
		PID:       cmd.Process.Pid,
		Stdout:    outBuf.Bytes(),
		Stderr:    errBuf.Bytes(),
		ExitCode:  -1,
		Truncated: outBuf.dropped > 0 || errBuf.dropped > 0,
		InputErr:  inputErr,
		Duration:  time.Since(start),
	}
	exitedCleanly := false
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
		exitedCleanly = cmd.ProcessState.Success()
	}

	if killed.Load() {
		timedOut, err := afterKill(exitedCleanly, ctx.Err())
		if err != nil || timedOut {
			res.TimedOut = timedOut
			return res, err
		}
		// The worker finished cleanly before the kill landed; keep its output.
		return res, nil
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// Exit status is known; only a leftover descendant kept the pipes open.
		return res, nil
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("wait worker: %w", waitErr)
	}
	return res, nil
}

// afterKill classifies a run whose deadline or context fired. A worker that
// still exited with status 0 completed in time.
func afterKill(exitedCleanly bool, callerErr error) (timedOut bool, err error) {
	if exitedCleanly {
		return false, nil
	}
	if callerErr != nil {
		return false, fmt.Errorf("%w: %v", ErrCanceled, callerErr)
	}
	return true, nil
}

// cappedBuffer keeps the first max bytes written and silently counts the rest.
type cappedBuffer struct {
	buf     bytes.Buffer
	max     int64
	dropped int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	room := b.max - int64(b.buf.Len())
	if room <= 0 {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.dropped += int64(len(p)) - room
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }
