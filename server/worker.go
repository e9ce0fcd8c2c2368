package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go-php-cli/failure"

	"go.uber.org/zap"
)

// Worker runs one child process for one request. It is not reused.
type Worker struct {
	log         *zap.SugaredLogger
	path        string
	args        []string
	dir         string
	env         []string
	timeout     time.Duration
	idleTimeout time.Duration
}

// NewWorker builds the command for script under cfg. timeout overrides the
// configured timeout when positive.
func NewWorker(cfg *Config, scriptPath string, timeout time.Duration, log *zap.SugaredLogger) *Worker {
	if timeout <= 0 {
		timeout = cfg.Timeout()
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	return &Worker{
		log:         log,
		path:        cfg.Interpreter,
		args:        commandArgs(cfg, scriptPath),
		dir:         cfg.DocumentRoot,
		env:         env,
		timeout:     timeout,
		idleTimeout: cfg.IdleTimeout(),
	}
}

// commandArgs is the interpreter's argument list: the prelude, the
// disabled primitives and the script.
func commandArgs(cfg *Config, scriptPath string) []string {
	return []string{
		"-d", "auto_prepend_file=" + cfg.Prelude,
		"-d", "disable_functions=" + strings.Join(DisabledFunctions, ","),
		scriptPath,
	}
}

// Args returns the full command line.
func (w *Worker) Args() []string {
	return append([]string{w.path}, w.args...)
}

// result is what a finished (or killed) child left behind.
type result struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	state    *os.ProcessState
	duration time.Duration
}

// Run starts the child, writes stdin to it and waits. On timeout the child
// is killed and the error is a *failure.ProcessError; the result still
// holds whatever was written before the kill.
func (w *Worker) Run(ctx context.Context, stdin []byte) (*result, error) {
	cmd := exec.Command(w.path, w.args...)
	cmd.Dir = w.dir
	cmd.Env = w.env
	// a grandchild holding the pipes must not keep Wait blocked after a kill
	cmd.WaitDelay = time.Second

	stdout := &activityBuffer{}
	stderr := &activityBuffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, &failure.ProcessError{Kind: failure.KindSpawn, ExitCode: -1, Cause: err}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = in.Close()
		return nil, &failure.ProcessError{Kind: failure.KindSpawn, ExitCode: -1, Cause: err}
	}
	stdout.touch()
	w.log.Debugw("child started", "pid", cmd.Process.Pid, "args", w.Args())

	go func() {
		defer in.Close()
		if _, err := in.Write(stdin); err != nil && !isBrokenPipe(err) {
			w.log.Warnf("writing payload to child %d: %v", cmd.Process.Pid, err)
		}
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var idleTick <-chan time.Time
	if w.idleTimeout > 0 {
		ticker := time.NewTicker(idleInterval(w.idleTimeout))
		defer ticker.Stop()
		idleTick = ticker.C
	}

	kill := func(kind failure.ProcessKind, cause error) (*result, error) {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		res := collect(cmd, stdout, stderr, start)
		w.log.Debugw("child killed", "pid", cmd.Process.Pid, "kind", kind, "output_bytes", len(res.stdout))
		return res, &failure.ProcessError{
			Kind:     kind,
			ExitCode: res.exitCode,
			Output:   res.stdout,
			Stderr:   res.stderr,
			Cause:    cause,
		}
	}

	for {
		select {
		case err := <-done:
			res := collect(cmd, stdout, stderr, start)
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				return res, &failure.ProcessError{
					Kind:     failure.KindExit,
					ExitCode: res.exitCode,
					Output:   res.stdout,
					Stderr:   res.stderr,
					Cause:    err,
				}
			}
			w.log.Debugw("child exited", "pid", cmd.Process.Pid, "exit_code", res.exitCode, "duration", res.duration)
			return res, nil

		case <-deadline:
			return kill(failure.KindTimeout, fmt.Errorf("request timeout after %s", w.timeout))

		case <-idleTick:
			if idle := time.Since(stdout.lastActivity(stderr)); idle >= w.idleTimeout {
				return kill(failure.KindIdleTimeout, fmt.Errorf("no output for %s", idle.Truncate(time.Millisecond)))
			}

		case <-ctx.Done():
			kind := failure.KindExit
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = failure.KindTimeout
			}
			return kill(kind, ctx.Err())
		}
	}
}

func collect(cmd *exec.Cmd, stdout, stderr *activityBuffer, start time.Time) *result {
	res := &result{
		stdout:   stdout.Bytes(),
		stderr:   stderr.Bytes(),
		exitCode: -1,
		state:    cmd.ProcessState,
		duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.exitCode = cmd.ProcessState.ExitCode()
	}
	return res
}

func idleInterval(idle time.Duration) time.Duration {
	iv := idle / 4
	if iv < 5*time.Millisecond {
		iv = 5 * time.Millisecond
	}
	return iv
}

// isBrokenPipe reports whether err means the child closed its end early.
func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// activityBuffer is a goroutine-safe buffer that remembers when it was last
// written to.
type activityBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	last time.Time
}

func (b *activityBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = time.Now()
	return b.buf.Write(p)
}

func (b *activityBuffer) touch() {
	b.mu.Lock()
	b.last = time.Now()
	b.mu.Unlock()
}

func (b *activityBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *activityBuffer) lastWrite() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// lastActivity is the most recent write to b or other.
func (b *activityBuffer) lastActivity(other *activityBuffer) time.Time {
	t := b.lastWrite()
	if o := other.lastWrite(); o.After(t) {
		return o
	}
	return t
}
