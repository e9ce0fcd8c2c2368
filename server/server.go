// Package server runs requests against a script application by spawning one
// interpreter process per request. The request state goes to the child's
// stdin as a framed payload; status, headers and session come back in a
// trailer at the end of its stdout.
package server

import (
	"context"
	"errors"
	"sync"

	"go-php-cli/failure"
	"go-php-cli/options"
	"go-php-cli/protocol"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Server is safe for concurrent use. Each Request owns its own child
// process, temp files and buffers.
type Server struct {
	log *zap.SugaredLogger

	cfgMu sync.RWMutex
	cfg   *Config

	stats *Stats

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
}

type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer returns a Server for cfg. A nil cfg means DefaultConfig.
func NewServer(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.clone()
	if err := finalize(cfg); err != nil {
		return nil, err
	}

	s := &Server{
		log:   zap.NewNop().Sugar(),
		cfg:   cfg,
		stats: NewStats(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns a copy of the active configuration.
func (s *Server) Config() *Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.clone()
}

// SetConfig swaps the active configuration. In-flight requests keep the
// configuration they started with.
func (s *Server) SetConfig(cfg *Config) error {
	cfg = cfg.clone()
	if err := finalize(cfg); err != nil {
		return err
	}
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	return nil
}

// Stats returns a snapshot of the request counters.
func (s *Server) Stats() *Stats {
	return s.stats.Snapshot()
}

// Request executes the script selected by rawURL with the request state
// described by method and opts, and returns what the script produced.
//
// A child that exits nonzero without a trailer fails with a
// *failure.ProcessError of kind exit whose Response field holds the
// degraded *Response. Timeouts fail with kind timeout or idle-timeout and
// carry the partial output.
func (s *Server) Request(ctx context.Context, method, rawURL string, opts *options.Options) (*Response, error) {
	if opts == nil {
		opts = options.Empty()
	}
	cfg := s.Config()

	inv, err := buildInvocation(cfg, method, rawURL, opts, s.log)
	if err != nil {
		return nil, err
	}
	defer inv.cleanup()

	stdin, err := protocol.MarshalPayload(inv.payload, inv.body)
	if err != nil {
		return nil, err
	}

	timeout, _ := opts.Timeout()
	w := NewWorker(cfg, inv.script.Filename, timeout, s.log)

	s.stats.StartRequest(inv.script.Name)
	s.log.Debugw("request", "id", inv.id, "method", inv.method, "script", inv.script.Filename, "payload_bytes", len(stdin))

	res, runErr := w.Run(ctx, stdin)
	if res == nil {
		s.stats.EndRequest(inv.script.Name, 0, outcomeError)
		s.log.Debugw("spawn failed", "id", inv.id, "error", runErr)
		return nil, runErr
	}

	resp := parseResponse(inv.id, res.stdout)
	resp.exitCode = res.exitCode
	resp.duration = res.duration
	resp.state = res.state
	resp.stderr = res.stderr

	if runErr != nil {
		var pe *failure.ProcessError
		if errors.As(runErr, &pe) {
			pe.Response = resp
		}
		o := outcomeError
		if failure.IsTimeout(runErr) {
			o = outcomeTimeout
		}
		s.stats.EndRequest(inv.script.Name, res.duration, o)
		s.log.Debugw("request failed", "id", inv.id, "error", runErr)
		return nil, runErr
	}

	if res.exitCode != 0 && !resp.trailerFound {
		s.stats.EndRequest(inv.script.Name, res.duration, outcomeError)
		s.log.Debugw("child exited without trailer", "id", inv.id, "exit_code", res.exitCode)
		return nil, &failure.ProcessError{
			Kind:     failure.KindExit,
			ExitCode: res.exitCode,
			Output:   res.stdout,
			Stderr:   res.stderr,
			Response: resp,
		}
	}

	s.stats.EndRequest(inv.script.Name, res.duration, outcomeOK)
	s.log.Debugw("response", "id", inv.id, "status", resp.status, "headers", len(resp.headers), "content_bytes", len(resp.content), "duration", res.duration)
	return resp, nil
}

// Close stops hot reload, if enabled.
func (s *Server) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
