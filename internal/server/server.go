// Package server exposes the scanner, runner and hooks over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andywolf/pyshim/internal/cloud/gcp"
	"github.com/andywolf/pyshim/internal/hooks"
	"github.com/andywolf/pyshim/internal/repo"
	"github.com/andywolf/pyshim/internal/runner"
	"github.com/andywolf/pyshim/internal/scanner"
	"github.com/andywolf/pyshim/internal/security"
)

const (
	maxBodyBytes    = 10 << 20
	shutdownTimeout = 10 * time.Second
)

// Syncer clones or updates the target repository.
type Syncer interface {
	Sync(ctx context.Context) (*repo.SyncResult, error)
}

// Server routes API requests for one target repository.
type Server struct {
	repoDir    string
	dataDir    string
	configsDir string
	python     string
	runTimeout time.Duration

	syncer      Syncer
	scanOptions []scanner.Option
	helper      *scanner.Helper
	runner      *runner.Runner
	hooks       hooks.Hooks
	validator   *security.CommandValidator
	logger      gcp.LoggerInterface

	mux *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithRepoDir sets the working copy the API operates on.
func WithRepoDir(dir string) Option {
	return func(s *Server) { s.repoDir = dir }
}

// WithDataDir sets the directory dataset paths in the default config point to.
func WithDataDir(dir string) Option {
	return func(s *Server) { s.dataDir = dir }
}

// WithConfigsDir sets where /api/run and /api/ensure-default-configs write
// config files.
func WithConfigsDir(dir string) Option {
	return func(s *Server) { s.configsDir = dir }
}

// WithPython sets the interpreter used for runs and help.
func WithPython(python string) Option {
	return func(s *Server) { s.python = python }
}

// WithRunTimeout sets the timeout for runs that do not request one.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithSyncer sets the repository fetcher behind /api/clone.
func WithSyncer(sy Syncer) Option {
	return func(s *Server) { s.syncer = sy }
}

// WithScannerOptions sets options applied to every scan.
func WithScannerOptions(opts ...scanner.Option) Option {
	return func(s *Server) { s.scanOptions = opts }
}

// WithHelper sets the help runner.
func WithHelper(h *scanner.Helper) Option {
	return func(s *Server) { s.helper = h }
}

// WithRunner sets the subprocess runner.
func WithRunner(r *runner.Runner) Option {
	return func(s *Server) { s.runner = r }
}

// WithHooks sets the train/eval/infer implementation.
func WithHooks(h hooks.Hooks) Option {
	return func(s *Server) { s.hooks = h }
}

// WithLogger sets the logger.
func WithLogger(l gcp.LoggerInterface) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server and registers its routes.
func New(opts ...Option) *Server {
	s := &Server{
		repoDir:    "data/repos/UC",
		dataDir:    "data",
		configsDir: "data/configs",
		runTimeout: runner.DefaultTimeout,
		hooks:      hooks.Stub{},
		validator:  security.NewCommandValidator(),
		logger:     gcp.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.python == "" {
		s.python = runner.DetectPython()
	}
	if s.runner == nil {
		s.runner = runner.New()
	}
	if s.helper == nil {
		s.helper = scanner.NewHelper(s.runner, 0)
	}

	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux.HandleFunc("GET /api/clone", s.handleClone)
	s.mux.HandleFunc("GET /api/scan", s.handleScan)
	s.mux.HandleFunc("POST /api/module-map", s.handleModuleMap)
	s.mux.HandleFunc("GET /api/entrypoints", s.handleEntrypoints)
	s.mux.HandleFunc("GET /api/help", s.handleHelp)
	s.mux.HandleFunc("POST /api/run", s.handleRun)
	s.mux.HandleFunc("GET /api/default-config", s.handleDefaultConfig)
	s.mux.HandleFunc("POST /api/ensure-default-configs", s.handleEnsureDefaultConfigs)
	s.mux.HandleFunc("POST /api/uc/train", s.handleTrain)
	s.mux.HandleFunc("POST /api/uc/eval", s.handleEval)
	s.mux.HandleFunc("POST /api/uc/infer", s.handleInfer)
}

// Handler returns the root handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s (repository %s)", addr, s.repoDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
