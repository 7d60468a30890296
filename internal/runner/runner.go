// Package runner executes bounded-time subprocesses inside the target
// repository and writes config files for them.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Synthetic exit codes for runs that did not complete normally.
const (
	ExitLaunchFailure = 2
	ExitTimeout       = 124
)

// DefaultTimeout bounds commands whose Timeout is unset.
const DefaultTimeout = 600 * time.Second

// Result is the outcome of one subprocess run. A launch failure or timeout
// is reported through ExitCode and Stderr, never as a Go error.
type Result struct {
	ExitCode int    `json:"returncode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// OK reports whether the process exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Command describes a process to run. Args[0] is the program.
type Command struct {
	Dir     string
	Args    []string
	Env     map[string]string
	Timeout time.Duration

	// Label prefixes launch-failure messages ("<Label> failed: ...").
	// Defaults to "Run".
	Label string
}

// CommandFactory builds the exec.Cmd for a program; tests substitute it.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

// Runner runs Commands.
type Runner struct {
	cmdRunner CommandFactory
}

// Option configures a Runner.
type Option func(*Runner)

// WithCommandFactory overrides how exec.Cmd values are created.
func WithCommandFactory(f CommandFactory) Option {
	return func(r *Runner) {
		r.cmdRunner = f
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) execCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	if r.cmdRunner != nil {
		return r.cmdRunner(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...)
}

// Run executes c and waits for it. No retry is attempted.
func (r *Runner) Run(ctx context.Context, c Command) Result {
	label := c.Label
	if label == "" {
		label = "Run"
	}
	if len(c.Args) == 0 {
		return Result{ExitCode: ExitLaunchFailure, Stderr: label + " failed: empty command"}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := r.execCommand(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), c.Env)
	}
	// Children that keep the pipes open must not outlive the deadline
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{
			ExitCode: ExitTimeout,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("Timeout: %s", timeout),
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return Result{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		return Result{
			ExitCode: ExitLaunchFailure,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("%s failed: %v", label, err),
		}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}
}

// mergeEnv overlays extra onto base. exec keeps the last value of a
// duplicated key, so appending is enough.
func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// PythonPath returns a PYTHONPATH value with dir placed ahead of the
// inherited search path.
func PythonPath(dir string) string {
	existing := os.Getenv("PYTHONPATH")
	if existing == "" {
		return dir
	}
	parts := filepath.SplitList(existing)
	for _, p := range parts {
		if p == dir {
			return existing
		}
	}
	return dir + string(os.PathListSeparator) + existing
}

// MainCommand builds `python -m __main__ args...` run from dir, with dir
// ahead of PYTHONPATH and env overlaid on top. A relative dir is made
// absolute since the child also runs from inside it.
func MainCommand(python, dir string, args []string, env map[string]string, timeout time.Duration) Command {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	merged := map[string]string{"PYTHONPATH": PythonPath(dir)}
	for k, v := range env {
		merged[k] = v
	}
	return Command{
		Dir:     dir,
		Args:    append([]string{python, "-m", "__main__"}, args...),
		Env:     merged,
		Timeout: timeout,
	}
}

// DetectPython returns $PYTHON, or "python" when unset.
func DetectPython() string {
	if p := strings.TrimSpace(os.Getenv("PYTHON")); p != "" {
		return p
	}
	return "python"
}
