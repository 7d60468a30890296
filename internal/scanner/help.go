package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/andywolf/pyshim/internal/runner"
	"github.com/andywolf/pyshim/internal/security"
)

// DefaultHelpTimeout bounds a single help invocation.
const DefaultHelpTimeout = 20 * time.Second

// Helper runs a module's or entry point's --help inside the repository.
type Helper struct {
	runner    *runner.Runner
	timeout   time.Duration
	validator *security.CommandValidator
}

// NewHelper creates a Helper. A nil runner or non-positive timeout selects
// the defaults.
func NewHelper(r *runner.Runner, timeout time.Duration) *Helper {
	if r == nil {
		r = runner.New()
	}
	if timeout <= 0 {
		timeout = DefaultHelpTimeout
	}
	return &Helper{runner: r, timeout: timeout, validator: security.NewCommandValidator()}
}

// GetHelp runs help with the default runner and timeout.
func GetHelp(ctx context.Context, root, module, entry, python string) runner.Result {
	return NewHelper(nil, 0).Help(ctx, root, module, entry, python)
}

// Help invokes `python -m module --help`, or, when entry is given as
// "name = pkg.mod:func" or "pkg.mod:func", imports func and calls it with
// argv[0] set to the command name. The process runs with cwd root and root
// prefixed onto PYTHONPATH. A bare command name as entry falls back to
// module, or else to the target the repository declares for it. Failures
// are reported through the Result.
func (h *Helper) Help(ctx context.Context, root, module, entry, python string) runner.Result {
	fail := func(err error) runner.Result {
		return runner.Result{
			ExitCode: runner.ExitLaunchFailure,
			Stderr:   fmt.Sprintf("Help run failed: %v", err),
		}
	}

	// The child runs inside root, so a relative PYTHONPATH entry would
	// resolve against itself.
	root, err := filepath.Abs(root)
	if err != nil {
		return fail(err)
	}
	if isCommandName(entry) && strings.TrimSpace(module) == "" {
		entry = resolveCommand(root, entry)
	}

	args, err := h.helpArgs(module, entry, python)
	if err != nil {
		return fail(err)
	}
	return h.runner.Run(ctx, runner.Command{
		Dir:     root,
		Args:    args,
		Env:     map[string]string{"PYTHONPATH": runner.PythonPath(root)},
		Timeout: h.timeout,
		Label:   "Help run",
	})
}

func (h *Helper) helpArgs(module, entry, python string) ([]string, error) {
	if python == "" {
		python = runner.DetectPython()
	}
	module = strings.TrimSpace(module)
	entry = strings.TrimSpace(entry)
	if isCommandName(entry) && module != "" {
		entry = ""
	}

	if entry == "" {
		if module == "" {
			return nil, fmt.Errorf("provide entry or module")
		}
		if err := h.validator.ValidateDottedName(module); err != nil {
			return nil, err
		}
		return []string{python, "-m", module, "--help"}, nil
	}

	name, target, hasName := strings.Cut(entry, "=")
	if !hasName {
		target, name = name, ""
	}
	name = strings.TrimSpace(name)
	target = stripExtras(strings.TrimSpace(target))

	mod, fn, hasFunc := strings.Cut(target, ":")
	mod = strings.TrimSpace(mod)
	fn = strings.TrimSpace(fn)
	if err := h.validator.ValidateDottedName(mod); err != nil {
		return nil, err
	}
	if !hasFunc {
		return []string{python, "-m", mod, "--help"}, nil
	}
	if err := h.validator.ValidateDottedName(fn); err != nil {
		return nil, err
	}
	if name == "" {
		name = fn
	}
	if err := h.validator.ValidateCommandName(name); err != nil {
		return nil, err
	}

	// fn may be an attribute path (obj.method); import its first segment.
	head, _, _ := strings.Cut(fn, ".")
	script := fmt.Sprintf("import sys; sys.argv[0] = '%s'; from %s import %s; sys.exit(%s())", name, mod, head, fn)
	return []string{python, "-c", script, "--help"}, nil
}

// isCommandName reports whether entry is a bare command name such as
// "uc-train" rather than a "name = target" or "pkg.mod:func" declaration.
func isCommandName(entry string) bool {
	entry = strings.TrimSpace(entry)
	return entry != "" && !strings.ContainsAny(entry, "=:")
}

// resolveCommand expands a bare command name into "name = target" using
// the repository's first declared target. Unknown names are returned as-is.
func resolveCommand(root, name string) string {
	name = strings.TrimSpace(name)
	if targets := DetectEntrypoints(root)[name]; len(targets) > 0 {
		return name + " = " + targets[0]
	}
	return name
}

// stripExtras drops a trailing "[extra1,extra2]" from an entry point target.
func stripExtras(target string) string {
	if i := strings.Index(target, "["); i >= 0 {
		return strings.TrimSpace(target[:i])
	}
	return target
}
