// Package security validates caller-supplied command arguments and file
// names, and redacts credentials from log output.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// CommandValidator checks arguments that are passed to subprocesses run
// inside the target repository.
type CommandValidator struct {
	// Allowed interpreter binaries
	allowedInterpreters map[string]bool
	// Pattern for dotted Python names (pkg.module)
	dottedNamePattern *regexp.Regexp
	// Pattern for config file names
	fileNamePattern *regexp.Regexp
	// Pattern for environment variable names
	envKeyPattern *regexp.Regexp
}

// NewCommandValidator creates a new command validator with safe defaults
func NewCommandValidator() *CommandValidator {
	return &CommandValidator{
		allowedInterpreters: map[string]bool{
			"python":     true,
			"python3":    true,
			"python3.8":  true,
			"python3.9":  true,
			"python3.10": true,
			"python3.11": true,
			"python3.12": true,
			"python3.13": true,
		},
		dottedNamePattern: regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`),
		fileNamePattern:   regexp.MustCompile(`^[a-zA-Z0-9._-]+$`),
		envKeyPattern:     regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`),
	}
}

// ValidateInterpreter checks that the interpreter binary is a Python.
func (v *CommandValidator) ValidateInterpreter(path string) error {
	base := filepath.Base(path)
	if !v.allowedInterpreters[base] {
		return fmt.Errorf("interpreter not in allowed list: %s", base)
	}
	return nil
}

// ValidateArgs rejects empty argument lists and arguments that cannot be
// passed through argv intact.
func (v *CommandValidator) ValidateArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("args cannot be empty")
	}
	for _, arg := range args {
		if err := v.validateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument: %w", err)
		}
	}
	return nil
}

// validateArgument rejects NUL and line breaks. Commands never run through
// a shell, so shell metacharacters such as ";" or "$(" reach the program
// as literal text.
func (v *CommandValidator) validateArgument(arg string) error {
	if i := strings.IndexAny(arg, "\x00\n\r"); i >= 0 {
		return fmt.Errorf("argument contains control character %q", arg[i])
	}
	return nil
}

// ValidateDottedName validates a Python module or function path.
func (v *CommandValidator) ValidateDottedName(name string) error {
	if !v.dottedNamePattern.MatchString(name) {
		return fmt.Errorf("invalid python name: %q", name)
	}
	return nil
}

// ValidateFileName validates a bare file name written into a config
// directory. Separators and traversal are rejected.
func (v *CommandValidator) ValidateFileName(name string) error {
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return fmt.Errorf("path traversal detected: %s", name)
	}
	if !v.fileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid file name: %s", name)
	}
	return nil
}

// ValidateCommandName validates a console script name such as "uc-train".
func (v *CommandValidator) ValidateCommandName(name string) error {
	if !v.fileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid command name: %q", name)
	}
	return nil
}

// ValidateEnvKey validates an environment variable name.
func (v *CommandValidator) ValidateEnvKey(key string) error {
	if !v.envKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid environment variable name: %q", key)
	}
	return nil
}
