package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultMaxFiles = 1000
	sourceExt       = ".py"
)

// DefaultExcludeDirs are never descended into. Hidden directories are
// pruned as well regardless of this list.
var DefaultExcludeDirs = []string{
	".git",
	"__pycache__",
	".pytest_cache",
	".mypy_cache",
	"node_modules",
	".venv",
	"venv",
	"env",
	".env",
	"build",
	"dist",
}

var (
	// ErrRootNotFound is returned when the repository root does not exist.
	ErrRootNotFound = errors.New("repository root not found")
	// ErrNotDirectory is returned when the repository root is a file.
	ErrNotDirectory = errors.New("repository root is not a directory")
)

// Scanner analyzes a Python repository rooted at rootDir.
type Scanner struct {
	rootDir     string
	maxFiles    int
	excludeDirs map[string]bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxFiles caps the number of source files parsed per scan.
// Non-positive values keep the default.
func WithMaxFiles(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxFiles = n
		}
	}
}

// WithExcludeDirs replaces the default excluded directory names.
func WithExcludeDirs(dirs ...string) Option {
	return func(s *Scanner) {
		if len(dirs) == 0 {
			return
		}
		s.excludeDirs = make(map[string]bool, len(dirs))
		for _, d := range dirs {
			s.excludeDirs[d] = true
		}
	}
}

// New creates a Scanner for the given root directory.
func New(rootDir string, opts ...Option) *Scanner {
	s := &Scanner{
		rootDir:     rootDir,
		maxFiles:    defaultMaxFiles,
		excludeDirs: make(map[string]bool, len(DefaultExcludeDirs)),
	}
	for _, d := range DefaultExcludeDirs {
		s.excludeDirs[d] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanRepository scans root with default options.
func ScanRepository(root string) (*ScanResult, error) {
	return New(root).Scan()
}

// MapModules parses only the given repository-relative paths of root.
func MapModules(root string, relPaths []string) map[string]ModuleInfo {
	return New(root).MapModules(relPaths)
}

// Scan walks the repository and returns its structural metadata. Only a
// missing or invalid root is reported as an error; per-file and per-source
// failures are embedded in the result.
func (s *Scanner) Scan() (*ScanResult, error) {
	root, err := resolveRoot(s.rootDir)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		RepoRoot:     root,
		Modules:      make(map[string]ModuleInfo),
		Entrypoints:  detectEntrypoints(root),
		Requirements: detectRequirements(root),
		Configs:      detectConfigFiles(root),
		Readme:       firstExcerpt(root, readmeCandidates, readmeLimit),
		License:      firstExcerpt(root, licenseCandidates, licenseLimit),
	}

	for _, path := range findSourceFiles(root, s.excludeDirs, s.maxFiles) {
		result.Modules[relPath(root, path)] = parseFile(path)
	}
	return result, nil
}

// MapModules parses the listed files. Paths that do not exist or that
// resolve outside the root are skipped silently.
func (s *Scanner) MapModules(relPaths []string) map[string]ModuleInfo {
	out := make(map[string]ModuleInfo, len(relPaths))
	root, err := filepath.Abs(s.rootDir)
	if err != nil {
		return out
	}
	for _, rel := range relPaths {
		path, ok := joinWithin(root, rel)
		if !ok {
			continue
		}
		if fi, err := os.Stat(path); err != nil || fi.IsDir() {
			continue
		}
		out[rel] = parseFile(path)
	}
	return out
}

// Entrypoints returns the entry points declared by the repository.
func (s *Scanner) Entrypoints() map[string][]string {
	return DetectEntrypoints(s.rootDir)
}

func resolveRoot(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("%w: empty path", ErrRootNotFound)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrRootNotFound, abs)
		}
		return "", fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}
	return abs, nil
}

// findSourceFiles collects .py files under root in directory-entry order,
// pruning excluded and hidden directories, and stops at maxFiles.
func findSourceFiles(root string, exclude map[string]bool, maxFiles int) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if exclude[name] || strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), sourceExt) {
			return nil
		}
		files = append(files, path)
		if len(files) >= maxFiles {
			return fs.SkipAll
		}
		return nil
	})
	return files
}

func parseFile(path string) ModuleInfo {
	src, err := readText(path)
	if err != nil {
		return errorRecord(err)
	}
	info, err := ParseDefinitions([]byte(src), path)
	if err != nil {
		return errorRecord(err)
	}
	return info
}

// readText reads a file, replacing invalid UTF-8 sequences.
func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

// joinWithin joins a caller-supplied relative path onto root and rejects
// results that escape it.
func joinWithin(root, rel string) (string, bool) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", false
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return path, true
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
