// Package repo keeps a local working copy of the target repository in sync
// with its remote.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/andywolf/pyshim/internal/cloud/gcp"
	"github.com/andywolf/pyshim/internal/security"
)

// Sync actions.
const (
	ActionClone  = "clone"
	ActionUpdate = "update"
)

// tokenUser is the basic-auth username GitHub expects alongside an
// installation or personal access token.
const tokenUser = "x-access-token"

// ErrNoURL is returned when no remote URL is configured.
var ErrNoURL = errors.New("repository URL is not configured")

// SyncResult reports what Sync did.
type SyncResult struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	Head   string `json:"head,omitempty"`
	Log    string `json:"log"`
}

// Fetcher clones url into dir, or fast-forwards an existing clone.
type Fetcher struct {
	url       string
	dir       string
	depth     int
	tokens    TokenSource
	logger    gcp.LoggerInterface
	sanitizer *security.LogSanitizer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDepth requests a shallow clone. Zero means full history.
func WithDepth(depth int) Option {
	return func(f *Fetcher) {
		if depth > 0 {
			f.depth = depth
		}
	}
}

// WithTokenSource sets where HTTP(S) clone credentials come from.
func WithTokenSource(src TokenSource) Option {
	return func(f *Fetcher) {
		f.tokens = src
	}
}

// WithLogger sets the logger.
func WithLogger(l gcp.LoggerInterface) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithSanitizer shares a sanitizer, typically the logger's, so clone tokens
// are scrubbed everywhere they might surface.
func WithSanitizer(s *security.LogSanitizer) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sanitizer = s
		}
	}
}

// NewFetcher creates a Fetcher for url and the local directory dir.
func NewFetcher(url, dir string, opts ...Option) (*Fetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNoURL
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("repository directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	f := &Fetcher{
		url:       url,
		dir:       abs,
		logger:    gcp.NopLogger{},
		sanitizer: security.NewLogSanitizer(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Dir returns the absolute path of the working copy.
func (f *Fetcher) Dir() string {
	return f.dir
}

// Present reports whether dir holds a checkout. Callers use it to refuse
// work on a repository that was never cloned.
func Present(dir string) bool {
	fi, err := os.Stat(dir)
	return err == nil && fi.IsDir()
}

// Sync clones the repository when the working copy does not exist and
// pulls otherwise. An up-to-date working copy is a successful update.
func (f *Fetcher) Sync(ctx context.Context) (*SyncResult, error) {
	if err := os.MkdirAll(filepath.Dir(f.dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(f.dir), err)
	}

	auth, err := f.auth(ctx)
	if err != nil {
		return nil, err
	}

	var progress bytes.Buffer
	result := &SyncResult{Path: f.dir}

	_, statErr := os.Stat(f.dir)
	switch {
	case errors.Is(statErr, fs.ErrNotExist):
		result.Action = ActionClone
		err = f.clone(ctx, auth, &progress)
	case statErr != nil:
		return nil, fmt.Errorf("failed to stat %s: %w", f.dir, statErr)
	default:
		result.Action = ActionUpdate
		err = f.pull(ctx, auth, &progress)
	}
	result.Log = f.sanitizer.Sanitize(progress.String())
	if err != nil {
		f.logger.Errorf("repository %s failed: %v", result.Action, err)
		return nil, errors.New(f.sanitizer.Sanitize(err.Error()))
	}

	if head, err := headHash(f.dir); err == nil {
		result.Head = head
	}
	f.logger.Infof("repository %s complete: %s at %s", result.Action, f.dir, result.Head)
	return result, nil
}

func (f *Fetcher) clone(ctx context.Context, auth transport.AuthMethod, progress *bytes.Buffer) error {
	f.logger.Infof("cloning %s into %s", f.url, f.dir)
	_, err := git.PlainCloneContext(ctx, f.dir, false, &git.CloneOptions{
		URL:      f.url,
		Auth:     auth,
		Depth:    f.depth,
		Progress: progress,
	})
	if err != nil {
		// Leave nothing behind so the next Sync retries the clone.
		_ = os.RemoveAll(f.dir)
		return fmt.Errorf("clone failed: %w", err)
	}
	return nil
}

func (f *Fetcher) pull(ctx context.Context, auth transport.AuthMethod, progress *bytes.Buffer) error {
	f.logger.Infof("updating %s", f.dir)
	r, err := git.PlainOpen(f.dir)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.dir, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
		Depth:      f.depth,
		Progress:   progress,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		progress.WriteString("Already up to date.\n")
		return nil
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return fmt.Errorf("pull failed: local history diverged from %s", git.DefaultRemoteName)
	default:
		return fmt.Errorf("pull failed: %w", err)
	}
}

// auth builds HTTP basic credentials when the remote is HTTP(S) and a
// token is available. Other transports use their own defaults.
func (f *Fetcher) auth(ctx context.Context) (transport.AuthMethod, error) {
	if f.tokens == nil || !isHTTPURL(f.url) {
		return nil, nil
	}
	tok, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clone token: %w", err)
	}
	if tok == "" {
		return nil, nil
	}
	f.sanitizer.AddSecret(tok)
	return &githttp.BasicAuth{Username: tokenUser, Password: tok}, nil
}

func isHTTPURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

func headHash(dir string) (string, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	ref, err := r.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}
