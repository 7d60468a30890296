package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andywolf/pyshim/internal/cloud/gcp"
)

// TokenSource yields an access token for cloning. An empty token with a nil
// error means the source has nothing to offer.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// EnvToken reads a token from the named environment variable.
type EnvToken string

func (e EnvToken) Token(context.Context) (string, error) {
	if e == "" {
		return "", nil
	}
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// SecretToken reads a token from Secret Manager.
type SecretToken struct {
	Fetcher gcp.SecretFetcher
	Path    string
}

func (s SecretToken) Token(ctx context.Context) (string, error) {
	if s.Fetcher == nil || s.Path == "" {
		return "", nil
	}
	tok, err := s.Fetcher.FetchSecret(ctx, s.Path)
	if err != nil {
		return "", fmt.Errorf("failed to fetch clone token secret: %w", err)
	}
	return tok, nil
}

// FirstToken tries each source in order and returns the first non-empty
// token. Source errors are only reported when no source produced a token.
type FirstToken []TokenSource

func (f FirstToken) Token(ctx context.Context) (string, error) {
	var errs []error
	for _, src := range f {
		if src == nil {
			continue
		}
		tok, err := src.Token(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if tok != "" {
			return tok, nil
		}
	}
	return "", errors.Join(errs...)
}
