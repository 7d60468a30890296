package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RefreshBuffer is how long before expiry a cached token is replaced.
const RefreshBuffer = 5 * time.Minute

// AppTokenSource hands out installation tokens for one GitHub App
// installation, caching each until it is close to expiry.
type AppTokenSource struct {
	appID          string
	installationID int64
	key            *rsa.PrivateKey

	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// AppOption configures an AppTokenSource.
type AppOption func(*AppTokenSource)

// WithAPIURL points the source at a GitHub Enterprise or test server.
func WithAPIURL(url string) AppOption {
	return func(s *AppTokenSource) {
		if url != "" {
			s.baseURL = url
		}
	}
}

// WithHTTPClient sets the client used for token exchange.
func WithHTTPClient(c *http.Client) AppOption {
	return func(s *AppTokenSource) {
		s.httpClient = c
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AppOption {
	return func(s *AppTokenSource) {
		s.now = now
	}
}

// NewAppTokenSource validates the credentials and parses the private key.
func NewAppTokenSource(appID string, installationID int64, privateKeyPEM []byte, opts ...AppOption) (*AppTokenSource, error) {
	if appID == "" {
		return nil, fmt.Errorf("app ID cannot be empty")
	}
	if installationID <= 0 {
		return nil, fmt.Errorf("installation ID must be positive")
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub App private key: %w", err)
	}

	s := &AppTokenSource{
		appID:          appID,
		installationID: installationID,
		key:            key,
		baseURL:        "https://api.github.com",
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Token returns a cached installation token or mints a new one.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && s.expiresAt.After(now.Add(RefreshBuffer)) {
		return s.token, nil
	}

	appJWT, err := signAppJWT(s.appID, s.key, now, MaxJWTDuration)
	if err != nil {
		return "", err
	}
	tok, err := exchange(ctx, s.httpClient, s.baseURL, appJWT, s.installationID)
	if err != nil {
		return "", fmt.Errorf("failed to obtain installation token: %w", err)
	}

	s.token = tok.Token
	s.expiresAt = tok.ExpiresAt
	return s.token, nil
}
