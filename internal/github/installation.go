package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// installationToken is the response of POST /app/installations/{id}/access_tokens.
type installationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type apiError struct {
	Message string `json:"message"`
}

// exchange trades an app JWT for an installation access token.
func exchange(ctx context.Context, client *http.Client, baseURL, appJWT string, installationID int64) (*installationToken, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, apiFailure(resp.StatusCode, body)
	}

	var tok installationToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.Token == "" {
		return nil, fmt.Errorf("token response carried no token")
	}
	return &tok, nil
}

func apiFailure(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return fmt.Errorf("GitHub API error (status %d)", status)
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: %s (check app ID and private key)", e.Message)
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (check installation ID)", e.Message)
	default:
		return fmt.Errorf("GitHub API error (status %d): %s", status, e.Message)
	}
}
