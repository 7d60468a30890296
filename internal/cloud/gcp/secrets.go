package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

const (
	secretFetchTimeout = 10 * time.Second
	metadataTimeout    = 2 * time.Second
)

// ErrNoProject is returned when a short secret name cannot be expanded
// because no project ID is known.
var ErrNoProject = errors.New("no GCP project configured")

// SecretFetcher defines the interface for fetching secrets
type SecretFetcher interface {
	FetchSecret(ctx context.Context, secretPath string) (string, error)
	Close() error
}

// SecretManagerClient reads repository clone tokens from Secret Manager.
type SecretManagerClient struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerClient creates a Secret Manager client. projectID may be
// empty, in which case it is discovered from the environment or the
// metadata server; discovery failure is not fatal since fully qualified
// secret paths do not need it.
func NewSecretManagerClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*SecretManagerClient, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	if projectID == "" {
		projectID, _ = getProjectID(ctx, metadataProjectURL)
	}

	return &SecretManagerClient{
		client:    client,
		projectID: projectID,
	}, nil
}

const metadataProjectURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

// getProjectID checks the usual project environment variables, then the
// metadata server at metadataURL.
func getProjectID(ctx context.Context, metadataURL string) (string, error) {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"} {
		if projectID := os.Getenv(key); projectID != "" {
			return projectID, nil
		}
	}
	return getProjectIDFromMetadata(ctx, metadataURL)
}

func getProjectIDFromMetadata(ctx context.Context, metadataURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: metadataTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch project ID from metadata server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}

	projectID := strings.TrimSpace(string(body))
	if projectID == "" {
		return "", fmt.Errorf("empty project ID from metadata server")
	}
	return projectID, nil
}

// FetchSecret retrieves a secret from GCP Secret Manager
// secretPath can be in one of the following formats:
// - projects/PROJECT_ID/secrets/SECRET_NAME/versions/VERSION
// - projects/PROJECT_ID/secrets/SECRET_NAME (defaults to latest)
// - SECRET_NAME (requires a project ID)
func (c *SecretManagerClient) FetchSecret(ctx context.Context, secretPath string) (string, error) {
	name, err := normalizeSecretPath(secretPath, c.projectID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, secretFetchTimeout)
	defer cancel()

	result, err := c.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}

	// Tokens are commonly stored with a trailing newline.
	return strings.TrimSpace(string(result.Payload.GetData())), nil
}

// normalizeSecretPath expands secretPath to a full version resource name.
func normalizeSecretPath(secretPath, projectID string) (string, error) {
	secretPath = strings.TrimSpace(secretPath)
	if secretPath == "" {
		return "", errors.New("empty secret path")
	}

	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/versions/") {
		return secretPath, nil
	}
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/secrets/") {
		return secretPath + "/versions/latest", nil
	}

	if projectID == "" {
		return "", fmt.Errorf("%w: cannot resolve secret %q", ErrNoProject, secretPath)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, path.Base(secretPath)), nil
}

// Close closes the Secret Manager client
func (c *SecretManagerClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

var _ SecretFetcher = (*SecretManagerClient)(nil)
