package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"

	"github.com/andywolf/pyshim/internal/cloud/gcp"
	"github.com/andywolf/pyshim/internal/config"
	"github.com/andywolf/pyshim/internal/github"
	"github.com/andywolf/pyshim/internal/repo"
	"github.com/andywolf/pyshim/internal/scanner"
	"github.com/andywolf/pyshim/internal/security"
)

// app bundles what every command needs once config is loaded.
type app struct {
	cfg       *config.Config
	logger    *gcp.CloudLogger
	sanitizer *security.LogSanitizer
	secrets   *gcp.SecretManagerClient
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sanitizer := security.NewLogSanitizer()
	logger := gcp.NewCloudLogger(
		gcp.WithSanitizer(sanitizer),
		gcp.WithVerbose(viper.GetBool("verbose")),
		gcp.WithLabels(map[string]string{"repository": cfg.Repository.Name}),
	)
	return &app{cfg: cfg, logger: logger, sanitizer: sanitizer}, nil
}

func (a *app) Close() {
	if a.secrets != nil {
		_ = a.secrets.Close()
	}
	_ = a.logger.Close()
}

// secretClient creates the Secret Manager client on first use.
func (a *app) secretClient(ctx context.Context) (*gcp.SecretManagerClient, error) {
	if a.secrets != nil {
		return a.secrets, nil
	}
	client, err := gcp.NewSecretManagerClient(ctx, a.cfg.Cloud.Project)
	if err != nil {
		return nil, err
	}
	a.secrets = client
	return client, nil
}

// tokenSource builds the clone credential chain: environment variable,
// then Secret Manager, then a GitHub App installation token. Sources that
// are not configured are left out; a source that cannot be set up is
// logged and skipped so public repositories still clone.
func (a *app) tokenSource(ctx context.Context) repo.TokenSource {
	chain := repo.FirstToken{repo.EnvToken(a.cfg.Repository.TokenEnv)}

	if path := a.cfg.Repository.TokenSecret; path != "" {
		sm, err := a.secretClient(ctx)
		if err != nil {
			a.logger.Warningf("secret manager unavailable, skipping token secret: %v", err)
		} else {
			chain = append(chain, repo.SecretToken{Fetcher: sm, Path: path})
		}
	}

	if a.cfg.GitHub.AppID != "" {
		src, err := a.appTokenSource(ctx)
		if err != nil {
			a.logger.Warningf("GitHub App credentials unavailable: %v", err)
		} else {
			chain = append(chain, src)
		}
	}
	return chain
}

func (a *app) appTokenSource(ctx context.Context) (*github.AppTokenSource, error) {
	gh := a.cfg.GitHub

	var key []byte
	switch {
	case gh.PrivateKeyFile != "":
		data, err := os.ReadFile(gh.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		key = data
	case gh.PrivateKeySecret != "":
		sm, err := a.secretClient(ctx)
		if err != nil {
			return nil, err
		}
		data, err := sm.FetchSecret(ctx, gh.PrivateKeySecret)
		if err != nil {
			return nil, err
		}
		key = []byte(data)
	}

	return github.NewAppTokenSource(gh.AppID, gh.InstallationID, key, github.WithAPIURL(gh.APIURL))
}

func (a *app) fetcher(ctx context.Context) (*repo.Fetcher, error) {
	return repo.NewFetcher(a.cfg.Repository.URL, a.cfg.RepoDir(),
		repo.WithDepth(a.cfg.Repository.Depth),
		repo.WithTokenSource(a.tokenSource(ctx)),
		repo.WithLogger(a.logger),
		repo.WithSanitizer(a.sanitizer),
	)
}

func (a *app) scannerOptions() []scanner.Option {
	return []scanner.Option{
		scanner.WithMaxFiles(a.cfg.Scanner.MaxFiles),
		scanner.WithExcludeDirs(a.cfg.Scanner.ExcludeDirs...),
	}
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
