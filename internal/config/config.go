// Package config loads pyshim settings from .pyshim.yaml and PYSHIM_*
// environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/andywolf/pyshim/internal/security"
)

// DefaultRepoURL is the repository served when none is configured.
const DefaultRepoURL = "https://github.com/singaevsky/UC.git"

// Config represents the full pyshim configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Repository RepositoryConfig `mapstructure:"repository"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Cloud      CloudConfig      `mapstructure:"cloud"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RepositoryConfig describes the target repository and its local clone
type RepositoryConfig struct {
	URL         string `mapstructure:"url"`
	Name        string `mapstructure:"name"`         // Directory name under ReposDir
	ReposDir    string `mapstructure:"repos_dir"`    // Parent of the working copy
	TokenEnv    string `mapstructure:"token_env"`    // Env var holding a clone token
	TokenSecret string `mapstructure:"token_secret"` // Secret Manager path of a clone token
	Depth       int    `mapstructure:"depth"`        // Shallow clone depth, 0 = full
}

// GitHubConfig contains optional GitHub App credentials used to mint clone
// tokens for private repositories
type GitHubConfig struct {
	AppID            string `mapstructure:"app_id"`
	InstallationID   int64  `mapstructure:"installation_id"`
	PrivateKeyFile   string `mapstructure:"private_key_file"`
	PrivateKeySecret string `mapstructure:"private_key_secret"`
	APIURL           string `mapstructure:"api_url"`
}

// CloudConfig contains GCP settings for Secret Manager lookups
type CloudConfig struct {
	Project string `mapstructure:"project"`
}

// RunnerConfig controls subprocesses run inside the repository
type RunnerConfig struct {
	Python      string `mapstructure:"python"`
	HelpTimeout string `mapstructure:"help_timeout"`
	RunTimeout  string `mapstructure:"run_timeout"`
	ConfigsDir  string `mapstructure:"configs_dir"`
	DataDir     string `mapstructure:"data_dir"`
}

// ScannerConfig bounds repository scans
type ScannerConfig struct {
	MaxFiles    int      `mapstructure:"max_files"`
	ExcludeDirs []string `mapstructure:"exclude_dirs"`
}

// envKeys are the settings that may come from PYSHIM_* variables alone,
// without appearing in a config file.
var envKeys = []string{
	"server.addr",
	"repository.url",
	"repository.name",
	"repository.repos_dir",
	"repository.token_env",
	"repository.token_secret",
	"repository.depth",
	"github.app_id",
	"github.installation_id",
	"github.private_key_file",
	"github.private_key_secret",
	"github.api_url",
	"cloud.project",
	"runner.python",
	"runner.help_timeout",
	"runner.run_timeout",
	"runner.configs_dir",
	"runner.data_dir",
	"scanner.max_files",
	"scanner.exclude_dirs",
}

// BindEnv registers every setting with v so that AutomaticEnv lookups
// reach Unmarshal.
func BindEnv(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// Load loads configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads configuration from v
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8000"
	}

	if cfg.Repository.URL == "" {
		cfg.Repository.URL = DefaultRepoURL
	}
	if cfg.Repository.Name == "" {
		cfg.Repository.Name = "UC"
	}

	if cfg.Runner.DataDir == "" {
		cfg.Runner.DataDir = "data"
	}
	if cfg.Repository.ReposDir == "" {
		cfg.Repository.ReposDir = filepath.Join(cfg.Runner.DataDir, "repos")
	}
	if cfg.Runner.ConfigsDir == "" {
		cfg.Runner.ConfigsDir = filepath.Join(cfg.Runner.DataDir, "configs")
	}

	if cfg.Repository.TokenEnv == "" {
		cfg.Repository.TokenEnv = "GITHUB_TOKEN"
	}

	if cfg.Runner.HelpTimeout == "" {
		cfg.Runner.HelpTimeout = "20s"
	}
	if cfg.Runner.RunTimeout == "" {
		cfg.Runner.RunTimeout = "10m"
	}

	if cfg.Scanner.MaxFiles == 0 {
		cfg.Scanner.MaxFiles = 1000
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}

	v := security.NewCommandValidator()
	if err := v.ValidateFileName(c.Repository.Name); err != nil {
		return fmt.Errorf("invalid repository name: %w", err)
	}
	if c.Repository.Depth < 0 {
		return fmt.Errorf("repository depth cannot be negative")
	}

	if c.Runner.Python != "" {
		if err := v.ValidateInterpreter(c.Runner.Python); err != nil {
			return fmt.Errorf("invalid runner.python: %w", err)
		}
	}
	timeouts := []struct{ key, value string }{
		{"help_timeout", c.Runner.HelpTimeout},
		{"run_timeout", c.Runner.RunTimeout},
	}
	for _, t := range timeouts {
		d, err := time.ParseDuration(t.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", t.key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", t.key)
		}
	}

	if c.Scanner.MaxFiles < 0 {
		return fmt.Errorf("scanner max_files cannot be negative")
	}

	if c.GitHub.AppID != "" {
		if c.GitHub.InstallationID <= 0 {
			return fmt.Errorf("GitHub App installation ID is required")
		}
		if c.GitHub.PrivateKeyFile == "" && c.GitHub.PrivateKeySecret == "" {
			return fmt.Errorf("GitHub App private key file or secret path is required")
		}
	}

	return nil
}

// RepoDir returns the path of the local working copy.
func (c *Config) RepoDir() string {
	return filepath.Join(c.Repository.ReposDir, c.Repository.Name)
}

// HelpDuration returns the parsed help timeout, or zero if invalid.
func (r RunnerConfig) HelpDuration() time.Duration {
	d, _ := time.ParseDuration(r.HelpTimeout)
	return d
}

// RunDuration returns the parsed run timeout, or zero if invalid.
func (r RunnerConfig) RunDuration() time.Duration {
	d, _ := time.ParseDuration(r.RunTimeout)
	return d
}
