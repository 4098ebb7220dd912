package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"richter/internal/failure"
	appLog "richter/internal/log"
)

const (
	DefaultBaseURL          = "https://api.showmyhomework.co.uk/api"
	DefaultTimeoutSeconds   = 15
	DefaultFetchConcurrency = 4
	DefaultLogLevel         = "info"
	DefaultListen           = "127.0.0.1:8080"
	DefaultRefresh          = "0 6 * * *"

	processConfig = "Reading Configuration"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the web API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the application configuration stored as config.yml in the
// profile directory.
type Config struct {
	// APIBaseURL is the root of the remote homework API.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// UserAgent overrides the client's User-Agent header when set.
	UserAgent string `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`

	// TimeoutSeconds bounds each remote request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// FetchConcurrency caps parallel per-school fetches during a rebuild.
	FetchConcurrency int `yaml:"fetch_concurrency" json:"fetch_concurrency"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Listen is the HTTP listen address used by `richter serve`.
	Listen string `yaml:"listen" json:"listen"`

	// RefreshCron is a standard 5-field cron schedule for periodic pulls
	// while serving (e.g. "0 6 * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// ExportPath is the default output file of `richter export`. Empty
	// means stdout.
	ExportPath string `yaml:"export_path,omitempty" json:"export_path,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:       DefaultBaseURL,
		TimeoutSeconds:   DefaultTimeoutSeconds,
		FetchConcurrency: DefaultFetchConcurrency,
		LogLevel:         DefaultLogLevel,
		Listen:           DefaultListen,
		RefreshCron:      DefaultRefresh,
	}
}

// Normalize fills in missing/zero values so that partially-filled files
// still behave correctly.
func (c *Config) Normalize() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefresh
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		return errors.New("basic_auth needs both username and password")
	}
	return nil
}

// Timeout is TimeoutSeconds as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
//
// Every error is a failure.KindStorage or failure.KindDeclaration error
// labelled "Reading Configuration".
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, failure.New(failure.KindInternal, processConfig, "Locating config file", "config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg so the caller can decide.
				return cfg, failure.Within(processConfig, err)
			}
			appLog.Info("wrote default config", "path", path)
			return cfg, nil
		}
		return nil, failure.Wrap(failure.KindStorage, processConfig, "Reading config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, failure.Wrap(failure.KindDeclaration, processConfig, "Decoding config file", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, failure.Wrap(failure.KindDeclaration, processConfig, "Validating config file", err)
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with mode 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return failure.New(failure.KindInternal, "", "Writing config file", "config path is empty")
	}
	if cfg == nil {
		return failure.New(failure.KindInternal, "", "Writing config file", "config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return failure.Wrap(failure.KindInternal, "", "Encoding config file", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return failure.Wrap(failure.KindStorage, "", "Writing config file", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".richter-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
