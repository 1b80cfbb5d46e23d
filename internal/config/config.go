package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the loaded configuration cannot drive a run.
var ErrInvalidConfig = errors.New("invalid configuration")

const envPrefix = "perf"

// Page is one URL measured repeatedly during a run.
type Page struct {
	// Name is used in progress output ("<Name> page tests...").
	Name string `yaml:"name"`
	// Key is the field of the results document holding this page's samples.
	Key           string `yaml:"key"`
	URL           string `yaml:"url"`
	Authenticated bool   `yaml:"authenticated"`
}

type Config struct {
	Username string `split_words:"true"`
	Password string `split_words:"true"`

	LoginURL   string `split_words:"true" default:"https://digital-twin.veerum.com/login"`
	Iterations int    `split_words:"true" default:"10"`
	PagesFile  string `split_words:"true"`
	Pages      []Page `ignored:"true"`

	// LoginSettle is how long to wait after submitting the login form before
	// auditing authenticated pages.
	LoginSettle time.Duration `split_words:"true" default:"2s"`

	ViewportWidth       int64  `split_words:"true" default:"1080"`
	ViewportHeight      int64  `split_words:"true" default:"1024"`
	DisableStorageReset bool   `split_words:"true" default:"true"`
	Preset              string `split_words:"true" default:"desktop"`
	LighthouseBin       string `split_words:"true" default:"lighthouse"`
	DebugPort           int    `split_words:"true" default:"9222"`
	Headless            bool   `split_words:"true" default:"true"`
	ChromePath          string `split_words:"true"`

	OutputFile  string `split_words:"true" default:"results.json"`
	SummaryFile string `split_words:"true"`
	ReportsDir  string `split_words:"true"`

	LogLevel  string `split_words:"true" default:"info"`
	LogFormat string `split_words:"true" default:"text"`

	Storage   StorageConfig
	Telemetry TelemetryConfig
}

// StorageConfig enables uploading the results to an S3 compatible bucket.
// Uploads are skipped when Bucket is empty.
type StorageConfig struct {
	ServiceURL string `envconfig:"S3_SERVICE_URL"`
	AccessKey  string `envconfig:"S3_ACCESS_KEY"`
	SecretKey  string `envconfig:"S3_SECRET_KEY"`
	Bucket     string `envconfig:"S3_BUCKET_NAME"`
	Region     string `envconfig:"S3_REGION" default:"us-east-1"`
}

func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

type TelemetryConfig struct {
	SentryDSN         string `envconfig:"SENTRY_DSN"`
	SentryEnvironment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
	OTLPEndpoint      string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// DefaultPages returns the pages measured when no pages file is configured.
func DefaultPages() []Page {
	return []Page{
		{
			Name: "Login",
			Key:  "loginResults",
			URL:  "https://digital-twin.veerum.com/login",
		},
		{
			Name:          "Workscopes",
			Key:           "workscopesResults",
			URL:           "https://digital-twin.veerum.com",
			Authenticated: true,
		},
		{
			Name:          "Viewer",
			Key:           "viewerResults",
			URL:           "https://digital-twin.veerum.com/workscopes/631b6641310c4751c59be759/viewer",
			Authenticated: true,
		},
	}
}

type pagesFile struct {
	Pages []Page `yaml:"pages"`
}

// Load reads the configuration from PERF_* environment variables (storage and
// telemetry variables also work unprefixed) and the optional pages file.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.Pages = DefaultPages()
	if cfg.PagesFile != "" {
		pages, err := LoadPages(cfg.PagesFile)
		if err != nil {
			return nil, err
		}
		cfg.Pages = pages
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadPages reads a YAML document of the form `pages: [{name, key, url, authenticated}]`.
func LoadPages(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pages file: %w", err)
	}

	var doc pagesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing pages file %s: %v", ErrInvalidConfig, path, err)
	}

	return doc.Pages, nil
}

// HasCredentials reports whether both username and password are set.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// NeedsLogin reports whether any configured page requires authentication.
func (c *Config) NeedsLogin() bool {
	for _, p := range c.Pages {
		if p.Authenticated {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be at least 1, got %d", ErrInvalidConfig, c.Iterations)
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("%w: viewport must be positive, got %dx%d", ErrInvalidConfig, c.ViewportWidth, c.ViewportHeight)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("%w: output file must be set", ErrInvalidConfig)
	}
	if len(c.Pages) == 0 {
		return fmt.Errorf("%w: no pages configured", ErrInvalidConfig)
	}
	if c.NeedsLogin() {
		if err := validateURL(c.LoginURL); err != nil {
			return fmt.Errorf("%w: login url: %v", ErrInvalidConfig, err)
		}
	}

	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.Key == "" {
			return fmt.Errorf("%w: page %d has no key", ErrInvalidConfig, i)
		}
		if seen[p.Key] {
			return fmt.Errorf("%w: duplicate page key %q", ErrInvalidConfig, p.Key)
		}
		seen[p.Key] = true

		if err := validateURL(p.URL); err != nil {
			return fmt.Errorf("%w: page %q: %v", ErrInvalidConfig, p.Key, err)
		}
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
