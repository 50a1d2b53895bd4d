package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/octoscope/internal/imaging"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Assets AssetsConfig      `yaml:"assets"`
	GitHub GitHubConfig      `yaml:"github"`
	Search SearchConfig      `yaml:"search"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Assets.Validate(); err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	if err := c.GitHub.Validate(); err != nil {
		return fmt.Errorf("github: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AssetsConfig controls both avatar cache tiers.
//
// DiskMaxBytes of 0 leaves the disk tier unbounded. Prefetch is the number
// of search result rows whose avatars are loaded in the background.
type AssetsConfig struct {
	Root           string `yaml:"root"`
	MemoryCapacity int    `yaml:"memory_capacity"`
	DiskMaxBytes   int64  `yaml:"disk_max_bytes"`
	DefaultHeight  int    `yaml:"default_height"`
	MaxHeight      int    `yaml:"max_height"`
	ContentMode    string `yaml:"content_mode"`
	Prefetch       int    `yaml:"prefetch"`
}

// Validate validates the assets configuration.
func (c *AssetsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.MemoryCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.DiskMaxBytes, validation.Min(int64(0))),
		validation.Field(&c.MaxHeight, validation.Required, validation.Min(1), validation.Max(4096)),
		validation.Field(&c.DefaultHeight, validation.Required, validation.Min(1), validation.Max(c.MaxHeight)),
		validation.Field(&c.ContentMode, validation.By(func(any) error {
			_, err := imaging.ParseContentMode(c.ContentMode)
			return err
		})),
		validation.Field(&c.Prefetch, validation.Min(0), validation.Max(100)),
	)
}

// Mode returns the parsed content mode.
func (c *AssetsConfig) Mode() imaging.ContentMode {
	m, _ := imaging.ParseContentMode(c.ContentMode)
	return m
}

// GitHubConfig holds the remote API settings.
type GitHubConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RetryMax  int           `yaml:"retry_max"`
	UserAgent string        `yaml:"user_agent"`
}

// Validate validates the GitHub configuration.
func (c *GitHubConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.RetryMax, validation.Min(0), validation.Max(10)),
	)
}

// SearchConfig tunes the search coordinator.
type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0)), validation.Max(5*time.Second)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Assets: AssetsConfig{
			Root:           "./assets",
			MemoryCapacity: 200,
			DefaultHeight:  200,
			MaxHeight:      2048,
			ContentMode:    "aspect_fit",
			Prefetch:       20,
		},
		GitHub: GitHubConfig{
			BaseURL:   "https://api.github.com",
			Timeout:   10 * time.Second,
			RetryMax:  2,
			UserAgent: "octoscope",
		},
		SQLite: SQLiteConfig{
			Path: "./octoscope.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
