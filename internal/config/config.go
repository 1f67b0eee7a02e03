// Package config provides configuration loading and defaults for the
// mentionbot daemon.
//
// Configuration is loaded from a TOML file in the data directory. Secrets
// may be supplied through the environment instead of the file; see
// [Config.ApplyEnv]. Per-run switches (dry run, debug target, cursor
// override) live in [Options] rather than the file.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"tools.zach/dev/mentionbot/internal/atomicfile"
	"tools.zach/dev/mentionbot/internal/migrate"
	"tools.zach/dev/mentionbot/internal/paths"
	"tools.zach/dev/mentionbot/internal/store"
	"tools.zach/dev/mentionbot/internal/types"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Twitter holds platform credentials and endpoints.
	Twitter TwitterConfig `toml:"twitter"`
	// OpenAI holds the AI backend settings.
	OpenAI OpenAIConfig `toml:"openai"`
	// Loop holds the polling loop's delays.
	Loop LoopConfig `toml:"loop"`
	// Reply holds eligibility and publishing settings.
	Reply ReplyConfig `toml:"reply"`
	// Store selects the durable cursor store.
	Store StoreConfig `toml:"store"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// TwitterConfig holds platform credentials and endpoints.
type TwitterConfig struct {
	// ClientID and ClientSecret identify the OAuth2 app used for the
	// refresh-token grant.
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	// APIKey, APISecretKey, AccessToken and AccessSecret are the static
	// OAuth 1.0a keys used only for media upload.
	APIKey       string `toml:"api_key"`
	APISecretKey string `toml:"api_secret_key"`
	AccessToken  string `toml:"access_token"`
	AccessSecret string `toml:"access_secret"`
	// APIURL is the v2 API host.
	APIURL string `toml:"api_url"`
	// UploadURL is the media upload host.
	UploadURL string `toml:"upload_url"`
	// TokenURL is the OAuth2 token endpoint.
	TokenURL string `toml:"token_url"`
	// Scopes are requested on refresh.
	Scopes []string `toml:"scopes"`
	// RequestTimeoutSeconds bounds each HTTP attempt.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	// RetryMax is the number of retries for transport errors and 5xx.
	RetryMax int `toml:"retry_max"`
}

// OpenAIConfig holds the AI backend settings.
type OpenAIConfig struct {
	APIKey       string `toml:"api_key"`
	Model        string `toml:"model"`
	BaseURL      string `toml:"base_url"`
	SystemPrompt string `toml:"system_prompt"`
	MaxTokens    int    `toml:"max_tokens"`
}

// LoopConfig holds the polling loop's delays, in seconds.
type LoopConfig struct {
	RateLimitDelaySeconds        int `toml:"rate_limit_delay_seconds"`
	TwitterRateLimitDelaySeconds int `toml:"twitter_rate_limit_delay_seconds"`
	BusyDelaySeconds             int `toml:"busy_delay_seconds"`
	IdleDelaySeconds             int `toml:"idle_delay_seconds"`
	FaultDelaySeconds            int `toml:"fault_delay_seconds"`
	// RefreshEveryPasses triggers a proactive token refresh every N passes.
	RefreshEveryPasses int `toml:"refresh_every_passes"`
}

// ReplyConfig holds eligibility and publishing settings.
type ReplyConfig struct {
	// Mode is the default reply mode, "image" or "text".
	Mode string `toml:"mode"`
	// MaxMentionsPerPass caps replies per pass; 0 means no cap.
	MaxMentionsPerPass int `toml:"max_mentions_per_pass"`
	// IgnoreAuthors are doublestar patterns matched against usernames.
	IgnoreAuthors []string `toml:"ignore_authors"`
	// MaxTweetLength splits text replies into a thread.
	MaxTweetLength int `toml:"max_tweet_length"`
	// ImageWidth, FontSize, Background and Foreground style image replies.
	ImageWidth int    `toml:"image_width"`
	FontSize   int    `toml:"font_size"`
	Background string `toml:"background"`
	Foreground string `toml:"foreground"`
}

// StoreConfig selects the durable cursor store.
type StoreConfig struct {
	// Backend is "file" (state.toml) or "sqlite" (state.db).
	Backend string `toml:"backend"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// Stderr tees log output to standard error.
	Stderr bool `toml:"stderr"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Twitter: TwitterConfig{
			APIURL:                "https://api.twitter.com",
			UploadURL:             "https://upload.twitter.com",
			TokenURL:              "https://api.twitter.com/2/oauth2/token",
			Scopes:                []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			RequestTimeoutSeconds: 30,
			RetryMax:              2,
		},
		OpenAI: OpenAIConfig{
			Model:        "gpt-4o-mini",
			BaseURL:      "https://api.openai.com/v1",
			SystemPrompt: "You are a helpful assistant replying to questions on Twitter. Be accurate and concise.",
			MaxTokens:    1024,
		},
		Loop: LoopConfig{
			RateLimitDelaySeconds:        30,
			TwitterRateLimitDelaySeconds: 300,
			BusyDelaySeconds:             5,
			IdleDelaySeconds:             30,
			FaultDelaySeconds:            30,
			RefreshEveryPasses:           20,
		},
		Reply: ReplyConfig{
			Mode:               string(types.ReplyModeImage),
			MaxMentionsPerPass: 20,
			IgnoreAuthors:      []string{},
			MaxTweetLength:     280,
			ImageWidth:         1080,
			FontSize:           28,
			Background:         "#FFFFFF",
			Foreground:         "#14171A",
		},
		Store: StoreConfig{
			Backend: store.BackendFile,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			Stderr:    true,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
// Credentials are left empty so they are never committed.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)

	shouldMigrate := migrate.Config.NeedsMigration(version)
	if shouldMigrate {
		if backupErr := os.WriteFile(path+".bak", data, 0o600); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		var migrateErr error
		data, _, migrateErr = migrate.Config.Run(data, version)
		if migrateErr != nil {
			return nil, fmt.Errorf("migrate config: %w", migrateErr)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if shouldMigrate {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write. The file
// may hold credentials, so it is written owner-only.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o600)
}

// ///////////////////////////////////////////////
// Environment
// ///////////////////////////////////////////////

// envOverrides maps environment variables onto the fields they replace.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"TWITTER_CLIENT_ID", func(c *Config) *string { return &c.Twitter.ClientID }},
	{"TWITTER_CLIENT_SECRET", func(c *Config) *string { return &c.Twitter.ClientSecret }},
	{"TWITTER_API_KEY", func(c *Config) *string { return &c.Twitter.APIKey }},
	{"TWITTER_API_SECRET_KEY", func(c *Config) *string { return &c.Twitter.APISecretKey }},
	{"TWITTER_API_ACCESS_TOKEN", func(c *Config) *string { return &c.Twitter.AccessToken }},
	{"TWITTER_API_ACCESS_SECRET", func(c *Config) *string { return &c.Twitter.AccessSecret }},
	{"OPENAI_API_KEY", func(c *Config) *string { return &c.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) *string { return &c.OpenAI.Model }},
}

// ApplyEnv overrides credentials with any non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(getenv(o.name)); v != "" {
			*o.field(c) = v
		}
	}
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var hexColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Validate checks that all configuration values are within acceptable ranges.
// Credentials are checked separately by [Config.ValidateCredentials] because
// they may arrive from the environment after loading.
func (c *Config) Validate() error {
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	for name, raw := range map[string]string{
		"twitter.api_url":    c.Twitter.APIURL,
		"twitter.upload_url": c.Twitter.UploadURL,
		"twitter.token_url":  c.Twitter.TokenURL,
		"openai.base_url":    c.OpenAI.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q: must be an absolute URL", name, raw)
		}
	}
	if c.Twitter.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("twitter.request_timeout_seconds must be > 0, got %d", c.Twitter.RequestTimeoutSeconds)
	}
	if c.Twitter.RetryMax < 0 {
		return fmt.Errorf("twitter.retry_max must be >= 0, got %d", c.Twitter.RetryMax)
	}

	if c.OpenAI.Model == "" {
		return errors.New("openai.model must not be empty")
	}
	if c.OpenAI.MaxTokens < 0 {
		return fmt.Errorf("openai.max_tokens must be >= 0, got %d", c.OpenAI.MaxTokens)
	}

	for name, v := range map[string]int{
		"rate_limit_delay_seconds":         c.Loop.RateLimitDelaySeconds,
		"twitter_rate_limit_delay_seconds": c.Loop.TwitterRateLimitDelaySeconds,
		"busy_delay_seconds":               c.Loop.BusyDelaySeconds,
		"idle_delay_seconds":               c.Loop.IdleDelaySeconds,
		"fault_delay_seconds":              c.Loop.FaultDelaySeconds,
		"refresh_every_passes":             c.Loop.RefreshEveryPasses,
	} {
		if v < 0 {
			return fmt.Errorf("loop.%s must be >= 0, got %d", name, v)
		}
	}

	if !types.ReplyMode(c.Reply.Mode).Valid() {
		return fmt.Errorf("invalid reply.mode %q: must be image or text", c.Reply.Mode)
	}
	if c.Reply.MaxMentionsPerPass < 0 {
		return fmt.Errorf("reply.max_mentions_per_pass must be >= 0, got %d", c.Reply.MaxMentionsPerPass)
	}
	if c.Reply.MaxTweetLength <= 0 {
		return fmt.Errorf("reply.max_tweet_length must be > 0, got %d", c.Reply.MaxTweetLength)
	}
	for _, p := range c.Reply.IgnoreAuthors {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid reply.ignore_authors pattern %q", p)
		}
	}
	if c.Reply.ImageWidth < 200 {
		return fmt.Errorf("reply.image_width must be >= 200, got %d", c.Reply.ImageWidth)
	}
	if c.Reply.FontSize < 8 || c.Reply.FontSize*8 > c.Reply.ImageWidth {
		return fmt.Errorf("reply.font_size %d does not fit image_width %d", c.Reply.FontSize, c.Reply.ImageWidth)
	}
	if !hexColorRe.MatchString(c.Reply.Background) || !hexColorRe.MatchString(c.Reply.Foreground) {
		return fmt.Errorf("reply.background and reply.foreground must be #RRGGBB colors")
	}

	switch c.Store.Backend {
	case store.BackendFile, store.BackendSQLite:
	default:
		return fmt.Errorf("invalid store.backend %q: must be file or sqlite", c.Store.Backend)
	}

	return nil
}

// ValidateCredentials reports every credential required to run that is
// missing. Media keys are optional; without them image replies fall back
// to text.
func (c *Config) ValidateCredentials() error {
	var errs []error
	if c.Twitter.ClientID == "" {
		errs = append(errs, errors.New("twitter.client_id (TWITTER_CLIENT_ID) is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.api_key (OPENAI_API_KEY) is required"))
	}
	return errors.Join(errs...)
}

// ///////////////////////////////////////////////
// Durations
// ///////////////////////////////////////////////

// Seconds converts a seconds setting to a [time.Duration].
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
