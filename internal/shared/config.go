package shared

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Environment variables that override values loaded from the config file.
const (
	EnvSpotifyClientID     = "PLSYNC_SPOTIFY_CLIENT_ID"
	EnvSpotifyClientSecret = "PLSYNC_SPOTIFY_CLIENT_SECRET"
	EnvGeniusToken         = "PLSYNC_GENIUS_TOKEN"
	EnvDownloadDir         = "PLSYNC_DOWNLOAD_DIR"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Download    DownloadConfig    `toml:"download"`
	Lyrics      LyricsConfig      `toml:"lyrics"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	Genius  GeniusConfig  `toml:"genius"`
}

// SpotifyConfig contains Spotify API credentials and, after `auth`, the user token.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	TokenExpiry  string `toml:"token_expiry"`
}

// Map returns the credentials in the form accepted by the Spotify service constructor.
func (c SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"redirect_uri":  c.RedirectURI,
	}
}

// Token returns the stored user token, or nil when `auth` has not been run.
func (c SpotifyConfig) Token() *oauth2.Token {
	if c.AccessToken == "" && c.RefreshToken == "" {
		return nil
	}
	token := &oauth2.Token{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken, TokenType: "Bearer"}
	if expiry, err := time.Parse(time.RFC3339, c.TokenExpiry); err == nil {
		token.Expiry = expiry
	}
	return token
}

// Update stores a freshly issued token.
func (c *SpotifyConfig) Update(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidArgument)
	}
	c.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		c.TokenExpiry = token.Expiry.UTC().Format(time.RFC3339)
	}
	return nil
}

// GeniusConfig contains the Genius API client access token.
type GeniusConfig struct {
	AccessToken string `toml:"access_token"`
}

// DownloadConfig controls the synchronization pipeline.
type DownloadConfig struct {
	Directory         string  `toml:"directory"`
	Bitrate           int     `toml:"bitrate"`
	Limit             int     `toml:"limit"`
	Normalize         bool    `toml:"normalize"`
	TargetDBFS        float64 `toml:"target_dbfs"`
	SearchLimit       int     `toml:"search_limit"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
	FFmpegLocation    string  `toml:"ffmpeg_location"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Timeout returns the per-call network timeout.
func (d DownloadConfig) Timeout() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// LyricsConfig selects the lyrics provider.
type LyricsConfig struct {
	Provider string `toml:"provider"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains the OAuth callback listener settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML and writes it to path.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadEnv reads .env files (missing files are ignored) and applies PLSYNC_* overrides to config.
func LoadEnv(config *Config, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if v := os.Getenv(EnvSpotifyClientID); v != "" {
		config.Credentials.Spotify.ClientID = v
	}
	if v := os.Getenv(EnvSpotifyClientSecret); v != "" {
		config.Credentials.Spotify.ClientSecret = v
	}
	if v := os.Getenv(EnvGeniusToken); v != "" {
		config.Credentials.Genius.AccessToken = v
	}
	if v := os.Getenv(EnvDownloadDir); v != "" {
		config.Download.Directory = v
	}
	return nil
}
