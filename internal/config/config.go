// Package config provides the configuration schema and loader for the sonata
// example bot.
package config

import "log/slog"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unset defaults to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// validSearchPrefixes lists the search backends a node understands.
var validSearchPrefixes = []string{"ytsearch", "ytmsearch", "scsearch"}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bot       BotConfig       `yaml:"bot"`
	Pool      PoolConfig      `yaml:"pool"`
	Nodes     []NodeConfig    `yaml:"nodes"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel controls slog verbosity: debug, info, warn, error.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the listen address for the /metrics and /readyz
	// endpoints. Empty disables the HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// BotConfig configures the Discord bot surface.
type BotConfig struct {
	Token string `yaml:"token"`

	// Prefix introduces text commands. Defaults to "!".
	Prefix string `yaml:"prefix"`

	// Status is the presence text shown for the bot. Optional.
	Status string `yaml:"status"`
}

// PoolConfig configures node selection behaviour.
type PoolConfig struct {
	// Fallback moves players to another node when their node's session is
	// lost instead of destroying them.
	Fallback bool `yaml:"fallback"`

	// DefaultSearch is the search prefix for plain-text queries:
	// ytsearch, ytmsearch, or scsearch. Defaults to ytsearch.
	DefaultSearch string `yaml:"default_search"`
}

// NodeConfig describes one remote audio node.
type NodeConfig struct {
	Identifier string `yaml:"identifier"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Password   string `yaml:"password"`
	Secure     bool   `yaml:"secure"`
}

// ProvidersConfig holds metadata catalog credentials. Providers with empty
// credentials are not registered.
type ProvidersConfig struct {
	Spotify    SpotifyConfig    `yaml:"spotify"`
	AppleMusic AppleMusicConfig `yaml:"apple_music"`
}

// SpotifyConfig holds client-credentials grant settings.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Enabled reports whether both credential halves are present.
func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// AppleMusicConfig holds the developer media token.
type AppleMusicConfig struct {
	MediaToken string `yaml:"media_token"`
}

// Enabled reports whether a media token is configured.
func (c AppleMusicConfig) Enabled() bool {
	return c.MediaToken != ""
}
