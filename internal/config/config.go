// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for introcoach.
package config

import (
	"time"

	"github.com/MrWong99/introcoach/internal/coach"
)

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

// StorageDriver selects the take store.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// IsValid reports whether d is a recognised driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageMemory, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultSampleRate  = 16000
	DefaultLanguage    = "ja"
	DefaultMaxDuration = 5 * time.Minute
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`

	// Personas are added to the built-in evaluator personas. An entry with a
	// built-in ID replaces it.
	Personas []coach.Persona `yaml:"personas"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied live on reload.
	LogLevel LogLevel `yaml:"log_level"`

	// MCP mounts the MCP server over streamable HTTP at /mcp.
	MCP bool `yaml:"mcp"`
}

// ProvidersConfig declares which provider implementation backs each stage.
// Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM keeps failing.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// STT transcribes live audio. Leave empty to rely on transcripts sent by
	// the client (the relay provider).
	STT ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "gemini-2.0-flash", "nova-2").
	// For whisper it is the path to the ggml model file.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig selects where takes are kept.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`

	// DSN is the sqlite file path or the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// SessionConfig holds recording defaults.
type SessionConfig struct {
	// MaxDuration ends a take automatically. Zero means 5 minutes.
	MaxDuration time.Duration `yaml:"max_duration"`

	// SampleRate is the rate audio is captured and transcribed at.
	SampleRate int `yaml:"sample_rate"`

	// Language is the BCP-47 transcription language.
	Language string `yaml:"language"`

	// Keywords boost recognition of domain terms.
	Keywords []string `yaml:"keywords"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if cfg.Session.MaxDuration == 0 {
		cfg.Session.MaxDuration = DefaultMaxDuration
	}
	if cfg.Session.SampleRate == 0 {
		cfg.Session.SampleRate = DefaultSampleRate
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = DefaultLanguage
	}
	for i := range cfg.Personas {
		if cfg.Personas[i].Kind == "" {
			cfg.Personas[i].Kind = coach.KindPreset
		}
	}
}
