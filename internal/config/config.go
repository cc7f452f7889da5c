// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the Cadenza player.
package config

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

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Voice    VoiceConfig     `yaml:"voice"`
	Personas []PersonaConfig `yaml:"personas"`
	Playback PlaybackConfig  `yaml:"playback"`
	Library  []TrackConfig   `yaml:"library"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the Prometheus metrics endpoint listens
	// on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// VoiceConfig selects and configures the remote voice-model backend.
type VoiceConfig struct {
	// Provider is the backend name; see [ValidProviderNames].
	Provider string `yaml:"provider"`

	// APIKey is the access credential. When empty, the provider-specific
	// environment variable is consulted at startup; a session activation
	// without any credential fails fast.
	APIKey string `yaml:"api_key"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint. Used in tests.
	BaseURL string `yaml:"base_url"`
}

// PersonaConfig is one listening mode's voice and instruction, selected at
// session activation and immutable afterwards.
type PersonaConfig struct {
	// Mode is the listening-mode name this persona belongs to.
	Mode string `yaml:"mode"`

	// VoiceID selects the provider voice.
	VoiceID string `yaml:"voice_id"`

	// Instruction is the system-level prompt for the mode.
	Instruction string `yaml:"instruction"`
}

// PlaybackConfig tunes the audio pipeline.
type PlaybackConfig struct {
	// CaptureBlockFrames is the number of sample frames per outbound capture
	// block. Defaults to 4096.
	CaptureBlockFrames int `yaml:"capture_block_frames"`

	// MaxTrackRetries is how often a failing track is retried before being
	// abandoned. Defaults to 2.
	MaxTrackRetries *int `yaml:"max_track_retries"`

	// ErrorDeactivateDelaySeconds is how long after a remote session error
	// the session auto-deactivates if the caller has not. Defaults to 3.
	ErrorDeactivateDelaySeconds float64 `yaml:"error_deactivate_delay_seconds"`
}

// TrackConfig is one library entry.
type TrackConfig struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

// Persona returns the persona configured for mode, if any.
func (c *Config) Persona(mode string) (PersonaConfig, bool) {
	for _, p := range c.Personas {
		if p.Mode == mode {
			return p, true
		}
	}
	return PersonaConfig{}, false
}
