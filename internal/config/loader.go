package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the recognised voice provider names.
var ValidProviderNames = []string{"gemini", "openai"}

// Defaults applied by Load for fields left unset.
const (
	DefaultMetricsAddr        = ":9090"
	DefaultCaptureBlockFrames = 4096
	DefaultMaxTrackRetries    = 2
	DefaultErrorDelaySeconds  = 3
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = DefaultMetricsAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Playback.CaptureBlockFrames == 0 {
		cfg.Playback.CaptureBlockFrames = DefaultCaptureBlockFrames
	}
	if cfg.Playback.MaxTrackRetries == nil {
		n := DefaultMaxTrackRetries
		cfg.Playback.MaxTrackRetries = &n
	}
	if cfg.Playback.ErrorDeactivateDelaySeconds == 0 {
		cfg.Playback.ErrorDeactivateDelaySeconds = DefaultErrorDelaySeconds
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Voice.Provider == "" {
		errs = append(errs, errors.New("voice.provider is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Voice.Provider) {
		errs = append(errs, fmt.Errorf("voice.provider %q is unknown; valid values: %v", cfg.Voice.Provider, ValidProviderNames))
	}

	modesSeen := make(map[string]int, len(cfg.Personas))
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if p.Mode == "" {
			errs = append(errs, fmt.Errorf("%s.mode is required", prefix))
		} else {
			if prev, ok := modesSeen[p.Mode]; ok {
				errs = append(errs, fmt.Errorf("%s.mode %q is a duplicate of personas[%d]", prefix, p.Mode, prev))
			}
			modesSeen[p.Mode] = i
		}
		if p.VoiceID == "" {
			errs = append(errs, fmt.Errorf("%s.voice_id is required", prefix))
		}
	}

	if cfg.Playback.CaptureBlockFrames < 0 {
		errs = append(errs, fmt.Errorf("playback.capture_block_frames %d must be positive", cfg.Playback.CaptureBlockFrames))
	}
	if cfg.Playback.MaxTrackRetries != nil && *cfg.Playback.MaxTrackRetries < 0 {
		errs = append(errs, fmt.Errorf("playback.max_track_retries %d must not be negative", *cfg.Playback.MaxTrackRetries))
	}
	if cfg.Playback.ErrorDeactivateDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("playback.error_deactivate_delay_seconds %v must not be negative", cfg.Playback.ErrorDeactivateDelaySeconds))
	}

	for i, t := range cfg.Library {
		if t.URL == "" {
			errs = append(errs, fmt.Errorf("library[%d].url is required", i))
		}
	}

	return errors.Join(errs...)
}
