package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// ErrProviderNotRegistered is returned by CreateVoice when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// VoiceFactory builds a voice provider from its configuration.
type VoiceFactory func(VoiceConfig) (voice.Provider, error)

// Registry maps provider names to constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	voice map[string]VoiceFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{voice: make(map[string]VoiceFactory)}
}

// RegisterVoice registers a factory under name, replacing any previous one.
func (r *Registry) RegisterVoice(name string, factory VoiceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voice[name] = factory
}

// CreateVoice constructs the voice provider named by cfg.Provider.
func (r *Registry) CreateVoice(cfg VoiceConfig) (voice.Provider, error) {
	r.mu.RLock()
	factory, ok := r.voice[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voice provider %q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
