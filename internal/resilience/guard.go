package resilience

import (
	"context"

	"github.com/cadenza-app/cadenza/pkg/provider/voice"
)

// GuardedProvider wraps a voice provider so dial attempts flow through a
// breaker. Repeated connection failures make later activations fail
// immediately instead of waiting on a dead service.
type GuardedProvider struct {
	inner   voice.Provider
	breaker *Breaker
}

// Guard wraps p with breaker. A nil breaker gets default tuning.
func Guard(p voice.Provider, breaker *Breaker) *GuardedProvider {
	if breaker == nil {
		breaker = NewBreaker("voice-connect")
	}
	return &GuardedProvider{inner: p, breaker: breaker}
}

// Connect dials through the breaker.
func (g *GuardedProvider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	var sess voice.Session
	err := g.breaker.Do(func() error {
		var err error
		sess, err = g.inner.Connect(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Capabilities passes through to the wrapped provider.
func (g *GuardedProvider) Capabilities() voice.Capabilities {
	return g.inner.Capabilities()
}

// Breaker exposes the guard's breaker for health reporting.
func (g *GuardedProvider) Breaker() *Breaker { return g.breaker }

var _ voice.Provider = (*GuardedProvider)(nil)
