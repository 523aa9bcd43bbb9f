package resilience

import (
	"context"

	"github.com/MrWong99/sonata/pkg/provider"
)

// GuardedProvider wraps a metadata catalog with a circuit breaker. Repeated
// lookup failures open the breaker; while open, Match returns false so the
// provider chain skips the catalog entirely.
type GuardedProvider struct {
	inner   provider.Provider
	breaker *CircuitBreaker
}

// Guard wraps p with a circuit breaker. An empty cfg.Name defaults to the
// provider's own name. The returned value still satisfies
// [provider.Recommender] when p does.
func Guard(p provider.Provider, cfg CircuitBreakerConfig) provider.Provider {
	if cfg.Name == "" {
		cfg.Name = p.Name()
	}
	g := &GuardedProvider{
		inner:   p,
		breaker: NewCircuitBreaker(cfg),
	}
	if rec, ok := p.(provider.Recommender); ok {
		return &guardedRecommender{GuardedProvider: g, rec: rec}
	}
	return g
}

// Name returns the wrapped provider's identifier.
func (g *GuardedProvider) Name() string { return g.inner.Name() }

// Breaker exposes the underlying breaker, mainly for inspection.
func (g *GuardedProvider) Breaker() *CircuitBreaker { return g.breaker }

// Match defers to the wrapped provider unless the breaker is open.
func (g *GuardedProvider) Match(rawURL string) bool {
	if g.breaker.State() == StateOpen {
		return false
	}
	return g.inner.Match(rawURL)
}

// Lookup resolves rawURL through the breaker. Returns [ErrCircuitOpen]
// without calling the catalog when the breaker rejects the call.
func (g *GuardedProvider) Lookup(ctx context.Context, rawURL string) (*provider.Result, error) {
	var res *provider.Result
	err := g.breaker.Execute(func() error {
		var lookupErr error
		res, lookupErr = g.inner.Lookup(ctx, rawURL)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// guardedRecommender adds Recommend passthrough for catalogs that support it.
type guardedRecommender struct {
	*GuardedProvider
	rec provider.Recommender
}

func (g *guardedRecommender) Recommend(ctx context.Context, identifier string) ([]provider.Item, error) {
	var items []provider.Item
	err := g.breaker.Execute(func() error {
		var recErr error
		items, recErr = g.rec.Recommend(ctx, identifier)
		return recErr
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
