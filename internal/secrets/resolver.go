// Package secrets resolves the marketplace API credentials, preferring AWS
// Secrets Manager with a TTL cache in front and falling back to environment
// values for local development.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/metrics"
	pkgsecrets "github.com/sellerpulse/stocksync/pkg/secrets"
)

const cacheKey = "marketplace"

// Credentials is the resolved marketplace connection material.
type Credentials struct {
	APIToken string
	BaseURL  string
}

// Resolver fetches credentials from the secrets provider, caching results
// locally to reduce API calls.
//
// Secret naming convention: {env}/stock-sync/marketplace
type Resolver struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[Credentials]
	fallback Credentials
}

// NewResolver constructs the credential resolver. provider may be nil when
// running purely off the env fallback.
func NewResolver(
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[Credentials],
	fallback Credentials,
) *Resolver {
	return &Resolver{
		logger:   logger,
		env:      env,
		provider: provider,
		cache:    cache,
		fallback: fallback,
	}
}

func (r *Resolver) secretName() string {
	return strings.ToLower(fmt.Sprintf("%s/stock-sync/marketplace", r.env))
}

// Resolve returns the current credentials. Cache hits skip the provider
// entirely; a missing provider falls back to the environment values.
func (r *Resolver) Resolve(ctx context.Context) (Credentials, error) {
	if creds, ok := r.cache.Get(cacheKey); ok {
		metrics.IncCacheHit("hit")
		return creds, nil
	}
	metrics.IncCacheHit("miss")

	if r.provider == nil {
		if r.fallback.APIToken == "" {
			return Credentials{}, fmt.Errorf("no secrets provider and no fallback token configured")
		}
		r.logger.Info("secrets.env_fallback_used")
		return r.fallback, nil
	}

	name := r.secretName()
	secretMap, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		if r.fallback.APIToken != "" {
			r.logger.Info("secrets.env_fallback_used")
			return r.fallback, nil
		}
		return Credentials{}, fmt.Errorf("resolve marketplace credentials: %w", err)
	}

	creds, err := parse(secretMap)
	if err != nil {
		return Credentials{}, fmt.Errorf("parse secret %q: %w", name, err)
	}
	if creds.BaseURL == "" {
		creds.BaseURL = r.fallback.BaseURL
	}

	r.cache.Put(cacheKey, creds)
	r.logger.Info("secrets.credentials_resolved", zap.String("key", name))
	return creds, nil
}

// Bust drops the cached credentials, forcing a re-fetch on next Resolve.
// Used on auth errors that suggest a rotated token.
func (r *Resolver) Bust() {
	r.cache.Bust(cacheKey)
}

func parse(m map[string]string) (Credentials, error) {
	token := m["api_token"]
	if token == "" {
		return Credentials{}, fmt.Errorf("secret is missing api_token")
	}
	return Credentials{
		APIToken: token,
		BaseURL:  m["base_url"],
	}, nil
}
