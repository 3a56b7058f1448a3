// Package secret provides SecretProvider implementations and a TTL cache
// that can wrap any of them.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/ineyio/llmgate"
)

// Env reads secrets from environment variables. A secret named
// "AnthropicKey" is looked up as ANTHROPIC_KEY unless Mapping overrides it.
type Env struct {
	Mapping map[string]string
	lookup  func(string) (string, bool)
}

var _ llmgate.SecretProvider = (*Env)(nil)

// NewEnv creates an environment-backed provider.
func NewEnv(mapping map[string]string) *Env {
	return &Env{Mapping: mapping, lookup: os.LookupEnv}
}

func (e *Env) GetSecret(_ context.Context, name string) (string, error) {
	variable, ok := e.Mapping[name]
	if !ok {
		variable = EnvName(name)
	}
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(variable)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s (env %s)", llmgate.ErrSecretNotFound, name, variable)
	}
	return v, nil
}

// EnvName converts a CamelCase secret name to SCREAMING_SNAKE_CASE.
func EnvName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' && i > 0 {
			prev := rune(name[i-1])
			if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
				b.WriteByte('_')
			}
		}
		if r == '-' || r == '.' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// Cache keeps fetched secrets for a fixed TTL. Concurrent misses for the
// same name share one upstream fetch. Errors are never cached.
type Cache struct {
	inner        llmgate.SecretProvider
	lru          *expirable.LRU[string, string]
	group        singleflight.Group
	fetchTimeout time.Duration
}

var (
	_ llmgate.SecretProvider    = (*Cache)(nil)
	_ llmgate.SecretInvalidator = (*Cache)(nil)
)

// DefaultFetchTimeout bounds a shared upstream fetch in Cache.
const DefaultFetchTimeout = 10 * time.Second

// NewCache wraps inner with a cache holding up to size secrets for ttl.
func NewCache(inner llmgate.SecretProvider, size int, ttl time.Duration) (*Cache, error) {
	if inner == nil {
		return nil, fmt.Errorf("llmgate/secret: cache requires a provider")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("llmgate/secret: cache ttl must be positive, got %s", ttl)
	}
	if size <= 0 {
		size = 16
	}
	return &Cache{
		inner:        inner,
		lru:          expirable.NewLRU[string, string](size, nil, ttl),
		fetchTimeout: DefaultFetchTimeout,
	}, nil
}

func (c *Cache) GetSecret(ctx context.Context, name string) (string, error) {
	if v, ok := c.lru.Get(name); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		// Callers share this fetch, so one caller going away must not fail it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		secret, err := c.inner.GetSecret(fetchCtx, name)
		if err != nil {
			return "", err
		}
		c.lru.Add(name, secret)
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops a cached secret so the next call refetches it.
func (c *Cache) Invalidate(name string) {
	c.lru.Remove(name)
}
