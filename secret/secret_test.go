package secret

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/llmgate"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestEnvName(t *testing.T) {
	cases := map[string]string{
		"AnthropicKey":  "ANTHROPIC_KEY",
		"anthropic-key": "ANTHROPIC_KEY",
		"OpenAI2Key":    "OPEN_AI2_KEY",
		"API_KEY":       "API_KEY",
		"db.password":   "DB_PASSWORD",
	}
	for in, want := range cases {
		assert.Equal(t, want, EnvName(in), in)
	}
}

func TestEnv_GetSecret(t *testing.T) {
	e := NewEnv(map[string]string{"Upstream": "LLMGATE_UPSTREAM_KEY"})
	e.lookup = mapLookup(map[string]string{
		"ANTHROPIC_KEY":        "sk-ant",
		"LLMGATE_UPSTREAM_KEY": "sk-mapped",
		"EMPTY_SECRET":         "",
	})
	ctx := context.Background()

	v, err := e.GetSecret(ctx, "AnthropicKey")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", v)

	v, err = e.GetSecret(ctx, "Upstream")
	require.NoError(t, err)
	assert.Equal(t, "sk-mapped", v)

	_, err = e.GetSecret(ctx, "Missing")
	assert.ErrorIs(t, err, llmgate.ErrSecretNotFound)

	_, err = e.GetSecret(ctx, "EmptySecret")
	assert.ErrorIs(t, err, llmgate.ErrSecretNotFound)
}

func TestEnv_ProcessEnvironment(t *testing.T) {
	t.Setenv("LLMGATE_TEST_SECRET", "from-env")

	v, err := NewEnv(nil).GetSecret(context.Background(), "LlmgateTestSecret")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
}

type countingProvider struct {
	calls atomic.Int64
	value string
	err   error
	delay time.Duration
}

func (p *countingProvider) GetSecret(context.Context, string) (string, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.value, p.err
}

func TestNewCache_Validation(t *testing.T) {
	_, err := NewCache(nil, 1, time.Minute)
	assert.Error(t, err)

	_, err = NewCache(&countingProvider{}, 1, 0)
	assert.Error(t, err)
}

func TestCache_HitsWithinTTL(t *testing.T) {
	inner := &countingProvider{value: "sk-1"}
	c, err := NewCache(inner, 4, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	for range 5 {
		v, err := c.GetSecret(ctx, "AnthropicKey")
		require.NoError(t, err)
		assert.Equal(t, "sk-1", v)
	}
	assert.Equal(t, int64(1), inner.calls.Load())

	c.Invalidate("AnthropicKey")
	_, err = c.GetSecret(ctx, "AnthropicKey")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCache_Expires(t *testing.T) {
	inner := &countingProvider{value: "sk-1"}
	c, err := NewCache(inner, 4, 20*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetSecret(ctx, "k")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := c.GetSecret(ctx, "k")
		return err == nil && inner.calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestCache_DoesNotCacheErrors(t *testing.T) {
	inner := &countingProvider{err: errors.New("throttled")}
	c, err := NewCache(inner, 4, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetSecret(ctx, "k")
	assert.Error(t, err)
	_, err = c.GetSecret(ctx, "k")
	assert.Error(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	inner := &countingProvider{value: "sk-1", delay: 50 * time.Millisecond}
	c, err := NewCache(inner, 4, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetSecret(context.Background(), "k")
			assert.NoError(t, err)
			assert.Equal(t, "sk-1", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inner.calls.Load())
}

// blockingProvider waits for release or for its context to end.
type blockingProvider struct {
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) GetSecret(ctx context.Context, _ string) (string, error) {
	if p.calls.Add(1) == 1 {
		close(p.started)
	}
	select {
	case <-p.release:
		return "sk-shared", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCache_FirstCallerCancelDoesNotFailOthers(t *testing.T) {
	inner := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	c, err := NewCache(inner, 4, time.Minute)
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetSecret(firstCtx, "k")
		firstErr <- err
	}()
	<-inner.started

	second := make(chan string, 1)
	go func() {
		v, err := c.GetSecret(context.Background(), "k")
		assert.NoError(t, err)
		second <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(inner.release)

	assert.Equal(t, "sk-shared", <-second)
	assert.NoError(t, <-firstErr)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCache_FetchTimeout(t *testing.T) {
	inner := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	c, err := NewCache(inner, 4, time.Minute)
	require.NoError(t, err)
	c.fetchTimeout = 10 * time.Millisecond

	_, err = c.GetSecret(context.Background(), "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
