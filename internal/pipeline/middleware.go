package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"incident-orchestrator/internal/domain"
)

// RetryPolicy bounds the retry behavior applied around a completion client.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries twice after the initial attempt with short
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

type retryingClient struct {
	next    domain.CompletionClient
	policy  RetryPolicy
	onRetry func()
}

// WithRetry wraps a completion client with bounded exponential-backoff
// retries. onRetry, if non-nil, is invoked once per retried attempt (for
// metrics); context cancellation is never retried.
func WithRetry(next domain.CompletionClient, policy RetryPolicy, onRetry func()) domain.CompletionClient {
	return &retryingClient{next: next, policy: policy, onRetry: onRetry}
}

func (c *retryingClient) Complete(ctx context.Context, prompt string) (string, error) {
	attempt := 0
	operation := func() (string, error) {
		if attempt > 0 && c.onRetry != nil {
			c.onRetry()
		}
		attempt++
		text, err := c.next.Complete(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return text, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.policy.InitialInterval
	bo.MaxInterval = c.policy.MaxInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.policy.MaxAttempts),
	)
}

type rateLimitedClient struct {
	next    domain.CompletionClient
	limiter *rate.Limiter
}

// WithRateLimit wraps a completion client so completions wait for the shared
// limiter before hitting the provider.
func WithRateLimit(next domain.CompletionClient, limiter *rate.Limiter) domain.CompletionClient {
	return &rateLimitedClient{next: next, limiter: limiter}
}

func (c *rateLimitedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.next.Complete(ctx, prompt)
}

type cachingClient struct {
	next  domain.CompletionClient
	cache *lru.LRU[string, string]
}

// WithCache wraps a completion client with an expiring LRU keyed by prompt.
// Useful for the HyDE and paraphrase prompts, which repeat across requests
// for popular queries.
func WithCache(next domain.CompletionClient, size int, ttl time.Duration) domain.CompletionClient {
	return &cachingClient{
		next:  next,
		cache: lru.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *cachingClient) Complete(ctx context.Context, prompt string) (string, error) {
	if text, ok := c.cache.Get(prompt); ok {
		return text, nil
	}
	text, err := c.next.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.cache.Add(prompt, text)
	return text, nil
}
