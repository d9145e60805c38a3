package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"family-coach-platform/internal/logger"
	"family-coach-platform/internal/telemetry"
	"family-coach-platform/models"
)

// StageCache stores successful stage payloads keyed by stage name and
// conversation. A retried pipeline run resumes from the last successful
// stage instead of repaying earlier model calls.
type StageCache interface {
	Get(ctx context.Context, stageName, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, stageName, key string, payload json.RawMessage) error
	Invalidate(ctx context.Context, stageName, key string) error
}

// RetryPolicy is the per-stage retry behavior: up to MaxRetries attempts
// with exponential backoff capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BackoffBase float64
}

// DefaultRetryPolicy matches production settings: 3 attempts, 1s base,
// 30s cap, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		BackoffBase: 2.0,
	}
}

// Delay returns the backoff before the given 1-based attempt. The first
// attempt runs immediately; the first retry waits BaseDelay, and each
// subsequent retry multiplies by BackoffBase up to MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffBase, float64(attempt-2))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// terminalError marks a failure that retrying cannot fix (malformed
// input, auth).
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps an error so the pipeline fails the stage immediately
// instead of retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether an error was marked Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// StageFunc is the unit of pipeline work: it receives the conversation
// key and returns a JSON payload to cache and pass downstream.
type StageFunc func(ctx context.Context) (json.RawMessage, error)

// Pipeline executes named stages with caching and retry. Stages are
// independent units; composition lives in the callers (CoachPipeline).
type Pipeline struct {
	cache   StageCache
	policy  RetryPolicy
	metrics *telemetry.Metrics
}

// NewPipeline creates a pipeline engine. The cache is required; pass a
// MemoryStageCache when Redis is unavailable.
func NewPipeline(cache StageCache, policy RetryPolicy, metrics *telemetry.Metrics) *Pipeline {
	if policy.MaxRetries <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Pipeline{cache: cache, policy: policy, metrics: metrics}
}

// RunStage executes one stage for a conversation. A cache hit returns the
// stored payload without invoking the function. On failure the stage is
// retried per policy with exponential backoff; terminal errors and
// context cancellation stop retrying early. Failures are never cached.
func (p *Pipeline) RunStage(ctx context.Context, stageName, key string, fn StageFunc) models.StageResult {
	start := time.Now()
	result := models.StageResult{
		StageName:      stageName,
		ConversationID: key,
		Status:         models.StagePending,
	}

	if payload, ok, err := p.cache.Get(ctx, stageName, key); err != nil {
		logger.Warn("stage cache read failed", "stage", stageName, "error", err)
	} else if ok {
		result.Status = models.StageSucceeded
		result.Success = true
		result.Payload = payload
		result.Cached = true
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		if p.metrics != nil {
			p.metrics.RecordCacheHit(stageName)
		}
		logger.Debug("stage cache hit", "stage", stageName, "conversation", key)
		return result
	}

	var lastErr error
	result.Status = models.StageRunning
	for attempt := 1; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 1 {
			if p.metrics != nil {
				p.metrics.RecordRetry(stageName)
			}
			if err := sleepCtx(ctx, p.policy.Delay(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		payload, err := fn(ctx)
		result.Attempt = attempt
		if err == nil {
			result.Status = models.StageSucceeded
			result.Success = true
			result.Payload = payload
			result.ExecutionTimeMs = time.Since(start).Milliseconds()

			if cacheErr := p.cache.Set(ctx, stageName, key, payload); cacheErr != nil {
				logger.Warn("stage cache write failed", "stage", stageName, "error", cacheErr)
			}
			if p.metrics != nil {
				p.metrics.RecordStage(stageName, "succeeded", time.Since(start).Seconds())
			}
			logger.Info("stage succeeded", "stage", stageName, "conversation", key, "attempt", attempt)
			return result
		}

		lastErr = err
		if IsTerminal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Error("stage failed terminally", "stage", stageName, "conversation", key, "attempt", attempt, "error", err)
			break
		}
		logger.Warn("stage attempt failed", "stage", stageName, "conversation", key, "attempt", attempt, "error", err)
	}

	// Exhausted retryable failures stay retryable for a later manual run;
	// only marked-terminal and cancelled stages are final.
	result.Status = models.StageFailedRetry
	if IsTerminal(lastErr) || errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		result.Status = models.StageFailedTerminal
	}
	result.Success = false
	result.Error = (&models.StageExecutionError{Stage: stageName, Attempts: result.Attempt, Err: lastErr}).Error()
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	if p.metrics != nil {
		p.metrics.RecordStage(stageName, "failed", time.Since(start).Seconds())
	}
	return result
}

// Invalidate drops a cached stage payload, forcing the next run to
// recompute it.
func (p *Pipeline) Invalidate(ctx context.Context, stageName, key string) error {
	return p.cache.Invalidate(ctx, stageName, key)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DecodePayload unmarshals a stage payload into a typed result.
func DecodePayload[T any](payload json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decoding stage payload: %w", err)
	}
	return out, nil
}

// MemoryStageCache is an in-process StageCache for tests and single-node
// runs.
type MemoryStageCache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

func NewMemoryStageCache() *MemoryStageCache {
	return &MemoryStageCache{entries: make(map[string]json.RawMessage)}
}

func (c *MemoryStageCache) Get(ctx context.Context, stageName, key string) (json.RawMessage, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	payload, ok := c.entries[stageCacheKey(stageName, key)]
	return payload, ok, nil
}

func (c *MemoryStageCache) Set(ctx context.Context, stageName, key string, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stageCacheKey(stageName, key)] = payload
	return nil
}

func (c *MemoryStageCache) Invalidate(ctx context.Context, stageName, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, stageCacheKey(stageName, key))
	return nil
}

// RedisStageCache is the production StageCache: payloads live in Redis
// with a TTL so a worker restart or a delayed task retry still resumes
// from the last successful stage.
type RedisStageCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStageCache(client *redis.Client, ttl time.Duration) *RedisStageCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStageCache{client: client, ttl: ttl}
}

func (c *RedisStageCache) Get(ctx context.Context, stageName, key string) (json.RawMessage, bool, error) {
	val, err := c.client.Get(ctx, stageCacheKey(stageName, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(val), true, nil
}

func (c *RedisStageCache) Set(ctx context.Context, stageName, key string, payload json.RawMessage) error {
	return c.client.Set(ctx, stageCacheKey(stageName, key), []byte(payload), c.ttl).Err()
}

func (c *RedisStageCache) Invalidate(ctx context.Context, stageName, key string) error {
	return c.client.Del(ctx, stageCacheKey(stageName, key)).Err()
}

func stageCacheKey(stageName, key string) string {
	return "stage:" + stageName + ":" + key
}
