// Package providers implements the Model Provider Clients (C8): concrete
// embedding/LLM/rerank clients behind the small interfaces of
// internal/types/interfaces, wrapped in the retry/failover policy of
// spec §5 ("Embedding/LLM/rerank provider errors classified as transient
// ... are retried with bounded exponential backoff ... Credential failover
// ... is attempted on auth errors for providers configured with secondary
// credentials").
package providers

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/logger"
)

// RetryPolicy configures bounded exponential backoff (spec §5).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 4 * time.Second}
}

// classification distinguishes transient provider errors (network, 429,
// 5xx) from non-transient ones (spec §5, §7 PROVIDER_TRANSIENT).
type classification int

const (
	nonTransient classification = iota
	transient
	authFailure
)

// Classify inspects a provider error and decides whether it should be
// retried, failed over to a secondary credential, or surfaced immediately.
// Concrete provider clients pass through whatever status/error shape their
// SDK returns; this is necessarily heuristic for SDKs that don't expose a
// typed status code, mirroring how the teacher's providers treat opaque
// upstream errors.
func Classify(err error) classification {
	if err == nil {
		return nonTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "403"):
		return authFailure
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return transient
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"), strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"):
		return transient
	default:
		return nonTransient
	}
}

// WithRetry runs op, retrying transient failures with jittered exponential
// backoff up to policy.MaxAttempts. Non-transient errors return
// immediately. Context cancellation aborts retrying.
func WithRetry(ctx context.Context, policy RetryPolicy, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		class := Classify(lastErr)
		if class == nonTransient {
			return lastErr
		}
		if class == authFailure {
			return apierr.Wrap(apierr.ProviderTransient, name+": auth failure", lastErr)
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		delay := backoffDelay(policy, attempt)
		logger.Warnf(ctx, "%s: transient error on attempt %d/%d, retrying in %s: %v", name, attempt+1, policy.MaxAttempts, delay, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return apierr.Wrap(apierr.ProviderTransient, name+": retries exhausted", lastErr)
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	d := policy.BaseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}

// WithFailover attempts op against the primary client's configuration and,
// on an auth-classified failure, retries once against the secondary
// credentials (spec §5 "Credential failover (primary -> fallback) is
// attempted on auth errors for providers configured with secondary
// credentials").
func WithFailover(ctx context.Context, name string, primary func(ctx context.Context) error, secondary func(ctx context.Context) error) error {
	err := primary(ctx)
	if err == nil || secondary == nil {
		return err
	}
	if Classify(unwrapProviderErr(err)) != authFailure {
		return err
	}
	logger.Warnf(ctx, "%s: primary credentials failed auth, failing over to secondary", name)
	return secondary(ctx)
}

func unwrapProviderErr(err error) error {
	var e *apierr.Error
	if errors.As(err, &e) && e.Unwrap() != nil {
		return e.Unwrap()
	}
	return err
}
