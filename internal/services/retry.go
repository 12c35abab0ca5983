package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/alimgiray/gitalizer/pkg/config"
	"github.com/alimgiray/gitalizer/pkg/logger"
	"github.com/alimgiray/gitalizer/pkg/metrics"
)

// RetryPolicy holds the attempt budget and the waits applied per error class
type RetryPolicy struct {
	MaxAttempts      int
	RateLimitPadding time.Duration
	AbuseDelayMin    time.Duration
	AbuseDelayMax    time.Duration
	TimeoutDelay     time.Duration

	now func() time.Time
}

// NewRetryPolicy builds a policy from the GitHub configuration
func NewRetryPolicy(cfg config.GitHubConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      cfg.MaxAttempts,
		RateLimitPadding: cfg.RateLimitPadding,
		AbuseDelayMin:    cfg.AbuseDelayMin,
		AbuseDelayMax:    cfg.AbuseDelayMax,
		TimeoutDelay:     cfg.TimeoutDelay,
	}
}

func (p RetryPolicy) currentTime() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p RetryPolicy) abuseDelay() time.Duration {
	span := p.AbuseDelayMax - p.AbuseDelayMin
	if span <= 0 {
		return p.AbuseDelayMin
	}
	return p.AbuseDelayMin + rand.N(span)
}

// RetryDecision tells the retry loop whether and how long to wait before the next attempt
type RetryDecision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// Classifier maps an error to a retry decision
type Classifier func(err error) RetryDecision

// Classify implements the GitHub retry rules:
// primary rate limit waits for the reset plus padding, abuse detection and
// throttling 403s wait a random delay, network timeouts and connection failures
// wait a fixed delay. Everything else, including 404, 451 and permission 403s,
// fails at once.
// A deadline on the caller's context is caught by the retry loop itself.
func (p RetryPolicy) Classify(err error) RetryDecision {
	if errors.Is(err, context.Canceled) {
		return RetryDecision{Reason: "canceled"}
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		wait := rateErr.Rate.Reset.Time.Sub(p.currentTime())
		if wait < 0 {
			wait = 0
		}
		return RetryDecision{Retry: true, Delay: wait + p.RateLimitPadding, Reason: "rate_limit"}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return RetryDecision{Retry: true, Delay: p.abuseDelay(), Reason: "abuse"}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if respErr.Response.StatusCode == http.StatusForbidden && throttled(respErr) {
			return RetryDecision{Retry: true, Delay: p.abuseDelay(), Reason: "forbidden"}
		}
		return RetryDecision{Reason: fmt.Sprintf("status_%d", respErr.Response.StatusCode)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RetryDecision{Retry: true, Delay: p.TimeoutDelay, Reason: "timeout"}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return RetryDecision{Retry: true, Delay: p.TimeoutDelay, Reason: "connection"}
	}

	return RetryDecision{Reason: "permanent"}
}

// throttled reports whether a 403 carries a Retry-After header or a rate
// limit message rather than denying access
func throttled(respErr *github.ErrorResponse) bool {
	if respErr.Response.Header.Get("Retry-After") != "" {
		return true
	}
	message := strings.ToLower(respErr.Message)
	return strings.Contains(message, "rate limit") || strings.Contains(message, "abuse")
}

// ExhaustedRetriesError is returned when every attempt failed with a retryable error
type ExhaustedRetriesError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}

// decisionBackOff hands out the delay chosen by the classifier for the last failure
type decisionBackOff struct {
	next time.Duration
}

func (b *decisionBackOff) NextBackOff() time.Duration { return b.next }

func (b *decisionBackOff) Reset() { b.next = 0 }

// Retry runs op until it succeeds, fails permanently according to classify,
// or the policy's attempt budget is used up.
func Retry[T any](ctx context.Context, policy RetryPolicy, operation string, classify Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := &decisionBackOff{}
	attempts := 0
	var last RetryDecision

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		last = classify(err)
		if !last.Retry {
			return res, backoff.Permanent(err)
		}
		bo.next = last.Delay
		return res, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			metrics.APIRetries.WithLabelValues(last.Reason).Inc()
			logger.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempts,
				"reason":    last.Reason,
				"delay":     delay.String(),
			}).WithError(err).Warn("Retrying GitHub call")
		}),
	)
	if err == nil {
		return result, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if last.Retry && attempts >= maxAttempts && ctx.Err() == nil {
		return result, &ExhaustedRetriesError{Operation: operation, Attempts: attempts, Err: err}
	}
	return result, err
}
