package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures whole-pass retry behavior.
type RetryConfig struct {
	MaxRetries     int           // Additional passes after the first (0 = single pass)
	InitialDelay   time.Duration // Delay before the first retry
	MaxDelay       time.Duration // Upper bound on any delay
	Multiplier     float64       // Delay multiplier (1 = fixed delay)
	Jitter         float64       // Random jitter factor (0-1)
	RetryableTypes []ErrorType   // Error types that should be retried
}

// DefaultRetryConfig returns the fixed-delay policy used for resolution
// passes: no backoff and no jitter, so RETRY_DELAY means what it says.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   0,
		InitialDelay: 5 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   1.0,
		Jitter:       0,
		RetryableTypes: []ErrorType{
			Exhausted,
			DNS,
			Timeout,
			Network,
		},
	}
}

// FixedRetryConfig returns a config for attempts total passes spaced by delay.
func FixedRetryConfig(attempts int, delay time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 1 {
		cfg.MaxRetries = attempts - 1
	}
	cfg.InitialDelay = delay
	if delay > cfg.MaxDelay {
		cfg.MaxDelay = delay
	}
	return cfg
}

// Retrier runs an operation repeatedly according to a RetryConfig.
type Retrier struct {
	config RetryConfig
	rng    *rand.Rand
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.Multiplier <= 0 {
		config.Multiplier = 1
	}
	return &Retrier{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryResult holds the result of a retry operation.
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // The last error encountered
	Duration  time.Duration // Total time spent retrying
	Success   bool          // Whether the operation succeeded
}

// Do executes the function with retries.
func (r *Retrier) Do(ctx context.Context, operation string, target string, fn RetryFunc) *RetryResult {
	result := &RetryResult{}
	start := time.Now()

	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result.Attempts++

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.Duration = time.Since(start)
			return result
		}

		lastErr = err

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(target, operation)
			result.Duration = time.Since(start)
			return result
		}

		if attempt >= r.config.MaxRetries || !r.shouldRetry(err) {
			break
		}

		timer := time.NewTimer(r.calculateDelay(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = NewCancelledError(target, operation)
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}

		delay = r.nextDelay(delay)
	}

	result.LastError = lastErr
	result.Duration = time.Since(start)
	return result
}

// shouldRetry checks if an error should be retried.
func (r *Retrier) shouldRetry(err error) bool {
	errType := GetErrorType(err)
	for _, t := range r.config.RetryableTypes {
		if errType == t {
			return true
		}
	}
	return IsRetryable(err)
}

// calculateDelay calculates the actual delay with jitter.
func (r *Retrier) calculateDelay(baseDelay time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return baseDelay
	}

	jitter := r.config.Jitter * float64(baseDelay)
	randomJitter := (r.rng.Float64() * 2 * jitter) - jitter

	return time.Duration(float64(baseDelay) + randomJitter)
}

// nextDelay calculates the next delay.
func (r *Retrier) nextDelay(currentDelay time.Duration) time.Duration {
	next := time.Duration(float64(currentDelay) * r.config.Multiplier)
	if r.config.MaxDelay > 0 && next > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return next
}
