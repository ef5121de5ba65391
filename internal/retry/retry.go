// Package retry provides capped exponential backoff for remote write operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the total number of attempts allowed for transient failures.
	// Values below 1 are treated as a single attempt.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries. Zero or negative means every
	// retry follows immediately.
	MaxBackoff time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep with the attempt number
	// (1-based) that just failed.
	OnRetry func(attempt int, backoff time.Duration, err error)
}

// DefaultConfig returns the defaults used for comment posting.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     300 * time.Second,
		Multiplier:     2.0,
	}
}

// Class is the outcome classification of a failed attempt.
type Class int

const (
	// Permanent failures end the attempt sequence immediately.
	Permanent Class = iota
	// Transient failures are retried with backoff.
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// Classifier reports whether an error is worth retrying.
type Classifier func(error) Class

// Classified is implemented by errors that carry their own classification.
type Classified interface {
	RetryClass() Class
}

// Classify is the default classifier. Errors implementing Classified decide
// for themselves; context errors and anything else are permanent.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}
	var c Classified
	if errors.As(err, &c) {
		return c.RetryClass()
	}
	return Permanent
}

// ExhaustedError is returned when every allowed attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do executes fn until it succeeds, fails permanently, or MaxRetries attempts
// have failed transiently. The backoff starts at InitialBackoff and is
// multiplied after every sleep, never exceeding MaxBackoff.
func Do(ctx context.Context, cfg Config, classifier Classifier, fn func(context.Context) error) error {
	if classifier == nil {
		classifier = Classify
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	ceiling := max(cfg.MaxBackoff, 0)
	backoff := min(max(cfg.InitialBackoff, 0), ceiling)

	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if classifier(err) != Transient {
			return err
		}

		attempt++
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, backoff, err)
		}
		if err := sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = nextBackoff(backoff, multiplier, ceiling)
	}
}

// nextBackoff is min(backoff*multiplier, ceiling), computed without
// overflowing time.Duration.
func nextBackoff(backoff time.Duration, multiplier float64, ceiling time.Duration) time.Duration {
	next := float64(backoff) * multiplier
	if next >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(next)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
