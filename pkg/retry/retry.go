// Package retry provides exponential backoff for the few espclient operations
// that opt into retrying: waiting for a server to come up and compare-and-swap
// loops on the bridge's KV snapshots. Ordinary REST calls never retry.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    _, err := conn.ServerInfo(ctx)
//	    return err
//	})
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// NonRetryableError stops Do at the attempt that returned it
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so Do returns it without further attempts
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries the NonRetryable mark
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config describes the attempts Do makes. Zero delays and multiplier take
// the DefaultConfig values.
type Config struct {
	MaxAttempts  int           // total attempts; below 1 means one
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool // add up to 25% to every delay

	// Retryable filters errors worth another attempt. Nil retries every
	// error not marked NonRetryable.
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of attempt+1
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns defaults for ordinary operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick returns a config for polling a server that is starting
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
		return cfg, errors.New("retry: negative delay or multiplier")
	}
	def := DefaultConfig()
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.Multiplier = min(cfg.Multiplier, 1000)
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, fmt.Errorf("retry: MaxDelay %s below InitialDelay %s", cfg.MaxDelay, cfg.InitialDelay)
	}
	return cfg, nil
}

// delay returns the sleep ahead of attempt n+1 (n counts from 1)
func (cfg Config) delay(n int) time.Duration {
	d := float64(cfg.InitialDelay)
	for i := 1; i < n && d < float64(cfg.MaxDelay); i++ {
		d *= cfg.Multiplier
	}
	out := min(time.Duration(d), cfg.MaxDelay)
	if cfg.AddJitter && out >= 4 {
		out += time.Duration(rand.Int63n(int64(out / 4)))
	}
	return out
}

func (cfg Config) retryable(err error) bool {
	if IsNonRetryable(err) {
		return false
	}
	return cfg.Retryable == nil || cfg.Retryable(err)
}

// Do calls fn until it succeeds, returns an error that is not retryable,
// runs out of attempts or ctx ends
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case !cfg.retryable(err):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("retry: cancelled after attempt %d: %w", attempt, errors.Join(ctx.Err(), err))
		case attempt >= cfg.MaxAttempts:
			return fmt.Errorf("retry: gave up after %d attempts: %w", attempt, err)
		}

		wait := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: cancelled waiting for attempt %d: %w", attempt+1, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
