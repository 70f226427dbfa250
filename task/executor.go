package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"fileclient/logging"
)

// AttemptConfig controls retries inside a single attempt.
type AttemptConfig struct {
	Retries  int           `mapstructure:"retries"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DefaultAttemptConfig retries three times starting at 500ms.
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{Retries: 3, Delay: 500 * time.Millisecond, MaxDelay: 3 * time.Second}
}

// Validate rejects negative retries, and a non-positive delay when retries are enabled.
func (c AttemptConfig) Validate() error {
	if c.Retries < 0 {
		return errors.New("attempt retries must be >= 0")
	}
	if c.Retries > 0 && c.Delay <= 0 {
		return errors.New("attempt delay must be > 0")
	}
	return nil
}

// Executor runs one attempt, retrying transient failures after short
// exponential delays.
type Executor struct {
	cfg       AttemptConfig
	retryable func(error) bool
	log       *logging.Logger
}

// NewExecutor returns an executor that stops early on errors retryable
// rejects.
func NewExecutor(cfg AttemptConfig, retryable func(error) bool, log *logging.Logger) *Executor {
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	return &Executor{cfg: cfg, retryable: retryable, log: log}
}

// Run calls op until it succeeds, fails permanently or the retries run out.
// A panic in op is returned as an error.
func (e *Executor) Run(ctx context.Context, op func(context.Context) error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.cfg.Delay
	if e.cfg.MaxDelay > 0 {
		expo.MaxInterval = e.cfg.MaxDelay
	}
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(e.cfg.Retries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := safeCall(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !e.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.log.Debug("attempt step failed, retrying",
			zap.Int("try", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(operation, policy, notify)
}

func safeCall(ctx context.Context, op func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("attempt panicked: %v", p)
		}
	}()
	return op(ctx)
}
