// Package task holds the scheduling policy and attempt executor shared by the
// upload and download task machinery.
package task

import (
	"errors"
	"time"

	"fileclient/models"
)

// Policy bounds how often and how late a failing task is retried.
type Policy struct {
	// MaxRetries is the number of failed attempts after which a task fails.
	MaxRetries int `mapstructure:"max_retries"`
	// Interval is the unit delay between attempts.
	Interval time.Duration `mapstructure:"interval"`
	// MaxMultiplier caps the multiple of Interval added per retry.
	MaxMultiplier int `mapstructure:"max_multiplier"`
}

// DefaultPolicy retries five times, waiting up to ten minutes between attempts.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 5, Interval: time.Minute, MaxMultiplier: 10}
}

// Validate rejects a negative retry limit and a non-positive interval or multiplier.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("retry max_retries must be >= 0")
	}
	if p.Interval <= 0 {
		return errors.New("retry interval must be > 0")
	}
	if p.MaxMultiplier <= 0 {
		return errors.New("retry max_multiplier must be > 0")
	}
	return nil
}

// Next returns the incremented retry count and the schedule time it implies:
// the previous schedule plus min(retries, MaxMultiplier) intervals.
func (p Policy) Next(scheduled time.Time, retries models.Retries) (models.Retries, time.Time) {
	next := retries.Increment()
	multiplier := min(int(next), p.MaxMultiplier)
	return next, scheduled.Add(time.Duration(multiplier) * p.Interval)
}

// CanRetry reports whether a task that has failed retries times may be
// attempted again.
func (p Policy) CanRetry(retries models.Retries) bool {
	return int(retries) < p.MaxRetries
}
