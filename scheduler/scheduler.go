// Package scheduler drives task handlers on fixed-delay loops.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fileclient/logging"
)

// Runner processes at most one unit of work per call.
type Runner interface {
	RunOnce(ctx context.Context) bool
}

// Job is a named runner invoked every Delay after its previous run finished.
type Job struct {
	Name   string
	Delay  time.Duration
	Runner Runner
}

// Run starts one loop per job and blocks until ctx is cancelled. Ticks of the
// same job never overlap, and jobs never wait on each other.
func Run(ctx context.Context, log *logging.Logger, jobs ...Job) error {
	for _, job := range jobs {
		if job.Delay <= 0 {
			return errors.New("scheduler: job " + job.Name + " needs a positive delay")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			loop(ctx, log.Named("scheduler").With(zap.String("job", job.Name)), job)
			return nil
		})
	}
	return g.Wait()
}

func loop(ctx context.Context, log *logging.Logger, job Job) {
	log.Info("loop started", zap.Duration("delay", job.Delay))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("loop stopped")
			return
		case <-timer.C:
		}

		tick(ctx, log, job.Runner)
		timer.Reset(job.Delay)
	}
}

func tick(ctx context.Context, log *logging.Logger, runner Runner) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("tick panicked", zap.Any("panic", p))
		}
	}()
	runner.RunOnce(ctx)
}
