package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/logger"
)

// TicketSweeper is the slice of the raffle service the job drives.
type TicketSweeper interface {
	SweepExpired(ctx context.Context) ([]int, error)
}

// Job periodically releases raffle numbers whose payment window elapsed
// without confirmation. Expiry is keyed purely by the tickets' expires_at
// column, so the job survives restarts and does not depend on the session
// that reserved the numbers — a sweep missed while the server was down simply
// happens on the next run.
type Job struct {
	sweeper TicketSweeper
}

// New creates the sweep job.
func New(sweeper TicketSweeper) *Job {
	return &Job{sweeper: sweeper}
}

// Run performs one sweep and returns the freed numbers.
func (j *Job) Run(ctx context.Context) ([]int, error) {
	freed, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep expired tickets: %w", err)
	}
	return freed, nil
}

// Start loops Run at the given interval until ctx is done.
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				logger.Errorf("Expiry sweep failed: %v", err)
			}
		}
	}
}
