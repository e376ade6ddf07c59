// Package jobs holds the engine's periodic background maintenance.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/steelhorse-mc/presence-engine/internal/clock"
	"github.com/steelhorse-mc/presence-engine/internal/repository"
)

// RetentionJob prunes old completed sessions and dispatch records on a fixed
// interval.
type RetentionJob struct {
	completedRepo     repository.CompletedSessionRepository
	dispatchRepo      repository.DispatchRepository
	clk               clock.Clock
	completedRetained time.Duration
	dispatchRetained  time.Duration
	interval          time.Duration
	done              chan struct{}
}

func NewRetentionJob(
	completedRepo repository.CompletedSessionRepository,
	dispatchRepo repository.DispatchRepository,
	clk clock.Clock,
	completedRetained time.Duration,
	dispatchRetained time.Duration,
	interval time.Duration,
) *RetentionJob {
	return &RetentionJob{
		completedRepo:     completedRepo,
		dispatchRepo:      dispatchRepo,
		clk:               clk,
		completedRetained: completedRetained,
		dispatchRetained:  dispatchRetained,
		interval:          interval,
		done:              make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.prune()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := j.clk.Now()
	j.runPrune(ctx, "completed sessions", now.Add(-j.completedRetained), j.completedRepo.DeleteOlderThan)
	j.runPrune(ctx, "dispatch records", now.Add(-j.dispatchRetained), j.dispatchRepo.DeleteOlderThan)
}

func (j *RetentionJob) runPrune(
	ctx context.Context,
	name string,
	cutoff time.Time,
	fn func(context.Context, time.Time) (int64, error),
) {
	count, err := fn(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msgf("failed to prune %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msgf("pruned %s", name)
	}
}
