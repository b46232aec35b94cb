package jobs

import (
	"context"
	"errors"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/logging"
)

// Run steps active jobs every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	logging.Info("Job scheduler started (owner: %s, tick: %v, index interval: %v)",
		s.cfg.Owner, s.cfg.TickInterval, s.cfg.IndexInterval)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			logging.Info("Job scheduler stopped")
			return
		}
	}
}

// Tick queues the periodic smart index when it is due, then steps every
// registered family once.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.cfg.IndexInterval > 0 {
		if err := s.schedulePeriodic(ctx); err != nil {
			logging.Warn("Periodic index scheduling failed: %v", err)
		}
	}
	for _, family := range s.order {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Step(ctx, family); err != nil {
			logging.Error("Job %s step failed: %v", family, err)
		}
	}
}

// schedulePeriodic records the next periodic index run and queues a smart
// index once it is due. A run that comes due while an index job is active
// waits for that job to finish.
func (s *Scheduler) schedulePeriodic(ctx context.Context) error {
	if _, ok := s.runners[FamilyIndex]; !ok {
		return nil
	}

	now := s.now()
	next := now.Add(s.cfg.IndexInterval)

	st, err := s.db.GetJobState(ctx, FamilyIndex)
	var notFound *errs.NotFoundError
	if errors.As(err, &notFound) {
		err = s.db.CreateJobState(ctx, &database.JobState{
			Family:    FamilyIndex,
			Status:    database.JobIdle,
			CreatedAt: now,
			UpdatedAt: now,
			NextRunAt: next,
		})
		return ignoreConflict(err)
	}
	if err != nil {
		return err
	}

	if st.NextRunAt.IsZero() {
		_, err := s.update(ctx, FamilyIndex, func(st *database.JobState) (bool, error) {
			if !st.NextRunAt.IsZero() {
				return false, nil
			}
			st.NextRunAt = next
			return true, nil
		})
		return ignoreConflict(err)
	}

	if now.Before(st.NextRunAt) || st.Status.Active() {
		return nil
	}

	logging.Debug("Periodic smart index due (scheduled %v)", st.NextRunAt)
	_, err = s.start(ctx, FamilyIndex, ModeSmart, nil, next)
	return ignoreConflict(err)
}

// ignoreConflict drops a ConcurrencyError: another scheduler did the same
// work first.
func ignoreConflict(err error) error {
	var conflict *errs.ConcurrencyError
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}
