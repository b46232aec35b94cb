package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/logging"
	"mediaref/internal/metrics"
)

const (
	// maxMessages is the size of the recent-messages ring.
	maxMessages = 20

	// maxErrors bounds the stored error list; the oldest entries are dropped.
	maxErrors = 200

	// swapRetries bounds compare-and-swap retries for a single update.
	swapRetries = 5

	defaultLeaseTTL     = 2 * time.Minute
	defaultTickInterval = 5 * time.Second
)

// Config configures a Scheduler.
type Config struct {
	// Owner identifies this scheduler in job leases. Defaults to
	// host-pid-random.
	Owner string

	// LeaseTTL is how long a claimed chunk may run before another
	// scheduler may take the job over.
	LeaseTTL time.Duration

	// TickInterval is how often Run steps active jobs.
	TickInterval time.Duration

	// IndexInterval queues a smart index this often. Zero disables it.
	IndexInterval time.Duration

	// Clock replaces time.Now in tests.
	Clock func() time.Time
}

// Scheduler starts, steps and controls jobs. All of its state lives in the
// database, so any number of schedulers may share one.
type Scheduler struct {
	db      *database.Database
	runners map[string]Runner
	order   []string
	cfg     Config
	now     func() time.Time
}

// New creates a Scheduler. Runners are added with Register.
func New(db *database.Database, cfg Config) *Scheduler {
	if cfg.Owner == "" {
		cfg.Owner = defaultOwner()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		db:      db,
		runners: make(map[string]Runner),
		cfg:     cfg,
		now:     now,
	}
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Register installs the runner for a job family.
func (s *Scheduler) Register(family string, r Runner) {
	if _, ok := s.runners[family]; !ok {
		s.order = append(s.order, family)
	}
	s.runners[family] = r
}

// Families returns the registered families in registration order.
func (s *Scheduler) Families() []string {
	return append([]string(nil), s.order...)
}

// Owner returns the lease owner name of this scheduler.
func (s *Scheduler) Owner() string {
	return s.cfg.Owner
}

func (s *Scheduler) runner(family string) (Runner, error) {
	r, ok := s.runners[family]
	if !ok {
		return nil, errs.Validation("family", "unknown job family %q", family)
	}
	return r, nil
}

// Start queues a new job for family. It fails with a ConcurrencyError when
// the family already has a queued, running or paused job, including when
// another scheduler starts one at the same moment.
func (s *Scheduler) Start(ctx context.Context, family, mode string, params any) (*database.JobState, error) {
	return s.start(ctx, family, mode, params, time.Time{})
}

func (s *Scheduler) start(ctx context.Context, family, mode string, params any, nextRun time.Time) (*database.JobState, error) {
	if _, err := s.runner(family); err != nil {
		return nil, err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, errs.Validation("params", "invalid job parameters: %v", err)
	}

	now := s.now()
	st := &database.JobState{
		Family:    family,
		JobID:     uuid.NewString(),
		Status:    database.JobQueued,
		Mode:      mode,
		Params:    raw,
		CreatedAt: now,
		UpdatedAt: now,
		NextRunAt: nextRun,
	}
	s.note(st, "Queued %s job", describe(family, mode))

	prev, err := s.db.GetJobState(ctx, family)
	var notFound *errs.NotFoundError
	switch {
	case errors.As(err, &notFound):
		err = s.db.CreateJobState(ctx, st)
	case err != nil:
		return nil, err
	case prev.Status.Active():
		return nil, &errs.ConcurrencyError{
			Family: family,
			Reason: fmt.Sprintf("job %s is already %s", prev.JobID, prev.Status),
		}
	default:
		st.Version = prev.Version
		if nextRun.IsZero() {
			st.NextRunAt = prev.NextRunAt
		}
		err = s.db.SwapJobState(ctx, st)
	}
	if err != nil {
		return nil, err
	}

	s.transition(st)
	logging.Info("Queued %s job %s", describe(family, mode), st.JobID)
	return st, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}

func describe(family, mode string) string {
	if mode == "" {
		return family
	}
	return mode + " " + family
}

// Status returns the current record of family. A family that has never run
// is reported as idle.
func (s *Scheduler) Status(ctx context.Context, family string) (*database.JobState, error) {
	if _, err := s.runner(family); err != nil {
		return nil, err
	}
	st, err := s.db.GetJobState(ctx, family)
	var notFound *errs.NotFoundError
	if errors.As(err, &notFound) {
		return &database.JobState{
			Family:   family,
			Status:   database.JobIdle,
			Errors:   []database.JobError{},
			Messages: []string{},
		}, nil
	}
	return st, err
}

// StatusAll returns the record of every registered family.
func (s *Scheduler) StatusAll(ctx context.Context) ([]*database.JobState, error) {
	out := make([]*database.JobState, 0, len(s.order))
	for _, family := range s.order {
		st, err := s.Status(ctx, family)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Pause asks the family's job to stop at the next chunk boundary. A job
// that is not mid-chunk is paused immediately.
func (s *Scheduler) Pause(ctx context.Context, family string) (*database.JobState, error) {
	return s.update(ctx, family, func(st *database.JobState) (bool, error) {
		switch st.Status {
		case database.JobPaused:
			return false, nil
		case database.JobQueued, database.JobRunning:
		default:
			return false, errs.Validation("family", "%s job is %s and cannot be paused", family, st.Status)
		}
		if s.leaseLive(st) {
			if st.PauseRequested {
				return false, nil
			}
			st.PauseRequested = true
			s.note(st, "Pause requested")
			return true, nil
		}
		st.Status = database.JobPaused
		st.PauseRequested = false
		s.note(st, "Paused")
		return true, nil
	})
}

// Resume continues a paused job, or retries a failed one from its last
// committed chunk.
func (s *Scheduler) Resume(ctx context.Context, family string) (*database.JobState, error) {
	return s.update(ctx, family, func(st *database.JobState) (bool, error) {
		switch st.Status {
		case database.JobPaused, database.JobFailed:
		case database.JobQueued, database.JobRunning:
			if !st.PauseRequested {
				return false, nil
			}
			st.PauseRequested = false
			s.note(st, "Pause withdrawn")
			return true, nil
		default:
			return false, errs.Validation("family", "%s job is %s and cannot be resumed", family, st.Status)
		}

		if st.StartedAt.IsZero() {
			st.Status = database.JobQueued
		} else {
			st.Status = database.JobRunning
		}
		st.PauseRequested = false
		st.CancelRequested = false
		st.LeaseOwner = ""
		st.LeaseUntil = time.Time{}
		st.FinishedAt = time.Time{}
		s.note(st, "Resumed at %d/%d", st.Processed, st.Total)
		return true, nil
	})
}

// Cancel stops the family's job at the next chunk boundary. Chunks already
// committed stay committed.
func (s *Scheduler) Cancel(ctx context.Context, family string) (*database.JobState, error) {
	return s.update(ctx, family, func(st *database.JobState) (bool, error) {
		if !st.Status.Active() {
			return false, errs.Validation("family", "%s job is %s and cannot be cancelled", family, st.Status)
		}
		if st.Status != database.JobPaused && s.leaseLive(st) {
			if st.CancelRequested {
				return false, nil
			}
			st.CancelRequested = true
			s.note(st, "Cancel requested")
			return true, nil
		}
		s.finish(st, database.JobCancelled)
		s.note(st, "Cancelled at %d/%d", st.Processed, st.Total)
		return true, nil
	})
}

// Step processes one chunk of the family's job and returns the job record
// after it. Nothing happens when the job is not active, is paused, or is
// leased by another scheduler; the current record is returned as is.
func (s *Scheduler) Step(ctx context.Context, family string) (*database.JobState, error) {
	r, err := s.runner(family)
	if err != nil {
		return nil, err
	}

	st, err := s.db.GetJobState(ctx, family)
	var notFound *errs.NotFoundError
	if errors.As(err, &notFound) {
		return s.Status(ctx, family)
	}
	if err != nil {
		return nil, err
	}
	if !st.Status.Active() || st.Status == database.JobPaused {
		return st, nil
	}
	// A live lease means a chunk is in flight, possibly in this process.
	if s.leaseLive(st) {
		return st, nil
	}
	if st.CancelRequested || st.PauseRequested {
		return s.settle(ctx, family)
	}

	st.LeaseOwner = s.cfg.Owner
	st.LeaseUntil = s.now().Add(s.cfg.LeaseTTL)
	st.UpdatedAt = s.now()
	if err := s.db.SwapJobState(ctx, st); err != nil {
		var conflict *errs.ConcurrencyError
		if errors.As(err, &conflict) {
			return s.db.GetJobState(ctx, family)
		}
		return nil, err
	}

	var (
		progress Progress
		total    int
		runErr   error
		prepare  = st.Status == database.JobQueued
	)
	start := time.Now()
	if prepare {
		total, runErr = r.Prepare(ctx, st)
	} else {
		progress, runErr = r.Step(ctx, st)
	}
	logging.Debug("Job %s chunk took %v", family, time.Since(start))

	interrupted := runErr != nil && ctx.Err() != nil
	jobID := st.JobID

	return s.commit(context.WithoutCancel(ctx), st, func(st *database.JobState) {
		st.LeaseOwner = ""
		st.LeaseUntil = time.Time{}

		switch {
		case interrupted:
			s.note(st, "Interrupted; will resume from the last committed chunk")
			return
		case runErr != nil:
			st.Errors = appendErrors(st.Errors, database.JobError{Reason: runErr.Error()})
			s.finish(st, database.JobFailed)
			s.note(st, "Failed: %v", runErr)
			logging.Error("Job %s %s failed: %v", family, jobID, runErr)
			return
		case st.CancelRequested:
			// The chunk's counters are dropped with the job.
			s.finish(st, database.JobCancelled)
			s.note(st, "Cancelled at %d/%d", st.Processed, st.Total)
			return
		}

		if prepare {
			st.Status = database.JobRunning
			st.StartedAt = s.now()
			st.Total = total
			s.note(st, "Started %s job: %d items", describe(family, st.Mode), total)
		} else {
			st.Cursor = progress.Cursor
			st.Processed += progress.Processed
			st.Changed += progress.Changed
			st.Errors = appendErrors(st.Errors, progress.Errors...)
			for _, msg := range progress.Messages {
				s.note(st, "%s", msg)
			}
			if progress.Done {
				s.finish(st, database.JobComplete)
				s.note(st, "Complete: %d processed, %d changed, %d errors", st.Processed, st.Changed, len(st.Errors))
				logging.Info("Job %s %s complete: %d processed, %d changed", family, jobID, st.Processed, st.Changed)
				return
			}
		}

		if st.PauseRequested {
			st.Status = database.JobPaused
			st.PauseRequested = false
			s.note(st, "Paused at %d/%d", st.Processed, st.Total)
		}
	})
}

// commit writes the outcome of a chunk. When a pause or cancel request
// landed while the chunk ran, the outcome is re-applied on top of the newer
// record so the request is honoured rather than overwritten. If the lease
// was lost to another scheduler the outcome is discarded.
func (s *Scheduler) commit(ctx context.Context, st *database.JobState, apply func(*database.JobState)) (*database.JobState, error) {
	jobID := st.JobID
	for range swapRetries {
		before := st.Status
		apply(st)
		st.UpdatedAt = s.now()

		err := s.db.SwapJobState(ctx, st)
		if err == nil {
			if st.Status != before {
				s.transition(st)
			}
			return st, nil
		}
		var conflict *errs.ConcurrencyError
		if !errors.As(err, &conflict) {
			return nil, err
		}

		latest, err := s.db.GetJobState(ctx, st.Family)
		if err != nil {
			return nil, err
		}
		if latest.JobID != jobID || latest.LeaseOwner != s.cfg.Owner {
			logging.Warn("Job %s %s: lease lost, discarding chunk", st.Family, jobID)
			return latest, nil
		}
		st = latest
	}
	return nil, &errs.ConcurrencyError{Family: st.Family, Reason: "job state kept changing while committing a chunk"}
}

// settle applies a pending pause or cancel to a job nobody is working on,
// such as one whose previous lease holder died.
func (s *Scheduler) settle(ctx context.Context, family string) (*database.JobState, error) {
	return s.update(ctx, family, func(st *database.JobState) (bool, error) {
		if !st.Status.Active() || st.Status == database.JobPaused {
			return false, nil
		}
		if s.leaseLive(st) {
			return false, nil
		}
		switch {
		case st.CancelRequested:
			s.finish(st, database.JobCancelled)
			s.note(st, "Cancelled at %d/%d", st.Processed, st.Total)
		case st.PauseRequested:
			st.Status = database.JobPaused
			st.PauseRequested = false
			st.LeaseOwner = ""
			st.LeaseUntil = time.Time{}
			s.note(st, "Paused at %d/%d", st.Processed, st.Total)
		default:
			return false, nil
		}
		return true, nil
	})
}

// update applies fn to the latest record of family and writes it back,
// retrying when another writer got there first. fn returns false to leave
// the record untouched.
func (s *Scheduler) update(ctx context.Context, family string, fn func(*database.JobState) (bool, error)) (*database.JobState, error) {
	if _, err := s.runner(family); err != nil {
		return nil, err
	}
	for range swapRetries {
		st, err := s.db.GetJobState(ctx, family)
		if err != nil {
			return nil, err
		}
		before := st.Status
		write, err := fn(st)
		if err != nil || !write {
			return st, err
		}
		st.UpdatedAt = s.now()

		err = s.db.SwapJobState(ctx, st)
		if err == nil {
			if st.Status != before {
				s.transition(st)
			}
			return st, nil
		}
		var conflict *errs.ConcurrencyError
		if !errors.As(err, &conflict) {
			return nil, err
		}
	}
	return nil, &errs.ConcurrencyError{Family: family, Reason: "job state kept changing; retry"}
}

func (s *Scheduler) leaseLive(st *database.JobState) bool {
	return st.LeaseOwner != "" && s.now().Before(st.LeaseUntil)
}

func (s *Scheduler) finish(st *database.JobState, status database.JobStatus) {
	st.Status = status
	st.FinishedAt = s.now()
	st.PauseRequested = false
	st.CancelRequested = false
	st.LeaseOwner = ""
	st.LeaseUntil = time.Time{}
}

// note appends a timestamped message to the job's ring of recent messages.
func (s *Scheduler) note(st *database.JobState, format string, args ...any) {
	msg := s.now().Format("15:04:05") + " " + fmt.Sprintf(format, args...)
	st.Messages = append(st.Messages, msg)
	if n := len(st.Messages); n > maxMessages {
		st.Messages = append([]string(nil), st.Messages[n-maxMessages:]...)
	}
}

func appendErrors(list []database.JobError, add ...database.JobError) []database.JobError {
	list = append(list, add...)
	if n := len(list); n > maxErrors {
		list = append([]database.JobError(nil), list[n-maxErrors:]...)
	}
	return list
}

func (s *Scheduler) transition(st *database.JobState) {
	metrics.JobTransitionsTotal.WithLabelValues(st.Family, string(st.Status)).Inc()
	active := 0.0
	if st.Status.Active() {
		active = 1
	}
	metrics.JobActive.WithLabelValues(st.Family).Set(active)
}
