package jobs

import (
	"context"

	"mediaref/internal/database"
)

// Job families.
const (
	FamilyIndex    = "index"
	FamilyRename   = "rename"
	FamilyDeepScan = "deep_scan"
)

// Job modes. Index jobs run smart or full; rename jobs run test or full.
const (
	ModeSmart = "smart"
	ModeFull  = "full"
	ModeTest  = "test"
)

// Progress is the outcome of one chunk.
type Progress struct {
	// Cursor is where the next chunk resumes.
	Cursor    string
	Processed int
	Changed   int
	Errors    []database.JobError
	Messages  []string
	// Done marks the job complete once this chunk is committed.
	Done bool
}

// Runner does the work of one job family. Implementations read the mode,
// params and cursor from the state they are given and must not modify it;
// the scheduler owns every write to the job record.
type Runner interface {
	// Prepare runs once when a queued job starts and returns the total
	// number of items the job expects to process.
	Prepare(ctx context.Context, st *database.JobState) (total int, err error)

	// Step processes the next chunk after st.Cursor. Errors that concern a
	// single item belong in Progress.Errors; a returned error fails the job.
	Step(ctx context.Context, st *database.JobState) (Progress, error)
}
