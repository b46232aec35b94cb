package rename

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/jobs"
)

// JobParams are the parameters of a rename job.
type JobParams struct {
	Items     []Item `json:"items"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// Runner applies rename items as the "rename" job family, one batch per
// step. The job mode is the rename mode.
type Runner struct {
	eng *Engine
}

// NewRunner creates the rename job runner.
func NewRunner(eng *Engine) *Runner {
	return &Runner{eng: eng}
}

func jobParams(st *database.JobState) (JobParams, Mode, error) {
	var p JobParams
	if len(st.Params) > 0 {
		if err := json.Unmarshal(st.Params, &p); err != nil {
			return p, "", errs.Validation("params", "invalid rename job parameters: %v", err)
		}
	}
	if len(p.Items) == 0 {
		return p, "", errs.Validation("items", "rename job has no items")
	}
	mode := Mode(st.Mode)
	if mode == "" {
		mode = ModeFull
	}
	return p, mode, nil
}

// Prepare validates the parameters and reports how many items will be
// processed.
func (r *Runner) Prepare(_ context.Context, st *database.JobState) (int, error) {
	p, mode, err := jobParams(st)
	if err != nil {
		return 0, err
	}
	if _, info, err := window(p.Items, mode, p.BatchSize, 0); err != nil {
		return 0, err
	} else if mode == ModeTest {
		return info.BatchSize, nil
	}
	return len(p.Items), nil
}

// Step applies the next batch.
func (r *Runner) Step(ctx context.Context, st *database.JobState) (jobs.Progress, error) {
	p, mode, err := jobParams(st)
	if err != nil {
		return jobs.Progress{}, err
	}
	cursor := 0
	if st.Cursor != "" {
		if cursor, err = strconv.Atoi(st.Cursor); err != nil {
			return jobs.Progress{}, errs.Validation("cursor", "invalid rename cursor %q", st.Cursor)
		}
	}

	out, err := r.eng.Apply(ctx, p.Items, mode, p.BatchSize, cursor)
	if err != nil {
		return jobs.Progress{}, err
	}

	progress := jobs.Progress{
		Cursor:    strconv.Itoa(out.BatchInfo.NextCursor),
		Processed: out.Summary.Total,
		Changed:   out.Summary.Success,
		Done:      !out.BatchInfo.HasMoreBatches,
	}
	for _, res := range out.Results {
		if res.Result == ResultError {
			progress.Errors = append(progress.Errors, database.JobError{AssetID: res.AssetID, Item: res.OldPath, Reason: res.Reason})
		}
	}
	progress.Messages = append(progress.Messages, fmt.Sprintf("Renamed items %d-%d of %d: %d success, %d skipped, %d error",
		out.BatchInfo.Cursor+1, out.BatchInfo.NextCursor, out.BatchInfo.TotalItems,
		out.Summary.Success, out.Summary.Skipped, out.Summary.Error))
	return progress, nil
}
