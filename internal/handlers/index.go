package handlers

import (
	"context"
	"encoding/json"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/indexer"
	"mediaref/internal/jobs"
)

type indexRebuildArgs struct {
	Mode  string `json:"mode"`
	Force bool   `json:"force"`
}

// queue_index_rebuild: a smart run visits dirty assets, force or mode=full
// rebuilds the whole index.
func (h *Handlers) queueIndexRebuild(ctx context.Context, raw json.RawMessage) (any, error) {
	var args indexRebuildArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	mode := args.Mode
	switch {
	case args.Force:
		mode = jobs.ModeFull
	case mode == "":
		mode = jobs.ModeSmart
	case mode != jobs.ModeSmart && mode != jobs.ModeFull:
		return nil, errs.Validation("mode", "unknown index mode %q", mode)
	}
	return h.scheduler.Start(ctx, jobs.FamilyIndex, mode, nil)
}

type statusArgs struct {
	// Advance processes one chunk before reporting, for deployments where
	// the client's polling drives the job instead of the background loop.
	Advance bool `json:"advance"`
}

// IndexStatus is the result of get_index_status.
type IndexStatus struct {
	Job     *database.JobState         `json:"job"`
	Summary database.UsageIndexSummary `json:"summary"`
	Sync    *indexer.HealthStatus      `json:"sync,omitempty"`
}

func (h *Handlers) getIndexStatus(ctx context.Context, raw json.RawMessage) (any, error) {
	var args statusArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	var (
		st  *database.JobState
		err error
	)
	if args.Advance {
		st, err = h.scheduler.Step(ctx, jobs.FamilyIndex)
	} else {
		st, err = h.scheduler.Status(ctx, jobs.FamilyIndex)
	}
	if err != nil {
		return nil, err
	}

	summary, err := h.db.GetSummary(ctx)
	if err != nil {
		return nil, err
	}

	out := IndexStatus{Job: st, Summary: summary}
	if h.indexer != nil {
		health := h.indexer.GetHealthStatus()
		out.Sync = &health
	}
	return out, nil
}
