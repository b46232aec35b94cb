package handlers

import (
	"context"
	"encoding/json"

	"mediaref/internal/database"
	"mediaref/internal/errs"
)

type familyArgs struct {
	Family  string `json:"family"`
	Advance bool   `json:"advance"`
}

func decodeFamily(raw json.RawMessage) (familyArgs, error) {
	var args familyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return args, err
	}
	if args.Family == "" {
		return args, errs.Validation("family", "job family is required")
	}
	return args, nil
}

func (h *Handlers) pauseJob(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeFamily(raw)
	if err != nil {
		return nil, err
	}
	return h.scheduler.Pause(ctx, args.Family)
}

func (h *Handlers) resumeJob(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeFamily(raw)
	if err != nil {
		return nil, err
	}
	return h.scheduler.Resume(ctx, args.Family)
}

func (h *Handlers) cancelJob(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeFamily(raw)
	if err != nil {
		return nil, err
	}
	return h.scheduler.Cancel(ctx, args.Family)
}

// get_job_status without a family lists every family.
func (h *Handlers) getJobStatus(ctx context.Context, raw json.RawMessage) (any, error) {
	var args familyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Family == "" {
		if args.Advance {
			return nil, errs.Validation("advance", "advance needs a job family")
		}
		all, err := h.scheduler.StatusAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string][]*database.JobState{"jobs": all}, nil
	}
	if args.Advance {
		return h.scheduler.Step(ctx, args.Family)
	}
	return h.scheduler.Status(ctx, args.Family)
}
