package handlers

import (
	"context"
	"encoding/json"

	"mediaref/internal/duplicates"
	"mediaref/internal/errs"
	"mediaref/internal/jobs"
)

type quickScanArgs struct {
	ConfirmRemove []int64 `json:"confirm_remove"`
}

func (h *Handlers) quickDuplicateScan(ctx context.Context, raw json.RawMessage) (any, error) {
	var args quickScanArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return h.detector.QuickScan(ctx, args.ConfirmRemove)
}

type deepScanArgs struct {
	Offset        int     `json:"offset"`
	ConfirmRemove []int64 `json:"confirm_remove"`
	// Background queues the scan as a deep_scan job instead of processing
	// one chunk per request.
	Background bool `json:"background"`
}

func (h *Handlers) deepDuplicateScan(ctx context.Context, raw json.RawMessage) (any, error) {
	var args deepScanArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Background {
		return h.scheduler.Start(ctx, jobs.FamilyDeepScan, "", nil)
	}

	p, err := h.detector.DeepScanChunk(ctx, args.Offset, args.ConfirmRemove)
	if err != nil {
		return nil, err
	}
	return p, partial(len(p.Errors), p.Processed)
}

type verifyArgs struct {
	AssetIDs []int64 `json:"asset_ids"`
	Level    string  `json:"level"`
}

func (h *Handlers) verifyUsageGroup(ctx context.Context, raw json.RawMessage) (any, error) {
	var args verifyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireIDs("asset_ids", args.AssetIDs); err != nil {
		return nil, err
	}

	var live duplicates.LiveScanner
	if h.indexer != nil {
		live = h.indexer
	}
	usage, err := h.detector.VerifyUsage(ctx, args.AssetIDs, args.Level, live)
	if err != nil {
		return nil, err
	}

	// JSON object keys are strings; keep the request order in a list too.
	list := make([]duplicates.Usage, 0, len(args.AssetIDs))
	for _, id := range args.AssetIDs {
		u, ok := usage[id]
		if !ok {
			return nil, errs.NotFound("asset", id)
		}
		list = append(list, u)
	}
	return map[string]any{"usage": usage, "assets": list}, nil
}
