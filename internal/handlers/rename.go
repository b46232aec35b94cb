package handlers

import (
	"context"
	"encoding/json"

	"mediaref/internal/errs"
	"mediaref/internal/jobs"
	"mediaref/internal/rename"
)

type renameArgs struct {
	// AssetIDs applies the stored suggestions of these assets. Items gives
	// the names directly. Exactly one of them is set.
	AssetIDs   []int64       `json:"asset_ids"`
	Items      []rename.Item `json:"items"`
	Mode       rename.Mode   `json:"mode"`
	BatchSize  int           `json:"batch_size"`
	Cursor     int           `json:"cursor"`
	Background bool          `json:"background"`
}

func (h *Handlers) applyRenameSuggestions(ctx context.Context, raw json.RawMessage) (any, error) {
	var args renameArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Mode == "" {
		args.Mode = rename.ModeTest
	}

	items := args.Items
	switch {
	case len(items) > 0 && len(args.AssetIDs) > 0:
		return nil, errs.Validation("items", "give either asset_ids or items, not both")
	case len(items) == 0:
		if err := requireIDs("asset_ids", args.AssetIDs); err != nil {
			return nil, err
		}
		var err error
		if items, err = h.renamer.Suggested(ctx, args.AssetIDs); err != nil {
			return nil, err
		}
	}

	if args.Background {
		return h.scheduler.Start(ctx, jobs.FamilyRename, string(args.Mode),
			rename.JobParams{Items: items, BatchSize: args.BatchSize})
	}

	out, err := h.renamer.Apply(ctx, items, args.Mode, args.BatchSize, args.Cursor)
	if err != nil {
		return nil, err
	}
	return out, partial(out.Summary.Error, out.Summary.Total)
}

type suggestionArgs struct {
	AssetID int64  `json:"asset_id"`
	Name    string `json:"name"`
}

// set_rename_suggestion stores an accepted name for later application.
func (h *Handlers) setRenameSuggestion(ctx context.Context, raw json.RawMessage) (any, error) {
	var args suggestionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireIDs("asset_id", []int64{args.AssetID}); err != nil {
		return nil, err
	}
	if rename.Sanitize(args.Name) == "" {
		return nil, errs.Validation("name", "name %q has no usable characters", args.Name)
	}
	if _, err := h.db.GetAsset(ctx, args.AssetID); err != nil {
		return nil, err
	}
	if err := h.db.SetRenameSuggestion(ctx, args.AssetID, args.Name); err != nil {
		return nil, err
	}
	return map[string]any{"asset_id": args.AssetID, "suggested_name": args.Name}, nil
}
