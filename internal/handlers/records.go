package handlers

import (
	"bytes"
	"context"
	"encoding/json"

	"mediaref/internal/database"
	"mediaref/internal/errs"
)

type assetArgs struct {
	AssetID int64 `json:"asset_id"`
}

// AssetUsage is the result of get_asset_usage.
type AssetUsage struct {
	Asset     *database.Asset       `json:"asset"`
	Count     int                   `json:"count"`
	Locations []database.IndexEntry `json:"locations"`
}

func (h *Handlers) getAssetUsage(ctx context.Context, raw json.RawMessage) (any, error) {
	var args assetArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireIDs("asset_id", []int64{args.AssetID}); err != nil {
		return nil, err
	}
	a, err := h.db.GetAsset(ctx, args.AssetID)
	if err != nil {
		return nil, err
	}
	locations, err := h.db.QueryLocations(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if locations == nil {
		locations = []database.IndexEntry{}
	}
	return AssetUsage{Asset: a, Count: len(locations), Locations: locations}, nil
}

func (h *Handlers) detectOrphans(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := decodeArgs(raw, &struct{}{}); err != nil {
		return nil, err
	}
	orphans, err := h.db.DetectOrphans(ctx)
	if err != nil {
		return nil, err
	}
	if orphans == nil {
		orphans = []database.Orphan{}
	}
	return map[string]any{"orphans": orphans, "count": len(orphans)}, nil
}

func (h *Handlers) sweepOrphans(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := decodeArgs(raw, &struct{}{}); err != nil {
		return nil, err
	}
	removed, err := h.db.SweepOrphans(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"removed": removed}, nil
}

type recordArgs struct {
	ID          int64                `json:"id"`
	ContextType database.ContextType `json:"context_type"`
	Owner       string               `json:"owner"`
	FieldKey    string               `json:"field_key"`
	Encoding    database.Encoding    `json:"encoding"`
	// Value is a string, or for json records any JSON value.
	Value   json.RawMessage `json:"value"`
	Version int64           `json:"version"`
}

// save_record stores a location record written by the content system and
// invalidates the index entries it affects.
func (h *Handlers) saveRecord(ctx context.Context, raw json.RawMessage) (any, error) {
	var args recordArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	value, err := recordValue(args.Value, args.Encoding)
	if err != nil {
		return nil, err
	}
	r := &database.Record{
		ID:          args.ID,
		ContextType: args.ContextType,
		Owner:       args.Owner,
		FieldKey:    args.FieldKey,
		Encoding:    args.Encoding,
		Value:       value,
		Version:     args.Version,
	}
	if err := h.indexer.SaveRecord(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func recordValue(raw json.RawMessage, enc database.Encoding) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errs.Validation("value", "%v", err)
		}
		return s, nil
	}
	if enc != database.EncodingJSON {
		return "", errs.Validation("value", "value must be a string unless encoding is json")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", errs.Validation("value", "%v", err)
	}
	return buf.String(), nil
}

type recordIDArgs struct {
	ID int64 `json:"id"`
}

func (h *Handlers) deleteRecord(ctx context.Context, raw json.RawMessage) (any, error) {
	var args recordIDArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ID <= 0 {
		return nil, errs.Validation("id", "record id is required")
	}
	if err := h.db.DeleteRecord(ctx, args.ID); err != nil {
		return nil, err
	}
	return map[string]int64{"deleted": args.ID}, nil
}
