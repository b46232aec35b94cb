package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mediaref/internal/errs"
	"mediaref/internal/logging"
	"mediaref/internal/metrics"
)

// maxActionBody bounds the request body of an action.
const maxActionBody = 4 << 20

// Action names one operation of the action endpoint.
type Action string

const (
	ActionQueueIndexRebuild      Action = "queue_index_rebuild"
	ActionGetIndexStatus         Action = "get_index_status"
	ActionQuickDuplicateScan     Action = "quick_duplicate_scan"
	ActionDeepDuplicateScan      Action = "deep_duplicate_scan"
	ActionApplyRenameSuggestions Action = "apply_rename_suggestions"
	ActionVerifyUsageGroup       Action = "verify_usage_group"
	ActionPauseJob               Action = "pause_job"
	ActionResumeJob              Action = "resume_job"
	ActionCancelJob              Action = "cancel_job"
	ActionGetJobStatus           Action = "get_job_status"
	ActionGetAssetUsage          Action = "get_asset_usage"
	ActionDetectOrphans          Action = "detect_orphans"
	ActionSweepOrphans           Action = "sweep_orphans"
	ActionSaveRecord             Action = "save_record"
	ActionDeleteRecord           Action = "delete_record"
	ActionSetRenameSuggestion    Action = "set_rename_suggestion"
)

type actionRequest struct {
	Token  string          `json:"token"`
	Action Action          `json:"action"`
	Args   json.RawMessage `json:"args"`
}

// ActionError is the error object of a failed action.
type ActionError struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// ActionResponse is the envelope of every action reply. A batch in which
// some items failed is successful and carries a partial_failure error next
// to its data.
type ActionResponse struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ActionError `json:"error,omitempty"`
}

type actionFunc func(ctx context.Context, args json.RawMessage) (any, error)

func (h *Handlers) registry() map[Action]actionFunc {
	return map[Action]actionFunc{
		ActionQueueIndexRebuild:      h.queueIndexRebuild,
		ActionGetIndexStatus:         h.getIndexStatus,
		ActionQuickDuplicateScan:     h.quickDuplicateScan,
		ActionDeepDuplicateScan:      h.deepDuplicateScan,
		ActionApplyRenameSuggestions: h.applyRenameSuggestions,
		ActionVerifyUsageGroup:       h.verifyUsageGroup,
		ActionPauseJob:               h.pauseJob,
		ActionResumeJob:              h.resumeJob,
		ActionCancelJob:              h.cancelJob,
		ActionGetJobStatus:           h.getJobStatus,
		ActionGetAssetUsage:          h.getAssetUsage,
		ActionDetectOrphans:          h.detectOrphans,
		ActionSweepOrphans:           h.sweepOrphans,
		ActionSaveRecord:             h.saveRecord,
		ActionDeleteRecord:           h.deleteRecord,
		ActionSetRenameSuggestion:    h.setRenameSuggestion,
	}
}

// HandleAction serves POST /api/action.
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBody)).Decode(&req); err != nil {
		h.respond(w, "", nil, errs.Validation("body", "invalid request body: %v", err))
		return
	}

	if err := h.tokens.Verify(req.Token); err != nil {
		h.respond(w, req.Action, nil, err)
		return
	}

	fn, ok := h.actions[req.Action]
	if !ok {
		h.respond(w, req.Action, nil, errs.Validation("action", "unknown action %q", req.Action))
		return
	}

	logging.Debug("Action %s", req.Action)
	data, err := fn(r.Context(), req.Args)
	h.respond(w, req.Action, data, err)
}

func (h *Handlers) respond(w http.ResponseWriter, action Action, data any, err error) {
	code := errs.CodeOf(err)
	label := string(code)
	if label == "" {
		label = "ok"
	}
	if _, known := h.actions[action]; !known {
		action = "unknown"
	}
	metrics.ActionsTotal.WithLabelValues(string(action), label).Inc()

	if err == nil {
		writeJSON(w, nil, http.StatusOK, cacheNone, ActionResponse{Success: true, Data: data})
		return
	}

	resp := ActionResponse{Error: &ActionError{Code: code, Message: err.Error()}}
	var validation *errs.ValidationError
	if errors.As(err, &validation) {
		resp.Error.Field = validation.Field
	}

	switch code {
	case errs.CodePartial:
		resp.Success, resp.Data = true, data
	case errs.CodeInternal:
		logging.Error("Action %s failed: %v", action, err)
		resp.Error.Message = "internal error"
	default:
		logging.Debug("Action %s rejected: %v", action, err)
	}
	writeJSON(w, nil, errs.HTTPStatus(code), cacheNone, resp)
}

// decodeArgs unmarshals an action's args. Missing args decode as the zero
// value; unknown fields are rejected so typos do not pass silently.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validation("args", "%v", err)
	}
	return nil
}

func partial(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return &errs.PartialFailure{Failed: failed, Total: total}
}

func requireIDs(field string, ids []int64) error {
	if len(ids) == 0 {
		return errs.Validation(field, "at least one asset id is required")
	}
	for _, id := range ids {
		if id <= 0 {
			return errs.Validation(field, "invalid asset id %d", id)
		}
	}
	return nil
}
