// Package errs defines the error taxonomy shared by the index, duplicate,
// rename and job packages, and the stable codes the action boundary reports.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, machine-readable identifier reported to API clients.
type Code string

const (
	CodeValidation  Code = "validation_error"
	CodeNotFound    Code = "not_found"
	CodeConcurrency Code = "concurrency_error"
	CodePartial     Code = "partial_failure"
	CodeStaleIndex  Code = "stale_index"
	CodeStoreWrite  Code = "store_write_error"
	CodeInternal    Code = "internal_error"
)

// ValidationError represents a malformed or unauthorized request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation is a shorthand constructor for ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing asset, location record or job.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound is a shorthand constructor for NotFoundError.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// ConcurrencyError reports that a job family already has an active job, or
// that a compare-and-swap on a persisted record lost a race.
type ConcurrencyError struct {
	Family string
	Reason string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("job family %q: %s", e.Family, e.Reason)
}

// PartialFailure reports that some items of a batch failed while the rest
// were processed.
type PartialFailure struct {
	Failed int
	Total  int
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%d of %d items failed", e.Failed, e.Total)
}

// StaleIndexError is returned when a rename is attempted against an asset
// whose usage index is dirty or older than the freshness threshold.
type StaleIndexError struct {
	AssetID   int64
	IndexedAt string
}

func (e *StaleIndexError) Error() string {
	if e.IndexedAt == "" {
		return fmt.Sprintf("usage index for asset %d is stale (never indexed); re-index first", e.AssetID)
	}
	return fmt.Sprintf("usage index for asset %d is stale (indexed at %s); re-index first", e.AssetID, e.IndexedAt)
}

// StoreWriteError is returned when the persistence layer rejects a write.
// Callers retry the whole asset.
type StoreWriteError struct {
	Op      string
	AssetID int64
	Err     error
}

func (e *StoreWriteError) Error() string {
	if e.AssetID != 0 {
		return fmt.Sprintf("store write %s for asset %d: %v", e.Op, e.AssetID, e.Err)
	}
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// CodeOf maps an error to its stable code.
func CodeOf(err error) Code {
	var (
		validation  *ValidationError
		notFound    *NotFoundError
		concurrency *ConcurrencyError
		partial     *PartialFailure
		stale       *StaleIndexError
		storeWrite  *StoreWriteError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &concurrency):
		return CodeConcurrency
	case errors.As(err, &partial):
		return CodePartial
	case errors.As(err, &stale):
		return CodeStaleIndex
	case errors.As(err, &storeWrite):
		return CodeStoreWrite
	default:
		return CodeInternal
	}
}

// HTTPStatus maps an error code to the response status used by the action
// endpoint.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConcurrency, CodeStaleIndex:
		return http.StatusConflict
	case CodePartial:
		return http.StatusMultiStatus
	case CodeStoreWrite:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
