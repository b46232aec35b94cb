package database

import (
	"encoding/json"
	"time"
)

// ContextType is the category of location a reference was found in.
type ContextType string

const (
	ContextContent        ContextType = "content"
	ContextStructuredMeta ContextType = "structured_meta"
	ContextConfigRecord   ContextType = "config_record"
)

// ContextTypes lists every context type in reporting order.
var ContextTypes = []ContextType{ContextContent, ContextStructuredMeta, ContextConfigRecord}

// Valid reports whether c is one of the known context types.
func (c ContextType) Valid() bool {
	switch c {
	case ContextContent, ContextStructuredMeta, ContextConfigRecord:
		return true
	}
	return false
}

// Encoding describes how a location record's value is stored.
type Encoding string

const (
	EncodingText Encoding = "text"
	EncodingJSON Encoding = "json"
)

// Asset is a stored media object.
type Asset struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"`
	MimeType    string    `json:"mimeType"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"contentHash,omitempty"`
	Fingerprint *uint64   `json:"fingerprint,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Dirty       bool      `json:"dirty"`
	IndexedAt   time.Time `json:"indexedAt,omitzero"`

	// DirtyGen is the raw dirty counter. It is bumped on every invalidation
	// so an index write only clears the mark it actually observed.
	DirtyGen int64 `json:"-"`
}

// Record is one location record in the content store: a document body, a
// structured metadata blob or a configuration value.
type Record struct {
	ID          int64       `json:"id"`
	ContextType ContextType `json:"contextType"`
	Owner       string      `json:"owner"`
	FieldKey    string      `json:"fieldKey"`
	Encoding    Encoding    `json:"encoding"`
	Value       string      `json:"value"`
	Version     int64       `json:"version"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// IndexEntry is one concrete occurrence of an asset reference.
type IndexEntry struct {
	AssetID      int64       `json:"assetId"`
	AssetPath    string      `json:"assetPath"`
	ContextType  ContextType `json:"contextType"`
	LocationID   int64       `json:"locationId"`
	FieldKey     string      `json:"fieldKey"`
	RawReference string      `json:"rawReference"`
}

// UsageIndexSummary is the derived aggregate over the usage index.
type UsageIndexSummary struct {
	TotalEntries    int                 `json:"total_entries"`
	IndexedAssets   int                 `json:"indexed_assets"`
	ByContext       map[ContextType]int `json:"by_context"`
	OrphanedEntries int                 `json:"orphaned_entries"`
	DerivedCount    int                 `json:"derived_count"`
	DirtyAssets     int                 `json:"dirty_assets"`
	TotalAssets     int                 `json:"total_assets"`
	LastUpdate      time.Time           `json:"last_update,omitzero"`
}

// Orphan groups the index entries of an asset that no longer exists.
type Orphan struct {
	AssetID       int64  `json:"asset_id"`
	LastKnownPath string `json:"last_known_path"`
	Entries       int    `json:"entries"`
}

// DerivedCopy links an alternate-format asset to the asset it was derived from.
type DerivedCopy struct {
	AssetID       int64 `json:"asset_id"`
	ParentAssetID int64 `json:"parent_asset_id"`
}

// JobStatus is the lifecycle state of a persisted job.
type JobStatus string

const (
	// JobIdle marks a family record that only carries a schedule.
	JobIdle      JobStatus = "idle"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobComplete  JobStatus = "complete"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Active reports whether a job in this status holds its family's lock.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobRunning || s == JobPaused
}

// JobError is one entry in a job's error list.
type JobError struct {
	AssetID int64  `json:"asset_id,omitempty"`
	Item    string `json:"item,omitempty"`
	Reason  string `json:"reason"`
}

// JobState is the persisted record of one job family. Version is bumped on
// every write and used for compare-and-swap.
type JobState struct {
	Family          string          `json:"family"`
	JobID           string          `json:"job_id"`
	Status          JobStatus       `json:"status"`
	Mode            string          `json:"mode,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	Cursor          string          `json:"cursor"`
	Processed       int             `json:"processed"`
	Total           int             `json:"total"`
	Changed         int             `json:"changed"`
	Errors          []JobError      `json:"errors"`
	Messages        []string        `json:"messages"`
	PauseRequested  bool            `json:"pause_requested"`
	CancelRequested bool            `json:"cancel_requested"`
	LeaseOwner      string          `json:"-"`
	LeaseUntil      time.Time       `json:"-"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at,omitzero"`
	StartedAt       time.Time       `json:"started_at,omitzero"`
	UpdatedAt       time.Time       `json:"updated_at,omitzero"`
	FinishedAt      time.Time       `json:"finished_at,omitzero"`
	NextRunAt       time.Time       `json:"next_run_at,omitzero"`
}

// RenameSuggestion is an accepted new name queued for an asset.
type RenameSuggestion struct {
	AssetID       int64     `json:"asset_id"`
	SuggestedName string    `json:"suggested_name"`
	CreatedAt     time.Time `json:"created_at"`
}
