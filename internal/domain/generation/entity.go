package generation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultDurationSeconds = 5
	DefaultAspectRatio     = "16:9"
	PortraitAspectRatio    = "9:16"
)

// ProgressFunc receives a best-effort completion percentage in [0,100].
type ProgressFunc func(percent float64)

// SourceImage is an optional still the video is animated from.
type SourceImage struct {
	Data     []byte
	MimeType string
	Filename string
}

// Request is one generation attempt. It is not mutated after submission.
type Request struct {
	Prompt          string       `json:"prompt" validate:"notblank,max=4000"`
	Image           *SourceImage `json:"-"`
	AspectRatio     string       `json:"aspect_ratio" validate:"aspect_ratio"`
	DurationSeconds int          `json:"duration_seconds"`
}

// Metadata accompanies a successful result.
type Metadata struct {
	DurationSeconds float64         `json:"duration"`
	AspectRatio     string          `json:"aspect_ratio"`
	CreditsCharged  int             `json:"credits_charged"`
	ProviderID      string          `json:"provider_id"`
	Handle          string          `json:"operation,omitempty"`
	PollAttempts    int             `json:"poll_attempts"`
	RawResponse     json.RawMessage `json:"raw_response,omitempty"`
}

// Result is the terminal outcome of one invocation.
type Result struct {
	Success  bool       `json:"success"`
	VideoURL string     `json:"video_url,omitempty"`
	Metadata *Metadata  `json:"metadata,omitempty"`
	Error    string     `json:"error,omitempty"`
	Kind     ErrorKind  `json:"error_kind,omitempty"`
	VideoID  *uuid.UUID `json:"video_id,omitempty"`

	Failure *Error `json:"-"`
}

func failedResult(err *Error) Result {
	return Result{Success: false, Error: err.Error(), Kind: err.Kind, Failure: err}
}

// OffloadStatus tracks moving inline video bytes into object storage.
type OffloadStatus string

const (
	OffloadNone       OffloadStatus = "none"
	OffloadPending    OffloadStatus = "pending"
	OffloadProcessing OffloadStatus = "processing"
	OffloadDone       OffloadStatus = "done"
	OffloadFailed     OffloadStatus = "failed"
)

// Video is a gallery entry for a successful generation.
type Video struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	AccountID       uuid.UUID     `db:"account_id" json:"account_id"`
	Prompt          string        `db:"prompt" json:"prompt"`
	VideoURL        string        `db:"video_url" json:"video_url"`
	CoverURL        *string       `db:"cover_url" json:"cover_url,omitempty"`
	AspectRatio     string        `db:"aspect_ratio" json:"aspect_ratio"`
	ProviderID      string        `db:"provider_id" json:"provider_id"`
	CreditsCharged  int           `db:"credits_charged" json:"credits_charged"`
	OffloadStatus   OffloadStatus `db:"offload_status" json:"offload_status"`
	OffloadAttempts int           `db:"offload_attempts" json:"-"`
	OffloadError    *string       `db:"offload_error" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// JobStatus is the lifecycle of a background generation.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is the API view of a generation running in the background.
type Job struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Prompt    string    `json:"prompt"`
	Status    JobStatus `json:"status"`
	Progress  float64   `json:"progress"`
	Result    *Result   `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
