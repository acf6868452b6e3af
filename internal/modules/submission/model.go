// README: Submission state machine, boundary interfaces and events.
package submission

import (
	"context"
	"errors"
	"time"

	"trail/internal/modules/response"
	"trail/internal/modules/visited"
	"trail/internal/types"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// AllowedTransitions represents the submission state flow as code.
var AllowedTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseSubmitting},
	PhaseSubmitting: {PhaseSucceeded, PhaseFailed},
	PhaseSucceeded:  {PhaseIdle},
	PhaseFailed:     {PhaseSubmitting, PhaseIdle},
}

func CanTransition(from, to Phase) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, p := range next {
		if p == to {
			return true
		}
	}
	return false
}

var (
	ErrInvalidState    = errors.New("invalid submission state transition")
	ErrInFlight        = errors.New("submission already in progress")
	ErrNotSubmittable  = errors.New("response is empty")
	ErrDetached        = errors.New("task is no longer active")
	ErrNoFailedUploads = errors.New("no failed uploads to retry")
)

// Reason explains a failed (or partially failed) submission.
type Reason struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable"`
}

type UploadFailure struct {
	FileID    types.ID `json:"file_id"`
	Name      string   `json:"name"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
}

// State is replaced on every change; Version increases monotonically.
type State struct {
	Phase         Phase           `json:"phase"`
	Reason        *Reason         `json:"reason,omitempty"`
	ResponseID    types.ID        `json:"response_id,omitempty"`
	FailedUploads []UploadFailure `json:"failed_uploads,omitempty"`
	Version       uint64          `json:"version"`
}

type UploadStage string

const (
	UploadStarted UploadStage = "upload_started"
	UploadDone    UploadStage = "upload_done"
	UploadFailed  UploadStage = "upload_failed"
)

type UploadEvent struct {
	ResponseID types.ID    `json:"response_id"`
	FileID     types.ID    `json:"file_id"`
	Name       string      `json:"name"`
	Stage      UploadStage `json:"stage"`
	Error      string      `json:"error,omitempty"`
}

// Event is one journaled state transition.
type Event struct {
	ID         int64
	UserID     types.ID
	TaskID     types.ID
	ResponseID *types.ID
	FromPhase  Phase
	ToPhase    Phase
	Reason     *string
	CreatedAt  time.Time
}

type CreateRequest struct {
	TaskID     types.ID
	UserID     types.ID
	Text       string
	LocationID types.ID
	Coordinate *types.Point
	Address    string
}

// UploadTarget tells where and how to send one file's bytes.
type UploadTarget struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Store is the external store surface used by a submission.
type Store interface {
	CreateResponse(ctx context.Context, req CreateRequest) (types.ID, error)
	RequestFileUploadTarget(ctx context.Context, responseID types.ID, f response.File) (UploadTarget, error)
	UploadFile(ctx context.Context, target UploadTarget, f response.File) error
	FetchTaskProgress(ctx context.Context, taskID types.ID) (visited.Progress, error)
}

// Visits is the optimistic progress surface of the visited tracker.
type Visits interface {
	MarkVisited(ref types.ID) visited.Progress
	Revert(ref types.ID) visited.Progress
	Reconcile(p visited.Progress) visited.Progress
}

// Drafts is the composer surface used by a submission.
type Drafts interface {
	Snapshot() response.Draft
	Reset()
}

type Journal interface {
	Append(ctx context.Context, e Event) error
}

// Guard is an in-flight lock shared between API replicas.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Geocoder interface {
	ReverseGeocode(ctx context.Context, pt types.Point) (string, error)
}

type Config struct {
	UploadParallelism int
	SubmitTimeout     time.Duration
	SuccessDisplay    time.Duration
}

func DefaultConfig() Config {
	return Config{UploadParallelism: 1, SubmitTimeout: 30 * time.Second, SuccessDisplay: 1500 * time.Millisecond}
}
