package bulkmut

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediabuy/adbatch/internal/adops"
)

// Logger receives progress lines from long-running components.
type Logger interface {
	Printf(format string, args ...any)
}

// JobStatus is the remote lifecycle state of a bulk mutation job.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusActive    JobStatus = "ACTIVE"
	StatusCanceling JobStatus = "CANCELING"
	StatusDone      JobStatus = "DONE"
	StatusCanceled  JobStatus = "CANCELED"
)

// Terminal reports whether the job can no longer change state. A canceled
// job is a normal outcome, not an error.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusCanceled
}

// Progress is the remote system's estimate of how far a job has advanced.
type Progress struct {
	Completed int64 `json:"completed"`
	Estimated int64 `json:"estimated"`
}

// Job is one remote bulk mutation job for one account.
type Job struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	Status    JobStatus `json:"status"`
	Progress  Progress  `json:"progress"`
	UploadURL string    `json:"upload_url,omitempty"`
}

// PartialFailure reports one failed envelope within an otherwise accepted
// synchronous mutation. Index is the position within the submitted batch.
type PartialFailure struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MutateResult is the remote response to a synchronous mutation batch.
type MutateResult struct {
	Entities []map[string]any `json:"entities"`
	Failures []PartialFailure `json:"failures"`
}

// Predicate restricts a read to entities matching a field condition.
type Predicate struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

// Selector describes one paginated read. StartIndex and PageSize form the
// cursor and are advanced in place by the pager.
type Selector struct {
	Fields     []string    `json:"fields"`
	Predicates []Predicate `json:"predicates,omitempty"`
	Ordering   []string    `json:"ordering,omitempty"`
	StartIndex int         `json:"start_index"`
	PageSize   int         `json:"page_size"`
}

// QueryPage is one page of a paginated read.
type QueryPage struct {
	Entries      []map[string]any `json:"entries"`
	TotalEntries int              `json:"total_entries"`
}

// EntityService is the remote account-management API surface the pipeline
// needs. Implementations must be safe for concurrent use across accounts.
type EntityService interface {
	// CreateJob opens a new bulk job for the account.
	CreateJob(ctx context.Context, clientID int64) (Job, error)
	// UploadChunk appends one contiguous slice of envelopes to the job's
	// upload stream. seq is zero-based; final marks the last chunk.
	UploadChunk(ctx context.Context, job Job, seq int, envelopes []adops.Envelope, final bool) error
	// JobStatuses fetches the current state of several jobs belonging to
	// the same account in one request.
	JobStatuses(ctx context.Context, clientID int64, jobIDs []int64) ([]Job, error)
	// CancelJob asks the remote system to stop a job.
	CancelJob(ctx context.Context, job Job) error
	// Mutate applies one batch of same-kind envelopes synchronously.
	Mutate(ctx context.Context, clientID int64, kind string, envelopes []adops.Envelope) (MutateResult, error)
	// Query reads one page of entities.
	Query(ctx context.Context, clientID int64, entity string, selector Selector) (QueryPage, error)
}

// ErrJobNotFound is returned when the remote system no longer knows a job id.
var ErrJobNotFound = errors.New("job not found")

// HTTPError is a non-2xx remote response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote call failed: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote call failed: status=%d message=%s", e.StatusCode, e.Message)
}

// Transient reports whether retrying the same request may succeed.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

// TransientError marks any failure worth retrying that is not an HTTP status,
// such as a dropped connection mid-upload.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	var transient *TransientError
	return errors.As(err, &transient)
}
