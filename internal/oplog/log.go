package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// RecordStatus is the submission state of a logged operation.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordSubmitted RecordStatus = "submitted"
	RecordFailed    RecordStatus = "failed"
)

// Record is one durable generic operation. Operation holds the raw JSON
// record exactly as it was ingested; parsing happens at dispatch time.
type Record struct {
	ID        int64           `json:"id"`
	ClientID  int64           `json:"client_id"`
	Operation json.RawMessage `json:"operation"`
	Status    RecordStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobStatusEntry is one observed state of a bulk job, written back while a
// run polls so operators can inspect progress after the fact.
type JobStatusEntry struct {
	RunID     string    `json:"run_id"`
	ClientID  int64     `json:"client_id"`
	JobID     int64     `json:"job_id"`
	Status    string    `json:"status"`
	Completed int64     `json:"completed"`
	Estimated int64     `json:"estimated"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Log is the durable operation log the pipeline drains. Records keep
// insertion order; implementations must be safe for concurrent use.
type Log interface {
	// Append stores one raw operation record and returns its id.
	Append(ctx context.Context, clientID int64, operation json.RawMessage) (int64, error)
	// PendingRecords returns every record not yet submitted, in insertion
	// order.
	PendingRecords(ctx context.Context) ([]Record, error)
	// MarkRecords moves the given records to a new status.
	MarkRecords(ctx context.Context, status RecordStatus, recordIDs ...int64) error
	// AppendJobStatus records one job state observation.
	AppendJobStatus(ctx context.Context, entry JobStatusEntry) error
	// JobHistory returns the recorded observations for one account, oldest
	// first. clientID zero means all accounts.
	JobHistory(ctx context.Context, clientID int64) ([]JobStatusEntry, error)
	Close() error
}
