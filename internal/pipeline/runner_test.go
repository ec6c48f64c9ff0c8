package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mediabuy/adbatch/internal/adops"
	"github.com/mediabuy/adbatch/internal/bulkmut"
	"github.com/mediabuy/adbatch/internal/oplog"
)

// stubService is an in-memory remote: jobs complete as soon as they are
// polled, uploads are recorded per job.
type stubService struct {
	mu            sync.Mutex
	nextJobID     int64
	createErrs    map[int64]error
	uploadsByJob  map[int64][]adops.Envelope
	mutateResults []bulkmut.MutateResult
	mutated       [][]adops.Envelope
	createdFor    []int64
	statusPolls   int
}

func newStubService() *stubService {
	return &stubService{
		createErrs:   map[int64]error{},
		uploadsByJob: map[int64][]adops.Envelope{},
	}
}

func (s *stubService) CreateJob(_ context.Context, clientID int64) (bulkmut.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErrs[clientID]; err != nil {
		return bulkmut.Job{}, err
	}
	s.nextJobID++
	s.createdFor = append(s.createdFor, clientID)
	return bulkmut.Job{ID: s.nextJobID, ClientID: clientID, Status: bulkmut.StatusPending}, nil
}

func (s *stubService) UploadChunk(_ context.Context, job bulkmut.Job, _ int, envelopes []adops.Envelope, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadsByJob[job.ID] = append(s.uploadsByJob[job.ID], envelopes...)
	return nil
}

func (s *stubService) JobStatuses(_ context.Context, clientID int64, jobIDs []int64) ([]bulkmut.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusPolls++
	jobs := make([]bulkmut.Job, 0, len(jobIDs))
	for _, id := range jobIDs {
		total := int64(len(s.uploadsByJob[id]))
		jobs = append(jobs, bulkmut.Job{
			ID:       id,
			ClientID: clientID,
			Status:   bulkmut.StatusDone,
			Progress: bulkmut.Progress{Completed: total, Estimated: total},
		})
	}
	return jobs, nil
}

func (s *stubService) CancelJob(context.Context, bulkmut.Job) error { return nil }

func (s *stubService) Mutate(_ context.Context, _ int64, _ string, envelopes []adops.Envelope) (bulkmut.MutateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutated = append(s.mutated, envelopes)
	if len(s.mutateResults) > 0 {
		result := s.mutateResults[0]
		s.mutateResults = s.mutateResults[1:]
		return result, nil
	}
	return bulkmut.MutateResult{}, nil
}

func (s *stubService) Query(context.Context, int64, string, bulkmut.Selector) (bulkmut.QueryPage, error) {
	return bulkmut.QueryPage{}, nil
}

func appendRecord(t *testing.T, log oplog.Log, clientID int64, op map[string]any) int64 {
	t.Helper()
	op["client_id"] = clientID
	raw, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	id, err := log.Append(context.Background(), clientID, raw)
	if err != nil {
		t.Fatalf("append record: %v", err)
	}
	return id
}

func instantSleep(context.Context, time.Duration) error { return nil }

func TestRunnerAsyncOneJobPerAccount(t *testing.T) {
	service := newStubService()
	log := oplog.NewMemoryLog()
	appendRecord(t, log, 1, map[string]any{"object_type": "adgroup", "operator": "ADD", "campaign_id": 10, "adgroup_id": 100})
	appendRecord(t, log, 1, map[string]any{"object_type": "adgroup", "operator": "ADD", "campaign_id": 10, "adgroup_id": 101})
	appendRecord(t, log, 2, map[string]any{"object_type": "adgroup", "operator": "ADD", "campaign_id": 20, "adgroup_id": 200})

	runner := NewRunner(service, log, Options{Sleep: instantSleep})
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.AccountErrors) != 0 {
		t.Fatalf("account errors = %v", result.AccountErrors)
	}
	if len(service.createdFor) != 2 {
		t.Fatalf("jobs created for %v, want 2 accounts", service.createdFor)
	}
	if result.Submitted != 3 {
		t.Fatalf("submitted = %d, want 3", result.Submitted)
	}
	if len(result.Jobs) != 2 {
		t.Fatalf("finished jobs = %+v", result.Jobs)
	}
	for _, job := range result.Jobs {
		if job.Status != bulkmut.StatusDone {
			t.Fatalf("job %d status = %s", job.ID, job.Status)
		}
	}

	pending, err := log.PendingRecords(context.Background())
	if err != nil {
		t.Fatalf("PendingRecords: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after run = %+v", pending)
	}
	history, err := log.JobHistory(context.Background(), 0)
	if err != nil {
		t.Fatalf("JobHistory: %v", err)
	}
	if len(history) == 0 || history[0].RunID != result.RunID {
		t.Fatalf("history = %+v", history)
	}
}

func TestRunnerNoJobWhenNothingDispatchable(t *testing.T) {
	service := newStubService()
	log := oplog.NewMemoryLog()
	appendRecord(t, log, 1, map[string]any{"object_type": "adgroup", "operator": "REMOVE"})

	runner := NewRunner(service, log, Options{Sleep: instantSleep})
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(service.createdFor) != 0 {
		t.Fatalf("jobs created for %v, want none", service.createdFor)
	}
	if result.Skipped != 1 || result.Submitted != 0 {
		t.Fatalf("result = %+v, want one skipped record", result)
	}
}

func TestRunnerAccountFailureDoesNotBlockOthers(t *testing.T) {
	service := newStubService()
	service.createErrs[1] = fmt.Errorf("quota exhausted")
	log := oplog.NewMemoryLog()
	appendRecord(t, log, 1, map[string]any{"object_type": "adgroup", "operator": "ADD", "adgroup_id": 100})
	appendRecord(t, log, 2, map[string]any{"object_type": "adgroup", "operator": "ADD", "adgroup_id": 200})

	runner := NewRunner(service, log, Options{Sleep: instantSleep})
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AccountErrors[1] == nil {
		t.Fatalf("expected error for account 1, got %v", result.AccountErrors)
	}
	if len(result.Jobs) != 1 || result.Jobs[0].ClientID != 2 {
		t.Fatalf("jobs = %+v, want account 2 only", result.Jobs)
	}
}

func TestRunnerSyncModeCorrelatesFailures(t *testing.T) {
	service := newStubService()
	service.mutateResults = []bulkmut.MutateResult{{
		Failures: []bulkmut.PartialFailure{{Index: 1, Code: "DUPLICATE", Message: "exists"}},
	}}
	log := oplog.NewMemoryLog()
	appendRecord(t, log, 1, map[string]any{"object_type": "label", "operator": "ADD", "label": "alpha"})
	appendRecord(t, log, 1, map[string]any{"object_type": "label", "operator": "ADD", "label": "beta"})
	appendRecord(t, log, 1, map[string]any{"object_type": "label", "operator": "ADD", "label": "gamma"})

	runner := NewRunner(service, log, Options{Mode: adops.ModeSync, Sleep: instantSleep})
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Submitted != 2 {
		t.Fatalf("submitted = %d, want 2", result.Submitted)
	}
	if len(result.Failed) != 1 || result.Failed[0].Operation.Fields["label"] != "beta" {
		t.Fatalf("failed = %+v, want label beta", result.Failed)
	}
	if len(service.mutated) != 1 || len(service.mutated[0]) != 3 {
		t.Fatalf("mutated = %v batches", len(service.mutated))
	}
}

func TestRunnerTempIDsIsolatedPerAccount(t *testing.T) {
	service := newStubService()
	log := oplog.NewMemoryLog()
	appendRecord(t, log, 1, map[string]any{"object_type": "campaign", "operator": "ADD", "budget": 5.0, "campaign_name": "a"})
	appendRecord(t, log, 2, map[string]any{"object_type": "campaign", "operator": "ADD", "budget": 5.0, "campaign_name": "b"})

	runner := NewRunner(service, log, Options{Sleep: instantSleep})
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Both accounts minted their first temporary id independently.
	for jobID, envelopes := range service.uploadsByJob {
		if len(envelopes) != 2 {
			t.Fatalf("job %d uploads = %d envelopes, want budget+campaign", jobID, len(envelopes))
		}
		budgetID, ok := envelopes[0].Operand["budgetId"].(int64)
		if !ok || budgetID != -1 {
			t.Fatalf("job %d budget id = %v, want -1", jobID, envelopes[0].Operand["budgetId"])
		}
	}
}
