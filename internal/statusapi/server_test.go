package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mediabuy/adbatch/internal/bulkmut"
	"github.com/mediabuy/adbatch/internal/oplog"
)

type fakeJobs struct {
	jobs    []bulkmut.Job
	pending int
}

func (f *fakeJobs) Snapshot() []bulkmut.Job { return f.jobs }
func (f *fakeJobs) PendingCount() int       { return f.pending }

func TestHealthz(t *testing.T) {
	server := NewServer(&fakeJobs{}, nil, ServerConfig{})
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestJobsSnapshot(t *testing.T) {
	jobs := &fakeJobs{
		pending: 1,
		jobs: []bulkmut.Job{
			{ID: 10, ClientID: 1, Status: bulkmut.StatusActive, Progress: bulkmut.Progress{Completed: 2, Estimated: 5}},
			{ID: 11, ClientID: 1, Status: bulkmut.StatusDone},
		},
	}
	server := NewServer(jobs, nil, ServerConfig{})
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp jobsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pending != 1 || len(resp.Jobs) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestJobsHistoryFilter(t *testing.T) {
	log := oplog.NewMemoryLog()
	ctx := context.Background()
	_ = log.AppendJobStatus(ctx, oplog.JobStatusEntry{RunID: "r", ClientID: 1, JobID: 10, Status: "DONE"})
	_ = log.AppendJobStatus(ctx, oplog.JobStatusEntry{RunID: "r", ClientID: 2, JobID: 20, Status: "DONE"})

	server := NewServer(&fakeJobs{}, log, ServerConfig{})
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/history?client_id=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		History []oplog.JobStatusEntry `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.History) != 1 || resp.History[0].JobID != 20 {
		t.Fatalf("history = %+v", resp.History)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/history?client_id=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := NewServer(&fakeJobs{}, nil, ServerConfig{})
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStreamEndsWhenNothingPending(t *testing.T) {
	jobs := &fakeJobs{
		pending: 0,
		jobs:    []bulkmut.Job{{ID: 10, ClientID: 1, Status: bulkmut.StatusDone}},
	}
	server := NewServer(jobs, nil, ServerConfig{StreamInterval: 10 * time.Millisecond})
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/jobs/stream"
	var got []bulkmut.Job
	err := StreamJobs(ctx, url, func(pending int, jobs []bulkmut.Job) {
		got = jobs
	})
	if err != nil {
		t.Fatalf("StreamJobs: %v", err)
	}
	if len(got) != 1 || got[0].Status != bulkmut.StatusDone {
		t.Fatalf("snapshot = %+v", got)
	}
}
