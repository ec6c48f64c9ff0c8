package bulkmut

import (
	"context"
	"fmt"

	"github.com/mediabuy/adbatch/internal/adops"
)

// fakeService implements EntityService with per-test function fields. Unset
// fields fail loudly so a test cannot silently exercise the wrong call.
type fakeService struct {
	createJob   func(clientID int64) (Job, error)
	uploadChunk func(job Job, seq int, envelopes []adops.Envelope, final bool) error
	jobStatuses func(clientID int64, jobIDs []int64) ([]Job, error)
	cancelJob   func(job Job) error
	mutate      func(clientID int64, kind string, envelopes []adops.Envelope) (MutateResult, error)
	query       func(clientID int64, entity string, selector Selector) (QueryPage, error)
}

func (f *fakeService) CreateJob(_ context.Context, clientID int64) (Job, error) {
	if f.createJob == nil {
		return Job{}, fmt.Errorf("unexpected CreateJob")
	}
	return f.createJob(clientID)
}

func (f *fakeService) UploadChunk(_ context.Context, job Job, seq int, envelopes []adops.Envelope, final bool) error {
	if f.uploadChunk == nil {
		return fmt.Errorf("unexpected UploadChunk")
	}
	return f.uploadChunk(job, seq, envelopes, final)
}

func (f *fakeService) JobStatuses(_ context.Context, clientID int64, jobIDs []int64) ([]Job, error) {
	if f.jobStatuses == nil {
		return nil, fmt.Errorf("unexpected JobStatuses")
	}
	return f.jobStatuses(clientID, jobIDs)
}

func (f *fakeService) CancelJob(_ context.Context, job Job) error {
	if f.cancelJob == nil {
		return fmt.Errorf("unexpected CancelJob")
	}
	return f.cancelJob(job)
}

func (f *fakeService) Mutate(_ context.Context, clientID int64, kind string, envelopes []adops.Envelope) (MutateResult, error) {
	if f.mutate == nil {
		return MutateResult{}, fmt.Errorf("unexpected Mutate")
	}
	return f.mutate(clientID, kind, envelopes)
}

func (f *fakeService) Query(_ context.Context, clientID int64, entity string, selector Selector) (QueryPage, error) {
	if f.query == nil {
		return QueryPage{}, fmt.Errorf("unexpected Query")
	}
	return f.query(clientID, entity, selector)
}

func envelopeOf(kind string, id int64) adops.Envelope {
	return adops.Envelope{Kind: kind, Verb: adops.VerbAdd, Operand: map[string]any{"id": id}}
}
