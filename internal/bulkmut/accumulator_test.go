package bulkmut

import (
	"context"
	"errors"
	"testing"

	"github.com/mediabuy/adbatch/internal/adops"
)

type uploadCall struct {
	seq   int
	kinds []string
	ids   []int64
	final bool
}

func recordUploads(calls *[]uploadCall) func(Job, int, []adops.Envelope, bool) error {
	return func(_ Job, seq int, envelopes []adops.Envelope, final bool) error {
		call := uploadCall{seq: seq, final: final}
		for _, envelope := range envelopes {
			call.kinds = append(call.kinds, envelope.Kind)
			call.ids = append(call.ids, envelope.Operand["id"].(int64))
		}
		*calls = append(*calls, call)
		return nil
	}
}

func TestAccumulatorGroupsByKindFirstSeen(t *testing.T) {
	var calls []uploadCall
	service := &fakeService{uploadChunk: recordUploads(&calls)}
	acc := NewAccumulator(service, Job{ID: 1, ClientID: 9}, AccumulatorOptions{})

	acc.Add(envelopeOf("AdGroupOperation", 1))
	acc.Add(envelopeOf("AdGroupOperation", 2))
	acc.Add(envelopeOf("AdGroupCriterionOperation", 3))
	acc.Add(envelopeOf("AdGroupOperation", 4))

	if err := acc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(calls) != 1 || !calls[0].final {
		t.Fatalf("calls = %+v, want one final chunk", calls)
	}
	wantKinds := []string{"AdGroupOperation", "AdGroupOperation", "AdGroupOperation", "AdGroupCriterionOperation"}
	for i, kind := range wantKinds {
		if calls[0].kinds[i] != kind {
			t.Fatalf("kinds = %v, want %v", calls[0].kinds, wantKinds)
		}
	}
	wantIDs := []int64{1, 2, 4, 3}
	for i, id := range wantIDs {
		if calls[0].ids[i] != id {
			t.Fatalf("ids = %v, want %v", calls[0].ids, wantIDs)
		}
	}
}

func TestAccumulatorChunksUploads(t *testing.T) {
	var calls []uploadCall
	service := &fakeService{uploadChunk: recordUploads(&calls)}
	acc := NewAccumulator(service, Job{ID: 1}, AccumulatorOptions{ChunkSize: 2})

	for i := int64(1); i <= 5; i++ {
		acc.Add(envelopeOf("AdGroupOperation", i))
	}
	if err := acc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("got %d chunks, want 3", len(calls))
	}
	for i, call := range calls {
		if call.seq != i {
			t.Fatalf("chunk %d has seq %d", i, call.seq)
		}
		if call.final != (i == 2) {
			t.Fatalf("chunk %d final = %v", i, call.final)
		}
	}
	if len(calls[2].ids) != 1 || calls[2].ids[0] != 5 {
		t.Fatalf("last chunk = %+v", calls[2])
	}
}

func TestAccumulatorRetriesTransientUpload(t *testing.T) {
	attempts := 0
	service := &fakeService{
		uploadChunk: func(Job, int, []adops.Envelope, bool) error {
			attempts++
			if attempts < 3 {
				return &HTTPError{StatusCode: 503, Message: "busy"}
			}
			return nil
		},
	}
	acc := NewAccumulator(service, Job{ID: 1}, AccumulatorOptions{})
	acc.Add(envelopeOf("AdGroupOperation", 1))
	if err := acc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestAccumulatorGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	service := &fakeService{
		uploadChunk: func(Job, int, []adops.Envelope, bool) error {
			attempts++
			return &HTTPError{StatusCode: 503, Message: "busy"}
		},
	}
	acc := NewAccumulator(service, Job{ID: 1}, AccumulatorOptions{})
	acc.Add(envelopeOf("AdGroupOperation", 1))
	err := acc.Flush(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if acc.Len() != 0 {
		t.Fatalf("buffer not consumed after failed flush")
	}
}

func TestAccumulatorPermanentFailureNotRetried(t *testing.T) {
	attempts := 0
	service := &fakeService{
		uploadChunk: func(Job, int, []adops.Envelope, bool) error {
			attempts++
			return &HTTPError{StatusCode: 400, Message: "bad chunk"}
		},
	}
	acc := NewAccumulator(service, Job{ID: 1}, AccumulatorOptions{})
	acc.Add(envelopeOf("AdGroupOperation", 1))
	if err := acc.Flush(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestAccumulatorEmptyFlushIsNoop(t *testing.T) {
	service := &fakeService{} // any upload would error
	acc := NewAccumulator(service, Job{ID: 1}, AccumulatorOptions{})
	if err := acc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
