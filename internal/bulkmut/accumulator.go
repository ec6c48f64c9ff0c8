package bulkmut

import (
	"context"
	"fmt"

	"github.com/mediabuy/adbatch/internal/adops"
)

const (
	// DefaultChunkSize is the remote upload limit per request.
	DefaultChunkSize = 5000
	// defaultUploadAttempts is how many times one chunk upload is tried.
	defaultUploadAttempts = 3
)

// AccumulatorOptions configures a batch accumulator.
type AccumulatorOptions struct {
	ChunkSize int
	Retry     *Policy
}

// Accumulator buffers remote envelopes for one bulk job and uploads them
// grouped by discriminator. Kinds keep first-seen order and envelopes keep
// insertion order within their kind, which is what lets the remote system
// resolve temporary ids: a minted budget id is always defined before the
// campaign that references it.
type Accumulator struct {
	service   EntityService
	job       Job
	chunkSize int
	retry     Policy

	kinds  []string
	groups map[string][]adops.Envelope
	seq    int
}

func NewAccumulator(service EntityService, job Job, opts AccumulatorOptions) *Accumulator {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	retry := FixedPolicy(defaultUploadAttempts)
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &Accumulator{
		service:   service,
		job:       job,
		chunkSize: chunkSize,
		retry:     retry,
		groups:    make(map[string][]adops.Envelope),
	}
}

// Job returns the remote job this accumulator uploads into.
func (a *Accumulator) Job() Job { return a.job }

// Add buffers envelopes for upload. Safe to call with the output of a
// dispatcher, including a nil slice from a suppressed operation.
func (a *Accumulator) Add(envelopes ...adops.Envelope) {
	for _, envelope := range envelopes {
		if _, seen := a.groups[envelope.Kind]; !seen {
			a.kinds = append(a.kinds, envelope.Kind)
		}
		a.groups[envelope.Kind] = append(a.groups[envelope.Kind], envelope)
	}
}

// Len reports the number of buffered envelopes.
func (a *Accumulator) Len() int {
	total := 0
	for _, group := range a.groups {
		total += len(group)
	}
	return total
}

// Flush uploads everything buffered, in chunks of at most the configured
// size, and marks the last chunk final so the remote system starts the job.
// The buffer is consumed even when an upload ultimately fails, so a caller
// retrying at a higher level starts clean.
func (a *Accumulator) Flush(ctx context.Context) error {
	ordered := make([]adops.Envelope, 0, a.Len())
	for _, kind := range a.kinds {
		ordered = append(ordered, a.groups[kind]...)
	}
	a.kinds = nil
	a.groups = make(map[string][]adops.Envelope)

	if len(ordered) == 0 {
		return nil
	}
	for start := 0; start < len(ordered); start += a.chunkSize {
		end := start + a.chunkSize
		if end > len(ordered) {
			end = len(ordered)
		}
		chunk := ordered[start:end]
		final := end == len(ordered)
		seq := a.seq
		err := a.retry.Do(ctx, func() error {
			return a.service.UploadChunk(ctx, a.job, seq, chunk, final)
		})
		if err != nil {
			return fmt.Errorf("upload chunk %d of job %d: %w", seq, a.job.ID, err)
		}
		a.seq++
	}
	return nil
}
