package bulkmut

import (
	"context"
	"fmt"
	"time"

	"github.com/mediabuy/adbatch/internal/adops"
)

const (
	// DefaultSyncBatchSize is the remote limit on envelopes per synchronous
	// mutation request.
	DefaultSyncBatchSize = 1000
	defaultSyncAttempts  = 4
	defaultSyncBackoff   = time.Minute
)

// FailedOperation pairs a partial failure with the generic operation that
// produced the rejected envelope.
type FailedOperation struct {
	Operation adops.Operation
	Code      string
	Message   string
}

// SyncMutatorOptions configures a synchronous mutator.
type SyncMutatorOptions struct {
	BatchSize int
	Retry     *Policy
	Logger    Logger
}

// SyncMutator applies generic operations for one account through the
// synchronous mutation endpoint. Envelopes batch up while they share a
// discriminator; a kind change or a full batch triggers a flush, since the
// remote endpoint accepts one kind per request. Not safe for concurrent use.
type SyncMutator struct {
	service    EntityService
	dispatcher *adops.Dispatcher
	clientID   int64
	batchSize  int
	retry      Policy
	logger     Logger

	kind      string
	envelopes []adops.Envelope
	origins   []adops.Operation
	failed    []FailedOperation
	applied   int
}

func NewSyncMutator(service EntityService, clientID int64, opts SyncMutatorOptions) *SyncMutator {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultSyncBatchSize
	}
	retry := LinearPolicy(defaultSyncAttempts, defaultSyncBackoff)
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &SyncMutator{
		service:    service,
		dispatcher: adops.NewDispatcher(),
		clientID:   clientID,
		batchSize:  batchSize,
		retry:      retry,
		logger:     opts.Logger,
	}
}

// Apply dispatches one generic operation and buffers its envelopes.
// Suppressed operations are a no-op. Dispatch failures surface immediately;
// remote partial failures accumulate and are read back through Failed after
// the final Flush.
func (m *SyncMutator) Apply(ctx context.Context, op adops.Operation) error {
	envelopes, err := m.dispatcher.Dispatch(op, adops.ModeSync)
	if err != nil {
		return err
	}
	for _, envelope := range envelopes {
		if len(m.envelopes) > 0 && (envelope.Kind != m.kind || len(m.envelopes) >= m.batchSize) {
			if err := m.Flush(ctx); err != nil {
				return err
			}
		}
		m.kind = envelope.Kind
		m.envelopes = append(m.envelopes, envelope)
		m.origins = append(m.origins, op)
	}
	return nil
}

// Flush submits the buffered batch. Partial failures are correlated back to
// the generic operations at the failed indexes; everything else counts as
// applied. Transient submission failures retry with a growing delay.
func (m *SyncMutator) Flush(ctx context.Context) error {
	if len(m.envelopes) == 0 {
		return nil
	}
	envelopes := m.envelopes
	origins := m.origins
	kind := m.kind
	m.envelopes = nil
	m.origins = nil
	m.kind = ""

	var result MutateResult
	err := m.retry.Do(ctx, func() error {
		var mutateErr error
		result, mutateErr = m.service.Mutate(ctx, m.clientID, kind, envelopes)
		return mutateErr
	})
	if err != nil {
		return fmt.Errorf("mutate %d %s envelopes for client %d: %w", len(envelopes), kind, m.clientID, err)
	}

	failedIndexes := make(map[int]bool, len(result.Failures))
	for _, failure := range result.Failures {
		failedIndexes[failure.Index] = true
		if failure.Index < 0 || failure.Index >= len(origins) {
			if m.logger != nil {
				m.logger.Printf("client %d: failure index %d outside batch of %d", m.clientID, failure.Index, len(origins))
			}
			continue
		}
		m.failed = append(m.failed, FailedOperation{
			Operation: origins[failure.Index],
			Code:      failure.Code,
			Message:   failure.Message,
		})
	}
	m.applied += len(envelopes) - len(failedIndexes)
	return nil
}

// Failed returns the operations rejected by the remote system so far.
func (m *SyncMutator) Failed() []FailedOperation {
	return append([]FailedOperation(nil), m.failed...)
}

// Applied reports how many envelopes the remote system accepted so far.
func (m *SyncMutator) Applied() int { return m.applied }
