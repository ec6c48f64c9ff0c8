package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mediabuy/adbatch/internal/adops"
	"github.com/mediabuy/adbatch/internal/bulkmut"
	"github.com/mediabuy/adbatch/internal/oplog"
)

// Options configures one submission run.
type Options struct {
	Mode          adops.Mode
	Workers       int
	ChunkSize     int
	SyncBatchSize int
	PollBaseDelay time.Duration
	PollMaxDelay  time.Duration
	Sleep         bulkmut.SleepFunc
	Logger        bulkmut.Logger
}

// Result summarizes one finished run.
type Result struct {
	RunID         string
	Jobs          []bulkmut.Job
	Failed        []bulkmut.FailedOperation
	AccountErrors map[int64]error
	Submitted     int
	Skipped       int
}

// Runner drains the operation log and submits everything pending. Each
// account gets its own worker with its own dispatcher and accumulator, so
// temporary ids and removal bookkeeping never cross accounts, and one
// account's failure never blocks the others.
type Runner struct {
	service bulkmut.EntityService
	log     oplog.Log
	tracker *bulkmut.Tracker
	opts    Options
}

func NewRunner(service bulkmut.EntityService, log oplog.Log, opts Options) *Runner {
	if opts.Mode == "" {
		opts.Mode = adops.ModeAsync
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	tracker := bulkmut.NewTracker(service, bulkmut.TrackerOptions{
		BaseDelay: opts.PollBaseDelay,
		MaxDelay:  opts.PollMaxDelay,
		Sleep:     opts.Sleep,
		Logger:    opts.Logger,
	})
	return &Runner{service: service, log: log, tracker: tracker, opts: opts}
}

// Tracker exposes the job ledger for status surfaces.
func (r *Runner) Tracker() *bulkmut.Tracker { return r.tracker }

// Run submits every pending record and, in async mode, waits for all bulk
// jobs to finish. Per-account failures land in Result.AccountErrors; Run
// itself fails only when the log cannot be read or the context ends.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:         uuid.NewString(),
		AccountErrors: make(map[int64]error),
	}
	records, err := r.log.PendingRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pending records: %w", err)
	}
	if len(records) == 0 {
		if r.opts.Logger != nil {
			r.opts.Logger.Printf("run %s: nothing pending", result.RunID)
		}
		return result, nil
	}

	byClient := make(map[int64][]oplog.Record)
	var clients []int64
	for _, record := range records {
		if _, seen := byClient[record.ClientID]; !seen {
			clients = append(clients, record.ClientID)
		}
		byClient[record.ClientID] = append(byClient[record.ClientID], record)
	}
	if r.opts.Logger != nil {
		r.opts.Logger.Printf("run %s: %d records across %d accounts", result.RunID, len(records), len(clients))
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.opts.Workers)
	for _, clientID := range clients {
		clientID := clientID
		clientRecords := byClient[clientID]
		group.Go(func() error {
			outcome, err := r.runAccount(groupCtx, clientID, clientRecords)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.AccountErrors[clientID] = err
			}
			result.Submitted += outcome.submitted
			result.Skipped += outcome.skipped
			result.Failed = append(result.Failed, outcome.failed...)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	if r.opts.Mode == adops.ModeAsync {
		jobs, err := r.tracker.WaitAllFunc(ctx, func(changed []bulkmut.Job) {
			r.recordJobStatuses(ctx, result.RunID, changed)
		})
		result.Jobs = jobs
		r.recordJobStatuses(ctx, result.RunID, jobs)
		if err != nil {
			return result, fmt.Errorf("wait for bulk jobs: %w", err)
		}
	}
	return result, nil
}

type accountOutcome struct {
	submitted int
	skipped   int
	failed    []bulkmut.FailedOperation
}

func (r *Runner) runAccount(ctx context.Context, clientID int64, records []oplog.Record) (accountOutcome, error) {
	if r.opts.Mode == adops.ModeSync {
		return r.runAccountSync(ctx, clientID, records)
	}
	return r.runAccountAsync(ctx, clientID, records)
}

// runAccountAsync dispatches every record into one bulk job. The job is
// created lazily: an account whose records all suppress or fail never opens
// a job at all.
func (r *Runner) runAccountAsync(ctx context.Context, clientID int64, records []oplog.Record) (accountOutcome, error) {
	var outcome accountOutcome
	dispatcher := adops.NewDispatcher()
	var acc *bulkmut.Accumulator
	var submittedIDs []int64

	for _, record := range records {
		op, err := adops.ParseRecord(record.Operation)
		if err != nil {
			outcome.skipped++
			r.markRecord(ctx, oplog.RecordFailed, record.ID)
			if r.opts.Logger != nil {
				r.opts.Logger.Printf("client %d: record %d rejected: %v", clientID, record.ID, err)
			}
			continue
		}
		envelopes, err := dispatcher.Dispatch(op, adops.ModeAsync)
		if err != nil {
			outcome.skipped++
			r.markRecord(ctx, oplog.RecordFailed, record.ID)
			if r.opts.Logger != nil {
				r.opts.Logger.Printf("client %d: record %d not dispatchable: %v", clientID, record.ID, err)
			}
			continue
		}
		if envelopes == nil {
			// Parent removed earlier in this submission.
			outcome.skipped++
			r.markRecord(ctx, oplog.RecordSubmitted, record.ID)
			continue
		}
		if acc == nil {
			job, err := r.service.CreateJob(ctx, clientID)
			if err != nil {
				return outcome, fmt.Errorf("create job for client %d: %w", clientID, err)
			}
			acc = bulkmut.NewAccumulator(r.service, job, bulkmut.AccumulatorOptions{ChunkSize: r.opts.ChunkSize})
		}
		acc.Add(envelopes...)
		submittedIDs = append(submittedIDs, record.ID)
	}

	if acc == nil {
		return outcome, nil
	}
	if err := acc.Flush(ctx); err != nil {
		return outcome, err
	}
	r.tracker.Track(acc.Job())
	outcome.submitted += len(submittedIDs)
	r.markRecord(ctx, oplog.RecordSubmitted, submittedIDs...)
	return outcome, nil
}

func (r *Runner) runAccountSync(ctx context.Context, clientID int64, records []oplog.Record) (accountOutcome, error) {
	var outcome accountOutcome
	mutator := bulkmut.NewSyncMutator(r.service, clientID, bulkmut.SyncMutatorOptions{
		BatchSize: r.opts.SyncBatchSize,
		Logger:    r.opts.Logger,
	})
	var submittedIDs []int64

	for _, record := range records {
		op, err := adops.ParseRecord(record.Operation)
		if err != nil {
			outcome.skipped++
			r.markRecord(ctx, oplog.RecordFailed, record.ID)
			continue
		}
		if err := mutator.Apply(ctx, op); err != nil {
			outcome.skipped++
			r.markRecord(ctx, oplog.RecordFailed, record.ID)
			if r.opts.Logger != nil {
				r.opts.Logger.Printf("client %d: record %d not applied: %v", clientID, record.ID, err)
			}
			continue
		}
		submittedIDs = append(submittedIDs, record.ID)
	}
	if err := mutator.Flush(ctx); err != nil {
		return outcome, err
	}
	outcome.submitted += mutator.Applied()
	outcome.failed = mutator.Failed()
	r.markRecord(ctx, oplog.RecordSubmitted, submittedIDs...)
	return outcome, nil
}

func (r *Runner) markRecord(ctx context.Context, status oplog.RecordStatus, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	if err := r.log.MarkRecords(ctx, status, ids...); err != nil && r.opts.Logger != nil {
		r.opts.Logger.Printf("mark records %v as %s: %v", ids, status, err)
	}
}

func (r *Runner) recordJobStatuses(ctx context.Context, runID string, jobs []bulkmut.Job) {
	for _, job := range jobs {
		entry := oplog.JobStatusEntry{
			RunID:     runID,
			ClientID:  job.ClientID,
			JobID:     job.ID,
			Status:    string(job.Status),
			Completed: job.Progress.Completed,
			Estimated: job.Progress.Estimated,
		}
		if err := r.log.AppendJobStatus(ctx, entry); err != nil && r.opts.Logger != nil {
			r.opts.Logger.Printf("record job %d status: %v", job.ID, err)
		}
	}
}
