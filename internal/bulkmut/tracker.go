package bulkmut

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	defaultPollBaseDelay = 15 * time.Second
	defaultPollMaxDelay  = 4 * time.Minute
)

type trackerKey struct {
	clientID int64
	jobID    int64
}

// TrackerOptions configures a job tracker.
type TrackerOptions struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Sleep     SleepFunc
	Logger    Logger
}

// Tracker follows submitted bulk jobs until every one reaches a terminal
// state. It keeps a ledger of pending and finished jobs and polls the remote
// system with one batched status request per account per round.
type Tracker struct {
	service   EntityService
	logger    Logger
	sleep     SleepFunc
	baseDelay time.Duration
	maxDelay  time.Duration

	mu      sync.Mutex
	pending map[trackerKey]Job
	done    map[trackerKey]Job
}

func NewTracker(service EntityService, opts TrackerOptions) *Tracker {
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultPollBaseDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultPollMaxDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	return &Tracker{
		service:   service,
		logger:    opts.Logger,
		sleep:     sleep,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		pending:   make(map[trackerKey]Job),
		done:      make(map[trackerKey]Job),
	}
}

// Track adds a submitted job to the ledger. Jobs already terminal go straight
// to the finished set.
func (t *Tracker) Track(job Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackerKey{clientID: job.ClientID, jobID: job.ID}
	if job.Status.Terminal() {
		t.done[key] = job
		return
	}
	t.pending[key] = job
}

// PollOnce refreshes every pending job with one status request per account
// and returns the jobs whose state changed this round.
func (t *Tracker) PollOnce(ctx context.Context) ([]Job, error) {
	t.mu.Lock()
	byClient := make(map[int64][]int64)
	for key := range t.pending {
		byClient[key.clientID] = append(byClient[key.clientID], key.jobID)
	}
	t.mu.Unlock()

	var changed []Job
	for clientID, jobIDs := range byClient {
		sort.Slice(jobIDs, func(i, j int) bool { return jobIDs[i] < jobIDs[j] })
		jobs, err := t.service.JobStatuses(ctx, clientID, jobIDs)
		if err != nil {
			return changed, err
		}
		t.mu.Lock()
		for _, job := range jobs {
			key := trackerKey{clientID: job.ClientID, jobID: job.ID}
			prev, tracked := t.pending[key]
			if !tracked {
				continue
			}
			if prev.Status != job.Status || prev.Progress != job.Progress {
				changed = append(changed, job)
			}
			if job.Status.Terminal() {
				delete(t.pending, key)
				t.done[key] = job
			} else {
				t.pending[key] = job
			}
		}
		t.mu.Unlock()
	}
	return changed, nil
}

// WaitAll polls until every tracked job is terminal, doubling the delay
// between rounds up to the configured cap. A canceled job counts as finished.
// The returned slice holds every finished job, ordered by account then id.
func (t *Tracker) WaitAll(ctx context.Context) ([]Job, error) {
	return t.WaitAllFunc(ctx, nil)
}

// WaitAllFunc is WaitAll with a per-round callback receiving the jobs that
// changed, so callers can persist progress while waiting.
func (t *Tracker) WaitAllFunc(ctx context.Context, observe func(changed []Job)) ([]Job, error) {
	delay := t.baseDelay
	for {
		changed, err := t.PollOnce(ctx)
		if observe != nil && len(changed) > 0 {
			observe(changed)
		}
		if err != nil {
			if !IsTransient(err) {
				return t.finished(), err
			}
			if t.logger != nil {
				t.logger.Printf("bulk job poll failed, will retry: %v", err)
			}
		}
		remaining := t.PendingCount()
		if remaining == 0 {
			return t.finished(), nil
		}
		if t.logger != nil {
			t.logger.Printf("bulk jobs: %d pending, next poll in %s", remaining, delay)
		}
		if err := t.sleep(ctx, delay); err != nil {
			return t.finished(), err
		}
		delay *= 2
		if delay > t.maxDelay {
			delay = t.maxDelay
		}
	}
}

// CancelAll asks the remote system to stop every pending job. The jobs stay
// in the pending set; a subsequent WaitAll converges them to CANCELED.
func (t *Tracker) CancelAll(ctx context.Context) error {
	t.mu.Lock()
	jobs := make([]Job, 0, len(t.pending))
	for _, job := range t.pending {
		jobs = append(jobs, job)
	}
	t.mu.Unlock()

	var firstErr error
	for _, job := range jobs {
		if job.Status == StatusCanceling {
			continue
		}
		if err := t.service.CancelJob(ctx, job); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		t.mu.Lock()
		key := trackerKey{clientID: job.ClientID, jobID: job.ID}
		if tracked, ok := t.pending[key]; ok {
			tracked.Status = StatusCanceling
			t.pending[key] = tracked
		}
		t.mu.Unlock()
	}
	return firstErr
}

// PendingCount reports how many tracked jobs are not yet terminal.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Snapshot returns every tracked job, pending and finished, ordered by
// account then job id.
func (t *Tracker) Snapshot() []Job {
	t.mu.Lock()
	jobs := make([]Job, 0, len(t.pending)+len(t.done))
	for _, job := range t.pending {
		jobs = append(jobs, job)
	}
	for _, job := range t.done {
		jobs = append(jobs, job)
	}
	t.mu.Unlock()
	sortJobs(jobs)
	return jobs
}

func (t *Tracker) finished() []Job {
	t.mu.Lock()
	jobs := make([]Job, 0, len(t.done))
	for _, job := range t.done {
		jobs = append(jobs, job)
	}
	t.mu.Unlock()
	sortJobs(jobs)
	return jobs
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].ClientID != jobs[j].ClientID {
			return jobs[i].ClientID < jobs[j].ClientID
		}
		return jobs[i].ID < jobs[j].ID
	})
}
