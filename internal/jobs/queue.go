package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sannti97/superstreamer/pkg/log"
)

// Executor runs one job's stage-specific work. It is a long-running external
// operation; lines passed to logf land on the job's log as they happen.
type Executor func(ctx context.Context, job *Job, logf func(string)) error

// Queue is the ordered work queue of a single stage. Submissions dedup
// through the shared Store; a bounded pool of workers claims queued jobs in
// FIFO order and drives them through the state machine.
type Queue struct {
	stage   Stage
	workers int
	store   *Store

	heartbeatInterval time.Duration

	mu         sync.Mutex
	started    bool
	onComplete func(*Job)

	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

type QueueOption func(*Queue)

func WithHeartbeatInterval(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.heartbeatInterval = d
		}
	}
}

func NewQueue(stage Stage, workers int, store *Store, opts ...QueueOption) *Queue {
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{
		stage:             stage,
		workers:           workers,
		store:             store,
		heartbeatInterval: 5 * time.Second,
		pendingIDs:        make(chan string, 1024),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Stage() Stage {
	return q.stage
}

// OnComplete registers a hook invoked after a job of this stage transitions
// to completed. Must be set before Start.
func (q *Queue) OnComplete(fn func(*Job)) {
	q.mu.Lock()
	q.onComplete = fn
	q.mu.Unlock()
}

// Enqueue creates a job for the identity unless a live one already owns it,
// in which case the existing job is returned with created=false. New work is
// dispatched in submission order.
func (q *Queue) Enqueue(identityKey string, payload Payload, parentID, rootID string) (*Job, bool) {
	job, created := q.store.Create(q.stage, identityKey, payload, parentID, rootID)
	if !created {
		return job, false
	}

	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if started {
		q.dispatch(job.ID)
	}
	return job, true
}

// Start dispatches jobs already queued for this stage (hydrated from a
// previous run) and launches the worker pool.
func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for _, id := range q.store.QueuedIDs(q.stage) {
		q.dispatch(id)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

// Dispatch hands an already-created queued job back to the workers. Used by
// the stale-running reclaim sweep.
func (q *Queue) Dispatch(id string) {
	q.dispatch(id)
}

func (q *Queue) dispatch(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() { q.pendingIDs <- id }()
	}
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			q.run(exec, id)
		}
	}
}

func (q *Queue) run(exec Executor, id string) {
	job, ok := q.store.Claim(id)
	if !ok {
		return
	}

	// The executor call is the dominant blocking duration; it holds no lock
	// shared with other workers or with the claim path.
	ctx, cancel := context.WithCancel(context.Background())
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go q.heartbeatLoop(ctx, &hbWG, id)

	logf := func(line string) {
		if err := q.store.AppendLog(id, line); err != nil {
			log.Error("Failed to append log line for job %s: %v", id, err)
		}
	}

	err := exec(ctx, job, logf)
	cancel()
	hbWG.Wait()

	if err != nil {
		logf(fmt.Sprintf("%s: %v", ErrExecutionFailed, err))
		if _, terr := q.store.Transition(id, StatusFailed, err.Error()); terr != nil {
			log.Error("Failed to mark job %s failed: %v", id, terr)
		}
		return
	}

	done, terr := q.store.Transition(id, StatusCompleted, "")
	if terr != nil {
		// The job lost its claim to the reclaim sweep; its rerun owns the
		// terminal state now.
		log.Warn("Job %s finished after losing its claim: %v", id, terr)
		return
	}

	q.mu.Lock()
	onComplete := q.onComplete
	q.mu.Unlock()
	if onComplete != nil {
		onComplete(done)
	}
}

func (q *Queue) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, id string) {
	defer wg.Done()
	ticker := time.NewTicker(q.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.store.Heartbeat(id)
		}
	}
}
