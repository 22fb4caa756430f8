package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sannti97/superstreamer/pkg/log"
)

// Store is the single source of truth for job state. It keeps the working set
// in memory and writes every mutation through to the Repository, so status
// reads observe a submission before the submitting call returns and the
// working set survives restarts.
type Store struct {
	repo    Repository
	maxJobs int

	mu       sync.RWMutex
	jobs     map[string]*Job
	dedupe   map[string]string
	children map[string][]string
	logs     map[string][]LogLine
	counters map[Stage]uint64
}

var transitions = map[Status]map[Status]bool{
	StatusQueued:  {StatusRunning: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true},
}

func NewStore(repo Repository, maxJobs int) *Store {
	if maxJobs <= 0 {
		maxJobs = 1000
	}
	s := &Store{
		repo:     repo,
		maxJobs:  maxJobs,
		jobs:     make(map[string]*Job),
		dedupe:   make(map[string]string),
		children: make(map[string][]string),
		logs:     make(map[string][]LogLine),
		counters: make(map[Stage]uint64),
	}
	s.hydrate(context.Background())
	return s
}

func dedupeKey(stage Stage, identityKey string) string {
	return string(stage) + "\x00" + identityKey
}

// Create resolves dedup against live jobs before creating new work. When a
// live job already owns the stage+identity, its snapshot is returned with
// created=false and no new row is written. rootID is propagated when given
// and otherwise the job roots itself.
func (s *Store) Create(stage Stage, identityKey string, payload Payload, parentID, rootID string) (*Job, bool) {
	now := time.Now()

	s.mu.Lock()
	key := dedupeKey(stage, identityKey)
	if id, ok := s.dedupe[key]; ok {
		if existing, exists := s.jobs[id]; exists {
			snapshot := cloneJob(existing)
			s.mu.Unlock()
			return snapshot, false
		}
		delete(s.dedupe, key)
	}

	s.counters[stage]++
	id := fmt.Sprintf("%s-%d", stage, s.counters[stage])
	if rootID == "" {
		rootID = id
	}
	job := &Job{
		ID:          id,
		Stage:       stage,
		IdentityKey: identityKey,
		Status:      StatusQueued,
		ParentID:    parentID,
		RootID:      rootID,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[id] = job
	s.dedupe[key] = id
	if parentID != "" {
		s.children[parentID] = append(s.children[parentID], id)
	}
	snapshot := cloneJob(job)
	s.mu.Unlock()

	s.persist(snapshot)
	return snapshot, true
}

func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	snapshot := cloneJob(job)
	s.mu.RUnlock()
	return snapshot, true
}

// List returns snapshots of all jobs, most recent first.
func (s *Store) List() []*Job {
	s.mu.RLock()
	ret := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].CreatedAt.After(ret[j].CreatedAt)
		}
		return ret[i].ID > ret[j].ID
	})
	return ret
}

// Transition moves a job along queued -> running -> {completed, failed}. Any
// other transition is rejected with ERR_INVALID_TRANSITION and leaves the job
// untouched. errMsg is recorded on the job only when next is StatusFailed.
// A terminal transition releases the job's identity for dedup purposes.
func (s *Store) Transition(id string, next Status, errMsg string) (*Job, error) {
	now := time.Now()

	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, NewError(ErrNotFound, "no such job").WithContext("job_id", id)
	}
	if !transitions[job.Status][next] {
		from := job.Status
		s.mu.Unlock()
		return nil, NewError(ErrInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", from, next)).WithContext("job_id", id)
	}
	job.Status = next
	job.UpdatedAt = now
	switch {
	case next == StatusRunning:
		job.HeartbeatAt = now
	case next == StatusFailed:
		job.Error = errMsg
	}
	var removed []string
	if next.Terminal() {
		job.HeartbeatAt = time.Time{}
		s.releaseDedupeLocked(job)
		removed = s.pruneOverflowLocked()
	}
	snapshot := cloneJob(job)
	s.mu.Unlock()

	s.persist(snapshot)
	s.deleteFromRepo(removed)
	return snapshot, nil
}

// Claim is the exclusive queued -> running flip. Exactly one caller wins per
// job; every other caller observes ok=false.
func (s *Store) Claim(id string) (*Job, bool) {
	job, err := s.Transition(id, StatusRunning, "")
	if err != nil {
		return nil, false
	}
	return job, true
}

// Heartbeat records liveness of a claimed job. A no-op unless the job is
// running.
func (s *Store) Heartbeat(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusRunning {
		s.mu.Unlock()
		return
	}
	job.HeartbeatAt = time.Now()
	snapshot := cloneJob(job)
	s.mu.Unlock()

	s.persist(snapshot)
}

// ReclaimStale returns running jobs whose heartbeat predates cutoff to the
// queued state so they can be dispatched again. This is the recovery path for
// a worker that died between claiming and finishing; it deliberately bypasses
// the public state machine.
func (s *Store) ReclaimStale(cutoff time.Time) []*Job {
	now := time.Now()

	s.mu.Lock()
	reclaimed := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Status != StatusRunning {
			continue
		}
		if job.HeartbeatAt.IsZero() || !job.HeartbeatAt.Before(cutoff) {
			continue
		}
		job.Status = StatusQueued
		job.HeartbeatAt = time.Time{}
		job.UpdatedAt = now
		reclaimed = append(reclaimed, cloneJob(job))
	}
	s.mu.Unlock()

	sort.Slice(reclaimed, func(i, j int) bool {
		return reclaimed[i].CreatedAt.Before(reclaimed[j].CreatedAt)
	})
	for _, job := range reclaimed {
		s.persist(job)
	}
	return reclaimed
}

// AppendLog appends one timestamped line to a job's log. Lines are totally
// ordered by a store-assigned sequence and never rewritten.
func (s *Store) AppendLog(id, line string) error {
	s.mu.Lock()
	if _, ok := s.jobs[id]; !ok {
		s.mu.Unlock()
		return NewError(ErrNotFound, "no such job").WithContext("job_id", id)
	}
	entry := LogLine{
		Seq:  len(s.logs[id]) + 1,
		At:   time.Now(),
		Line: line,
	}
	s.logs[id] = append(s.logs[id], entry)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.AppendLog(context.Background(), id, entry); err != nil {
			log.Error("Failed to persist log line for job %s: %v", id, err)
		}
	}
	return nil
}

func (s *Store) Logs(id string) ([]LogLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[id]; !ok {
		return nil, NewError(ErrNotFound, "no such job").WithContext("job_id", id)
	}
	ret := make([]LogLine, len(s.logs[id]))
	copy(ret, s.logs[id])
	return ret, nil
}

// QueuedIDs returns the ids of queued jobs of a stage in submission order.
func (s *Store) QueuedIDs(stage Stage) []string {
	s.mu.RLock()
	queued := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Stage == stage && job.Status == StatusQueued {
			queued = append(queued, job)
		}
	}
	s.mu.RUnlock()

	sort.Slice(queued, func(i, j int) bool {
		if !queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].CreatedAt.Before(queued[j].CreatedAt)
		}
		return jobSeq(queued[i].ID) < jobSeq(queued[j].ID)
	})
	ret := make([]string, len(queued))
	for i, job := range queued {
		ret[i] = job.ID
	}
	return ret
}

// FindTranscode returns the most recent transcode job for an asset, live or
// still retained.
func (s *Store) FindTranscode(assetID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Job
	for _, job := range s.jobs {
		if job.Stage != StageTranscode || job.IdentityKey != assetID {
			continue
		}
		if found == nil || jobSeq(job.ID) > jobSeq(found.ID) {
			found = job
		}
	}
	if found == nil {
		return nil, false
	}
	return cloneJob(found), true
}

// PruneExpired removes terminal jobs last touched before cutoff, together
// with their logs and tree linkage, and returns the removed ids.
func (s *Store) PruneExpired(cutoff time.Time) []string {
	s.mu.Lock()
	removed := make([]string, 0)
	for id, job := range s.jobs {
		if !job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		s.removeLocked(id)
		removed = append(removed, id)
	}
	s.mu.Unlock()

	s.deleteFromRepo(removed)
	return removed
}

func (s *Store) releaseDedupeLocked(job *Job) {
	if job == nil || job.IdentityKey == "" {
		return
	}
	key := dedupeKey(job.Stage, job.IdentityKey)
	if id, ok := s.dedupe[key]; ok && id == job.ID {
		delete(s.dedupe, key)
	}
}

// pruneOverflowLocked drops the oldest terminal jobs once the working set
// exceeds maxJobs. Queued and running jobs are never pruned.
func (s *Store) pruneOverflowLocked() []string {
	if s.maxJobs <= 0 || len(s.jobs) <= s.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(s.jobs))
	for id, job := range s.jobs {
		if !job.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := len(s.jobs) - s.maxJobs
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}

	removed := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		s.removeLocked(terminal[i].id)
		removed = append(removed, terminal[i].id)
	}
	return removed
}

func (s *Store) removeLocked(id string) {
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	s.releaseDedupeLocked(job)
	delete(s.jobs, id)
	delete(s.logs, id)
	delete(s.children, id)
	if job.ParentID != "" {
		siblings := s.children[job.ParentID]
		for i, child := range siblings {
			if child == id {
				s.children[job.ParentID] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) deleteFromRepo(ids []string) {
	if s.repo == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := s.repo.DeleteLogs(context.Background(), id); err != nil {
			log.Error("Failed to delete logs of pruned job %s: %v", id, err)
		}
		if err := s.repo.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s: %v", id, err)
		}
	}
}

// hydrate restores the working set from the repository. Jobs persisted as
// running had no worker attached anymore and go back to queued.
func (s *Store) hydrate(ctx context.Context) {
	if s.repo == nil {
		return
	}
	loaded, err := s.repo.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from repository: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	s.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			job.Status = StatusQueued
			job.HeartbeatAt = time.Time{}
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		s.jobs[job.ID] = job
		if !job.Status.Terminal() && job.IdentityKey != "" {
			s.dedupe[dedupeKey(job.Stage, job.IdentityKey)] = job.ID
		}
		if job.ParentID != "" {
			s.children[job.ParentID] = append(s.children[job.ParentID], job.ID)
		}
		s.updateCounterLocked(job.Stage, job.ID)

		lines, err := s.repo.LoadLogs(ctx, job.ID)
		if err != nil {
			log.Error("Failed to load logs of job %s: %v", job.ID, err)
			continue
		}
		s.logs[job.ID] = lines
	}
	for parentID, ids := range s.children {
		sort.Slice(ids, func(i, j int) bool { return jobSeq(ids[i]) < jobSeq(ids[j]) })
		s.children[parentID] = ids
	}
	s.mu.Unlock()

	for _, job := range toPersist {
		s.persist(job)
	}
}

func (s *Store) updateCounterLocked(stage Stage, jobID string) {
	if n := jobSeq(jobID); n > s.counters[stage] {
		s.counters[stage] = n
	}
}

// jobSeq extracts the numeric suffix of a job id ("transcode-12" -> 12).
func jobSeq(jobID string) uint64 {
	idx := strings.LastIndex(jobID, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.ParseUint(jobID[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) persist(job *Job) {
	if s.repo == nil || job == nil {
		return
	}
	if err := s.repo.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Payload = clonePayload(job.Payload)
	return &tmp
}

func clonePayload(p Payload) Payload {
	var ret Payload
	if p.Transcode != nil {
		tc := *p.Transcode
		tc.Inputs = append([]Input(nil), p.Transcode.Inputs...)
		tc.Streams = append([]Stream(nil), p.Transcode.Streams...)
		ret.Transcode = &tc
	}
	if p.Package != nil {
		pc := *p.Package
		ret.Package = &pc
	}
	return ret
}
