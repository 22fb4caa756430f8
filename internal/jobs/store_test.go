package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu   sync.Mutex
	jobs map[string]*Job
	logs map[string][]LogLine
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		jobs: make(map[string]*Job),
		logs: make(map[string][]LogLine),
	}
}

func (m *memoryRepo) LoadJobs(_ context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryRepo) UpsertJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryRepo) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryRepo) AppendLog(_ context.Context, jobID string, line LogLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[jobID] = append(m.logs[jobID], line)
	return nil
}

func (m *memoryRepo) LoadLogs(_ context.Context, jobID string) ([]LogLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]LogLine, len(m.logs[jobID]))
	copy(ret, m.logs[jobID])
	return ret, nil
}

func (m *memoryRepo) DeleteLogs(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, jobID)
	return nil
}

func transcodePayload(assetID string) Payload {
	return Payload{Transcode: &TranscodePayload{
		AssetID:     assetID,
		SegmentSize: DefaultSegmentSize,
	}}
}

func TestStore_Transition_EnforcesStateMachine(t *testing.T) {
	s := NewStore(nil, 0)
	job, created := s.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")
	require.True(t, created)

	_, err := s.Transition(job.ID, StatusCompleted, "")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidTransition))

	got, ok := s.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, got.Status)

	_, err = s.Transition(job.ID, StatusRunning, "")
	require.NoError(t, err)
	_, err = s.Transition(job.ID, StatusCompleted, "")
	require.NoError(t, err)

	// Terminal states are closed.
	_, err = s.Transition(job.ID, StatusRunning, "")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidTransition))
	_, err = s.Transition(job.ID, StatusFailed, "boom")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidTransition))

	got, ok = s.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestStore_Transition_UnknownJob(t *testing.T) {
	s := NewStore(nil, 0)
	_, err := s.Transition("transcode-404", StatusRunning, "")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrNotFound))
}

func TestStore_Claim_IsExclusive(t *testing.T) {
	s := NewStore(nil, 0)
	job, _ := s.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")

	const attempts = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, ok := s.Claim(job.ID); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	got, ok := s.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestStore_AppendLog_ConcurrentWritersLoseNothing(t *testing.T) {
	s := NewStore(nil, 0)
	job, _ := s.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		w := w
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, s.AppendLog(job.ID, fmt.Sprintf("writer-%d line-%d", w, i)))
			}
		}()
	}
	wg.Wait()

	lines, err := s.Logs(job.ID)
	require.NoError(t, err)
	require.Len(t, lines, writers*perWriter)
	for i, line := range lines {
		assert.Equal(t, i+1, line.Seq)
	}
}

func TestStore_AppendLog_OrderPreserved(t *testing.T) {
	s := NewStore(nil, 0)
	job, _ := s.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")

	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendLog(job.ID, fmt.Sprintf("line-%d", i)))
	}
	lines, err := s.Logs(job.ID)
	require.NoError(t, err)
	require.Len(t, lines, 10)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("line-%d", i), line.Line)
		assert.Equal(t, i+1, line.Seq)
	}
}

func TestStore_Logs_UnknownJob(t *testing.T) {
	s := NewStore(nil, 0)
	_, err := s.Logs("transcode-404")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrNotFound))

	err = s.AppendLog("transcode-404", "orphan")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrNotFound))
}

func TestStore_TerminalReleasesIdentity(t *testing.T) {
	s := NewStore(nil, 0)
	first, created := s.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")
	require.True(t, created)

	_, err := s.Transition(first.ID, StatusRunning, "")
	require.NoError(t, err)
	_, err = s.Transition(first.ID, StatusFailed, "executor exploded")
	require.NoError(t, err)

	// The failed job is no longer live, so the same identity is new work.
	second, created := s.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")
	require.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStore_PruneOverflowKeepsActiveJobs(t *testing.T) {
	s := NewStore(nil, 2)

	var terminal []string
	for i := 0; i < 3; i++ {
		job, _ := s.Create(StageTranscode, fmt.Sprintf("done-%d", i), transcodePayload("x"), "", "")
		_, err := s.Transition(job.ID, StatusRunning, "")
		require.NoError(t, err)
		_, err = s.Transition(job.ID, StatusCompleted, "")
		require.NoError(t, err)
		terminal = append(terminal, job.ID)
		time.Sleep(time.Millisecond)
	}

	queued, _ := s.Create(StageTranscode, "pending", transcodePayload("pending"), "", "")

	_, ok := s.Get(queued.ID)
	assert.True(t, ok)
	_, ok = s.Get(terminal[0])
	assert.False(t, ok, "oldest terminal job should be pruned")
}

func TestStore_ReclaimStale_RequeuesOnlyExpired(t *testing.T) {
	s := NewStore(nil, 0)
	stale, _ := s.Create(StageTranscode, "stale", transcodePayload("stale"), "", "")
	fresh, _ := s.Create(StageTranscode, "fresh", transcodePayload("fresh"), "", "")

	_, ok := s.Claim(stale.ID)
	require.True(t, ok)
	_, ok = s.Claim(fresh.ID)
	require.True(t, ok)

	// Stale job's heartbeat is far in the past, fresh one just beat.
	time.Sleep(5 * time.Millisecond)
	s.Heartbeat(fresh.ID)

	reclaimed := s.ReclaimStale(time.Now().Add(-2 * time.Millisecond))
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stale.ID, reclaimed[0].ID)

	got, _ := s.Get(stale.ID)
	assert.Equal(t, StatusQueued, got.Status)
	got, _ = s.Get(fresh.ID)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestStore_PruneExpired_RemovesOldTerminalJobs(t *testing.T) {
	repo := newMemoryRepo()
	s := NewStore(repo, 0)

	done, _ := s.Create(StageTranscode, "done", transcodePayload("done"), "", "")
	_, err := s.Transition(done.ID, StatusRunning, "")
	require.NoError(t, err)
	_, err = s.Transition(done.ID, StatusCompleted, "")
	require.NoError(t, err)
	require.NoError(t, s.AppendLog(done.ID, "finished"))

	active, _ := s.Create(StageTranscode, "active", transcodePayload("active"), "", "")

	removed := s.PruneExpired(time.Now().Add(time.Second))
	assert.Equal(t, []string{done.ID}, removed)

	_, ok := s.Get(done.ID)
	assert.False(t, ok)
	_, ok = s.Get(active.ID)
	assert.True(t, ok)

	repo.mu.Lock()
	_, persisted := repo.jobs[done.ID]
	_, persistedLogs := repo.logs[done.ID]
	repo.mu.Unlock()
	assert.False(t, persisted)
	assert.False(t, persistedLogs)
}

func TestStore_Hydrate_ResetsRunningJobs(t *testing.T) {
	repo := newMemoryRepo()
	first := NewStore(repo, 0)

	job, _ := first.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")
	_, ok := first.Claim(job.ID)
	require.True(t, ok)
	require.NoError(t, first.AppendLog(job.ID, "halfway there"))

	// A fresh store simulates a daemon restart: the running job had no
	// worker attached anymore, so it goes back to queued.
	second := NewStore(repo, 0)
	got, ok := second.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, []string{job.ID}, second.QueuedIDs(StageTranscode))

	lines, err := second.Logs(job.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "halfway there", lines[0].Line)
}

func TestStore_Hydrate_RecoversIDCounter(t *testing.T) {
	repo := newMemoryRepo()
	first := NewStore(repo, 0)
	job, _ := first.Create(StageTranscode, "a1", transcodePayload("a1"), "", "")
	require.Equal(t, "transcode-1", job.ID)

	second := NewStore(repo, 0)
	next, _ := second.Create(StageTranscode, "a2", transcodePayload("a2"), "", "")
	assert.Equal(t, "transcode-2", next.ID)
}
