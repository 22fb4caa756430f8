package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sannti97/superstreamer/internal/jobs"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func sampleJob() *jobs.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &jobs.Job{
		ID:          "transcode-1",
		Stage:       jobs.StageTranscode,
		IdentityKey: "asset-1",
		Status:      jobs.StatusQueued,
		RootID:      "transcode-1",
		Payload: jobs.Payload{Transcode: &jobs.TranscodePayload{
			AssetID: "asset-1",
			Inputs: []jobs.Input{
				{Kind: jobs.InputVideo, Path: "s3://bucket/in.mp4"},
			},
			Streams: []jobs.Stream{
				{Kind: jobs.StreamVideo, Codec: "h264", Height: 720, Bitrate: 3000000},
			},
			SegmentSize:  4,
			PackageAfter: true,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_JobRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job := sampleJob()
	require.NoError(t, store.UpsertJob(ctx, job))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Stage, got.Stage)
	assert.Equal(t, job.IdentityKey, got.IdentityKey)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.RootID, got.RootID)
	assert.Empty(t, got.ParentID)
	assert.True(t, got.HeartbeatAt.IsZero())
	require.NotNil(t, got.Payload.Transcode)
	assert.Equal(t, job.Payload.Transcode.Inputs, got.Payload.Transcode.Inputs)
	assert.Equal(t, job.Payload.Transcode.Streams, got.Payload.Transcode.Streams)
	assert.True(t, got.Payload.Transcode.PackageAfter)
}

func TestSQLiteStore_UpsertOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	job := sampleJob()
	require.NoError(t, store.UpsertJob(ctx, job))

	job.Status = jobs.StatusRunning
	job.HeartbeatAt = time.Now().UTC().Truncate(time.Second)
	job.UpdatedAt = job.HeartbeatAt
	require.NoError(t, store.UpsertJob(ctx, job))

	job.Status = jobs.StatusFailed
	job.Error = "encoder crashed"
	job.HeartbeatAt = time.Time{}
	require.NoError(t, store.UpsertJob(ctx, job))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, jobs.StatusFailed, loaded[0].Status)
	assert.Equal(t, "encoder crashed", loaded[0].Error)
	assert.True(t, loaded[0].HeartbeatAt.IsZero())
}

func TestSQLiteStore_LogsRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, sampleJob()))
	at := time.Now().UTC().Truncate(time.Second)
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.AppendLog(ctx, "transcode-1", jobs.LogLine{
			Seq:  i,
			At:   at.Add(time.Duration(i) * time.Second),
			Line: "progress",
		}))
	}

	lines, err := store.LoadLogs(ctx, "transcode-1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.Equal(t, i+1, line.Seq)
	}

	other, err := store.LoadLogs(ctx, "transcode-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStore_AppendLog_RejectsDuplicateSeq(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, sampleJob()))
	line := jobs.LogLine{Seq: 1, At: time.Now(), Line: "started"}
	require.NoError(t, store.AppendLog(ctx, "transcode-1", line))

	line.Line = "rewritten"
	require.Error(t, store.AppendLog(ctx, "transcode-1", line),
		"the log is append-only; a seq collision must not overwrite")

	lines, err := store.LoadLogs(ctx, "transcode-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "started", lines[0].Line)
}

func TestSQLiteStore_DeleteJobAndLogs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertJob(ctx, sampleJob()))
	require.NoError(t, store.AppendLog(ctx, "transcode-1", jobs.LogLine{Seq: 1, At: time.Now(), Line: "started"}))

	require.NoError(t, store.DeleteLogs(ctx, "transcode-1"))
	require.NoError(t, store.DeleteJob(ctx, "transcode-1"))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
	lines, err := store.LoadLogs(ctx, "transcode-1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertJob(ctx, sampleJob()))
	require.NoError(t, store.Close())

	// Reopening runs the migrations again; they must be recorded as applied
	// and leave existing rows alone.
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "transcode-1", loaded[0].ID)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("012_add_column.sql"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}
