package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sannti97/superstreamer/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the durable substrate behind the in-memory job store. It
// implements jobs.Repository.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, stage, identity_key, status, parent_id, root_id, payload_json, error, heartbeat_at, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var stage, status, payloadJSON string
		var heartbeatAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&stage,
			&item.IdentityKey,
			&status,
			&item.ParentID,
			&item.RootID,
			&payloadJSON,
			&item.Error,
			&heartbeatAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", item.ID, err)
		}
		item.Stage = jobs.Stage(stage)
		item.Status = jobs.Status(status)
		if heartbeatAt.Valid {
			item.HeartbeatAt = heartbeatAt.Time
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload of job %s: %w", job.ID, err)
	}
	var heartbeatAt sql.NullTime
	if !job.HeartbeatAt.IsZero() {
		heartbeatAt = sql.NullTime{Time: job.HeartbeatAt, Valid: true}
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, stage, identity_key, status, parent_id, root_id, payload_json, error, heartbeat_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage=excluded.stage,
			identity_key=excluded.identity_key,
			status=excluded.status,
			parent_id=excluded.parent_id,
			root_id=excluded.root_id,
			payload_json=excluded.payload_json,
			error=excluded.error,
			heartbeat_at=excluded.heartbeat_at,
			updated_at=excluded.updated_at`,
		job.ID,
		string(job.Stage),
		job.IdentityKey,
		string(job.Status),
		job.ParentID,
		job.RootID,
		string(payloadJSON),
		job.Error,
		heartbeatAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

// AppendLog inserts one log line. The log is append-only; a duplicate
// (job_id, seq) is an invariant violation and fails instead of rewriting
// history.
func (s *SQLiteStore) AppendLog(ctx context.Context, jobID string, line jobs.LogLine) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_logs (job_id, seq, at, line) VALUES (?, ?, ?, ?)`,
		jobID,
		line.Seq,
		line.At,
		line.Line,
	)
	return err
}

func (s *SQLiteStore) LoadLogs(ctx context.Context, jobID string) ([]jobs.LogLine, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, at, line FROM job_logs WHERE job_id = ? ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]jobs.LogLine, 0)
	for rows.Next() {
		var item jobs.LogLine
		if err := rows.Scan(&item.Seq, &item.At, &item.Line); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteLogs(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, jobID)
	return err
}
