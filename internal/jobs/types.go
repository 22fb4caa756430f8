package jobs

import (
	"context"
	"time"
)

type Stage string

const (
	StageTranscode Stage = "transcode"
	StagePackage   Stage = "package"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends a job's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type InputKind string

const (
	InputVideo InputKind = "video"
	InputAudio InputKind = "audio"
	InputText  InputKind = "text"
)

type StreamKind string

const (
	StreamVideo StreamKind = "video"
	StreamAudio StreamKind = "audio"
	StreamText  StreamKind = "text"
)

// Input is one source of a transcode job. Kind discriminates the variant:
// video carries an optional height, audio an optional language and channel
// count, text a required language.
type Input struct {
	Kind     InputKind `json:"type"`
	Path     string    `json:"path"`
	Height   int       `json:"height,omitempty"`
	Language string    `json:"language,omitempty"`
	Channels int       `json:"channels,omitempty"`
}

// Stream is one desired output rendition of a transcode job, discriminated
// by Kind the same way Input is.
type Stream struct {
	Kind      StreamKind `json:"type"`
	Codec     string     `json:"codec,omitempty"`
	Height    int        `json:"height,omitempty"`
	Bitrate   int        `json:"bitrate,omitempty"`
	Framerate float64    `json:"framerate,omitempty"`
	Language  string     `json:"language,omitempty"`
	Channels  int        `json:"channels,omitempty"`
}

type TranscodePayload struct {
	AssetID      string   `json:"asset_id"`
	Inputs       []Input  `json:"inputs"`
	Streams      []Stream `json:"streams"`
	SegmentSize  int      `json:"segment_size"`
	PackageAfter bool     `json:"package_after,omitempty"`
	Group        string   `json:"group,omitempty"`
}

type PackagePayload struct {
	AssetID     string `json:"asset_id"`
	Name        string `json:"name"`
	Language    string `json:"language,omitempty"`
	SegmentSize int    `json:"segment_size"`
	Tag         string `json:"tag,omitempty"`
}

// Payload is the normalized request carried by a job. Exactly one variant is
// set, matching the job's stage.
type Payload struct {
	Transcode *TranscodePayload `json:"transcode,omitempty"`
	Package   *PackagePayload   `json:"package,omitempty"`
}

type Job struct {
	ID          string    `json:"id"`
	Stage       Stage     `json:"stage"`
	IdentityKey string    `json:"identity_key"`
	Status      Status    `json:"status"`
	ParentID    string    `json:"parent_id,omitempty"`
	RootID      string    `json:"root_id"`
	Payload     Payload   `json:"payload"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	HeartbeatAt time.Time `json:"-"`
}

// LogLine is one append-only log record of a job. Seq is store-assigned and
// strictly increasing per job.
type LogLine struct {
	Seq  int       `json:"seq"`
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

// Node is a job together with the jobs it spawned, for tree reads.
type Node struct {
	Job
	Children []*Node `json:"children,omitempty"`
}

// Repository persists jobs and their log lines for restart recovery.
type Repository interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	AppendLog(ctx context.Context, jobID string, line LogLine) error
	LoadLogs(ctx context.Context, jobID string) ([]LogLine, error)
	DeleteLogs(ctx context.Context, jobID string) error
}
