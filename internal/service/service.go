package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/sannti97/superstreamer/internal/config"
	"github.com/sannti97/superstreamer/internal/jobs"
	"github.com/sannti97/superstreamer/pkg/log"
)

// TranscodeRequest is the boundary shape of a transcode submission. Field
// names follow the public API.
type TranscodeRequest struct {
	AssetID      string        `json:"assetId,omitempty"`
	Inputs       []jobs.Input  `json:"inputs"`
	Streams      []jobs.Stream `json:"streams"`
	SegmentSize  int           `json:"segmentSize,omitempty"`
	PackageAfter bool          `json:"packageAfter,omitempty"`
	Group        string        `json:"group,omitempty"`
}

// PackageRequest is the boundary shape of a package submission.
type PackageRequest struct {
	AssetID     string `json:"assetId"`
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"`
	SegmentSize int    `json:"segmentSize,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

// Orchestrator owns the two stage queues and the job store and exposes the
// submission and query operations of the core. It also chains a package job
// after a successful transcode when the submission asked for it.
type Orchestrator struct {
	cfg        config.Config
	store      *jobs.Store
	transcodeQ *jobs.Queue
	packageQ   *jobs.Queue
	cron       *cron.Cron

	// chainFn enqueues the dependent package job after a transcode; split
	// out so chaining failure handling is testable on its own.
	chainFn func(parent *jobs.Job) error

	sweepGroup singleflight.Group
}

func New(cfg config.Config, store *jobs.Store, transcodeQ, packageQ *jobs.Queue, cr *cron.Cron) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		transcodeQ: transcodeQ,
		packageQ:   packageQ,
		cron:       cr,
	}
	o.chainFn = o.enqueueChainedPackage
	return o
}

// Start wires transcode completion chaining, launches both worker pools and
// schedules the maintenance sweep.
func (o *Orchestrator) Start(transcodeExec, packageExec jobs.Executor) error {
	o.transcodeQ.OnComplete(o.afterTranscode)
	o.transcodeQ.Start(transcodeExec)
	o.packageQ.Start(packageExec)

	if o.cron != nil {
		if _, err := o.cron.AddFunc(o.cfg.Sweep.Schedule, o.runSweep); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
		o.cron.Start()
	}
	return nil
}

func (o *Orchestrator) Stop() {
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
	o.transcodeQ.Stop()
	o.packageQ.Stop()
}

// SubmitTranscode validates and normalizes the request and enqueues it for
// the transcode stage, dedup'd on asset identity. The returned id belongs to
// the existing job when the identity is already live.
func (o *Orchestrator) SubmitTranscode(ctx context.Context, req TranscodeRequest) (string, error) {
	if err := validateTranscode(req); err != nil {
		return "", err
	}

	identity, payload := jobs.ResolveTranscode(jobs.TranscodePayload{
		AssetID:      req.AssetID,
		Inputs:       req.Inputs,
		Streams:      req.Streams,
		SegmentSize:  req.SegmentSize,
		PackageAfter: req.PackageAfter,
		Group:        req.Group,
	})
	job, created := o.transcodeQ.Enqueue(identity, jobs.Payload{Transcode: &payload}, "", "")
	if created {
		log.Info("Accepted transcode job %s for asset %s", job.ID, payload.AssetID)
	} else {
		log.Info("Transcode submission for asset %s deduplicated to job %s", payload.AssetID, job.ID)
	}
	return job.ID, nil
}

// SubmitPackage validates the request against the referenced transcode job.
// The segment size must be equal to or an integer multiple of the transcoded
// one; a violation fails the call and creates no job.
func (o *Orchestrator) SubmitPackage(ctx context.Context, req PackageRequest) (string, error) {
	if err := validatePackage(req); err != nil {
		return "", err
	}

	parent, ok := o.store.FindTranscode(req.AssetID)
	if !ok || parent.Payload.Transcode == nil {
		return "", jobs.NewError(jobs.ErrInvalidRequest,
			fmt.Sprintf("no transcode job known for asset %s", req.AssetID))
	}

	base := parent.Payload.Transcode.SegmentSize
	segmentSize := req.SegmentSize
	if segmentSize == 0 {
		segmentSize = base
	}
	if base <= 0 || segmentSize < base || segmentSize%base != 0 {
		return "", jobs.NewError(jobs.ErrInvalidRequest,
			fmt.Sprintf("segment size %d is not a multiple of the transcoded segment size %d", segmentSize, base))
	}

	identity, payload := jobs.ResolvePackage(jobs.PackagePayload{
		AssetID:     req.AssetID,
		Name:        req.Name,
		Language:    req.Language,
		SegmentSize: segmentSize,
		Tag:         req.Tag,
	})
	job, created := o.packageQ.Enqueue(identity, jobs.Payload{Package: &payload}, "", "")
	if created {
		log.Info("Accepted package job %s for asset %s name %s", job.ID, payload.AssetID, payload.Name)
	} else {
		log.Info("Package submission for asset %s deduplicated to job %s", payload.AssetID, job.ID)
	}
	return job.ID, nil
}

// ListJobs returns all retained jobs, most recent first.
func (o *Orchestrator) ListJobs() []*jobs.Job {
	return o.store.List()
}

// GetJob returns a job, resolved to its root and augmented with all
// descendants when fromRoot is set.
func (o *Orchestrator) GetJob(id string, fromRoot bool) (*jobs.Node, error) {
	return o.store.Tree(id, fromRoot)
}

// GetJobLogs returns a job's log lines in append order.
func (o *Orchestrator) GetJobLogs(id string) ([]jobs.LogLine, error) {
	return o.store.Logs(id)
}

// afterTranscode runs on every completed transcode job. A chaining failure is
// recorded on the parent job; the parent's own success stands.
func (o *Orchestrator) afterTranscode(parent *jobs.Job) {
	tc := parent.Payload.Transcode
	if tc == nil || !tc.PackageAfter {
		return
	}
	if err := o.chainFn(parent); err != nil {
		log.Error("Chained package enqueue after job %s failed: %v", parent.ID, err)
		line := fmt.Sprintf("%s: %v", jobs.ErrChainFailed, err)
		if logErr := o.store.AppendLog(parent.ID, line); logErr != nil {
			log.Error("Failed to record chain failure on job %s: %v", parent.ID, logErr)
		}
	}
}

// enqueueChainedPackage derives the dependent package job from the parent's
// normalized payload: default name, the parent's segment size, and the
// parent's root propagated rather than re-derived.
func (o *Orchestrator) enqueueChainedPackage(parent *jobs.Job) error {
	tc := parent.Payload.Transcode
	identity, payload := jobs.ResolvePackage(jobs.PackagePayload{
		AssetID:     tc.AssetID,
		SegmentSize: tc.SegmentSize,
	})
	job, created := o.packageQ.Enqueue(identity, jobs.Payload{Package: &payload}, parent.ID, parent.RootID)
	if !created {
		// A caller-submitted package job already owns this identity; the
		// dedup guarantee wins over chaining.
		line := fmt.Sprintf("package job %s already live for asset %s name %s, chaining deduplicated", job.ID, payload.AssetID, payload.Name)
		if err := o.store.AppendLog(parent.ID, line); err != nil {
			log.Error("Failed to record chain dedup on job %s: %v", parent.ID, err)
		}
		return nil
	}
	log.Info("Chained package job %s after transcode %s", job.ID, parent.ID)
	if err := o.store.AppendLog(parent.ID, fmt.Sprintf("chained package job %s", job.ID)); err != nil {
		log.Error("Failed to record chained job on %s: %v", parent.ID, err)
	}
	return nil
}
