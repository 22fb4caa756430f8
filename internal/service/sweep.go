package service

import (
	"time"

	"github.com/sannti97/superstreamer/internal/jobs"
	"github.com/sannti97/superstreamer/pkg/log"
)

// runSweep is the periodic maintenance pass: requeue running jobs whose
// worker stopped heartbeating, and prune terminal jobs past the retention
// window. Overlapping cron ticks collapse into one run.
func (o *Orchestrator) runSweep() {
	_, _, _ = o.sweepGroup.Do("sweep", func() (any, error) {
		now := time.Now()

		if timeout := o.cfg.Sweep.HeartbeatTimeout; timeout > 0 {
			reclaimed := o.store.ReclaimStale(now.Add(-timeout))
			for _, job := range reclaimed {
				log.Warn("Requeued stale running job %s (no heartbeat for more than %s)", job.ID, timeout)
				o.queueFor(job.Stage).Dispatch(job.ID)
			}
		}

		if ttl := o.cfg.Sweep.RetentionTTL; ttl > 0 {
			pruned := o.store.PruneExpired(now.Add(-ttl))
			if len(pruned) > 0 {
				log.Info("Pruned %d expired jobs", len(pruned))
			}
		}
		return nil, nil
	})
}

func (o *Orchestrator) queueFor(stage jobs.Stage) *jobs.Queue {
	if stage == jobs.StagePackage {
		return o.packageQ
	}
	return o.transcodeQ
}
