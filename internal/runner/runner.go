// Package runner is the Job Runner: the central resumable state
// machine. One instance per worker process, single-threaded over job
// progression — each claimed job runs to termination before the next
// is claimed, and no two stages of one job ever run concurrently.
// Stage execution is an inline sequence with direct executor calls;
// there is no child-job indirection, so a restart resumes a job from
// its first incomplete stage using the StageResult rows and on-disk
// artifacts alone.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/eventbus"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/localio"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/notify"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/output"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/diarize"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/llm"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

// ASRClient is the subset of asr.Client the runner depends on, split
// out so tests can substitute a fake instead of shelling out to
// ffmpeg and a real endpoint.
type ASRClient interface {
	Transcribe(ctx context.Context, mediaPath string) (stage.ASRResult, error)
}

// LLMClient is the subset of llm.Client the runner depends on.
type LLMClient interface {
	Run(ctx context.Context, req llm.Request) (llm.Result, error)
}

const (
	defaultPollInterval      = 3 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// Runner is the Job Runner. Construct with New and drive with Run,
// which blocks until ctx is cancelled.
type Runner struct {
	log        *logger.Logger
	store      store.Store
	registry   *profiles.Registry
	asr        ASRClient
	diarizer   diarize.Diarizer
	llm        LLMClient
	bus        eventbus.Bus
	writer     *output.Writer
	notifier   *notify.Fanout
	zones      localio.Zones
	outputRoot string

	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

func New(
	log *logger.Logger,
	st store.Store,
	registry *profiles.Registry,
	asr ASRClient,
	diarizer diarize.Diarizer,
	llmClient LLMClient,
	bus eventbus.Bus,
	writer *output.Writer,
	notifier *notify.Fanout,
	zones localio.Zones,
	outputRoot string,
) *Runner {
	return &Runner{
		log:               log.With("component", "JobRunner"),
		store:             st,
		registry:          registry,
		asr:               asr,
		diarizer:          diarizer,
		llm:               llmClient,
		bus:               bus,
		writer:            writer,
		notifier:          notifier,
		zones:             zones,
		outputRoot:        outputRoot,
		pollInterval:      defaultPollInterval,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// Run resets orphaned PROCESSING jobs from a prior crash, then loops
// forever: claim_next(), process to termination, repeat. Exits when
// ctx is cancelled. An empty queue sleeps a bounded interval before
// retrying; a successful claim loops again immediately so a backlog
// drains at full rate.
func (r *Runner) Run(ctx context.Context) error {
	n, err := r.store.ResetOrphans(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Warn("reclaimed orphaned processing jobs on startup", "count", n)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := r.store.ClaimNext(ctx)
		if err != nil {
			r.log.Warn("claim_next failed", "error", err)
			if !sleepOrDone(ctx, r.pollInterval) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleepOrDone(ctx, r.pollInterval) {
				return ctx.Err()
			}
			continue
		}

		r.runOneJob(ctx, job)
	}
}

// runOneJob wraps processJob with the heartbeat goroutine and panic
// recovery, so a panicking stage still finalizes the job FAILED
// instead of killing the worker loop.
func (r *Runner) runOneJob(ctx context.Context, job *store.Job) {
	stopHB := r.startHeartbeat(ctx, job.ID)
	defer stopHB()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("job handler panic", "job_id", job.ID, "panic", rec)
			r.failJob(ctx, job, errorx.LocalIO("panic during job processing", nil))
		}
	}()

	if err := r.processJob(ctx, job); err != nil {
		if err == errorx.Cancelled {
			r.log.Info("job processing stopped: cancelled", "job_id", job.ID)
			return
		}
		r.failJob(ctx, job, err)
	}
}

func (r *Runner) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(r.heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := r.store.Heartbeat(ctx, jobID); err != nil {
					r.log.Warn("heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

// checkCancelled polls the job's current status between stages:
// in-flight RPCs are never interrupted, the runner halts at the next
// stage boundary.
func (r *Runner) checkCancelled(ctx context.Context, jobID uuid.UUID) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil
	}
	if job.Status == store.JobCancelled {
		return errorx.Cancelled
	}
	return nil
}

func (r *Runner) publish(ctx context.Context, job *store.Job, status, currentStage, errMsg, stageDetail string) {
	evt := eventbus.Event{
		JobID:        job.ID.String(),
		Status:       status,
		CurrentStage: currentStage,
		Error:        errMsg,
		CostEstimate: job.CostEstimate,
		StageDetail:  stageDetail,
		Timestamp:    time.Now(),
	}
	if err := r.bus.Publish(ctx, evt); err != nil {
		r.log.Warn("event publish failed", "job_id", job.ID, "error", err)
	}
}

// failJob finalizes the job FAILED, publishes the transition, and
// moves the source file to the error zone. Best-effort: a failure
// here is logged, never propagated, since there is no caller left to
// hand it to.
func (r *Runner) failJob(ctx context.Context, job *store.Job, cause error) {
	msg := cause.Error()
	r.log.Error("job failed", "job_id", job.ID, "error", msg)

	if err := r.store.FinalizeJob(ctx, job.ID, store.JobFailed, &msg); err != nil {
		r.log.Warn("finalize failed job errored", "job_id", job.ID, "error", err)
	}
	job.Status = store.JobFailed
	job.Error = &msg
	r.publish(ctx, job, string(store.JobFailed), valueOr(job.CurrentStage, ""), msg, "")

	qPath := r.zones.QuarantinePath(job.ID.String(), job.SourcePath)
	src := qPath
	if !localio.Exists(src) {
		src = job.SourcePath
	}
	if localio.Exists(src) {
		dst := r.zones.ErrorPath(job.ID.String(), job.SourcePath)
		if err := localio.Move(src, dst); err != nil {
			r.log.Warn("failed to move source file to error zone", "job_id", job.ID, "error", err)
		}
	}
}

func valueOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
