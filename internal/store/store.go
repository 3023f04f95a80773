package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobFilter backs GET /jobs's status/profile_id filters and pagination.
type JobFilter struct {
	Status    *JobStatus
	ProfileID *string
	Limit     int
	Offset    int
}

// StageMutation carries the fields upsert_stage writes; nil fields are
// left unchanged so callers only set what the current transition
// actually knows (e.g. RUNNING sets only StartedAt).
type StageMutation struct {
	Status       StageStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ModelUsed    *string
	InputTokens  *int
	OutputTokens *int
	CostEstimate *float64
	OutputPath   *string
	Error        *string
}

// Store is the persistence contract the job runner drives every job
// and stage transition through. Every mutation is atomic; a partially
// written stage never occurs.
type Store interface {
	Enqueue(ctx context.Context, job *Job) error
	ClaimNext(ctx context.Context) (*Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	CancelJob(ctx context.Context, id uuid.UUID) error

	GetStage(ctx context.Context, jobID uuid.UUID, stageID string) (*StageResult, error)
	ListStages(ctx context.Context, jobID uuid.UUID) ([]StageResult, error)
	UpsertStage(ctx context.Context, jobID uuid.UUID, stageID string, currentStage string, mut StageMutation) (*StageResult, error)

	FinalizeJob(ctx context.Context, jobID uuid.UUID, status JobStatus, errMsg *string) error
	ResetOrphans(ctx context.Context) (int64, error)
	Heartbeat(ctx context.Context, jobID uuid.UUID) error
}
