// Package store is the persistence layer: the single-writer, durable
// record of jobs, stage results, cost, and outputs. Split into two
// tables — Job and StageResult — because a job's stage history needs
// a unique-per-(job_id,stage_id) row rather than a single wide row.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobComplete   JobStatus = "COMPLETE"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether a Job in this status can never change
// status again per the monotone-terminal-state invariant.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobComplete, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageRunning   StageStatus = "RUNNING"
	StageComplete  StageStatus = "COMPLETE"
	StageFailed    StageStatus = "FAILED"
)

// Reserved built-in stage ids for the default (non-profile) pipeline.
const (
	StageTranscription = "transcription"
	StageDiarization   = "diarization"
	StageFormatting    = "formatting"
	StageOutput        = "output"
)

// Job is one submitted unit of work over a single media file.
type Job struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProfileID    string     `gorm:"column:profile_id;index;not null"`
	SourcePath   string     `gorm:"column:source_path;not null"`
	Status       JobStatus  `gorm:"column:status;index;not null"`
	CurrentStage *string    `gorm:"column:current_stage"`
	Priority     int        `gorm:"column:priority;index;not null;default:5"`
	CostEstimate float64    `gorm:"column:cost_estimate;not null;default:0"`
	Error        *string    `gorm:"column:error"`

	// Meta is free-form intake metadata (original filename, upload
	// size, submission source) set once when the job is created.
	Meta datatypes.JSON `gorm:"column:meta"`

	CreatedAt   time.Time  `gorm:"column:created_at;index;not null"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`

	// LockedAt/HeartbeatAt back claim_next()/reset_orphans(): a worker
	// claiming a job stamps both, and reset_orphans() at startup clears
	// them while returning every PROCESSING job to the queue.
	LockedAt    *time.Time `gorm:"column:locked_at"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at"`
}

func (Job) TableName() string { return "job" }

// StageResult is one row per (job, stage) pair the runner has touched.
type StageResult struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey"`
	JobID        uuid.UUID   `gorm:"column:job_id;index;not null"`
	StageID      string      `gorm:"column:stage_id;not null"`
	Status       StageStatus `gorm:"column:status;not null"`
	StartedAt    *time.Time  `gorm:"column:started_at"`
	CompletedAt  *time.Time  `gorm:"column:completed_at"`
	ModelUsed    *string     `gorm:"column:model_used"`
	InputTokens  int         `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens int         `gorm:"column:output_tokens;not null;default:0"`
	CostEstimate float64     `gorm:"column:cost_estimate;not null;default:0"`
	OutputPath   *string     `gorm:"column:output_path"`
	Error        *string     `gorm:"column:error"`
	CreatedAt    time.Time   `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time   `gorm:"column:updated_at;not null"`
}

func (StageResult) TableName() string { return "stage_result" }

// AutoMigrateAll runs every table's migration in one call, a flat
// list invoked once at startup.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(&Job{}, &StageResult{}); err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_stage_result_job_stage ON stage_result (job_id, stage_id)`).Error
}
