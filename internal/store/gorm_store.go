package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormStore implements Store over gorm: transactions for every
// multi-row mutation, SELECT ... FOR UPDATE SKIP LOCKED for
// claim_next, and a startup reset that requeues every PROCESSING job
// left behind by a dead worker.
type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *gormStore {
	return &gormStore{db: db}
}

// forUpdate applies a row lock when the backing dialect actually
// supports one (Postgres); sqlite has no such grammar and relies on
// its own database-level write serialization instead.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (s *gormStore) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	if job.Priority == 0 {
		job.Priority = 5
	}
	err := s.db.WithContext(ctx).Create(job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &ConflictError{ID: job.ID.String()}
		}
		return err
	}
	return nil
}

// ClaimNext atomically transitions the oldest QUEUED job at the lowest
// priority value to PROCESSING. Mirrors ClaimNextRunnable's
// transaction + row lock shape; ordering is priority ASC, created_at
// ASC.
func (s *gormStore) ClaimNext(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", JobQueued).
			Order("priority ASC, created_at ASC").
			Limit(1)
		// SKIP LOCKED is Postgres-only syntax; the sqlite driver used
		// in unit tests has no row-level locking grammar at all and
		// serializes writers at the database level instead.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var job Job
		err := q.Take(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		now := time.Now()
		job.Status = JobProcessing
		job.LockedAt = &now
		job.HeartbeatAt = &now
		if err := tx.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":       JobProcessing,
			"locked_at":    now,
			"heartbeat_at": now,
		}).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *gormStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Kind: "job", ID: id.String()}
		}
		return nil, err
	}
	return &job, nil
}

func (s *gormStore) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	q := s.db.WithContext(ctx).Model(&Job{}).Order("created_at DESC")
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.ProfileID != nil {
		q = q.Where("profile_id = ?", *filter.ProfileID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var jobs []Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *gormStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&StageResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Job{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &NotFoundError{Kind: "job", ID: id.String()}
		}
		return nil
	})
}

// CancelJob marks a QUEUED/PROCESSING job CANCELLED. Never overwrites
// a job already in a terminal status.
func (s *gormStore) CancelJob(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := forUpdate(tx).Where("id = ?", id).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Kind: "job", ID: id.String()}
			}
			return err
		}
		if job.Status.IsTerminal() {
			return &AlreadyTerminalError{ID: id.String(), Status: job.Status}
		}
		now := time.Now()
		return tx.Model(&Job{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":       JobCancelled,
			"completed_at": now,
		}).Error
	})
}

func (s *gormStore) GetStage(ctx context.Context, jobID uuid.UUID, stageID string) (*StageResult, error) {
	var sr StageResult
	err := s.db.WithContext(ctx).Where("job_id = ? AND stage_id = ?", jobID, stageID).Take(&sr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sr, nil
}

func (s *gormStore) ListStages(ctx context.Context, jobID uuid.UUID) ([]StageResult, error) {
	var rows []StageResult
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertStage writes the stage transition and the job's current_stage
// in the same transaction so a crash never leaves one updated without
// the other.
func (s *gormStore) UpsertStage(ctx context.Context, jobID uuid.UUID, stageID string, currentStage string, mut StageMutation) (*StageResult, error) {
	var result StageResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing StageResult
		err := tx.Where("job_id = ? AND stage_id = ?", jobID, stageID).Take(&existing).Error
		now := time.Now()
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			existing = StageResult{
				ID:        uuid.New(),
				JobID:     jobID,
				StageID:   stageID,
				Status:    StagePending,
				CreatedAt: now,
			}
		}
		applyStageMutation(&existing, mut)
		existing.UpdatedAt = now
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "stage_id"}},
			UpdateAll: true,
		}).Create(&existing).Error; err != nil {
			return err
		}
		jobUpdates := map[string]interface{}{"current_stage": currentStage}
		if existing.Status == StageComplete {
			var totalCost float64
			if err := tx.Model(&StageResult{}).
				Where("job_id = ? AND status = ?", jobID, StageComplete).
				Select("COALESCE(SUM(cost_estimate), 0)").
				Scan(&totalCost).Error; err != nil {
				return err
			}
			jobUpdates["cost_estimate"] = totalCost
		}
		if err := tx.Model(&Job{}).Where("id = ?", jobID).Updates(jobUpdates).Error; err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func applyStageMutation(sr *StageResult, mut StageMutation) {
	if mut.Status != "" {
		sr.Status = mut.Status
	}
	if mut.StartedAt != nil {
		sr.StartedAt = mut.StartedAt
	}
	if mut.CompletedAt != nil {
		sr.CompletedAt = mut.CompletedAt
	}
	if mut.ModelUsed != nil {
		sr.ModelUsed = mut.ModelUsed
	}
	if mut.InputTokens != nil {
		sr.InputTokens = *mut.InputTokens
	}
	if mut.OutputTokens != nil {
		sr.OutputTokens = *mut.OutputTokens
	}
	if mut.CostEstimate != nil {
		sr.CostEstimate = *mut.CostEstimate
	}
	if mut.OutputPath != nil {
		sr.OutputPath = mut.OutputPath
	}
	if mut.Error != nil {
		sr.Error = mut.Error
	}
}

// FinalizeJob performs the terminal transition and, for COMPLETE,
// recomputes cost_estimate as the sum over completed stages. Rejects
// if the job is already terminal.
func (s *gormStore) FinalizeJob(ctx context.Context, jobID uuid.UUID, status JobStatus, errMsg *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := forUpdate(tx).Where("id = ?", jobID).Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Kind: "job", ID: jobID.String()}
			}
			return err
		}
		if job.Status.IsTerminal() {
			return &AlreadyTerminalError{ID: jobID.String(), Status: job.Status}
		}
		var totalCost float64
		if status == JobComplete {
			if err := tx.Model(&StageResult{}).
				Where("job_id = ? AND status = ?", jobID, StageComplete).
				Select("COALESCE(SUM(cost_estimate), 0)").
				Scan(&totalCost).Error; err != nil {
				return err
			}
		} else {
			totalCost = job.CostEstimate
		}
		now := time.Now()
		updates := map[string]interface{}{
			"status":        status,
			"completed_at":  now,
			"cost_estimate": totalCost,
		}
		if errMsg != nil {
			updates["error"] = *errMsg
		}
		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// ResetOrphans reclaims every PROCESSING job, setting it back to
// QUEUED. Called once at worker startup: with a single-worker design,
// any job still PROCESSING at startup necessarily belongs to a worker
// instance that died without finalizing it. StageResult rows are left
// untouched so resume picks up from the first incomplete stage.
func (s *gormStore) ResetOrphans(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("status = ?", JobProcessing).
		Updates(map[string]interface{}{"status": JobQueued, "locked_at": nil, "heartbeat_at": nil})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *gormStore) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Update("heartbeat_at", time.Now()).Error
}
