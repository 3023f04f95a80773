package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

// fakeStore is an in-memory store.Store good enough to drive the
// runner's resume/idempotence logic in tests without a database.
type fakeStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*store.Job
	stages map[uuid.UUID]map[string]*store.StageResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:   map[uuid.UUID]*store.Job{},
		stages: map[uuid.UUID]map[string]*store.StageResult{},
	}
}

func (s *fakeStore) Enqueue(ctx context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = store.JobQueued
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) ClaimNext(ctx context.Context) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.Job
	for _, j := range s.jobs {
		if j.Status != store.JobQueued {
			continue
		}
		if best == nil || j.Priority < best.Priority || (j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = store.JobProcessing
	cp := *best
	return &cp, nil
}

func (s *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, &store.NotFoundError{Kind: "job", ID: id.String()}
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Job
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (s *fakeStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	delete(s.stages, id)
	return nil
}

func (s *fakeStore) CancelJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return &store.NotFoundError{Kind: "job", ID: id.String()}
	}
	j.Status = store.JobCancelled
	return nil
}

func (s *fakeStore) GetStage(ctx context.Context, jobID uuid.UUID, stageID string) (*store.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.stages[jobID]
	if !ok {
		return nil, nil
	}
	sr, ok := m[stageID]
	if !ok {
		return nil, nil
	}
	cp := *sr
	return &cp, nil
}

func (s *fakeStore) ListStages(ctx context.Context, jobID uuid.UUID) ([]store.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.StageResult
	for _, sr := range s.stages[jobID] {
		out = append(out, *sr)
	}
	return out, nil
}

func (s *fakeStore) UpsertStage(ctx context.Context, jobID uuid.UUID, stageID string, currentStage string, mut store.StageMutation) (*store.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stages[jobID] == nil {
		s.stages[jobID] = map[string]*store.StageResult{}
	}
	sr, ok := s.stages[jobID][stageID]
	if !ok {
		sr = &store.StageResult{ID: uuid.New(), JobID: jobID, StageID: stageID, Status: store.StagePending, CreatedAt: time.Now()}
		s.stages[jobID][stageID] = sr
	}
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

	if j, ok := s.jobs[jobID]; ok {
		cs := currentStage
		j.CurrentStage = &cs
		if sr.Status == store.StageComplete {
			var total float64
			for _, row := range s.stages[jobID] {
				if row.Status == store.StageComplete {
					total += row.CostEstimate
				}
			}
			j.CostEstimate = total
		}
	}
	cp := *sr
	return &cp, nil
}

func (s *fakeStore) FinalizeJob(ctx context.Context, jobID uuid.UUID, status store.JobStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &store.NotFoundError{Kind: "job", ID: jobID.String()}
	}
	if j.Status.IsTerminal() {
		return &store.AlreadyTerminalError{ID: jobID.String(), Status: j.Status}
	}
	now := time.Now()
	j.Status = status
	j.CompletedAt = &now
	if errMsg != nil {
		j.Error = errMsg
	}
	return nil
}

func (s *fakeStore) ResetOrphans(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Status == store.JobProcessing {
			j.Status = store.JobQueued
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	return nil
}
