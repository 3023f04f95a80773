package app

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/localio"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

// storeSubmitter is the watch.Submitter the folder watcher enqueues
// through — the same Enqueue call POST /jobs uses, so a file dropped
// in a watched folder and a file uploaded over HTTP are
// indistinguishable once they reach the runner.
type storeSubmitter struct {
	store    store.Store
	registry *profiles.Registry
	zones    localio.Zones
}

func (s *storeSubmitter) SubmitFile(ctx context.Context, sourcePath, profileID string) error {
	priority := 5
	if p, ok := s.registry.Get(profileID); ok && p.Priority > 0 {
		priority = p.Priority
	}
	meta, _ := json.Marshal(map[string]any{
		"original_filename": filepath.Base(sourcePath),
		"source":            "folder_watch",
	})
	job := &store.Job{
		ID:         uuid.New(),
		ProfileID:  profileID,
		SourcePath: sourcePath,
		Status:     store.JobQueued,
		Priority:   priority,
		Meta:       datatypes.JSON(meta),
	}
	return s.store.Enqueue(ctx, job)
}
