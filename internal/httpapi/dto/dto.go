// Package dto holds the wire shapes shared by the httpapi router and
// its handlers, split out from package httpapi to avoid an import
// cycle (handlers need these types; httpapi imports handlers).
package dto

import (
	"encoding/json"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

// JobDTO is the wire shape for a Job.
type JobDTO struct {
	ID           string          `json:"id"`
	ProfileID    string          `json:"profile_id"`
	SourcePath   string          `json:"source_path"`
	Status       string          `json:"status"`
	CurrentStage *string         `json:"current_stage"`
	Priority     int             `json:"priority"`
	CostEstimate float64         `json:"cost_estimate"`
	Error        *string         `json:"error,omitempty"`
	Meta         json.RawMessage `json:"meta,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func NewJobDTO(j *store.Job) JobDTO {
	return JobDTO{
		ID:           j.ID.String(),
		ProfileID:    j.ProfileID,
		SourcePath:   j.SourcePath,
		Status:       string(j.Status),
		CurrentStage: j.CurrentStage,
		Priority:     j.Priority,
		CostEstimate: j.CostEstimate,
		Error:        j.Error,
		Meta:         json.RawMessage(j.Meta),
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// StageResultDTO backs the per-stage cost breakdown included in
// GET /jobs/{id}.
type StageResultDTO struct {
	StageID      string     `json:"stage_id"`
	Status       string     `json:"status"`
	ModelUsed    *string    `json:"model_used,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostEstimate float64    `json:"cost_estimate"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
}

func NewStageResultDTO(sr store.StageResult) StageResultDTO {
	return StageResultDTO{
		StageID:      sr.StageID,
		Status:       string(sr.Status),
		ModelUsed:    sr.ModelUsed,
		InputTokens:  sr.InputTokens,
		OutputTokens: sr.OutputTokens,
		CostEstimate: sr.CostEstimate,
		StartedAt:    sr.StartedAt,
		CompletedAt:  sr.CompletedAt,
		Error:        sr.Error,
	}
}

// OutputFileDTO is one entry in GET /jobs/{id}/outputs.
type OutputFileDTO struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Stage     string `json:"stage"`
	SizeBytes int64  `json:"size_bytes"`
}

// StageDTO is the wire shape for one profile Stage definition.
type StageDTO struct {
	Name             string  `json:"name"`
	PromptFile       string  `json:"prompt_file,omitempty"`
	PromptBody       string  `json:"prompt_body,omitempty"`
	SystemMessage    string  `json:"system_message"`
	Model            string  `json:"model"`
	Provider         string  `json:"provider,omitempty"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TimeoutSeconds   int     `json:"timeout"`
	RequiresPrevious bool    `json:"requires_previous"`
	SaveIntermediate bool    `json:"save_intermediate"`
	FilenameSuffix   string  `json:"filename_suffix,omitempty"`
}

// ProfileDTO is the wire shape for a Profile, including its syncthing
// routing hint and notification channel config.
type ProfileDTO struct {
	ID              string                      `json:"id"`
	Name            string                      `json:"name"`
	Description     string                      `json:"description,omitempty"`
	SkipDiarization bool                        `json:"skip_diarization"`
	Priority        int                         `json:"priority"`
	Stages          []StageDTO                  `json:"stages"`
	ShareFolder     string                      `json:"share_folder,omitempty"`
	Subfolder       string                      `json:"subfolder,omitempty"`
	Notifications   profiles.NotificationConfig `json:"notifications,omitempty"`
}

func NewProfileDTO(p *profiles.Profile) ProfileDTO {
	stages := make([]StageDTO, 0, len(p.Stages))
	for _, s := range p.Stages {
		stages = append(stages, StageDTO{
			Name:             s.Name,
			PromptFile:       s.PromptFile,
			PromptBody:       s.PromptTemplate,
			SystemMessage:    s.SystemMessage,
			Model:            s.Model,
			Provider:         s.Provider,
			Temperature:      s.Temperature,
			MaxTokens:        s.MaxTokens,
			TimeoutSeconds:   s.TimeoutSeconds,
			RequiresPrevious: s.RequiresPrevious,
			SaveIntermediate: s.SaveIntermediate,
			FilenameSuffix:   s.FilenameSuffix,
		})
	}
	return ProfileDTO{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		SkipDiarization: p.SkipDiarization,
		Priority:        p.Priority,
		Stages:          stages,
		ShareFolder:     p.Syncthing.ResolvedFolder(),
		Subfolder:       p.Syncthing.Subfolder,
		Notifications:   p.Notifications,
	}
}

// CreateProfileRequest is the POST /profiles request body.
type CreateProfileRequest struct {
	ID              string                      `json:"id" binding:"required"`
	Name            string                      `json:"name" binding:"required"`
	Description     string                      `json:"description"`
	SkipDiarization bool                        `json:"skip_diarization"`
	Priority        int                         `json:"priority"`
	Stages          []StageDTO                  `json:"stages" binding:"required"`
	ShareFolder     string                      `json:"share_folder"`
	Subfolder       string                      `json:"subfolder"`
	Notifications   profiles.NotificationConfig `json:"notifications"`
}

func (r CreateProfileRequest) ToSpec() profiles.ProfileSpec {
	stages := make([]profiles.Stage, 0, len(r.Stages))
	for _, s := range r.Stages {
		promptFile := s.PromptFile
		if promptFile == "" && s.PromptBody != "" {
			promptFile = r.ID + "_" + s.Name + ".txt"
		}
		stages = append(stages, profiles.Stage{
			Name:             s.Name,
			PromptFile:       promptFile,
			PromptTemplate:   s.PromptBody,
			SystemMessage:    s.SystemMessage,
			Model:            s.Model,
			Provider:         s.Provider,
			Temperature:      s.Temperature,
			MaxTokens:        s.MaxTokens,
			TimeoutSeconds:   s.TimeoutSeconds,
			RequiresPrevious: s.RequiresPrevious,
			SaveIntermediate: s.SaveIntermediate,
			FilenameSuffix:   s.FilenameSuffix,
		})
	}
	return profiles.ProfileSpec{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		SkipDiarization: r.SkipDiarization,
		Priority:        r.Priority,
		Stages:          stages,
		Syncthing:       profiles.SyncthingConfig{ShareFolder: r.ShareFolder, Subfolder: r.Subfolder},
		Notifications:   r.Notifications,
	}
}
