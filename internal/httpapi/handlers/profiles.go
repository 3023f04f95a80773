package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi/dto"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi/response"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/llm"
)

// dryRunCharLimit bounds POST /profiles/{id}/dry-run's input so an
// accidental full-transcript paste doesn't burn a full stage's worth
// of tokens against the configured provider.
const dryRunCharLimit = 5000

type ProfilesHandler struct {
	log       *logger.Logger
	registry  *profiles.Registry
	llmClient *llm.Client
}

func NewProfilesHandler(log *logger.Logger, registry *profiles.Registry, llmClient *llm.Client) *ProfilesHandler {
	return &ProfilesHandler{log: log.With("component", "ProfilesHandler"), registry: registry, llmClient: llmClient}
}

func (h *ProfilesHandler) ListProfiles(c *gin.Context) {
	all := h.registry.All()
	out := make([]dto.ProfileDTO, 0, len(all))
	for _, p := range all {
		out = append(out, dto.NewProfileDTO(p))
	}
	response.RespondOK(c, gin.H{"profiles": out})
}

func (h *ProfilesHandler) GetProfile(c *gin.Context) {
	p, ok := h.registry.Get(c.Param("id"))
	if !ok {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("profile not found"))
		return
	}
	response.RespondOK(c, dto.NewProfileDTO(p))
}

// CreateProfile implements POST /profiles: writes the yaml definition
// and any inline prompt bodies to disk, then reloads the registry.
func (h *ProfilesHandler) CreateProfile(c *gin.Context) {
	var req dto.CreateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if !profiles.ValidID(req.ID) {
		response.RespondError(c, http.StatusBadRequest, "invalid_profile_id", errors.New("profile id must match ^[a-z0-9][a-z0-9_-]{0,63}$"))
		return
	}
	if _, exists := h.registry.Get(req.ID); exists {
		response.RespondError(c, http.StatusConflict, "profile_exists", errors.New("profile already exists"))
		return
	}
	p, err := h.registry.CreateProfile(req.ToSpec())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "create_profile_failed", err)
		return
	}
	response.RespondCreated(c, dto.NewProfileDTO(p))
}

func (h *ProfilesHandler) DeleteProfile(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.registry.Get(id); !ok {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("profile not found"))
		return
	}
	if err := h.registry.DeleteProfileFile(id); err != nil {
		response.RespondError(c, http.StatusBadRequest, "delete_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true, "id": id})
}

// GetPrompt implements GET /profiles/{id}/prompts/{stage_index}.
func (h *ProfilesHandler) GetPrompt(c *gin.Context) {
	p, ok := h.registry.Get(c.Param("id"))
	if !ok {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("profile not found"))
		return
	}
	idx, err := strconv.Atoi(c.Param("stage_index"))
	if err != nil || idx < 0 || idx >= len(p.Stages) {
		response.RespondError(c, http.StatusBadRequest, "invalid_stage_index", errors.New("stage index out of range"))
		return
	}
	response.RespondOK(c, gin.H{"stage": p.Stages[idx].Name, "prompt_body": p.Stages[idx].PromptTemplate})
}

// PutPrompt implements PUT /profiles/{id}/prompts/{stage_index}.
func (h *ProfilesHandler) PutPrompt(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("stage_index"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stage_index", err)
		return
	}
	var body struct {
		PromptBody string `json:"prompt_body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	p, err := h.registry.UpdatePromptByIndex(c.Param("id"), idx, body.PromptBody)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "update_prompt_failed", err)
		return
	}
	response.RespondOK(c, dto.NewProfileDTO(p))
}

// DryRun implements POST /profiles/{id}/dry-run: runs one of the
// profile's stages (stage_index, default 0, the first stage) against a
// caller-supplied transcript snippet without
// creating a job or persisting anything, letting a profile author
// preview a prompt/model combination before submitting real audio.
func (h *ProfilesHandler) DryRun(c *gin.Context) {
	p, ok := h.registry.Get(c.Param("id"))
	if !ok {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("profile not found"))
		return
	}
	if len(p.Stages) == 0 {
		response.RespondError(c, http.StatusBadRequest, "no_stages", errors.New("profile has no stages to run"))
		return
	}
	var body struct {
		Transcript string `json:"transcript" binding:"required"`
		StageIndex int    `json:"stage_index"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if body.StageIndex < 0 || body.StageIndex >= len(p.Stages) {
		response.RespondError(c, http.StatusBadRequest, "invalid_stage_index", errors.New("stage index out of range"))
		return
	}
	transcript := body.Transcript
	if len(transcript) > dryRunCharLimit {
		transcript = transcript[:dryRunCharLimit]
	}

	stage := p.Stages[body.StageIndex]
	result, err := h.llmClient.Run(c.Request.Context(), llm.Request{
		Model:          stage.Model,
		Provider:       stage.Provider,
		SystemMessage:  stage.SystemMessage,
		PromptTemplate: stage.PromptTemplate,
		Transcript:     transcript,
		Temperature:    stage.Temperature,
		MaxTokens:      stage.MaxTokens,
		Timeout:        time.Duration(stage.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "dry_run_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"stage":         stage.Name,
		"model":         result.ModelUsed,
		"output":        result.Content,
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
		"truncated":     len(body.Transcript) > dryRunCharLimit,
	})
}
