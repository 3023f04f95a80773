// Package handlers holds the intake HTTP API's resource handlers, one
// thin struct per resource over the store/registry: the constructor
// takes the services it fronts, each method parses params, calls
// through, and maps errors onto response.RespondError.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi/dto"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi/response"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/localio"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/output"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

// maxUploadBytes is the 500 MB hard cap on POST /jobs.
const maxUploadBytes = 500 * 1024 * 1024

// allowedExtensions is the media allow-list, audio then video.
var allowedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true, ".ogg": true, ".aac": true, ".wma": true,
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".flv": true,
}

type JobsHandler struct {
	log      *logger.Logger
	store    store.Store
	registry *profiles.Registry
	zones    localio.Zones
	outRoot  string
}

func NewJobsHandler(log *logger.Logger, st store.Store, registry *profiles.Registry, zones localio.Zones, outputRoot string) *JobsHandler {
	return &JobsHandler{log: log.With("component", "JobsHandler"), store: st, registry: registry, zones: zones, outRoot: outputRoot}
}

// CreateJob implements POST /jobs: multipart upload + profile_id,
// validated against the extension allow-list and the 500 MB cap
// during the streamed write.
func (h *JobsHandler) CreateJob(c *gin.Context) {
	profileID := strings.TrimSpace(c.PostForm("profile_id"))
	if profileID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_profile_id", errors.New("profile_id is required"))
		return
	}
	if _, ok := h.registry.Get(profileID); !ok {
		response.RespondError(c, http.StatusBadRequest, "unknown_profile", fmt.Errorf("unknown profile %q", profileID))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		response.RespondError(c, http.StatusBadRequest, "unsupported_file_type", fmt.Errorf("extension %q not allowed", ext))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		response.RespondError(c, http.StatusBadRequest, "file_too_large", fmt.Errorf("file exceeds %d byte cap", maxUploadBytes))
		return
	}

	priority := 5
	if p, ok := h.registry.Get(profileID); ok && p.Priority > 0 {
		priority = p.Priority
	}
	if raw := strings.TrimSpace(c.PostForm("priority")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 1 && v <= 10 {
			priority = v
		}
	}

	jobID := uuid.New()
	destPath := h.zones.UploadPath(jobID.String(), fileHeader.Filename)
	if err := saveUploadedFile(fileHeader, destPath, maxUploadBytes); err != nil {
		response.RespondError(c, http.StatusBadRequest, "upload_failed", err)
		return
	}

	meta, _ := json.Marshal(map[string]any{
		"original_filename": fileHeader.Filename,
		"size_bytes":        fileHeader.Size,
		"source":            "upload",
	})
	job := &store.Job{
		ID:         jobID,
		ProfileID:  profileID,
		SourcePath: destPath,
		Status:     store.JobQueued,
		Priority:   priority,
		Meta:       datatypes.JSON(meta),
	}
	if err := h.store.Enqueue(c.Request.Context(), job); err != nil {
		_ = os.Remove(destPath)
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondCreated(c, dto.NewJobDTO(job))
}

// saveUploadedFile streams a multipart upload to destPath, capping the
// read at limit bytes via http.MaxBytesReader semantics applied
// manually (io.LimitReader + a size check) since the multipart file
// itself is already fully spooled by gin by the time FormFile returns.
func saveUploadedFile(fh *multipart.FileHeader, destPath string, limit int64) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("mkdir upload dir: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create dest: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(src, limit+1))
	if err != nil {
		return fmt.Errorf("write upload: %w", err)
	}
	if written > limit {
		_ = out.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("upload exceeds %d byte cap", limit)
	}
	return out.Sync()
}

// GetJob implements GET /jobs/{id}: the Job plus a materialized list
// of output files (scanning the output directory by filename stem)
// and a per-stage cost breakdown.
func (h *JobsHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	stages, err := h.store.ListStages(c.Request.Context(), id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_stages_failed", err)
		return
	}
	stageDTOs := make([]dto.StageResultDTO, 0, len(stages))
	for _, sr := range stages {
		stageDTOs = append(stageDTOs, dto.NewStageResultDTO(sr))
	}

	outputs := h.materializeOutputs(job)

	response.RespondOK(c, gin.H{
		"job":     dto.NewJobDTO(job),
		"stages":  stageDTOs,
		"outputs": outputs,
	})
}

// ListOutputs implements GET /jobs/{id}/outputs.
func (h *JobsHandler) ListOutputs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"outputs": h.materializeOutputs(job)})
}

// ListJobs implements GET /jobs: paginated, filtered by status/profile_id,
// ordered by created_at desc (the store already orders this way).
func (h *JobsHandler) ListJobs(c *gin.Context) {
	filter := store.JobFilter{Limit: 50}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		s := store.JobStatus(strings.ToUpper(raw))
		filter.Status = &s
	}
	if raw := strings.TrimSpace(c.Query("profile_id")); raw != "" {
		filter.ProfileID = &raw
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			filter.Limit = v
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_jobs_failed", err)
		return
	}
	dtos := make([]dto.JobDTO, 0, len(jobs))
	for i := range jobs {
		dtos = append(dtos, dto.NewJobDTO(&jobs[i]))
	}
	response.RespondOK(c, gin.H{"jobs": dtos, "limit": filter.Limit, "offset": filter.Offset})
}

// DeleteJob implements DELETE /jobs/{id}, split by job state: a
// non-terminal job is cancelled in place (the runner halts at its
// next stage boundary); a terminal job is removed outright, stage
// rows then the job row, which is how a failed job gets cleared for
// resubmission.
func (h *JobsHandler) DeleteJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.store.GetJob(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	if job.Status.IsTerminal() {
		if err := h.store.DeleteJob(c.Request.Context(), id); err != nil {
			h.respondStoreError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"deleted": true, "id": id.String()})
		return
	}
	if err := h.store.CancelJob(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"cancelled": true, "id": id.String()})
}

func (h *JobsHandler) respondStoreError(c *gin.Context, err error) {
	var nf *store.NotFoundError
	var term *store.AlreadyTerminalError
	switch {
	case errors.As(err, &nf):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.As(err, &term):
		response.RespondError(c, http.StatusConflict, "already_terminal", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "store_error", err)
	}
}

// materializeOutputs scans the profile's output directory for every
// file whose name begins with the job's source basename.
func (h *JobsHandler) materializeOutputs(job *store.Job) []dto.OutputFileDTO {
	profile, ok := h.registry.Get(job.ProfileID)
	if !ok {
		return nil
	}
	dir := OutputDirFor(h.outRoot, profile)
	baseName := strings.TrimSuffix(filepath.Base(job.SourcePath), filepath.Ext(job.SourcePath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []dto.OutputFileDTO
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), baseName) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, dto.OutputFileDTO{
			Path:      filepath.Join(dir, entry.Name()),
			Name:      entry.Name(),
			Type:      fileType(entry.Name()),
			Stage:     stageForOutputFile(entry.Name(), baseName, profile),
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func fileType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return "markdown"
	case ".docx":
		return "document"
	case ".html":
		return "html"
	case ".json":
		return "json"
	default:
		return "file"
	}
}

// stageForOutputFile maps a materialized filename back to the stage
// that produced it: output.SafeFilename(base, suffix, ext) means the
// bare base+ext file is the final "output" stage, anything with a
// suffix matches the stage whose FilenameSuffix (or name) produced it.
func stageForOutputFile(name, baseName string, p *profiles.Profile) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == sanitizedStem(baseName, "") {
		return store.StageOutput
	}
	for _, st := range p.Stages {
		suffix := st.FilenameSuffix
		if suffix == "" {
			suffix = st.Name
		}
		if stem == sanitizedStem(baseName, suffix) {
			return st.Name
		}
	}
	return "unknown"
}

func sanitizedStem(base, suffix string) string {
	name := output.SafeFilename(base, suffix, "")
	return name
}

// OutputDirFor maps a profile's routing hint onto a concrete directory
// under root, mirroring internal/runner/pipeline.go's profileOutputDir
// so the HTTP API and the runner agree on where outputs live.
func OutputDirFor(root string, p *profiles.Profile) string {
	folder := p.Syncthing.ResolvedFolder()
	if folder == "" {
		return root
	}
	if p.Syncthing.Subfolder != "" {
		return filepath.Join(root, folder, p.Syncthing.Subfolder)
	}
	return filepath.Join(root, folder)
}

