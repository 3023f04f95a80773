package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/cost"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/localio"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/notify"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/output"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/diarize"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/llm"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/merge"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

// processJob drives one claimed job end to end: source-file presence
// check, profile resolution, ASR, the optional diarize+merge step,
// each profile stage in order, output writing, finalize, notify,
// archive. Every profile — including the built-in note-type profiles
// — carries a Stages list (see profiles/builtin.go), so there is no
// separate "default pipeline" code path: Profile.SkipDiarization alone
// decides whether diarize+merge runs before stage 0.
func (r *Runner) processJob(ctx context.Context, job *store.Job) error {
	r.publish(ctx, job, string(store.JobProcessing), "", "", "")

	workingPath, err := r.ensureQuarantined(job)
	if err != nil {
		return err
	}

	profile, ok := r.registry.Get(job.ProfileID)
	if !ok {
		return errorx.Configuration(fmt.Sprintf("unknown profile %q", job.ProfileID), nil)
	}

	dataDir, err := r.zones.JobDataDir(job.ID.String())
	if err != nil {
		return errorx.LocalIO("create job data dir", err)
	}

	asrResult, err := r.runASR(ctx, job, workingPath, dataDir)
	if err != nil {
		return err
	}

	if err := r.checkCancelled(ctx, job.ID); err != nil {
		return err
	}

	pipelineInput, err := r.runDiarizationAndMerge(ctx, job, profile, workingPath, asrResult, dataDir)
	if err != nil {
		return err
	}

	outputs, err := r.runProfileStages(ctx, job, profile, pipelineInput, dataDir)
	if err != nil {
		return err
	}

	finalPath, docPaths, err := r.writeFinalOutput(ctx, job, profile, outputs, asrResult.Duration)
	if err != nil {
		return err
	}

	if err := r.store.FinalizeJob(ctx, job.ID, store.JobComplete, nil); err != nil {
		return errorx.LocalIO("finalize completed job", err)
	}
	finalJob, err := r.store.GetJob(ctx, job.ID)
	if err == nil {
		job = finalJob
	}
	r.publish(ctx, job, string(store.JobComplete), store.StageOutput, "", "")

	r.fireNotifications(ctx, job, profile, outputs, docPaths, asrResult.Duration)
	r.archiveSource(job, workingPath, finalPath)
	return nil
}

// ensureQuarantined checks the quarantine path used during a prior
// attempt first, then the original path. A source found at its
// original path is moved into quarantine now, which is what keeps a
// crash mid-job idempotent: the next attempt finds it already
// quarantined.
func (r *Runner) ensureQuarantined(job *store.Job) (string, error) {
	qPath := r.zones.QuarantinePath(job.ID.String(), job.SourcePath)
	if localio.Exists(qPath) {
		return qPath, nil
	}
	if localio.Exists(job.SourcePath) {
		if err := localio.Move(job.SourcePath, qPath); err != nil {
			return "", errorx.LocalIO("move source file into quarantine", err)
		}
		return qPath, nil
	}
	return "", &errorx.FileMissingError{Path: job.SourcePath}
}

const asrArtifactFilename = "transcription.json"

// runASR applies the uniform idempotent executor contract: reload the
// cached artifact when the stage is already COMPLETE and its file is
// readable, otherwise transcribe and persist.
func (r *Runner) runASR(ctx context.Context, job *store.Job, mediaPath, dataDir string) (stage.ASRResult, error) {
	artifactPath := filepath.Join(dataDir, asrArtifactFilename)

	if sr, err := r.store.GetStage(ctx, job.ID, store.StageTranscription); err == nil && sr != nil &&
		sr.Status == store.StageComplete && sr.OutputPath != nil && localio.Exists(*sr.OutputPath) {
		var cached stage.ASRResult
		raw, err := os.ReadFile(*sr.OutputPath)
		if err == nil {
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return cached, nil
			}
		}
		r.log.Warn("cached asr artifact unreadable, re-transcribing", "job_id", job.ID, "error", err)
	}

	now := time.Now()
	if _, err := r.store.UpsertStage(ctx, job.ID, store.StageTranscription, store.StageTranscription, store.StageMutation{
		Status:    store.StageRunning,
		StartedAt: &now,
	}); err != nil {
		return stage.ASRResult{}, errorx.LocalIO("mark transcription running", err)
	}
	r.publish(ctx, job, string(store.JobProcessing), store.StageTranscription, "", "")

	result, err := r.asr.Transcribe(ctx, mediaPath)
	if err != nil {
		r.markStageFailed(ctx, job.ID, store.StageTranscription, err)
		return stage.ASRResult{}, err
	}

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		err = errorx.LocalIO("encode asr artifact", err)
		r.markStageFailed(ctx, job.ID, store.StageTranscription, err)
		return stage.ASRResult{}, err
	}
	if err := os.WriteFile(artifactPath, raw, 0o644); err != nil {
		err = errorx.LocalIO("write asr artifact", err)
		r.markStageFailed(ctx, job.ID, store.StageTranscription, err)
		return stage.ASRResult{}, err
	}

	completed := time.Now()
	if _, err := r.store.UpsertStage(ctx, job.ID, store.StageTranscription, store.StageTranscription, store.StageMutation{
		Status:      store.StageComplete,
		CompletedAt: &completed,
		OutputPath:  &artifactPath,
	}); err != nil {
		return stage.ASRResult{}, errorx.LocalIO("mark transcription complete", err)
	}
	return result, nil
}

const diarizationArtifactFilename = "diarization.json"

// runDiarizationAndMerge builds the initial pipeline input: the raw
// runDiarizationAndMerge builds the initial pipeline input: the raw
// ASR text when the profile skips diarization, or a speaker-labeled
// transcript otherwise. Diarization failure is non-fatal: the stage
// row is recorded FAILED with its error string, the single-speaker
// fallback is substituted, and the job carries on to completion.
func (r *Runner) runDiarizationAndMerge(ctx context.Context, job *store.Job, profile *profiles.Profile, mediaPath string, asrResult stage.ASRResult, dataDir string) (string, error) {
	if profile.SkipDiarization {
		return asrResult.Text, nil
	}

	artifactPath := filepath.Join(dataDir, diarizationArtifactFilename)

	if sr, err := r.store.GetStage(ctx, job.ID, store.StageDiarization); err == nil && sr != nil &&
		sr.Status == store.StageComplete && sr.OutputPath != nil && localio.Exists(*sr.OutputPath) {
		if cached, err := os.ReadFile(*sr.OutputPath); err == nil {
			return string(cached), nil
		}
	}

	now := time.Now()
	if _, err := r.store.UpsertStage(ctx, job.ID, store.StageDiarization, store.StageDiarization, store.StageMutation{
		Status:    store.StageRunning,
		StartedAt: &now,
	}); err != nil {
		return "", errorx.LocalIO("mark diarization running", err)
	}
	r.publish(ctx, job, string(store.JobProcessing), store.StageDiarization, "", "")

	segments, diarErr := r.diarizer.Diarize(ctx, mediaPath)
	if diarErr != nil {
		r.log.Warn("diarization failed, substituting single-speaker fallback", "job_id", job.ID, "error", diarErr)
		r.markStageFailed(ctx, job.ID, store.StageDiarization, diarErr)
		segments = diarize.SingleSpeakerFallback(asrResult.Duration)
	}

	merged := merge.Merge(asrResult.Segments, segments)
	transcript := merge.FormatTranscript(merged)

	// The stage row only reaches COMPLETE on a real diarization run; a
	// fallback transcript is usable pipeline input but stays FAILED so
	// a later resume retries the model rather than trusting it.
	if diarErr == nil {
		if err := os.WriteFile(artifactPath, []byte(transcript), 0o644); err != nil {
			return "", errorx.LocalIO("write diarization artifact", err)
		}
		completed := time.Now()
		if _, err := r.store.UpsertStage(ctx, job.ID, store.StageDiarization, store.StageDiarization, store.StageMutation{
			Status:      store.StageComplete,
			CompletedAt: &completed,
			OutputPath:  &artifactPath,
		}); err != nil {
			return "", errorx.LocalIO("mark diarization complete", err)
		}
	}
	return transcript, nil
}

// stageOutput is one completed LLM stage's text plus where it lives on
// disk, kept so the final output and notification attachments can
// reference it without re-reading every stage from the store.
type stageOutput struct {
	stage      profiles.Stage
	content    string
	outputPath string
}

// runProfileStages walks profile.Stages in declared order, chaining
// each stage's output into the next stage's {transcript} substitution.
// A stage named "clean" backs {cleaned_transcript} substitution for
// any later stage that references it.
func (r *Runner) runProfileStages(ctx context.Context, job *store.Job, profile *profiles.Profile, pipelineInput string, dataDir string) ([]stageOutput, error) {
	currentInput := pipelineInput
	cleanedTranscript := ""
	var outputs []stageOutput

	for _, st := range profile.Stages {
		if err := r.checkCancelled(ctx, job.ID); err != nil {
			return nil, err
		}

		artifactPath := filepath.Join(dataDir, "stage_"+st.Name+".txt")

		if sr, err := r.store.GetStage(ctx, job.ID, st.Name); err == nil && sr != nil &&
			sr.Status == store.StageComplete && sr.OutputPath != nil && localio.Exists(*sr.OutputPath) {
			raw, err := os.ReadFile(*sr.OutputPath)
			if err == nil {
				content := string(raw)
				currentInput = content
				if st.Name == "clean" {
					cleanedTranscript = content
				}
				outputs = append(outputs, stageOutput{stage: st, content: content, outputPath: *sr.OutputPath})
				continue
			}
		}

		now := time.Now()
		if _, err := r.store.UpsertStage(ctx, job.ID, st.Name, st.Name, store.StageMutation{
			Status:    store.StageRunning,
			StartedAt: &now,
		}); err != nil {
			return nil, errorx.LocalIO("mark stage running", err)
		}
		r.publish(ctx, job, string(store.JobProcessing), st.Name, "", "")

		result, err := r.llm.Run(ctx, llm.Request{
			Model:             st.Model,
			Provider:          st.Provider,
			SystemMessage:     st.SystemMessage,
			PromptTemplate:    st.PromptTemplate,
			Transcript:        currentInput,
			CleanedTranscript: cleanedTranscript,
			Temperature:       st.Temperature,
			MaxTokens:         st.MaxTokens,
			Timeout:           time.Duration(st.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			r.markStageFailed(ctx, job.ID, st.Name, err)
			return nil, err
		}

		if err := os.WriteFile(artifactPath, []byte(result.Content), 0o644); err != nil {
			err = errorx.LocalIO("write stage artifact", err)
			r.markStageFailed(ctx, job.ID, st.Name, err)
			return nil, err
		}

		stageCost := cost.Estimate(st.Model, result.InputTokens, result.OutputTokens)
		completed := time.Now()
		modelUsed := result.ModelUsed
		inTok, outTok := result.InputTokens, result.OutputTokens
		if _, err := r.store.UpsertStage(ctx, job.ID, st.Name, st.Name, store.StageMutation{
			Status:       store.StageComplete,
			CompletedAt:  &completed,
			ModelUsed:    &modelUsed,
			InputTokens:  &inTok,
			OutputTokens: &outTok,
			CostEstimate: &stageCost,
			OutputPath:   &artifactPath,
		}); err != nil {
			return nil, errorx.LocalIO("mark stage complete", err)
		}

		currentInput = result.Content
		if st.Name == "clean" {
			cleanedTranscript = result.Content
		}
		outputs = append(outputs, stageOutput{stage: st, content: result.Content, outputPath: artifactPath})
	}

	return outputs, nil
}

func (r *Runner) markStageFailed(ctx context.Context, jobID uuid.UUID, stageID string, cause error) {
	msg := cause.Error()
	completed := time.Now()
	if _, err := r.store.UpsertStage(ctx, jobID, stageID, stageID, store.StageMutation{
		Status:      store.StageFailed,
		CompletedAt: &completed,
		Error:       &msg,
	}); err != nil {
		r.log.Warn("failed to persist stage failure", "job_id", jobID, "stage_id", stageID, "error", err)
	}
}

// writeFinalOutput renders the last stage's content as the job's
// primary artifact (markdown with header block, plus a best-effort
// rich-document render), and writes any earlier stage flagged
// save_intermediate as its own markdown + rich-document pair too.
// Returns the primary markdown path and every rendered document path,
// final document first, for the notification fan-out to attach.
func (r *Runner) writeFinalOutput(ctx context.Context, job *store.Job, profile *profiles.Profile, outputs []stageOutput, audioDuration float64) (string, []string, error) {
	if len(outputs) == 0 {
		return "", nil, errorx.Configuration("profile has no stages to produce output from", nil)
	}
	final := outputs[len(outputs)-1]

	dir := profileOutputDir(r.outputRoot, profile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, errorx.LocalIO("mkdir output dir", err)
	}
	baseName := strings.TrimSuffix(filepath.Base(job.SourcePath), filepath.Ext(job.SourcePath))
	now := time.Now()
	duration := fmt.Sprintf("%.1f", audioDuration)

	mdPath := filepath.Join(dir, output.SafeFilename(baseName, "", ".md"))
	meta := output.NewMetadata(store.StageOutput, profile.ID)
	meta.Set("audio_duration", duration)
	if err := output.WriteMarkdown(mdPath, final.content, meta, now); err != nil {
		r.markStageFailed(ctx, job.ID, store.StageOutput, err)
		return "", nil, err
	}

	var docPaths []string
	docPath := filepath.Join(dir, output.SafeFilename(baseName, "", ".docx"))
	if err := r.writer.RenderRichDoc(ctx, final.content, mdPath, docPath); err != nil {
		r.log.Warn("rich document render failed, markdown output still stands", "job_id", job.ID, "error", err)
	} else {
		docPaths = append(docPaths, docPath)
	}

	for _, so := range outputs[:len(outputs)-1] {
		if !so.stage.SaveIntermediate {
			continue
		}
		suffix := so.stage.FilenameSuffix
		if suffix == "" {
			suffix = so.stage.Name
		}
		p := filepath.Join(dir, output.SafeFilename(baseName, suffix, ".md"))
		m := output.NewMetadata(so.stage.Name, profile.ID)
		m.Set("audio_duration", duration)
		if err := output.WriteMarkdown(p, so.content, m, now); err != nil {
			r.log.Warn("failed to write intermediate output", "job_id", job.ID, "stage", so.stage.Name, "error", err)
			continue
		}
		dp := filepath.Join(dir, output.SafeFilename(baseName, suffix, ".docx"))
		if err := r.writer.RenderRichDoc(ctx, so.content, p, dp); err != nil {
			r.log.Warn("intermediate rich document render failed", "job_id", job.ID, "stage", so.stage.Name, "error", err)
		} else {
			docPaths = append(docPaths, dp)
		}
	}

	completed := time.Now()
	if _, err := r.store.UpsertStage(ctx, job.ID, store.StageOutput, store.StageOutput, store.StageMutation{
		Status:      store.StageComplete,
		CompletedAt: &completed,
		OutputPath:  &mdPath,
	}); err != nil {
		return "", nil, errorx.LocalIO("mark output stage complete", err)
	}
	return mdPath, docPaths, nil
}

// profileOutputDir maps a profile's routing hint onto a concrete
// directory under outputRoot. Profile.Syncthing exists primarily to
// describe the inbound-watch folder, but its ResolvedFolder/Subfolder
// pair doubles as the destination-directory routing hint: writing the
// finished note back under the same synced share is what lets a
// syncthing-style setup deliver it to the originating device without
// a separate distribution step.
func profileOutputDir(root string, p *profiles.Profile) string {
	folder := p.Syncthing.ResolvedFolder()
	if folder == "" {
		return root
	}
	if p.Syncthing.Subfolder != "" {
		return filepath.Join(root, folder, p.Syncthing.Subfolder)
	}
	return filepath.Join(root, folder)
}

// fireNotifications dispatches the best-effort post-completion
// fanout, attaching every rendered document that exists on disk.
// docPaths arrives final-document-first, so attachment priority
// (lower = kept first when the size cap trims) follows that order.
func (r *Runner) fireNotifications(ctx context.Context, job *store.Job, profile *profiles.Profile, outputs []stageOutput, docPaths []string, audioDuration float64) {
	if len(outputs) == 0 {
		return
	}
	summary := notify.Summary{
		JobID:           job.ID.String(),
		Status:          string(store.JobComplete),
		ProfileName:     profile.Name,
		SourceFilename:  filepath.Base(job.SourcePath),
		CostEstimate:    job.CostEstimate,
		DurationSeconds: audioDuration,
	}

	var attachments []notify.Attachment
	for i, docPath := range docPaths {
		info, err := os.Stat(docPath)
		if err != nil {
			continue
		}
		attachments = append(attachments, notify.Attachment{
			Path:     docPath,
			Filename: filepath.Base(docPath),
			MIMEType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Priority: i,
			SizeHint: info.Size(),
		})
	}
	r.notifier.Notify(ctx, profile.Notifications, summary, attachments)
}

// archiveSource moves the source file to the archive zone only once
// at least one output is verified present on disk. Otherwise the file
// is left in quarantine untouched rather than risking data loss on an
// abnormal completion.
func (r *Runner) archiveSource(job *store.Job, workingPath, finalOutputPath string) {
	if !localio.Exists(finalOutputPath) {
		r.log.Warn("final output missing on disk, leaving source in quarantine", "job_id", job.ID, "output", finalOutputPath)
		return
	}
	dst := r.zones.ArchivePath(job.ID.String(), job.SourcePath)
	if err := localio.Move(workingPath, dst); err != nil {
		r.log.Warn("failed to archive source file", "job_id", job.ID, "error", err)
	}
}
