package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/eventbus"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/localio"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/notify"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/output"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/llm"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

type fakeASR struct {
	calls  int
	result stage.ASRResult
	err    error
}

func (f *fakeASR) Transcribe(ctx context.Context, mediaPath string) (stage.ASRResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeLLM struct {
	calls  int
	result llm.Result
	err    error
}

func (f *fakeLLM) Run(ctx context.Context, req llm.Request) (llm.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeDiarizer struct {
	err  error
	segs []stage.DiarizationSegment
}

func (f *fakeDiarizer) Diarize(ctx context.Context, mediaPath string) ([]stage.DiarizationSegment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.segs, nil
}

// testHarness bundles one Runner plus the real-but-local collaborators
// (registry, zones, output writer) it needs, all rooted under a temp
// dir, so each test gets a clean filesystem.
type testHarness struct {
	t        *testing.T
	root     string
	st       *fakeStore
	asr      *fakeASR
	diarizer *fakeDiarizer
	llmc     *fakeLLM
	registry *profiles.Registry
	zones    localio.Zones
	runner   *Runner
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	root := t.TempDir()

	profilesDir := filepath.Join(root, "profiles")
	promptsDir := filepath.Join(root, "prompts")
	processingRoot := filepath.Join(root, "processing")
	outputsRoot := filepath.Join(root, "outputs")
	_ = os.MkdirAll(profilesDir, 0o755)
	_ = os.MkdirAll(promptsDir, 0o755)
	_ = os.MkdirAll(outputsRoot, 0o755)

	log := testLogger(t)
	reg, err := profiles.New(log, profilesDir, promptsDir)
	if err != nil {
		t.Fatalf("profiles.New: %v", err)
	}

	zones := localio.NewZones(processingRoot)
	if err := zones.EnsureDirs(); err != nil {
		t.Fatalf("zones.EnsureDirs: %v", err)
	}

	h := &testHarness{
		t:        t,
		root:     root,
		st:       newFakeStore(),
		asr:      &fakeASR{},
		diarizer: &fakeDiarizer{},
		llmc:     &fakeLLM{},
		registry: reg,
		zones:    zones,
	}

	h.runner = New(
		log,
		h.st,
		h.registry,
		h.asr,
		h.diarizer,
		h.llmc,
		eventbus.NoopBus{},
		output.NewWriter(log),
		notify.NewFanout(log, nil),
		h.zones,
		outputsRoot,
	)
	return h
}

func (h *testHarness) createProfile(id string, skipDiarization bool) *profiles.Profile {
	h.t.Helper()
	p, err := h.registry.CreateProfile(profiles.ProfileSpec{
		ID:              id,
		Name:            id,
		SkipDiarization: skipDiarization,
		Priority:        5,
		Stages: []profiles.Stage{{
			Name:             "formatting",
			PromptFile:       id + "_formatting.txt",
			PromptTemplate:   "Format this: {transcript}",
			SystemMessage:    "You are terse.",
			Model:            "deepseek-chat",
			Temperature:      0.3,
			MaxTokens:        2048,
			TimeoutSeconds:   60,
			SaveIntermediate: true,
		}},
	})
	if err != nil {
		h.t.Fatalf("create profile: %v", err)
	}
	return p
}

// enqueueJob creates a fake media file under root and enqueues a job
// pointing at it.
func (h *testHarness) enqueueJob(profileID, filename string) *store.Job {
	h.t.Helper()
	src := filepath.Join(h.root, filename)
	if err := os.WriteFile(src, []byte("fake audio bytes"), 0o644); err != nil {
		h.t.Fatalf("write source file: %v", err)
	}
	job := &store.Job{
		ID:         uuid.New(),
		ProfileID:  profileID,
		SourcePath: src,
		Status:     store.JobQueued,
		Priority:   5,
		CreatedAt:  time.Now(),
	}
	if err := h.st.Enqueue(context.Background(), job); err != nil {
		h.t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestRunnerProcessesJobToCompletion(t *testing.T) {
	h := newHarness(t)
	h.createProfile("quick-notes", true)
	job := h.enqueueJob("quick-notes", "meeting.mp3")

	h.asr.result = stage.ASRResult{Text: "hello world", Duration: 5}
	h.llmc.result = llm.Result{Content: "# Formatted Notes", ModelUsed: "deepseek-chat", InputTokens: 10, OutputTokens: 20}

	if err := h.runner.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	got, err := h.st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.JobComplete {
		t.Fatalf("job status = %s, want COMPLETE", got.Status)
	}
	if got.CostEstimate <= 0 {
		t.Fatalf("expected nonzero cost estimate, got %v", got.CostEstimate)
	}

	outDir := filepath.Join(h.root, "outputs")
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one output file written")
	}

	archived := h.zones.ArchivePath(job.ID.String(), job.SourcePath)
	if !localio.Exists(archived) {
		t.Fatalf("expected source file archived at %s", archived)
	}
}

func TestRunnerResumesWithoutReTranscribing(t *testing.T) {
	h := newHarness(t)
	h.createProfile("quick-notes", true)
	job := h.enqueueJob("quick-notes", "meeting.mp3")

	dataDir, err := h.zones.JobDataDir(job.ID.String())
	if err != nil {
		t.Fatalf("job data dir: %v", err)
	}
	artifactPath := filepath.Join(dataDir, asrArtifactFilename)
	if err := os.WriteFile(artifactPath, []byte(`{"text":"cached transcript","segments":[],"language":"en","duration":9}`), 0o644); err != nil {
		t.Fatalf("seed cached artifact: %v", err)
	}
	now := time.Now()
	if _, err := h.st.UpsertStage(context.Background(), job.ID, store.StageTranscription, store.StageTranscription, store.StageMutation{
		Status:      store.StageComplete,
		CompletedAt: &now,
		OutputPath:  &artifactPath,
	}); err != nil {
		t.Fatalf("seed stage result: %v", err)
	}

	h.asr.err = nil
	h.llmc.result = llm.Result{Content: "formatted", ModelUsed: "deepseek-chat"}

	if err := h.runner.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if h.asr.calls != 0 {
		t.Fatalf("expected ASR not to be called when a cached artifact exists, calls=%d", h.asr.calls)
	}
}

func TestRunnerDiarizationFailureFallsBackToSingleSpeaker(t *testing.T) {
	h := newHarness(t)
	h.createProfile("meeting-full", false)
	job := h.enqueueJob("meeting-full", "meeting.mp3")

	h.asr.result = stage.ASRResult{
		Text:     "hello there",
		Duration: 10,
		Segments: []stage.ASRSegment{{ID: 0, Start: 0, End: 10, Text: "hello there"}},
	}
	h.diarizer.err = errTestDiarizerFailure
	h.llmc.result = llm.Result{Content: "formatted", ModelUsed: "deepseek-chat"}

	if err := h.runner.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	got, err := h.st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.JobComplete {
		t.Fatalf("job status = %s, want COMPLETE despite diarization failure", got.Status)
	}

	sr, err := h.st.GetStage(context.Background(), job.ID, store.StageDiarization)
	if err != nil || sr == nil {
		t.Fatalf("expected a diarization StageResult, err=%v sr=%v", err, sr)
	}
	if sr.Status != store.StageFailed {
		t.Fatalf("diarization stage status = %s, want FAILED while the job still completes", sr.Status)
	}
	if sr.Error == nil || !strings.Contains(*sr.Error, "diarization model unavailable") {
		t.Fatalf("expected the diarizer's error recorded on the stage, got %v", sr.Error)
	}
}

func TestRunnerDiarizationSuccessRecordsCompleteStage(t *testing.T) {
	h := newHarness(t)
	h.createProfile("meeting-full", false)
	job := h.enqueueJob("meeting-full", "meeting.mp3")

	h.asr.result = stage.ASRResult{
		Text:     "hello there",
		Duration: 10,
		Segments: []stage.ASRSegment{{ID: 0, Start: 0, End: 10, Text: "hello there"}},
	}
	h.diarizer.segs = []stage.DiarizationSegment{{Speaker: "SPEAKER_00", Start: 0, End: 10}}
	h.llmc.result = llm.Result{Content: "formatted", ModelUsed: "deepseek-chat"}

	if err := h.runner.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	sr, err := h.st.GetStage(context.Background(), job.ID, store.StageDiarization)
	if err != nil || sr == nil {
		t.Fatalf("expected a diarization StageResult, err=%v sr=%v", err, sr)
	}
	if sr.Status != store.StageComplete {
		t.Fatalf("diarization stage status = %s, want COMPLETE", sr.Status)
	}
	if sr.OutputPath == nil {
		t.Fatalf("expected diarization output path to be set")
	}
	raw, err := os.ReadFile(*sr.OutputPath)
	if err != nil {
		t.Fatalf("read diarization artifact: %v", err)
	}
	if !strings.Contains(string(raw), "**SPEAKER_00:**") {
		t.Fatalf("expected speaker-labeled transcript in artifact, got %q", string(raw))
	}
}

func TestRunnerWritesIntermediateOutputsWithDocuments(t *testing.T) {
	h := newHarness(t)
	if _, err := h.registry.CreateProfile(profiles.ProfileSpec{
		ID:              "two-stage",
		Name:            "two-stage",
		SkipDiarization: true,
		Priority:        5,
		Stages: []profiles.Stage{{
			Name:             "clean",
			PromptFile:       "two-stage_clean.txt",
			PromptTemplate:   "Clean: {transcript}",
			Model:            "deepseek-chat",
			TimeoutSeconds:   60,
			SaveIntermediate: true,
			FilenameSuffix:   "cleaned",
		}, {
			Name:             "formatting",
			PromptFile:       "two-stage_formatting.txt",
			PromptTemplate:   "Format: {cleaned_transcript}",
			Model:            "deepseek-chat",
			TimeoutSeconds:   60,
			SaveIntermediate: true,
		}},
	}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	job := h.enqueueJob("two-stage", "meeting.mp3")

	h.asr.result = stage.ASRResult{Text: "hello world", Duration: 5}
	h.llmc.result = llm.Result{Content: "stage output", ModelUsed: "deepseek-chat", InputTokens: 10, OutputTokens: 20}

	if err := h.runner.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	outDir := filepath.Join(h.root, "outputs")
	for _, name := range []string{"meeting.md", "meeting_cleaned.md"} {
		if !localio.Exists(filepath.Join(outDir, name)) {
			t.Fatalf("expected output file %s", name)
		}
	}
	raw, err := os.ReadFile(filepath.Join(outDir, "meeting_cleaned.md"))
	if err != nil {
		t.Fatalf("read intermediate output: %v", err)
	}
	for _, field := range []string{"processed_at:", "audio_duration: 5.0"} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("intermediate header missing %q: %s", field, string(raw))
		}
	}
	// Without pandoc on PATH the rich-document render falls back to an
	// html file next to each requested docx path.
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	rendered := 0
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if ext == ".docx" || ext == ".html" {
			rendered++
		}
	}
	if rendered < 2 {
		t.Fatalf("expected a rendered document per save_intermediate stage, found %d", rendered)
	}
}

func TestRunnerFailsJobAndMovesSourceToErrorZone(t *testing.T) {
	h := newHarness(t)
	h.createProfile("quick-notes", true)
	job := h.enqueueJob("quick-notes", "meeting.mp3")

	h.asr.result = stage.ASRResult{Text: "hello world", Duration: 5}
	h.llmc.err = errTestLLMFailure

	h.runOneJobForTest(job)

	got, err := h.st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.JobFailed {
		t.Fatalf("job status = %s, want FAILED", got.Status)
	}
	if got.Error == nil || *got.Error == "" {
		t.Fatalf("expected a non-empty job error message")
	}

	errPath := h.zones.ErrorPath(job.ID.String(), job.SourcePath)
	if !localio.Exists(errPath) {
		t.Fatalf("expected source file moved to error zone at %s", errPath)
	}
}

func (h *testHarness) runOneJobForTest(job *store.Job) {
	h.runner.runOneJob(context.Background(), job)
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errTestLLMFailure = sentinelErr("llm provider unavailable")
const errTestDiarizerFailure = sentinelErr("diarization model unavailable")
