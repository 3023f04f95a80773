// Package diarize is the Diarization stage executor: local speaker-
// boundary detection behind a small interface, with a reference
// implementation that shells out to an external model process. The
// model itself (pyannote-family) has no Go binding available, so this
// package treats it as an out-of-process collaborator invoked via
// os/exec, the same way other binary-backed processing in this module
// shells out to ffmpeg.
package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage"
)

// Diarizer is the lazily-loaded local model contract. Only this one
// stage kind needs an interface at all, because the underlying model
// has more than one plausible backend (subprocess here, an in-process
// binding in a future build); every other stage kind is handled by a
// direct function call from the runner.
type Diarizer interface {
	Diarize(ctx context.Context, mediaPath string) ([]stage.DiarizationSegment, error)
}

// ProcessDiarizer invokes an external HF/pyannote-family pipeline
// script once per call. Model weights are loaded once per process by
// that external script's own caching, not by this Go process; this
// type's sync.Once only guards the readiness probe (HUGGINGFACE_TOKEN
// presence, binary on PATH), which runs once per process lifetime.
type ProcessDiarizer struct {
	log        *logger.Logger
	scriptPath string
	hfToken    string

	readyOnce sync.Once
	readyErr  error
}

func NewProcessDiarizer(log *logger.Logger, scriptPath, hfToken string) *ProcessDiarizer {
	return &ProcessDiarizer{
		log:        log.With("component", "Diarizer"),
		scriptPath: scriptPath,
		hfToken:    hfToken,
	}
}

func (d *ProcessDiarizer) ensureReady() error {
	d.readyOnce.Do(func() {
		if strings.TrimSpace(d.hfToken) == "" {
			d.readyErr = errorx.ModelLoad("HUGGINGFACE_TOKEN not configured", nil)
			return
		}
		if _, err := exec.LookPath("python3"); err != nil {
			d.readyErr = errorx.ModelLoad("python3 not found in PATH", err)
		}
	})
	return d.readyErr
}

type segmentLine struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Diarize loads (once per process) and invokes the diarization model,
// returning ordered {speaker, start, end} triples with normalized
// SPEAKER_00, SPEAKER_01, ... labels. Model load or inference failure
// is returned as an errorx.ModelLoad error; the caller treats this as
// non-fatal and substitutes a single segment.
func (d *ProcessDiarizer) Diarize(ctx context.Context, mediaPath string) ([]stage.DiarizationSegment, error) {
	if err := d.ensureReady(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, "python3", d.scriptPath, mediaPath)
	cmd.Env = append(os.Environ(), "HUGGINGFACE_TOKEN="+d.hfToken)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errorx.ModelLoad(fmt.Sprintf("diarization process failed: %s", stderr.String()), err)
	}

	var lines []segmentLine
	if err := json.Unmarshal(stdout.Bytes(), &lines); err != nil {
		return nil, errorx.ModelLoad("decode diarization output", err)
	}

	out := make([]stage.DiarizationSegment, 0, len(lines))
	labels := map[string]string{}
	for _, l := range lines {
		speaker, ok := labels[l.Speaker]
		if !ok {
			speaker = fmt.Sprintf("SPEAKER_%02d", len(labels))
			labels[l.Speaker] = speaker
		}
		out = append(out, stage.DiarizationSegment{Speaker: speaker, Start: l.Start, End: l.End})
	}
	return out, nil
}

// SingleSpeakerFallback builds the one-segment-spanning-the-whole-audio
// substitute used when diarization fails, labeled SPEAKER_00.
func SingleSpeakerFallback(durationSeconds float64) []stage.DiarizationSegment {
	return []stage.DiarizationSegment{{Speaker: "SPEAKER_00", Start: 0, End: durationSeconds}}
}
