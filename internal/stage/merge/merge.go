// Package merge implements the speaker merge stage: a pure function
// over ASR segments and diarization segments, no I/O.
package merge

import (
	"fmt"
	"strings"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage"
)

const unknownSpeaker = "UNKNOWN"
const singleSpeakerFallback = "SPEAKER_00"

// Merge assigns a speaker label to each ASR segment by overlap, then
// collapses consecutive same-speaker segments into one.
//
// Edge cases:
//   - empty ASR input -> empty output
//   - empty diarization -> every segment assigned SPEAKER_00
//   - zero-duration ASR segment -> UNKNOWN
func Merge(asr []stage.ASRSegment, diar []stage.DiarizationSegment) []stage.MergedSegment {
	if len(asr) == 0 {
		return nil
	}

	labeled := make([]stage.MergedSegment, 0, len(asr))
	for _, seg := range asr {
		labeled = append(labeled, stage.MergedSegment{
			Speaker: assignSpeaker(seg, diar),
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
		})
	}

	return collapse(labeled)
}

func assignSpeaker(seg stage.ASRSegment, diar []stage.DiarizationSegment) string {
	duration := seg.End - seg.Start
	if duration <= 0 {
		return unknownSpeaker
	}
	if len(diar) == 0 {
		return singleSpeakerFallback
	}

	overlapBySpeaker := map[string]float64{}
	for _, d := range diar {
		ov := overlap(seg.Start, seg.End, d.Start, d.End)
		if ov > 0 {
			overlapBySpeaker[d.Speaker] += ov
		}
	}

	var bestSpeaker string
	var bestOverlap float64
	for speaker, ov := range overlapBySpeaker {
		if ov > bestOverlap {
			bestOverlap = ov
			bestSpeaker = speaker
		}
	}
	if bestSpeaker == "" || bestOverlap < 0.5*duration {
		return unknownSpeaker
	}
	return bestSpeaker
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// collapse extends the end time and space-joins text for consecutive
// segments assigned the same speaker.
func collapse(segs []stage.MergedSegment) []stage.MergedSegment {
	out := make([]stage.MergedSegment, 0, len(segs))
	for _, seg := range segs {
		if n := len(out); n > 0 && out[n-1].Speaker == seg.Speaker {
			out[n-1].End = seg.End
			out[n-1].Text = strings.TrimSpace(out[n-1].Text + " " + seg.Text)
			continue
		}
		out = append(out, seg)
	}
	return out
}

// FormatTranscript renders merged segments into the
// "**SPEAKER_00:** text" form the built-in note templates expect.
func FormatTranscript(segs []stage.MergedSegment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**%s:** %s", s.Speaker, s.Text)
	}
	return b.String()
}

// NormalizeLabel produces SPEAKER_00, SPEAKER_01, ... from a
// zero-based diarization cluster index.
func NormalizeLabel(index int) string {
	return fmt.Sprintf("SPEAKER_%02d", index)
}
