package output

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func TestSafeFilenameStripsAndCollapses(t *testing.T) {
	got := SafeFilename("Weekly Sync: Q3!!", "formatted", ".md")
	want := "Weekly_Sync_Q3_formatted.md"
	if got != want {
		t.Fatalf("SafeFilename = %q, want %q", got, want)
	}
}

func TestSafeFilenameNoSuffix(t *testing.T) {
	got := SafeFilename("raw note", "", ".txt")
	if got != "raw_note.txt" {
		t.Fatalf("SafeFilename = %q", got)
	}
}

func TestDeriveTitleStripsTimestampAndPrefixesNoteType(t *testing.T) {
	got := DeriveTitle("20240115_143022_weekly_sync.mp3", "meeting")
	if got != "Meeting: Weekly Sync" {
		t.Fatalf("DeriveTitle = %q", got)
	}
}

func TestDeriveTitleSkipsPrefixWhenAlreadyPresent(t *testing.T) {
	got := DeriveTitle("meeting_notes.mp3", "meeting")
	if got != "Meeting Notes" {
		t.Fatalf("DeriveTitle = %q, want no duplicate prefix", got)
	}
}

func TestWriteMarkdownIncludesHeaderBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.md")
	meta := NewMetadata("formatting", "meeting")
	meta.Set("audio_duration", "125.0")

	fixedNow := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	if err := WriteMarkdown(path, "body text", meta, fixedNow); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	content := string(raw)
	if !strings.HasPrefix(content, "---\nstage: formatting\n") {
		t.Fatalf("missing header block: %s", content)
	}
	if !strings.Contains(content, "date: 2026-07-29") {
		t.Fatalf("missing date line: %s", content)
	}
	if !strings.Contains(content, "processed_at: 2026-07-29T00:00:00Z") {
		t.Fatalf("missing processed_at line: %s", content)
	}
	if !strings.Contains(content, "audio_duration: 125.0") {
		t.Fatalf("missing audio_duration line: %s", content)
	}
	if !strings.HasSuffix(content, "---\n\nbody text") {
		t.Fatalf("missing body after header: %s", content)
	}
}

func TestRenderRichDocFallsBackToHTMLWithoutPandoc(t *testing.T) {
	w := NewWriter(mustTestLogger(t))
	w.pandocPath = "/nonexistent/pandoc-binary"

	dir := t.TempDir()
	mdPath := filepath.Join(dir, "note.md")
	outPath := filepath.Join(dir, "note.docx")
	if err := os.WriteFile(mdPath, []byte("# hi"), 0o644); err != nil {
		t.Fatalf("seed md file: %v", err)
	}

	if err := w.RenderRichDoc(context.Background(), "# hi", mdPath, outPath); err != nil {
		t.Fatalf("RenderRichDoc: %v", err)
	}

	htmlPath := filepath.Join(dir, "note.html")
	if _, err := os.Stat(htmlPath); err != nil {
		t.Fatalf("expected html fallback at %s: %v", htmlPath, err)
	}
}
