// Package output is the Output Writer: derives a safe filename from a
// job's source file and note type, writes the formatted transcript
// with a YAML-style header block, and optionally renders a rich
// document (pandoc, falling back to an in-process HTML wrapper).
package output

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	timestampRe  = regexp.MustCompile(`^(\d{8}_\d{6}[_-]?|\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}-?)`)
)

// SafeFilename strips non-alphanumerics from base, collapses
// whitespace to underscores, and appends suffix before extension.
func SafeFilename(base, suffix, extension string) string {
	safe := nonWordRe.ReplaceAllString(base, "")
	safe = strings.TrimSpace(safe)
	safe = whitespaceRe.ReplaceAllString(safe, "_")
	if suffix != "" {
		safe = safe + "_" + strings.TrimPrefix(suffix, "_")
	}
	return safe + extension
}

// DeriveTitle produces a human-readable title from a source filename,
// stripping a leading timestamp prefix, title-casing the remainder,
// and prefixing the note type when it isn't already present.
func DeriveTitle(filename, noteType string) string {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	name = timestampRe.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " "))

	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	title := strings.Join(words, " ")

	if noteType == "" {
		return title
	}
	noteTypeCap := strings.ToUpper(noteType[:1]) + noteType[1:]
	if !strings.Contains(strings.ToLower(title), strings.ToLower(noteTypeCap)) {
		title = noteTypeCap + ": " + title
	}
	return title
}

// Metadata is the free-form header-block field set; keys are rendered
// in insertion-independent but deterministic order (stage/date/profile
// first, then whatever else is present).
type Metadata struct {
	Stage   string
	Profile string
	extra   map[string]string
}

func NewMetadata(stage, profile string) Metadata {
	return Metadata{Stage: stage, Profile: profile, extra: map[string]string{}}
}

func (m *Metadata) Set(key, value string) {
	if m.extra == nil {
		m.extra = map[string]string{}
	}
	m.extra[key] = value
}

// header renders the literal YAML-style block used as a file prefix.
// This is never parsed back as YAML; it exists for human readers and
// downstream note tools that display frontmatter.
func (m Metadata) header(now time.Time) string {
	var b strings.Builder
	b.WriteString("---\n")
	if m.Stage != "" {
		fmt.Fprintf(&b, "stage: %s\n", m.Stage)
	}
	fmt.Fprintf(&b, "date: %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "processed_at: %s\n", now.Format(time.RFC3339))
	if m.Profile != "" {
		fmt.Fprintf(&b, "profile: %s\n", m.Profile)
	}
	keys := make([]string, 0, len(m.extra))
	for k := range m.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, m.extra[k])
	}
	b.WriteString("---\n\n")
	return b.String()
}

// WriteMarkdown writes content at path, prefixed with a header block.
// now is passed in rather than computed here, since time.Now() must
// not be called from inside the worker's deterministic paths in test
// builds that pin a fixed clock.
func WriteMarkdown(path string, content string, meta Metadata, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorx.LocalIO("mkdir output dir", err)
	}
	body := meta.header(now) + content
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return errorx.LocalIO("write markdown output", err)
	}
	return nil
}

// Writer renders the rich-document variant of an output: an external
// pandoc process when available, an in-process HTML fallback
// otherwise. Failure to render the rich form is logged and never
// fatal — the markdown output from WriteMarkdown is always the
// primary, durable artifact.
type Writer struct {
	log        *logger.Logger
	pandocPath string
}

func NewWriter(log *logger.Logger) *Writer {
	return &Writer{log: log.With("component", "OutputWriter"), pandocPath: "pandoc"}
}

func (w *Writer) pandocAvailable() bool {
	_, err := exec.LookPath(w.pandocPath)
	return err == nil
}

// RenderRichDoc converts markdownPath into outputPath (typically
// .docx or .html). It tries pandoc first; on failure or absence it
// falls back to a minimal in-process HTML wrapper, since there is no
// in-process DOCX writer in this module's dependency set.
func (w *Writer) RenderRichDoc(ctx context.Context, markdownContent, markdownPath, outputPath string) error {
	if !w.pandocAvailable() {
		w.log.Warn("pandoc not found in PATH, falling back to in-process html", "output", outputPath)
		return w.renderFallbackHTML(markdownContent, outputPath)
	}
	if err := w.renderWithPandoc(ctx, markdownPath, outputPath); err != nil {
		w.log.Warn("pandoc render failed, falling back to in-process html", "error", err, "output", outputPath)
		return w.renderFallbackHTML(markdownContent, outputPath)
	}
	return nil
}

func (w *Writer) renderWithPandoc(ctx context.Context, markdownPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, w.pandocPath, markdownPath, "-o", outputPath, "-f", "markdown", "-t", "docx")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pandoc: %w; output=%s", err, string(out))
	}
	return nil
}

// renderFallbackHTML wraps the markdown content as-is in a minimal
// HTML document; it does not attempt markdown->HTML translation
// beyond escaping, since no markdown rendering library is wired into
// this module.
func (w *Writer) renderFallbackHTML(content, outputPath string) error {
	htmlPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".html"
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(content)
	body := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body><pre>" + escaped + "</pre></body></html>\n"
	if err := os.MkdirAll(filepath.Dir(htmlPath), 0o755); err != nil {
		return errorx.LocalIO("mkdir fallback html dir", err)
	}
	if err := os.WriteFile(htmlPath, []byte(body), 0o644); err != nil {
		return errorx.LocalIO("write fallback html", err)
	}
	return nil
}
