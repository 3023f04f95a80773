package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log
}

func TestProfileIDIsFilenameStemNotDisplayName(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	promptsDir := filepath.Join(dir, "prompts")
	if err := os.MkdirAll(profilesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(promptsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	def := "name: \"Data Protection\"\ndescription: \"test\"\nstages:\n  - name: clean\n    model: deepseek-chat\n"
	if err := os.WriteFile(filepath.Join(profilesDir, "data_protection.yaml"), []byte(def), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := New(testLogger(t), profilesDir, promptsDir)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if _, ok := reg.Get("data_protection"); !ok {
		t.Fatalf("expected lookup by filename stem 'data_protection' to succeed")
	}
	if _, ok := reg.Get("Data Protection"); ok {
		t.Fatalf("lookup by display name must fail")
	}
}

func TestReloadClearsDeletedProfiles(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	promptsDir := filepath.Join(dir, "prompts")
	os.MkdirAll(profilesDir, 0o755)
	os.MkdirAll(promptsDir, 0o755)

	path := filepath.Join(profilesDir, "temp_profile.yaml")
	if err := os.WriteFile(path, []byte("name: Temp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := New(testLogger(t), profilesDir, promptsDir)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, ok := reg.Get("temp_profile"); !ok {
		t.Fatalf("expected temp_profile to load")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := reg.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reg.Get("temp_profile"); ok {
		t.Fatalf("expected temp_profile to be gone after reload, but it persisted")
	}
}

func TestSyncthingFolderAliasResolution(t *testing.T) {
	cfg := SyncthingConfig{Folder: "legacy-name"}
	if got := cfg.ResolvedFolder(); got != "legacy-name" {
		t.Fatalf("expected fallback alias to resolve, got %q", got)
	}
	cfg2 := SyncthingConfig{ShareFolder: "canonical", Folder: "legacy-name"}
	if got := cfg2.ResolvedFolder(); got != "canonical" {
		t.Fatalf("expected share_folder to win when both set, got %q", got)
	}
}

func TestCreateProfileThenGetByID(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	promptsDir := filepath.Join(dir, "prompts")
	os.MkdirAll(profilesDir, 0o755)
	os.MkdirAll(promptsDir, 0o755)

	reg, err := New(testLogger(t), profilesDir, promptsDir)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	spec := ProfileSpec{
		ID:   "data_protection",
		Name: "Data Protection",
		Stages: []Stage{{
			Name:           "clean",
			PromptFile:     "data_protection/clean.txt",
			PromptTemplate: "Clean this: {transcript}",
			Model:          "deepseek-chat",
		}},
	}
	created, err := reg.CreateProfile(spec)
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if created.ID != "data_protection" {
		t.Fatalf("expected id 'data_protection', got %q", created.ID)
	}

	got, ok := reg.Get("data_protection")
	if !ok {
		t.Fatalf("expected get(spec.id) to return the profile immediately after create")
	}
	if got.Name != "Data Protection" {
		t.Fatalf("unexpected name %q", got.Name)
	}
	if len(got.Stages) != 1 || got.Stages[0].PromptTemplate != "Clean this: {transcript}" {
		t.Fatalf("expected prompt body to round-trip from disk, got %+v", got.Stages)
	}
}

func TestCreateProfileRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	promptsDir := filepath.Join(dir, "prompts")
	os.MkdirAll(profilesDir, 0o755)
	os.MkdirAll(promptsDir, 0o755)

	reg, err := New(testLogger(t), profilesDir, promptsDir)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	spec := ProfileSpec{
		ID:   "evil",
		Name: "Evil",
		Stages: []Stage{{
			Name:           "clean",
			PromptFile:     "../../etc/passwd",
			PromptTemplate: "pwned",
		}},
	}
	if _, err := reg.CreateProfile(spec); err == nil {
		t.Fatalf("expected path traversal to be rejected")
	}
	if _, ok := reg.Get("evil"); ok {
		t.Fatalf("profile must not be registered when prompt write is rejected")
	}
}

func TestBuiltinNoteTypeProfilesResolveByID(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	promptsDir := filepath.Join(dir, "prompts")
	os.MkdirAll(profilesDir, 0o755)
	os.MkdirAll(promptsDir, 0o755)

	reg, err := New(testLogger(t), profilesDir, promptsDir)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	for _, id := range []string{"meeting", "supervision", "client", "lecture", "braindump"} {
		if _, ok := reg.Get(id); !ok {
			t.Fatalf("expected built-in profile %q to be registered", id)
		}
	}
}
