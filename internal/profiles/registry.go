package profiles

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidID reports whether id satisfies the profile-id grammar required
// by POST /profiles.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

type folderMapFile struct {
	FolderMap map[string]string `yaml:"folder_map"`
}

// Registry loads profile definitions from profilesDir/*.yaml (skipping
// folder_map.yaml) and prompt bodies from promptsDir. reload() clears
// the in-memory map before repopulating so deleted profiles never
// survive a reload, and swaps an atomic pointer so concurrent readers
// never observe a half-built map.
type Registry struct {
	log         *logger.Logger
	profilesDir string
	promptsDir  string

	current atomic.Pointer[registrySnapshot]

	// writeMu serializes create_profile / folder-map mutation so two
	// concurrent writers cannot interleave partial file writes.
	writeMu sync.Mutex
}

type registrySnapshot struct {
	profiles  map[string]*Profile
	folderMap map[string]string // lowercased folder name -> profile id
}

func New(log *logger.Logger, profilesDir, promptsDir string) (*Registry, error) {
	r := &Registry{log: log, profilesDir: profilesDir, promptsDir: promptsDir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns a profile by id, or (nil, false) if absent. id is always
// the profile definition's filename stem, never its display name.
func (r *Registry) Get(id string) (*Profile, bool) {
	snap := r.current.Load()
	if snap == nil {
		return nil, false
	}
	p, ok := snap.profiles[id]
	return p, ok
}

// All returns a snapshot of profiles keyed by id.
func (r *Registry) All() map[string]*Profile {
	snap := r.current.Load()
	if snap == nil {
		return map[string]*Profile{}
	}
	out := make(map[string]*Profile, len(snap.profiles))
	for k, v := range snap.profiles {
		out[k] = v
	}
	return out
}

// GetForFolder resolves an inbound watcher folder name to a profile id
// via the case-insensitive folder map.
func (r *Registry) GetForFolder(folder string) (string, bool) {
	snap := r.current.Load()
	if snap == nil {
		return "", false
	}
	id, ok := snap.folderMap[strings.ToLower(folder)]
	return id, ok
}

func (r *Registry) FolderMap() map[string]string {
	snap := r.current.Load()
	if snap == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(snap.folderMap))
	for k, v := range snap.folderMap {
		out[k] = v
	}
	return out
}

// Reload re-reads profilesDir and promptsDir from disk and atomically
// replaces the in-memory snapshot. Per-file parse errors are logged
// and that file is skipped rather than aborting the whole reload.
func (r *Registry) Reload() error {
	folderMap, err := r.loadFolderMap()
	if err != nil {
		r.log.Warn("profile registry: folder_map.yaml unreadable, continuing with empty map", "error", err)
		folderMap = map[string]string{}
	}

	newProfiles := map[string]*Profile{}
	for id, p := range builtinProfiles() {
		newProfiles[id] = p
	}

	entries, err := os.ReadDir(r.profilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			r.current.Store(&registrySnapshot{profiles: newProfiles, folderMap: folderMap})
			return nil
		}
		return fmt.Errorf("read profiles dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if name == "folder_map.yaml" || name == "folder_map.yml" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		p, err := r.loadProfileFile(filepath.Join(r.profilesDir, name), id)
		if err != nil {
			r.log.Error("profile registry: failed to load profile, skipping", "file", name, "error", err)
			continue
		}
		newProfiles[id] = p
	}

	r.current.Store(&registrySnapshot{profiles: newProfiles, folderMap: folderMap})
	return nil
}

func (r *Registry) loadFolderMap() (map[string]string, error) {
	path := filepath.Join(r.profilesDir, "folder_map.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var f folderMapFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(f.FolderMap))
	for k, v := range f.FolderMap {
		out[strings.ToLower(k)] = v
	}
	return out, nil
}

func (r *Registry) saveFolderMap(m map[string]string) error {
	f := folderMapFile{FolderMap: m}
	b, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	path := filepath.Join(r.profilesDir, "folder_map.yaml")
	return os.WriteFile(path, b, 0o644)
}

func (r *Registry) loadProfileFile(path, id string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawProfile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	p := &Profile{
		ID:              id,
		Name:            raw.Name,
		Description:     raw.Description,
		SkipDiarization: raw.SkipDiarization,
		Priority:        raw.Priority,
		Syncthing:       raw.Syncthing,
		Notifications:   raw.Notifications,
	}
	if p.Priority == 0 {
		p.Priority = defaultPriority
	}
	for _, rs := range raw.Stages {
		s := Stage{
			Name:             rs.Name,
			PromptFile:       rs.PromptFile,
			SystemMessage:    rs.SystemMessage,
			Model:            rs.Model,
			Provider:         rs.Provider,
			Temperature:      defaultTemperature,
			MaxTokens:        defaultMaxTokens,
			TimeoutSeconds:   defaultTimeoutSeconds,
			RequiresPrevious: rs.RequiresPrevious,
			SaveIntermediate: defaultSaveIntermediate,
			FilenameSuffix:   rs.FilenameSuffix,
		}
		if s.Model == "" {
			s.Model = defaultModel
		}
		if rs.Temperature != nil {
			s.Temperature = *rs.Temperature
		}
		if rs.MaxTokens != nil {
			s.MaxTokens = *rs.MaxTokens
		}
		if rs.Timeout != nil {
			s.TimeoutSeconds = *rs.Timeout
		}
		if rs.SaveIntermediate != nil {
			s.SaveIntermediate = *rs.SaveIntermediate
		}
		if s.PromptFile != "" {
			content, err := os.ReadFile(filepath.Join(r.promptsDir, s.PromptFile))
			if err != nil {
				r.log.Error("profile registry: prompt file unreadable", "profile", id, "stage", s.Name, "file", s.PromptFile, "error", err)
				s.PromptTemplate = fmt.Sprintf("ERROR: prompt file %q could not be read: %v", s.PromptFile, err)
			} else {
				s.PromptTemplate = string(content)
			}
		}
		p.Stages = append(p.Stages, s)
	}
	return p, nil
}

// ProfileSpec is the input to CreateProfile: the raw definition plus
// the prompt bodies to write alongside it.
type ProfileSpec struct {
	ID            string
	Name          string
	Description   string
	SkipDiarization bool
	Priority      int
	Stages        []Stage // PromptTemplate holds the body to write to PromptFile
	Syncthing     SyncthingConfig
	Notifications NotificationConfig
}

// CreateProfile writes the profile definition and its prompt files,
// then reloads. On any write failure, all partially written files for
// this profile are removed before the error is returned.
func (r *Registry) CreateProfile(spec ProfileSpec) (*Profile, error) {
	if !ValidID(spec.ID) {
		return nil, fmt.Errorf("invalid profile id %q", spec.ID)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	written := []string{}
	rollback := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}

	for i, s := range spec.Stages {
		if s.PromptFile == "" {
			continue
		}
		promptPath, err := r.safePromptPath(s.PromptFile)
		if err != nil {
			rollback()
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(promptPath), 0o755); err != nil {
			rollback()
			return nil, err
		}
		if err := os.WriteFile(promptPath, []byte(s.PromptTemplate), 0o644); err != nil {
			rollback()
			return nil, err
		}
		written = append(written, promptPath)
		spec.Stages[i] = s
	}

	raw := rawProfile{
		Name:            spec.Name,
		Description:     spec.Description,
		SkipDiarization: spec.SkipDiarization,
		Priority:        spec.Priority,
		Syncthing:       spec.Syncthing,
		Notifications:   spec.Notifications,
	}
	for _, s := range spec.Stages {
		temp := s.Temperature
		maxTok := s.MaxTokens
		timeout := s.TimeoutSeconds
		save := s.SaveIntermediate
		raw.Stages = append(raw.Stages, struct {
			Name             string   `yaml:"name"`
			PromptFile       string   `yaml:"prompt_file"`
			SystemMessage    string   `yaml:"system_message"`
			Model            string   `yaml:"model"`
			Provider         string   `yaml:"provider"`
			Temperature      *float64 `yaml:"temperature"`
			MaxTokens        *int     `yaml:"max_tokens"`
			Timeout          *int     `yaml:"timeout"`
			RequiresPrevious bool     `yaml:"requires_previous"`
			SaveIntermediate *bool    `yaml:"save_intermediate"`
			FilenameSuffix   string   `yaml:"filename_suffix"`
		}{
			Name: s.Name, PromptFile: s.PromptFile, SystemMessage: s.SystemMessage,
			Model: s.Model, Provider: s.Provider, Temperature: &temp, MaxTokens: &maxTok,
			Timeout: &timeout, RequiresPrevious: s.RequiresPrevious, SaveIntermediate: &save,
			FilenameSuffix: s.FilenameSuffix,
		})
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		rollback()
		return nil, err
	}
	defPath := filepath.Join(r.profilesDir, spec.ID+".yaml")
	if err := os.MkdirAll(r.profilesDir, 0o755); err != nil {
		rollback()
		return nil, err
	}
	if err := os.WriteFile(defPath, b, 0o644); err != nil {
		rollback()
		return nil, err
	}
	written = append(written, defPath)

	if err := r.Reload(); err != nil {
		rollback()
		return nil, err
	}
	p, ok := r.Get(spec.ID)
	if !ok {
		rollback()
		return nil, fmt.Errorf("profile %q missing immediately after reload", spec.ID)
	}
	return p, nil
}

// safePromptPath validates that relPath resolves under promptsDir with
// no absolute path and no upward traversal.
func (r *Registry) safePromptPath(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("prompt file path must be relative: %q", relPath)
	}
	clean := filepath.Clean(filepath.Join(r.promptsDir, relPath))
	root := filepath.Clean(r.promptsDir)
	if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return "", fmt.Errorf("prompt file path escapes prompts root: %q", relPath)
	}
	return clean, nil
}

// SetFolderMapping and RemoveFolderMapping mutate and persist the
// folder_map.yaml, then reload so readers observe the change.
func (r *Registry) SetFolderMapping(folder, profileID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	m := r.FolderMap()
	m[strings.ToLower(folder)] = profileID
	if err := r.saveFolderMap(m); err != nil {
		return err
	}
	return r.Reload()
}

func (r *Registry) RemoveFolderMapping(folder string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	m := r.FolderMap()
	delete(m, strings.ToLower(folder))
	if err := r.saveFolderMap(m); err != nil {
		return err
	}
	return r.Reload()
}

// UpdatePromptByIndex overwrites the prompt body for profile id's stage
// at stageIndex and reloads, backing `PUT /profiles/{id}/prompts/{stage_index}`.
// The stage must have a prompt_file on disk already; built-in note-type
// profiles carry their prompts inline and so reject prompt updates, as
// does any on-disk stage that was defined without a prompt_file.
func (r *Registry) UpdatePromptByIndex(id string, stageIndex int, body string) (*Profile, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("profile %q not found", id)
	}
	if stageIndex < 0 || stageIndex >= len(p.Stages) {
		return nil, fmt.Errorf("stage index %d out of range for profile %q (%d stages)", stageIndex, id, len(p.Stages))
	}
	st := p.Stages[stageIndex]
	if st.PromptFile == "" {
		return nil, fmt.Errorf("stage %q of profile %q has no prompt file to update", st.Name, id)
	}
	promptPath, err := r.safePromptPath(st.PromptFile)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(promptPath, []byte(body), 0o644); err != nil {
		return nil, err
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	reloaded, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("profile %q missing immediately after reload", id)
	}
	return reloaded, nil
}

// DeleteProfileFile removes a user-defined profile's yaml definition
// and reloads. Prompt bodies are left on disk — other profiles may
// share them, so delete never garbage-collects the prompts tree.
// Built-in note-type profiles cannot be deleted this way.
func (r *Registry) DeleteProfileFile(id string) error {
	if _, builtin := builtinProfiles()[id]; builtin {
		return fmt.Errorf("profile %q is built-in and cannot be deleted", id)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	path := filepath.Join(r.profilesDir, id+".yaml")
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
	}
	return r.Reload()
}
