// Package profiles is the Profile Registry: it loads pipeline
// definitions from a directory of YAML files plus a parallel prompts/
// tree, and serves them by id. Reloads swap an atomic pointer to a
// freshly built in-memory map rather than mutating one in place, so
// readers never observe a half-built map.
package profiles

// Stage is one step in a profile's ordered pipeline.
type Stage struct {
	Name             string  `yaml:"name"`
	PromptFile       string  `yaml:"prompt_file"`
	PromptTemplate   string  `yaml:"-"` // loaded from PromptFile at parse time
	SystemMessage    string  `yaml:"system_message"`
	Model            string  `yaml:"model"`
	Provider         string  `yaml:"provider"`
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	TimeoutSeconds   int     `yaml:"timeout"`
	RequiresPrevious bool    `yaml:"requires_previous"`
	SaveIntermediate bool    `yaml:"save_intermediate"`
	FilenameSuffix   string  `yaml:"filename_suffix"`
}

// SyncthingConfig carries the inbound-folder routing hint. Both
// share_folder and folder keys are accepted: share_folder is the
// canonical key, folder is a fallback alias kept so older profile
// files keep working.
type SyncthingConfig struct {
	ShareFolder string `yaml:"share_folder"`
	Folder      string `yaml:"folder"`
	Subfolder   string `yaml:"subfolder"`
}

// ResolvedFolder returns the effective share folder, preferring
// ShareFolder over the legacy Folder alias.
func (s SyncthingConfig) ResolvedFolder() string {
	if s.ShareFolder != "" {
		return s.ShareFolder
	}
	return s.Folder
}

// NotificationConfig names the concrete notification channels a
// profile can configure: ntfy (push topic), Discord (chat webhook),
// Pushover (mobile push), plus email.
type NotificationConfig struct {
	EmailTo         []string `yaml:"email_to"`
	NtfyTopic       string   `yaml:"ntfy_topic"`
	NtfyURL         string   `yaml:"ntfy_url"`
	DiscordWebhook  string   `yaml:"discord_webhook"`
	PushoverUser    string   `yaml:"pushover_user"`
	PushoverToken   string   `yaml:"pushover_token"`
}

// Profile is the in-memory structure produced by the registry.
type Profile struct {
	ID              string `yaml:"-"` // filename stem, never the yaml `name` field
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	SkipDiarization bool   `yaml:"skip_diarization"`
	Priority        int    `yaml:"priority"`
	Stages          []Stage
	Syncthing       SyncthingConfig     `yaml:"syncthing"`
	Notifications   NotificationConfig  `yaml:"notifications"`
}

// rawProfile is the literal YAML shape, before prompt bodies are
// loaded and the id is assigned from the filename.
type rawProfile struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	SkipDiarization bool   `yaml:"skip_diarization"`
	Priority        int    `yaml:"priority"`
	Stages          []struct {
		Name             string  `yaml:"name"`
		PromptFile       string  `yaml:"prompt_file"`
		SystemMessage    string  `yaml:"system_message"`
		Model            string  `yaml:"model"`
		Provider         string  `yaml:"provider"`
		Temperature      *float64 `yaml:"temperature"`
		MaxTokens        *int    `yaml:"max_tokens"`
		Timeout          *int    `yaml:"timeout"`
		RequiresPrevious bool    `yaml:"requires_previous"`
		SaveIntermediate *bool   `yaml:"save_intermediate"`
		FilenameSuffix   string  `yaml:"filename_suffix"`
	} `yaml:"stages"`
	Syncthing     SyncthingConfig    `yaml:"syncthing"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// Stage field defaults applied when a profile YAML omits them.
const (
	defaultModel            = "deepseek-chat"
	defaultTemperature      = 0.3
	defaultMaxTokens        = 4096
	defaultTimeoutSeconds   = 120
	defaultSaveIntermediate = true
)

const defaultPriority = 5
