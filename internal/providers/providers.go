// Package providers is the Provider Router: given a model identifier
// and an optional explicit provider tag, resolves to a concrete LLM
// endpoint (base URL + credential), following a fixed resolution
// order and a model-name hint table.
package providers

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Name      string
	BaseURL   string
	APIKeyEnv string
}

// registry is the fixed provider table. Declaration order only
// matters for ConfiguredProviders' iteration; resolution order itself
// is driven by the hint table below.
var registry = []Config{
	{Name: "deepseek", BaseURL: "https://api.deepseek.com/v1", APIKeyEnv: "DEEPSEEK_API_KEY"},
	{Name: "openrouter", BaseURL: "https://openrouter.ai/api/v1", APIKeyEnv: "OPENROUTER_API_KEY"},
	{Name: "openai", BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY"},
	{Name: "zai", BaseURL: "https://api.z.ai/v1", APIKeyEnv: "ZAI_API_KEY"},
}

// hint is one (substring, provider) pair; order matters, first
// configured match wins.
type hint struct {
	substr   string
	provider string
}

var hints = []hint{
	{"deepseek", "deepseek"},
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"claude", "openrouter"},
	{"anthropic/", "openrouter"},
	{"google/", "openrouter"},
	{"meta-llama/", "openrouter"},
	{"mistralai/", "openrouter"},
	{"qwen", "openrouter"},
	{"gemini", "openrouter"},
	{"llama", "openrouter"},
}

// NoProviderConfiguredError is raised when resolution exhausts every
// strategy without finding a provider with a configured credential.
type NoProviderConfiguredError struct {
	Model string
}

func (e *NoProviderConfiguredError) Error() string {
	return fmt.Sprintf("no provider configured for model %q", e.Model)
}

// ExplicitProviderUnconfiguredError is raised when the caller names a
// specific provider but its credential is not configured.
type ExplicitProviderUnconfiguredError struct {
	Provider string
}

func (e *ExplicitProviderUnconfiguredError) Error() string {
	return fmt.Sprintf("explicit provider %q is not configured", e.Provider)
}

func byName(name string) (Config, bool) {
	for _, c := range registry {
		if c.Name == name {
			return c, true
		}
	}
	return Config{}, false
}

func configured(c Config) bool {
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv)) != ""
}

// Router resolves (model, explicitProvider) to a Config and the
// credential value, with env vars read lazily (Resolve, not a cached
// snapshot) so credential changes take effect without a restart.
type Router struct{}

func New() *Router { return &Router{} }

// Resolve walks the provider resolution order: explicit override (an
// error if that provider has no credential), then the substring hint
// table, then the openrouter fallback, then deepseek, erroring if none
// of those produce a usable provider.
func (r *Router) Resolve(model, explicitProvider string) (Config, string, error) {
	if explicitProvider != "" {
		c, ok := byName(explicitProvider)
		if !ok || !configured(c) {
			return Config{}, "", &ExplicitProviderUnconfiguredError{Provider: explicitProvider}
		}
		return c, os.Getenv(c.APIKeyEnv), nil
	}

	lower := strings.ToLower(model)
	for _, h := range hints {
		if strings.Contains(lower, h.substr) {
			c, ok := byName(h.provider)
			if ok && configured(c) {
				return c, os.Getenv(c.APIKeyEnv), nil
			}
			// matched but not configured: keep scanning
		}
	}

	if c, ok := byName("openrouter"); ok && configured(c) {
		return c, os.Getenv(c.APIKeyEnv), nil
	}
	if c, ok := byName("deepseek"); ok && configured(c) {
		return c, os.Getenv(c.APIKeyEnv), nil
	}
	return Config{}, "", &NoProviderConfiguredError{Model: model}
}

// ConfiguredProviders reports which providers have a credential set,
// used by GET /ready.
func (r *Router) ConfiguredProviders() map[string]bool {
	out := make(map[string]bool, len(registry))
	for _, c := range registry {
		out[c.Name] = configured(c)
	}
	return out
}

// ExtraHeaders returns provider-specific headers beyond the standard
// Authorization: Bearer header — openrouter requires a referer and a
// title.
func ExtraHeaders(providerName string) map[string]string {
	if providerName != "openrouter" {
		return nil
	}
	return map[string]string{
		"HTTP-Referer": "https://github.com/dadof3littlemonsters/transcription-pipeline",
		"X-Title":      "transcription-pipeline",
	}
}
