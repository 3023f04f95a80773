package providers

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DEEPSEEK_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY", "ZAI_API_KEY"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestResolveExplicitProviderConfigured(t *testing.T) {
	clearEnv(t)
	os.Setenv("OPENAI_API_KEY", "sk-test")
	r := New()
	c, key, err := r.Resolve("gpt-4o", "openai")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Name != "openai" || key != "sk-test" {
		t.Fatalf("unexpected resolution: %+v %q", c, key)
	}
}

func TestResolveExplicitProviderUnconfiguredErrors(t *testing.T) {
	clearEnv(t)
	r := New()
	_, _, err := r.Resolve("gpt-4o", "openai")
	if err == nil {
		t.Fatalf("expected error for unconfigured explicit provider")
	}
	if _, ok := err.(*ExplicitProviderUnconfiguredError); !ok {
		t.Fatalf("expected ExplicitProviderUnconfiguredError, got %T", err)
	}
}

func TestResolvePrefixHints(t *testing.T) {
	clearEnv(t)
	os.Setenv("OPENROUTER_API_KEY", "or-test")
	r := New()

	cases := []string{
		"anthropic/claude-sonnet-4",
		"google/gemini-2.0-flash-001",
		"meta-llama/llama-4-maverick",
		"mistralai/mixtral-8x7b",
		"qwen/qwen3-235b-a22b",
	}
	for _, model := range cases {
		c, _, err := r.Resolve(model, "")
		if err != nil {
			t.Fatalf("resolve(%q): %v", model, err)
		}
		if c.Name != "openrouter" {
			t.Fatalf("resolve(%q) = %q, want openrouter", model, c.Name)
		}
	}
}

func TestResolveHintMatchedButUnconfiguredKeepsScanning(t *testing.T) {
	clearEnv(t)
	// "claude" hints at openrouter, which is unconfigured; deepseek
	// fallback is configured, so resolution must fall through to it.
	os.Setenv("DEEPSEEK_API_KEY", "ds-test")
	r := New()
	c, _, err := r.Resolve("claude-3-opus", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Name != "deepseek" {
		t.Fatalf("expected fallback to deepseek, got %q", c.Name)
	}
}

func TestResolveNoProviderConfigured(t *testing.T) {
	clearEnv(t)
	r := New()
	_, _, err := r.Resolve("unknown-model", "")
	if err == nil {
		t.Fatalf("expected NoProviderConfiguredError")
	}
	if _, ok := err.(*NoProviderConfiguredError); !ok {
		t.Fatalf("expected NoProviderConfiguredError, got %T", err)
	}
}

func TestResolveOpenrouterFallbackWhenNoHintMatches(t *testing.T) {
	clearEnv(t)
	os.Setenv("OPENROUTER_API_KEY", "or-test")
	r := New()
	c, _, err := r.Resolve("some-custom-finetune", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if c.Name != "openrouter" {
		t.Fatalf("expected openrouter fallback, got %q", c.Name)
	}
}
