package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/providers"
)

func clearProviderEnv(t *testing.T) {
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

// redirectTransport forces every request onto the given test server
// regardless of the host the Provider Router resolved, so Run's
// request/response handling can be exercised without a real provider.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = rt.target.Scheme
	req2.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req2)
}

func TestBuildPromptSubstitutesLiteralPlaceholders(t *testing.T) {
	got := BuildPrompt(Request{
		PromptTemplate: "Summarize: {transcript}\nClean: {cleaned_transcript}",
		Transcript:     "raw text with {braces}",
	})
	want := "Summarize: raw text with {braces}\nClean: raw text with {braces}"
	if got != want {
		t.Fatalf("BuildPrompt = %q, want %q", got, want)
	}
}

func TestBuildPromptUsesCleanedTranscriptWhenProvided(t *testing.T) {
	got := BuildPrompt(Request{
		PromptTemplate:    "{cleaned_transcript}",
		Transcript:        "raw",
		CleanedTranscript: "already cleaned",
	})
	if got != "already cleaned" {
		t.Fatalf("BuildPrompt = %q, want cleaned transcript substituted", got)
	}
}

func TestRunSuccessExtractsContentAndUsage(t *testing.T) {
	clearProviderEnv(t)
	os.Setenv("OPENAI_API_KEY", "test-key")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth header, got %q", r.Header.Get("Authorization"))
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "formatted notes"}},
			},
			"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 20},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	target, _ := url.Parse(srv.URL)
	httpClient := &http.Client{Transport: redirectTransport{target: target}}
	c := NewClientWithHTTP(providers.New(), httpClient)

	result, err := c.Run(context.Background(), Request{
		Model:          "gpt-4o",
		Provider:       "openai",
		PromptTemplate: "{transcript}",
		Transcript:     "hello world",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "formatted notes" {
		t.Fatalf("Content = %q, want %q", result.Content, "formatted notes")
	}
	if result.InputTokens != 100 || result.OutputTokens != 20 {
		t.Fatalf("tokens = (%d,%d), want (100,20)", result.InputTokens, result.OutputTokens)
	}
	if result.ModelUsed != "gpt-4o" {
		t.Fatalf("ModelUsed = %q, want gpt-4o", result.ModelUsed)
	}
}

func TestRunClassifiesPermanentVsTransientErrors(t *testing.T) {
	clearProviderEnv(t)
	os.Setenv("OPENAI_API_KEY", "test-key")

	for _, tc := range []struct {
		status   int
		wantCat  errorx.Category
	}{
		{http.StatusUnauthorized, errorx.CategoryPermanentRemote},
		{http.StatusTooManyRequests, errorx.CategoryTransientRemote},
		{http.StatusInternalServerError, errorx.CategoryTransientRemote},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		target, _ := url.Parse(srv.URL)
		httpClient := &http.Client{Transport: redirectTransport{target: target}}
		c := NewClientWithHTTP(providers.New(), httpClient)

		_, err := c.Run(context.Background(), Request{
			Model: "gpt-4o", Provider: "openai", PromptTemplate: "{transcript}", Transcript: "hi",
		})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		var domainErr *errorx.Error
		if !errors.As(err, &domainErr) {
			t.Fatalf("status %d: expected *errorx.Error, got %T", tc.status, err)
		}
		if domainErr.Category != tc.wantCat {
			t.Fatalf("status %d: category = %s, want %s", tc.status, domainErr.Category, tc.wantCat)
		}
	}
}

func TestRunConfigurationErrorWhenNoProviderConfigured(t *testing.T) {
	clearProviderEnv(t)
	c := NewClient(providers.New())
	_, err := c.Run(context.Background(), Request{Model: "unknown-model-xyz", PromptTemplate: "{transcript}", Transcript: "hi"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var domainErr *errorx.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected *errorx.Error, got %T", err)
	}
	if domainErr.Category != errorx.CategoryConfiguration {
		t.Fatalf("category = %s, want configuration", domainErr.Category)
	}
}
