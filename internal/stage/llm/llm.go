// Package llm is the LLM stage executor: one OpenAI-chat-compatible
// call per Stage in a profile's pipeline — template substitution,
// provider resolution, request/response handling, and usage
// extraction for cost accounting.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/httpx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/providers"
)

// Request is everything one LLM stage call needs, already resolved
// from the profile Stage plus the runner's substitution inputs.
type Request struct {
	Model            string
	Provider         string // explicit routing hint, may be empty
	SystemMessage    string
	PromptTemplate   string
	Transcript       string // substituted for {transcript}
	CleanedTranscript string // substituted for {cleaned_transcript}; falls back to Transcript when absent
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
}

// Result is what the runner persists into a StageResult on success.
type Result struct {
	Content      string
	ModelUsed    string
	InputTokens  int
	OutputTokens int
}

// BuildPrompt performs literal {transcript}/{cleaned_transcript}
// substitution via strings.ReplaceAll, never text/template, so braces
// inside transcript content are never interpreted as format syntax.
// If the template references {cleaned_transcript} but none was
// supplied, the current pipeline input (Transcript) is substituted
// instead of being left literal.
func BuildPrompt(req Request) string {
	cleaned := req.CleanedTranscript
	if cleaned == "" {
		cleaned = req.Transcript
	}
	out := strings.ReplaceAll(req.PromptTemplate, "{transcript}", req.Transcript)
	out = strings.ReplaceAll(out, "{cleaned_transcript}", cleaned)
	return out
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Client executes LLM stage calls over a shared *http.Client, tuned
// the way oaihttp.New builds its transport.
type Client struct {
	router     *providers.Router
	httpClient *http.Client
}

func NewClient(router *providers.Router) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{router: router, httpClient: &http.Client{Transport: tr}}
}

// NewClientWithHTTP is for tests: it swaps in a RoundTripper that never
// hits the network.
func NewClientWithHTTP(router *providers.Router, httpClient *http.Client) *Client {
	return &Client{router: router, httpClient: httpClient}
}

// Run resolves a provider, assembles the OpenAI-chat-compatible
// request, and POSTs it with stream:false. Errors are categorized:
// HTTP 429/5xx/timeout -> TransientRemote, other 4xx ->
// PermanentRemote, provider resolution failure -> Configuration.
func (c *Client) Run(ctx context.Context, req Request) (Result, error) {
	cfg, apiKey, err := c.router.Resolve(req.Model, req.Provider)
	if err != nil {
		return Result{}, errorx.Configuration("provider resolution", err)
	}

	prompt := BuildPrompt(req)
	wire := chatCompletionRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemMessage},
			{Role: "user", Content: prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(wire); err != nil {
		return Result{}, errorx.LocalIO("encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", &buf)
	if err != nil {
		return Result{}, errorx.LocalIO("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	for k, v := range providers.ExtraHeaders(cfg.Name) {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errorx.TransientRemote("llm call timed out", err)
		}
		return Result{}, errorx.TransientRemote("llm call failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		herr := &httpx.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return Result{}, errorx.TransientRemote(fmt.Sprintf("llm provider %s returned %d", cfg.Name, resp.StatusCode), herr)
		}
		return Result{}, errorx.PermanentRemote(fmt.Sprintf("llm provider %s returned %d", cfg.Name, resp.StatusCode), herr)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, errorx.TransientRemote("decode llm response", err)
	}
	var content string
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}

	return Result{
		Content:      content,
		ModelUsed:    req.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
