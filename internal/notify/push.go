package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/httpx"
)

var sharedHTTPClient = &http.Client{}

// NtfyChannel posts a plain-text push notification to an ntfy topic.
// Attachments are not supported by ntfy's simple POST API, so they are
// summarized by name in the body instead of being uploaded.
type NtfyChannel struct{}

func (c *NtfyChannel) Name() string { return "ntfy" }

func (c *NtfyChannel) Send(ctx context.Context, baseURL, topic string, summary Summary, attachments []Attachment) error {
	if baseURL == "" {
		baseURL = "https://ntfy.sh"
	}
	body := summaryLine(summary, attachments)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/"+topic, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Title", ntfyTitle(summary))
	return doSimplePost(req)
}

func ntfyTitle(s Summary) string {
	if s.Status == "COMPLETE" {
		return "Transcription complete"
	}
	return "Transcription failed"
}

// DiscordChannel posts to a Discord incoming webhook URL.
type DiscordChannel struct{}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, webhookURL string, summary Summary, attachments []Attachment) error {
	payload := map[string]string{"content": summaryLine(summary, attachments)}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doSimplePost(req)
}

// PushoverChannel posts to Pushover's messages API.
type PushoverChannel struct{}

func (c *PushoverChannel) Name() string { return "pushover" }

func (c *PushoverChannel) Send(ctx context.Context, user, token string, summary Summary, attachments []Attachment) error {
	form := url.Values{
		"token":   {token},
		"user":    {user},
		"title":   {ntfyTitle(summary)},
		"message": {summaryLine(summary, attachments)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.pushover.net/1/messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doSimplePost(req)
}

func summaryLine(s Summary, attachments []Attachment) string {
	if s.Status == "COMPLETE" {
		names := make([]string, 0, len(attachments))
		for _, a := range attachments {
			names = append(names, a.Filename)
		}
		line := fmt.Sprintf("%s finished (%s, $%.4f)", s.SourceFilename, s.ProfileName, s.CostEstimate)
		if len(names) > 0 {
			line += " — outputs: " + strings.Join(names, ", ")
		}
		return line
	}
	return fmt.Sprintf("%s failed (%s): %s", s.SourceFilename, s.ProfileName, s.Error)
}

func doSimplePost(req *http.Request) error {
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpx.HTTPError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	return nil
}
