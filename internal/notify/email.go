package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/envutil"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/httpx"
)

// EmailConfig holds what a job-completion notice needs: no templates,
// no CC/BCC, a single From identity read from the environment.
type EmailConfig struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

func EmailConfigFromEnv() EmailConfig {
	return EmailConfig{
		APIKey:    envutil.GetEnv("SENDGRID_API_KEY", ""),
		BaseURL:   envutil.GetEnv("SENDGRID_BASE_URL", "https://api.sendgrid.com"),
		FromEmail: envutil.GetEnv("SENDGRID_FROM_EMAIL", ""),
		FromName:  envutil.GetEnv("SENDGRID_FROM_NAME", "Transcription Pipeline"),
		Timeout:   time.Duration(envutil.GetEnvAsInt("SENDGRID_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

// EmailChannel sends a job summary through SendGrid's v3 mail/send
// REST endpoint directly over net/http, trimmed to a single recipient
// personalization and plain-text+optional-attachments content.
type EmailChannel struct {
	cfg        EmailConfig
	httpClient *http.Client
}

// NewEmailChannel returns nil, false when SENDGRID_API_KEY or
// SENDGRID_FROM_EMAIL is unset — callers skip wiring the email channel
// into Fanout entirely rather than carry a half-configured client.
func NewEmailChannel(cfg EmailConfig) (*EmailChannel, bool) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, false
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailChannel{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, true
}

func (c *EmailChannel) Name() string { return "email" }

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgAttachment struct {
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition,omitempty"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
	Attachments      []sgAttachment    `json:"attachments,omitempty"`
}

func (c *EmailChannel) Send(ctx context.Context, to []string, summary Summary, attachments []Attachment) error {
	recipients := make([]emailAddress, 0, len(to))
	for _, addr := range to {
		recipients = append(recipients, emailAddress{Email: addr})
	}

	atts, err := buildEmailAttachments(attachments)
	if err != nil {
		return err
	}

	wire := mailSendRequest{
		Personalizations: []personalization{{To: recipients}},
		From:             emailAddress{Email: c.cfg.FromEmail, Name: c.cfg.FromName},
		Subject:          emailSubject(summary),
		Content:          []mailContent{{Type: "text/plain", Value: emailBody(summary)}},
		Attachments:      atts,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(wire); err != nil {
		return fmt.Errorf("encode sendgrid request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v3/mail/send", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpx.HTTPError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	return nil
}

func emailSubject(s Summary) string {
	if s.Status == "COMPLETE" {
		return fmt.Sprintf("Transcription complete: %s", s.SourceFilename)
	}
	return fmt.Sprintf("Transcription failed: %s", s.SourceFilename)
}

func emailBody(s Summary) string {
	if s.Status == "COMPLETE" {
		return fmt.Sprintf("Job %s finished.\nProfile: %s\nDuration: %.1fs\nEstimated cost: $%.4f",
			s.JobID, s.ProfileName, s.DurationSeconds, s.CostEstimate)
	}
	return fmt.Sprintf("Job %s failed.\nProfile: %s\nError: %s", s.JobID, s.ProfileName, s.Error)
}

func buildEmailAttachments(in []Attachment) ([]sgAttachment, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]sgAttachment, 0, len(in))
	for _, a := range in {
		raw, err := os.ReadFile(a.Path)
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", a.Path, err)
		}
		out = append(out, sgAttachment{
			Content:  base64.StdEncoding.EncodeToString(raw),
			Type:     a.MIMEType,
			Filename: a.Filename,
		})
	}
	return out, nil
}
