// Package notify is the Notification Fan-out: best-effort delivery of
// job-completion/failure summaries over whichever channels a profile's
// NotificationConfig names. Every channel send is capped at 10s and
// never returns past the caller as a failure — notification delivery
// must never fail a job. Email is a hand-rolled HTTP client against
// SendGrid's REST API rather than an SDK import, the same shape
// applied here to ntfy, Discord, and Pushover.
package notify

import (
	"context"
	"sort"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
)

const sendTimeout = 10 * time.Second

// maxAttachmentBytes is SendGrid's practical attachment cap; the same
// ceiling is applied uniformly across channels for simplicity.
const maxAttachmentBytes = 20 * 1024 * 1024

// Summary is what every channel renders into its own message format.
type Summary struct {
	JobID           string
	Status          string
	ProfileName     string
	SourceFilename  string
	Error           string
	CostEstimate    float64
	DurationSeconds float64
}

// Attachment is one candidate file to attach to the email channel.
// Priority ranks importance when the total size must be trimmed to
// fit under maxAttachmentBytes: lower values are kept first.
type Attachment struct {
	Path     string
	Filename string
	MIMEType string
	Priority int
	SizeHint int64
}

// Channel is one notification transport. Implementations must honor
// ctx's deadline and never panic; Fanout.Notify recovers nothing.
type Channel interface {
	Name() string
	Send(ctx context.Context, summary Summary, attachments []Attachment) error
}

// Fanout holds one instance of each channel type and drives them
// against a single profile's NotificationConfig.
type Fanout struct {
	log      *logger.Logger
	email    *EmailChannel
	ntfy     *NtfyChannel
	discord  *DiscordChannel
	pushover *PushoverChannel
}

func NewFanout(log *logger.Logger, email *EmailChannel) *Fanout {
	return &Fanout{
		log:      log.With("component", "NotificationFanout"),
		email:    email,
		ntfy:     &NtfyChannel{},
		discord:  &DiscordChannel{},
		pushover: &PushoverChannel{},
	}
}

// Notify fires every channel the profile's NotificationConfig
// configures, one after another, each bounded at sendTimeout. Errors are
// logged and swallowed; Notify itself never returns an error.
func (f *Fanout) Notify(ctx context.Context, cfg profiles.NotificationConfig, summary Summary, attachments []Attachment) {
	attachments = capAttachments(attachments, maxAttachmentBytes)

	type send struct {
		name string
		fn   func(context.Context) error
	}
	var sends []send

	if len(cfg.EmailTo) > 0 && f.email != nil {
		sends = append(sends, send{"email", func(ctx context.Context) error {
			return f.email.Send(ctx, cfg.EmailTo, summary, attachments)
		}})
	}
	if cfg.NtfyTopic != "" {
		sends = append(sends, send{"ntfy", func(ctx context.Context) error {
			return f.ntfy.Send(ctx, cfg.NtfyURL, cfg.NtfyTopic, summary, attachments)
		}})
	}
	if cfg.DiscordWebhook != "" {
		sends = append(sends, send{"discord", func(ctx context.Context) error {
			return f.discord.Send(ctx, cfg.DiscordWebhook, summary, attachments)
		}})
	}
	if cfg.PushoverUser != "" && cfg.PushoverToken != "" {
		sends = append(sends, send{"pushover", func(ctx context.Context) error {
			return f.pushover.Send(ctx, cfg.PushoverUser, cfg.PushoverToken, summary, attachments)
		}})
	}

	for _, s := range sends {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.fn(sctx)
		cancel()
		if err != nil {
			f.log.Warn("notification channel failed", "channel", s.name, "job_id", summary.JobID, "error", err)
		}
	}
}

// capAttachments keeps attachments under budget, preferring lower
// Priority values first and, within equal priority, smaller files —
// so a truncation drops the largest, least-important files first.
func capAttachments(atts []Attachment, budget int64) []Attachment {
	sorted := make([]Attachment, len(atts))
	copy(sorted, atts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].SizeHint < sorted[j].SizeHint
	})

	var kept []Attachment
	var total int64
	for _, a := range sorted {
		if total+a.SizeHint > budget {
			continue
		}
		kept = append(kept, a)
		total += a.SizeHint
	}
	return kept
}
