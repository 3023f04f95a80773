// Package asr is the ASR (automatic speech recognition) stage
// executor: a multipart upload to a Whisper-family remote endpoint,
// with an ffmpeg compression pre-pass for files over the endpoint's
// upload cap and separate retry ladders for rate limits and server
// errors.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/errorx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/httpx"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage"
)

// UploadLimitBytes is the remote ASR's upload cap: a file exactly at
// this size uploads without compression; one byte over triggers it.
const UploadLimitBytes = 25 * 1024 * 1024

// targetBytes is logged beside each transcode's resulting size for
// reference; whether a transcode is accepted is decided against
// UploadLimitBytes alone.
const targetBytes = 20 * 1024 * 1024

// bitrateLadder is the sequence of mono bitrates the compression
// pre-pass tries, each lower than the last, aborting if the file is
// still over the limit after the last rung.
var bitrateLadder = []string{"64k", "32k", "16k"}

type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	ffmpegPath string
	timeout    time.Duration
}

func NewClient(log *logger.Logger, baseURL, apiKey string) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		log:        log.With("component", "ASRClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      "whisper-large-v3",
		httpClient: &http.Client{Transport: tr},
		ffmpegPath: "ffmpeg",
		timeout:    300 * time.Second,
	}
}

// SetModel overrides the Whisper-family model name sent with each
// upload.
func (c *Client) SetModel(model string) {
	if strings.TrimSpace(model) != "" {
		c.model = model
	}
}

// rawSegment/rawResponse mirror the Whisper-family JSON response
// shape; duration is derived from segment end times when absent.
type rawSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type rawResponse struct {
	Text     string       `json:"text"`
	Segments []rawSegment `json:"segments"`
	Language string       `json:"language"`
	Duration float64      `json:"duration"`
}

// Transcribe runs the compression pre-pass (if needed) then uploads
// the (possibly transcoded) file to the ASR endpoint with the 429/5xx
// retry ladders.
func (c *Client) Transcribe(ctx context.Context, mediaPath string) (stage.ASRResult, error) {
	uploadPath, cleanup, err := c.prepareUpload(ctx, mediaPath)
	if err != nil {
		return stage.ASRResult{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	resp, err := c.upload(ctx, uploadPath)
	if err != nil {
		return stage.ASRResult{}, err
	}

	result := stage.ASRResult{Text: resp.Text, Language: resp.Language, Duration: resp.Duration}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, stage.ASRSegment{ID: s.ID, Start: s.Start, End: s.End, Text: s.Text})
	}
	result.DeriveDuration()
	return result, nil
}

// prepareUpload transcodes mediaPath down the bitrate ladder until it
// fits under UploadLimitBytes, or returns an error if it never does.
// Returns the path to use for upload and a cleanup func for any
// transcoded temp file (nil when the original file is used as-is).
func (c *Client) prepareUpload(ctx context.Context, mediaPath string) (string, func(), error) {
	info, err := os.Stat(mediaPath)
	if err != nil {
		return "", nil, errorx.LocalIO("stat media file", err)
	}
	if info.Size() <= UploadLimitBytes {
		return mediaPath, nil, nil
	}

	tmpDir, err := os.MkdirTemp("", "asr-transcode-*")
	if err != nil {
		return "", nil, errorx.LocalIO("mkdir transcode tmp dir", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	for _, bitrate := range bitrateLadder {
		out := filepath.Join(tmpDir, "transcoded_"+bitrate+".ogg")
		if err := c.transcode(ctx, mediaPath, out, bitrate); err != nil {
			cleanup()
			return "", nil, errorx.LocalIO("ffmpeg transcode", err)
		}
		outInfo, err := os.Stat(out)
		if err != nil {
			cleanup()
			return "", nil, errorx.LocalIO("stat transcoded file", err)
		}
		c.log.Info("asr: transcoded for size", "bitrate", bitrate, "bytes", outInfo.Size(), "target", targetBytes)
		if outInfo.Size() <= UploadLimitBytes {
			return out, cleanup, nil
		}
	}

	cleanup()
	return "", nil, errorx.LocalIO("transcode exhausted bitrate ladder, still over upload limit", nil)
}

func (c *Client) transcode(ctx context.Context, in, out, bitrate string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y", "-i", in,
		"-vn", "-ac", "1", "-b:a", bitrate, "-c:a", "libvorbis",
		out,
	)
	out2, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w; output=%s", err, string(out2))
	}
	return nil
}

// upload performs the HTTP round trip with two retry ladders:
// 429 -> {1,2,4}s; 5xx/timeout/reset -> up to 3 attempts at 2^attempt
// seconds; other 4xx -> no retry. The 300s end-to-end timeout wraps
// only this call, not the compression pre-pass.
func (c *Client) upload(ctx context.Context, path string) (*rawResponse, error) {
	rateLimitDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	const maxServerErrAttempts = 3

	attempt := 0
	rateLimitAttempt := 0
	for {
		ctx2, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.doUpload(ctx2, path)
		cancel()
		if err == nil {
			return resp, nil
		}

		var httpErr *httpx.HTTPError
		switch {
		case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests:
			if rateLimitAttempt >= len(rateLimitDelays) {
				return nil, errorx.TransientRemote("asr rate limited, retries exhausted", err)
			}
			delay := rateLimitDelays[rateLimitAttempt]
			rateLimitAttempt++
			c.log.Warn("asr: rate limited, backing off", "attempt", rateLimitAttempt, "sleep", delay.String())
			if !sleepOrDone(ctx, delay) {
				return nil, errorx.Cancelled
			}
			continue
		case errors.As(err, &httpErr) && httpx.IsRetryableHTTPStatus(httpErr.StatusCode):
			attempt++
			if attempt >= maxServerErrAttempts {
				return nil, errorx.TransientRemote("asr server error, retries exhausted", err)
			}
			delay := time.Duration(1<<attempt) * time.Second
			c.log.Warn("asr: server error, retrying", "attempt", attempt, "sleep", delay.String())
			if !sleepOrDone(ctx, delay) {
				return nil, errorx.Cancelled
			}
			continue
		case errors.As(err, &httpErr):
			// Other 4xx: permanent, no retry.
			return nil, errorx.PermanentRemote("asr returned client error", err)
		case isTimeoutOrReset(err):
			attempt++
			if attempt >= maxServerErrAttempts {
				return nil, errorx.TransientRemote("asr timeout/reset, retries exhausted", err)
			}
			delay := time.Duration(1<<attempt) * time.Second
			c.log.Warn("asr: timeout/reset, retrying", "attempt", attempt, "sleep", delay.String())
			if !sleepOrDone(ctx, delay) {
				return nil, errorx.Cancelled
			}
			continue
		default:
			return nil, errorx.TransientRemote("asr request failed", err)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isTimeoutOrReset(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (c *Client) doUpload(ctx context.Context, path string) (*rawResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errorx.LocalIO("open media file for upload", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, errorx.LocalIO("build multipart part", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, errorx.LocalIO("copy media into multipart body", err)
	}
	_ = writer.WriteField("model", c.model)
	_ = writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return nil, errorx.LocalIO("close multipart writer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, errorx.LocalIO("build upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpx.HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed rawResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errorx.TransientRemote("decode asr response", err)
	}
	return &parsed, nil
}
