// Package video drives video generation jobs. Two protocols exist: a
// synchronous single-request flow and an asynchronous create/poll/download
// flow. Both are modeled as one Job interface so call sites never learn which one
// ran, and a third protocol slots in without touching them.
package video

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
	"storyforge/internal/genai"
)

// Job runs one video generation to completion and returns a self-contained
// encoded payload.
type Job interface {
	Run(ctx context.Context) (domain.VideoData, error)
}

// Options tunes protocol timings. Zero values take the production defaults;
// tests shrink them.
type Options struct {
	HTTPClient *http.Client
	Logger     zerolog.Logger

	// SyncTimeout bounds the whole synchronous protocol.
	SyncTimeout time.Duration
	// PollInterval is the spacing between async status checks.
	PollInterval time.Duration
	// PollTimeout bounds the async create+poll phase. Expiry abandons the
	// job client-side; the remote task is not cancelled.
	PollTimeout time.Duration
	// DownloadAttempts bounds async result downloads.
	DownloadAttempts int
	// DownloadTimeout applies freshly to each download attempt.
	DownloadTimeout time.Duration
	// DownloadDelay is multiplied by the attempt number between retries.
	DownloadDelay time.Duration
}

const (
	defaultSyncTimeout      = 20 * time.Minute
	defaultPollInterval     = 5 * time.Second
	defaultPollTimeout      = 20 * time.Minute
	defaultDownloadAttempts = 5
	defaultDownloadTimeout  = 10 * time.Minute
	defaultDownloadDelay    = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = defaultSyncTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
	if o.DownloadAttempts <= 0 {
		o.DownloadAttempts = defaultDownloadAttempts
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = defaultDownloadTimeout
	}
	if o.DownloadDelay <= 0 {
		o.DownloadDelay = defaultDownloadDelay
	}
	return o
}

// Request describes the video to generate. References are the start frame
// and, optionally, the end frame.
type Request struct {
	Prompt          string
	References      []domain.ImageData
	AspectRatio     string
	DurationSeconds int
}

// NewJob builds the protocol implementation matching the resolved model's
// mode.
func NewJob(model genai.ResolvedModel, req Request, opts Options) (Job, error) {
	opts = opts.withDefaults()
	switch model.Mode {
	case genai.ModeSync:
		return &SyncJob{model: model, req: req, opts: opts}, nil
	case genai.ModeAsync:
		return &AsyncJob{model: model, req: req, opts: opts}, nil
	default:
		return nil, &genai.ConfigError{Kind: "video", Hint: fmt.Sprintf("unknown mode %q", model.Mode)}
	}
}

// fetchBytes downloads a URL and returns its bytes and content type,
// translating failures into the typed taxonomy.
func fetchBytes(ctx context.Context, client *http.Client, url, apiKey string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, "", &genai.TimeoutError{Op: "download"}
		}
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", &genai.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, "", &genai.TimeoutError{Op: "download"}
		}
		return nil, "", fmt.Errorf("read download: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func encodeVideo(blob []byte, contentType string) domain.VideoData {
	mime := strings.TrimSpace(contentType)
	if mime == "" || !strings.HasPrefix(mime, "video/") {
		mime = "video/mp4"
	}
	return domain.VideoData{MIMEType: mime, Base64: base64.StdEncoding.EncodeToString(blob)}
}
