package video

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/genai"
	"storyforge/internal/imaging"
)

// AsyncJob is the create/poll/download protocol. Reference images are
// resized to the exact target pixel dimensions before upload; the provider
// rejects mismatched aspect ratios.
type AsyncJob struct {
	model genai.ResolvedModel
	req   Request
	opts  Options
}

type asyncCreateResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
}

type asyncStatusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	OutputVideo string `json:"output_video"`
	Error       string `json:"error"`
}

type asyncContentResponse struct {
	URL string `json:"url"`
}

// Run executes the asynchronous protocol: create a remote task, poll it to
// a terminal state, then download the result.
func (j *AsyncJob) Run(ctx context.Context) (domain.VideoData, error) {
	pollCtx, cancel := context.WithTimeout(ctx, j.opts.PollTimeout)
	defer cancel()

	taskID, err := j.create(pollCtx)
	if err != nil {
		return domain.VideoData{}, err
	}
	j.opts.Logger.Debug().Str("task_id", taskID).Msg("video: async task created")

	videoID, err := j.poll(pollCtx, taskID)
	if err != nil {
		return domain.VideoData{}, err
	}

	// The download budget is independent of the poll deadline; each
	// attempt gets its own fresh timeout.
	return j.download(ctx, videoID)
}

func (j *AsyncJob) create(ctx context.Context) (string, error) {
	dims := imaging.DimensionsForAspect(j.req.AspectRatio)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("prompt", j.req.Prompt); err != nil {
		return "", fmt.Errorf("write prompt field: %w", err)
	}
	if j.req.DurationSeconds > 0 {
		if err := mw.WriteField("duration", strconv.Itoa(j.req.DurationSeconds)); err != nil {
			return "", fmt.Errorf("write duration field: %w", err)
		}
	}
	if err := mw.WriteField("resolution", fmt.Sprintf("%dx%d", dims.Width, dims.Height)); err != nil {
		return "", fmt.Errorf("write resolution field: %w", err)
	}
	if len(j.req.References) > 0 && !j.req.References[0].IsZero() {
		fitted, err := imaging.ResizeCoverData(j.req.References[0], dims)
		if err != nil {
			return "", fmt.Errorf("fit reference image: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(fitted.Base64)
		if err != nil {
			return "", fmt.Errorf("decode fitted reference: %w", err)
		}
		fw, err := mw.CreateFormFile("reference_image", "reference.png")
		if err != nil {
			return "", fmt.Errorf("create reference part: %w", err)
		}
		if _, err := fw.Write(raw); err != nil {
			return "", fmt.Errorf("write reference part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.model.URL(), &body)
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+j.model.APIKey)

	resp, err := j.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &genai.TimeoutError{Op: "create video task"}
		}
		return "", fmt.Errorf("send create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &genai.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out asyncCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &genai.ParseError{Detail: "decode create body", Err: err}
	}
	taskID := out.ID
	if taskID == "" {
		taskID = out.TaskID
	}
	if taskID == "" {
		return "", &genai.ParseError{Detail: "create response carries no task id"}
	}
	return taskID, nil
}

// poll queries task status on a fixed interval until a terminal state or
// the poll deadline. Expiry is a deliberate client-side abandonment; the
// remote task may still be running.
func (j *AsyncJob) poll(ctx context.Context, taskID string) (string, error) {
	statusURL := j.model.URL() + "/" + taskID
	for {
		select {
		case <-time.After(j.opts.PollInterval):
		case <-ctx.Done():
			return "", &genai.TimeoutError{Op: "poll video task", Terminal: true}
		}

		status, err := j.queryStatus(ctx, statusURL)
		if err != nil {
			if genai.IsTimeout(err) {
				return "", &genai.TimeoutError{Op: "poll video task", Terminal: true}
			}
			return "", err
		}

		switch strings.ToLower(strings.TrimSpace(status.Status)) {
		case "completed", "succeeded", "success":
			videoID := status.OutputVideo
			if videoID == "" {
				videoID = status.ID
			}
			if videoID == "" {
				videoID = taskID
			}
			return videoID, nil
		case "failed", "error", "cancelled", "canceled":
			msg := status.Error
			if msg == "" {
				msg = status.Status
			}
			return "", fmt.Errorf("video task failed: %s", msg)
		default:
			// Anything non-terminal keeps polling.
			j.opts.Logger.Debug().Str("task_id", taskID).Str("status", status.Status).Msg("video: task still running")
		}
	}
}

func (j *AsyncJob) queryStatus(ctx context.Context, url string) (asyncStatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return asyncStatusResponse{}, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+j.model.APIKey)

	resp, err := j.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return asyncStatusResponse{}, &genai.TimeoutError{Op: "query video task"}
		}
		return asyncStatusResponse{}, fmt.Errorf("send status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return asyncStatusResponse{}, &genai.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out asyncStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return asyncStatusResponse{}, &genai.ParseError{Detail: "decode status body", Err: err}
	}
	return out, nil
}

// download fetches the finished result. Transient failures (>=500 or a
// client-side abort) retry with a growing delay; anything else, and
// exhaustion of the budget, surfaces as a *genai.DownloadError so callers
// can tell "generation succeeded but result unreachable" from generation
// failure.
func (j *AsyncJob) download(ctx context.Context, videoID string) (domain.VideoData, error) {
	contentURL := j.model.URL() + "/" + videoID + "/content"

	var lastErr error
	for attempt := 1; attempt <= j.opts.DownloadAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * j.opts.DownloadDelay
			j.opts.Logger.Warn().
				Err(lastErr).
				Int("attempt", attempt-1).
				Dur("delay", delay).
				Msg("video: result download failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.VideoData{}, &genai.DownloadError{Attempts: attempt - 1, Err: lastErr}
			}
		}

		data, err := j.downloadOnce(ctx, contentURL)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var httpErr *genai.HTTPError
		transient := genai.IsTimeout(err) || (errors.As(err, &httpErr) && httpErr.StatusCode >= http.StatusInternalServerError)
		if !transient {
			return domain.VideoData{}, &genai.DownloadError{Attempts: attempt, Err: err}
		}
	}
	return domain.VideoData{}, &genai.DownloadError{Attempts: j.opts.DownloadAttempts, Err: lastErr}
}

func (j *AsyncJob) downloadOnce(ctx context.Context, url string) (domain.VideoData, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, j.opts.DownloadTimeout)
	defer cancel()

	blob, contentType, err := fetchBytes(attemptCtx, j.opts.HTTPClient, url, j.model.APIKey)
	if err != nil {
		return domain.VideoData{}, err
	}

	// Some providers answer with the bytes, others with a JSON envelope
	// pointing at the real file.
	if strings.Contains(contentType, "application/json") {
		var envelope asyncContentResponse
		if err := json.Unmarshal(blob, &envelope); err != nil {
			return domain.VideoData{}, &genai.ParseError{Detail: "decode content envelope", Err: err}
		}
		if envelope.URL == "" {
			return domain.VideoData{}, &genai.ParseError{Detail: "content envelope carries no url"}
		}
		blob, contentType, err = fetchBytes(attemptCtx, j.opts.HTTPClient, envelope.URL, "")
		if err != nil {
			return domain.VideoData{}, err
		}
	}
	return encodeVideo(blob, contentType), nil
}
