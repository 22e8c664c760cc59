package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"storyforge/internal/domain"
	"storyforge/internal/genai"
)

// mediaURLPattern matches the video link embedded in a sync provider's
// completion text.
var mediaURLPattern = regexp.MustCompile(`https?://[^\s"'<>()\[\]]+\.(?:mp4|webm|mov)[^\s"'<>()\[\]]*`)

// SyncJob is the single-request protocol: one chat-shaped completion whose
// response text embeds a hosted media URL, which is fetched immediately so
// the result never depends on an external link that may expire.
type SyncJob struct {
	model genai.ResolvedModel
	req   Request
	opts  Options
}

type syncContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *syncImageURL `json:"image_url,omitempty"`
}

type syncImageURL struct {
	URL string `json:"url"`
}

type syncRequest struct {
	Model    string        `json:"model"`
	Messages []syncMessage `json:"messages"`
}

type syncMessage struct {
	Role    string            `json:"role"`
	Content []syncContentPart `json:"content"`
}

type syncResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Run executes the synchronous protocol under one overall deadline.
func (j *SyncJob) Run(ctx context.Context) (domain.VideoData, error) {
	ctx, cancel := context.WithTimeout(ctx, j.opts.SyncTimeout)
	defer cancel()

	content := []syncContentPart{{Type: "text", Text: j.req.Prompt}}
	// Start frame and, when present, end frame travel as data URLs.
	for i, ref := range j.req.References {
		if i >= 2 || ref.IsZero() {
			break
		}
		content = append(content, syncContentPart{
			Type:     "image_url",
			ImageURL: &syncImageURL{URL: fmt.Sprintf("data:%s;base64,%s", ref.MIMEType, ref.Base64)},
		})
	}

	payload := syncRequest{
		Model:    j.model.APIModelName,
		Messages: []syncMessage{{Role: "user", Content: content}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.VideoData{}, fmt.Errorf("marshal sync video request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.model.URL(), bytes.NewReader(body))
	if err != nil {
		return domain.VideoData{}, fmt.Errorf("build sync video request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+j.model.APIKey)

	resp, err := j.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return domain.VideoData{}, &genai.TimeoutError{Op: "sync video generation", Terminal: true}
		}
		return domain.VideoData{}, fmt.Errorf("send sync video request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.VideoData{}, &genai.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.VideoData{}, &genai.ParseError{Detail: "decode sync video body", Err: err}
	}
	if len(out.Choices) == 0 {
		return domain.VideoData{}, &genai.ParseError{Detail: "sync video response has no choices"}
	}

	mediaURL := mediaURLPattern.FindString(out.Choices[0].Message.Content)
	if mediaURL == "" {
		return domain.VideoData{}, &genai.ParseError{Detail: "sync video response carries no media url"}
	}

	j.opts.Logger.Debug().Str("model", j.model.APIModelName).Msg("video: fetching sync result")
	blob, contentType, err := fetchBytes(ctx, j.opts.HTTPClient, mediaURL, "")
	if err != nil {
		return domain.VideoData{}, err
	}
	return encodeVideo(blob, contentType), nil
}
