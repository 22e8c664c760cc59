// Package image generates stills against a resolved image model using the
// contents/parts inline-data wire shape.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
	"storyforge/internal/genai"
)

const defaultMaxWait = 10 * time.Minute

// Options configures the image client.
type Options struct {
	HTTPClient *http.Client
	MaxWait    time.Duration
	Logger     zerolog.Logger
}

// Client issues image generation requests.
type Client struct {
	httpClient *http.Client
	maxWait    time.Duration
	logger     zerolog.Logger
}

// Request is one image generation call. References are injected as inline
// data parts after the prompt text, in order.
type Request struct {
	Prompt      string
	References  []domain.ImageData
	AspectRatio string
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type wireGenerationConfig struct {
	ResponseModalities []string         `json:"responseModalities"`
	ImageConfig        *wireImageConfig `json:"imageConfig,omitempty"`
}

type wireRequest struct {
	Contents         []wireContent        `json:"contents"`
	GenerationConfig wireGenerationConfig `json:"generationConfig"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewClient builds an image client.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &Client{httpClient: client, maxWait: maxWait, logger: opts.Logger}
}

// Generate runs one image call and returns the first image part of the
// first candidate.
func (c *Client) Generate(ctx context.Context, model genai.ResolvedModel, req Request) (domain.ImageData, error) {
	ctx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	parts := make([]wirePart, 0, 1+len(req.References))
	parts = append(parts, wirePart{Text: req.Prompt})
	for _, ref := range req.References {
		if ref.IsZero() {
			continue
		}
		parts = append(parts, wirePart{InlineData: &wireInlineData{MIMEType: ref.MIMEType, Data: ref.Base64}})
	}

	payload := wireRequest{
		Contents: []wireContent{{Role: "user", Parts: parts}},
		GenerationConfig: wireGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		payload.GenerationConfig.ImageConfig = &wireImageConfig{AspectRatio: aspect}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ImageData{}, fmt.Errorf("marshal image request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, model.URL(), bytes.NewReader(body))
	if err != nil {
		return domain.ImageData{}, fmt.Errorf("build image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+model.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return domain.ImageData{}, &genai.TimeoutError{Op: "image generation"}
		}
		return domain.ImageData{}, fmt.Errorf("send image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.ImageData{}, &genai.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ImageData{}, &genai.ParseError{Detail: "decode image body", Err: err}
	}
	for _, candidate := range out.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return domain.ImageData{MIMEType: mime, Base64: part.InlineData.Data}, nil
			}
		}
	}
	return domain.ImageData{}, &genai.ParseError{Detail: "response carries no image part"}
}
