// Package chat issues text completion requests, blocking or streamed,
// against a resolved chat model.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storyforge/internal/genai"
)

const defaultMaxWait = 10 * time.Minute

// Options configures the completion client.
type Options struct {
	HTTPClient *http.Client
	// MaxWait bounds a blocking completion; zero means 10 minutes.
	MaxWait time.Duration
	Logger  zerolog.Logger
}

// Client speaks the chat-completions wire shape. One client serves every
// resolved chat model; the endpoint and key arrive per call.
type Client struct {
	httpClient *http.Client
	maxWait    time.Duration
	logger     zerolog.Logger
}

// Request is one completion call.
type Request struct {
	Prompt      string
	Temperature float64
	// JSONResponse asks the provider for a json_object response format.
	JSONResponse bool
}

type wireRequest struct {
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *wireFormat   `json:"response_format,omitempty"`
	Stream         bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireFormat struct {
	Type string `json:"type"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// NewClient builds a completion client. A nil HTTP client gets a default
// without its own timeout; deadlines are per-call contexts.
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

// Complete sends the request and waits for the full response, returning the
// content field. A client-side abort past MaxWait surfaces as a
// *genai.TimeoutError, distinct from transport failure.
func (c *Client) Complete(ctx context.Context, model genai.ResolvedModel, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	resp, err := c.post(ctx, model, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &genai.ParseError{Detail: "decode completion body", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &genai.ParseError{Detail: "completion has no choices"}
	}
	return out.Choices[0].Message.Content, nil
}

// Stream sends the same request with the streaming flag and reads SSE
// frames, invoking onChunk for each partial text fragment. It returns the
// accumulated text once the terminator sentinel arrives or the stream ends.
func (c *Client) Stream(ctx context.Context, model genai.ResolvedModel, req Request, onChunk func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	resp, err := c.post(ctx, model, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var accumulated strings.Builder
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			// A frame is only processed once its delimiter is seen;
			// anything after the last delimiter stays buffered.
			for {
				idx := bytes.Index(pending, []byte("\n\n"))
				if idx < 0 {
					break
				}
				frame := pending[:idx]
				pending = pending[idx+2:]
				text, done := c.decodeFrame(frame)
				if done {
					return accumulated.String(), nil
				}
				if text != "" {
					accumulated.WriteString(text)
					if onChunk != nil {
						onChunk(text)
					}
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return accumulated.String(), nil
			}
			if ctx.Err() != nil {
				return "", &genai.TimeoutError{Op: "stream completion"}
			}
			return "", fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// decodeFrame parses one SSE frame. Malformed frames are skipped rather
// than aborting the stream.
func (c *Client) decodeFrame(frame []byte) (text string, done bool) {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(payload, []byte("[DONE]")) {
			return text, true
		}
		var chunk wireStreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			c.logger.Debug().Err(err).Msg("chat: skipping malformed stream frame")
			continue
		}
		for _, choice := range chunk.Choices {
			text += choice.Delta.Content
		}
	}
	return text, false
}

func (c *Client) post(ctx context.Context, model genai.ResolvedModel, req Request, stream bool) (*http.Response, error) {
	payload := wireRequest{
		Model:       model.APIModelName,
		Messages:    []wireMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.JSONResponse {
		payload.ResponseFormat = &wireFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, model.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+model.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &genai.TimeoutError{Op: "completion"}
		}
		return nil, fmt.Errorf("send completion request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &genai.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}
