package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
	"storyforge/internal/genai"
	"storyforge/internal/providers/chat"
	imageprovider "storyforge/internal/providers/image"
)

func imageBody(data string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"%s"}}]}}]}`, data)
}

func newTestGenerator(t *testing.T, handler http.Handler) (*Generator, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resolver := genai.NewResolver(genai.Config{
		GlobalAPIKey: "test-key",
		Models: []genai.ModelConfig{
			{
				ID:           "img-default",
				Kind:         domain.KindImage,
				Provider:     "test",
				BaseURL:      ts.URL,
				EndpointPath: "/generate",
				APIModelName: "img-1",
				Default:      true,
			},
			{
				ID:           "chat-default",
				Kind:         domain.KindChat,
				Provider:     "test",
				BaseURL:      ts.URL,
				EndpointPath: "/chat",
				APIModelName: "chat-1",
				Default:      true,
			},
		},
	}, nil)

	store := NewStore(testProject(), zerolog.Nop())
	gen := NewGenerator(store, resolver, Clients{
		Chat:  chat.NewClient(chat.Options{}),
		Image: imageprovider.NewClient(imageprovider.Options{}),
	}, genai.RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond}, zerolog.Nop())
	return gen, ts
}

func TestGenerateKeyframeCompletes(t *testing.T) {
	gen, _ := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(imageBody("a2YtaW1n")))
	}))

	if err := gen.GenerateKeyframe(context.Background(), "shot-1", ""); err != nil {
		t.Fatalf("GenerateKeyframe error: %v", err)
	}

	kf := gen.Store().Project().Scenes[0].Shots[0].Keyframe
	if kf.Status != domain.GenStatusCompleted {
		t.Fatalf("status = %q, want completed", kf.Status)
	}
	if kf.Image.Base64 != "a2YtaW1n" || kf.Error != "" {
		t.Fatalf("keyframe = %+v", kf)
	}
}

func TestGenerateKeyframeTransientFailureExhaustsRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	gen, _ := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream sad", http.StatusServiceUnavailable)
	}))

	err := gen.GenerateKeyframe(context.Background(), "shot-1", "")
	var httpErr *genai.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want 503 *genai.HTTPError", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("provider calls = %d, want 3 attempts", got)
	}

	kf := gen.Store().Project().Scenes[0].Shots[0].Keyframe
	if kf.Status != domain.GenStatusFailed || kf.Error == "" {
		t.Fatalf("keyframe = %+v, want failed with error text", kf)
	}
}

func TestGenerateKeyframeContentPolicyFailsOnce(t *testing.T) {
	var calls atomic.Int32
	gen, _ := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "safety block", http.StatusBadRequest)
	}))

	err := gen.GenerateKeyframe(context.Background(), "shot-1", "")
	if !genai.IsContentPolicy(err) {
		t.Fatalf("error = %v, want content-policy rejection", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want no retry", got)
	}
}

func TestGenerateKeyframeDuplicateTriggersShareOneCall(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	gen, _ := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		_, _ = w.Write([]byte(imageBody("c2hhcmVk")))
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = gen.GenerateKeyframe(context.Background(), "shot-1", "")
	}()
	<-started
	go func() {
		defer wg.Done()
		_ = gen.GenerateKeyframe(context.Background(), "shot-1", "")
	}()
	// Give the second trigger time to join the in-flight call before the
	// provider responds.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want duplicate trigger collapsed", got)
	}
}

func TestGenerateKeyframeUnknownShot(t *testing.T) {
	gen, _ := newTestGenerator(t, http.NotFoundHandler())
	if err := gen.GenerateKeyframe(context.Background(), "shot-gone", ""); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("error = %v, want ErrEntityNotFound", err)
	}
}

func TestGenerateKeyframeMissingKeyIsAPIKeyError(t *testing.T) {
	gen, ts := newTestGenerator(t, http.NotFoundHandler())
	resolver := genai.NewResolver(genai.Config{
		Models: []genai.ModelConfig{{
			ID: "img-default", Kind: domain.KindImage, Provider: "test",
			BaseURL: ts.URL, EndpointPath: "/generate", APIModelName: "img-1", Default: true,
		}},
	}, nil)
	gen.resolver = resolver

	err := gen.GenerateKeyframe(context.Background(), "shot-1", "")
	if !genai.IsAPIKey(err) {
		t.Fatalf("error = %v, want *genai.APIKeyError", err)
	}
}

func TestGenerateWardrobeVariationAddsVariation(t *testing.T) {
	gen, _ := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(imageBody("bmV3LWxvb2s=")))
	}))

	err := gen.GenerateWardrobeVariation(context.Background(), "char-b", "var-b1", "linen suit", "")
	if err != nil {
		t.Fatalf("GenerateWardrobeVariation error: %v", err)
	}

	character, ok := gen.Store().Project().CharacterByID("char-b")
	if !ok {
		t.Fatal("char-b missing after update")
	}
	variation, found := character.Variation("var-b1")
	if !found || variation.Image.Base64 != "bmV3LWxvb2s=" {
		t.Fatalf("variation = %+v, want generated image", variation)
	}
}

func TestGeneratePanelCompositeRequiresConfirmedDescriptions(t *testing.T) {
	gen, _ := newTestGenerator(t, http.NotFoundHandler())
	err := gen.GeneratePanelComposite(context.Background(), "shot-1", "")
	if !errors.Is(err, domain.ErrInvalidPrompt) {
		t.Fatalf("error = %v, want ErrInvalidPrompt", err)
	}
}

func TestDescribePanelsStreamsAndStoresNine(t *testing.T) {
	payload := `{"panels":["wide","close","over-shoulder","low","high","dutch","profile","two-shot","insert"]}`
	gen, _ := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", payload)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	var chunks []string
	err := gen.DescribePanels(context.Background(), "shot-1", "", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("DescribePanels error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no streamed chunks observed")
	}

	panels := gen.Store().Project().Scenes[0].Shots[0].Panels.Panels
	if len(panels) != 9 {
		t.Fatalf("stored panels = %d, want 9", len(panels))
	}
	if panels[0].Description != "wide" || panels[8].Description != "insert" {
		t.Fatalf("panels = %+v, descriptions out of order", panels)
	}
}

func TestDescribePanelsRejectsWrongCount(t *testing.T) {
	gen, _ := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"{\\\"panels\\\":[\\\"only one\\\"]}\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))

	err := gen.DescribePanels(context.Background(), "shot-1", "", nil)
	var parseErr *genai.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want *genai.ParseError", err)
	}
}
