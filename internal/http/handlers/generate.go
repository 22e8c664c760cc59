package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/engine"
)

type generateRequest struct {
	Model string `json:"model"`
}

func (a *App) openGenerator(w http.ResponseWriter, r *http.Request) (*engine.Generator, string, bool) {
	projectID := chi.URLParam(r, "project_id")
	gen := a.session(projectID)
	if gen == nil {
		a.error(w, http.StatusConflict, "not_open", "project session is not open")
		return nil, "", false
	}
	return gen, projectID, true
}

func (a *App) finishGeneration(w http.ResponseWriter, r *http.Request, gen *engine.Generator, err error) {
	switch {
	case err == nil:
		a.json(w, http.StatusOK, gen.Store().Project())
	case errors.Is(err, domain.ErrEntityNotFound), errors.Is(err, domain.ErrCharacterNotFound):
		a.error(w, http.StatusNotFound, "not_found", "entity not found")
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		a.generationError(w, err)
	}
}

func decodeModelHint(r *http.Request) string {
	var req generateRequest
	// An empty or absent body means the default model.
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req.Model
}

func (a *App) KeyframeGenerate(w http.ResponseWriter, r *http.Request) {
	gen, _, ok := a.openGenerator(w, r)
	if !ok {
		return
	}
	err := gen.GenerateKeyframe(r.Context(), chi.URLParam(r, "shot_id"), decodeModelHint(r))
	a.finishGeneration(w, r, gen, err)
}

func (a *App) IntervalGenerate(w http.ResponseWriter, r *http.Request) {
	gen, _, ok := a.openGenerator(w, r)
	if !ok {
		return
	}
	err := gen.GenerateInterval(r.Context(), chi.URLParam(r, "shot_id"), decodeModelHint(r))
	a.finishGeneration(w, r, gen, err)
}

// PanelsDescribe streams the chat model's panel descriptions to the client
// as SSE while they accumulate server-side.
func (a *App) PanelsDescribe(w http.ResponseWriter, r *http.Request) {
	gen, _, ok := a.openGenerator(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	err := gen.DescribePanels(r.Context(), chi.URLParam(r, "shot_id"), decodeModelHint(r), func(chunk string) {
		payload, _ := json.Marshal(map[string]string{"text": chunk})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if canFlush {
			flusher.Flush()
		}
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (a *App) PanelsGenerate(w http.ResponseWriter, r *http.Request) {
	gen, _, ok := a.openGenerator(w, r)
	if !ok {
		return
	}
	err := gen.GeneratePanelComposite(r.Context(), chi.URLParam(r, "shot_id"), decodeModelHint(r))
	a.finishGeneration(w, r, gen, err)
}

type variationRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Model       string `json:"model"`
}

func (a *App) VariationGenerate(w http.ResponseWriter, r *http.Request) {
	gen, _, ok := a.openGenerator(w, r)
	if !ok {
		return
	}
	var req variationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Description == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "description required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	err := gen.GenerateWardrobeVariation(r.Context(), chi.URLParam(r, "character_id"), req.ID, req.Description, req.Model)
	a.finishGeneration(w, r, gen, err)
}
