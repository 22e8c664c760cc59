package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"storyforge/internal/engine"
	"storyforge/internal/genai"
)

type batchRequest struct {
	Kind    string   `json:"kind"`
	ShotIDs []string `json:"shot_ids"`
	Model   string   `json:"model"`
}

type batchResponse struct {
	Report engine.Report `json:"report"`
	Error  string        `json:"error,omitempty"`
}

// BatchGenerate runs keyframe or interval generation over a shot list,
// strictly in order. The request blocks until the batch finishes or an
// invalid key aborts it; per-shot progress is visible through the project
// tree the whole time.
func (a *App) BatchGenerate(w http.ResponseWriter, r *http.Request) {
	gen, projectID, ok := a.openGenerator(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.ShotIDs) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "shot_ids required")
		return
	}

	var run func(ctx context.Context, shotID string) error
	switch req.Kind {
	case "keyframes":
		run = func(ctx context.Context, shotID string) error {
			return gen.GenerateKeyframe(ctx, shotID, req.Model)
		}
	case "intervals":
		run = func(ctx context.Context, shotID string) error {
			return gen.GenerateInterval(ctx, shotID, req.Model)
		}
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "kind must be keyframes or intervals")
		return
	}

	items := make([]engine.WorkItem, 0, len(req.ShotIDs))
	for _, shotID := range req.ShotIDs {
		shotID := shotID
		items = append(items, engine.WorkItem{
			EntityID: shotID,
			Run: func(ctx context.Context) error {
				return run(ctx, shotID)
			},
		})
	}

	coordinator := &engine.BatchCoordinator{Logger: a.Logger}
	report, err := coordinator.Run(r.Context(), items, func(completed, total int) {
		a.Logger.Info().Str("project_id", projectID).Int("completed", completed).Int("total", total).Msg("batch progress")
	})
	if err != nil {
		if genai.IsAPIKey(err) {
			a.json(w, http.StatusUnauthorized, map[string]any{
				"error":  errorBody{Code: "session_invalid", Message: err.Error()},
				"report": report,
			})
			return
		}
		a.json(w, http.StatusOK, batchResponse{Report: report, Error: err.Error()})
		return
	}
	a.json(w, http.StatusOK, batchResponse{Report: report})
}
