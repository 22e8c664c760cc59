package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyforge/internal/domain"
	"storyforge/internal/engine"
)

type projectCreateRequest struct {
	Title  string `json:"title"`
	Script string `json:"script"`
}

func (a *App) ProjectCreate(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Title == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "title required")
		return
	}

	project := &domain.Project{
		ID:     uuid.NewString(),
		Title:  req.Title,
		Script: req.Script,
	}
	if err := a.Projects.Save(r.Context(), project); err != nil {
		a.Logger.Error().Err(err).Msg("project create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create project")
		return
	}
	a.json(w, http.StatusCreated, project)
}

func (a *App) ProjectList(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.Projects.List(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("project list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list projects")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": summaries})
}

// ProjectOpen loads a project into memory, runs the orphan sweep, and
// registers a generation session for it.
func (a *App) ProjectOpen(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	project, err := a.Projects.Load(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		a.Logger.Error().Err(err).Msg("project open failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to open project")
		return
	}

	store := engine.NewStore(project, a.Logger)
	recovered := store.Recover()
	gen := a.openSession(store)
	if recovered > 0 {
		if err := a.Projects.Save(r.Context(), gen.Store().Project()); err != nil {
			a.Logger.Error().Err(err).Msg("persist recovery sweep failed")
		}
	}

	a.json(w, http.StatusOK, map[string]any{
		"project":   gen.Store().Project(),
		"recovered": recovered,
	})
}

func (a *App) ProjectGet(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if gen := a.session(projectID); gen != nil {
		a.json(w, http.StatusOK, gen.Store().Project())
		return
	}
	project, err := a.Projects.Load(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load project")
		return
	}
	a.json(w, http.StatusOK, project)
}

// ProjectUpdate replaces the stored project tree, used by the client after
// script or storyboard edits. An open session is rebuilt over the new tree.
func (a *App) ProjectUpdate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	var project domain.Project
	if err := json.NewDecoder(r.Body).Decode(&project); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	project.ID = projectID

	if err := a.Projects.Save(r.Context(), &project); err != nil {
		a.Logger.Error().Err(err).Msg("project update failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to update project")
		return
	}
	if a.session(projectID) != nil {
		a.openSession(engine.NewStore(&project, a.Logger))
	}
	a.json(w, http.StatusOK, &project)
}

// ProjectSave persists the current in-memory tree of an open session.
func (a *App) ProjectSave(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	gen := a.session(projectID)
	if gen == nil {
		a.error(w, http.StatusConflict, "not_open", "project session is not open")
		return
	}
	if err := a.Projects.Save(r.Context(), gen.Store().Project()); err != nil {
		a.Logger.Error().Err(err).Msg("project save failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to save project")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "saved"})
}

// ProjectClose persists and drops the in-memory session. In-flight
// generations are not cancelled; their results land in a tree nobody holds
// and the next open's sweep cleans up whatever was still pending.
func (a *App) ProjectClose(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	gen := a.session(projectID)
	if gen == nil {
		a.json(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	if err := a.Projects.Save(r.Context(), gen.Store().Project()); err != nil {
		a.Logger.Error().Err(err).Msg("project close save failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to save project")
		return
	}
	a.closeSession(projectID)
	a.json(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (a *App) ProjectDelete(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	a.closeSession(projectID)
	if err := a.Projects.Delete(r.Context(), projectID); err != nil {
		a.Logger.Error().Err(err).Msg("project delete failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete project")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}
