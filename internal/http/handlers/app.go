package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/engine"
	"storyforge/internal/genai"
	"storyforge/internal/infra"
	"storyforge/internal/infra/credentials"
	"storyforge/internal/providers/chat"
	imageprovider "storyforge/internal/providers/image"
	videoprovider "storyforge/internal/providers/video"
	"storyforge/internal/storage"
)

// App carries the dependencies shared by all handlers and the registry of
// open project sessions. One session holds one in-memory project tree and
// the generator driving it.
type App struct {
	Cfg      *infra.Config
	SQL      infra.SQLExecutor
	Logger   infra.Logger
	Projects *repo.ProjectRepositoryPG
	Keys     *credentials.Store
	Files    *storage.FileStore

	mu       sync.Mutex
	sessions map[string]*engine.Generator
}

// NewApp wires the handler set.
func NewApp(cfg *infra.Config, sql infra.SQLExecutor, logger infra.Logger, files *storage.FileStore) *App {
	return &App{
		Cfg:      cfg,
		SQL:      sql,
		Logger:   logger,
		Projects: repo.NewProjectRepository(sql),
		Keys:     credentials.NewStore(sql),
		Files:    files,
		sessions: make(map[string]*engine.Generator),
	}
}

// session returns the open generator for a project id, or nil.
func (a *App) session(projectID string) *engine.Generator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[projectID]
}

// openSession builds a generator over the store and registers it, replacing
// any previous session for the same project.
func (a *App) openSession(store *engine.Store) *engine.Generator {
	resolver := genai.NewResolver(a.Cfg.GenAI(), a.Keys)
	gen := engine.NewGenerator(store, resolver, engine.Clients{
		Chat:  chat.NewClient(chat.Options{Logger: a.Logger}),
		Image: imageprovider.NewClient(imageprovider.Options{Logger: a.Logger}),
		Video: videoprovider.Options{Logger: a.Logger},
	}, genai.RetryOptions{}, a.Logger)

	a.mu.Lock()
	a.sessions[store.Project().ID] = gen
	a.mu.Unlock()
	return gen
}

// closeSession drops the in-memory session for a project.
func (a *App) closeSession(projectID string) {
	a.mu.Lock()
	delete(a.sessions, projectID)
	a.mu.Unlock()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}

// generationError maps an engine error onto the API surface. An invalid key
// is an auth-level failure, not a generation failure: the client prompts for
// a key instead of showing a retry button.
func (a *App) generationError(w http.ResponseWriter, err error) {
	switch {
	case genai.IsAPIKey(err):
		a.error(w, http.StatusUnauthorized, "session_invalid", err.Error())
	case genai.IsContentPolicy(err):
		a.error(w, http.StatusUnprocessableEntity, "content_policy", err.Error())
	case genai.IsTimeout(err):
		a.error(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		a.error(w, http.StatusBadGateway, "generation_failed", err.Error())
	}
}
