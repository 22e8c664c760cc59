package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/sqlinline"
	"storyforge/internal/storage"
)

// fakeSQL dispatches on the inline query constant. Snapshots live in an
// in-memory map keyed by project id.
type fakeSQL struct {
	snapshots map[string][]byte
	tokens    map[string]string
}

func newFakeSQL() *fakeSQL {
	return &fakeSQL{snapshots: map[string][]byte{}, tokens: map[string]string{}}
}

func (f *fakeSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	switch query {
	case sqlinline.QUpsertProjectSnapshot:
		f.snapshots[args[0].(string)] = args[2].([]byte)
	case sqlinline.QDeleteProjectSnapshot:
		delete(f.snapshots, args[0].(string))
	case sqlinline.QUpsertIntegrationToken:
		f.tokens[args[0].(string)] = args[1].(string)
	case sqlinline.QDeleteIntegrationToken:
		delete(f.tokens, args[0].(string))
	default:
		return pgconn.CommandTag{}, errors.New("unexpected exec: " + query)
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	switch query {
	case sqlinline.QSelectProjectSnapshot:
		raw, ok := f.snapshots[args[0].(string)]
		if !ok {
			return NewSimpleRow(nil)
		}
		return NewSimpleRow(func(dest ...any) error {
			*(dest[0].(*[]byte)) = raw
			return nil
		})
	case sqlinline.QSelectIntegrationToken:
		token, ok := f.tokens[args[0].(string)]
		if !ok {
			return NewSimpleRow(nil)
		}
		return NewSimpleRow(func(dest ...any) error {
			*(dest[0].(*string)) = token
			return nil
		})
	}
	return NewSimpleRow(func(...any) error { return errors.New("unexpected query") })
}

func (f *fakeSQL) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func newTestApp(t *testing.T, sql infra.SQLExecutor) *App {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	cfg := &infra.Config{AppEnv: "test", GenAIAPIKey: "test-key"}
	return NewApp(cfg, sql, zerolog.Nop(), files)
}

func withURLParams(r *http.Request, pairs ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(pairs); i += 2 {
		rctx.URLParams.Add(pairs[i], pairs[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func seedProject(t *testing.T, sql *fakeSQL, project *domain.Project) {
	t.Helper()
	raw, err := json.Marshal(project)
	if err != nil {
		t.Fatalf("marshal project: %v", err)
	}
	sql.snapshots[project.ID] = raw
}

func openedProject() *domain.Project {
	return &domain.Project{
		ID:    "proj-1",
		Title: "Pilot",
		Scenes: []domain.Scene{{
			ID: "scene-1",
			Shots: []domain.Shot{{
				ID:          "shot-1",
				Description: "wide establishing",
				AspectRatio: "16:9",
				Keyframe:    &domain.Keyframe{ID: "kf-1", Status: domain.GenStatusPending},
			}},
		}},
	}
}

func TestProjectCreatePersistsSnapshot(t *testing.T) {
	sql := newFakeSQL()
	app := newTestApp(t, sql)

	req := httptest.NewRequest("POST", "/v1/projects", strings.NewReader(`{"title":"Pilot","script":"FADE IN"}`))
	rr := httptest.NewRecorder()
	app.ProjectCreate(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}
	var created domain.Project
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Script != "FADE IN" {
		t.Fatalf("created = %+v", created)
	}
	if _, ok := sql.snapshots[created.ID]; !ok {
		t.Fatal("snapshot not persisted")
	}
}

func TestProjectOpenRunsRecoverySweep(t *testing.T) {
	sql := newFakeSQL()
	app := newTestApp(t, sql)

	project := openedProject()
	project.Scenes[0].Shots[0].Keyframe.Status = domain.GenStatusGenerating
	seedProject(t, sql, project)

	req := withURLParams(httptest.NewRequest("POST", "/v1/projects/proj-1/open", nil), "project_id", "proj-1")
	rr := httptest.NewRecorder()
	app.ProjectOpen(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Project   domain.Project `json:"project"`
		Recovered int            `json:"recovered"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Recovered != 1 {
		t.Fatalf("recovered = %d, want 1", payload.Recovered)
	}
	kf := payload.Project.Scenes[0].Shots[0].Keyframe
	if kf.Status != domain.GenStatusFailed {
		t.Fatalf("keyframe status = %q, want failed", kf.Status)
	}
	if app.session("proj-1") == nil {
		t.Fatal("no session registered after open")
	}
}

func TestProjectOpenUnknownProject(t *testing.T) {
	app := newTestApp(t, newFakeSQL())

	req := withURLParams(httptest.NewRequest("POST", "/v1/projects/proj-gone/open", nil), "project_id", "proj-gone")
	rr := httptest.NewRecorder()
	app.ProjectOpen(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestProjectSaveRequiresOpenSession(t *testing.T) {
	app := newTestApp(t, newFakeSQL())

	req := withURLParams(httptest.NewRequest("POST", "/v1/projects/proj-1/save", nil), "project_id", "proj-1")
	rr := httptest.NewRecorder()
	app.ProjectSave(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestProjectCloseDropsSession(t *testing.T) {
	sql := newFakeSQL()
	app := newTestApp(t, sql)
	seedProject(t, sql, openedProject())

	openReq := withURLParams(httptest.NewRequest("POST", "/v1/projects/proj-1/open", nil), "project_id", "proj-1")
	app.ProjectOpen(httptest.NewRecorder(), openReq)

	closeReq := withURLParams(httptest.NewRequest("POST", "/v1/projects/proj-1/close", nil), "project_id", "proj-1")
	rr := httptest.NewRecorder()
	app.ProjectClose(rr, closeReq)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if app.session("proj-1") != nil {
		t.Fatal("session still registered after close")
	}
}

func TestCredentialSetStoresToken(t *testing.T) {
	sql := newFakeSQL()
	app := newTestApp(t, sql)

	req := withURLParams(
		httptest.NewRequest("PUT", "/v1/credentials/gemini", strings.NewReader(`{"api_key":"sk-new"}`)),
		"provider", "gemini",
	)
	rr := httptest.NewRecorder()
	app.CredentialSet(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if sql.tokens["gemini"] != "sk-new" {
		t.Fatalf("stored token = %q", sql.tokens["gemini"])
	}
}
