// Package repo persists project snapshots in PostgreSQL. The whole project
// tree is stored as one JSONB document per project; the engine works on the
// in-memory tree and the repository is its durability boundary.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/sqlinline"
)

// ProjectSummary is one row of the project list.
type ProjectSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectRepositoryPG implements project snapshot persistence using PostgreSQL.
type ProjectRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewProjectRepository constructs the repository.
func NewProjectRepository(sql infra.SQLExecutor) *ProjectRepositoryPG {
	return &ProjectRepositoryPG{sql: sql}
}

// Save upserts the full project tree as a snapshot.
func (r *ProjectRepositoryPG) Save(ctx context.Context, project *domain.Project) error {
	raw, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("encode project snapshot: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertProjectSnapshot, project.ID, project.Title, raw)
	return err
}

// Load returns the project with the given id, or domain.ErrProjectNotFound.
func (r *ProjectRepositoryPG) Load(ctx context.Context, id string) (*domain.Project, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectProjectSnapshot, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, err
	}
	var project domain.Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return nil, fmt.Errorf("decode project snapshot: %w", err)
	}
	return &project, nil
}

// List returns all project summaries, most recently updated first.
func (r *ProjectRepositoryPG) List(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListProjectSnapshots)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []ProjectSummary
	for rows.Next() {
		var s ProjectSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.UpdatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Delete removes the project with the given id.
func (r *ProjectRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteProjectSnapshot, id)
	return err
}
