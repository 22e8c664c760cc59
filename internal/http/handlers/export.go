package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storyforge/internal/domain"
	"storyforge/pkg/zip"
)

// ProjectExport bundles every generated asset of a project into a zip
// archive. The archive is also staged on disk so a crashed download can be
// re-served without rebuilding it.
func (a *App) ProjectExport(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var project *domain.Project
	if gen := a.session(projectID); gen != nil {
		project = gen.Store().Project()
	} else {
		loaded, err := a.Projects.Load(r.Context(), projectID)
		if err != nil {
			if errors.Is(err, domain.ErrProjectNotFound) {
				a.error(w, http.StatusNotFound, "not_found", "project not found")
				return
			}
			a.error(w, http.StatusInternalServerError, "internal", "failed to load project")
			return
		}
		project = loaded
	}

	assets := collectAssets(project)
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "no_assets", "project has no generated assets")
		return
	}

	archive := zip.ArchiveAssets(assets)
	if archive == nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	if key, err := a.Files.Write(r.Context(), "exports/"+projectID+".zip", archive); err != nil {
		a.Logger.Warn().Err(err).Msg("export staging failed")
	} else {
		a.Logger.Info().Str("key", key).Int("assets", len(assets)).Msg("export staged")
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", project.Title+".zip"))
	_, _ = w.Write(archive)
}

func collectAssets(project *domain.Project) []zip.Asset {
	var assets []zip.Asset
	add := func(name string, mime, b64 string) {
		if b64 == "" {
			return
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return
		}
		assets = append(assets, zip.Asset{Filename: name + extensionFor(mime), MIME: mime, Data: data})
	}

	for _, c := range project.Characters {
		add("characters/"+c.Name, c.BaseImage.MIMEType, c.BaseImage.Base64)
		for _, v := range c.Variations {
			add("characters/"+c.Name+"_"+v.Name, v.Image.MIMEType, v.Image.Base64)
		}
	}
	for si, scene := range project.Scenes {
		prefix := fmt.Sprintf("scenes/%02d", si+1)
		add(prefix+"/reference", scene.ReferenceImage.MIMEType, scene.ReferenceImage.Base64)
		for hi, shot := range scene.Shots {
			shotPrefix := fmt.Sprintf("%s/shot_%02d", prefix, hi+1)
			if shot.Keyframe != nil && shot.Keyframe.Status == domain.GenStatusCompleted {
				add(shotPrefix+"/keyframe", shot.Keyframe.Image.MIMEType, shot.Keyframe.Image.Base64)
			}
			if shot.Interval != nil && shot.Interval.Status == domain.GenStatusCompleted {
				add(shotPrefix+"/interval", shot.Interval.Video.MIMEType, shot.Interval.Video.Base64)
			}
			if shot.Panels != nil && shot.Panels.Status == domain.GenStatusCompleted {
				for _, panel := range shot.Panels.Panels {
					add(fmt.Sprintf("%s/panel_%d", shotPrefix, panel.Index+1), panel.Image.MIMEType, panel.Image.Base64)
				}
			}
		}
	}
	return assets
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	}
	return ""
}
