// Package engine orchestrates generation: it owns the in-memory project
// tree, drives per-entity state transitions, assembles reference payloads,
// and coordinates batches.
package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
)

// Store owns one open project tree. Reads hand out the current snapshot;
// writes rebuild the path to the touched entity copy-on-write and swap the
// root pointer, so a transition applies against the state present at
// resolution time, never against a snapshot captured when the job started.
// That id-scoped replace is the only concurrency discipline the engine has,
// and the only one it needs.
type Store struct {
	mu      sync.RWMutex
	project *domain.Project
	logger  zerolog.Logger
}

// NewStore wraps a loaded project. Call Recover before serving it.
func NewStore(project *domain.Project, logger zerolog.Logger) *Store {
	return &Store{project: project, logger: logger}
}

// Project returns the current immutable snapshot. Callers must not mutate
// it; they go through the Update methods instead.
func (s *Store) Project() *domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project
}

// UpdateKeyframe applies fn to a copy of the keyframe with the given id and
// swaps it into the tree.
func (s *Store) UpdateKeyframe(entityID string, fn func(*domain.Keyframe)) error {
	return s.updateShot(func(shot *domain.Shot) bool {
		if shot.Keyframe == nil || shot.Keyframe.ID != entityID {
			return false
		}
		kf := *shot.Keyframe
		fn(&kf)
		shot.Keyframe = &kf
		return true
	})
}

// UpdateInterval applies fn to a copy of the video interval with the given
// id and swaps it into the tree.
func (s *Store) UpdateInterval(entityID string, fn func(*domain.VideoInterval)) error {
	return s.updateShot(func(shot *domain.Shot) bool {
		if shot.Interval == nil || shot.Interval.ID != entityID {
			return false
		}
		iv := *shot.Interval
		fn(&iv)
		shot.Interval = &iv
		return true
	})
}

// UpdatePanelSet applies fn to a copy of the nine-grid panel set with the
// given id and swaps it into the tree.
func (s *Store) UpdatePanelSet(entityID string, fn func(*domain.NineGridPanelSet)) error {
	return s.updateShot(func(shot *domain.Shot) bool {
		if shot.Panels == nil || shot.Panels.ID != entityID {
			return false
		}
		ps := *shot.Panels
		ps.Panels = append([]domain.NineGridPanel(nil), ps.Panels...)
		fn(&ps)
		shot.Panels = &ps
		return true
	})
}

// UpdateCharacter applies fn to a copy of the character with the given id.
func (s *Store) UpdateCharacter(characterID string, fn func(*domain.Character)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.project.Characters {
		if c.ID != characterID {
			continue
		}
		next := s.cloneRoot()
		next.Characters = append([]domain.Character(nil), s.project.Characters...)
		copied := c
		copied.Variations = append([]domain.WardrobeVariation(nil), c.Variations...)
		fn(&copied)
		next.Characters[i] = copied
		s.project = next
		return nil
	}
	return domain.ErrCharacterNotFound
}

// updateShot walks scenes and shots looking for the entity; match rebuilds
// scene and shot slices around the replaced shot.
func (s *Store) updateShot(apply func(*domain.Shot) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for si, scene := range s.project.Scenes {
		for hi, shot := range scene.Shots {
			candidate := shot
			if !apply(&candidate) {
				continue
			}
			next := s.cloneRoot()
			next.Scenes = append([]domain.Scene(nil), s.project.Scenes...)
			newScene := scene
			newScene.Shots = append([]domain.Shot(nil), scene.Shots...)
			newScene.Shots[hi] = candidate
			next.Scenes[si] = newScene
			s.project = next
			return nil
		}
	}
	return domain.ErrEntityNotFound
}

func (s *Store) cloneRoot() *domain.Project {
	next := *s.project
	next.UpdatedAt = time.Now().UTC()
	return &next
}

// Recover is the crash-recovery sweep, run once when a project is opened:
// any entity still marked generating with no result was orphaned by a
// closed session and is forced to failed. Completed entities are left
// untouched. Returns the number of swept entities.
func (s *Store) Recover() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	next := s.cloneRoot()
	next.Scenes = append([]domain.Scene(nil), s.project.Scenes...)
	for si := range next.Scenes {
		scene := next.Scenes[si]
		scene.Shots = append([]domain.Shot(nil), scene.Shots...)
		for hi := range scene.Shots {
			shot := scene.Shots[hi]
			if kf := shot.Keyframe; kf != nil && kf.Status == domain.GenStatusGenerating && kf.Image.IsZero() {
				copied := *kf
				copied.Status = domain.GenStatusFailed
				copied.Error = "interrupted by session close"
				shot.Keyframe = &copied
				swept++
			}
			if iv := shot.Interval; iv != nil && iv.Status == domain.GenStatusGenerating && iv.Video.IsZero() {
				copied := *iv
				copied.Status = domain.GenStatusFailed
				copied.Error = "interrupted by session close"
				shot.Interval = &copied
				swept++
			}
			if ps := shot.Panels; ps != nil && ps.Status == domain.GenStatusGenerating && ps.Composite.IsZero() {
				copied := *ps
				copied.Status = domain.GenStatusFailed
				copied.Error = "interrupted by session close"
				shot.Panels = &copied
				swept++
			}
			scene.Shots[hi] = shot
		}
		next.Scenes[si] = scene
	}

	next.Characters = append([]domain.Character(nil), s.project.Characters...)
	for ci := range next.Characters {
		c := &next.Characters[ci]
		if c.Status == domain.GenStatusGenerating && c.BaseImage.IsZero() {
			c.Status = domain.GenStatusFailed
			swept++
		}
	}

	if swept > 0 {
		s.project = next
		s.logger.Info().Int("entities", swept).Msg("engine: recovered orphaned generating entities")
	}
	return swept
}
