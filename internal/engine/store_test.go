package engine

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"storyforge/internal/domain"
)

func img(tag string) domain.ImageData {
	return domain.ImageData{MIMEType: "image/png", Base64: tag}
}

// testProject builds a two-shot project with a scene reference, a character
// with a wardrobe variation, and a plain character.
func testProject() *domain.Project {
	return &domain.Project{
		ID:    "proj-1",
		Title: "Pilot",
		Characters: []domain.Character{
			{
				ID:        "char-a",
				Name:      "Ava",
				BaseImage: img("ava-base"),
				Variations: []domain.WardrobeVariation{
					{ID: "var-a1", Name: "rain coat", Image: img("ava-coat")},
				},
				Status: domain.GenStatusCompleted,
			},
			{
				ID:        "char-b",
				Name:      "Bram",
				BaseImage: img("bram-base"),
				Status:    domain.GenStatusCompleted,
			},
		},
		Scenes: []domain.Scene{
			{
				ID:             "scene-1",
				Title:          "Rooftop",
				ReferenceImage: img("rooftop"),
				Shots: []domain.Shot{
					{
						ID:           "shot-1",
						Description:  "Ava and Bram face the storm",
						CharacterIDs: []string{"char-a", "char-b"},
						VariationSelections: map[string]string{
							"char-a": "var-a1",
						},
						AspectRatio: "16:9",
						Keyframe:    &domain.Keyframe{ID: "kf-1", Status: domain.GenStatusPending},
						Interval:    &domain.VideoInterval{ID: "iv-1", Status: domain.GenStatusPending, DurationSeconds: 5},
						Panels:      &domain.NineGridPanelSet{ID: "ps-1", Status: domain.GenStatusPending},
					},
					{
						ID:          "shot-2",
						Description: "Close on Ava",
						AspectRatio: "16:9",
						Keyframe:    &domain.Keyframe{ID: "kf-2", Status: domain.GenStatusPending},
					},
				},
			},
		},
	}
}

func TestUpdateKeyframeCopyOnWrite(t *testing.T) {
	store := NewStore(testProject(), zerolog.Nop())
	before := store.Project()

	err := store.UpdateKeyframe("kf-1", func(kf *domain.Keyframe) {
		kf.Status = domain.GenStatusCompleted
		kf.Image = img("kf-1-result")
	})
	if err != nil {
		t.Fatalf("UpdateKeyframe error: %v", err)
	}

	if got := before.Scenes[0].Shots[0].Keyframe.Status; got != domain.GenStatusPending {
		t.Fatalf("old snapshot status = %q, mutated in place", got)
	}
	after := store.Project()
	if after == before {
		t.Fatal("root pointer did not change")
	}
	kf := after.Scenes[0].Shots[0].Keyframe
	if kf.Status != domain.GenStatusCompleted || kf.Image.Base64 != "kf-1-result" {
		t.Fatalf("new snapshot keyframe = %+v", kf)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("UpdatedAt not bumped: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestUpdatesApplyToLatestState(t *testing.T) {
	store := NewStore(testProject(), zerolog.Nop())

	if err := store.UpdateKeyframe("kf-1", func(kf *domain.Keyframe) {
		kf.Status = domain.GenStatusCompleted
		kf.Image = img("one")
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := store.UpdateKeyframe("kf-2", func(kf *domain.Keyframe) {
		kf.Status = domain.GenStatusCompleted
		kf.Image = img("two")
	}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	project := store.Project()
	if got := project.Scenes[0].Shots[0].Keyframe.Image.Base64; got != "one" {
		t.Fatalf("kf-1 image = %q, first update lost", got)
	}
	if got := project.Scenes[0].Shots[1].Keyframe.Image.Base64; got != "two" {
		t.Fatalf("kf-2 image = %q, want %q", got, "two")
	}
}

func TestUpdateUnknownEntity(t *testing.T) {
	store := NewStore(testProject(), zerolog.Nop())

	if err := store.UpdateKeyframe("kf-missing", func(*domain.Keyframe) {}); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("keyframe error = %v, want ErrEntityNotFound", err)
	}
	if err := store.UpdateCharacter("char-missing", func(*domain.Character) {}); !errors.Is(err, domain.ErrCharacterNotFound) {
		t.Fatalf("character error = %v, want ErrCharacterNotFound", err)
	}
}

func TestUpdateCharacterCopyOnWrite(t *testing.T) {
	store := NewStore(testProject(), zerolog.Nop())
	before := store.Project()

	err := store.UpdateCharacter("char-a", func(c *domain.Character) {
		c.Variations = append(c.Variations, domain.WardrobeVariation{ID: "var-a2", Name: "gala dress", Image: img("ava-dress")})
	})
	if err != nil {
		t.Fatalf("UpdateCharacter error: %v", err)
	}

	if got := len(before.Characters[0].Variations); got != 1 {
		t.Fatalf("old snapshot variations = %d, mutated in place", got)
	}
	if got := len(store.Project().Characters[0].Variations); got != 2 {
		t.Fatalf("new snapshot variations = %d, want 2", got)
	}
}

func TestRecoverSweepsOrphanedEntities(t *testing.T) {
	project := testProject()
	// Simulate a session closed mid-generation: kf-1 and iv-1 were running
	// with no result yet, kf-2 finished before the close.
	project.Scenes[0].Shots[0].Keyframe.Status = domain.GenStatusGenerating
	project.Scenes[0].Shots[0].Interval.Status = domain.GenStatusGenerating
	project.Scenes[0].Shots[1].Keyframe.Status = domain.GenStatusCompleted
	project.Scenes[0].Shots[1].Keyframe.Image = img("finished")

	store := NewStore(project, zerolog.Nop())
	if swept := store.Recover(); swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}

	after := store.Project()
	kf1 := after.Scenes[0].Shots[0].Keyframe
	if kf1.Status != domain.GenStatusFailed || kf1.Error == "" {
		t.Fatalf("kf-1 after recover = %+v, want failed with error", kf1)
	}
	iv1 := after.Scenes[0].Shots[0].Interval
	if iv1.Status != domain.GenStatusFailed {
		t.Fatalf("iv-1 status = %q, want failed", iv1.Status)
	}
	kf2 := after.Scenes[0].Shots[1].Keyframe
	if kf2.Status != domain.GenStatusCompleted || kf2.Image.Base64 != "finished" {
		t.Fatalf("kf-2 after recover = %+v, completed entity touched", kf2)
	}
}

func TestRecoverNothingToSweep(t *testing.T) {
	store := NewStore(testProject(), zerolog.Nop())
	if swept := store.Recover(); swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}
}
