package engine

import (
	"storyforge/internal/domain"
)

// Consistency instruction blocks prepended to image prompts. Which one is
// used is a pure function of the variation flag, never of content.
const (
	strictConsistencyInstructions = `Maintain strict visual consistency with the attached reference images. ` +
		`Every character must keep the exact same face, hairstyle, clothing, and body proportions ` +
		`shown in their reference. The scene must match the attached scene reference in lighting, ` +
		`palette, and set dressing. Do not invent new costumes or alter any character's appearance.`

	variationConsistencyInstructions = `Keep each character's face, hairstyle, and body proportions exactly as shown ` +
		`in the attached references, but dress them in completely new clothing as described in the prompt. ` +
		`The new wardrobe must not resemble the outfits in the references.`
)

// ConsistencyInstructions selects the instruction block for an image prompt:
// strict replication for normal shot generation, the variation block when a
// new wardrobe look is being generated.
func ConsistencyInstructions(wardrobeVariation bool) string {
	if wardrobeVariation {
		return variationConsistencyInstructions
	}
	return strictConsistencyInstructions
}

// AssembleReferences builds the ordered reference-image list for a shot:
// the scene reference first when present, then one image per character in
// the shot's cast order; the wardrobe variation selected for this shot
// when one is set, the character's base image otherwise. Characters without
// any usable image are skipped.
func AssembleReferences(project *domain.Project, scene domain.Scene, shot domain.Shot) []domain.ImageData {
	refs := make([]domain.ImageData, 0, 1+len(shot.CharacterIDs))
	if !scene.ReferenceImage.IsZero() {
		refs = append(refs, scene.ReferenceImage)
	}
	for _, charID := range shot.CharacterIDs {
		character, ok := project.CharacterByID(charID)
		if !ok {
			continue
		}
		img := character.BaseImage
		if variationID, selected := shot.VariationSelections[charID]; selected {
			if variation, found := character.Variation(variationID); found && !variation.Image.IsZero() {
				img = variation.Image
			}
		}
		if img.IsZero() {
			continue
		}
		refs = append(refs, img)
	}
	return refs
}
