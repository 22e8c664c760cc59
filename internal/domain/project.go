package domain

import "time"

// GenStatus enumerates the generation lifecycle of an entity. Every
// generatable entity mirrors the status of its in-flight job so the UI can
// render progress without a separate job table.
type GenStatus string

const (
	GenStatusPending    GenStatus = "pending"
	GenStatusGenerating GenStatus = "generating"
	GenStatusCompleted  GenStatus = "completed"
	GenStatusFailed     GenStatus = "failed"
)

// ImageData is a self-contained encoded image payload.
type ImageData struct {
	MIMEType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

// IsZero reports whether no image bytes are present.
func (d ImageData) IsZero() bool {
	return d.Base64 == ""
}

// VideoData is a self-contained encoded video payload. Both video protocols
// converge on this type; callers never learn which protocol produced it.
type VideoData struct {
	MIMEType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

// IsZero reports whether no video bytes are present.
func (d VideoData) IsZero() bool {
	return d.Base64 == ""
}

// WardrobeVariation is an alternate look for a character, generated once and
// then selectable per shot.
type WardrobeVariation struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Image ImageData `json:"image"`
}

// Character is a cast member with a base reference image and optional
// wardrobe variations.
type Character struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	BaseImage  ImageData           `json:"base_image"`
	Variations []WardrobeVariation `json:"variations,omitempty"`
	Status     GenStatus           `json:"status"`
}

// Variation returns the wardrobe variation with the given id, if any.
func (c Character) Variation(id string) (WardrobeVariation, bool) {
	for _, v := range c.Variations {
		if v.ID == id {
			return v, true
		}
	}
	return WardrobeVariation{}, false
}

// Keyframe is a single generated still anchoring the start or end of a shot.
type Keyframe struct {
	ID     string    `json:"id"`
	Status GenStatus `json:"status"`
	Image  ImageData `json:"image"`
	Error  string    `json:"error,omitempty"`
}

// VideoInterval is the video generated between two keyframes.
type VideoInterval struct {
	ID              string    `json:"id"`
	Status          GenStatus `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	Video           VideoData `json:"video"`
	Error           string    `json:"error,omitempty"`
}

// NineGridPanel is one camera-angle variant of a shot, described before the
// composite image is generated.
type NineGridPanel struct {
	Index       int       `json:"index"`
	Description string    `json:"description"`
	Image       ImageData `json:"image"`
}

// NineGridPanelSet is the nine camera-angle variants of one shot. A single
// composite image is generated after the descriptions are confirmed and then
// cropped per panel.
type NineGridPanelSet struct {
	ID        string          `json:"id"`
	Status    GenStatus       `json:"status"`
	Panels    []NineGridPanel `json:"panels,omitempty"`
	Composite ImageData       `json:"composite"`
	Error     string          `json:"error,omitempty"`
}

// Shot is one storyboard unit inside a scene.
type Shot struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	// CharacterIDs lists the cast appearing in the shot, in storyboard
	// order. Reference assembly preserves this order.
	CharacterIDs []string `json:"character_ids,omitempty"`
	// VariationSelections maps character id to the wardrobe variation
	// selected for this shot. Absent means the base image is used.
	VariationSelections map[string]string `json:"variation_selections,omitempty"`
	AspectRatio         string            `json:"aspect_ratio,omitempty"`
	Keyframe            *Keyframe         `json:"keyframe,omitempty"`
	Interval            *VideoInterval    `json:"interval,omitempty"`
	Panels              *NineGridPanelSet `json:"panels,omitempty"`
}

// Scene groups shots under one setting with an optional scene reference image.
type Scene struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ReferenceImage ImageData `json:"reference_image"`
	Shots          []Shot    `json:"shots,omitempty"`
}

// Project is the root of the in-memory project tree. It is the single shared
// resource of the engine; all mutation goes through copy-on-write entity
// replacement, never in-place writes.
type Project struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Script     string      `json:"script,omitempty"`
	Characters []Character `json:"characters,omitempty"`
	Scenes     []Scene     `json:"scenes,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// CharacterByID returns the character with the given id, if any.
func (p *Project) CharacterByID(id string) (Character, bool) {
	for _, c := range p.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}

// ShotByID returns the shot with the given id, if any.
func (p *Project) ShotByID(id string) (Shot, bool) {
	for _, scene := range p.Scenes {
		for _, shot := range scene.Shots {
			if shot.ID == id {
				return shot, true
			}
		}
	}
	return Shot{}, false
}
