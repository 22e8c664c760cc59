package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"storyforge/internal/domain"
	"storyforge/internal/genai"
	"storyforge/internal/imaging"
	"storyforge/internal/providers/chat"
	imageprovider "storyforge/internal/providers/image"
	videoprovider "storyforge/internal/providers/video"
)

// Clients bundles the provider clients the generator drives.
type Clients struct {
	Chat  *chat.Client
	Image *imageprovider.Client
	Video videoprovider.Options
}

// Generator runs generation operations against one open project. Every
// remote call goes through the resolver, the shared retry policy, and the
// store's id-scoped transitions.
type Generator struct {
	store    *Store
	resolver *genai.Resolver
	clients  Clients
	retry    genai.RetryOptions
	logger   zerolog.Logger

	// flight collapses duplicate triggers for the same entity. The UI
	// already rejects re-triggering a generating entity, but the engine
	// must tolerate being re-invoked and must overwrite, never append.
	flight singleflight.Group
}

// NewGenerator wires a generator over a store.
func NewGenerator(store *Store, resolver *genai.Resolver, clients Clients, retry genai.RetryOptions, logger zerolog.Logger) *Generator {
	retry.Logger = logger
	return &Generator{
		store:    store,
		resolver: resolver,
		clients:  clients,
		retry:    retry,
		logger:   logger,
	}
}

// Store exposes the project store backing this generator.
func (g *Generator) Store() *Store { return g.store }

// resolve maps a generation request to a concrete endpoint and rejects
// aspect ratios the resolved model cannot produce.
func (g *Generator) resolve(ctx context.Context, req domain.GenerationRequest) (genai.ResolvedModel, error) {
	model, err := g.resolver.Resolve(ctx, req.Kind, req.ModelHint)
	if err != nil {
		return genai.ResolvedModel{}, err
	}
	if !model.SupportsAspect(req.AspectRatio) {
		return genai.ResolvedModel{}, fmt.Errorf("model %s does not support aspect ratio %q", model.APIModelName, req.AspectRatio)
	}
	return model, nil
}

func (g *Generator) findShot(shotID string) (domain.Scene, domain.Shot, error) {
	project := g.store.Project()
	for _, scene := range project.Scenes {
		for _, shot := range scene.Shots {
			if shot.ID == shotID {
				return scene, shot, nil
			}
		}
	}
	return domain.Scene{}, domain.Shot{}, domain.ErrEntityNotFound
}

// GenerateKeyframe produces the still anchoring a shot. Duplicate triggers
// for the same keyframe share one in-flight call.
func (g *Generator) GenerateKeyframe(ctx context.Context, shotID, modelHint string) error {
	scene, shot, err := g.findShot(shotID)
	if err != nil {
		return err
	}
	if shot.Keyframe == nil {
		return domain.ErrEntityNotFound
	}
	entityID := shot.Keyframe.ID

	_, err, _ = g.flight.Do(entityID, func() (any, error) {
		return nil, g.runKeyframe(ctx, scene, shot, entityID, modelHint)
	})
	return err
}

func (g *Generator) runKeyframe(ctx context.Context, scene domain.Scene, shot domain.Shot, entityID, modelHint string) error {
	if err := g.store.UpdateKeyframe(entityID, func(kf *domain.Keyframe) {
		kf.Status = domain.GenStatusGenerating
		kf.Error = ""
	}); err != nil {
		return err
	}

	genReq := domain.GenerationRequest{
		Kind:            domain.KindImage,
		Prompt:          ConsistencyInstructions(false) + "\n\n" + shot.Description,
		ReferenceImages: AssembleReferences(g.store.Project(), scene, shot),
		AspectRatio:     shot.AspectRatio,
		ModelHint:       modelHint,
	}

	var result domain.ImageData
	callErr := genai.Retry(ctx, func(ctx context.Context) error {
		model, err := g.resolve(ctx, genReq)
		if err != nil {
			return err
		}
		result, err = g.clients.Image.Generate(ctx, model, imageprovider.Request{
			Prompt:      genReq.Prompt,
			References:  genReq.ReferenceImages,
			AspectRatio: genReq.AspectRatio,
		})
		return err
	}, g.retry)

	return g.finishKeyframe(entityID, result, callErr)
}

func (g *Generator) finishKeyframe(entityID string, result domain.ImageData, callErr error) error {
	// The terminal transition is applied at resolution time through the
	// id-scoped update, so a back-to-back generation on another entity
	// cannot be clobbered by this one.
	updateErr := g.store.UpdateKeyframe(entityID, func(kf *domain.Keyframe) {
		if callErr != nil {
			kf.Status = domain.GenStatusFailed
			kf.Image = domain.ImageData{}
			kf.Error = callErr.Error()
			return
		}
		kf.Status = domain.GenStatusCompleted
		kf.Image = result
		kf.Error = ""
	})
	if callErr != nil {
		g.logger.Error().Err(callErr).Str("entity_id", entityID).Msg("engine: keyframe generation failed")
		return callErr
	}
	return updateErr
}

// GenerateInterval produces the video between a shot's keyframe and the
// next shot's keyframe (when one exists, it rides along as the end frame).
func (g *Generator) GenerateInterval(ctx context.Context, shotID, modelHint string) error {
	scene, shot, err := g.findShot(shotID)
	if err != nil {
		return err
	}
	if shot.Interval == nil {
		return domain.ErrEntityNotFound
	}
	entityID := shot.Interval.ID

	_, err, _ = g.flight.Do(entityID, func() (any, error) {
		return nil, g.runInterval(ctx, scene, shot, entityID, modelHint)
	})
	return err
}

func (g *Generator) runInterval(ctx context.Context, scene domain.Scene, shot domain.Shot, entityID, modelHint string) error {
	if err := g.store.UpdateInterval(entityID, func(iv *domain.VideoInterval) {
		iv.Status = domain.GenStatusGenerating
		iv.Error = ""
	}); err != nil {
		return err
	}

	genReq := domain.GenerationRequest{
		Kind:            domain.KindVideo,
		Prompt:          shot.Description,
		ReferenceImages: g.intervalFrames(scene, shot),
		AspectRatio:     shot.AspectRatio,
		DurationSeconds: shot.Interval.DurationSeconds,
		ModelHint:       modelHint,
	}

	var result domain.VideoData
	callErr := genai.Retry(ctx, func(ctx context.Context) error {
		model, err := g.resolve(ctx, genReq)
		if err != nil {
			return err
		}
		job, err := videoprovider.NewJob(model, videoprovider.Request{
			Prompt:          genReq.Prompt,
			References:      genReq.ReferenceImages,
			AspectRatio:     genReq.AspectRatio,
			DurationSeconds: genReq.DurationSeconds,
		}, g.clients.Video)
		if err != nil {
			return err
		}
		result, err = job.Run(ctx)
		return err
	}, g.retry)

	updateErr := g.store.UpdateInterval(entityID, func(iv *domain.VideoInterval) {
		if callErr != nil {
			iv.Status = domain.GenStatusFailed
			iv.Video = domain.VideoData{}
			iv.Error = callErr.Error()
			return
		}
		iv.Status = domain.GenStatusCompleted
		iv.Video = result
		iv.Error = ""
	})
	if callErr != nil {
		g.logger.Error().Err(callErr).Str("entity_id", entityID).Msg("engine: interval generation failed")
		return callErr
	}
	return updateErr
}

// intervalFrames picks the start frame from this shot's keyframe and, when
// the scene has a completed keyframe on the following shot, the end frame.
func (g *Generator) intervalFrames(scene domain.Scene, shot domain.Shot) []domain.ImageData {
	var refs []domain.ImageData
	if shot.Keyframe != nil && !shot.Keyframe.Image.IsZero() {
		refs = append(refs, shot.Keyframe.Image)
	}
	for i, candidate := range scene.Shots {
		if candidate.ID != shot.ID || i+1 >= len(scene.Shots) {
			continue
		}
		next := scene.Shots[i+1]
		if next.Keyframe != nil && !next.Keyframe.Image.IsZero() {
			refs = append(refs, next.Keyframe.Image)
		}
		break
	}
	return refs
}

// panelDescriptions is the JSON shape the chat model is asked to return
// when describing nine camera-angle variants.
type panelDescriptions struct {
	Panels []string `json:"panels"`
}

// DescribePanels streams nine camera-angle descriptions for a shot into its
// panel set. onChunk receives partial text as it arrives so the UI can
// render progress.
func (g *Generator) DescribePanels(ctx context.Context, shotID, modelHint string, onChunk func(string)) error {
	_, shot, err := g.findShot(shotID)
	if err != nil {
		return err
	}
	if shot.Panels == nil {
		return domain.ErrEntityNotFound
	}
	entityID := shot.Panels.ID

	_, err, _ = g.flight.Do(entityID+":describe", func() (any, error) {
		genReq := domain.GenerationRequest{
			Kind: domain.KindChat,
			Prompt: fmt.Sprintf(
				"Propose nine distinct camera angles for this storyboard shot. "+
					"Respond with JSON: {\"panels\": [nine short descriptions]}.\n\nShot: %s",
				shot.Description,
			),
			ModelHint: modelHint,
		}

		var text string
		callErr := genai.Retry(ctx, func(ctx context.Context) error {
			model, err := g.resolve(ctx, genReq)
			if err != nil {
				return err
			}
			text, err = g.clients.Chat.Stream(ctx, model, chat.Request{
				Prompt:       genReq.Prompt,
				Temperature:  0.7,
				JSONResponse: true,
			}, onChunk)
			return err
		}, g.retry)
		if callErr != nil {
			return nil, callErr
		}

		var parsed panelDescriptions
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
			return nil, &genai.ParseError{Detail: "panel descriptions are not valid JSON", Err: err}
		}
		if len(parsed.Panels) != 9 {
			return nil, &genai.ParseError{Detail: fmt.Sprintf("expected 9 panel descriptions, got %d", len(parsed.Panels))}
		}

		return nil, g.store.UpdatePanelSet(entityID, func(ps *domain.NineGridPanelSet) {
			ps.Panels = ps.Panels[:0]
			for i, description := range parsed.Panels {
				ps.Panels = append(ps.Panels, domain.NineGridPanel{Index: i, Description: description})
			}
		})
	})
	return err
}

// GeneratePanelComposite renders the confirmed nine-grid as one composite
// image and crops it into the panels.
func (g *Generator) GeneratePanelComposite(ctx context.Context, shotID, modelHint string) error {
	scene, shot, err := g.findShot(shotID)
	if err != nil {
		return err
	}
	if shot.Panels == nil {
		return domain.ErrEntityNotFound
	}
	if len(shot.Panels.Panels) != 9 {
		return fmt.Errorf("panel descriptions not confirmed: %w", domain.ErrInvalidPrompt)
	}
	entityID := shot.Panels.ID

	_, err, _ = g.flight.Do(entityID, func() (any, error) {
		return nil, g.runPanelComposite(ctx, scene, shot, entityID, modelHint)
	})
	return err
}

func (g *Generator) runPanelComposite(ctx context.Context, scene domain.Scene, shot domain.Shot, entityID, modelHint string) error {
	if err := g.store.UpdatePanelSet(entityID, func(ps *domain.NineGridPanelSet) {
		ps.Status = domain.GenStatusGenerating
		ps.Error = ""
	}); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString(ConsistencyInstructions(false))
	sb.WriteString("\n\nRender a single 3x3 grid image containing nine panels of the same shot from these camera angles:\n")
	for _, panel := range shot.Panels.Panels {
		fmt.Fprintf(&sb, "%d. %s\n", panel.Index+1, panel.Description)
	}

	genReq := domain.GenerationRequest{
		Kind:            domain.KindImage,
		Prompt:          sb.String(),
		ReferenceImages: AssembleReferences(g.store.Project(), scene, shot),
		AspectRatio:     "1:1",
		ModelHint:       modelHint,
	}

	var composite domain.ImageData
	callErr := genai.Retry(ctx, func(ctx context.Context) error {
		model, err := g.resolve(ctx, genReq)
		if err != nil {
			return err
		}
		composite, err = g.clients.Image.Generate(ctx, model, imageprovider.Request{
			Prompt:      genReq.Prompt,
			References:  genReq.ReferenceImages,
			AspectRatio: genReq.AspectRatio,
		})
		return err
	}, g.retry)

	var panels []domain.ImageData
	if callErr == nil {
		panels, callErr = imaging.CropGridData(composite, 3, 3)
	}

	updateErr := g.store.UpdatePanelSet(entityID, func(ps *domain.NineGridPanelSet) {
		if callErr != nil {
			ps.Status = domain.GenStatusFailed
			ps.Composite = domain.ImageData{}
			ps.Error = callErr.Error()
			return
		}
		ps.Status = domain.GenStatusCompleted
		ps.Composite = composite
		ps.Error = ""
		for i := range ps.Panels {
			ps.Panels[i].Image = panels[i]
		}
	})
	if callErr != nil {
		g.logger.Error().Err(callErr).Str("entity_id", entityID).Msg("engine: panel composite generation failed")
		return callErr
	}
	return updateErr
}

// GenerateWardrobeVariation creates a new look for a character: facial
// identity is preserved, the clothing is new.
func (g *Generator) GenerateWardrobeVariation(ctx context.Context, characterID, variationID, description, modelHint string) error {
	project := g.store.Project()
	character, ok := project.CharacterByID(characterID)
	if !ok {
		return domain.ErrCharacterNotFound
	}
	if character.BaseImage.IsZero() {
		return fmt.Errorf("character %s has no base image: %w", characterID, domain.ErrInvalidPrompt)
	}

	_, err, _ := g.flight.Do("variation:"+variationID, func() (any, error) {
		genReq := domain.GenerationRequest{
			Kind:            domain.KindImage,
			Prompt:          ConsistencyInstructions(true) + "\n\n" + description,
			ReferenceImages: []domain.ImageData{character.BaseImage},
			ModelHint:       modelHint,
		}

		var result domain.ImageData
		callErr := genai.Retry(ctx, func(ctx context.Context) error {
			model, err := g.resolve(ctx, genReq)
			if err != nil {
				return err
			}
			result, err = g.clients.Image.Generate(ctx, model, imageprovider.Request{
				Prompt:     genReq.Prompt,
				References: genReq.ReferenceImages,
			})
			return err
		}, g.retry)
		if callErr != nil {
			g.logger.Error().Err(callErr).Str("character_id", characterID).Msg("engine: wardrobe variation failed")
			return nil, callErr
		}

		return nil, g.store.UpdateCharacter(characterID, func(c *domain.Character) {
			for i := range c.Variations {
				if c.Variations[i].ID == variationID {
					c.Variations[i].Image = result
					return
				}
			}
			c.Variations = append(c.Variations, domain.WardrobeVariation{
				ID:    variationID,
				Name:  description,
				Image: result,
			})
		})
	})
	return err
}
