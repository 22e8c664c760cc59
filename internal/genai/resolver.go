package genai

import (
	"context"
	"strings"

	"storyforge/internal/domain"
)

// VideoMode selects the completion protocol a video model speaks.
type VideoMode string

const (
	// ModeSync means a single request returns the finished result.
	ModeSync VideoMode = "sync"
	// ModeAsync means create-task, poll, then download.
	ModeAsync VideoMode = "async"
)

// ModelConfig describes one configured model endpoint.
type ModelConfig struct {
	ID           string
	Kind         domain.GenerationKind
	Provider     string
	BaseURL      string
	EndpointPath string
	APIModelName string
	// APIKey attached to this specific model. Highest-precedence key
	// source; usually empty.
	APIKey string
	Mode   VideoMode
	// Default marks the model picked when the request carries no hint.
	Default            bool
	SupportedAspects   []string
	SupportedDurations []int
}

// Config is the explicit configuration value threaded into every resolution.
// It is never a module-level singleton; edits take effect on the next call
// because nothing here is cached.
type Config struct {
	Models []ModelConfig
	// GlobalAPIKey is the process-wide key, the second key source.
	GlobalAPIKey string
}

// KeyStore is the third, lowest-precedence key source: a key injected at
// runtime (the credentials table, in this deployment).
type KeyStore interface {
	Token(ctx context.Context, provider string) (string, error)
}

// ResolvedModel is the concrete endpoint derived from one request. Looked up
// fresh per call.
type ResolvedModel struct {
	Provider           string
	BaseURL            string
	EndpointPath       string
	APIModelName       string
	APIKey             string
	Mode               VideoMode
	SupportedAspects   []string
	SupportedDurations []int
}

// URL joins the base URL and endpoint path.
func (m ResolvedModel) URL() string {
	return strings.TrimRight(m.BaseURL, "/") + "/" + strings.TrimLeft(m.EndpointPath, "/")
}

// SupportsAspect reports whether the model accepts the aspect ratio. An
// empty support list means unconstrained.
func (m ResolvedModel) SupportsAspect(aspect string) bool {
	if len(m.SupportedAspects) == 0 || aspect == "" {
		return true
	}
	for _, a := range m.SupportedAspects {
		if a == aspect {
			return true
		}
	}
	return false
}

// Resolver maps logical generation requests to concrete provider endpoints.
type Resolver struct {
	cfg  Config
	keys KeyStore
}

// NewResolver builds a resolver over an explicit config. keys may be nil
// when no runtime key store is wired.
func NewResolver(cfg Config, keys KeyStore) *Resolver {
	return &Resolver{cfg: cfg, keys: keys}
}

// Resolve picks the model for (kind, hint) and attaches an API key. Key
// precedence: model-specific key, then the global key, then the runtime key
// store. A missing model is a *ConfigError; a missing key is an
// *APIKeyError, which callers treat as "session invalid" rather than
// "request failed".
func (r *Resolver) Resolve(ctx context.Context, kind domain.GenerationKind, hint string) (ResolvedModel, error) {
	model, ok := r.pick(kind, hint)
	if !ok {
		return ResolvedModel{}, &ConfigError{Kind: string(kind), Hint: hint}
	}

	key := strings.TrimSpace(model.APIKey)
	if key == "" {
		key = strings.TrimSpace(r.cfg.GlobalAPIKey)
	}
	if key == "" && r.keys != nil {
		stored, err := r.keys.Token(ctx, model.Provider)
		if err == nil {
			key = strings.TrimSpace(stored)
		}
	}
	if key == "" {
		return ResolvedModel{}, &APIKeyError{Provider: model.Provider}
	}

	return ResolvedModel{
		Provider:           model.Provider,
		BaseURL:            model.BaseURL,
		EndpointPath:       model.EndpointPath,
		APIModelName:       model.APIModelName,
		APIKey:             key,
		Mode:               model.Mode,
		SupportedAspects:   model.SupportedAspects,
		SupportedDurations: model.SupportedDurations,
	}, nil
}

func (r *Resolver) pick(kind domain.GenerationKind, hint string) (ModelConfig, bool) {
	hint = strings.TrimSpace(hint)
	if hint != "" {
		for _, m := range r.cfg.Models {
			if m.Kind == kind && m.ID == hint {
				return m, true
			}
		}
		// An unknown hint falls through to the default rather than
		// failing: hints persisted in old projects may outlive a
		// provider-config edit.
	}
	for _, m := range r.cfg.Models {
		if m.Kind == kind && m.Default {
			return m, true
		}
	}
	for _, m := range r.cfg.Models {
		if m.Kind == kind {
			return m, true
		}
	}
	return ModelConfig{}, false
}
