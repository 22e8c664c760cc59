package domain

// GenerationKind enumerates the categories of remote generation calls.
type GenerationKind string

const (
	KindChat  GenerationKind = "chat"
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
)

// GenerationRequest is the immutable value object describing one remote
// generation call. It is owned by the caller for the duration of that call.
type GenerationRequest struct {
	Kind            GenerationKind
	Prompt          string
	ReferenceImages []ImageData
	AspectRatio     string
	DurationSeconds int
	// ModelHint optionally pins an explicit model id; empty means the
	// resolver picks the configured default for the kind.
	ModelHint string
}
