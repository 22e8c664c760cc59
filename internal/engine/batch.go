package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"storyforge/internal/genai"
)

const defaultItemDelay = 3 * time.Second

/// WorkItem is one unit of a batch: an entity id and the generation call
// that produces it.
type WorkItem struct {
	EntityID string
	Run      func(ctx context.Context) error
}

// ItemFailure records a per-item error that did not stop the batch.
type ItemFailure struct {
	Index    int
	EntityID string
	Err      error
}

// Report is the aggregate outcome of one batch run.
type Report struct {
	Total     int
	Completed int
	Failures  []ItemFailure
}

// BatchCoordinator drives a worklist strictly sequentially with a fixed
// inter-item delay. Items never run concurrently.
type BatchCoordinator struct {
	// ItemDelay is inserted before every item except the first. Zero
	// means the 3-second default.
	ItemDelay time.Duration
	Logger    zerolog.Logger
}

// Run executes the worklist in order, reporting (completed, total) after
// each item. An *genai.APIKeyError means the session is invalid; it aborts
// the batch immediately and is returned alongside
// the partial report. Any other per-item failure is logged and the batch
// moves on.
func (b *BatchCoordinator) Run(ctx context.Context, items []WorkItem, onProgress func(completed, total int)) (Report, error) {
	delay := b.ItemDelay
	if delay <= 0 {
		delay = defaultItemDelay
	}

	report := Report{Total: len(items)}
	for i, item := range items {
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}

		err := item.Run(ctx)
		if err != nil {
			if genai.IsAPIKey(err) {
				b.Logger.Error().Err(err).Str("entity_id", item.EntityID).Msg("batch: api key invalid, aborting")
				return report, err
			}
			b.Logger.Warn().Err(err).Str("entity_id", item.EntityID).Int("index", i).Msg("batch: item failed, continuing")
			report.Failures = append(report.Failures, ItemFailure{Index: i, EntityID: item.EntityID, Err: err})
		}

		report.Completed++
		if onProgress != nil {
			onProgress(report.Completed, report.Total)
		}
	}
	return report, nil
}
