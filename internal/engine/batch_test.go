package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storyforge/internal/genai"
)

func worklist(n int, failAt int, failErr error, ran *[]string) []WorkItem {
	items := make([]WorkItem, 0, n)
	for i := 0; i < n; i++ {
		i := i
		id := string(rune('a' + i))
		items = append(items, WorkItem{
			EntityID: id,
			Run: func(context.Context) error {
				*ran = append(*ran, id)
				if i == failAt {
					return failErr
				}
				return nil
			},
		})
	}
	return items
}

func TestBatchGenericErrorContinues(t *testing.T) {
	var ran []string
	var progress []int
	b := &BatchCoordinator{ItemDelay: time.Millisecond, Logger: zerolog.Nop()}

	report, err := b.Run(context.Background(), worklist(5, 2, errors.New("boom"), &ran), func(completed, total int) {
		progress = append(progress, completed)
		if total != 5 {
			t.Fatalf("total = %d, want 5", total)
		}
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(ran) != 5 {
		t.Fatalf("ran %d items, want all 5", len(ran))
	}
	if report.Completed != 5 || len(report.Failures) != 1 {
		t.Fatalf("report = %+v, want 5 completed, 1 failure", report)
	}
	if f := report.Failures[0]; f.Index != 2 || f.EntityID != "c" {
		t.Fatalf("failure = %+v, want item 3", f)
	}
	if len(progress) != 5 || progress[4] != 5 {
		t.Fatalf("progress = %v, want 1..5", progress)
	}
}

func TestBatchAPIKeyErrorAborts(t *testing.T) {
	var ran []string
	b := &BatchCoordinator{ItemDelay: time.Millisecond, Logger: zerolog.Nop()}

	report, err := b.Run(context.Background(), worklist(5, 2, &genai.APIKeyError{Provider: "openai"}, &ran), nil)
	var keyErr *genai.APIKeyError
	if !errors.As(err, &keyErr) {
		t.Fatalf("error = %v, want *genai.APIKeyError", err)
	}
	if len(ran) != 3 {
		t.Fatalf("ran %d items, want abort after item 3", len(ran))
	}
	if report.Completed != 2 {
		t.Fatalf("completed = %d, want 2 before abort", report.Completed)
	}
}

func TestBatchDelaysBetweenItems(t *testing.T) {
	var ran []string
	delay := 30 * time.Millisecond
	b := &BatchCoordinator{ItemDelay: delay, Logger: zerolog.Nop()}

	start := time.Now()
	if _, err := b.Run(context.Background(), worklist(3, -1, nil, &ran), nil); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Fatalf("elapsed = %v, want at least %v for two inter-item delays", elapsed, 2*delay)
	}
}

func TestBatchContextCancelledDuringDelay(t *testing.T) {
	var ran []string
	b := &BatchCoordinator{ItemDelay: time.Minute, Logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	report, err := b.Run(ctx, worklist(3, -1, nil, &ran), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(ran) != 1 || report.Completed != 1 {
		t.Fatalf("ran = %v, report = %+v, want only first item", ran, report)
	}
}
