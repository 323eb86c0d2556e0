package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/njoerd114/itemrelay/internal/model"
)

// Bootstrap fills an empty local store from the server on first run and
// prints a short summary.
type Bootstrap struct {
	engine *Engine
	log    *slog.Logger
	writer io.Writer // for summary output (os.Stdout in production)
}

// NewBootstrap creates a Bootstrap for engine.
func NewBootstrap(engine *Engine, logger *slog.Logger, writer io.Writer) *Bootstrap {
	return &Bootstrap{engine: engine, log: logger, writer: writer}
}

// Run checks whether the local store is empty and, if so, pulls the server's
// items. Returns true if the pull was executed, false if skipped.
func (b *Bootstrap) Run(ctx context.Context) (bool, error) {
	empty, err := b.engine.store.IsEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("checking local store: %w", err)
	}
	if !empty {
		b.log.Debug("local store is not empty, skipping bootstrap")
		return false, nil
	}

	b.log.Info("empty local store detected, pulling items from server")
	if _, err := b.engine.Refresh(ctx); err != nil {
		return false, fmt.Errorf("bootstrapping: %w", err)
	}

	items, err := b.engine.Items(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrapping: %w", err)
	}
	b.printSummary(items)
	return true, nil
}

// printSummary writes a human-readable summary of the pulled items.
func (b *Bootstrap) printSummary(items []model.Item) {
	open := 0
	for _, it := range items {
		if !it.Completed {
			open++
		}
	}

	_, _ = fmt.Fprintf(b.writer, "\n--- First-Run Summary ---\n\n")
	for _, it := range items {
		mark := " "
		if it.Completed {
			mark = "✓"
		}
		_, _ = fmt.Fprintf(b.writer, "  [%s] %s\n", mark, it.Title)
	}
	_, _ = fmt.Fprintf(b.writer, "\nTotal: %d items, %d open\n", len(items), open)
}
