package sync

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/njoerd114/itemrelay/internal/model"
)

// Outcome is the verdict of one resync pass, in the vocabulary of a job
// scheduler.
type Outcome int

const (
	// OutcomeSuccess means nothing is left pending.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry means the pass should run again soon: some items failed,
	// the store could not be read, or the server was unreachable.
	OutcomeRetry
	// OutcomeFailure means every attempted item failed.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ResyncStats summarises one pass.
type ResyncStats struct {
	Pending   int
	Succeeded int
	Failed    int
}

// Connectivity reports whether the server is reachable.
type Connectivity func(ctx context.Context) error

// Resync replays every pending row against the server. Create one with
// [NewResync].
type Resync struct {
	engine *Engine
	check  Connectivity
	log    *slog.Logger
}

// NewResync creates a Resync driving engine. A nil check uses the engine's
// remote Ping.
func NewResync(engine *Engine, check Connectivity, logger *slog.Logger) *Resync {
	if check == nil {
		check = engine.remote.Ping
	}
	return &Resync{engine: engine, check: check, log: logger}
}

// Run performs one pass. Failures of single items are counted and never stop
// the batch.
func (r *Resync) Run(ctx context.Context) (Outcome, ResyncStats) {
	e := r.engine
	ctx, span := e.tracer.Start(ctx, spanResync)
	defer span.End()

	var stats ResyncStats
	if err := r.check(ctx); err != nil {
		r.log.Info("server unreachable, postponing resync", "error", err)
		span.SetAttributes(attribute.String("sync.outcome", OutcomeRetry.String()))
		return OutcomeRetry, stats
	}

	pending, err := e.store.Pending(ctx)
	if err != nil {
		r.log.Error("reading pending items", "error", err)
		span.RecordError(err)
		return OutcomeRetry, stats
	}
	stats.Pending = len(pending)

	for _, item := range pending {
		if ctx.Err() != nil {
			break
		}
		var err error
		switch item.Status {
		case model.StatusPendingCreate:
			err = e.SyncCreate(ctx, item.ID)
		case model.StatusPendingUpdate:
			err = e.SyncUpdate(ctx, item.ID)
		case model.StatusPendingDelete:
			err = e.SyncDelete(ctx, item.ID)
		default:
			continue
		}
		if err != nil {
			stats.Failed++
			r.log.Warn("resync item failed", "id", item.ID, "status", item.Status, "error", err)
			e.cntResyncItems.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failed")))
			continue
		}
		stats.Succeeded++
		e.cntResyncItems.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "synced")))
	}

	outcome := outcomeOf(stats)
	if ctx.Err() != nil && outcome == OutcomeSuccess && stats.Succeeded < stats.Pending {
		outcome = OutcomeRetry
	}
	span.SetAttributes(
		attribute.Int("sync.pending", stats.Pending),
		attribute.Int("sync.succeeded", stats.Succeeded),
		attribute.Int("sync.failed", stats.Failed),
		attribute.String("sync.outcome", outcome.String()),
	)
	if stats.Pending > 0 {
		r.log.Info("resync pass complete",
			"pending", stats.Pending, "synced", stats.Succeeded, "failed", stats.Failed, "outcome", outcome)
	}
	return outcome, stats
}

func outcomeOf(s ResyncStats) Outcome {
	switch {
	case s.Failed == 0:
		return OutcomeSuccess
	case s.Succeeded > 0:
		return OutcomeRetry
	default:
		return OutcomeFailure
	}
}
