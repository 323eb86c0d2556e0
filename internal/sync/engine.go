package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/itemrelay/internal/auth"
	"github.com/njoerd114/itemrelay/internal/model"
	"github.com/njoerd114/itemrelay/internal/remote"
	"github.com/njoerd114/itemrelay/internal/stream"
)

const (
	otelScope            = "itemrelay/sync"
	spanSave             = "sync.save"
	spanUpdate           = "sync.update"
	spanDelete           = "sync.delete"
	spanResync           = "sync.resync"
	spanRefresh          = "sync.refresh"
	metricMutations      = "itemrelay.sync.mutations"
	metricRemoteFailures = "itemrelay.sync.remote_failures"
	metricMerges         = "itemrelay.sync.merges"
	metricResyncItems    = "itemrelay.sync.resync.items"
)

const (
	// DefaultSettleDelay is how long a key stays leased after its remote call
	// returns, to absorb the server's echo of our own write.
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultRemoteTimeout bounds a single mutation's remote call.
	DefaultRemoteTimeout = 15 * time.Second
)

// Options tunes an [Engine]. Zero values select the defaults.
type Options struct {
	SettleDelay   time.Duration
	RemoteTimeout time.Duration
	// QueueSize is the buffer of each stream session.
	QueueSize int
	// NoSettle disables the settle delay entirely (leases are released as
	// soon as the remote call returns). SettleDelay is ignored when set.
	NoSettle bool
	// Deferred skips the remote push after a local write. Rows stay pending
	// until some engine's Resync replays them.
	Deferred bool
}

func (o Options) withDefaults() Options {
	if o.NoSettle {
		o.SettleDelay = 0
	} else if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = DefaultRemoteTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = stream.DefaultQueueSize
	}
	return o
}

// MergeResult describes what [Engine.Apply] did with a notification.
type MergeResult int

const (
	// MergeFailed accompanies every error from Apply; nothing was merged.
	MergeFailed MergeResult = iota
	Applied
	SkippedInFlight
	SkippedPending
	SkippedUnchanged
)

func (r MergeResult) String() string {
	switch r {
	case MergeFailed:
		return "failed"
	case Applied:
		return "applied"
	case SkippedInFlight:
		return "skipped_in_flight"
	case SkippedPending:
		return "skipped_pending"
	case SkippedUnchanged:
		return "skipped_unchanged"
	default:
		return fmt.Sprintf("MergeResult(%d)", int(r))
	}
}

// Engine is the single writer of the local store. Mutations land locally
// first and are pushed to the server best-effort; whatever the server does not
// acknowledge stays pending for [Resync]. Create one with [NewEngine].
type Engine struct {
	store  LocalStore
	remote RemoteService
	tokens *auth.TokenSource
	events stream.Client
	leases *Leases
	locks  keyLocks
	opts   Options
	log    *slog.Logger

	reconnected   func()
	streamBackOff func() backoff.BackOff

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer            trace.Tracer
	cntMutations      metric.Int64Counter
	cntRemoteFailures metric.Int64Counter
	cntMerges         metric.Int64Counter
	cntResyncItems    metric.Int64Counter
}

// NewEngine creates an Engine. tokens and events may be nil; without events
// [Engine.RunStream] returns immediately.
func NewEngine(store LocalStore, rs RemoteService, tokens *auth.TokenSource, events stream.Client, opts Options, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	e := &Engine{
		store:  store,
		remote: rs,
		tokens: tokens,
		events: events,
		leases: NewLeases(),
		opts:   opts.withDefaults(),
		log:    logger,

		streamBackOff: newStreamBackOff,

		tracer:            tracer,
		cntMutations:      mustCounter(metricMutations, "Number of local mutations"),
		cntRemoteFailures: mustCounter(metricRemoteFailures, "Number of remote calls deferred to resync"),
		cntMerges:         mustCounter(metricMerges, "Number of stream notifications processed"),
		cntResyncItems:    mustCounter(metricResyncItems, "Number of pending items replayed by resync"),
	}
	if tokens != nil && events != nil {
		// Anyone rotating the shared credential also re-authorizes the stream.
		tokens.OnChange(events.Authorize)
	}
	return e
}

// Leases exposes the engine's in-flight set.
func (e *Engine) Leases() *Leases { return e.leases }

// OnReconnect registers fn to run when the event stream comes back after a
// failure. It replaces any earlier callback.
func (e *Engine) OnReconnect(fn func()) {
	e.reconnected = fn
}

// Items returns the active items, ordered by title.
func (e *Engine) Items(ctx context.Context) ([]model.Item, error) {
	return e.store.Active(ctx)
}

// Get returns the item stored under id, or nil if there is none.
func (e *Engine) Get(ctx context.Context, id string) (*model.Item, error) {
	return e.store.Get(ctx, id)
}

// Watch streams the active list after every change.
func (e *Engine) Watch(ctx context.Context) (<-chan []model.Item, error) {
	return e.store.Watch(ctx)
}

// Save stores item as a new record and pushes it to the server. An empty ID
// is replaced by a fresh one. Only local store failures are returned; a failed
// remote create leaves the item PendingCreate.
//
// Mutations ignore cancellation of ctx once started.
func (e *Engine) Save(ctx context.Context, item model.Item) (model.Item, error) {
	if item.ID == "" {
		item.ID = model.NewID()
	}
	ctx, span := e.tracer.Start(ctx, spanSave, trace.WithAttributes(attribute.String("item.id", item.ID)))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	e.leases.Acquire(item.ID)
	defer e.settle(item.ID)
	unlock := e.locks.lock(item.ID)
	defer unlock()

	local := item.WithStatus(model.StatusPendingCreate)
	if err := e.store.Upsert(ctx, local); err != nil {
		span.RecordError(err)
		return model.Item{}, fmt.Errorf("saving item %q: %w", item.ID, err)
	}
	e.cntMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "save")))
	if e.opts.Deferred {
		return local, nil
	}

	if err := e.pushCreate(ctx, local); err != nil {
		e.remoteFailed(ctx, "create", local.ID, err)
		return local, nil
	}
	return e.markSynced(ctx, local)
}

// Update replaces an existing record and pushes the change. A record the
// server has never acknowledged stays PendingCreate and is created instead.
func (e *Engine) Update(ctx context.Context, item model.Item) (model.Item, error) {
	if item.ID == "" {
		return model.Item{}, errors.New("updating item: missing id")
	}
	ctx, span := e.tracer.Start(ctx, spanUpdate, trace.WithAttributes(attribute.String("item.id", item.ID)))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	e.leases.Acquire(item.ID)
	defer e.settle(item.ID)
	unlock := e.locks.lock(item.ID)
	defer unlock()

	existing, err := e.store.Get(ctx, item.ID)
	if err != nil {
		span.RecordError(err)
		return model.Item{}, fmt.Errorf("updating item %q: %w", item.ID, err)
	}
	status := model.StatusPendingUpdate
	if existing != nil && existing.Status == model.StatusPendingCreate {
		status = model.StatusPendingCreate
	}

	local := item.WithStatus(status)
	if err := e.store.Upsert(ctx, local); err != nil {
		span.RecordError(err)
		return model.Item{}, fmt.Errorf("updating item %q: %w", item.ID, err)
	}
	e.cntMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "update")))
	if e.opts.Deferred {
		return local, nil
	}

	if status == model.StatusPendingCreate {
		err = e.pushCreate(ctx, local)
	} else {
		err = e.pushUpdate(ctx, local)
	}
	if err != nil {
		e.remoteFailed(ctx, "update", local.ID, err)
		return local, nil
	}
	return e.markSynced(ctx, local)
}

// Delete hides the record immediately and removes it from the server. The
// row is purged once the server confirms; until then it stays PendingDelete.
func (e *Engine) Delete(ctx context.Context, id string) error {
	ctx, span := e.tracer.Start(ctx, spanDelete, trace.WithAttributes(attribute.String("item.id", id)))
	defer span.End()
	ctx = context.WithoutCancel(ctx)

	e.leases.Acquire(id)
	defer e.settle(id)
	unlock := e.locks.lock(id)
	defer unlock()

	if err := e.store.UpdateStatus(ctx, id, model.StatusPendingDelete); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting item %q: %w", id, err)
	}
	e.cntMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "delete")))
	if e.opts.Deferred {
		return nil
	}

	if err := e.pushDelete(ctx, id); err != nil {
		e.remoteFailed(ctx, "delete", id, err)
		return nil
	}
	if _, err := e.store.DeleteByKeyIfStatus(ctx, id, model.StatusPendingDelete); err != nil {
		span.RecordError(err)
		return fmt.Errorf("purging item %q: %w", id, err)
	}
	return nil
}

// SyncCreate replays a PendingCreate row. A conflict means an earlier attempt
// reached the server, so the local content is sent as an update instead.
func (e *Engine) SyncCreate(ctx context.Context, id string) error {
	return e.replay(ctx, id, model.StatusPendingCreate, func(ctx context.Context, item model.Item) error {
		if err := e.pushCreate(ctx, item); err != nil {
			return err
		}
		_, err := e.markSynced(ctx, item)
		return err
	})
}

// SyncUpdate replays a PendingUpdate row.
func (e *Engine) SyncUpdate(ctx context.Context, id string) error {
	return e.replay(ctx, id, model.StatusPendingUpdate, func(ctx context.Context, item model.Item) error {
		if err := e.pushUpdate(ctx, item); err != nil {
			return err
		}
		_, err := e.markSynced(ctx, item)
		return err
	})
}

// SyncDelete replays a PendingDelete row and purges it on success.
func (e *Engine) SyncDelete(ctx context.Context, id string) error {
	return e.replay(ctx, id, model.StatusPendingDelete, func(ctx context.Context, item model.Item) error {
		if err := e.pushDelete(ctx, item.ID); err != nil {
			return err
		}
		if _, err := e.store.DeleteByKeyIfStatus(ctx, item.ID, model.StatusPendingDelete); err != nil {
			return fmt.Errorf("purging item %q: %w", item.ID, err)
		}
		return nil
	})
}

// replay runs push for id under its lease and lock, provided the row still
// carries want. A row that moved on since the caller read it is skipped.
func (e *Engine) replay(ctx context.Context, id string, want model.SyncStatus, push func(context.Context, model.Item) error) error {
	e.leases.Acquire(id)
	defer e.settle(id)
	unlock := e.locks.lock(id)
	defer unlock()

	item, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reading item %q: %w", id, err)
	}
	if item == nil || item.Status != want {
		e.log.Debug("pending item changed before replay, skipping", "id", id, "want", want)
		return nil
	}
	return push(ctx, *item)
}

// Apply merges one stream notification into the local store.
func (e *Engine) Apply(ctx context.Context, n model.Notification) (MergeResult, error) {
	id := n.Item.ID
	res, err := e.apply(ctx, n)
	e.cntMerges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", n.Kind.String()),
		attribute.String("result", res.String()),
	))
	if err != nil {
		return MergeFailed, err
	}
	if res == Applied {
		e.log.Debug("applied notification", "kind", n.Kind, "id", id)
	} else {
		e.log.Debug("discarded notification", "kind", n.Kind, "id", id, "reason", res)
	}
	return res, nil
}

func (e *Engine) apply(ctx context.Context, n model.Notification) (MergeResult, error) {
	id := n.Item.ID
	if e.leases.Held(id) {
		return SkippedInFlight, nil
	}
	unlock := e.locks.lock(id)
	defer unlock()
	// A mutation may have leased the key while we waited.
	if e.leases.Held(id) {
		return SkippedInFlight, nil
	}

	switch n.Kind {
	case model.ChangeCreated, model.ChangeUpdated:
		local, err := e.store.Get(ctx, id)
		if err != nil {
			return MergeFailed, fmt.Errorf("merging %s %q: %w", n.Kind, id, err)
		}
		if local != nil {
			if local.Status == model.StatusPendingUpdate {
				return SkippedPending, nil
			}
			incoming := n.Item
			if local.Status == model.StatusSynced && local.ContentHash() == incoming.ContentHash() {
				return SkippedUnchanged, nil
			}
		}
		if err := e.store.Upsert(ctx, n.Item.WithStatus(model.StatusSynced)); err != nil {
			return MergeFailed, fmt.Errorf("merging %s %q: %w", n.Kind, id, err)
		}
		return Applied, nil

	case model.ChangeDeleted:
		if err := e.store.DeleteByKey(ctx, id); err != nil {
			return MergeFailed, fmt.Errorf("merging %s %q: %w", n.Kind, id, err)
		}
		return Applied, nil

	default:
		return MergeFailed, fmt.Errorf("merging %q: %w", id, model.ErrMalformedNotification)
	}
}

// Refresh pulls the full list from the server and replaces every Synced row
// with it. Pending rows are kept.
func (e *Engine) Refresh(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, spanRefresh)
	defer span.End()

	items, err := e.remote.List(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("refreshing items: %w", err)
	}
	if err := e.store.ReplaceSynced(ctx, items); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("refreshing items: %w", err)
	}
	span.SetAttributes(attribute.Int("sync.items", len(items)))
	e.log.Info("refreshed items from server", "count", len(items))
	return len(items), nil
}

// DeleteAll wipes the local store. It does not touch the server.
func (e *Engine) DeleteAll(ctx context.Context) error {
	if err := e.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clearing local items: %w", err)
	}
	e.log.Info("cleared local items")
	return nil
}

// SetToken replaces the bearer credential used for HTTP and re-authorizes a
// live event stream.
func (e *Engine) SetToken(token string) {
	switch {
	case e.tokens != nil:
		e.tokens.Set(token)
	case e.events != nil:
		e.events.Authorize(token)
	}
}

func (e *Engine) pushCreate(ctx context.Context, item model.Item) error {
	rctx, cancel := e.remoteContext(ctx)
	_, err := e.remote.Create(rctx, item)
	cancel()
	if errors.Is(err, remote.ErrConflict) {
		// An earlier attempt reached the server; send the local content over it.
		e.log.Debug("item already exists on server, updating instead", "id", item.ID)
		return e.pushUpdate(ctx, item)
	}
	return err
}

func (e *Engine) pushUpdate(ctx context.Context, item model.Item) error {
	rctx, cancel := e.remoteContext(ctx)
	defer cancel()
	_, err := e.remote.Update(rctx, item.ID, item)
	return err
}

func (e *Engine) pushDelete(ctx context.Context, id string) error {
	rctx, cancel := e.remoteContext(ctx)
	defer cancel()
	if err := e.remote.Delete(rctx, id); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// remoteContext detaches a remote call from the caller's cancellation so a
// started mutation is never torn down halfway.
func (e *Engine) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.RemoteTimeout)
}

func (e *Engine) markSynced(ctx context.Context, item model.Item) (model.Item, error) {
	if err := e.store.UpdateStatus(ctx, item.ID, model.StatusSynced); err != nil {
		return item, fmt.Errorf("marking item %q synced: %w", item.ID, err)
	}
	return item.WithStatus(model.StatusSynced), nil
}

func (e *Engine) remoteFailed(ctx context.Context, op, id string, err error) {
	e.cntRemoteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	trace.SpanFromContext(ctx).RecordError(err)
	e.log.Warn("remote call failed, deferring to resync", "op", op, "id", id, "error", err)
}

func (e *Engine) settle(id string) {
	e.leases.ReleaseAfter(id, e.opts.SettleDelay)
}
