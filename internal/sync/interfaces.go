// Package sync implements the local-first reconciliation engine for
// itemrelay. Callers read and write items against the local store while the
// engine pushes mutations to the server and merges the server's push
// notifications back in.
//
// The package contains four main components:
//
//   - [Engine] runs optimistic mutations, merges stream notifications, and
//     owns the in-flight [Leases].
//   - [Resync] replays every pending row against the server in one pass.
//   - [Scheduler] runs [Resync] periodically and on demand.
//   - [Bootstrap] fills an empty store from the server on first run.
package sync

import (
	"context"

	"github.com/njoerd114/itemrelay/internal/model"
)

// LocalStore is the on-device item table. Implemented by [state.Store].
type LocalStore interface {
	Active(ctx context.Context) ([]model.Item, error)
	Watch(ctx context.Context) (<-chan []model.Item, error)
	Get(ctx context.Context, id string) (*model.Item, error)
	Pending(ctx context.Context) ([]model.Item, error)
	CountByStatus(ctx context.Context) (map[model.SyncStatus]int, error)
	IsEmpty(ctx context.Context) (bool, error)

	Upsert(ctx context.Context, item model.Item) error
	UpdateStatus(ctx context.Context, id string, status model.SyncStatus) error
	DeleteByKey(ctx context.Context, id string) error
	DeleteByKeyIfStatus(ctx context.Context, id string, status model.SyncStatus) (bool, error)
	DeleteAll(ctx context.Context) error
	ReplaceSynced(ctx context.Context, items []model.Item) error
}

// RemoteService is the server's item API. Implemented by [remote.Client].
type RemoteService interface {
	Ping(ctx context.Context) error
	List(ctx context.Context) ([]model.Item, error)
	Create(ctx context.Context, item model.Item) (model.Item, error)
	Update(ctx context.Context, id string, item model.Item) (model.Item, error)
	Delete(ctx context.Context, id string) error
}
