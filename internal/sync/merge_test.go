package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/njoerd114/itemrelay/internal/model"
)

func TestApply_InFlightNotificationIsNoOp(t *testing.T) {
	store := newMockStore()
	rem := newMockRemote()
	release, entered := rem.block()
	e := newTestEngine(store, rem)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Save(ctx, newItem("k1", "Mine", model.StatusSynced))
	}()
	receive(t, entered)

	for _, kind := range []model.ChangeKind{model.ChangeCreated, model.ChangeUpdated, model.ChangeDeleted} {
		res, err := e.Apply(ctx, notify(kind, "k1", "Echo"))
		if err != nil {
			t.Fatal(err)
		}
		if res != SkippedInFlight {
			t.Errorf("%v during save = %v, want SkippedInFlight", kind, res)
		}
	}
	got, ok := store.get("k1")
	if !ok || got.Title != "Mine" {
		t.Errorf("local row = %+v, %v; want untouched", got, ok)
	}

	release <- struct{}{}
	receive(t, done)
}

func TestApply_PendingUpdateIsNotOverwritten(t *testing.T) {
	store := newMockStore(newItem("k1", "Local edit", model.StatusPendingUpdate))
	e := newTestEngine(store, newMockRemote())

	res, err := e.Apply(context.Background(), notify(model.ChangeUpdated, "k1", "Stale server copy"))
	if err != nil {
		t.Fatal(err)
	}
	if res != SkippedPending {
		t.Errorf("result = %v, want SkippedPending", res)
	}
	got, _ := store.get("k1")
	if got.Title != "Local edit" || got.Status != model.StatusPendingUpdate {
		t.Errorf("local = %q/%v, want Local edit/PendingUpdate", got.Title, got.Status)
	}
}

func TestApply_CreatedInsertsSynced(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, newMockRemote())

	res, err := e.Apply(context.Background(), notify(model.ChangeCreated, "k1", "From another device"))
	if err != nil {
		t.Fatal(err)
	}
	if res != Applied {
		t.Errorf("result = %v, want Applied", res)
	}
	got, ok := store.get("k1")
	if !ok || got.Status != model.StatusSynced || got.Title != "From another device" {
		t.Errorf("local = %+v, %v", got, ok)
	}
}

func TestApply_UpdatedOverwritesSyncedAndPendingCreate(t *testing.T) {
	tests := []struct {
		name   string
		status model.SyncStatus
	}{
		{"synced", model.StatusSynced},
		{"pending create", model.StatusPendingCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore(newItem("k1", "Before", tt.status))
			e := newTestEngine(store, newMockRemote())

			res, err := e.Apply(context.Background(), notify(model.ChangeUpdated, "k1", "After"))
			if err != nil {
				t.Fatal(err)
			}
			if res != Applied {
				t.Errorf("result = %v, want Applied", res)
			}
			got, _ := store.get("k1")
			if got.Title != "After" || got.Status != model.StatusSynced {
				t.Errorf("local = %q/%v, want After/Synced", got.Title, got.Status)
			}
		})
	}
}

func TestApply_UnchangedIsSkipped(t *testing.T) {
	local := model.Item{ID: "k1", Title: "Same", Status: model.StatusSynced}
	store := newMockStore(local)
	e := newTestEngine(store, newMockRemote())

	res, err := e.Apply(context.Background(), model.Notification{Kind: model.ChangeUpdated, Item: model.Item{ID: "k1", Title: "Same"}})
	if err != nil {
		t.Fatal(err)
	}
	if res != SkippedUnchanged {
		t.Errorf("result = %v, want SkippedUnchanged", res)
	}
}

func TestApply_DeletedRemovesRegardlessOfStatus(t *testing.T) {
	for _, status := range []model.SyncStatus{
		model.StatusSynced, model.StatusPendingCreate, model.StatusPendingUpdate, model.StatusPendingDelete,
	} {
		t.Run(status.String(), func(t *testing.T) {
			store := newMockStore(newItem("k1", "Doomed", status))
			e := newTestEngine(store, newMockRemote())

			res, err := e.Apply(context.Background(), notify(model.ChangeDeleted, "k1", ""))
			if err != nil {
				t.Fatal(err)
			}
			if res != Applied {
				t.Errorf("result = %v, want Applied", res)
			}
			if _, ok := store.get("k1"); ok {
				t.Error("row should be gone")
			}
		})
	}
}

func TestApply_DeletedUnknownKeyIsNoOp(t *testing.T) {
	store := newMockStore(newItem("other", "Keep me", model.StatusSynced))
	e := newTestEngine(store, newMockRemote())

	if _, err := e.Apply(context.Background(), notify(model.ChangeDeleted, "missing", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.count() != 1 {
		t.Errorf("store count = %d, want 1", store.count())
	}
}

func TestApply_StoreErrorIsReturned(t *testing.T) {
	store := newMockStore()
	store.setFailWrites(true)
	e := newTestEngine(store, newMockRemote())

	res, err := e.Apply(context.Background(), notify(model.ChangeCreated, "k1", "x"))
	if !errors.Is(err, errStoreDown) {
		t.Errorf("err = %v, want errStoreDown", err)
	}
	if res != MergeFailed {
		t.Errorf("result = %v, want MergeFailed", res)
	}
}

func TestApply_FailedReadIsNotApplied(t *testing.T) {
	store := newMockStore(newItem("k1", "Mine", model.StatusSynced))
	store.failReads = true
	e := newTestEngine(store, newMockRemote())

	res, err := e.Apply(context.Background(), notify(model.ChangeUpdated, "k1", "Theirs"))
	if err == nil {
		t.Fatal("expected error")
	}
	if res == Applied {
		t.Error("a failed merge must not report Applied")
	}
}

func TestApply_UnknownKindFails(t *testing.T) {
	e := newTestEngine(newMockStore(), newMockRemote())

	res, err := e.Apply(context.Background(), notify(model.ChangeKind(99), "k1", "x"))
	if !errors.Is(err, model.ErrMalformedNotification) {
		t.Errorf("err = %v, want ErrMalformedNotification", err)
	}
	if res != MergeFailed {
		t.Errorf("result = %v, want MergeFailed", res)
	}
}

func TestMergeResult_String(t *testing.T) {
	tests := []struct {
		r    MergeResult
		want string
	}{
		{MergeFailed, "failed"},
		{Applied, "applied"},
		{SkippedInFlight, "skipped_in_flight"},
		{SkippedPending, "skipped_pending"},
		{SkippedUnchanged, "skipped_unchanged"},
		{MergeResult(42), "MergeResult(42)"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("MergeResult(%d).String() = %q, want %q", int(tt.r), got, tt.want)
		}
	}
}
