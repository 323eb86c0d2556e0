package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/njoerd114/itemrelay/internal/model"
)

func TestResync_PartialFailureIsRetry(t *testing.T) {
	store := newMockStore(
		newItem("a", "A", model.StatusPendingCreate),
		newItem("b", "B", model.StatusPendingCreate),
		newItem("c", "C", model.StatusPendingCreate),
	)
	rem := newMockRemote()
	rem.failFor("b")
	e := newTestEngine(store, rem)

	outcome, stats := NewResync(e, nil, testLogger).Run(context.Background())
	if outcome != OutcomeRetry {
		t.Errorf("outcome = %v, want retry", outcome)
	}
	if stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 2 succeeded, 1 failed", stats)
	}

	counts, _ := store.CountByStatus(context.Background())
	if counts[model.StatusSynced] != 2 {
		t.Errorf("synced = %d, want 2", counts[model.StatusSynced])
	}
	if counts[model.StatusPendingCreate] != 1 {
		t.Errorf("pending create = %d, want 1", counts[model.StatusPendingCreate])
	}
	if got, _ := store.get("b"); got.Status != model.StatusPendingCreate {
		t.Errorf("failed item status = %v, want PendingCreate", got.Status)
	}
}

func TestResync_AllKindsSucceed(t *testing.T) {
	upd := newItem("upd", "Renamed", model.StatusPendingUpdate)
	del := newItem("del", "Gone", model.StatusPendingDelete)
	store := newMockStore(
		newItem("new", "Fresh", model.StatusPendingCreate),
		upd,
		del,
		newItem("ok", "Untouched", model.StatusSynced),
	)
	rem := newMockRemote(newItem("upd", "Original", model.StatusSynced), del)
	e := newTestEngine(store, rem)

	outcome, stats := NewResync(e, nil, testLogger).Run(context.Background())
	if outcome != OutcomeSuccess {
		t.Errorf("outcome = %v, want success", outcome)
	}
	if stats.Pending != 3 || stats.Succeeded != 3 {
		t.Errorf("stats = %+v, want 3 pending, 3 succeeded", stats)
	}

	if r, _ := rem.get("upd"); r.Title != "Renamed" {
		t.Errorf("remote title = %q, want Renamed", r.Title)
	}
	if _, ok := rem.get("new"); !ok {
		t.Error("pending create not pushed")
	}
	if _, ok := rem.get("del"); ok {
		t.Error("pending delete not pushed")
	}
	if _, ok := store.get("del"); ok {
		t.Error("pending delete row not purged")
	}
	pending, _ := store.Pending(context.Background())
	if len(pending) != 0 {
		t.Errorf("still pending: %v", pending)
	}
}

func TestResync_AllFailIsFailure(t *testing.T) {
	store := newMockStore(
		newItem("a", "A", model.StatusPendingCreate),
		newItem("b", "B", model.StatusPendingUpdate),
	)
	rem := newMockRemote()
	rem.failFor("a", "b")
	e := newTestEngine(store, rem)

	outcome, stats := NewResync(e, nil, testLogger).Run(context.Background())
	if outcome != OutcomeFailure {
		t.Errorf("outcome = %v, want failure", outcome)
	}
	if stats.Failed != 2 {
		t.Errorf("failed = %d, want 2", stats.Failed)
	}
}

func TestResync_NothingPendingIsSuccess(t *testing.T) {
	e := newTestEngine(newMockStore(newItem("a", "A", model.StatusSynced)), newMockRemote())
	outcome, stats := NewResync(e, nil, testLogger).Run(context.Background())
	if outcome != OutcomeSuccess {
		t.Errorf("outcome = %v, want success", outcome)
	}
	if stats != (ResyncStats{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

func TestResync_OfflineSkipsPass(t *testing.T) {
	store := newMockStore(newItem("a", "A", model.StatusPendingCreate))
	rem := newMockRemote()
	rem.setDown(true)
	e := newTestEngine(store, rem)

	outcome, _ := NewResync(e, nil, testLogger).Run(context.Background())
	if outcome != OutcomeRetry {
		t.Errorf("outcome = %v, want retry", outcome)
	}
	if calls := rem.callLog(); len(calls) != 0 {
		t.Errorf("remote mutated while offline: %v", calls)
	}
}

func TestResync_CustomConnectivityCheck(t *testing.T) {
	store := newMockStore(newItem("a", "A", model.StatusPendingCreate))
	rem := newMockRemote()
	e := newTestEngine(store, rem)

	offline := func(context.Context) error { return errors.New("no network") }
	if outcome, _ := NewResync(e, offline, testLogger).Run(context.Background()); outcome != OutcomeRetry {
		t.Errorf("outcome = %v, want retry", outcome)
	}
	if len(rem.callLog()) != 0 {
		t.Error("no remote call expected while offline")
	}
}

func TestResync_StoreErrorIsRetry(t *testing.T) {
	store := newMockStore(newItem("a", "A", model.StatusPendingCreate))
	store.failReads = true
	e := newTestEngine(store, newMockRemote())

	if outcome, _ := NewResync(e, nil, testLogger).Run(context.Background()); outcome != OutcomeRetry {
		t.Errorf("outcome = %v, want retry", outcome)
	}
}

func TestResync_CreateConflictSendsUpdate(t *testing.T) {
	// The first create reached the server but its response was lost, and the
	// item was edited locally afterwards.
	store := newMockStore(newItem("a", "Edited", model.StatusPendingCreate))
	rem := newMockRemote(newItem("a", "Original", model.StatusSynced))
	e := newTestEngine(store, rem)

	outcome, _ := NewResync(e, nil, testLogger).Run(context.Background())
	if outcome != OutcomeSuccess {
		t.Errorf("outcome = %v, want success", outcome)
	}
	if got, _ := store.get("a"); got.Status != model.StatusSynced {
		t.Errorf("status = %v, want Synced", got.Status)
	}
	if r, _ := rem.get("a"); r.Title != "Edited" {
		t.Errorf("remote title = %q, want Edited", r.Title)
	}
	calls := rem.callLog()
	if len(calls) != 2 || calls[0] != "create a" || calls[1] != "update a" {
		t.Errorf("remote calls = %v, want [create a, update a]", calls)
	}
}

func TestResync_SkipsRowsThatMovedOn(t *testing.T) {
	store := newMockStore(newItem("a", "A", model.StatusPendingUpdate))
	rem := newMockRemote(newItem("a", "A", model.StatusSynced))
	e := newTestEngine(store, rem)

	// The row became Synced between the Pending() read and the replay.
	if err := store.UpdateStatus(context.Background(), "a", model.StatusSynced); err != nil {
		t.Fatal(err)
	}
	if err := e.SyncUpdate(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if len(rem.callLog()) != 0 {
		t.Errorf("remote calls = %v, want none", rem.callLog())
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeRetry, "retry"},
		{OutcomeFailure, "failure"},
		{Outcome(9), "Outcome(9)"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
