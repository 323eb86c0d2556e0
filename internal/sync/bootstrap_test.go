package sync

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/njoerd114/itemrelay/internal/model"
)

func TestBootstrap_SkipsNonEmptyStore(t *testing.T) {
	store := newMockStore(newItem("k1", "Existing", model.StatusSynced))
	rem := newMockRemote(newItem("k2", "Remote", model.StatusSynced))

	var buf bytes.Buffer
	b := NewBootstrap(newTestEngine(store, rem), testLogger, &buf)
	ran, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("bootstrap should not run when the store is non-empty")
	}
	if _, ok := store.get("k2"); ok {
		t.Error("remote items must not be pulled into a non-empty store")
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestBootstrap_PullsIntoEmptyStore(t *testing.T) {
	done := newItem("k2", "Call plumber", model.StatusSynced)
	done.Completed = true
	rem := newMockRemote(newItem("k1", "Buy milk", model.StatusSynced), done)
	store := newMockStore()

	var output bytes.Buffer
	b := NewBootstrap(newTestEngine(store, rem), testLogger, &output)
	ran, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("bootstrap should have executed")
	}

	if store.count() != 2 {
		t.Errorf("store items = %d, want 2", store.count())
	}
	for _, id := range []string{"k1", "k2"} {
		if got, _ := store.get(id); got.Status != model.StatusSynced {
			t.Errorf("%s status = %v, want Synced", id, got.Status)
		}
	}

	summary := output.String()
	if !strings.Contains(summary, "Buy milk") || !strings.Contains(summary, "Call plumber") {
		t.Errorf("summary should list pulled items, got:\n%s", summary)
	}
	if !strings.Contains(summary, "Total: 2 items, 1 open") {
		t.Errorf("summary totals missing, got:\n%s", summary)
	}
}

func TestBootstrap_RemoteError(t *testing.T) {
	rem := newMockRemote()
	rem.setDown(true)

	b := NewBootstrap(newTestEngine(newMockStore(), rem), testLogger, &bytes.Buffer{})
	ran, err := b.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when the server is unreachable")
	}
	if ran {
		t.Error("ran should be false on error")
	}
}
