// Package model defines the types shared by the local store, the remote
// clients, and the reconciliation engine.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority is the user-assigned importance of an item. The server stores it
// as a plain integer; the named levels exist for display only.
type Priority int

const (
	// PriorityNone indicates no priority is set.
	PriorityNone Priority = 0
	// PriorityLow is the lowest explicit level.
	PriorityLow Priority = 1
	// PriorityMedium is the middle level.
	PriorityMedium Priority = 2
	// PriorityHigh covers 3 and above.
	PriorityHigh Priority = 3
)

// String returns the human-readable label for the priority.
func (p Priority) String() string {
	switch {
	case p >= PriorityHigh:
		return "High"
	case p == PriorityMedium:
		return "Medium"
	case p == PriorityLow:
		return "Low"
	default:
		return "None"
	}
}

// SyncStatus records whether the local copy of an item has reached the
// server. It is local bookkeeping and never leaves the device.
type SyncStatus int

const (
	// StatusSynced means the server has acknowledged the current local state.
	StatusSynced SyncStatus = iota
	// StatusPendingCreate means the item was created locally and the remote
	// create has not succeeded yet.
	StatusPendingCreate
	// StatusPendingUpdate means a local edit has not reached the server.
	StatusPendingUpdate
	// StatusPendingDelete means the item is soft-deleted locally and waits for
	// the remote delete before it is purged.
	StatusPendingDelete
)

var statusNames = [...]string{
	StatusSynced:        "synced",
	StatusPendingCreate: "pending_create",
	StatusPendingUpdate: "pending_update",
	StatusPendingDelete: "pending_delete",
}

// String returns the storage name of the status.
func (s SyncStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("SyncStatus(%d)", int(s))
	}
	return statusNames[s]
}

// IsPending reports whether the item still has to be replayed against the
// server.
func (s SyncStatus) IsPending() bool {
	return s != StatusSynced
}

// ParseSyncStatus converts a storage name back into a SyncStatus.
func ParseSyncStatus(name string) (SyncStatus, error) {
	for i, n := range statusNames {
		if n == name {
			return SyncStatus(i), nil
		}
	}
	return StatusSynced, fmt.Errorf("unknown sync status %q", name)
}

// Item is a single to-do record. The JSON tags follow the server's wire
// format; Status is excluded from it.
type Item struct {
	// ID is generated on the client at creation time and is the same key
	// locally and remotely.
	ID string `json:"_id"`

	// Title is the short display text.
	Title string `json:"text"`

	// Description is free-form body text.
	Description string `json:"description"`

	// DueDate is when the item is due. Nil means no due date.
	DueDate *time.Time `json:"dueDate,omitempty"`

	Priority Priority `json:"priority"`

	Completed bool `json:"isCompleted"`

	Status SyncStatus `json:"-"`
}

// NewID returns a fresh, time-ordered item key.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// WithStatus returns a copy of the item carrying the given status.
func (i Item) WithStatus(s SyncStatus) Item {
	i.Status = s
	return i
}

// ContentHash returns a deterministic SHA-256 hex digest of the user-visible
// fields. ID and Status are excluded, so two copies of the same item that
// differ only in sync bookkeeping hash equal.
func (i *Item) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(i.Title))
	h.Write([]byte("|"))
	h.Write([]byte(i.Description))
	h.Write([]byte("|"))
	if i.DueDate != nil {
		h.Write([]byte(i.DueDate.UTC().Format(time.RFC3339Nano)))
	}
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%d", i.Priority)
	h.Write([]byte("|"))
	_, _ = fmt.Fprintf(h, "%t", i.Completed)
	return hex.EncodeToString(h.Sum(nil))
}
