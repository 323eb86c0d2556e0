package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedNotification is returned by [DecodeNotification] for stream
// payloads that cannot be turned into a [Notification].
var ErrMalformedNotification = errors.New("malformed notification")

// ChangeKind tags a [Notification].
type ChangeKind int

const (
	// ChangeCreated reports an item created on the server.
	ChangeCreated ChangeKind = iota + 1
	// ChangeUpdated reports an item replaced on the server.
	ChangeUpdated
	// ChangeDeleted reports an item removed from the server.
	ChangeDeleted
)

// String returns the wire name of the kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

func parseChangeKind(s string) (ChangeKind, bool) {
	switch s {
	case "created":
		return ChangeCreated, true
	case "updated":
		return ChangeUpdated, true
	case "deleted":
		return ChangeDeleted, true
	default:
		return 0, false
	}
}

// Notification is one change pushed by the server over the event stream.
// Every kind carries the full item.
type Notification struct {
	Kind ChangeKind
	Item Item
}

// wireNotification is the JSON frame sent by the server:
//
//	{"type": "updated", "payload": {"_id": "...", "text": "...", ...}}
type wireNotification struct {
	Type    string `json:"type"`
	Payload *Item  `json:"payload"`
}

// DecodeNotification parses a single stream frame. Frames with an unknown
// type, no payload, or a payload without an id are reported as
// [ErrMalformedNotification].
func DecodeNotification(data []byte) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	kind, ok := parseChangeKind(w.Type)
	if !ok {
		return Notification{}, fmt.Errorf("%w: unknown type %q", ErrMalformedNotification, w.Type)
	}
	if w.Payload == nil || w.Payload.ID == "" {
		return Notification{}, fmt.Errorf("%w: %s event without item id", ErrMalformedNotification, w.Type)
	}
	return Notification{Kind: kind, Item: *w.Payload}, nil
}

// MarshalJSON encodes the notification in the server's wire format.
func (n Notification) MarshalJSON() ([]byte, error) {
	item := n.Item
	return json.Marshal(wireNotification{Type: n.Kind.String(), Payload: &item})
}
