// Package chat defines the domain types shared by the RigsDock messaging
// services: participants, rooms, messages, and the error taxonomy.
package chat

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies which side of a conversation a participant is on.
// The values are part of the persisted record layout and must not change.
type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleVendor Role = "Vendor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleVendor
}

// Participant is an identified actor able to hold sessions. Identity is
// immutable for the lifetime of a session.
type Participant struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// RoomKey identifies one conversation. It is an independent value: nothing in
// the delivery path assumes it equals any participant id, even though the
// default derivation below produces the vendor-side id.
type RoomKey string

// RoomKeyFor derives the conversation key for a pair of participants. Every
// admin↔vendor exchange collapses onto one room per vendor, so the key is the
// vendor-side participant id — computed identically no matter which party
// asks.
func RoomKeyFor(a, b Participant) (RoomKey, error) {
	switch {
	case a.Role == RoleVendor && b.Role != RoleVendor:
		return RoomKey(a.ID), nil
	case b.Role == RoleVendor && a.Role != RoleVendor:
		return RoomKey(b.ID), nil
	case a.Role == RoleVendor && b.Role == RoleVendor:
		return "", fmt.Errorf("%w: both participants are vendors", ErrValidation)
	default:
		return "", fmt.Errorf("%w: no vendor-side participant", ErrValidation)
	}
}

// Message is one chat message. Seq is assigned by the durable log at
// persistence time and is the canonical dedup/ordering identifier; it is zero
// on a message that has not been persisted yet. The JSON field names are the
// stable persisted record layout consumed by history fetch.
type Message struct {
	Seq          int64     `json:"seq,omitempty"`
	Sender       string    `json:"sender"`
	SenderType   Role      `json:"senderType"`
	Receiver     string    `json:"receiver"`
	ReceiverType Role      `json:"receiverType"`
	Body         string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate checks the preconditions for ingest: sender, receiver and a
// non-empty body, with a recognized role on each side.
func (m Message) Validate() error {
	if m.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrValidation)
	}
	if m.Receiver == "" {
		return fmt.Errorf("%w: missing receiver", ErrValidation)
	}
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: empty body", ErrValidation)
	}
	if !m.SenderType.Valid() {
		return fmt.Errorf("%w: unknown sender type %q", ErrValidation, m.SenderType)
	}
	if !m.ReceiverType.Valid() {
		return fmt.Errorf("%w: unknown receiver type %q", ErrValidation, m.ReceiverType)
	}
	return nil
}

// Room derives the room this message belongs to from its sender/receiver
// pair.
func (m Message) Room() (RoomKey, error) {
	return RoomKeyFor(
		Participant{ID: m.Sender, Role: m.SenderType},
		Participant{ID: m.Receiver, Role: m.ReceiverType},
	)
}

// SendAck is the synchronous response to a send. It reflects the persistence
// outcome only; live delivery is best-effort and never flips OK to false.
type SendAck struct {
	OK        bool      `json:"ok"`
	Seq       int64     `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Error     string    `json:"error,omitempty"`
}
