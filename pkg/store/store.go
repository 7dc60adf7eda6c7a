// Package store holds the durable, append-only message log behind the ingest
// pipeline and history fetch. The PostgreSQL implementation is the production
// store; the in-memory one backs tests and single-process deployments.
package store

import (
	"context"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

// DefaultPageSize bounds a history page when the caller does not ask for
// everything. One extra row is fetched internally to detect hasMore without a
// COUNT query.
const DefaultPageSize = 25

// Query selects a slice of a room's log. Zero values mean unset.
//
// After returns messages with Seq > After, ascending — the delta-resume path
// for a reconnecting consumer. Before returns the page of messages with
// Seq < Before, ascending — backward pagination through older history. Limit
// caps the page; Limit 0 with no cursor returns the full log ascending (the
// seed fetch).
type Query struct {
	After  int64
	Before int64
	Limit  int
}

// Log is the durable per-room message log. Append assigns the server-side
// sequence number and must observe the per-room append order the pipeline
// serializes; History is a snapshot read and may run concurrently with
// appends.
type Log interface {
	Append(ctx context.Context, room chat.RoomKey, msg chat.Message) (chat.Message, error)
	History(ctx context.Context, room chat.RoomKey, q Query) ([]chat.Message, bool, error)
}
