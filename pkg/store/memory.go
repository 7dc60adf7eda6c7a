package store

import (
	"context"
	"sync"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

// MemoryLog is an in-memory Log. Sequence numbers are store-wide, so they are
// strictly increasing within every room.
type MemoryLog struct {
	mu    sync.RWMutex
	seq   int64
	rooms map[chat.RoomKey][]chat.Message
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{rooms: make(map[chat.RoomKey][]chat.Message)}
}

// Append stores a copy of msg with the next sequence number and returns it.
func (l *MemoryLog) Append(_ context.Context, room chat.RoomKey, msg chat.Message) (chat.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	msg.Seq = l.seq
	l.rooms[room] = append(l.rooms[room], msg)
	return msg, nil
}

// History returns the selected slice of the room's log in append order.
func (l *MemoryLog) History(_ context.Context, room chat.RoomKey, q Query) ([]chat.Message, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.rooms[room]

	var selected []chat.Message
	switch {
	case q.After > 0:
		for _, m := range all {
			if m.Seq > q.After {
				selected = append(selected, m)
			}
		}
	case q.Before > 0:
		for _, m := range all {
			if m.Seq < q.Before {
				selected = append(selected, m)
			}
		}
	default:
		selected = append(selected, all...)
	}

	hasMore := false
	if q.Limit > 0 && len(selected) > q.Limit {
		hasMore = true
		if q.Before > 0 {
			// Backward paging keeps the newest Limit rows of the older slice.
			selected = selected[len(selected)-q.Limit:]
		} else {
			selected = selected[:q.Limit]
		}
	}

	out := make([]chat.Message, len(selected))
	copy(out, selected)
	return out, hasMore, nil
}
