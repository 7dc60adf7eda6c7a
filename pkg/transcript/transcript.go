// Package transcript merges a room's durable history with its live event
// stream into one ordered, duplicate-free view for a single consumer. The
// transcript is consumer-local state; the durable log stays authoritative.
package transcript

import (
	"strconv"
	"sync"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

// KeyFunc produces the dedup key used to recognize that a live-delivered
// message and a history-fetched message are the same logical message.
type KeyFunc func(chat.Message) string

// BySeq keys on the server-assigned sequence number. This is the default:
// the sequence is attached at persistence time and unique per message, so two
// distinct messages never collide.
func BySeq(m chat.Message) string {
	return strconv.FormatInt(m.Seq, 10)
}

// ByTimestamp is the legacy vendor-view policy: the wall-clock timestamp
// alone. Known fragile — two distinct messages created within the same clock
// resolution unit collide and the later arrival is silently dropped from the
// merged view.
func ByTimestamp(m chat.Message) string {
	return strconv.FormatInt(m.Timestamp.UnixMilli(), 10)
}

// ByTimestampSender is the legacy admin-view policy: timestamp plus sender
// identity. Narrower than ByTimestamp but still collides for two messages
// from one sender in the same millisecond.
func ByTimestampSender(m chat.Message) string {
	return strconv.FormatInt(m.Timestamp.UnixMilli(), 10) + "|" + m.Sender
}

// Transcript is one session's merged view of one room.
type Transcript struct {
	mu      sync.RWMutex
	keyFor  KeyFunc
	seen    map[string]bool
	msgs    []chat.Message
	lastSeq int64
}

// New creates an empty transcript. A nil keyFor defaults to BySeq.
func New(keyFor KeyFunc) *Transcript {
	if keyFor == nil {
		keyFor = BySeq
	}
	return &Transcript{
		keyFor: keyFor,
		seen:   make(map[string]bool),
	}
}

// Seed replaces the transcript with a freshly fetched history, in the order
// the store returned it. Called on join and on every re-join after a
// disconnect.
func (t *Transcript) Seed(history []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.msgs = t.msgs[:0]
	t.seen = make(map[string]bool, len(history))
	t.lastSeq = 0
	for _, m := range history {
		t.append(m)
	}
}

// Extend appends a delta page fetched with a sequence cursor, deduplicating
// against what is already present.
func (t *Transcript) Extend(history []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range history {
		t.append(m)
	}
}

// Append adds a live-arriving message in arrival order. It reports false when
// the message was suppressed because an entry with the same dedup key is
// already present.
func (t *Transcript) Append(m chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.append(m)
}

// append assumes the write lock is held.
func (t *Transcript) append(m chat.Message) bool {
	key := t.keyFor(m)
	if t.seen[key] {
		return false
	}
	t.seen[key] = true
	t.msgs = append(t.msgs, m)
	if m.Seq > t.lastSeq {
		t.lastSeq = m.Seq
	}
	return true
}

// Messages returns a copy of the merged view in order.
func (t *Transcript) Messages() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]chat.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len reports the number of entries in the merged view.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// LastSeq returns the highest sequence number observed, usable as the After
// cursor for a delta fetch on reconnect. Zero when nothing with a sequence
// has been seen.
func (t *Transcript) LastSeq() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeq
}
