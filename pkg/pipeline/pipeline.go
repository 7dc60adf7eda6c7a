// Package pipeline is the message ingest & delivery path: validate, stamp,
// persist, fan out. Appends are serialized per room so the durable order and
// the broadcast order never diverge; the acknowledgment reflects persistence
// only.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
	"github.com/codeedexprojects/rigsdock-chat/pkg/registry"
	"github.com/codeedexprojects/rigsdock-chat/pkg/store"
)

// Broadcaster delivers one persisted message to one session. Implementations
// publish to the session's deliver subject; an error is a soft delivery
// failure, never a send failure.
type Broadcaster interface {
	Deliver(ctx context.Context, session registry.Session, msg chat.Message) error
}

// KeyFunc derives the room key for a message. The default derivation
// collapses an admin↔vendor pair onto the vendor-side participant id.
type KeyFunc func(chat.Message) (chat.RoomKey, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the server clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithKeyFunc overrides room-key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(p *Pipeline) { p.keyFor = fn }
}

// WithBreaker tunes the per-session delivery circuit breaker.
func WithBreaker(threshold, cooldownSeconds int) Option {
	return func(p *Pipeline) {
		p.breakerThreshold = threshold
		p.breakerCooldown = cooldownSeconds
	}
}

// Pipeline wires the durable log, the session registry, and a broadcaster
// into the Send operation.
type Pipeline struct {
	log    store.Log
	reg    *registry.Registry
	bc     Broadcaster
	keyFor KeyFunc
	now    func() time.Time

	roomMu    sync.Mutex
	roomLocks map[chat.RoomKey]*roomLock

	breakerMu        sync.Mutex
	breakers         map[string]*CircuitBreaker
	breakerThreshold int
	breakerCooldown  int

	sendCounter    metric.Int64Counter
	deliverCounter metric.Int64Counter
	deliverErrors  metric.Int64Counter
	sendDuration   metric.Float64Histogram
}

func New(log store.Log, reg *registry.Registry, bc Broadcaster, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:              log,
		reg:              reg,
		bc:               bc,
		keyFor:           chat.Message.Room,
		now:              time.Now,
		roomLocks:        make(map[chat.RoomKey]*roomLock),
		breakers:         make(map[string]*CircuitBreaker),
		breakerThreshold: 5,
		breakerCooldown:  30,
	}
	for _, opt := range opts {
		opt(p)
	}

	meter := otel.Meter("chat-pipeline")
	p.sendCounter, _ = meter.Int64Counter("chat_sends_total",
		metric.WithDescription("Total send attempts by result"))
	p.deliverCounter, _ = meter.Int64Counter("chat_deliveries_total",
		metric.WithDescription("Total live deliveries fanned out to sessions"))
	p.deliverErrors, _ = meter.Int64Counter("chat_delivery_errors_total",
		metric.WithDescription("Live deliveries that failed or were skipped by an open breaker"))
	p.sendDuration, _ = meter.Float64Histogram("chat_send_duration_seconds",
		metric.WithDescription("Duration of Send including persistence and fan-out"))
	return p
}

// Send validates, stamps, persists, and fans out one message from the given
// session. The returned ack is success once persistence completes; fan-out
// problems are logged and counted but never fail the send. The returned error
// mirrors a failure ack and satisfies errors.Is against the chat taxonomy.
func (p *Pipeline) Send(ctx context.Context, originSession string, msg chat.Message) (chat.SendAck, error) {
	start := time.Now()

	if err := msg.Validate(); err != nil {
		p.sendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "invalid")))
		return chat.SendAck{Error: err.Error()}, err
	}
	room, err := p.keyFor(msg)
	if err != nil {
		p.sendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "invalid")))
		return chat.SendAck{Error: err.Error()}, err
	}

	// Single-writer discipline: everything from stamping to fan-out happens
	// under the room lock, so two concurrent sends to the same room can never
	// interleave the durable order and the broadcast order differently.
	lock := p.lockRoom(room)
	defer p.unlockRoom(room, lock)

	if msg.Timestamp.IsZero() {
		msg.Timestamp = p.now().UTC()
	}

	persisted, err := p.log.Append(ctx, room, msg)
	if err != nil {
		p.sendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "store_error")))
		return chat.SendAck{Error: "persistence failed"}, fmt.Errorf("append to room %s: %w", room, err)
	}

	p.broadcast(ctx, room, originSession, persisted)

	p.sendCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", "ok"),
		attribute.String("room", string(room)),
	))
	p.sendDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("room", string(room))))

	return chat.SendAck{OK: true, Seq: persisted.Seq, Timestamp: persisted.Timestamp}, nil
}

// broadcast fans the persisted message out to the room's current members,
// skipping the session that issued the send. Deliver calls are
// fire-and-forget publishes; a failed recipient is tracked by its breaker and
// recovers through history fetch.
func (p *Pipeline) broadcast(ctx context.Context, room chat.RoomKey, originSession string, msg chat.Message) {
	members := p.reg.MembersOf(room)
	for _, s := range members {
		if s.ID == originSession {
			continue
		}

		cb := p.breaker(s.ID)
		if !cb.Allow() {
			p.deliverErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "breaker_open")))
			slog.DebugContext(ctx, "Skipped delivery, breaker open", "session", s.ID, "room", room)
			continue
		}

		if err := p.bc.Deliver(ctx, s, msg); err != nil {
			cb.RecordFailure()
			p.deliverErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "publish_error")))
			slog.WarnContext(ctx, "Live delivery failed", "session", s.ID, "room", room,
				"error", errors.Join(chat.ErrDelivery, err))
			continue
		}
		cb.RecordSuccess()
		p.deliverCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("room", string(room))))
	}
}

// roomLock is a per-room mutex with a count of in-flight sends, so the map
// entry can be pruned once the last holder releases it instead of growing
// with every room ever seen.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

func (p *Pipeline) lockRoom(room chat.RoomKey) *roomLock {
	p.roomMu.Lock()
	lock, ok := p.roomLocks[room]
	if !ok {
		lock = &roomLock{}
		p.roomLocks[room] = lock
	}
	lock.refs++
	p.roomMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (p *Pipeline) unlockRoom(room chat.RoomKey, lock *roomLock) {
	lock.mu.Unlock()

	p.roomMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(p.roomLocks, room)
	}
	p.roomMu.Unlock()
}

func (p *Pipeline) breaker(sessionID string) *CircuitBreaker {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()
	cb, ok := p.breakers[sessionID]
	if !ok {
		cb = NewCircuitBreaker(p.breakerThreshold, p.breakerCooldown)
		p.breakers[sessionID] = cb
	}
	return cb
}

// Forget drops the breaker state for a departed session.
func (p *Pipeline) Forget(sessionID string) {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()
	delete(p.breakers, sessionID)
}
