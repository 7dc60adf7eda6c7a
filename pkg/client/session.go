// Package client is the consumer side of the messaging core: an explicitly
// constructed, owned session value with a connect → join → send/receive →
// disconnect lifecycle. Each logical session gets its own value; there is no
// shared global connection state.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
	"github.com/codeedexprojects/rigsdock-chat/pkg/otelhelper"
	"github.com/codeedexprojects/rigsdock-chat/pkg/transcript"
)

// Option configures a Session.
type Option func(*Session)

// WithDedup overrides the transcript dedup policy. The default keys on the
// server-assigned sequence number; the legacy timestamp policies remain
// available for consumers that still render the old views.
func WithDedup(keyFor transcript.KeyFunc) Option {
	return func(s *Session) { s.keyFor = keyFor }
}

// WithEventBuffer sizes the live event channel.
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.eventBuf = n }
}

// Session is one live connection bound to a participant (via its bearer
// token) and, at any instant, at most one room.
type Session struct {
	id       string
	nc       *nats.Conn
	ownsConn bool
	token    string
	keyFor   transcript.KeyFunc
	eventBuf int

	mu          sync.Mutex
	participant chat.Participant
	room        chat.RoomKey
	tr          *transcript.Transcript
	sub         *nats.Subscription
	events      chan chat.Message
	closed      bool
}

// Connect dials NATS with the bearer token and returns a fresh session. The
// token is also presented on join and history fetch, where the server binds
// it to (participant, role).
func Connect(natsURL, token string, opts ...Option) (*Session, error) {
	s := newSession(token, opts...)

	nc, err := nats.Connect(natsURL,
		nats.Token(token),
		nats.Name("chat-session-"+s.id),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("Session transport disconnected", "session", s.id, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrConnectionLoss, err)
	}
	s.nc = nc
	s.ownsConn = true
	return s, nil
}

// Attach wraps an existing NATS connection in a session. The caller keeps
// ownership of the connection.
func Attach(nc *nats.Conn, token string, opts ...Option) *Session {
	s := newSession(token, opts...)
	s.nc = nc
	return s
}

func newSession(token string, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		token:    token,
		keyFor:   transcript.BySeq,
		eventBuf: 64,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tr = transcript.New(s.keyFor)
	s.events = make(chan chat.Message, s.eventBuf)
	return s
}

// ID returns the session id used in deliver subjects.
func (s *Session) ID() string { return s.id }

// Participant returns the identity bound on the last successful join; the
// zero value before that.
func (s *Session) Participant() chat.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

// Join binds the session to a room and seeds the transcript from durable
// history. Joining a different room resets the transcript; re-joining the
// current room after a connection loss fetches only the delta past the last
// observed sequence, falling back to the dedup to absorb any overlap.
func (s *Session) Join(ctx context.Context, room chat.RoomKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chat.ErrConnectionLoss
	}

	req, _ := json.Marshal(chat.JoinRequest{SessionID: s.id, Room: room, Token: s.token})
	reply, err := otelhelper.TracedRequest(ctx, s.nc, chat.SubjectJoin, req)
	if err != nil {
		return fmt.Errorf("%w: join request: %v", chat.ErrConnectionLoss, err)
	}
	var ack chat.JoinReply
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return fmt.Errorf("decode join reply: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", chat.ErrAuth, ack.Error)
	}
	s.participant = ack.Participant

	// Subscribe before the history seed: anything broadcast between the join
	// and the seed fetch arrives either live or in the seed, and the dedup
	// absorbs the overlap.
	if s.sub == nil {
		sub, err := s.nc.Subscribe(chat.DeliverSubject(s.participant.ID, s.id), s.onDeliver)
		if err != nil {
			return fmt.Errorf("subscribe deliver subject: %w", err)
		}
		s.sub = sub
	}

	rejoin := s.room == room
	s.room = room

	after := int64(0)
	if rejoin {
		after = s.tr.LastSeq()
	}
	history, err := s.fetchHistory(ctx, room, after)
	if err != nil {
		return err
	}
	if rejoin {
		s.tr.Extend(history)
	} else {
		s.tr.Seed(history)
	}
	return nil
}

func (s *Session) fetchHistory(ctx context.Context, room chat.RoomKey, after int64) ([]chat.Message, error) {
	req, _ := json.Marshal(chat.HistoryRequest{Token: s.token, After: after})
	reply, err := otelhelper.TracedRequest(ctx, s.nc, chat.HistorySubject(room), req)
	if err != nil {
		return nil, fmt.Errorf("%w: history request: %v", chat.ErrConnectionLoss, err)
	}
	var resp chat.HistoryResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", chat.ErrAuth, resp.Error)
	}
	return resp.Messages, nil
}

// onDeliver handles one live event. Arrival order is preserved by the
// subscription; duplicates against the seeded history are suppressed by the
// transcript. Runs under the session mutex: Unsubscribe does not wait for an
// in-flight handler, so a late dispatch can race Disconnect and must observe
// closed before touching the events channel.
func (s *Session) onDeliver(m *nats.Msg) {
	var msg chat.Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		slog.Warn("Invalid delivery payload", "session", s.id, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.tr.Append(msg) {
		return
	}
	select {
	case s.events <- msg:
	default:
		slog.Warn("Event buffer full, dropping live event", "session", s.id, "seq", msg.Seq)
	}
}

// Send submits a message and waits for the persistence acknowledgment.
func (s *Session) Send(ctx context.Context, msg chat.Message) (chat.SendAck, error) {
	req, _ := json.Marshal(chat.SendRequest{SessionID: s.id, Message: msg})
	reply, err := otelhelper.TracedRequest(ctx, s.nc, chat.SubjectSend, req)
	if err != nil {
		return chat.SendAck{}, fmt.Errorf("%w: send request: %v", chat.ErrConnectionLoss, err)
	}
	var ack chat.SendAck
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return chat.SendAck{}, fmt.Errorf("decode send ack: %w", err)
	}
	if !ack.OK {
		return ack, fmt.Errorf("%w: %s", chat.ErrValidation, ack.Error)
	}
	return ack, nil
}

// Events is the stream of live messages accepted into the transcript.
func (s *Session) Events() <-chan chat.Message { return s.events }

// Transcript returns the merged, ordered, deduplicated view so far.
func (s *Session) Transcript() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Messages()
}

// LastSeq returns the resume cursor for the current room.
func (s *Session) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.LastSeq()
}

// Leave unbinds the session from its room. Safe to call at any time.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.room = ""
	data, _ := json.Marshal(chat.LeaveRequest{SessionID: s.id})
	return otelhelper.TracedPublish(ctx, s.nc, chat.SubjectLeave, data)
}

// Disconnect ends the session: announces the leave, drops the subscription,
// and closes the connection if this session owns it.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	data, _ := json.Marshal(chat.LeaveRequest{SessionID: s.id})
	if err := otelhelper.TracedPublish(ctx, s.nc, chat.SubjectLeave, data); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		slog.Warn("Failed to announce leave on disconnect", "session", s.id, "error", err)
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.ownsConn {
		s.nc.Drain()
	}
	close(s.events)
	return nil
}
