package chat

// NATS subjects used by the messaging services. Deliver subjects are
// per-session so the auth callout can scope a participant's subscriptions to
// its own sessions.
const (
	SubjectJoin  = "chat.join"
	SubjectLeave = "chat.leave"
	SubjectSend  = "chat.send"

	historyPrefix = "chat.history."
	deliverPrefix = "deliver."
)

// HistorySubject returns the request/reply subject serving history for room.
func HistorySubject(room RoomKey) string {
	return historyPrefix + string(room)
}

// DeliverSubject returns the live delivery subject for one session. The
// participant id comes first so the auth callout can scope a subscription
// permission to "deliver.{participant}.>".
func DeliverSubject(participantID, sessionID string) string {
	return deliverPrefix + participantID + "." + sessionID
}

// JoinRequest binds a session to a room. Token is the caller's Keycloak
// bearer token; the chat service resolves it to (participant, role) before
// touching the registry.
type JoinRequest struct {
	SessionID string  `json:"sessionId"`
	Room      RoomKey `json:"roomKey"`
	Token     string  `json:"token"`
}

// JoinReply acknowledges a join. Participant is the identity the server
// bound from the token; the client needs it to subscribe to its deliver
// subject.
type JoinReply struct {
	OK          bool        `json:"ok"`
	Participant Participant `json:"participant,omitzero"`
	Error       string      `json:"error,omitempty"`
}

// LeaveRequest unbinds a session. Always safe, even if already unbound.
type LeaveRequest struct {
	SessionID string `json:"sessionId"`
}

// SendRequest carries a message plus the issuing session, so the fan-out can
// skip echoing the message back to the session that sent it.
type SendRequest struct {
	SessionID string  `json:"sessionId"`
	Message   Message `json:"message"`
}

// HistoryRequest fetches persisted messages for a room. After is a sequence
// cursor for delta resume on reconnect (only messages with Seq > After);
// Before pages backwards through older messages. Zero values mean unset.
type HistoryRequest struct {
	Token  string `json:"token"`
	After  int64  `json:"after,omitempty"`
	Before int64  `json:"before,omitempty"`
}

// HistoryResponse is the ordered ascending page of persisted messages.
type HistoryResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
	Error    string    `json:"error,omitempty"`
}
