package chat

import "errors"

// Error taxonomy for the messaging core. Callers discriminate with errors.Is.
var (
	// ErrAuth means the caller presented a missing or invalid credential on
	// join or history fetch, or tried to join without a bound identity.
	// Surfaced directly to the caller; never retried internally.
	ErrAuth = errors.New("chat: unauthorized")

	// ErrValidation means a send was rejected before persistence (empty body,
	// missing sender/receiver, or no derivable room).
	ErrValidation = errors.New("chat: invalid message")

	// ErrDelivery means a live broadcast could not reach a recipient session.
	// Soft: the message remains durable and is recovered via history fetch.
	ErrDelivery = errors.New("chat: delivery failed")

	// ErrConnectionLoss is a transport-level disconnect. Recovery is re-join
	// plus a history re-fetch; there is no missed-event replay.
	ErrConnectionLoss = errors.New("chat: connection lost")
)
