package protocol

import "errors"

// Sentinel error kinds, per spec §7. The codec and state machines return
// malformed-frame and out-of-phase faults; Peer logs and drops them for
// inbound frames instead of passing them on. Duplicates are dropped by the
// state machines without an error.
var (
	// ErrMalformedFrame is returned by the codec when no message_type line
	// can be found, or a frame cannot otherwise be parsed.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownPokemon is a semantic fault surfaced to the user; it never
	// produces an outgoing packet.
	ErrUnknownPokemon = errors.New("protocol: unknown pokemon")

	// ErrUnknownMove is a semantic fault surfaced to the user; it never
	// produces an outgoing packet.
	ErrUnknownMove = errors.New("protocol: unknown move")

	// ErrOutOfPhase indicates a message valid on the wire but inappropriate
	// for the current state machine phase. Dropped with a warning.
	ErrOutOfPhase = errors.New("protocol: message out of phase")

	// ErrReliabilityExhausted is fatal: a reliable packet went
	// unacknowledged through MAX_RETRIES retransmissions.
	ErrReliabilityExhausted = errors.New("protocol: reliability exhausted")

	// ErrSessionClosed indicates the session has been torn down (fatal
	// reliability failure, idle timeout, or explicit Close). Reaching
	// GAME_OVER does not tear the session down.
	ErrSessionClosed = errors.New("protocol: session closed")
)
