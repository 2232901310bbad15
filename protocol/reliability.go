package protocol

import (
	"time"

	"pokeprotocol-go/pkg/logger"
)

// Contract constants from §4.2. Conforming implementations do not alter
// these.
const (
	TimeoutMS  = 500
	MaxRetries = 3
)

// retransmitEntry is one outstanding reliable send (§3's Retransmission
// buffer).
type retransmitEntry struct {
	payload []byte
	dest    string
	retries int
	timer   Timer
}

// Reliability turns unordered best-effort datagram I/O into an
// at-least-once, bounded-retry channel (§4.2). It is not itself
// thread-safe: every method must be called from the single serialized
// loop the owning Peer runs (§5); timer callbacks re-enter that loop via
// dispatch rather than mutating state from their own goroutine.
type Reliability struct {
	transport  Transport
	clock      Clock
	dispatch   func(func())
	onFatal    func(seq uint32)
	timeout    time.Duration
	maxRetries int

	nextSeq uint32
	buffer  map[uint32]*retransmitEntry
}

// NewReliability constructs a Reliability layer. dispatch must schedule its
// argument to run on the owning Peer's single loop goroutine — it is how
// timer fires re-enter serialized execution. onFatal is invoked (on the
// loop) when a sequence number exhausts MaxRetries without an ACK.
func NewReliability(transport Transport, clock Clock, dispatch func(func()), onFatal func(seq uint32)) *Reliability {
	return &Reliability{
		transport:  transport,
		clock:      clock,
		dispatch:   dispatch,
		onFatal:    onFatal,
		timeout:    TimeoutMS * time.Millisecond,
		maxRetries: MaxRetries,
		buffer:     make(map[uint32]*retransmitEntry),
	}
}

// nextSequence issues the next monotone sequence number for this sender,
// starting at 1 (invariant I1, property P2).
func (r *Reliability) nextSequence() uint32 {
	r.nextSeq++
	return r.nextSeq
}

// SendReliable assigns the next sequence number to f, encodes and
// transmits it once immediately, and registers it for bounded
// retransmission (§4.2 step 1-2).
func (r *Reliability) SendReliable(f *Frame, dst string) error {
	seq := r.nextSequence()
	f.SequenceNumber = &seq

	data, err := Encode(f)
	if err != nil {
		return err
	}
	if err := r.transport.Send(dst, data); err != nil {
		logger.Warn("reliability: initial send of seq %d to %s failed: %v", seq, dst, err)
	}

	entry := &retransmitEntry{payload: data, dest: dst}
	entry.timer = r.scheduleRetry(seq)
	r.buffer[seq] = entry
	return nil
}

func (r *Reliability) scheduleRetry(seq uint32) Timer {
	return r.clock.AfterFunc(r.timeout, func() {
		r.dispatch(func() { r.onTimeout(seq) })
	})
}

// onTimeout runs on the owning loop when a retry timer fires (§4.2 step 3).
func (r *Reliability) onTimeout(seq uint32) {
	entry, ok := r.buffer[seq]
	if !ok {
		return // already acknowledged
	}
	if entry.retries >= r.maxRetries {
		delete(r.buffer, seq)
		logger.Error("reliability: seq %d exhausted %d retries, fatal", seq, r.maxRetries)
		if r.onFatal != nil {
			r.onFatal(seq)
		}
		return
	}
	if err := r.transport.Send(entry.dest, entry.payload); err != nil {
		logger.Warn("reliability: retransmit of seq %d failed: %v", seq, err)
	}
	entry.retries++
	entry.timer = r.scheduleRetry(seq)
}

// SendAck immediately transmits an ACK for the given sequence number. ACKs
// bypass the retransmission buffer entirely (§4.2 "ACK emission"; invariant
// I2).
func (r *Reliability) SendAck(dst string, seq uint32) error {
	f := NewFrame(MsgAck)
	f.AckNumber = &seq
	data, err := Encode(f)
	if err != nil {
		return err
	}
	return r.transport.Send(dst, data)
}

// HandleAck processes an inbound ACK, cancelling the matching timer and
// clearing the buffer entry. An ACK for an unknown or already-cleared
// sequence number is an idempotent no-op (property P3).
func (r *Reliability) HandleAck(ackNumber uint32) {
	entry, ok := r.buffer[ackNumber]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(r.buffer, ackNumber)
}

// Pending reports how many reliable sends are still awaiting an ACK.
func (r *Reliability) Pending() int {
	return len(r.buffer)
}

// FatalClose cancels every outstanding timer and empties the buffer
// (§4.2 "Failure semantics"); no further retransmission occurs.
func (r *Reliability) FatalClose() {
	for seq, entry := range r.buffer {
		entry.timer.Stop()
		delete(r.buffer, seq)
	}
}
