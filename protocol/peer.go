package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pokeprotocol-go/pkg/logger"
)

// idleTimeoutFactor is how many TIMEOUT_MS windows of total silence from a
// peer are tolerated before the session is torn down as if reliability had
// been exhausted (supplemented feature: idle/keepalive detection).
const idleTimeoutFactor = 10

// UserInputKind enumerates the choices the embedding application can feed
// into a Peer through SubmitMove/SubmitChat — the out-of-core `UserInput`
// channel named in §1.
type UserInputKind int

const (
	InputSubmitMove UserInputKind = iota
	InputChatMessage
)

// Peer is the Glue layer (§2's sixth component): it routes datagrams
// through Codec → Reliability → the connection/turn state machines →
// Calculator, and exposes the Event channel outward. It is the package's
// entry point; everything else in this package exists to be wired together
// here.
type Peer struct {
	id uuid.UUID

	session *Session
	conn    *ConnectionSM
	turn    *TurnSM
	rel     *Reliability

	transport Transport
	clock     Clock

	events     *EventEmitter
	spectators map[string]struct{}

	work chan func()

	lastActivity time.Time
	idleTimer    Timer
	closed       bool
}

// NewPeer constructs a Peer around a role, local identity, stats
// repository and Transport/Clock pair. The Transport/Clock dependency
// inversion (§9 "Cyclic dependencies") lets tests drive the exact same
// code path with InMemoryTransport/FakeClock instead of real sockets.
func NewPeer(role Role, selfPeerID string, teamPreview []string, repo PokemonStatsRepository, transport Transport, clock Clock) *Peer {
	p := &Peer{
		id:         uuid.New(),
		session:    NewSession(role, selfPeerID, teamPreview, repo),
		conn:       NewConnectionSM(),
		turn:       NewTurnSM(),
		transport:  transport,
		clock:      clock,
		events:     NewEventEmitter(),
		spectators: make(map[string]struct{}),
		work:       make(chan func(), 256),
	}
	p.rel = NewReliability(transport, clock, p.dispatch, p.onReliabilityFatal)
	return p
}

// OnEvent registers a handler on the outward Event channel.
func (p *Peer) OnEvent(h EventHandler) { p.events.Register(h) }

// SubmitSetup records the local combatant's choice. Must be called before
// Dial/Listen (§4.3).
func (p *Peer) SubmitSetup(pokemonName string, boosts StatBoosts) error {
	return p.conn.SubmitSetup(p.session, pokemonName, boosts)
}

// Dial begins a session as JOINER or SPECTATOR against dst.
func (p *Peer) Dial(dst string) error {
	p.session.RemoteAddr = dst
	frame, err := p.conn.Start(p.session)
	if err != nil {
		return err
	}
	if frame != nil {
		return p.rel.SendReliable(frame, dst)
	}
	return nil
}

// Listen prepares a HOST session to accept an inbound HANDSHAKE_REQUEST.
func (p *Peer) Listen() error {
	_, err := p.conn.Start(p.session)
	return err
}

// Run services inbound datagrams and timer expirations from a single
// queue, in arrival order (§5). It blocks until ctx is cancelled, the
// transport's Receive fails, or the session is torn down (fatal reliability
// failure, idle timeout, or Close), in which case it returns
// ErrSessionClosed. Reaching GAME_OVER does not by itself end Run.
func (p *Peer) Run(ctx context.Context) error {
	p.lastActivity = p.clock.Now()
	p.scheduleIdleCheck()

	recvDone := make(chan error, 1)
	go p.receiveLoop(ctx, recvDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-recvDone:
			return err
		case fn := <-p.work:
			fn()
			if p.closed {
				return ErrSessionClosed
			}
		}
	}
}

func (p *Peer) receiveLoop(ctx context.Context, done chan<- error) {
	for {
		data, src, err := p.transport.Receive(ctx)
		if err != nil {
			done <- err
			return
		}
		payload, source := data, src
		p.dispatch(func() { p.onDatagram(payload, source) })
	}
}

// dispatch schedules fn to run on the single loop goroutine — this is how
// timer callbacks (which fire on their own goroutine under RealClock)
// re-enter serialized execution, and how the receive loop hands off
// decoded datagrams.
func (p *Peer) dispatch(fn func()) {
	p.work <- fn
}

func (p *Peer) onDatagram(data []byte, src string) {
	p.lastActivity = p.clock.Now()

	header, err := ParseHeader(data)
	if err != nil {
		logger.Warn("peer %s: dropping unparseable datagram from %s: %v", p.id, src, err)
		return
	}

	if header.Type == MsgAck {
		if header.AckNumber == nil {
			logger.Warn("peer %s: ACK from %s missing ack_number", p.id, src)
			return
		}
		p.rel.HandleAck(*header.AckNumber)
		return
	}

	// A reliable frame may piggyback its own ack_number (e.g. HANDSHAKE_RESPONSE
	// acking the HANDSHAKE_REQUEST's sequence_number); that must be processed
	// before the payload is interpreted (spec.md §4.2 "Piggybacking").
	if header.AckNumber != nil {
		p.rel.HandleAck(*header.AckNumber)
	}

	if header.SequenceNumber != nil && *header.SequenceNumber > 0 {
		if err := p.rel.SendAck(src, *header.SequenceNumber); err != nil {
			logger.Warn("peer %s: failed to ack seq %d to %s: %v", p.id, *header.SequenceNumber, src, err)
		}
	}

	frame, err := Decode(data)
	if err != nil {
		logger.Warn("peer %s: %v", p.id, err)
		p.emit(Event{Type: EventWarning, Message: err.Error()})
		return
	}
	p.routeFrame(frame, src)
}

func (p *Peer) routeFrame(f *Frame, src string) {
	switch f.Type {
	case MsgChatMessage:
		ev, err := p.turn.HandleChatMessage(f)
		if err != nil {
			logger.Warn("peer %s: %v", p.id, err)
			return
		}
		p.emit(ev)
		p.relayChatToSpectators(ev)
	case MsgHandshakeRequest, MsgHandshakeResponse, MsgBattleSetup, MsgSpectatorRequest:
		outbound, events, err := p.conn.HandleFrame(p.session, f, src)
		p.finish(outbound, src, events, err)
		if f.Type == MsgSpectatorRequest {
			p.spectators[src] = struct{}{}
		}
	default:
		outbound, events, err := p.turn.HandleFrame(p.session, f)
		p.finish(outbound, src, events, err)
	}
}

// finish is the shared tail of every routing branch: log-and-drop a
// protocol-internal fault (§7 propagation policy), or emit events and send
// whatever the state machine produced.
func (p *Peer) finish(outbound []*Frame, dst string, events []Event, err error) {
	if err != nil {
		logger.Warn("peer %s: %v", p.id, err)
		if !errors.Is(err, ErrOutOfPhase) && !errors.Is(err, ErrMalformedFrame) {
			p.emit(Event{Type: EventWarning, Message: err.Error()})
		}
		return
	}
	for _, ev := range events {
		p.emit(ev)
	}
	for _, fr := range outbound {
		if err := p.rel.SendReliable(fr, dst); err != nil {
			logger.Warn("peer %s: send to %s failed: %v", p.id, dst, err)
		}
	}
}

func (p *Peer) emit(ev Event) {
	ev.Timestamp = p.clock.Now().UnixMilli()
	p.events.Trigger(ev)
}

// relayChatToSpectators forwards a chat event on to every registered
// spectator as a fresh CHAT_MESSAGE (supplemented feature: spectator
// fan-out registry). A new Frame is built per destination because
// SendReliable mutates its SequenceNumber.
func (p *Peer) relayChatToSpectators(ev Event) {
	msg, ok := ev.Data.(ChatMessage)
	if !ok {
		return
	}
	for addr := range p.spectators {
		if addr == ev.PeerID {
			continue
		}
		if err := p.rel.SendReliable(msg.ToFrame(), addr); err != nil {
			logger.Warn("peer %s: chat relay to spectator %s failed: %v", p.id, addr, err)
		}
	}
}

// SubmitMove enqueues a user-chosen move onto the single loop and blocks
// for the outcome (§4.4 step 1).
func (p *Peer) SubmitMove(moveName string) error {
	result := make(chan error, 1)
	p.dispatch(func() {
		frame, events, err := p.turn.SubmitMove(p.session, moveName)
		if err != nil {
			result <- err
			return
		}
		for _, ev := range events {
			p.emit(ev)
		}
		result <- p.rel.SendReliable(frame, p.session.RemoteAddr)
	})
	return <-result
}

// SubmitChat sends a chat message to the opponent and every registered
// spectator, echoing it to the local Event channel immediately
// (supplemented feature: CHAT_MESSAGE local echo guard).
func (p *Peer) SubmitChat(contentType, text, stickerData string) error {
	result := make(chan error, 1)
	p.dispatch(func() {
		msg := ChatMessage{SenderName: p.session.SelfPeerID, ContentType: contentType, MessageText: text, StickerData: stickerData}
		p.emit(Event{Type: EventChat, PeerID: p.session.SelfPeerID, Message: text, Data: msg})

		var firstErr error
		if p.session.RemoteAddr != "" {
			if err := p.rel.SendReliable(msg.ToFrame(), p.session.RemoteAddr); err != nil {
				firstErr = err
			}
		}
		for addr := range p.spectators {
			if err := p.rel.SendReliable(msg.ToFrame(), addr); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		result <- firstErr
	})
	return <-result
}

func (p *Peer) scheduleIdleCheck() {
	p.idleTimer = p.clock.AfterFunc(idleTimeoutFactor*TimeoutMS*time.Millisecond, func() {
		p.dispatch(p.checkIdle)
	})
}

func (p *Peer) checkIdle() {
	if p.closed {
		return
	}
	limit := idleTimeoutFactor * TimeoutMS * time.Millisecond
	elapsed := p.clock.Now().Sub(p.lastActivity)
	if elapsed >= limit {
		logger.Error("peer %s: no activity for %s, closing session", p.id, elapsed)
		p.teardown("idle timeout exceeded")
		return
	}
	p.idleTimer = p.clock.AfterFunc(limit-elapsed, func() { p.dispatch(p.checkIdle) })
}

// onReliabilityFatal is Reliability's onFatal callback (§4.2 "Failure
// semantics"); it always runs on the single loop via dispatch.
func (p *Peer) onReliabilityFatal(seq uint32) {
	p.teardown(fmt.Sprintf("reliability exhausted for sequence %d", seq))
}

func (p *Peer) teardown(reason string) {
	if p.closed {
		return
	}
	p.closed = true
	p.rel.FatalClose()
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.emit(Event{Type: EventConnectionStatus, PeerID: p.session.RemotePeerID, Message: "session closed: " + reason})
	if err := p.transport.Close(); err != nil {
		logger.Warn("peer %s: transport close: %v", p.id, err)
	}
}

// Close tears the session down explicitly (§3 Lifecycle "destroyed on ...
// explicit close"), from outside the loop goroutine.
func (p *Peer) Close() {
	done := make(chan struct{})
	p.dispatch(func() {
		p.teardown("explicit close")
		close(done)
	})
	<-done
}
