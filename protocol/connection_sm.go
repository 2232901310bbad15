package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"pokeprotocol-go/pkg/logger"
)

// ConnectionSM drives the pre-battle handshake and setup exchange (§4.3) as
// an explicit (state, incoming_message_type) → (new_state, action) table,
// per §9's "coroutine-free turn logic" note — there is no hidden "we are in
// phase X" branching buried in a callback. It holds no state of its own;
// every method operates on the *Session passed in, so a peer driving many
// concurrent sessions shares one ConnectionSM value.
type ConnectionSM struct{}

// NewConnectionSM returns a stateless connection state machine.
func NewConnectionSM() *ConnectionSM { return &ConnectionSM{} }

// SubmitSetup records the local combatant choice. It must be called before
// Start for HOST and JOINER roles — both sides are expected to know their
// own Pokémon before a session begins, matching the teacher's pattern of
// resolving a player's selection before entering the connection flow.
func (sm *ConnectionSM) SubmitSetup(s *Session, pokemonName string, boosts StatBoosts) error {
	base, err := s.Repo.BaseStats(pokemonName)
	if err != nil {
		return err
	}
	s.SelfPokemonName = pokemonName
	s.SelfBoosts = boosts
	s.Battle.Local = Side{PokemonName: pokemonName, Base: base, CurrentHP: base.HP, Boosts: boosts}
	return nil
}

// Start issues the role-appropriate opening action: JOINER sends
// HANDSHAKE_REQUEST, SPECTATOR sends SPECTATOR_REQUEST, HOST sends nothing
// and waits (§4.3).
func (sm *ConnectionSM) Start(s *Session) (*Frame, error) {
	switch s.Role {
	case RoleJoiner:
		if s.ConnState != ConnDisconnected {
			return nil, fmt.Errorf("%w: connection already started", ErrOutOfPhase)
		}
		s.ConnState = ConnInitSent
		req := HandshakeRequest{PeerID: s.SelfPeerID, TeamPreview: s.TeamPreview}
		return req.ToFrame(), nil
	case RoleSpectator:
		s.ConnState = ConnSpectating
		req := SpectatorRequest{PeerID: s.SelfPeerID}
		return req.ToFrame(), nil
	case RoleHost:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrOutOfPhase, s.Role)
	}
}

// HandleFrame processes one inbound connection-phase frame, returning any
// frames the caller must send reliably (in order) and any events to emit.
// A frame this state machine has no transition for is reported as
// ErrOutOfPhase; callers log it as a warning and drop it (§4.3
// "Idempotence").
func (sm *ConnectionSM) HandleFrame(s *Session, f *Frame, src string) ([]*Frame, []Event, error) {
	switch f.Type {
	case MsgHandshakeRequest:
		return sm.handleHandshakeRequest(s, f, src)
	case MsgHandshakeResponse:
		return sm.handleHandshakeResponse(s, f, src)
	case MsgBattleSetup:
		return sm.handleBattleSetup(s, f)
	case MsgSpectatorRequest:
		return sm.handleSpectatorRequest(s, f, src)
	default:
		return nil, nil, fmt.Errorf("%w: connection SM has no transition for %s", ErrOutOfPhase, f.Type)
	}
}

func (sm *ConnectionSM) handleHandshakeRequest(s *Session, f *Frame, src string) ([]*Frame, []Event, error) {
	if s.Role != RoleHost {
		return nil, nil, fmt.Errorf("%w: HANDSHAKE_REQUEST received by non-host", ErrOutOfPhase)
	}
	if s.ConnState != ConnDisconnected {
		logger.Warn("session %s: duplicate HANDSHAKE_REQUEST from %s, dropping", s.SelfPeerID, src)
		return nil, nil, nil // ACK already re-emitted by the reliability layer
	}
	req, err := HandshakeRequestFromFrame(f)
	if err != nil {
		return nil, nil, err
	}
	if f.SequenceNumber == nil {
		return nil, nil, fmt.Errorf("%w: HANDSHAKE_REQUEST missing sequence_number", ErrMalformedFrame)
	}

	seed, err := randomSeed()
	if err != nil {
		return nil, nil, fmt.Errorf("generating session seed: %w", err)
	}

	s.RemotePeerID = req.PeerID
	s.RemoteAddr = src
	s.Battle.Seed = seed
	s.RNG = NewRNG(seed)
	s.ConnState = ConnSetupExchanging

	resp := HandshakeResponse{Seed: seed, PeerID: s.SelfPeerID, TeamPreview: s.TeamPreview}
	respFrame := resp.ToFrame()
	respFrame.AckNumber = u32ptr(*f.SequenceNumber)

	outbound := []*Frame{respFrame}
	events := []Event{{Type: EventConnectionStatus, PeerID: req.PeerID, Message: "handshake received"}}

	if s.SelfPokemonName != "" && !s.SentSetup {
		setup := BattleSetup{CommunicationMode: "P2P", PokemonName: s.SelfPokemonName, StatBoosts: s.SelfBoosts}
		outbound = append(outbound, setup.ToFrame())
		s.SentSetup = true
	}
	return outbound, events, nil
}

func (sm *ConnectionSM) handleHandshakeResponse(s *Session, f *Frame, src string) ([]*Frame, []Event, error) {
	if s.Role != RoleJoiner || s.ConnState != ConnInitSent {
		return nil, nil, fmt.Errorf("%w: unexpected HANDSHAKE_RESPONSE", ErrOutOfPhase)
	}
	resp, err := HandshakeResponseFromFrame(f)
	if err != nil {
		return nil, nil, err
	}

	s.RemotePeerID = resp.PeerID
	s.RemoteAddr = src
	s.Battle.Seed = resp.Seed
	s.RNG = NewRNG(resp.Seed)
	s.ConnState = ConnSetupExchanging

	events := []Event{{Type: EventConnectionStatus, PeerID: resp.PeerID, Message: "handshake complete"}}

	var outbound []*Frame
	if s.SelfPokemonName != "" && !s.SentSetup {
		setup := BattleSetup{CommunicationMode: "P2P", PokemonName: s.SelfPokemonName, StatBoosts: s.SelfBoosts}
		outbound = append(outbound, setup.ToFrame())
		s.SentSetup = true
	}
	return outbound, events, nil
}

func (sm *ConnectionSM) handleBattleSetup(s *Session, f *Frame) ([]*Frame, []Event, error) {
	if s.ConnState != ConnSetupExchanging {
		return nil, nil, fmt.Errorf("%w: BATTLE_SETUP received in state %s", ErrOutOfPhase, s.ConnState)
	}
	if s.Battle.Opponent.PokemonName != "" {
		logger.Warn("session %s: duplicate BATTLE_SETUP, already applied, dropping", s.SelfPeerID)
		return nil, nil, nil // retransmission we already applied; ACK still covers it
	}

	setup, err := BattleSetupFromFrame(f)
	if err != nil {
		return nil, nil, err
	}
	base, err := s.Repo.BaseStats(setup.PokemonName)
	if err != nil {
		return nil, nil, err
	}

	s.Battle.Opponent = Side{PokemonName: setup.PokemonName, Base: base, CurrentHP: base.HP, Boosts: setup.StatBoosts}

	var outbound []*Frame
	if s.Role == RoleHost && s.SelfPokemonName != "" && !s.SentSetup {
		own := BattleSetup{CommunicationMode: "P2P", PokemonName: s.SelfPokemonName, StatBoosts: s.SelfBoosts}
		outbound = append(outbound, own.ToFrame())
		s.SentSetup = true
	}

	events := []Event{{Type: EventStatusMessage, PeerID: s.RemotePeerID, Message: fmt.Sprintf("opponent sent out %s", setup.PokemonName)}}

	if s.Battle.Local.PokemonName != "" && s.Battle.Opponent.PokemonName != "" {
		s.Battle.Phase = PhaseWaitingForMove
		s.ConnState = ConnActive
		if FirstAttacker(s.Battle.Turn) == s.Role {
			events = append(events, Event{Type: EventYourTurn, PeerID: s.SelfPeerID, Message: "your move"})
		} else {
			events = append(events, Event{Type: EventOpponentTurn, PeerID: s.RemotePeerID, Message: "opponent's move"})
		}
	}
	return outbound, events, nil
}

func (sm *ConnectionSM) handleSpectatorRequest(s *Session, f *Frame, src string) ([]*Frame, []Event, error) {
	req, err := SpectatorRequestFromFrame(f)
	if err != nil {
		return nil, nil, err
	}
	events := []Event{{Type: EventConnectionStatus, PeerID: req.PeerID, Message: "spectator joined", Data: src}}
	return nil, events, nil
}

// FirstAttacker reports which role attacks on the given turn number: HOST
// is the designated first attacker, alternating strictly thereafter (§4.3
// "Role of first mover"; open question #1 resolved in favor of strict
// alternation over speed-based ordering).
func FirstAttacker(turn int) Role {
	if turn%2 == 1 {
		return RoleHost
	}
	return RoleJoiner
}

func randomSeed() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
