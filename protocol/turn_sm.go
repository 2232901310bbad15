package protocol

import (
	"fmt"

	"pokeprotocol-go/pkg/logger"
)

// TurnSM drives the ATTACK/DEFENSE/REPORT/CONFIRM/RESOLUTION cycle (§4.4).
// Like ConnectionSM it holds no state of its own — every method takes the
// *Session it operates on — and is expressed as an explicit transition
// table rather than a web of mutually-calling callbacks (§9).
type TurnSM struct{}

// NewTurnSM returns a stateless turn state machine.
func NewTurnSM() *TurnSM { return &TurnSM{} }

// SubmitMove begins the attacker-side sequence (§4.4 step 1) in response to
// a user-supplied move choice. It is rejected outside WAITING_FOR_MOVE or
// when it is not this peer's turn to attack (§4.3 "Role of first mover").
func (sm *TurnSM) SubmitMove(s *Session, moveName string) (*Frame, []Event, error) {
	if s.Battle.Phase != PhaseWaitingForMove {
		return nil, nil, fmt.Errorf("%w: move submitted outside WAITING_FOR_MOVE", ErrOutOfPhase)
	}
	if FirstAttacker(s.Battle.Turn) != s.Role {
		return nil, nil, fmt.Errorf("%w: it is not this peer's turn to attack", ErrOutOfPhase)
	}
	if _, err := s.Repo.Move(moveName); err != nil {
		return nil, nil, err
	}

	s.Battle.Phase = PhaseProcessingTurn
	s.Battle.Pending = &PendingTurn{
		AttackerName:    s.Battle.Local.PokemonName,
		MoveName:        moveName,
		LocalIsAttacker: true,
	}
	s.ResolutionSent = false

	announce := AttackAnnounce{MoveName: moveName}.ToFrame()
	events := []Event{{Type: EventStatusMessage, PeerID: s.SelfPeerID, Message: fmt.Sprintf("you used %s", moveName)}}
	return announce, events, nil
}

// HandleFrame processes one inbound turn-phase frame.
func (sm *TurnSM) HandleFrame(s *Session, f *Frame) ([]*Frame, []Event, error) {
	switch f.Type {
	case MsgAttackAnnounce:
		return sm.handleAttackAnnounce(s, f)
	case MsgDefenseAnnounce:
		return sm.handleDefenseAnnounce(s)
	case MsgCalculationReport:
		return sm.handleCalculationReport(s, f)
	case MsgCalculationConfirm:
		return sm.handleCalculationConfirm(s)
	case MsgResolutionRequest:
		return sm.handleResolutionRequest(s, f)
	case MsgGameOver:
		return sm.handleGameOver(s, f)
	default:
		return nil, nil, fmt.Errorf("%w: turn SM has no transition for %s", ErrOutOfPhase, f.Type)
	}
}

// HandleChatMessage processes CHAT_MESSAGE, which bypasses this state
// machine entirely (§4.4 "Chat") — it is valid in any phase and produces
// only a display event.
func (sm *TurnSM) HandleChatMessage(f *Frame) (Event, error) {
	msg, err := ChatMessageFromFrame(f)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventChat, PeerID: msg.SenderName, Message: msg.MessageText, Data: msg}, nil
}

func (sm *TurnSM) handleAttackAnnounce(s *Session, f *Frame) ([]*Frame, []Event, error) {
	if s.Battle.Phase != PhaseWaitingForMove {
		logger.Warn("session %s: duplicate ATTACK_ANNOUNCE outside WAITING_FOR_MOVE, dropping", s.SelfPeerID)
		return nil, nil, nil
	}
	if FirstAttacker(s.Battle.Turn) == s.Role {
		return nil, nil, fmt.Errorf("%w: received ATTACK_ANNOUNCE on our own attacking turn", ErrOutOfPhase)
	}
	announce, err := AttackAnnounceFromFrame(f)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.Repo.Move(announce.MoveName); err != nil {
		return nil, nil, err
	}

	s.Battle.Phase = PhaseProcessingTurn
	s.Battle.Pending = &PendingTurn{
		AttackerName:    s.Battle.Opponent.PokemonName,
		MoveName:        announce.MoveName,
		LocalIsAttacker: false,
	}
	s.ResolutionSent = false

	defense := DefenseAnnounce{}.ToFrame()
	reportFrame, events, err := sm.computeAndReport(s, announce.MoveName)
	if err != nil {
		return nil, nil, err
	}
	outbound := []*Frame{defense, reportFrame}

	if extra, extraEvents, err := sm.drainBufferedReport(s); err != nil {
		return nil, nil, err
	} else if len(extra) > 0 || len(extraEvents) > 0 {
		outbound = append(outbound, extra...)
		events = append(events, extraEvents...)
	}
	return outbound, events, nil
}

func (sm *TurnSM) handleDefenseAnnounce(s *Session) ([]*Frame, []Event, error) {
	if s.Battle.Phase != PhaseProcessingTurn || s.Battle.Pending == nil || !s.Battle.Pending.LocalIsAttacker {
		logger.Warn("session %s: DEFENSE_ANNOUNCE received out of phase, dropping", s.SelfPeerID)
		return nil, nil, nil
	}
	if s.Battle.Pending.LocalResult != nil {
		logger.Warn("session %s: duplicate DEFENSE_ANNOUNCE, local result already computed, dropping", s.SelfPeerID)
		return nil, nil, nil
	}

	reportFrame, events, err := sm.computeAndReport(s, s.Battle.Pending.MoveName)
	if err != nil {
		return nil, nil, err
	}
	outbound := []*Frame{reportFrame}

	extra, extraEvents, err := sm.drainBufferedReport(s)
	if err != nil {
		return nil, nil, err
	}
	outbound = append(outbound, extra...)
	events = append(events, extraEvents...)
	return outbound, events, nil
}

// computeAndReport runs the deterministic calculator for the pending turn
// and builds the outbound CALCULATION_REPORT (§4.4 step 3, §4.5).
func (sm *TurnSM) computeAndReport(s *Session, moveName string) (*Frame, []Event, error) {
	move, err := s.Repo.Move(moveName)
	if err != nil {
		return nil, nil, err
	}

	pending := s.Battle.Pending
	var attackerStats, defenderStats Stats
	var attackerHP, defenderHP int
	var attackerBoosts *StatBoosts
	if pending.LocalIsAttacker {
		attackerStats, defenderStats = s.Battle.Local.Base, s.Battle.Opponent.Base
		attackerHP, defenderHP = s.Battle.Local.CurrentHP, s.Battle.Opponent.CurrentHP
		attackerBoosts = &s.Battle.Local.Boosts
	} else {
		attackerStats, defenderStats = s.Battle.Opponent.Base, s.Battle.Local.Base
		attackerHP, defenderHP = s.Battle.Opponent.CurrentHP, s.Battle.Local.CurrentHP
		attackerBoosts = &s.Battle.Opponent.Boosts
	}

	// §4.5 step 2: a SPECIAL move spends one of the attacker's remaining
	// sp_attack_uses for a 1.5x multiplier on this hit only; the counter
	// itself is debited in applyLocal, when the agreed result is committed
	// (matching reports, or a resolved RESOLUTION_REQUEST), not here.
	boostConsumed := move.Category == CategorySpecial && attackerBoosts.SpAttackUses > 0

	damage := CalculateDamage(attackerStats, defenderStats, move, boostConsumed, s.RNG)
	defenderHPAfter := defenderHP - damage
	if defenderHPAfter < 0 {
		defenderHPAfter = 0
	}

	result := &TurnResult{
		DamageDealt:     damage,
		DefenderHPAfter: defenderHPAfter,
		AttackerHPAfter: attackerHP,
		StatusText:      fmt.Sprintf("%s used %s!", pending.AttackerName, moveName),
		BoostConsumed:   boostConsumed,
	}
	pending.LocalResult = result

	report := CalculationReport{
		Attacker:            pending.AttackerName,
		MoveUsed:            moveName,
		RemainingHealth:     attackerHP,
		DamageDealt:         damage,
		DefenderHPRemaining: defenderHPAfter,
		StatusMessage:       result.StatusText,
	}
	events := []Event{{Type: EventStatusMessage, PeerID: s.SelfPeerID, Message: result.StatusText}}
	return report.ToFrame(), events, nil
}

// drainBufferedReport re-runs the comparison against an opponent
// CALCULATION_REPORT that arrived before this peer had finished computing
// its own local result — possible because the reliability layer does not
// guarantee ordering between datagrams (§5).
func (sm *TurnSM) drainBufferedReport(s *Session) ([]*Frame, []Event, error) {
	pending := s.Battle.Pending
	if pending.RemoteReport == nil {
		return nil, nil, nil
	}
	remote := *pending.RemoteReport
	pending.RemoteReport = nil
	return sm.compareAndResolve(s, remote)
}

func (sm *TurnSM) handleCalculationReport(s *Session, f *Frame) ([]*Frame, []Event, error) {
	if s.Battle.Phase != PhaseProcessingTurn || s.Battle.Pending == nil {
		logger.Warn("session %s: CALCULATION_REPORT received out of phase, dropping", s.SelfPeerID)
		return nil, nil, nil
	}
	remote, err := CalculationReportFromFrame(f)
	if err != nil {
		return nil, nil, err
	}
	if s.Battle.Pending.LocalResult == nil {
		// our own DEFENSE_ANNOUNCE/ATTACK_ANNOUNCE hasn't been processed yet
		s.Battle.Pending.RemoteReport = &remote
		return nil, nil, nil
	}
	return sm.compareAndResolve(s, remote)
}

// compareAndResolve implements §4.4 step 4: exact-integer comparison of the
// two independently computed outcomes, branching into the match or
// mismatch-resolution path.
func (sm *TurnSM) compareAndResolve(s *Session, remote CalculationReport) ([]*Frame, []Event, error) {
	pending := s.Battle.Pending
	match := remote.DamageDealt == pending.LocalResult.DamageDealt &&
		remote.DefenderHPRemaining == pending.LocalResult.DefenderHPAfter

	if match {
		sm.applyLocal(s)
		confirm := CalculationConfirm{}.ToFrame()
		events := []Event{{Type: EventHPUpdate, PeerID: s.SelfPeerID, Message: pending.LocalResult.StatusText, Data: *pending.LocalResult}}
		return []*Frame{confirm}, events, nil
	}

	s.ResolutionSent = true
	req := ResolutionRequest{
		Attacker:            pending.AttackerName,
		MoveUsed:            pending.MoveName,
		DamageDealt:         pending.LocalResult.DamageDealt,
		DefenderHPRemaining: pending.LocalResult.DefenderHPAfter,
	}
	events := []Event{{Type: EventWarning, PeerID: s.SelfPeerID, Message: "calculation mismatch detected, requesting resolution"}}
	return []*Frame{req.ToFrame()}, events, nil
}

func (sm *TurnSM) handleResolutionRequest(s *Session, f *Frame) ([]*Frame, []Event, error) {
	if s.Battle.Phase != PhaseProcessingTurn || s.Battle.Pending == nil {
		return nil, nil, nil
	}
	remote, err := ResolutionRequestFromFrame(f)
	if err != nil {
		return nil, nil, err
	}

	pending := s.Battle.Pending
	if pending.LocalResult == nil {
		// this peer hasn't finished computing its own result for the current
		// turn yet (attacker side, between SubmitMove and DEFENSE_ANNOUNCE),
		// or this is a stale retransmission for a turn we've already moved
		// past — either way there's nothing to adopt values onto.
		logger.Warn("session %s: RESOLUTION_REQUEST received before local computation, dropping", s.SelfPeerID)
		return nil, nil, nil
	}

	hostTiebreakDiscard := s.ResolutionSent && s.Role == RoleHost
	if !hostTiebreakDiscard {
		// Normal path (§4.4 "Resolution"): adopt the sender's damage/HP
		// values. BoostConsumed is not one of ResolutionRequest's wire fields
		// (§6) and is kept as our own locally-computed value; both peers
		// derive it from the same Boosts.SpAttackUses counter, so it only
		// diverges here if that counter had already desynced before this
		// mismatch, which this exchange cannot detect or repair.
		pending.LocalResult = &TurnResult{
			DamageDealt:     remote.DamageDealt,
			DefenderHPAfter: remote.DefenderHPRemaining,
			AttackerHPAfter: pending.LocalResult.AttackerHPAfter,
			StatusText:      pending.LocalResult.StatusText,
			BoostConsumed:   pending.LocalResult.BoostConsumed,
		}
	}
	// Else: simultaneous mismatch, HOST wins (§9 open question #2) — keep
	// our own already-proposed values, but still apply them and reply with
	// CALCULATION_CONFIRM as in the normal path.

	sm.applyLocal(s)
	confirm := CalculationConfirm{}.ToFrame()
	outbound := []*Frame{confirm}

	// No reply CALCULATION_CONFIRM will arrive back to us for this turn
	// (the requester advances on receiving ours instead), so we advance now.
	gameOverFrame, events := sm.advanceTurn(s)
	if gameOverFrame != nil {
		outbound = append(outbound, gameOverFrame)
	}
	return outbound, events, nil
}

func (sm *TurnSM) handleCalculationConfirm(s *Session) ([]*Frame, []Event, error) {
	if s.Battle.Phase != PhaseProcessingTurn || s.Battle.Pending == nil {
		return nil, nil, nil // already advanced; idempotent duplicate
	}
	if !s.Battle.Pending.Applied {
		if s.Battle.Pending.LocalResult == nil {
			// stale CALCULATION_CONFIRM retransmission for a turn this peer
			// never finished computing locally; nothing to apply.
			logger.Warn("session %s: CALCULATION_CONFIRM received before local computation, dropping", s.SelfPeerID)
			return nil, nil, nil
		}
		sm.applyLocal(s)
	}
	var outbound []*Frame
	gameOverFrame, events := sm.advanceTurn(s)
	if gameOverFrame != nil {
		outbound = append(outbound, gameOverFrame)
	}
	return outbound, events, nil
}

func (sm *TurnSM) handleGameOver(s *Session, f *Frame) ([]*Frame, []Event, error) {
	result, err := GameOverFromFrame(f)
	if err != nil {
		return nil, nil, err
	}
	s.Battle.Phase = PhaseGameOver
	s.Battle.Pending = nil
	events := []Event{{Type: EventGameOver, PeerID: s.SelfPeerID, Message: fmt.Sprintf("%s wins", result.Winner), Data: result}}
	return nil, events, nil
}

// applyLocal writes the agreed-upon TurnResult into battle state (§4.4
// "On match: apply local_result to state"). It is idempotent per turn.
func (sm *TurnSM) applyLocal(s *Session) {
	pending := s.Battle.Pending
	if pending.Applied {
		return
	}
	var attackerBoosts *StatBoosts
	if pending.LocalIsAttacker {
		s.Battle.Opponent.CurrentHP = pending.LocalResult.DefenderHPAfter
		s.Battle.Local.CurrentHP = pending.LocalResult.AttackerHPAfter
		attackerBoosts = &s.Battle.Local.Boosts
	} else {
		s.Battle.Local.CurrentHP = pending.LocalResult.DefenderHPAfter
		s.Battle.Opponent.CurrentHP = pending.LocalResult.AttackerHPAfter
		attackerBoosts = &s.Battle.Opponent.Boosts
	}
	if pending.LocalResult.BoostConsumed && attackerBoosts.SpAttackUses > 0 {
		attackerBoosts.SpAttackUses--
	}
	pending.Applied = true
}

// advanceTurn completes the turn (§4.4 step 5): increments turn, or — if
// the defending side's current_hp has reached zero — transitions to
// GAME_OVER and, only if this peer was the attacker this turn, returns the
// outbound GAME_OVER frame (§4.4 "Game end").
func (sm *TurnSM) advanceTurn(s *Session) (*Frame, []Event) {
	pending := s.Battle.Pending
	var defender *Side
	if pending.LocalIsAttacker {
		defender = &s.Battle.Opponent
	} else {
		defender = &s.Battle.Local
	}

	var gameOverFrame *Frame
	var events []Event
	if defender.CurrentHP <= 0 {
		s.Battle.Phase = PhaseGameOver
		if pending.LocalIsAttacker {
			result := GameOver{Winner: s.Battle.Local.PokemonName, Loser: s.Battle.Opponent.PokemonName}
			gameOverFrame = result.ToFrame()
		}
		events = append(events, Event{Type: EventGameOver, PeerID: s.SelfPeerID, Message: "battle over"})
	} else {
		s.Battle.Turn++
		s.Battle.Phase = PhaseWaitingForMove
		if FirstAttacker(s.Battle.Turn) == s.Role {
			events = append(events, Event{Type: EventYourTurn, PeerID: s.SelfPeerID, Message: "your move"})
		} else {
			events = append(events, Event{Type: EventOpponentTurn, PeerID: s.RemotePeerID, Message: "opponent's move"})
		}
	}
	s.Battle.Pending = nil
	return gameOverFrame, events
}
