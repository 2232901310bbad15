package protocol

import "testing"

// buildActiveSessions returns a HOST/JOINER session pair already past the
// handshake, each holding the other's Side, seeded identically and parked
// in WAITING_FOR_MOVE on turn 1 (HOST attacks first).
func buildActiveSessions(t *testing.T, repo PokemonStatsRepository) (host, joiner *Session) {
	t.Helper()
	host = NewSession(RoleHost, "Host1", nil, repo)
	joiner = NewSession(RoleJoiner, "Joiner1", nil, repo)

	hostBase, err := repo.BaseStats("Pikachu")
	if err != nil {
		t.Fatalf("BaseStats(Pikachu): %v", err)
	}
	joinerBase, err := repo.BaseStats("Bulbasaur")
	if err != nil {
		t.Fatalf("BaseStats(Bulbasaur): %v", err)
	}

	host.Battle.Local = Side{PokemonName: "Pikachu", Base: hostBase, CurrentHP: hostBase.HP}
	host.Battle.Opponent = Side{PokemonName: "Bulbasaur", Base: joinerBase, CurrentHP: joinerBase.HP}
	host.Battle.Phase = PhaseWaitingForMove
	host.Battle.Seed = 12345
	host.RNG = NewRNG(12345)
	host.RemotePeerID = "Joiner1"

	joiner.Battle.Local = Side{PokemonName: "Bulbasaur", Base: joinerBase, CurrentHP: joinerBase.HP}
	joiner.Battle.Opponent = Side{PokemonName: "Pikachu", Base: hostBase, CurrentHP: hostBase.HP}
	joiner.Battle.Phase = PhaseWaitingForMove
	joiner.Battle.Seed = 12345
	joiner.RNG = NewRNG(12345)
	joiner.RemotePeerID = "Host1"

	return host, joiner
}

// TestNormalTurnConvergesAndAdvances mirrors scenario S5's non-mismatch
// path and property P1: both peers independently compute the same damage
// from the same seed, confirm each other, and finish the turn with
// identical battle state.
func TestNormalTurnConvergesAndAdvances(t *testing.T) {
	repo := NewMemoryRepository()
	host, joiner := buildActiveSessions(t, repo)
	sm := NewTurnSM()

	announceFrame, _, err := sm.SubmitMove(host, "Thunderbolt")
	if err != nil {
		t.Fatalf("host SubmitMove: %v", err)
	}

	joinerOut, _, err := sm.HandleFrame(joiner, announceFrame)
	if err != nil {
		t.Fatalf("joiner HandleFrame(ATTACK_ANNOUNCE): %v", err)
	}
	if len(joinerOut) != 2 || joinerOut[0].Type != MsgDefenseAnnounce || joinerOut[1].Type != MsgCalculationReport {
		t.Fatalf("joiner response = %#v, want [DEFENSE_ANNOUNCE, CALCULATION_REPORT]", joinerOut)
	}
	defenseFrame, joinerReportFrame := joinerOut[0], joinerOut[1]

	hostOut, _, err := sm.HandleFrame(host, defenseFrame)
	if err != nil {
		t.Fatalf("host HandleFrame(DEFENSE_ANNOUNCE): %v", err)
	}
	if len(hostOut) != 1 || hostOut[0].Type != MsgCalculationReport {
		t.Fatalf("host response = %#v, want [CALCULATION_REPORT]", hostOut)
	}
	hostReportFrame := hostOut[0]

	joinerConfirmOut, joinerEvents, err := sm.HandleFrame(joiner, hostReportFrame)
	if err != nil {
		t.Fatalf("joiner HandleFrame(host report): %v", err)
	}
	if len(joinerConfirmOut) != 1 || joinerConfirmOut[0].Type != MsgCalculationConfirm {
		t.Fatalf("joiner response to report = %#v, want [CALCULATION_CONFIRM]", joinerConfirmOut)
	}
	if !containsEventType(joinerEvents, EventHPUpdate) {
		t.Fatalf("joiner events = %#v, want an HPUpdate event on match", joinerEvents)
	}

	hostConfirmOut, hostEvents, err := sm.HandleFrame(host, joinerReportFrame)
	if err != nil {
		t.Fatalf("host HandleFrame(joiner report): %v", err)
	}
	if len(hostConfirmOut) != 1 || hostConfirmOut[0].Type != MsgCalculationConfirm {
		t.Fatalf("host response to report = %#v, want [CALCULATION_CONFIRM]", hostConfirmOut)
	}
	if !containsEventType(hostEvents, EventHPUpdate) {
		t.Fatalf("host events = %#v, want an HPUpdate event on match", hostEvents)
	}

	if _, _, err := sm.HandleFrame(joiner, hostConfirmOut[0]); err != nil {
		t.Fatalf("joiner HandleFrame(host's CONFIRM): %v", err)
	}
	if _, _, err := sm.HandleFrame(host, joinerConfirmOut[0]); err != nil {
		t.Fatalf("host HandleFrame(joiner's CONFIRM): %v", err)
	}

	if host.Battle.Turn != 2 || joiner.Battle.Turn != 2 {
		t.Fatalf("turn = host:%d joiner:%d, want 2 on both", host.Battle.Turn, joiner.Battle.Turn)
	}
	if host.Battle.Pending != nil || joiner.Battle.Pending != nil {
		t.Fatal("pending turn should be cleared after both confirms land")
	}
	if host.Battle.Opponent.CurrentHP != joiner.Battle.Local.CurrentHP {
		t.Fatalf("Bulbasaur HP diverged: host sees %d, joiner sees %d", host.Battle.Opponent.CurrentHP, joiner.Battle.Local.CurrentHP)
	}
	if host.Battle.Local.CurrentHP != joiner.Battle.Opponent.CurrentHP {
		t.Fatalf("Pikachu HP diverged: host sees %d, joiner sees %d", host.Battle.Local.CurrentHP, joiner.Battle.Opponent.CurrentHP)
	}
	// turn 2: FirstAttacker alternates to JOINER.
	if FirstAttacker(host.Battle.Turn) != RoleJoiner {
		t.Fatalf("FirstAttacker(2) = %v, want JOINER", FirstAttacker(host.Battle.Turn))
	}
}

// TestOutOfOrderCalculationReportIsBuffered exercises §5's "no ordering
// guarantee": a CALCULATION_REPORT that overtakes the local peer's own
// DEFENSE_ANNOUNCE handling must be stashed, not dropped or mis-applied.
func TestOutOfOrderCalculationReportIsBuffered(t *testing.T) {
	repo := NewMemoryRepository()
	host, joiner := buildActiveSessions(t, repo)
	sm := NewTurnSM()

	announceFrame, _, err := sm.SubmitMove(host, "Thunderbolt")
	if err != nil {
		t.Fatalf("host SubmitMove: %v", err)
	}
	joinerOut, _, err := sm.HandleFrame(joiner, announceFrame)
	if err != nil {
		t.Fatalf("joiner HandleFrame(ATTACK_ANNOUNCE): %v", err)
	}
	joinerReportFrame := joinerOut[1]

	// host's own DEFENSE_ANNOUNCE handling hasn't run yet, so its report
	// arriving first must be buffered rather than acted on immediately.
	out, events, err := sm.HandleFrame(host, joinerReportFrame)
	if err != nil {
		t.Fatalf("host HandleFrame(early report): %v", err)
	}
	if out != nil || events != nil {
		t.Fatalf("early report should buffer silently, got frames=%v events=%v", out, events)
	}
	if host.Battle.Pending.RemoteReport == nil {
		t.Fatal("expected the out-of-order report to be buffered on Pending.RemoteReport")
	}

	defenseFrame := joinerOut[0]
	hostOut, _, err := sm.HandleFrame(host, defenseFrame)
	if err != nil {
		t.Fatalf("host HandleFrame(DEFENSE_ANNOUNCE): %v", err)
	}
	// computeAndReport's own CALCULATION_REPORT, plus the drained buffered
	// comparison's CALCULATION_CONFIRM (since the reports agree).
	if len(hostOut) != 2 || hostOut[0].Type != MsgCalculationReport || hostOut[1].Type != MsgCalculationConfirm {
		t.Fatalf("host response = %#v, want [CALCULATION_REPORT, CALCULATION_CONFIRM]", hostOut)
	}
	if host.Battle.Pending.RemoteReport != nil {
		t.Fatal("buffered report should have been drained")
	}
}

// TestSimultaneousMismatchHostWinsTiebreak exercises the documented HOST-
// wins resolution for the case where both peers detect a mismatch and send
// their own RESOLUTION_REQUEST before either has seen the other's.
func TestSimultaneousMismatchHostWinsTiebreak(t *testing.T) {
	repo := NewMemoryRepository()
	host, joiner := buildActiveSessions(t, repo)
	sm := NewTurnSM()

	host.Battle.Phase = PhaseProcessingTurn
	host.Battle.Pending = &PendingTurn{
		AttackerName: "Pikachu", MoveName: "Thunderbolt", LocalIsAttacker: true,
		LocalResult: &TurnResult{DamageDealt: 17, DefenderHPAfter: 28, AttackerHPAfter: 35, StatusText: "Pikachu used Thunderbolt!"},
	}
	host.ResolutionSent = true

	joiner.Battle.Phase = PhaseProcessingTurn
	joiner.Battle.Pending = &PendingTurn{
		AttackerName: "Pikachu", MoveName: "Thunderbolt", LocalIsAttacker: false,
		LocalResult: &TurnResult{DamageDealt: 18, DefenderHPAfter: 27, AttackerHPAfter: 35, StatusText: "Pikachu used Thunderbolt!"},
	}
	joiner.ResolutionSent = true

	hostReq := ResolutionRequest{Attacker: "Pikachu", MoveUsed: "Thunderbolt", DamageDealt: 17, DefenderHPRemaining: 28}.ToFrame()
	joinerReq := ResolutionRequest{Attacker: "Pikachu", MoveUsed: "Thunderbolt", DamageDealt: 18, DefenderHPRemaining: 27}.ToFrame()

	if _, _, err := sm.HandleFrame(joiner, hostReq); err != nil {
		t.Fatalf("joiner HandleFrame(host's RESOLUTION_REQUEST): %v", err)
	}
	if _, _, err := sm.HandleFrame(host, joinerReq); err != nil {
		t.Fatalf("host HandleFrame(joiner's RESOLUTION_REQUEST): %v", err)
	}

	if host.Battle.Opponent.CurrentHP != 28 {
		t.Fatalf("host's view of Bulbasaur HP = %d, want 28 (host's own proposal wins)", host.Battle.Opponent.CurrentHP)
	}
	if joiner.Battle.Local.CurrentHP != 28 {
		t.Fatalf("joiner's view of its own HP = %d, want 28 (adopted HOST's values)", joiner.Battle.Local.CurrentHP)
	}
	if host.Battle.Pending != nil || joiner.Battle.Pending != nil {
		t.Fatal("both peers should have self-advanced past the resolved turn")
	}
	if host.Battle.Turn != 2 || joiner.Battle.Turn != 2 {
		t.Fatalf("turn = host:%d joiner:%d, want 2 on both", host.Battle.Turn, joiner.Battle.Turn)
	}
}

// TestGameOverOnlyAttackerEmitsFrame exercises §4.4 "Game end": the
// defending peer transitions locally but only the attacker broadcasts the
// GAME_OVER frame.
func TestGameOverOnlyAttackerEmitsFrame(t *testing.T) {
	repo := NewMemoryRepository()
	host, joiner := buildActiveSessions(t, repo)
	sm := NewTurnSM()

	host.Battle.Phase = PhaseProcessingTurn
	host.Battle.Pending = &PendingTurn{
		AttackerName: "Pikachu", MoveName: "Thunderbolt", LocalIsAttacker: true,
		LocalResult: &TurnResult{DamageDealt: 45, DefenderHPAfter: 0, AttackerHPAfter: 35, StatusText: "Pikachu used Thunderbolt!"},
	}
	joiner.Battle.Phase = PhaseProcessingTurn
	joiner.Battle.Pending = &PendingTurn{
		AttackerName: "Pikachu", MoveName: "Thunderbolt", LocalIsAttacker: false,
		LocalResult: &TurnResult{DamageDealt: 45, DefenderHPAfter: 0, AttackerHPAfter: 35, StatusText: "Pikachu used Thunderbolt!"},
	}

	hostOut, hostEvents, err := sm.handleCalculationConfirm(host)
	if err != nil {
		t.Fatalf("host handleCalculationConfirm: %v", err)
	}
	if len(hostOut) != 1 || hostOut[0].Type != MsgGameOver {
		t.Fatalf("attacker output = %#v, want a single GAME_OVER frame", hostOut)
	}
	if !containsEventType(hostEvents, EventGameOver) {
		t.Fatalf("host events = %#v, want GameOver", hostEvents)
	}
	if host.Battle.Phase != PhaseGameOver {
		t.Fatalf("host phase = %v, want GAME_OVER", host.Battle.Phase)
	}

	joinerOut, joinerEvents, err := sm.handleCalculationConfirm(joiner)
	if err != nil {
		t.Fatalf("joiner handleCalculationConfirm: %v", err)
	}
	if joinerOut != nil {
		t.Fatalf("defending peer must not emit a frame, got %#v", joinerOut)
	}
	if !containsEventType(joinerEvents, EventGameOver) {
		t.Fatalf("joiner events = %#v, want GameOver", joinerEvents)
	}
	if joiner.Battle.Phase != PhaseGameOver {
		t.Fatalf("joiner phase = %v, want GAME_OVER", joiner.Battle.Phase)
	}
}

// TestBoostConsumptionDebitsCounterOnce exercises §4.5 step 2 wired against
// the §3 data model: an attacker with a remaining sp_attack_uses gets the
// 1.5x multiplier on a SPECIAL move, and the counter is debited exactly
// once, when the matching reports are applied, not at calculation time and
// not again when the CONFIRM arrives.
func TestBoostConsumptionDebitsCounterOnce(t *testing.T) {
	repo := NewMemoryRepository()
	host, joiner := buildActiveSessions(t, repo)
	host.Battle.Local.Boosts.SpAttackUses = 1
	joiner.Battle.Opponent.Boosts.SpAttackUses = 1
	sm := NewTurnSM()

	announceFrame, _, err := sm.SubmitMove(host, "Thunderbolt")
	if err != nil {
		t.Fatalf("host SubmitMove: %v", err)
	}
	joinerOut, _, err := sm.HandleFrame(joiner, announceFrame)
	if err != nil {
		t.Fatalf("joiner HandleFrame(ATTACK_ANNOUNCE): %v", err)
	}
	defenseFrame, joinerReportFrame := joinerOut[0], joinerOut[1]

	hostOut, _, err := sm.HandleFrame(host, defenseFrame)
	if err != nil {
		t.Fatalf("host HandleFrame(DEFENSE_ANNOUNCE): %v", err)
	}
	hostReportFrame := hostOut[0]

	if !host.Battle.Pending.LocalResult.BoostConsumed {
		t.Fatal("host's local result should have consumed the boost")
	}
	unboosted := CalculateDamage(pikachu(), bulbasaur(), thunderbolt(), false, NewRNG(12345))
	if host.Battle.Pending.LocalResult.DamageDealt <= unboosted {
		t.Fatalf("boosted damage %d should exceed the unboosted baseline %d", host.Battle.Pending.LocalResult.DamageDealt, unboosted)
	}
	if host.Battle.Local.Boosts.SpAttackUses != 1 {
		t.Fatalf("sp_attack_uses should not be debited at calculation time, still want 1, got %d", host.Battle.Local.Boosts.SpAttackUses)
	}

	joinerConfirmOut, _, err := sm.HandleFrame(joiner, hostReportFrame)
	if err != nil {
		t.Fatalf("joiner HandleFrame(host report): %v", err)
	}
	if _, _, err := sm.HandleFrame(host, joinerReportFrame); err != nil {
		t.Fatalf("host HandleFrame(joiner report): %v", err)
	}
	if _, _, err := sm.HandleFrame(host, joinerConfirmOut[0]); err != nil {
		t.Fatalf("host HandleFrame(joiner's CONFIRM): %v", err)
	}

	if host.Battle.Local.Boosts.SpAttackUses != 0 {
		t.Fatalf("sp_attack_uses after confirm = %d, want 0", host.Battle.Local.Boosts.SpAttackUses)
	}
	if joiner.Battle.Opponent.Boosts.SpAttackUses != 0 {
		t.Fatalf("joiner's view of opponent sp_attack_uses after confirm = %d, want 0", joiner.Battle.Opponent.Boosts.SpAttackUses)
	}
}

// TestResolutionRequestBeforeLocalComputationIsDropped exercises §5's
// lossy-channel tolerance: a RESOLUTION_REQUEST retransmitted after this
// peer has already resolved the turn and moved on to a fresh PendingTurn
// (LocalResult == nil) must be dropped, not dereferenced into a panic.
func TestResolutionRequestBeforeLocalComputationIsDropped(t *testing.T) {
	repo := NewMemoryRepository()
	host, _ := buildActiveSessions(t, repo)
	sm := NewTurnSM()

	host.Battle.Phase = PhaseProcessingTurn
	host.Battle.Pending = &PendingTurn{
		AttackerName: "Pikachu", MoveName: "Thunderbolt", LocalIsAttacker: true,
	}

	req := ResolutionRequest{Attacker: "Pikachu", MoveUsed: "Thunderbolt", DamageDealt: 17, DefenderHPRemaining: 28}.ToFrame()

	out, events, err := sm.HandleFrame(host, req)
	if err != nil {
		t.Fatalf("RESOLUTION_REQUEST before local computation returned an error: %v", err)
	}
	if out != nil || events != nil {
		t.Fatalf("expected a silent drop, got frames=%v events=%v", out, events)
	}
	if host.Battle.Pending.Applied {
		t.Fatal("pending turn should not have been marked applied")
	}
}

// TestCalculationConfirmBeforeLocalComputationIsDropped mirrors the same
// gap for CALCULATION_CONFIRM: a retransmission arriving while this peer
// still hasn't computed its own result must be dropped, not panic inside
// applyLocal.
func TestCalculationConfirmBeforeLocalComputationIsDropped(t *testing.T) {
	repo := NewMemoryRepository()
	host, _ := buildActiveSessions(t, repo)
	sm := NewTurnSM()

	host.Battle.Phase = PhaseProcessingTurn
	host.Battle.Pending = &PendingTurn{
		AttackerName: "Pikachu", MoveName: "Thunderbolt", LocalIsAttacker: true,
	}

	out, events, err := sm.handleCalculationConfirm(host)
	if err != nil {
		t.Fatalf("CALCULATION_CONFIRM before local computation returned an error: %v", err)
	}
	if out != nil || events != nil {
		t.Fatalf("expected a silent drop, got frames=%v events=%v", out, events)
	}
	if host.Battle.Pending.Applied {
		t.Fatal("pending turn should not have been marked applied")
	}
}

func TestDuplicateConfirmAfterAdvanceIsIgnored(t *testing.T) {
	repo := NewMemoryRepository()
	host, _ := buildActiveSessions(t, repo)
	sm := NewTurnSM()

	host.Battle.Phase = PhaseWaitingForMove
	host.Battle.Pending = nil

	out, events, err := sm.HandleFrame(host, CalculationConfirm{}.ToFrame())
	if err != nil {
		t.Fatalf("stray CALCULATION_CONFIRM returned an error: %v", err)
	}
	if out != nil || events != nil {
		t.Fatalf("stray CALCULATION_CONFIRM produced output: frames=%v events=%v", out, events)
	}
}
