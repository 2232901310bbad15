package protocol

import "testing"

// TestHappyHandshakeBringsBothPeersToActive mirrors scenario S1: a JOINER
// initiates against a HOST, both sides already hold their chosen combatant,
// and the exchange ends with both sessions in PhaseWaitingForMove agreeing
// on who moves first.
func TestHappyHandshakeBringsBothPeersToActive(t *testing.T) {
	repo := NewMemoryRepository()
	sm := NewConnectionSM()

	host := NewSession(RoleHost, "Host1", nil, repo)
	joiner := NewSession(RoleJoiner, "Joiner1", nil, repo)

	if err := sm.SubmitSetup(host, "Pikachu", StatBoosts{}); err != nil {
		t.Fatalf("host SubmitSetup: %v", err)
	}
	if err := sm.SubmitSetup(joiner, "Bulbasaur", StatBoosts{}); err != nil {
		t.Fatalf("joiner SubmitSetup: %v", err)
	}

	reqFrame, err := sm.Start(joiner)
	if err != nil {
		t.Fatalf("joiner Start: %v", err)
	}
	if reqFrame.Type != MsgHandshakeRequest {
		t.Fatalf("joiner Start produced %v, want HANDSHAKE_REQUEST", reqFrame.Type)
	}
	reqFrame.SequenceNumber = u32ptr(1)

	hostOut, _, err := sm.HandleFrame(host, reqFrame, "joiner-addr")
	if err != nil {
		t.Fatalf("host HandleFrame(HANDSHAKE_REQUEST): %v", err)
	}
	if len(hostOut) != 2 {
		t.Fatalf("host produced %d frames, want 2 (HANDSHAKE_RESPONSE + BATTLE_SETUP)", len(hostOut))
	}
	respFrame, hostSetupFrame := hostOut[0], hostOut[1]
	if respFrame.Type != MsgHandshakeResponse {
		t.Fatalf("hostOut[0] = %v, want HANDSHAKE_RESPONSE", respFrame.Type)
	}
	if respFrame.AckNumber == nil || *respFrame.AckNumber != 1 {
		t.Fatalf("HANDSHAKE_RESPONSE ack_number = %v, want 1", respFrame.AckNumber)
	}
	if hostSetupFrame.Type != MsgBattleSetup {
		t.Fatalf("hostOut[1] = %v, want BATTLE_SETUP", hostSetupFrame.Type)
	}

	joinerOut, _, err := sm.HandleFrame(joiner, respFrame, "host-addr")
	if err != nil {
		t.Fatalf("joiner HandleFrame(HANDSHAKE_RESPONSE): %v", err)
	}
	if len(joinerOut) != 1 || joinerOut[0].Type != MsgBattleSetup {
		t.Fatalf("joiner HandleFrame(HANDSHAKE_RESPONSE) = %#v, want a single BATTLE_SETUP", joinerOut)
	}
	if joiner.Battle.Seed != host.Battle.Seed {
		t.Fatalf("seeds diverged: joiner=%d host=%d", joiner.Battle.Seed, host.Battle.Seed)
	}

	joinerSetupFrame := joinerOut[0]
	_, joinerEvents, err := sm.HandleFrame(joiner, hostSetupFrame, "host-addr")
	if err != nil {
		t.Fatalf("joiner HandleFrame(host's BATTLE_SETUP): %v", err)
	}
	if joiner.Battle.Phase != PhaseWaitingForMove {
		t.Fatalf("joiner phase = %v, want WAITING_FOR_MOVE", joiner.Battle.Phase)
	}
	if !containsEventType(joinerEvents, EventOpponentTurn) {
		t.Fatalf("joiner events = %#v, want an OpponentTurn event (HOST moves first)", joinerEvents)
	}

	_, hostEvents, err := sm.HandleFrame(host, joinerSetupFrame, "joiner-addr")
	if err != nil {
		t.Fatalf("host HandleFrame(joiner's BATTLE_SETUP): %v", err)
	}
	if host.Battle.Phase != PhaseWaitingForMove {
		t.Fatalf("host phase = %v, want WAITING_FOR_MOVE", host.Battle.Phase)
	}
	if !containsEventType(hostEvents, EventYourTurn) {
		t.Fatalf("host events = %#v, want a YourTurn event (HOST moves first)", hostEvents)
	}

	if host.Battle.Opponent.PokemonName != "Bulbasaur" {
		t.Fatalf("host opponent = %q, want Bulbasaur", host.Battle.Opponent.PokemonName)
	}
	if joiner.Battle.Opponent.PokemonName != "Pikachu" {
		t.Fatalf("joiner opponent = %q, want Pikachu", joiner.Battle.Opponent.PokemonName)
	}
}

func TestHandshakeRequestRejectedWhenSelfIsNotHost(t *testing.T) {
	repo := NewMemoryRepository()
	sm := NewConnectionSM()
	joiner := NewSession(RoleJoiner, "Joiner1", nil, repo)

	req := HandshakeRequest{PeerID: "Other"}
	f := req.ToFrame()
	f.SequenceNumber = u32ptr(1)

	if _, _, err := sm.HandleFrame(joiner, f, "addr"); err == nil {
		t.Fatal("expected an error when a non-host receives HANDSHAKE_REQUEST")
	}
}

func TestDuplicateHandshakeRequestIsIgnored(t *testing.T) {
	repo := NewMemoryRepository()
	sm := NewConnectionSM()
	host := NewSession(RoleHost, "Host1", nil, repo)
	if err := sm.SubmitSetup(host, "Pikachu", StatBoosts{}); err != nil {
		t.Fatalf("SubmitSetup: %v", err)
	}

	req := HandshakeRequest{PeerID: "Joiner1"}
	f := req.ToFrame()
	f.SequenceNumber = u32ptr(1)

	if _, _, err := sm.HandleFrame(host, f, "addr"); err != nil {
		t.Fatalf("first HANDSHAKE_REQUEST: %v", err)
	}

	out, events, err := sm.HandleFrame(host, f, "addr")
	if err != nil {
		t.Fatalf("duplicate HANDSHAKE_REQUEST returned an error: %v", err)
	}
	if out != nil || events != nil {
		t.Fatalf("duplicate HANDSHAKE_REQUEST produced output: frames=%v events=%v", out, events)
	}
}

func TestDuplicateBattleSetupIsIgnored(t *testing.T) {
	repo := NewMemoryRepository()
	sm := NewConnectionSM()
	host := NewSession(RoleHost, "Host1", nil, repo)
	if err := sm.SubmitSetup(host, "Pikachu", StatBoosts{}); err != nil {
		t.Fatalf("SubmitSetup: %v", err)
	}
	host.ConnState = ConnSetupExchanging

	setup := BattleSetup{CommunicationMode: "P2P", PokemonName: "Bulbasaur"}
	f := setup.ToFrame()

	if _, _, err := sm.HandleFrame(host, f, "joiner-addr"); err != nil {
		t.Fatalf("first BATTLE_SETUP: %v", err)
	}
	if host.Battle.Opponent.PokemonName != "Bulbasaur" {
		t.Fatalf("host opponent = %q, want Bulbasaur", host.Battle.Opponent.PokemonName)
	}

	out, events, err := sm.HandleFrame(host, f, "joiner-addr")
	if err != nil {
		t.Fatalf("duplicate BATTLE_SETUP returned an error: %v", err)
	}
	if out != nil || events != nil {
		t.Fatalf("duplicate BATTLE_SETUP produced output: frames=%v events=%v", out, events)
	}
}

func TestSpectatorRequestEmitsConnectionEvent(t *testing.T) {
	repo := NewMemoryRepository()
	sm := NewConnectionSM()
	host := NewSession(RoleHost, "Host1", nil, repo)

	req := SpectatorRequest{PeerID: "Watcher1"}
	f := req.ToFrame()

	_, events, err := sm.HandleFrame(host, f, "watcher-addr")
	if err != nil {
		t.Fatalf("HandleFrame(SPECTATOR_REQUEST): %v", err)
	}
	if !containsEventType(events, EventConnectionStatus) {
		t.Fatalf("events = %#v, want a ConnectionStatus event", events)
	}
}

func containsEventType(events []Event, want EventType) bool {
	for _, ev := range events {
		if ev.Type == want {
			return true
		}
	}
	return false
}
