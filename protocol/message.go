package protocol

import "fmt"

// StatBoosts mirrors §3's per-side boost counters.
type StatBoosts struct {
	SpAttackUses  int `json:"sp_attack_uses"`
	SpDefenseUses int `json:"sp_defense_uses"`
}

// HandshakeRequest is sent by the joiner to initiate a session.
type HandshakeRequest struct {
	PeerID      string
	TeamPreview []string
}

// HandshakeResponse is sent by the host, piggybacking the ack for the
// request alongside the newly issued seed.
type HandshakeResponse struct {
	Seed        uint32
	PeerID      string
	TeamPreview []string
	Timestamp   int64
}

// SpectatorRequest registers the sender as a read-only observer.
type SpectatorRequest struct {
	PeerID string
}

// BattleSetup exchanges each side's chosen combatant.
type BattleSetup struct {
	CommunicationMode string
	PokemonName       string
	StatBoosts        StatBoosts
}

// AttackAnnounce names the move the attacker has chosen this turn.
type AttackAnnounce struct {
	MoveName string
}

// DefenseAnnounce carries no payload; its arrival is the signal.
type DefenseAnnounce struct{}

// CalculationReport carries one peer's locally computed turn outcome.
type CalculationReport struct {
	Attacker            string
	MoveUsed            string
	RemainingHealth     int
	DamageDealt         int
	DefenderHPRemaining int
	StatusMessage       string
}

// CalculationConfirm carries no payload; its arrival completes a turn.
type CalculationConfirm struct{}

// ResolutionRequest proposes the sender's computed values as authoritative
// after a CalculationReport mismatch.
type ResolutionRequest struct {
	Attacker            string
	MoveUsed            string
	DamageDealt         int
	DefenderHPRemaining int
}

// GameOver announces the battle's outcome.
type GameOver struct {
	Winner string
	Loser  string
}

// ChatMessage is orthogonal to the turn state machine.
type ChatMessage struct {
	SenderName  string
	ContentType string
	MessageText string
	StickerData string
}

// ToFrame renders each typed message into its Frame form. Sequence/ack
// numbers are attached by the reliability layer at send time, not here.

func (m HandshakeRequest) ToFrame() *Frame {
	f := NewFrame(MsgHandshakeRequest)
	f.Fields["peer_id"] = m.PeerID
	f.Fields["team_preview"] = toAnySlice(m.TeamPreview)
	return f
}

func (m HandshakeResponse) ToFrame() *Frame {
	f := NewFrame(MsgHandshakeResponse)
	f.Fields["seed"] = int64(m.Seed)
	f.Fields["peer_id"] = m.PeerID
	f.Fields["team_preview"] = toAnySlice(m.TeamPreview)
	f.Fields["timestamp"] = m.Timestamp
	return f
}

func (m SpectatorRequest) ToFrame() *Frame {
	f := NewFrame(MsgSpectatorRequest)
	f.Fields["peer_id"] = m.PeerID
	return f
}

func (m BattleSetup) ToFrame() *Frame {
	f := NewFrame(MsgBattleSetup)
	f.Fields["communication_mode"] = m.CommunicationMode
	f.Fields["pokemon_name"] = m.PokemonName
	f.Fields["stat_boosts"] = map[string]interface{}{
		"sp_attack_uses":  m.StatBoosts.SpAttackUses,
		"sp_defense_uses": m.StatBoosts.SpDefenseUses,
	}
	return f
}

func (m AttackAnnounce) ToFrame() *Frame {
	f := NewFrame(MsgAttackAnnounce)
	f.Fields["move_name"] = m.MoveName
	return f
}

func (m DefenseAnnounce) ToFrame() *Frame {
	return NewFrame(MsgDefenseAnnounce)
}

func (m CalculationReport) ToFrame() *Frame {
	f := NewFrame(MsgCalculationReport)
	f.Fields["attacker"] = m.Attacker
	f.Fields["move_used"] = m.MoveUsed
	f.Fields["remaining_health"] = int64(m.RemainingHealth)
	f.Fields["damage_dealt"] = int64(m.DamageDealt)
	f.Fields["defender_hp_remaining"] = int64(m.DefenderHPRemaining)
	f.Fields["status_message"] = m.StatusMessage
	return f
}

func (m CalculationConfirm) ToFrame() *Frame {
	return NewFrame(MsgCalculationConfirm)
}

func (m ResolutionRequest) ToFrame() *Frame {
	f := NewFrame(MsgResolutionRequest)
	f.Fields["attacker"] = m.Attacker
	f.Fields["move_used"] = m.MoveUsed
	f.Fields["damage_dealt"] = int64(m.DamageDealt)
	f.Fields["defender_hp_remaining"] = int64(m.DefenderHPRemaining)
	return f
}

func (m GameOver) ToFrame() *Frame {
	f := NewFrame(MsgGameOver)
	f.Fields["winner"] = m.Winner
	f.Fields["loser"] = m.Loser
	return f
}

func (m ChatMessage) ToFrame() *Frame {
	f := NewFrame(MsgChatMessage)
	f.Fields["sender_name"] = m.SenderName
	f.Fields["content_type"] = m.ContentType
	if m.MessageText != "" {
		f.Fields["message_text"] = m.MessageText
	}
	if m.StickerData != "" {
		f.Fields["sticker_data"] = m.StickerData
	}
	return f
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// field helpers used by the From* validators below.

func fieldString(f *Frame, key string) (string, error) {
	v, ok := f.Fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s missing field %q", ErrMalformedFrame, f.Type, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s field %q is not a string", ErrMalformedFrame, f.Type, key)
	}
	return s, nil
}

func fieldInt(f *Frame, key string) (int, error) {
	v, ok := f.Fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s missing field %q", ErrMalformedFrame, f.Type, key)
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s field %q is not numeric", ErrMalformedFrame, f.Type, key)
	}
}

func fieldStringSlice(f *Frame, key string) ([]string, error) {
	v, ok := f.Fields[key]
	if !ok {
		return nil, nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s field %q is not an array", ErrMalformedFrame, f.Type, key)
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s field %q contains a non-string element", ErrMalformedFrame, f.Type, key)
		}
		out = append(out, s)
	}
	return out, nil
}

// FromFrame validators — each rejects a malformed instance at the edge
// rather than letting a partially-populated struct leak into a state
// machine.

func HandshakeRequestFromFrame(f *Frame) (HandshakeRequest, error) {
	peerID, err := fieldString(f, "peer_id")
	if err != nil {
		return HandshakeRequest{}, err
	}
	team, err := fieldStringSlice(f, "team_preview")
	if err != nil {
		return HandshakeRequest{}, err
	}
	return HandshakeRequest{PeerID: peerID, TeamPreview: team}, nil
}

func HandshakeResponseFromFrame(f *Frame) (HandshakeResponse, error) {
	if f.AckNumber == nil {
		return HandshakeResponse{}, fmt.Errorf("%w: HANDSHAKE_RESPONSE missing ack_number", ErrMalformedFrame)
	}
	seed, err := fieldInt(f, "seed")
	if err != nil {
		return HandshakeResponse{}, err
	}
	peerID, err := fieldString(f, "peer_id")
	if err != nil {
		return HandshakeResponse{}, err
	}
	team, err := fieldStringSlice(f, "team_preview")
	if err != nil {
		return HandshakeResponse{}, err
	}
	ts, _ := fieldInt(f, "timestamp")
	return HandshakeResponse{Seed: uint32(seed), PeerID: peerID, TeamPreview: team, Timestamp: int64(ts)}, nil
}

func SpectatorRequestFromFrame(f *Frame) (SpectatorRequest, error) {
	peerID, err := fieldString(f, "peer_id")
	if err != nil {
		return SpectatorRequest{}, err
	}
	return SpectatorRequest{PeerID: peerID}, nil
}

func BattleSetupFromFrame(f *Frame) (BattleSetup, error) {
	mode, err := fieldString(f, "communication_mode")
	if err != nil {
		return BattleSetup{}, err
	}
	name, err := fieldString(f, "pokemon_name")
	if err != nil {
		return BattleSetup{}, err
	}
	boosts := StatBoosts{}
	if raw, ok := f.Fields["stat_boosts"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return BattleSetup{}, fmt.Errorf("%w: BATTLE_SETUP field \"stat_boosts\" is not an object", ErrMalformedFrame)
		}
		if v, ok := m["sp_attack_uses"].(float64); ok {
			boosts.SpAttackUses = int(v)
		}
		if v, ok := m["sp_defense_uses"].(float64); ok {
			boosts.SpDefenseUses = int(v)
		}
	}
	return BattleSetup{CommunicationMode: mode, PokemonName: name, StatBoosts: boosts}, nil
}

func AttackAnnounceFromFrame(f *Frame) (AttackAnnounce, error) {
	move, err := fieldString(f, "move_name")
	if err != nil {
		return AttackAnnounce{}, err
	}
	return AttackAnnounce{MoveName: move}, nil
}

func CalculationReportFromFrame(f *Frame) (CalculationReport, error) {
	attacker, err := fieldString(f, "attacker")
	if err != nil {
		return CalculationReport{}, err
	}
	move, err := fieldString(f, "move_used")
	if err != nil {
		return CalculationReport{}, err
	}
	remaining, err := fieldInt(f, "remaining_health")
	if err != nil {
		return CalculationReport{}, err
	}
	damage, err := fieldInt(f, "damage_dealt")
	if err != nil {
		return CalculationReport{}, err
	}
	defHP, err := fieldInt(f, "defender_hp_remaining")
	if err != nil {
		return CalculationReport{}, err
	}
	status, _ := fieldString(f, "status_message")
	return CalculationReport{
		Attacker:            attacker,
		MoveUsed:            move,
		RemainingHealth:     remaining,
		DamageDealt:         damage,
		DefenderHPRemaining: defHP,
		StatusMessage:       status,
	}, nil
}

func ResolutionRequestFromFrame(f *Frame) (ResolutionRequest, error) {
	attacker, err := fieldString(f, "attacker")
	if err != nil {
		return ResolutionRequest{}, err
	}
	move, err := fieldString(f, "move_used")
	if err != nil {
		return ResolutionRequest{}, err
	}
	damage, err := fieldInt(f, "damage_dealt")
	if err != nil {
		return ResolutionRequest{}, err
	}
	defHP, err := fieldInt(f, "defender_hp_remaining")
	if err != nil {
		return ResolutionRequest{}, err
	}
	return ResolutionRequest{Attacker: attacker, MoveUsed: move, DamageDealt: damage, DefenderHPRemaining: defHP}, nil
}

func GameOverFromFrame(f *Frame) (GameOver, error) {
	winner, err := fieldString(f, "winner")
	if err != nil {
		return GameOver{}, err
	}
	loser, err := fieldString(f, "loser")
	if err != nil {
		return GameOver{}, err
	}
	return GameOver{Winner: winner, Loser: loser}, nil
}

func ChatMessageFromFrame(f *Frame) (ChatMessage, error) {
	sender, err := fieldString(f, "sender_name")
	if err != nil {
		return ChatMessage{}, err
	}
	contentType, err := fieldString(f, "content_type")
	if err != nil {
		return ChatMessage{}, err
	}
	text, _ := fieldString(f, "message_text")
	sticker, _ := fieldString(f, "sticker_data")
	return ChatMessage{SenderName: sender, ContentType: contentType, MessageText: text, StickerData: sticker}, nil
}
