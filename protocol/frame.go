package protocol

// MessageType is the closed set of wire message tags from §6.
type MessageType string

const (
	MsgHandshakeRequest   MessageType = "HANDSHAKE_REQUEST"
	MsgHandshakeResponse  MessageType = "HANDSHAKE_RESPONSE"
	MsgSpectatorRequest   MessageType = "SPECTATOR_REQUEST"
	MsgBattleSetup        MessageType = "BATTLE_SETUP"
	MsgAttackAnnounce     MessageType = "ATTACK_ANNOUNCE"
	MsgDefenseAnnounce    MessageType = "DEFENSE_ANNOUNCE"
	MsgCalculationReport  MessageType = "CALCULATION_REPORT"
	MsgCalculationConfirm MessageType = "CALCULATION_CONFIRM"
	MsgResolutionRequest  MessageType = "RESOLUTION_REQUEST"
	MsgGameOver           MessageType = "GAME_OVER"
	MsgChatMessage        MessageType = "CHAT_MESSAGE"
	MsgAck                MessageType = "ACK"
)

// Frame is the codec-level, duck-typed representation of a wire message:
// a message_type tag, the optional sequence/ack numbers that must be
// ordered first on the wire, and the remaining payload fields. Values in
// Fields are one of: string, int64, float64, map[string]interface{}, or
// []interface{} (the last two coming from single-line JSON values).
type Frame struct {
	Type           MessageType
	SequenceNumber *uint32
	AckNumber      *uint32
	Fields         map[string]interface{}
}

// NewFrame returns an empty Frame of the given type ready for fields to be
// attached.
func NewFrame(t MessageType) *Frame {
	return &Frame{Type: t, Fields: make(map[string]interface{})}
}

func u32ptr(v uint32) *uint32 { return &v }
