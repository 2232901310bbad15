package protocol

// Role is a peer's immutable session role (§3).
type Role string

const (
	RoleHost      Role = "HOST"
	RoleJoiner    Role = "JOINER"
	RoleSpectator Role = "SPECTATOR"
)

// Phase is the battle-state machine's current phase (§3).
type Phase string

const (
	PhaseSetupExchanging Phase = "SETUP_EXCHANGING"
	PhaseWaitingForMove  Phase = "WAITING_FOR_MOVE"
	PhaseProcessingTurn  Phase = "PROCESSING_TURN"
	PhaseGameOver        Phase = "GAME_OVER"
)

// Stats is a combatant's immutable base stats plus its type-effectiveness
// table, as sourced from the (out-of-core) PokemonStatsRepository.
type Stats struct {
	HP              int
	Attack          int
	Defense         int
	SpAttack        int
	SpDefense       int
	Types           []string
	TypeMultipliers map[string]float64
}

// HasType reports whether t is one of the combatant's own types, for STAB.
func (s Stats) HasType(t string) bool {
	for _, own := range s.Types {
		if own == t {
			return true
		}
	}
	return false
}

// Side is one combatant's mutable battle-state (§3).
type Side struct {
	PokemonName string
	Base        Stats
	CurrentHP   int
	Boosts      StatBoosts
}

// PendingTurn is held while phase == PROCESSING_TURN (§3).
type PendingTurn struct {
	AttackerName    string
	MoveName        string
	LocalIsAttacker bool
	LocalResult     *TurnResult
	Applied         bool
	RemoteReport    *CalculationReport
}

// TurnResult is the tuple a peer computes locally and cross-checks against
// its opponent's CALCULATION_REPORT.
type TurnResult struct {
	DamageDealt     int
	DefenderHPAfter int
	AttackerHPAfter int
	StatusText      string

	// BoostConsumed records whether this turn's damage calculation spent one
	// of the attacker's sp_attack_uses (§4.5 step 2). It is not carried over
	// the wire — both peers derive it independently from identical
	// Boosts.SpAttackUses state — but it must survive a RESOLUTION_REQUEST
	// adoption so applyLocal still debits the right counter.
	BoostConsumed bool
}

// BattleState is the per-session state held identically (after every
// completed turn, per invariant I3/I4) on both peers.
type BattleState struct {
	Turn     int
	Phase    Phase
	Seed     uint32
	Local    Side
	Opponent Side
	Pending  *PendingTurn
}

// NewBattleState returns a fresh battle state on turn 1 in the
// SETUP_EXCHANGING phase; its sides are populated lazily per §3's Lifecycle
// note.
func NewBattleState() *BattleState {
	return &BattleState{Phase: PhaseSetupExchanging, Turn: 1}
}

// ConnState is the pre-handoff connection state (§4.3), covering the states
// that precede WAITING_FOR_MOVE/PROCESSING_TURN/GAME_OVER — those live in
// Phase and belong to the turn state machine once the connection SM has
// handed control over.
type ConnState string

const (
	ConnDisconnected    ConnState = "DISCONNECTED"
	ConnInitSent        ConnState = "INIT_SENT"
	ConnSetupExchanging ConnState = "SETUP_EXCHANGING"
	ConnSpectating      ConnState = "SPECTATING"
	ConnActive          ConnState = "ACTIVE"
	ConnClosed          ConnState = "CLOSED"
)

// Session is the single explicit context threaded by reference through the
// connection and turn state machines, per §9's "process-wide state →
// explicit context" note: nothing here is a package-global. The codec and
// the reliability layer do not take a Session.
type Session struct {
	Role         Role
	SelfPeerID   string
	RemotePeerID string
	RemoteAddr   string
	TeamPreview  []string

	Repo PokemonStatsRepository
	RNG  *RNG

	ConnState ConnState
	SentSetup bool
	Battle    *BattleState

	SelfPokemonName string
	SelfBoosts      StatBoosts

	// ResolutionSent tracks whether this peer has already proposed a
	// RESOLUTION_REQUEST for the in-progress turn, for the simultaneous-
	// mismatch tiebreak in the turn state machine (§9 open question #2).
	ResolutionSent bool
}

// NewSession returns a Session in the initial DISCONNECTED state, ready for
// the connection state machine to drive.
func NewSession(role Role, selfPeerID string, teamPreview []string, repo PokemonStatsRepository) *Session {
	return &Session{
		Role:        role,
		SelfPeerID:  selfPeerID,
		TeamPreview: teamPreview,
		Repo:        repo,
		ConnState:   ConnDisconnected,
		Battle:      NewBattleState(),
	}
}
