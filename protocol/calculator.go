package protocol

import "math"

// MoveCategory selects which stat pair a move's damage is computed from.
type MoveCategory string

const (
	CategoryPhysical    MoveCategory = "PHYSICAL"
	CategorySpecial     MoveCategory = "SPECIAL"
	CategoryNonDamaging MoveCategory = "NON_DAMAGING"
)

// Move is the static definition of an attack, as returned by the
// (out-of-core) PokemonStatsRepository.
type Move struct {
	Name     string
	Power    int
	Type     string
	Category MoveCategory
}

// damageLevel is the fixed combatant level the formula assumes (§4.5).
const damageLevel = 50

// CalculateDamage evaluates the deterministic damage formula from §4.5.
// rng must be the same PRNG instance the session uses, and is advanced
// exactly once per call for a PHYSICAL or SPECIAL move; a NON_DAMAGING move
// returns 0 without advancing it. Callers on both peers must invoke this the
// same number of times, in the same order, to remain in lockstep (§4.5, §5).
func CalculateDamage(attacker, defender Stats, move Move, boostConsumed bool, rng *RNG) int {
	if move.Category == CategoryNonDamaging {
		return 0
	}

	var a, d float64
	switch move.Category {
	case CategoryPhysical:
		a, d = float64(attacker.Attack), float64(defender.Defense)
	case CategorySpecial:
		a, d = float64(attacker.SpAttack), float64(defender.SpDefense)
	}

	if boostConsumed {
		a *= 1.5
	}
	if d == 0 {
		d = 1
	}

	base := math.Floor((float64(2*damageLevel/5+2)*float64(move.Power)*a/d)/50+2)

	modifier := 1.0
	if attacker.HasType(move.Type) {
		modifier *= 1.5 // STAB
	}
	typeMult := 1.0
	if v, ok := defender.TypeMultipliers[move.Type]; ok {
		typeMult = v
	}
	modifier *= typeMult
	modifier *= 0.85 + rng.Next()*0.15

	if modifier == 0 {
		return 0
	}
	damage := int(math.Floor(base * modifier))
	if damage < 1 {
		damage = 1
	}
	return damage
}
