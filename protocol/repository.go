package protocol

import "fmt"

// PokemonStatsRepository is the single boundary the core consumes for
// static game data (§1). Its implementation — loading from a spreadsheet,
// a database, or anything else — is explicitly out of scope; this package
// only depends on the interface.
type PokemonStatsRepository interface {
	BaseStats(pokemonName string) (Stats, error)
	Move(moveName string) (Move, error)
}

// MemoryRepository is an in-memory PokemonStatsRepository seeded with a
// small fixed catalogue, used by the reference driver (cmd/pokepeer) and
// by this package's own tests.
type MemoryRepository struct {
	stats map[string]Stats
	moves map[string]Move
}

// NewMemoryRepository returns a repository pre-populated with a handful of
// species and moves sufficient to play out a battle end to end.
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{
		stats: make(map[string]Stats),
		moves: make(map[string]Move),
	}

	r.stats["Pikachu"] = Stats{
		HP: 35, Attack: 55, Defense: 40, SpAttack: 50, SpDefense: 50,
		Types:           []string{"electric"},
		TypeMultipliers: map[string]float64{"ground": 2.0},
	}
	r.stats["Bulbasaur"] = Stats{
		HP: 45, Attack: 49, Defense: 49, SpAttack: 65, SpDefense: 65,
		Types:           []string{"grass", "poison"},
		TypeMultipliers: map[string]float64{"electric": 0.5, "fire": 2.0, "psychic": 2.0},
	}
	r.stats["Charizard"] = Stats{
		HP: 78, Attack: 84, Defense: 78, SpAttack: 109, SpDefense: 85,
		Types:           []string{"fire", "flying"},
		TypeMultipliers: map[string]float64{"water": 2.0, "electric": 2.0, "rock": 2.0},
	}
	r.stats["Squirtle"] = Stats{
		HP: 44, Attack: 48, Defense: 65, SpAttack: 50, SpDefense: 64,
		Types:           []string{"water"},
		TypeMultipliers: map[string]float64{"electric": 2.0, "grass": 2.0},
	}

	r.moves["Thunderbolt"] = Move{Name: "Thunderbolt", Power: 90, Type: "electric", Category: CategorySpecial}
	r.moves["Tackle"] = Move{Name: "Tackle", Power: 40, Type: "normal", Category: CategoryPhysical}
	r.moves["Ember"] = Move{Name: "Ember", Power: 40, Type: "fire", Category: CategorySpecial}
	r.moves["VineWhip"] = Move{Name: "VineWhip", Power: 45, Type: "grass", Category: CategoryPhysical}
	r.moves["WaterGun"] = Move{Name: "WaterGun", Power: 40, Type: "water", Category: CategorySpecial}
	r.moves["Growl"] = Move{Name: "Growl", Power: 0, Type: "normal", Category: CategoryNonDamaging}

	return r
}

func (r *MemoryRepository) BaseStats(name string) (Stats, error) {
	s, ok := r.stats[name]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownPokemon, name)
	}
	return s, nil
}

func (r *MemoryRepository) Move(name string) (Move, error) {
	m, ok := r.moves[name]
	if !ok {
		return Move{}, fmt.Errorf("%w: %s", ErrUnknownMove, name)
	}
	return m, nil
}
