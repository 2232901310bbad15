package protocol

// RNG is a Mulberry32 pseudo-random generator, specified bit-for-bit by
// §4.5 so that two peers seeded identically produce identical streams.
// All intermediate arithmetic is performed on uint32, which wraps modulo
// 2^32 the same way on every platform Go targets.
type RNG struct {
	state uint32
}

// NewRNG returns a PRNG initialized to seed. Per §3 invariant I5, seed is
// set exactly once per session by HOST and propagated in HANDSHAKE_RESPONSE.
func NewRNG(seed uint32) *RNG {
	return &RNG{state: seed}
}

// Next advances the generator one step and returns a value in [0, 1).
func (r *RNG) Next() float64 {
	r.state += 0x6D2B79F5
	s := r.state
	t := (s ^ (s >> 15)) * (s | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296
}

// State exposes the current internal word, for test assertions that two
// independently seeded generators have stayed in lockstep.
func (r *RNG) State() uint32 {
	return r.state
}
