package sim

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the randomness used by the simulation. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// lockedSource makes a *rand.Rand safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a concurrency-safe source. A zero seed uses the
// current time.
func NewRandomSource(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// SequenceSource replays fixed values, cycling when exhausted. Intn returns
// the next value modulo n.
type SequenceSource struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
	fi, ii int
}

// NewSequenceSource creates a SequenceSource. Either slice may be empty, in
// which case the corresponding method returns zero.
func NewSequenceSource(floats []float64, ints []int) *SequenceSource {
	return &SequenceSource{floats: floats, ints: ints}
}

func (s *SequenceSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[s.fi%len(s.floats)]
	s.fi++
	return v
}

func (s *SequenceSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 || n <= 0 {
		return 0
	}
	v := s.ints[s.ii%len(s.ints)]
	s.ii++
	if v < 0 {
		v = -v
	}
	return v % n
}

// WeightedOutcome succeeds with probability Rate. A draw strictly greater
// than 1-Rate is a success, so Rate 1 always succeeds and Rate 0 never does.
type WeightedOutcome struct {
	Source Source
	Rate   float64
}

// Succeeds draws one outcome. The command is ignored; every command shares
// the same odds.
func (w WeightedOutcome) Succeeds(command string) bool {
	if w.Rate >= 1 {
		return true
	}
	if w.Rate <= 0 {
		return false
	}
	return w.Source.Float64() > 1-w.Rate
}

// FixedOutcome always returns the same result.
type FixedOutcome bool

func (f FixedOutcome) Succeeds(string) bool { return bool(f) }
