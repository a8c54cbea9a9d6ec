package scoring

import (
	"math/rand"
	"sync"
	"time"
)

// Jitter is the only source of randomness in scoring. Next returns a value in
// [0,1); 0.5 means "no offset".
type Jitter interface {
	Next() float64
}

// NoJitter always returns the midpoint, making Score fully deterministic.
type NoJitter struct{}

func (NoJitter) Next() float64 { return 0.5 }

type randJitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandJitter returns a goroutine-safe jitter source. A zero seed uses the
// current time.
func NewRandJitter(seed int64) Jitter {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &randJitter{rng: rand.New(rand.NewSource(seed))}
}

func (r *randJitter) Next() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// SequenceJitter replays values in order and then repeats the last one.
type SequenceJitter struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

func NewSequenceJitter(values ...float64) *SequenceJitter {
	return &SequenceJitter{values: values}
}

func (s *SequenceJitter) Next() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0.5
	}
	if s.pos >= len(s.values) {
		return s.values[len(s.values)-1]
	}
	v := s.values[s.pos]
	s.pos++
	return v
}
