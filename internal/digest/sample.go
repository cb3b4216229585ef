// Package digest selects items for a digest and renders them as a message.
package digest

import (
	"math"
	"math/rand/v2"

	"github.com/deusflow/digestbot/internal/news"
)

// Rand is the randomness a Sampler needs. *rand.Rand from math/rand/v2
// satisfies it, so tests can pass a seeded source.
type Rand interface {
	Perm(n int) []int
	Shuffle(n int, swap func(i, j int))
}

// globalRand uses the math/rand/v2 top-level functions, which are safe for
// concurrent use.
type globalRand struct{}

func (globalRand) Perm(n int) []int                   { return rand.Perm(n) }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Sampler draws a proportional random selection from the two pools.
type Sampler struct {
	rnd Rand
}

// NewSampler returns a Sampler using rnd, or the process-wide source when
// rnd is nil. A *rand.Rand is not safe for concurrent use; callers sharing
// one must serialize Sample calls.
func NewSampler(rnd Rand) *Sampler {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Sampler{rnd: rnd}
}

// Count is how many items a ratio selects from a pool of size n:
// floor(n*ratio), clamped to [0, n]. Ratios outside [0,1] are clamped and
// NaN selects nothing.
func Count(n int, ratio float64) int {
	if n <= 0 || math.IsNaN(ratio) || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return n
	}
	return min(int(math.Floor(float64(n)*ratio)), n)
}

// Pick draws Count(len(pool), ratio) items uniformly at random without
// replacement. The pool is not modified.
func (s *Sampler) Pick(pool []news.Item, ratio float64) []news.Item {
	k := Count(len(pool), ratio)
	if k == 0 {
		return nil
	}
	perm := s.rnd.Perm(len(pool))
	out := make([]news.Item, k)
	for i := 0; i < k; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

// Sample picks from each pool independently, concatenates the picks and
// shuffles the result so domestic and international items interleave.
func (s *Sampler) Sample(domestic, international []news.Item, ratioDomestic, ratioInternational float64) []news.Item {
	picked := append(s.Pick(domestic, ratioDomestic), s.Pick(international, ratioInternational)...)
	s.rnd.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	return picked
}
