package engine

import (
	"fmt"
	"math/rand"
)

// NewDeck returns all 52 cards in a fixed order (clubs, diamonds,
// hearts, spades; deuce to ace within each suit).
func NewDeck() []Card {
	deck := make([]Card, 0, 52)
	for s := 0; s < 4; s++ {
		for rnk := 2; rnk <= 14; rnk++ {
			deck = append(deck, Card{Rank: rnk, Suit: "cdhs"[s]})
		}
	}
	return deck
}

// Remaining returns the deck minus every card in the given groups.
// It errors if any card appears twice across the groups, which callers
// use as the dead-card exclusivity check.
func Remaining(groups ...[]Card) ([]Card, error) {
	used := make(map[Card]bool, 20)
	for _, g := range groups {
		for _, c := range g {
			if used[c] {
				return nil, fmt.Errorf("duplicate card %s", c)
			}
			used[c] = true
		}
	}
	deck := NewDeck()
	out := deck[:0]
	for _, c := range deck {
		if !used[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

// Sampler draws unique cards uniformly without replacement from a
// fixed remaining deck. Reset restores the full pool between
// simulation iterations without reallocating.
type Sampler struct {
	pool []Card
	n    int
}

func NewSampler(remaining []Card) *Sampler {
	pool := make([]Card, len(remaining))
	copy(pool, remaining)
	return &Sampler{pool: pool, n: len(pool)}
}

func (s *Sampler) Reset() { s.n = len(s.pool) }

// Left reports how many undrawn cards remain in the current round.
func (s *Sampler) Left() int { return s.n }

// Draw fills dst with len(dst) unique cards. Drawing more cards than
// remain is a contract violation the scenario validator must prevent.
func (s *Sampler) Draw(rng *rand.Rand, dst []Card) error {
	if len(dst) > s.n {
		return fmt.Errorf("draw %d cards with %d remaining", len(dst), s.n)
	}
	for i := range dst {
		j := rng.Intn(s.n)
		dst[i] = s.pool[j]
		s.n--
		s.pool[j] = s.pool[s.n]
		s.pool[s.n] = dst[i]
	}
	return nil
}
