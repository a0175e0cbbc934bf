package equity

import (
	"errors"
	"fmt"

	"github.com/lcrostarosa/ploscope/server/engine"
)

// Bounds enforced before any credit is consumed or sampling happens.
const (
	MinIterations = 1
	MaxIterations = 10_000_000

	MaxRandomOpponents = 8
	MaxParticipants    = 9
	MaxBoards          = 2
	MaxWorkers         = 64

	HoleCards  = 4
	BoardCards = 5
)

// ErrInvalid marks scenario validation failures. These are rejected
// synchronously at submission and never create a job.
var ErrInvalid = errors.New("invalid scenario")

// Scenario is one double-board Omaha spot. Participant indexing is
// fixed: 0 is the hero, named opponents follow in order, random
// opponents fill the remaining slots and are re-sampled every
// iteration.
type Scenario struct {
	Hero            []engine.Card   `json:"hero"`
	Opponents       [][]engine.Card `json:"opponents,omitempty"`
	Boards          [][]engine.Card `json:"boards"`
	RandomOpponents int             `json:"random_opponents"`
	Iterations      int             `json:"iterations"`
	Seed            int64           `json:"seed,omitempty"`
	Workers         int             `json:"workers,omitempty"`
}

// Participants counts hero + named + random opponents.
func (s Scenario) Participants() int {
	return 1 + len(s.Opponents) + s.RandomOpponents
}

// Validate checks structural bounds and card exclusivity. A non-nil
// return wraps ErrInvalid.
func (s Scenario) Validate() error {
	if len(s.Hero) != HoleCards {
		return fmt.Errorf("%w: hero must hold exactly %d cards, got %d", ErrInvalid, HoleCards, len(s.Hero))
	}
	for i, opp := range s.Opponents {
		if len(opp) != HoleCards {
			return fmt.Errorf("%w: opponent %d must hold exactly %d cards, got %d", ErrInvalid, i, HoleCards, len(opp))
		}
	}
	if len(s.Boards) < 1 || len(s.Boards) > MaxBoards {
		return fmt.Errorf("%w: want 1 or %d boards, got %d", ErrInvalid, MaxBoards, len(s.Boards))
	}
	for i, b := range s.Boards {
		if len(b) > BoardCards {
			return fmt.Errorf("%w: board %d has %d cards, max %d", ErrInvalid, i, len(b), BoardCards)
		}
	}
	if s.RandomOpponents < 0 || s.RandomOpponents > MaxRandomOpponents {
		return fmt.Errorf("%w: random opponents %d outside [0,%d]", ErrInvalid, s.RandomOpponents, MaxRandomOpponents)
	}
	if n := s.Participants(); n > MaxParticipants {
		return fmt.Errorf("%w: %d participants, max %d", ErrInvalid, n, MaxParticipants)
	}
	if s.Iterations < MinIterations || s.Iterations > MaxIterations {
		return fmt.Errorf("%w: iterations %d outside [%d,%d]", ErrInvalid, s.Iterations, MinIterations, MaxIterations)
	}
	if s.Workers < 0 || s.Workers > MaxWorkers {
		return fmt.Errorf("%w: workers %d outside [0,%d]", ErrInvalid, s.Workers, MaxWorkers)
	}

	remaining, err := s.remaining()
	if err != nil {
		return err
	}
	if need := s.cardsToSample(); need > len(remaining) {
		return fmt.Errorf("%w: scenario needs %d sampled cards but only %d remain", ErrInvalid, need, len(remaining))
	}
	return nil
}

// remaining builds the deck minus all known cards, failing on any
// duplicate across hero, named opponents and both boards.
func (s Scenario) remaining() ([]engine.Card, error) {
	groups := make([][]engine.Card, 0, 2+len(s.Opponents)+len(s.Boards))
	groups = append(groups, s.Hero)
	groups = append(groups, s.Opponents...)
	groups = append(groups, s.Boards...)
	remaining, err := engine.Remaining(groups...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return remaining, nil
}

func (s Scenario) cardsToSample() int {
	need := s.RandomOpponents * HoleCards
	for _, b := range s.Boards {
		need += BoardCards - len(b)
	}
	return need
}

// deterministic reports whether the scenario requires no sampling at
// all: every board complete and no random opponents. One evaluation
// pass then stands in for every requested iteration.
func (s Scenario) deterministic() bool {
	if s.RandomOpponents > 0 {
		return false
	}
	for _, b := range s.Boards {
		if len(b) != BoardCards {
			return false
		}
	}
	return true
}
