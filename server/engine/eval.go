package engine

import (
	"sort"

	poker "github.com/paulhankin/poker"
)

// Category buckets a 5-card hand for result histograms. The ordering
// matches standard high-poker ranking, weakest first.
type Category int

const (
	HighCard Category = iota
	OnePair
	TwoPair
	Trips
	Straight
	Flush
	FullHouse
	Quads
	StraightFlush

	NumCategories = 9
)

var categoryNames = [NumCategories]string{
	"high_card", "pair", "two_pair", "trips", "straight",
	"flush", "full_house", "quads", "straight_flush",
}

func (c Category) String() string {
	if c < 0 || c >= NumCategories {
		return "unknown"
	}
	return categoryNames[c]
}

// HandValue is a comparable hand-strength key. Score comes from the
// library evaluator and totally orders all 5-card hands including
// kickers; larger is stronger. Ties between players are exact Score
// equality.
type HandValue struct {
	Score    int16
	Category Category
}

func (v HandValue) Beats(o HandValue) bool { return v.Score > o.Score }

// Convert our engine.Card -> library card.
// Our ranks: 2..14 (Ace=14). Library: 1..13 (Ace=1).
func toPH(c Card) poker.Card {
	var s poker.Suit
	switch c.Suit {
	case 'c':
		s = poker.Club
	case 'd':
		s = poker.Diamond
	case 'h':
		s = poker.Heart
	case 's':
		s = poker.Spade
	default:
		s = poker.Club
	}
	var r poker.Rank
	if c.Rank == 14 {
		r = poker.Rank(1)
	} else {
		r = poker.Rank(c.Rank)
	}
	card, _ := poker.MakeCard(s, r)
	return card
}

// Omaha hands use exactly 2 of 4 hole cards and exactly 3 of 5 board
// cards: C(4,2) x C(5,3) = 60 candidate combinations.
var holePairs = [6][2]int{
	{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3},
}

var boardTriples = [10][3]int{
	{0, 1, 2}, {0, 1, 3}, {0, 1, 4}, {0, 2, 3}, {0, 2, 4},
	{0, 3, 4}, {1, 2, 3}, {1, 2, 4}, {1, 3, 4}, {2, 3, 4},
}

// EvalOmaha returns the strongest 5-card hand reachable from 4 hole
// cards and a completed 5-card board under the 2+3 rule. hole must
// have length 4 and board length 5; the simulator validates both.
func EvalOmaha(hole, board []Card) HandValue {
	var ph [4]poker.Card
	var pb [5]poker.Card
	for i, c := range hole[:4] {
		ph[i] = toPH(c)
	}
	for i, c := range board[:5] {
		pb[i] = toPH(c)
	}

	first := true
	var bestScore int16
	bestHP, bestBT := 0, 0
	var five [5]poker.Card
	for hp, pair := range holePairs {
		five[0] = ph[pair[0]]
		five[1] = ph[pair[1]]
		for bt, tri := range boardTriples {
			five[2] = pb[tri[0]]
			five[3] = pb[tri[1]]
			five[4] = pb[tri[2]]
			if s := poker.Eval5(&five); first || s > bestScore {
				first = false
				bestScore = s
				bestHP, bestBT = hp, bt
			}
		}
	}

	pair := holePairs[bestHP]
	tri := boardTriples[bestBT]
	bestFive := [5]Card{
		hole[pair[0]], hole[pair[1]],
		board[tri[0]], board[tri[1]], board[tri[2]],
	}
	return HandValue{Score: bestScore, Category: classify5(bestFive)}
}

// classify5 buckets a 5-card hand. The library score is opaque, so
// the category of the winning combination is derived directly.
func classify5(five [5]Card) Category {
	ranks := make([]int, 5)
	flush := true
	for i, c := range five {
		ranks[i] = c.Rank
		if c.Suit != five[0].Suit {
			flush = false
		}
	}
	sort.Ints(ranks)

	straight := isStraight(ranks)
	switch {
	case straight && flush:
		return StraightFlush
	case flush:
		return Flush
	case straight:
		return Straight
	}

	counts := map[int]int{}
	for _, r := range ranks {
		counts[r]++
	}
	var pairs, trips, quads int
	for _, n := range counts {
		switch n {
		case 2:
			pairs++
		case 3:
			trips++
		case 4:
			quads++
		}
	}
	switch {
	case quads == 1:
		return Quads
	case trips == 1 && pairs == 1:
		return FullHouse
	case trips == 1:
		return Trips
	case pairs == 2:
		return TwoPair
	case pairs == 1:
		return OnePair
	}
	return HighCard
}

// ranks must be sorted ascending.
func isStraight(ranks []int) bool {
	// Wheel: A-2-3-4-5.
	if ranks[0] == 2 && ranks[1] == 3 && ranks[2] == 4 && ranks[3] == 5 && ranks[4] == 14 {
		return true
	}
	for i := 1; i < 5; i++ {
		if ranks[i] != ranks[i-1]+1 {
			return false
		}
	}
	return true
}
