package equity

import "github.com/lcrostarosa/ploscope/server/engine"

// BoardResult aggregates showdown outcomes for a single board. Slices
// are indexed by participant (0 = hero). Wins counts sole wins, Ties
// counts membership in a multiway best hand; Equity is the pot share
// (wins plus 1/N tie shares) normalized by iterations, so the Equity
// column sums to 1 across participants.
type BoardResult struct {
	Wins   []uint64  `json:"wins"`
	Ties   []uint64  `json:"ties"`
	Losses []uint64  `json:"losses"`
	Equity []float64 `json:"equity"`
}

// Result is the full simulator output.
type Result struct {
	Participants int           `json:"participants"`
	Iterations   int           `json:"iterations"`
	Boards       []BoardResult `json:"boards"`

	// ScoopEquity is the fraction of iterations a participant was
	// the sole best hand on every board at once. For single-board
	// scenarios it equals the sole-win fraction.
	ScoopEquity []float64 `json:"scoop_equity"`

	// Categories[p][c] counts how often participant p's best hand
	// fell in category c, summed over boards and iterations.
	Categories [][]uint64 `json:"categories"`

	// CategoryNames labels the Categories columns for consumers.
	CategoryNames []string `json:"category_names"`

	// HeroWinLow/High bound the hero's board-0 win rate with a 95%
	// Wilson interval.
	HeroWinLow  float64 `json:"hero_win_low"`
	HeroWinHigh float64 `json:"hero_win_high"`
}

func categoryNames() []string {
	out := make([]string, engine.NumCategories)
	for i := range out {
		out[i] = engine.Category(i).String()
	}
	return out
}
