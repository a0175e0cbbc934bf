// Package solver approximates a post-flop betting strategy with
// iterative regret matching over a depth-limited heads-up tree. It is
// deliberately not a full CFR solve: lines past the depth cutoff are
// settled by a static pot-share evaluation, so output is an
// approximation and is labelled as such.
package solver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lcrostarosa/ploscope/server/engine"
	"github.com/lcrostarosa/ploscope/server/equity"
)

// ErrInvalid marks game validation failures, rejected before any
// credit is consumed.
var ErrInvalid = errors.New("invalid solver game")

const (
	defaultMaxDepth   = 6
	maxMaxDepth       = 12
	defaultIterations = 1_000
	maxIterations     = 200_000
	maxRaisesPerLine  = 3

	// evalIterations sizes the Monte-Carlo pass behind the static
	// evaluation. Computed once per solve; the board and hero hand
	// are fixed for the whole tree.
	evalIterations = 2_000
)

var defaultBetSizes = []float64{0.5, 1.0}

// Game is a single-board post-flop spot: the hero's 4-card hand, a
// 3-5 card board, pot and effective stacks in chips, and the amount
// the acting player faces. Hero is always the player to act at the
// root.
type Game struct {
	Board          []engine.Card `json:"board"`
	Hero           []engine.Card `json:"hero"`
	Pot            float64       `json:"pot"`
	EffectiveStack float64       `json:"effective_stack"`
	ToCall         float64       `json:"to_call"`
	BetSizes       []float64     `json:"bet_sizes,omitempty"`
	MaxDepth       int           `json:"max_depth,omitempty"`
	Iterations     int           `json:"iterations,omitempty"`
	Seed           int64         `json:"seed,omitempty"`
}

// Validate checks structural bounds. A non-nil return wraps ErrInvalid.
func (g Game) Validate() error {
	if len(g.Hero) != equity.HoleCards {
		return fmt.Errorf("%w: hero must hold exactly %d cards, got %d", ErrInvalid, equity.HoleCards, len(g.Hero))
	}
	if len(g.Board) < 3 || len(g.Board) > equity.BoardCards {
		return fmt.Errorf("%w: board must have 3-%d cards, got %d", ErrInvalid, equity.BoardCards, len(g.Board))
	}
	if _, err := engine.Remaining(g.Hero, g.Board); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if g.Pot <= 0 {
		return fmt.Errorf("%w: pot must be positive", ErrInvalid)
	}
	if g.EffectiveStack < 0 {
		return fmt.Errorf("%w: negative effective stack", ErrInvalid)
	}
	if g.ToCall < 0 || g.ToCall > g.EffectiveStack {
		return fmt.Errorf("%w: to_call %v outside [0, stack]", ErrInvalid, g.ToCall)
	}
	for _, f := range g.BetSizes {
		if f <= 0 || f > 4 {
			return fmt.Errorf("%w: bet size fraction %v outside (0,4]", ErrInvalid, f)
		}
	}
	if g.MaxDepth < 0 || g.MaxDepth > maxMaxDepth {
		return fmt.Errorf("%w: max depth %d outside [0,%d]", ErrInvalid, g.MaxDepth, maxMaxDepth)
	}
	if g.Iterations < 0 || g.Iterations > maxIterations {
		return fmt.Errorf("%w: iterations %d outside [0,%d]", ErrInvalid, g.Iterations, maxIterations)
	}
	return nil
}

// ActionFreq is one row of a per-information-set mixed strategy.
type ActionFreq struct {
	Action string  `json:"action"`
	Freq   float64 `json:"freq"`
}

// Solution is the solver output. Approximate is always true: the tree
// is depth-bounded and leaves use a heuristic evaluation, so this is
// a statistically grounded approximation, not equilibrium play.
type Solution struct {
	Strategies  map[string][]ActionFreq `json:"strategies"`
	RootEV      float64                 `json:"root_ev"`
	HeroEquity  float64                 `json:"hero_equity"`
	Iterations  int                     `json:"iterations"`
	Approximate bool                    `json:"approximate"`
}

// Solve runs regret-matching iterations from the root and returns the
// average strategy per information set plus a root EV estimate in
// chips (relative to hero folding immediately).
func Solve(ctx context.Context, g Game) (*Solution, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if g.MaxDepth == 0 {
		g.MaxDepth = defaultMaxDepth
	}
	if g.Iterations == 0 {
		g.Iterations = defaultIterations
	}
	if len(g.BetSizes) == 0 {
		g.BetSizes = defaultBetSizes
	}

	heroEq, err := staticHeroEquity(ctx, g)
	if err != nil {
		return nil, err
	}

	s := &solver{game: g, heroEq: heroEq, nodes: map[string]*infoSet{}}
	root := state{
		pot:    g.Pot,
		toCall: g.ToCall,
		stacks: [2]float64{g.EffectiveStack, g.EffectiveStack},
	}
	for i := 0; i < g.Iterations; i++ {
		if i&255 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		s.cfr(root, [2]float64{1, 1})
	}

	sol := &Solution{
		Strategies:  make(map[string][]ActionFreq, len(s.nodes)),
		RootEV:      s.averageEV(root),
		HeroEquity:  heroEq,
		Iterations:  g.Iterations,
		Approximate: true,
	}
	for key, is := range s.nodes {
		avg := is.average()
		freqs := make([]ActionFreq, len(is.actions))
		for i, a := range is.actions {
			freqs[i] = ActionFreq{Action: a.name, Freq: avg[i]}
		}
		sort.Slice(freqs, func(i, j int) bool { return freqs[i].Action < freqs[j].Action })
		sol.Strategies[key] = freqs
	}
	return sol, nil
}

// staticHeroEquity estimates hero hand strength versus one random
// continuing hand on the fixed board. Every depth-cutoff leaf settles
// the pot proportionally to this figure.
func staticHeroEquity(ctx context.Context, g Game) (float64, error) {
	seed := g.Seed
	if seed == 0 {
		seed = 1 // static eval has no reason to vary run to run
	}
	res, err := equity.Simulate(ctx, equity.Scenario{
		Hero:            g.Hero,
		Boards:          [][]engine.Card{g.Board},
		RandomOpponents: 1,
		Iterations:      evalIterations,
		Seed:            seed,
		Workers:         1,
	})
	if err != nil {
		return 0, err
	}
	return res.Boards[0].Equity[0], nil
}

type action struct {
	name   string
	kind   byte // 'f' fold, 'c' call, 'k' check, 'b' bet/raise
	amount float64
}

// state is an explicit per-solve value; no process-wide tables.
type state struct {
	pot     float64
	toCall  float64
	stacks  [2]float64
	contrib [2]float64
	actor   int // 0 = hero
	depth   int
	raises  int
	checked bool // previous action this street was a check
	history string
}

type infoSet struct {
	actions     []action
	regretSum   []float64
	strategySum []float64
}

// strategy is regret matching: proportional to positive cumulative
// regret, uniform when no action has positive regret.
func (is *infoSet) strategy() []float64 {
	out := make([]float64, len(is.actions))
	var pos float64
	for i, r := range is.regretSum {
		if r > 0 {
			out[i] = r
			pos += r
		}
	}
	if pos <= 0 {
		u := 1.0 / float64(len(out))
		for i := range out {
			out[i] = u
		}
		return out
	}
	for i := range out {
		out[i] /= pos
	}
	return out
}

func (is *infoSet) average() []float64 {
	out := make([]float64, len(is.actions))
	var sum float64
	for _, v := range is.strategySum {
		sum += v
	}
	if sum <= 0 {
		u := 1.0 / float64(len(out))
		for i := range out {
			out[i] = u
		}
		return out
	}
	for i, v := range is.strategySum {
		out[i] = v / sum
	}
	return out
}

type solver struct {
	game   Game
	heroEq float64
	nodes  map[string]*infoSet
}

func (s *solver) node(key string, acts []action) *infoSet {
	is, ok := s.nodes[key]
	if !ok {
		is = &infoSet{
			actions:     acts,
			regretSum:   make([]float64, len(acts)),
			strategySum: make([]float64, len(acts)),
		}
		s.nodes[key] = is
	}
	return is
}

func (s *solver) key(st state) string {
	return fmt.Sprintf("p%d:%s", st.actor, st.history)
}

// showdownU settles a line at the depth cutoff or after closed
// betting: any outstanding bet is treated as called, then the final
// pot is split by the static equity figure. Utility is hero's net
// chips relative to the root.
func (s *solver) showdownU(st state) float64 {
	pot := st.pot
	heroContrib := st.contrib[0]
	if st.toCall > 0 {
		pay := st.toCall
		if pay > st.stacks[st.actor] {
			pay = st.stacks[st.actor]
		}
		pot += pay
		if st.actor == 0 {
			heroContrib += pay
		}
	}
	return s.heroEq*pot - heroContrib
}

// actions builds the menu for the acting player: fold/call plus
// raises when facing a bet, check plus bets otherwise. Sizes come
// from the configured pot-fraction menu, capped by stack.
func (s *solver) actions(st state) []action {
	stack := st.stacks[st.actor]
	var out []action
	if st.toCall > 0 {
		out = append(out, action{name: "fold", kind: 'f'})
		out = append(out, action{name: "call", kind: 'c'})
		if st.raises < maxRaisesPerLine {
			potAfterCall := st.pot + st.toCall
			for _, f := range s.game.BetSizes {
				raise := f * potAfterCall
				total := st.toCall + raise
				if total <= stack && raise > 0 {
					out = append(out, action{
						name:   fmt.Sprintf("raise_%d", int(f*100)),
						kind:   'b',
						amount: total,
					})
				}
			}
		}
		return out
	}
	out = append(out, action{name: "check", kind: 'k'})
	if st.raises < maxRaisesPerLine {
		for _, f := range s.game.BetSizes {
			bet := f * st.pot
			if bet <= stack && bet > 0 {
				out = append(out, action{
					name:   fmt.Sprintf("bet_%d", int(f*100)),
					kind:   'b',
					amount: bet,
				})
			}
		}
	}
	return out
}

// apply advances the state by one action. terminal is true when the
// line ends (fold, closing call, or check behind).
func (s *solver) apply(st state, a action) (next state, terminal bool, utility float64) {
	next = st
	next.depth++
	next.history += "/" + a.name
	next.checked = false

	switch a.kind {
	case 'f':
		if st.actor == 0 {
			return next, true, -st.contrib[0]
		}
		return next, true, st.pot - st.contrib[0]
	case 'c':
		pay := st.toCall
		if pay > st.stacks[st.actor] {
			pay = st.stacks[st.actor]
		}
		next.pot += pay
		next.contrib[st.actor] += pay
		next.stacks[st.actor] -= pay
		next.toCall = 0
		// Heads-up single street: a call closes the betting.
		return next, true, s.heroEq*next.pot - next.contrib[0]
	case 'k':
		if st.checked {
			return next, true, s.heroEq*st.pot - st.contrib[0]
		}
		next.checked = true
		next.actor = 1 - st.actor
		return next, false, 0
	default: // bet or raise
		pay := a.amount
		next.pot += pay
		next.contrib[st.actor] += pay
		next.stacks[st.actor] -= pay
		next.toCall = pay - st.toCall
		next.raises++
		next.actor = 1 - st.actor
		return next, false, 0
	}
}

// cfr walks the tree once, returning hero utility under the current
// strategies and updating the acting player's regrets with
// counterfactual weights. Two-player zero-sum, so the villain's
// utility is the negation.
func (s *solver) cfr(st state, reach [2]float64) float64 {
	if st.depth >= s.game.MaxDepth {
		return s.showdownU(st)
	}
	acts := s.actions(st)
	is := s.node(s.key(st), acts)
	strat := is.strategy()

	utils := make([]float64, len(acts))
	var nodeU float64
	for i, a := range acts {
		child, terminal, u := s.apply(st, a)
		if !terminal {
			nr := reach
			nr[st.actor] *= strat[i]
			u = s.cfr(child, nr)
		}
		utils[i] = u
		nodeU += strat[i] * u
	}

	sign := 1.0
	if st.actor == 1 {
		sign = -1.0
	}
	cf := reach[1-st.actor]
	for i := range acts {
		is.regretSum[i] += cf * sign * (utils[i] - nodeU)
		is.strategySum[i] += reach[st.actor] * strat[i]
	}
	return nodeU
}

// averageEV evaluates the root under the accumulated average
// strategies.
func (s *solver) averageEV(st state) float64 {
	if st.depth >= s.game.MaxDepth {
		return s.showdownU(st)
	}
	is, ok := s.nodes[s.key(st)]
	if !ok {
		return s.showdownU(st)
	}
	avg := is.average()
	var ev float64
	for i, a := range is.actions {
		child, terminal, u := s.apply(st, a)
		if !terminal {
			u = s.averageEV(child)
		}
		ev += avg[i] * u
	}
	return ev
}
