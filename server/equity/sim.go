package equity

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lcrostarosa/ploscope/server/engine"
)

// defaultWorkers keeps the shard split stable so seeded runs stay
// reproducible when the caller leaves Workers unset.
const defaultWorkers = 4

// shardSeedStride spreads per-shard seeds across the seed space. It is
// the splitmix64 increment (0x9E3779B97F4A7C15) interpreted as a
// two's-complement int64 so the multiply stays in range.
const shardSeedStride int64 = -0x61C8864680B583EB

// Simulate runs the Monte-Carlo showdown loop and aggregates results.
// Iterations are partitioned across a bounded worker pool; each shard
// owns its rng and counters, and partials are merged in shard order,
// so a fixed (Seed, Iterations, Workers) triple is bit-reproducible.
func Simulate(ctx context.Context, sc Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if sc.deterministic() {
		return simulateStatic(ctx, sc)
	}

	remaining, err := sc.remaining()
	if err != nil {
		return nil, err
	}

	workers := sc.Workers
	if workers == 0 {
		workers = defaultWorkers
	}
	if workers > sc.Iterations {
		workers = sc.Iterations
	}
	baseSeed := sc.Seed
	if baseSeed == 0 {
		baseSeed = time.Now().UnixNano()
	}

	accs := make([]*accumulator, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		iters := sc.Iterations / workers
		if i < sc.Iterations%workers {
			iters++
		}
		seed := baseSeed + int64(i)*shardSeedStride
		wg.Add(1)
		go func(i, iters int, seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			accs[i], errs[i] = runShard(ctx, sc, remaining, iters, rng)
		}(i, iters, seed)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	total := accs[0]
	for _, a := range accs[1:] {
		total.merge(a)
	}
	return finalize(sc, total), nil
}

// simulateStatic handles fully specified scenarios: both boards
// complete and no random opponents. One evaluation pass stands in for
// every requested iteration; no sampling happens at all.
func simulateStatic(ctx context.Context, sc Scenario) (*Result, error) {
	acc, err := runShard(ctx, sc, nil, 1, nil)
	if err != nil {
		return nil, err
	}
	acc.scale(uint64(sc.Iterations))
	return finalize(sc, acc), nil
}

func runShard(ctx context.Context, sc Scenario, remaining []engine.Card, iters int, rng *rand.Rand) (*accumulator, error) {
	nParts := sc.Participants()
	nBoards := len(sc.Boards)
	acc := newAccumulator(nBoards, nParts)
	sampler := engine.NewSampler(remaining)

	boards := make([][]engine.Card, nBoards)
	missing := make([]int, nBoards)
	for b := range sc.Boards {
		boards[b] = make([]engine.Card, BoardCards)
		copy(boards[b], sc.Boards[b])
		missing[b] = BoardCards - len(sc.Boards[b])
	}

	holes := make([][]engine.Card, nParts)
	holes[0] = sc.Hero
	for i, opp := range sc.Opponents {
		holes[1+i] = opp
	}
	firstRandom := 1 + len(sc.Opponents)
	for p := firstRandom; p < nParts; p++ {
		holes[p] = make([]engine.Card, HoleCards)
	}

	values := make([]engine.HandValue, nParts)
	soleWinner := make([]int, nBoards)

	for it := 0; it < iters; it++ {
		if it&1023 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		// One shared draw per iteration: cards dealt to one board or
		// opponent are dead for the rest of the iteration.
		sampler.Reset()
		for b := 0; b < nBoards; b++ {
			if missing[b] > 0 {
				if err := sampler.Draw(rng, boards[b][BoardCards-missing[b]:]); err != nil {
					return nil, err
				}
			}
		}
		for p := firstRandom; p < nParts; p++ {
			if err := sampler.Draw(rng, holes[p]); err != nil {
				return nil, err
			}
		}

		for b := 0; b < nBoards; b++ {
			var best int16
			winners := 0
			for p := 0; p < nParts; p++ {
				v := engine.EvalOmaha(holes[p], boards[b])
				values[p] = v
				acc.cats[p][v.Category]++
				switch {
				case p == 0 || v.Score > best:
					best = v.Score
					winners = 1
					soleWinner[b] = p
				case v.Score == best:
					winners++
				}
			}
			shareEach := 1.0 / float64(winners)
			for p := 0; p < nParts; p++ {
				if values[p].Score == best {
					acc.share[b][p] += shareEach
					if winners == 1 {
						acc.wins[b][p]++
					} else {
						acc.ties[b][p]++
					}
				}
			}
			if winners > 1 {
				soleWinner[b] = -1
			}
		}

		// Scoop: the same single participant holds the sole best hand
		// on every board of the iteration.
		scooper := soleWinner[0]
		for b := 1; b < nBoards; b++ {
			if soleWinner[b] != scooper {
				scooper = -1
			}
		}
		if scooper >= 0 {
			acc.scoop[scooper]++
		}
		acc.iters++
	}
	return acc, nil
}

func finalize(sc Scenario, acc *accumulator) *Result {
	nParts := sc.Participants()
	nBoards := len(sc.Boards)
	total := float64(acc.iters)

	res := &Result{
		Participants:  nParts,
		Iterations:    int(acc.iters),
		Boards:        make([]BoardResult, nBoards),
		ScoopEquity:   make([]float64, nParts),
		Categories:    acc.cats,
		CategoryNames: categoryNames(),
	}
	for b := 0; b < nBoards; b++ {
		br := BoardResult{
			Wins:   acc.wins[b],
			Ties:   acc.ties[b],
			Losses: make([]uint64, nParts),
			Equity: make([]float64, nParts),
		}
		for p := 0; p < nParts; p++ {
			br.Losses[p] = acc.iters - acc.wins[b][p] - acc.ties[b][p]
			br.Equity[p] = acc.share[b][p] / total
		}
		res.Boards[b] = br
	}
	for p := 0; p < nParts; p++ {
		res.ScoopEquity[p] = float64(acc.scoop[p]) / total
	}
	res.HeroWinLow, res.HeroWinHigh = WilsonCI95(acc.wins[0][0], acc.ties[0][0], acc.iters)
	return res
}

// accumulator holds one shard's partial counters. Merging is a plain
// commutative sum; shards share nothing while running.
type accumulator struct {
	wins  [][]uint64  // [board][participant] sole wins
	ties  [][]uint64  // [board][participant] multiway best
	share [][]float64 // [board][participant] pot shares
	scoop []uint64    // [participant]
	cats  [][]uint64  // [participant][category]
	iters uint64
}

func newAccumulator(boards, parts int) *accumulator {
	a := &accumulator{
		wins:  make([][]uint64, boards),
		ties:  make([][]uint64, boards),
		share: make([][]float64, boards),
		scoop: make([]uint64, parts),
		cats:  make([][]uint64, parts),
	}
	for b := 0; b < boards; b++ {
		a.wins[b] = make([]uint64, parts)
		a.ties[b] = make([]uint64, parts)
		a.share[b] = make([]float64, parts)
	}
	for p := 0; p < parts; p++ {
		a.cats[p] = make([]uint64, engine.NumCategories)
	}
	return a
}

func (a *accumulator) merge(b *accumulator) {
	for i := range a.wins {
		for p := range a.wins[i] {
			a.wins[i][p] += b.wins[i][p]
			a.ties[i][p] += b.ties[i][p]
			a.share[i][p] += b.share[i][p]
		}
	}
	for p := range a.scoop {
		a.scoop[p] += b.scoop[p]
	}
	for p := range a.cats {
		for c := range a.cats[p] {
			a.cats[p][c] += b.cats[p][c]
		}
	}
	a.iters += b.iters
}

// scale multiplies every counter by n, turning a single deterministic
// pass into the requested iteration count.
func (a *accumulator) scale(n uint64) {
	f := float64(n)
	for i := range a.wins {
		for p := range a.wins[i] {
			a.wins[i][p] *= n
			a.ties[i][p] *= n
			a.share[i][p] *= f
		}
	}
	for p := range a.scoop {
		a.scoop[p] *= n
	}
	for p := range a.cats {
		for c := range a.cats[p] {
			a.cats[p][c] *= n
		}
	}
	a.iters *= n
}
