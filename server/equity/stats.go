package equity

import "math"

// WilsonCI95 bounds a Bernoulli win rate from wins/ties/total
// iterations, counting a tie as half a win. Used to report how tight
// the Monte-Carlo estimate is at the given iteration count.
func WilsonCI95(wins, ties, total uint64) (low, hi float64) {
	if total == 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}
