// Package traffic generates the data-arrival feed and measures what the
// scheduler delivered: constant-bit-rate and sporadic senders on one side,
// per-flow receiver statistics on the other.
package traffic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Law is the distribution of the extra inter-arrival gap of sporadic flows.
type Law string

const (
	LawUniform Law = "uniform"
	LawPoisson Law = "poisson"
	LawPareto  Law = "pareto"
)

// DefaultJitterMean is the mean extra gap of sporadic flows.
const DefaultJitterMean = 10 * time.Millisecond

const (
	minJitterSeconds = 0.0001
	paretoAlpha      = 2.0
)

// ParseLaw accepts uniform, poisson and pareto; empty means pareto.
func ParseLaw(s string) (Law, error) {
	switch l := Law(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LawPareto, nil
	case LawUniform, LawPoisson, LawPareto:
		return l, nil
	default:
		return "", fmt.Errorf("unknown distribution law %q", s)
	}
}

// Jitter draws one extra gap with the given mean, bounded to
// [0.1ms, 2*mean - 0.1ms]. An unknown law yields the mean.
func Jitter(rng *rand.Rand, mean time.Duration, law Law) time.Duration {
	m := mean.Seconds()
	lo := minJitterSeconds
	hi := 2*m - lo
	if hi <= lo {
		return mean
	}

	var v float64
	switch law {
	case LawUniform:
		v = lo + rng.Float64()*(hi-lo)
	case LawPoisson:
		v = lo + float64(poisson(rng, m))*(hi-lo)
	case LawPareto:
		// Inverse CDF of the Pareto distribution bounded to [lo, hi].
		u := rng.Float64()
		la := math.Pow(lo, paretoAlpha)
		ha := math.Pow(hi, paretoAlpha)
		ratio := -((u * (ha - la)) - ha) / (ha * la)
		v = math.Pow(ratio, -1/paretoAlpha)
	default:
		return mean
	}
	v = math.Min(math.Max(v, lo), hi)
	return time.Duration(v * float64(time.Second))
}

// poisson draws a Poisson variate with Knuth's multiplication method.
func poisson(rng *rand.Rand, lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}
