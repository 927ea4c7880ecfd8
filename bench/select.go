package bench

import (
	"errors"
	"math"
	"sort"
)

// ErrNoSamples is returned when there is nothing to select from.
var ErrNoSamples = errors.New("no benchmark samples")

// rateEpsilon absorbs float noise when comparing error rates.
const rateEpsilon = 1e-9

// Selection is the outcome of one selection pass.
type Selection struct {
	Best Sample

	// Candidates are the reliable samples within the efficiency band of
	// the best one, in preference order.
	Candidates []Sample

	// Reliable are the samples that passed the error-rate filter.
	Reliable []Sample
}

// Select picks the preferred sample. Samples above the error ceiling are
// dropped unless none is below it, in which case only the lowest-error
// samples remain. Of those, samples within band of the best efficiency
// compete on higher throughput, then lower error rate, then lower
// concurrency.
func Select(samples []Sample, ceiling, band float64) (Selection, error) {
	measured := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Requests > 0 {
			measured = append(measured, s)
		}
	}

	if len(measured) == 0 {
		return Selection{}, ErrNoSamples
	}

	reliable := reliableSamples(measured, ceiling)

	bestEff := 0.0
	for _, s := range reliable {
		bestEff = math.Max(bestEff, s.Efficiency())
	}

	var candidates []Sample
	for _, s := range reliable {
		if s.Efficiency() >= band*bestEff {
			candidates = append(candidates, s)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return preferred(candidates[i], candidates[j])
	})

	return Selection{
		Best:       candidates[0],
		Candidates: candidates,
		Reliable:   reliable,
	}, nil
}

func reliableSamples(samples []Sample, ceiling float64) []Sample {
	var out []Sample
	for _, s := range samples {
		if s.ErrorRate() <= ceiling+rateEpsilon {
			out = append(out, s)
		}
	}

	if len(out) > 0 {
		return out
	}

	lowest := math.Inf(1)
	for _, s := range samples {
		lowest = math.Min(lowest, s.ErrorRate())
	}

	for _, s := range samples {
		if s.ErrorRate() <= lowest+rateEpsilon {
			out = append(out, s)
		}
	}

	return out
}

func preferred(a, b Sample) bool {
	if a.Throughput != b.Throughput {
		return a.Throughput > b.Throughput
	}

	if ra, rb := a.ErrorRate(), b.ErrorRate(); math.Abs(ra-rb) > rateEpsilon {
		return ra < rb
	}

	return a.Concurrency < b.Concurrency
}

// Promising ranks reliable samples by the time they would need to complete
// volume requests and returns the concurrency of the fastest top of them.
// The provisional choice is always included.
func Promising(sel Selection, volume, top int) []int {
	ranked := append([]Sample(nil), sel.Reliable...)

	sort.SliceStable(ranked, func(i, j int) bool {
		ei, ej := ranked[i].EstimatedSeconds(volume), ranked[j].EstimatedSeconds(volume)
		if ei != ej {
			return ei < ej
		}

		return ranked[i].Concurrency < ranked[j].Concurrency
	})

	levels := make([]int, 0, top+1)
	seen := make(map[int]bool)

	for _, s := range ranked {
		if len(levels) >= top {
			break
		}

		levels = append(levels, s.Concurrency)
		seen[s.Concurrency] = true
	}

	if !seen[sel.Best.Concurrency] {
		levels = append(levels, sel.Best.Concurrency)
	}

	return levels
}

// Merge overlays refined samples on coarse ones by concurrency and returns
// the result ordered by concurrency.
func Merge(coarse, refined []Sample) []Sample {
	byK := make(map[int]Sample, len(coarse)+len(refined))
	for _, s := range coarse {
		byK[s.Concurrency] = s
	}

	for _, s := range refined {
		byK[s.Concurrency] = s
	}

	out := make([]Sample, 0, len(byK))
	for _, s := range byK {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Concurrency < out[j].Concurrency })

	return out
}
