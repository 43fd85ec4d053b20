package ml

import (
	"math/rand"
	"sort"
)

const (
	maxStumps      = 15
	stumpBufferCap = 200
	refitInterval  = 10
	refitMinBuffer = 30
	stumpShrinkage = 0.3
)

// Stump is one decision stump: output LeftValue when the feature is
// below Threshold, RightValue otherwise.
type Stump struct {
	Feature    int     `json:"feature"`
	Threshold  float64 `json:"threshold"`
	LeftValue  float64 `json:"left_value"`
	RightValue float64 `json:"right_value"`
}

type trainSample struct {
	X FeatureVector `json:"x"`
	Y float64       `json:"y"`
}

// BoostedStumps is a small gradient-boosted ensemble refit every few
// samples from a bounded training buffer, with an online leaf nudge
// between refits.
type BoostedStumps struct {
	Base     float64       `json:"base"`
	Stumps   []Stump       `json:"stumps"`
	Buffer   []trainSample `json:"buffer"`
	Seen     int           `json:"seen"`
	SinceFit int           `json:"since_fit"`
	Seed     int64         `json:"seed"`
}

// NewBoostedStumps creates an untrained ensemble. The seed fixes the
// feature subsets drawn during refits, so rebuilding from a snapshot
// and replaying the same outcomes reproduces the same model.
func NewBoostedStumps(seed int64) *BoostedStumps {
	return &BoostedStumps{Base: 0.5, Seed: seed}
}

// Predict returns P(up) clipped to [0, 1].
func (b *BoostedStumps) Predict(x FeatureVector) float64 {
	p := b.Base
	for _, s := range b.Stumps {
		if x[s.Feature] < s.Threshold {
			p += s.LeftValue
		} else {
			p += s.RightValue
		}
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Update buffers the sample, nudges the active leaves toward the
// observed error, and refits when due.
func (b *BoostedStumps) Update(x FeatureVector, label float64) {
	err := label - b.Predict(x)
	for i := range b.Stumps {
		s := &b.Stumps[i]
		if x[s.Feature] < s.Threshold {
			s.LeftValue += 0.01 * err
		} else {
			s.RightValue += 0.01 * err
		}
	}

	b.Buffer = append(b.Buffer, trainSample{X: x, Y: label})
	if len(b.Buffer) > stumpBufferCap {
		b.Buffer = b.Buffer[len(b.Buffer)-stumpBufferCap:]
	}
	b.Seen++
	b.SinceFit++

	if len(b.Buffer) >= refitMinBuffer && b.SinceFit >= refitInterval {
		b.refit()
		b.SinceFit = 0
	}
}

// refit rebuilds the stump list by greedy residual minimization. Each
// round considers a pseudo-random 10-feature subset and at most 5
// quantile thresholds per feature.
func (b *BoostedStumps) refit() {
	n := len(b.Buffer)
	if n == 0 {
		return
	}

	mean := 0.0
	for _, s := range b.Buffer {
		mean += s.Y
	}
	b.Base = mean / float64(n)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = b.Base
	}

	// Deterministic subset draws: the seed plus the sample count pins
	// the refit exactly, which keeps snapshot replay reproducible.
	rng := rand.New(rand.NewSource(b.Seed + int64(b.Seen)))

	b.Stumps = b.Stumps[:0]
	for round := 0; round < maxStumps; round++ {
		residual := make([]float64, n)
		for i, s := range b.Buffer {
			residual[i] = s.Y - pred[i]
		}

		best, ok := b.bestStump(rng, residual)
		if !ok {
			// Unlucky feature draw; try again with the next subset.
			continue
		}
		b.Stumps = append(b.Stumps, best)
		for i, s := range b.Buffer {
			if s.X[best.Feature] < best.Threshold {
				pred[i] += best.LeftValue
			} else {
				pred[i] += best.RightValue
			}
		}
	}
}

func (b *BoostedStumps) bestStump(rng *rand.Rand, residual []float64) (Stump, bool) {
	features := rng.Perm(FeatureCount)[:10]

	var best Stump
	bestErr := 0.0
	found := false

	for _, f := range features {
		thresholds := b.quantileThresholds(f, 5)
		for _, th := range thresholds {
			var leftSum, rightSum float64
			var leftN, rightN int
			for i, s := range b.Buffer {
				if s.X[f] < th {
					leftSum += residual[i]
					leftN++
				} else {
					rightSum += residual[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)

			sse := 0.0
			for i, s := range b.Buffer {
				var fit float64
				if s.X[f] < th {
					fit = leftMean
				} else {
					fit = rightMean
				}
				d := residual[i] - fit
				sse += d * d
			}
			if !found || sse < bestErr {
				found = true
				bestErr = sse
				best = Stump{
					Feature:    f,
					Threshold:  th,
					LeftValue:  stumpShrinkage * leftMean,
					RightValue: stumpShrinkage * rightMean,
				}
			}
		}
	}
	return best, found
}

func (b *BoostedStumps) quantileThresholds(feature, count int) []float64 {
	vals := make([]float64, len(b.Buffer))
	for i, s := range b.Buffer {
		vals[i] = s.X[feature]
	}
	sort.Float64s(vals)

	out := make([]float64, 0, count)
	for q := 1; q <= count; q++ {
		idx := len(vals) * q / (count + 1)
		if idx >= len(vals) {
			idx = len(vals) - 1
		}
		th := vals[idx]
		if len(out) == 0 || th != out[len(out)-1] {
			out = append(out, th)
		}
	}
	return out
}
