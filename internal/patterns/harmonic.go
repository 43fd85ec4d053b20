package patterns

import (
	"fmt"
	"math"

	"otc-signal-bot/internal/market"
)

// DetectHarmonic looks for XABCD harmonic structures over the
// midpoints of the last 30-45 candles.
func (d *Detector) DetectHarmonic(candles []market.Candle) []DetectedPattern {
	var out []DetectedPattern
	if len(candles) < 30 {
		return out
	}
	window := candles
	if len(window) > 45 {
		window = window[len(window)-45:]
	}

	points := midpointSwings(market.Midpoints(window), 2)
	if len(points) < 5 {
		return out
	}

	// Last five alternating swings form the candidate X-A-B-C-D.
	p := points[len(points)-5:]
	x, a, b, c, dd := p[0], p[1], p[2], p[3], p[4]

	xa := math.Abs(a.price - x.price)
	ab := math.Abs(b.price - a.price)
	cd := math.Abs(dd.price - c.price)
	xc := math.Abs(c.price - x.price)
	ad := math.Abs(dd.price - a.price)
	if xa == 0 || ab == 0 || cd == 0 {
		return out
	}

	// D at a swing low completes a bullish pattern, at a high a
	// bearish one.
	direction := Bearish
	if !dd.high {
		direction = Bullish
	}

	const tol = 0.05

	within := func(ratio, target float64) bool {
		return math.Abs(ratio-target) <= target*tol
	}
	between := func(ratio, lo, hi float64) bool {
		return ratio >= lo*(1-tol) && ratio <= hi*(1+tol)
	}

	abXA := ab / xa
	adXA := ad / xa

	emit := func(t PatternType, quality float64, detail string) {
		out = append(out, DetectedPattern{
			Type:      t,
			Direction: direction,
			Strength:  clampStrength(1.2 + quality),
			Reason:    fmt.Sprintf("%s %s harmonic: %s", direction, t, detail),
		})
	}

	switch {
	case within(abXA, 0.618) && within(adXA, 0.786):
		emit(Gartley, 1-math.Abs(adXA-0.786)/0.786/tol*0.5, "B 61.8% and D 78.6% of XA")
	case within(abXA, 0.786) && between(adXA, 1.272, 1.618):
		emit(Butterfly, 0.6, "B 78.6% with D extending 127.2-161.8% of XA")
	case between(abXA, 0.382, 0.50) && within(adXA, 0.886):
		emit(Bat, 1-math.Abs(adXA-0.886)/0.886/tol*0.5, "shallow B with D 88.6% of XA")
	case between(abXA, 0.382, 0.618) && within(adXA, 1.618):
		emit(Crab, 0.6, "D extending 161.8% of XA")
	case xc > 0 && between(xc/xa, 1.272, 1.414) && within(cd/xc, 0.786):
		emit(Cypher, 0.6, "C extension with D 78.6% of XC")
	}
	return out
}

// midpointSwings extracts alternating swing points from a midpoint
// series, merging same-side swings by keeping the more extreme one.
func midpointSwings(mids []float64, k int) []swing {
	var raw []swing
	for i := k; i < len(mids)-k; i++ {
		isHigh, isLow := true, true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if mids[j] >= mids[i] {
				isHigh = false
			}
			if mids[j] <= mids[i] {
				isLow = false
			}
		}
		if isHigh {
			raw = append(raw, swing{index: i, price: mids[i], high: true})
		} else if isLow {
			raw = append(raw, swing{index: i, price: mids[i]})
		}
	}

	var out []swing
	for _, s := range raw {
		if len(out) == 0 || out[len(out)-1].high != s.high {
			out = append(out, s)
			continue
		}
		last := &out[len(out)-1]
		if (s.high && s.price > last.price) || (!s.high && s.price < last.price) {
			*last = s
		}
	}
	return out
}
