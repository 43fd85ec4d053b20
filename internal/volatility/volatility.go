package volatility

import (
	"fmt"

	"otc-signal-bot/internal/indicators"
	"otc-signal-bot/internal/market"
)

// Analysis is the volatility picture for one symbol, derived from its
// most recent candles.
type Analysis struct {
	Symbol          string  `json:"symbol"`
	VolatilityScore float64 `json:"volatility_score"`
	IsVolatile      bool    `json:"is_volatile"`
	IsStable        bool    `json:"is_stable"`
	Severity        string  `json:"severity"`
	WickRatio       float64 `json:"wick_ratio"`
	ATRRatio        float64 `json:"atr_ratio"`
	RangeRatio      float64 `json:"range_ratio"`
	LargeWickCount  int     `json:"large_wick_count"`
	SpikeCount      int     `json:"spike_count"`
	PriceStability  float64 `json:"price_stability"`
	Timestamp       int64   `json:"timestamp"`
}

const (
	analysisWindow   = 15
	volatileAt       = 0.4
	atrRatioElevated = 0.004
	atrRatioHigh     = 0.008
	atrRatioExtreme  = 0.015
	wickRatioNotable = 0.45
	wickRatioHigh    = 0.60
	wickRatioExtreme = 0.75
	rangeRatioHigh   = 0.006
	rangeRatioExtreme = 0.012
)

// Analyze scores the last 15 candles. Shorter histories score zero and
// read as stable, so a freshly started pair never trips the gate.
func Analyze(symbol string, candles []market.Candle) Analysis {
	a := Analysis{Symbol: symbol, PriceStability: 1, IsStable: true, Severity: "low"}
	if len(candles) < analysisWindow {
		return a
	}

	window := candles[len(candles)-analysisWindow:]
	price := window[len(window)-1].Close
	if price <= 0 {
		return a
	}

	a.WickRatio = wickRatio(window)
	if atr, ok := indicators.CalculateATR(candles, 14); ok {
		a.ATRRatio = atr / price
	}
	a.RangeRatio = meanRangeRatio(window)
	a.LargeWickCount = largeWickCount(window)
	a.SpikeCount = spikeCount(window)
	a.PriceStability = priceStability(window)

	a.VolatilityScore = score(a)
	a.IsVolatile, a.Severity = classify(a.VolatilityScore)
	a.IsStable = a.PriceStability >= 0.35 && a.VolatilityScore < 0.5
	return a
}

// score folds the component measurements into a single [0,1] value.
func score(a Analysis) float64 {
	s := 0.0

	switch {
	case a.ATRRatio >= atrRatioExtreme:
		s += 0.50
	case a.ATRRatio >= atrRatioHigh:
		s += 0.35
	case a.ATRRatio >= atrRatioElevated:
		s += 0.15
	}

	switch {
	case a.WickRatio >= wickRatioExtreme:
		s += 0.40
	case a.WickRatio >= wickRatioHigh:
		s += 0.25
	case a.WickRatio >= wickRatioNotable:
		s += 0.10
	}

	switch {
	case a.RangeRatio >= rangeRatioExtreme:
		s += 0.35
	case a.RangeRatio >= rangeRatioHigh:
		s += 0.20
	}

	spikeBonus := 0.05 * float64(a.SpikeCount)
	if spikeBonus > 0.15 {
		spikeBonus = 0.15
	}
	s += spikeBonus

	wickBonus := 0.03 * float64(a.LargeWickCount)
	if wickBonus > 0.12 {
		wickBonus = 0.12
	}
	s += wickBonus

	if a.PriceStability < 0.35 {
		s += 0.15
	}

	if s > 1 {
		s = 1
	}
	return s
}

func classify(score float64) (volatile bool, severity string) {
	switch {
	case score >= 0.8:
		return true, "extreme"
	case score >= 0.6:
		return true, "high"
	case score >= volatileAt:
		return true, "medium"
	default:
		return false, "low"
	}
}

// ShouldNoTrade is the strict veto used right before signal emission.
// It triggers on conditions a merely elevated score would tolerate.
func ShouldNoTrade(symbol string, candles []market.Candle) (bool, string) {
	a := Analyze(symbol, candles)

	switch {
	case a.ATRRatio >= atrRatioExtreme:
		return true, fmt.Sprintf("Extreme volatility: ATR is %.2f%% of price", a.ATRRatio*100)
	case a.ATRRatio >= atrRatioHigh && a.SpikeCount >= 3:
		return true, fmt.Sprintf("price spikes: %d recent spikes with elevated ATR", a.SpikeCount)
	case a.WickRatio >= wickRatioExtreme && a.LargeWickCount >= 4:
		return true, fmt.Sprintf("Extreme volatility: wick ratio %.2f with %d large wicks", a.WickRatio, a.LargeWickCount)
	case a.SpikeCount >= 4 && a.PriceStability < 0.25:
		return true, fmt.Sprintf("price spikes: %d spikes in an unstable market", a.SpikeCount)
	case a.PriceStability < 0.20 && a.LargeWickCount >= 5 && a.ATRRatio >= atrRatioHigh:
		return true, "Extreme volatility: unstable price action with heavy wicks"
	}
	return false, ""
}

// wickRatio is total wick length over total wick+body length.
func wickRatio(candles []market.Candle) float64 {
	var wicks, total float64
	for _, c := range candles {
		upper := c.High - maxF(c.Open, c.Close)
		lower := minF(c.Open, c.Close) - c.Low
		body := absF(c.Close - c.Open)
		wicks += upper + lower
		total += upper + lower + body
	}
	if total == 0 {
		return 0
	}
	return wicks / total
}

func meanRangeRatio(candles []market.Candle) float64 {
	sum := 0.0
	n := 0
	for _, c := range candles {
		if c.Low > 0 {
			sum += (c.High - c.Low) / c.Low
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// largeWickCount counts candles in the last 10 whose wick dwarfs the
// body or whose range dwarfs the window average.
func largeWickCount(window []market.Candle) int {
	avgRange := 0.0
	for _, c := range window {
		avgRange += c.High - c.Low
	}
	avgRange /= float64(len(window))

	recent := window
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	count := 0
	for _, c := range recent {
		body := absF(c.Close - c.Open)
		upper := c.High - maxF(c.Open, c.Close)
		lower := minF(c.Open, c.Close) - c.Low
		wick := maxF(upper, lower)
		if wick > 1.5*body || (avgRange > 0 && c.High-c.Low > 2.5*avgRange) {
			count++
		}
	}
	return count
}

// spikeCount counts how many of the last 5 ranges exceed 3x the mean
// range of the 10 candles before them.
func spikeCount(window []market.Candle) int {
	if len(window) < analysisWindow {
		return 0
	}
	prior := window[:10]
	mean := 0.0
	for _, c := range prior {
		mean += c.High - c.Low
	}
	mean /= float64(len(prior))
	if mean <= 0 {
		return 0
	}

	count := 0
	for _, c := range window[10:] {
		if c.High-c.Low > 3*mean {
			count++
		}
	}
	return count
}

// priceStability blends direction-change frequency with the longest
// same-direction run. A clean trend scores near 1, chop near 0.
func priceStability(window []market.Candle) float64 {
	if len(window) < 3 {
		return 1
	}

	changes := 0
	run, longestRun := 1, 1
	prevDir := 0
	for i := 1; i < len(window); i++ {
		dir := 0
		if window[i].Close > window[i-1].Close {
			dir = 1
		} else if window[i].Close < window[i-1].Close {
			dir = -1
		}
		if dir != 0 && prevDir != 0 && dir != prevDir {
			changes++
			run = 1
		} else if dir != 0 && dir == prevDir {
			run++
			if run > longestRun {
				longestRun = run
			}
		}
		if dir != 0 {
			prevDir = dir
		}
	}

	changeScore := 1 - float64(changes)/float64(len(window)-2)
	runScore := float64(longestRun) / 8
	if runScore > 1 {
		runScore = 1
	}
	s := 0.6*changeScore + 0.4*runScore
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
