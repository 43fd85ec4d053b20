package patterns

import (
	"otc-signal-bot/internal/market"
)

// PsychologyAnalysis summarizes the crowd behaviour readable from the
// last few candles.
type PsychologyAnalysis struct {
	BodyRatio             float64
	UpperWickRatio        float64
	LowerWickRatio        float64
	IsDoji                bool
	Patterns              []DetectedPattern
	Bias                  string // bullish / bearish / neutral
	OrderBlockProbability float64
	FVGDetected           bool
}

// Analyze runs the full pattern scan plus order-block and fair value
// gap heuristics over the candle array.
func (d *Detector) Analyze(candles []market.Candle) PsychologyAnalysis {
	res := PsychologyAnalysis{Bias: Neutral}
	if len(candles) == 0 {
		return res
	}

	last := candles[len(candles)-1]
	if r := last.Range(); r > 0 {
		res.BodyRatio = last.Body() / r
		res.UpperWickRatio = last.UpperWick() / r
		res.LowerWickRatio = last.LowerWick() / r
		res.IsDoji = res.BodyRatio < d.dojiBodyMax
	}

	res.Patterns = append(res.Patterns, d.DetectCandlestick(candles)...)
	res.Patterns = append(res.Patterns, d.DetectChart(candles)...)
	res.Patterns = append(res.Patterns, d.DetectHarmonic(candles)...)

	bull, bear := 0.0, 0.0
	for _, p := range res.Patterns {
		switch p.Direction {
		case Bullish:
			bull += p.Strength
		case Bearish:
			bear += p.Strength
		}
	}
	switch {
	case bull > bear*1.2:
		res.Bias = Bullish
	case bear > bull*1.2:
		res.Bias = Bearish
	}

	res.OrderBlockProbability = d.orderBlockProbability(candles)
	res.FVGDetected = d.hasFairValueGap(candles)
	return res
}

// orderBlockProbability combines the directional share of the last
// five candles with the dominance of the last body over the mean body.
func (d *Detector) orderBlockProbability(candles []market.Candle) float64 {
	if len(candles) < 5 {
		return 0
	}
	tail := candles[len(candles)-5:]

	bullish, bearish := 0, 0
	meanBody := 0.0
	for _, c := range tail {
		if c.IsBullish() {
			bullish++
		} else if c.IsBearish() {
			bearish++
		}
		meanBody += c.Body()
	}
	meanBody /= 5

	dominant := bullish
	if bearish > dominant {
		dominant = bearish
	}
	prob := float64(dominant) / 5 * 0.6

	last := tail[4]
	if meanBody > 0 && last.Body() >= 1.5*meanBody {
		prob += 0.4
	}
	if prob > 1 {
		prob = 1
	}
	return prob
}

// hasFairValueGap reports a three-candle gap where the first candle's
// low clears the third's high, or the inverse.
func (d *Detector) hasFairValueGap(candles []market.Candle) bool {
	if len(candles) < 3 {
		return false
	}
	// Scan the recent tail; older gaps are usually already filled.
	start := len(candles) - 10
	if start < 2 {
		start = 2
	}
	for i := start; i < len(candles); i++ {
		first, third := candles[i-2], candles[i]
		if first.Low > third.High || first.High < third.Low {
			return true
		}
	}
	return false
}
