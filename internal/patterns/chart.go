package patterns

import (
	"fmt"
	"math"

	"otc-signal-bot/internal/market"
)

// swing is a local extreme in the window.
type swing struct {
	index int
	price float64
	high  bool
}

// DetectChart scans a sliding window of the last 20-50 candles for
// chart patterns built from swing structure and trendline slopes.
func (d *Detector) DetectChart(candles []market.Candle) []DetectedPattern {
	var out []DetectedPattern
	if len(candles) < 20 {
		return out
	}
	window := candles
	if len(window) > 50 {
		window = window[len(window)-50:]
	}

	highs, lows := findSwings(window, 2)

	if p, ok := d.doubleExtreme(highs, lows); ok {
		out = append(out, p)
	}
	if p, ok := d.headAndShoulders(highs, lows); ok {
		out = append(out, p)
	}
	if p, ok := d.triangleOrWedge(window, highs, lows); ok {
		out = append(out, p)
	}
	if p, ok := d.flag(window); ok {
		out = append(out, p)
	}
	return out
}

// findSwings returns local highs and lows with a lookaround of k
// candles on each side.
func findSwings(candles []market.Candle, k int) (highs, lows []swing) {
	for i := k; i < len(candles)-k; i++ {
		isHigh, isLow := true, true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, swing{index: i, price: candles[i].High, high: true})
		}
		if isLow {
			lows = append(lows, swing{index: i, price: candles[i].Low})
		}
	}
	return highs, lows
}

// doubleExtreme matches double tops and bottoms with extremes within 1%.
func (d *Detector) doubleExtreme(highs, lows []swing) (DetectedPattern, bool) {
	const tol = 0.01

	if len(highs) >= 2 {
		a, b := highs[len(highs)-2], highs[len(highs)-1]
		if a.price > 0 && math.Abs(a.price-b.price)/a.price < tol {
			q := 1 - math.Abs(a.price-b.price)/(a.price*tol)
			return DetectedPattern{
				Type: DoubleTop, Direction: Bearish,
				Strength: clampStrength(1.2 + q*0.8),
				Reason:   fmt.Sprintf("Double top near %.5f", b.price),
			}, true
		}
	}
	if len(lows) >= 2 {
		a, b := lows[len(lows)-2], lows[len(lows)-1]
		if a.price > 0 && math.Abs(a.price-b.price)/a.price < tol {
			q := 1 - math.Abs(a.price-b.price)/(a.price*tol)
			return DetectedPattern{
				Type: DoubleBottom, Direction: Bullish,
				Strength: clampStrength(1.2 + q*0.8),
				Reason:   fmt.Sprintf("Double bottom near %.5f", b.price),
			}, true
		}
	}
	return DetectedPattern{}, false
}

// headAndShoulders matches a triple-swing with the middle extreme
// dominant and the shoulders symmetric within 5%.
func (d *Detector) headAndShoulders(highs, lows []swing) (DetectedPattern, bool) {
	const shoulderTol = 0.05

	if len(highs) >= 3 {
		l, h, r := highs[len(highs)-3], highs[len(highs)-2], highs[len(highs)-1]
		if h.price > l.price && h.price > r.price && l.price > 0 &&
			math.Abs(l.price-r.price)/l.price < shoulderTol {
			return DetectedPattern{
				Type: HeadAndShoulders, Direction: Bearish, Strength: 1.8,
				Reason: "Head and shoulders topping structure",
			}, true
		}
	}
	if len(lows) >= 3 {
		l, h, r := lows[len(lows)-3], lows[len(lows)-2], lows[len(lows)-1]
		if h.price < l.price && h.price < r.price && l.price > 0 &&
			math.Abs(l.price-r.price)/l.price < shoulderTol {
			return DetectedPattern{
				Type: InverseHeadShoulders, Direction: Bullish, Strength: 1.8,
				Reason: "Inverse head and shoulders base",
			}, true
		}
	}
	return DetectedPattern{}, false
}

// triangleOrWedge classifies converging trendlines from the slopes of
// the swing highs and swing lows.
func (d *Detector) triangleOrWedge(candles []market.Candle, highs, lows []swing) (DetectedPattern, bool) {
	if len(highs) < 2 || len(lows) < 2 {
		return DetectedPattern{}, false
	}

	price := candles[len(candles)-1].Close
	if price == 0 {
		return DetectedPattern{}, false
	}
	highSlope := swingSlope(highs) / price
	lowSlope := swingSlope(lows) / price

	// Flat means less than 0.05% of price per candle.
	const flat = 0.0005
	flatHighs := math.Abs(highSlope) < flat
	flatLows := math.Abs(lowSlope) < flat

	switch {
	case flatHighs && lowSlope > flat:
		return DetectedPattern{
			Type: AscendingTriangle, Direction: Bullish, Strength: 1.3,
			Reason: "Ascending triangle, rising lows into flat highs",
		}, true
	case flatLows && highSlope < -flat:
		return DetectedPattern{
			Type: DescendingTriangle, Direction: Bearish, Strength: 1.3,
			Reason: "Descending triangle, falling highs into flat lows",
		}, true
	case highSlope < -flat && lowSlope > flat:
		return DetectedPattern{
			Type: SymmetricalTriangle, Direction: Neutral, Strength: 0.8,
			Reason: "Symmetrical triangle compression",
		}, true
	case highSlope > flat && lowSlope > flat && lowSlope > highSlope:
		return DetectedPattern{
			Type: RisingWedge, Direction: Bearish, Strength: 1.1,
			Reason: "Rising wedge, converging up-sloping lines",
		}, true
	case highSlope < -flat && lowSlope < -flat && highSlope < lowSlope:
		return DetectedPattern{
			Type: FallingWedge, Direction: Bullish, Strength: 1.1,
			Reason: "Falling wedge, converging down-sloping lines",
		}, true
	}
	return DetectedPattern{}, false
}

// swingSlope least-squares fits price against swing index.
func swingSlope(swings []swing) float64 {
	n := float64(len(swings))
	if n < 2 {
		return 0
	}
	sumX, sumY, sumXY, sumXX := 0.0, 0.0, 0.0, 0.0
	for _, s := range swings {
		x := float64(s.index)
		sumX += x
		sumY += s.price
		sumXY += x * s.price
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

// flag matches a pole of at least a 2% move followed by a tight
// consolidation whose range is under half the pole.
func (d *Detector) flag(candles []market.Candle) (DetectedPattern, bool) {
	const poleLen, flagLen = 8, 6
	if len(candles) < poleLen+flagLen {
		return DetectedPattern{}, false
	}

	pole := candles[len(candles)-poleLen-flagLen : len(candles)-flagLen]
	flag := candles[len(candles)-flagLen:]

	poleStart := pole[0].Open
	poleEnd := pole[len(pole)-1].Close
	if poleStart == 0 {
		return DetectedPattern{}, false
	}
	poleMove := (poleEnd - poleStart) / poleStart
	poleRange := math.Abs(poleEnd - poleStart)

	flagHigh, flagLow := flag[0].High, flag[0].Low
	for _, c := range flag[1:] {
		flagHigh = math.Max(flagHigh, c.High)
		flagLow = math.Min(flagLow, c.Low)
	}
	tight := (flagHigh - flagLow) < 0.5*poleRange

	if poleMove >= 0.02 && tight {
		return DetectedPattern{
			Type: BullFlag, Direction: Bullish, Strength: 1.4,
			Reason: fmt.Sprintf("Bull flag after %.1f%% pole", poleMove*100),
		}, true
	}
	if poleMove <= -0.02 && tight {
		return DetectedPattern{
			Type: BearFlag, Direction: Bearish, Strength: 1.4,
			Reason: fmt.Sprintf("Bear flag after %.1f%% pole", poleMove*100),
		}, true
	}
	return DetectedPattern{}, false
}
