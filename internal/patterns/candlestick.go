package patterns

import (
	"fmt"
	"math"

	"otc-signal-bot/internal/market"
)

// DetectCandlestick scans the tail of the candle array (the last one
// to five candles) for candlestick patterns.
func (d *Detector) DetectCandlestick(candles []market.Candle) []DetectedPattern {
	var out []DetectedPattern
	n := len(candles)
	if n == 0 {
		return out
	}

	last := candles[n-1]

	// Single-candle shapes. The surrounding trend decides whether a
	// pin bar is a reversal from below (hammer) or from above
	// (hanging man).
	downTrend := trendBefore(candles, 3) < 0
	upTrend := trendBefore(candles, 3) > 0

	if p, ok := d.pinBarLow(last); ok {
		if downTrend {
			p.Type, p.Direction = Hammer, Bullish
			p.Reason = "Hammer after decline"
		} else if upTrend {
			p.Type, p.Direction = HangingMan, Bearish
			p.Reason = "Hanging man after advance"
		}
		if p.Type != "" {
			out = append(out, p)
		}
	}
	if p, ok := d.pinBarHigh(last); ok {
		if upTrend {
			p.Type, p.Direction = ShootingStar, Bearish
			p.Reason = "Shooting star after advance"
		} else if downTrend {
			p.Type, p.Direction = InvertedHammer, Bullish
			p.Reason = "Inverted hammer after decline"
		}
		if p.Type != "" {
			out = append(out, p)
		}
	}
	if p, ok := d.dojiPattern(last); ok {
		out = append(out, p)
	}
	if p, ok := d.wickRejection(last); ok {
		out = append(out, p)
	}

	if n >= 2 {
		prev := candles[n-2]
		if p, ok := d.engulfing(prev, last); ok {
			out = append(out, p)
		}
		if p, ok := d.harami(prev, last); ok {
			out = append(out, p)
		}
		if p, ok := d.insideOutsideBar(prev, last); ok {
			out = append(out, p)
		}
		if p, ok := d.tweezer(prev, last); ok {
			out = append(out, p)
		}
		if p, ok := d.piercingOrDarkCloud(prev, last); ok {
			out = append(out, p)
		}
	}

	if n >= 3 {
		if p, ok := d.star(candles[n-3], candles[n-2], last); ok {
			out = append(out, p)
		}
		if p, ok := d.threeInARow(candles[n-3], candles[n-2], last); ok {
			out = append(out, p)
		}
	}

	if n >= 5 {
		if p, ok := d.threeMethods(candles[n-5:]); ok {
			out = append(out, p)
		}
	}

	return out
}

// trendBefore returns +1/-1/0 for the net close direction over the n
// candles preceding the last one.
func trendBefore(candles []market.Candle, n int) int {
	if len(candles) < n+1 {
		return 0
	}
	first := candles[len(candles)-1-n].Close
	prev := candles[len(candles)-2].Close
	switch {
	case prev > first:
		return 1
	case prev < first:
		return -1
	default:
		return 0
	}
}

// pinBarLow matches a long lower wick with a small body near the top.
func (d *Detector) pinBarLow(c market.Candle) (DetectedPattern, bool) {
	r := c.Range()
	if r == 0 {
		return DetectedPattern{}, false
	}
	body := c.Body()
	wick := c.LowerWick()
	if wick < 0.6*r || body >= 0.4*r || wick < 2*body {
		return DetectedPattern{}, false
	}
	return DetectedPattern{Strength: clampStrength(0.8 + wick/r)}, true
}

// pinBarHigh matches a long upper wick with a small body near the bottom.
func (d *Detector) pinBarHigh(c market.Candle) (DetectedPattern, bool) {
	r := c.Range()
	if r == 0 {
		return DetectedPattern{}, false
	}
	body := c.Body()
	wick := c.UpperWick()
	if wick < 0.6*r || body >= 0.4*r || wick < 2*body {
		return DetectedPattern{}, false
	}
	return DetectedPattern{Strength: clampStrength(0.8 + wick/r)}, true
}

func (d *Detector) dojiPattern(c market.Candle) (DetectedPattern, bool) {
	r := c.Range()
	if r == 0 || c.Body()/r >= d.dojiBodyMax {
		return DetectedPattern{}, false
	}

	upper := c.UpperWick() / r
	lower := c.LowerWick() / r
	p := DetectedPattern{Type: Doji, Direction: Neutral, Strength: 0.7, Reason: "Doji indecision"}
	switch {
	case upper > 0.4 && lower > 0.4:
		p.Type = LongLeggedDoji
		p.Reason = "Long-legged doji, strong indecision"
	case upper > 0.6:
		p.Type = GravestoneDoji
		p.Direction = Bearish
		p.Reason = "Gravestone doji, rejection at highs"
		p.Strength = 1.0
	case lower > 0.6:
		p.Type = DragonflyDoji
		p.Direction = Bullish
		p.Reason = "Dragonfly doji, rejection at lows"
		p.Strength = 1.0
	}
	return p, true
}

func (d *Detector) wickRejection(c market.Candle) (DetectedPattern, bool) {
	r := c.Range()
	body := c.Body()
	if r == 0 || body == 0 {
		return DetectedPattern{}, false
	}
	if upper := c.UpperWick(); upper >= 2*body && upper >= 0.5*r {
		return DetectedPattern{
			Type:      UpperWickRejection,
			Direction: Bearish,
			Strength:  clampStrength(0.6 + upper/r),
			Reason:    "Upper wick rejection of higher prices",
		}, true
	}
	if lower := c.LowerWick(); lower >= 2*body && lower >= 0.5*r {
		return DetectedPattern{
			Type:      LowerWickRejection,
			Direction: Bullish,
			Strength:  clampStrength(0.6 + lower/r),
			Reason:    "Lower wick rejection of lower prices",
		}, true
	}
	return DetectedPattern{}, false
}

func (d *Detector) engulfing(prev, cur market.Candle) (DetectedPattern, bool) {
	if prev.Body() == 0 {
		return DetectedPattern{}, false
	}
	ratio := cur.Body() / prev.Body()
	if ratio <= d.engulfMinBody {
		return DetectedPattern{}, false
	}

	if prev.IsBearish() && cur.IsBullish() && cur.Open <= prev.Close && cur.Close >= prev.Open {
		return DetectedPattern{
			Type:      BullishEngulfing,
			Direction: Bullish,
			Strength:  clampStrength(1.0 + (ratio-1.2)/2),
			Reason:    fmt.Sprintf("Bullish engulfing, body ratio %.2f", ratio),
		}, true
	}
	if prev.IsBullish() && cur.IsBearish() && cur.Open >= prev.Close && cur.Close <= prev.Open {
		return DetectedPattern{
			Type:      BearishEngulfing,
			Direction: Bearish,
			Strength:  clampStrength(1.0 + (ratio-1.2)/2),
			Reason:    fmt.Sprintf("Bearish engulfing, body ratio %.2f", ratio),
		}, true
	}
	return DetectedPattern{}, false
}

func (d *Detector) harami(prev, cur market.Candle) (DetectedPattern, bool) {
	if prev.Body() == 0 || cur.Body() >= 0.6*prev.Body() {
		return DetectedPattern{}, false
	}
	bodyHigh := math.Max(prev.Open, prev.Close)
	bodyLow := math.Min(prev.Open, prev.Close)
	inside := math.Max(cur.Open, cur.Close) <= bodyHigh && math.Min(cur.Open, cur.Close) >= bodyLow
	if !inside {
		return DetectedPattern{}, false
	}

	if prev.IsBearish() && cur.IsBullish() {
		return DetectedPattern{
			Type: BullishHarami, Direction: Bullish, Strength: 0.8,
			Reason: "Bullish harami inside prior bear body",
		}, true
	}
	if prev.IsBullish() && cur.IsBearish() {
		return DetectedPattern{
			Type: BearishHarami, Direction: Bearish, Strength: 0.8,
			Reason: "Bearish harami inside prior bull body",
		}, true
	}
	return DetectedPattern{}, false
}

func (d *Detector) insideOutsideBar(prev, cur market.Candle) (DetectedPattern, bool) {
	if cur.High < prev.High && cur.Low > prev.Low {
		return DetectedPattern{
			Type: InsideBar, Direction: Neutral, Strength: 0.5,
			Reason: "Inside bar compression",
		}, true
	}
	if cur.High > prev.High && cur.Low < prev.Low {
		dir := Neutral
		reason := "Outside bar"
		if cur.IsBullish() {
			dir, reason = Bullish, "Bullish outside bar"
		} else if cur.IsBearish() {
			dir, reason = Bearish, "Bearish outside bar"
		}
		return DetectedPattern{Type: OutsideBar, Direction: dir, Strength: 0.9, Reason: reason}, true
	}
	return DetectedPattern{}, false
}

func (d *Detector) tweezer(prev, cur market.Candle) (DetectedPattern, bool) {
	if prev.High == 0 || prev.Low == 0 {
		return DetectedPattern{}, false
	}
	const tol = 0.001 // matched extremes within 0.1%

	if math.Abs(cur.High-prev.High)/prev.High < tol && prev.IsBullish() && cur.IsBearish() {
		return DetectedPattern{
			Type: TweezerTop, Direction: Bearish, Strength: 1.0,
			Reason: "Tweezer top, matched highs",
		}, true
	}
	if math.Abs(cur.Low-prev.Low)/prev.Low < tol && prev.IsBearish() && cur.IsBullish() {
		return DetectedPattern{
			Type: TweezerBottom, Direction: Bullish, Strength: 1.0,
			Reason: "Tweezer bottom, matched lows",
		}, true
	}
	return DetectedPattern{}, false
}

func (d *Detector) piercingOrDarkCloud(prev, cur market.Candle) (DetectedPattern, bool) {
	if prev.Body() == 0 {
		return DetectedPattern{}, false
	}
	prevMid := (prev.Open + prev.Close) / 2

	if prev.IsBearish() && cur.IsBullish() &&
		cur.Open < prev.Close && cur.Close > prevMid && cur.Close < prev.Open {
		return DetectedPattern{
			Type: PiercingLine, Direction: Bullish, Strength: 1.1,
			Reason: "Piercing line above prior midpoint",
		}, true
	}
	if prev.IsBullish() && cur.IsBearish() &&
		cur.Open > prev.Close && cur.Close < prevMid && cur.Close > prev.Open {
		return DetectedPattern{
			Type: DarkCloudCover, Direction: Bearish, Strength: 1.1,
			Reason: "Dark cloud cover below prior midpoint",
		}, true
	}
	return DetectedPattern{}, false
}

func (d *Detector) star(c1, c2, c3 market.Candle) (DetectedPattern, bool) {
	if c1.Body() == 0 {
		return DetectedPattern{}, false
	}
	smallMiddle := c2.Body() < 0.5*c1.Body()
	c1Mid := (c1.Open + c1.Close) / 2

	if c1.IsBearish() && smallMiddle && c3.IsBullish() && c3.Close > c1Mid {
		return DetectedPattern{
			Type: MorningStar, Direction: Bullish, Strength: 1.5,
			Reason: "Morning star reversal",
		}, true
	}
	if c1.IsBullish() && smallMiddle && c3.IsBearish() && c3.Close < c1Mid {
		return DetectedPattern{
			Type: EveningStar, Direction: Bearish, Strength: 1.5,
			Reason: "Evening star reversal",
		}, true
	}
	return DetectedPattern{}, false
}

func (d *Detector) threeInARow(c1, c2, c3 market.Candle) (DetectedPattern, bool) {
	solidBody := func(c market.Candle) bool {
		r := c.Range()
		return r > 0 && c.Body() >= 0.6*r
	}

	if c1.IsBullish() && c2.IsBullish() && c3.IsBullish() &&
		c2.Close > c1.Close && c3.Close > c2.Close &&
		solidBody(c1) && solidBody(c2) && solidBody(c3) {
		return DetectedPattern{
			Type: ThreeWhiteSoldiers, Direction: Bullish, Strength: 1.8,
			Reason: "Three white soldiers",
		}, true
	}
	if c1.IsBearish() && c2.IsBearish() && c3.IsBearish() &&
		c2.Close < c1.Close && c3.Close < c2.Close &&
		solidBody(c1) && solidBody(c2) && solidBody(c3) {
		return DetectedPattern{
			Type: ThreeBlackCrows, Direction: Bearish, Strength: 1.8,
			Reason: "Three black crows",
		}, true
	}
	return DetectedPattern{}, false
}

// threeMethods matches the five-candle rising/falling three methods
// continuation.
func (d *Detector) threeMethods(c []market.Candle) (DetectedPattern, bool) {
	if len(c) != 5 {
		return DetectedPattern{}, false
	}
	first, last := c[0], c[4]

	within := func(x market.Candle) bool {
		return x.High <= first.High && x.Low >= first.Low
	}
	smallPullbacks := within(c[1]) && within(c[2]) && within(c[3])
	if !smallPullbacks {
		return DetectedPattern{}, false
	}

	if first.IsBullish() && c[1].IsBearish() && c[2].IsBearish() && c[3].IsBearish() &&
		last.IsBullish() && last.Close > first.Close {
		return DetectedPattern{
			Type: RisingThreeMethods, Direction: Bullish, Strength: 1.4,
			Reason: "Rising three methods continuation",
		}, true
	}
	if first.IsBearish() && c[1].IsBullish() && c[2].IsBullish() && c[3].IsBullish() &&
		last.IsBearish() && last.Close < first.Close {
		return DetectedPattern{
			Type: FallingThreeMethods, Direction: Bearish, Strength: 1.4,
			Reason: "Falling three methods continuation",
		}, true
	}
	return DetectedPattern{}, false
}
