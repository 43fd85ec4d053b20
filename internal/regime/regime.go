package regime

import (
	"fmt"

	"otc-signal-bot/internal/indicators"
	"otc-signal-bot/internal/market"
)

// Regime is the broad market state.
type Regime string

const (
	TrendingUp   Regime = "TRENDING_UP"
	TrendingDown Regime = "TRENDING_DOWN"
	Ranging      Regime = "RANGING"
	Choppy       Regime = "CHOPPY"
	Unknown      Regime = "UNKNOWN"
)

// PriceAction classifies how orderly recent price movement is.
type PriceAction string

const (
	ActionClean  PriceAction = "CLEAN"
	ActionMessy  PriceAction = "MESSY"
	ActionChoppy PriceAction = "CHOPPY"
)

// VolatilityLevel buckets current volatility.
type VolatilityLevel string

const (
	VolLow    VolatilityLevel = "LOW"
	VolMedium VolatilityLevel = "MEDIUM"
	VolHigh   VolatilityLevel = "HIGH"
)

// ADX tiers separating ranging from trending markets.
const (
	adxRangingBelow = 12.0
	adxTrending     = 18.0
	adxStrongTrend  = 25.0
)

// Assessment is the full regime read for one candle series.
type Assessment struct {
	Regime          Regime          `json:"regime"`
	Strength        float64         `json:"strength"`
	IsTradeable     bool            `json:"is_tradeable"`
	Reason          string          `json:"reason"`
	TrendDuration   int             `json:"trend_duration"`
	MomentumAligned bool            `json:"momentum_aligned"`
	VolatilityLevel VolatilityLevel `json:"volatility_level"`
	PriceAction     PriceAction     `json:"price_action"`
	SwingsConfirmed bool            `json:"swings_confirmed"`
	ADX             float64         `json:"adx"`
}

// Detect reads the regime from a closed-candle series. It needs at
// least 30 candles; shorter histories come back UNKNOWN.
func Detect(candles []market.Candle) Assessment {
	if len(candles) < 30 {
		return Assessment{
			Regime:          Unknown,
			Reason:          "insufficient history for regime detection",
			VolatilityLevel: VolLow,
			PriceAction:     ActionMessy,
		}
	}

	action := classifyPriceAction(candles)
	volLevel := classifyVolatility(candles)
	adx, _ := indicators.CalculateADX(candles, 14)

	upConfirmed, downConfirmed := swingStructure(candles)
	dir := trendDirection(candles)
	duration := trendDuration(candles, dir)

	a := Assessment{
		PriceAction:     action,
		VolatilityLevel: volLevel,
		TrendDuration:   duration,
		SwingsConfirmed: upConfirmed || downConfirmed,
		ADX:             adx,
	}

	switch {
	case action == ActionChoppy:
		a.Regime = Choppy
		a.Reason = "choppy price action"
	case adx >= adxTrending && dir > 0:
		a.Regime = TrendingUp
	case adx >= adxTrending && dir < 0:
		a.Regime = TrendingDown
	case adx < adxRangingBelow:
		a.Regime = Ranging
		a.Reason = "ADX below ranging threshold"
	case upConfirmed && dir > 0:
		a.Regime = TrendingUp
	case downConfirmed && dir < 0:
		a.Regime = TrendingDown
	default:
		a.Regime = Ranging
		a.Reason = "no confirmed trend structure"
	}

	a.Strength = strength(adx, a.SwingsConfirmed, action)
	a.MomentumAligned = momentumAligned(candles, dir)
	a.IsTradeable, a.Reason = tradeability(a)
	return a
}

// AllowsDirection vetoes counter-trend entries against a strong trend.
func (a Assessment) AllowsDirection(direction string) (bool, string) {
	if direction == "CALL" && a.Regime == TrendingDown && a.Strength > 0.5 {
		return false, fmt.Sprintf("CALL against strong downtrend (strength %.2f)", a.Strength)
	}
	if direction == "PUT" && a.Regime == TrendingUp && a.Strength > 0.5 {
		return false, fmt.Sprintf("PUT against strong uptrend (strength %.2f)", a.Strength)
	}
	return true, ""
}

// PenaltyMultiplier scales signal confidence by regime quality.
func (a Assessment) PenaltyMultiplier() float64 {
	var m float64
	switch a.Regime {
	case Choppy:
		m = 0.4
	case Unknown:
		m = 0.5
	case Ranging:
		if a.PriceAction == ActionClean {
			m = 0.8
		} else {
			m = 0.7
		}
	default: // trending
		if a.MomentumAligned && a.Strength > 0.5 {
			m = 1.0
		} else {
			m = 0.85
		}
	}
	if m < 0.4 {
		m = 0.4
	}
	return m
}

// tradeability applies the gate rules: never choppy-plus-high-vol, a
// minimum trend age, and at least partial confirmation.
func tradeability(a Assessment) (bool, string) {
	switch {
	case a.Regime == Unknown:
		return false, "insufficient history for regime detection"
	case a.Regime == Choppy && a.VolatilityLevel == VolHigh:
		return false, "choppy high-volatility market"
	case a.Regime == Choppy:
		return false, "choppy price action"
	}

	if a.Regime == TrendingUp || a.Regime == TrendingDown {
		if a.TrendDuration < 2 {
			return false, fmt.Sprintf("trend too young (%d candles)", a.TrendDuration)
		}
		if !a.SwingsConfirmed && a.Strength <= 0.4 {
			return false, "unconfirmed trend with weak strength"
		}
	}
	return true, ""
}

// strength blends ADX with structural confirmation into [0,1].
func strength(adx float64, confirmed bool, action PriceAction) float64 {
	s := adx / 40
	if s > 0.7 {
		s = 0.7
	}
	if confirmed {
		s += 0.2
	}
	if action == ActionClean {
		s += 0.1
	}
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}
	return s
}

// classifyPriceAction reads order from direction-change frequency and
// wick dominance over the last 20 candles.
func classifyPriceAction(candles []market.Candle) PriceAction {
	window := candles
	if len(window) > 20 {
		window = window[len(window)-20:]
	}

	changes, moves := 0, 0
	prevDir := 0
	var wicks, total float64
	for i, c := range window {
		upper := c.High - maxF(c.Open, c.Close)
		lower := minF(c.Open, c.Close) - c.Low
		body := absF(c.Close - c.Open)
		wicks += upper + lower
		total += upper + lower + body

		if i == 0 {
			continue
		}
		dir := 0
		if c.Close > window[i-1].Close {
			dir = 1
		} else if c.Close < window[i-1].Close {
			dir = -1
		}
		if dir != 0 {
			moves++
			if prevDir != 0 && dir != prevDir {
				changes++
			}
			prevDir = dir
		}
	}

	changeRatio := 0.0
	if moves > 1 {
		changeRatio = float64(changes) / float64(moves-1)
	}
	wickDominant := total > 0 && wicks/total > 0.6

	switch {
	case changeRatio > 0.6 || (changeRatio > 0.45 && wickDominant):
		return ActionChoppy
	case changeRatio < 0.35 && !wickDominant:
		return ActionClean
	default:
		return ActionMessy
	}
}

func classifyVolatility(candles []market.Candle) VolatilityLevel {
	atr, ok := indicators.CalculateATR(candles, 14)
	if !ok {
		return VolLow
	}
	price := candles[len(candles)-1].Close
	if price <= 0 {
		return VolLow
	}
	ratio := atr / price
	switch {
	case ratio >= 0.008:
		return VolHigh
	case ratio >= 0.004:
		return VolMedium
	default:
		return VolLow
	}
}

// swingStructure looks for higher-highs/higher-lows (and the bearish
// mirror) among the swings of the last 30 candles.
func swingStructure(candles []market.Candle) (upConfirmed, downConfirmed bool) {
	window := candles
	if len(window) > 30 {
		window = window[len(window)-30:]
	}

	var highs, lows []float64
	for i := 2; i < len(window)-2; i++ {
		c := window[i]
		if c.High > window[i-1].High && c.High > window[i-2].High &&
			c.High > window[i+1].High && c.High > window[i+2].High {
			highs = append(highs, c.High)
		}
		if c.Low < window[i-1].Low && c.Low < window[i-2].Low &&
			c.Low < window[i+1].Low && c.Low < window[i+2].Low {
			lows = append(lows, c.Low)
		}
	}

	if len(highs) >= 2 && len(lows) >= 2 {
		hh := highs[len(highs)-1] > highs[len(highs)-2]
		hl := lows[len(lows)-1] > lows[len(lows)-2]
		lh := highs[len(highs)-1] < highs[len(highs)-2]
		ll := lows[len(lows)-1] < lows[len(lows)-2]
		upConfirmed = hh && hl
		downConfirmed = lh && ll
	}
	return upConfirmed, downConfirmed
}

// trendDirection compares the short and medium EMAs.
func trendDirection(candles []market.Candle) int {
	fast, okF := indicators.CalculateEMA(candles, 9)
	slow, okS := indicators.CalculateEMA(candles, 21)
	if !okF || !okS {
		return 0
	}
	if fast > slow {
		return 1
	}
	if fast < slow {
		return -1
	}
	return 0
}

// trendDuration counts consecutive recent candles on the trend side of
// the rolling 20-close average.
func trendDuration(candles []market.Candle, dir int) int {
	if dir == 0 || len(candles) < 21 {
		return 0
	}
	count := 0
	for i := len(candles) - 1; i >= 20; i-- {
		sma, ok := indicators.CalculateSMA(candles[:i+1], 20)
		if !ok {
			break
		}
		if (dir > 0 && candles[i].Close > sma) || (dir < 0 && candles[i].Close < sma) {
			count++
		} else {
			break
		}
	}
	return count
}

// momentumAligned checks whether at least 60% of the momentum reads
// agree with the candidate direction.
func momentumAligned(candles []market.Candle, dir int) bool {
	if dir == 0 {
		return false
	}

	checks, matches := 0, 0

	if rsi, ok := indicators.CalculateRSI(candles, 14); ok {
		checks++
		if (dir > 0 && rsi > 50) || (dir < 0 && rsi < 50) {
			matches++
		}
	}
	if macd, ok := indicators.CalculateMACD(candles, 12, 26, 9); ok {
		checks++
		if (dir > 0 && macd.Histogram > 0) || (dir < 0 && macd.Histogram < 0) {
			matches++
		}
	}
	if stoch, ok := indicators.CalculateStochastic(candles, 14, 3); ok {
		checks++
		if (dir > 0 && stoch.K > stoch.D) || (dir < 0 && stoch.K < stoch.D) {
			matches++
		}
	}
	if st, ok := indicators.CalculateSuperTrend(candles, 10, 3); ok {
		checks++
		if (dir > 0 && st.IsUp) || (dir < 0 && !st.IsUp) {
			matches++
		}
	}

	if checks == 0 {
		return false
	}
	return float64(matches)/float64(checks) >= 0.6
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
