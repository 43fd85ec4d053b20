package ml

import (
	"math"

	"otc-signal-bot/internal/indicators"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/patterns"
)

// FeatureCount is the fixed length of the model input vector.
const FeatureCount = 28

// FeatureVector is the normalized model input; every component lies in
// [-1, 1].
type FeatureVector [FeatureCount]float64

// Named feature indices.
const (
	FPriceChange = iota
	FVolatility
	FATRRatio
	FRSI
	FRSISlope
	FMACDHistogram
	FMACDCross
	FStochK
	FStochD
	FTrendStrength
	FTrendDirection
	FEMA9Slope
	FEMA21Slope
	FEMACross
	FVolumeRatio
	FVolumeTrend
	FBodyRatio
	FUpperWick
	FLowerWick
	FBullishPatterns
	FBearishPatterns
	FIsRanging
	FIsTrending
	FRegimeStrength
	FBuyPressure
	FSellPressure
	FMomentum
	FConfluence
)

// FeatureRecord keeps the raw readings behind a vector for diagnostics
// and for the discrete pattern-memory signature.
type FeatureRecord struct {
	Vector       FeatureVector `json:"vector"`
	RSI          float64       `json:"rsi"`
	MACDCross    int           `json:"macd_cross"`
	TrendSign    int           `json:"trend_sign"`
	PatternClass string        `json:"pattern_class"`
	Regime       string        `json:"regime"`
	VolumeLevel  string        `json:"volume_level"`
}

// ExtractFeatures converts candles plus their indicator and psychology
// snapshots into the fixed-length normalized vector. It is pure.
func ExtractFeatures(candles []market.Candle, ind *indicators.Values, psy patterns.PsychologyAnalysis) FeatureRecord {
	rec := FeatureRecord{PatternClass: "none", Regime: "unknown", VolumeLevel: "normal"}
	n := len(candles)
	if n < 2 || ind == nil {
		return rec
	}

	last := candles[n-1]
	price := last.Close
	if price <= 0 {
		return rec
	}
	v := &rec.Vector

	// Price action
	prevClose := candles[n-2].Close
	if prevClose > 0 {
		v[FPriceChange] = math.Tanh((price - prevClose) / prevClose * 100)
	}
	v[FVolatility] = math.Tanh(returnStddev(candles, 20) * 50)
	if ind.ATR.Valid {
		v[FATRRatio] = math.Tanh(ind.ATR.V / price * 100)
	}

	// Momentum oscillators
	if ind.RSI.Valid {
		rec.RSI = ind.RSI.V
		v[FRSI] = (ind.RSI.V - 50) / 50
		v[FRSISlope] = math.Tanh(rsiSlope(candles) / 10)
	}
	if ind.MACDValid {
		v[FMACDHistogram] = math.Tanh(ind.MACD.Histogram / price * 100 * 100)
		rec.MACDCross = signOf(ind.MACD.MACD - ind.MACD.Signal)
		v[FMACDCross] = float64(rec.MACDCross)
	}
	if ind.StochValid {
		v[FStochK] = (ind.Stochastic.K - 50) / 50
		v[FStochD] = (ind.Stochastic.D - 50) / 50
	}

	// Trend
	trendStrength, trendSign := trendState(ind)
	rec.TrendSign = trendSign
	v[FTrendStrength] = trendStrength
	v[FTrendDirection] = float64(trendSign)
	if slope, ok := emaSlopeOf(candles, 9); ok {
		v[FEMA9Slope] = math.Tanh(slope / price * 1000)
	}
	if slope, ok := emaSlopeOf(candles, 21); ok {
		v[FEMA21Slope] = math.Tanh(slope / price * 1000)
	}
	if ind.EMA[9].Valid && ind.EMA[21].Valid {
		v[FEMACross] = float64(signOf(ind.EMA[9].V - ind.EMA[21].V))
	}

	// Volume proxy (tick counts)
	ratio := volumeRatio(candles, 20)
	v[FVolumeRatio] = math.Min(3, ratio)/3*2 - 1
	vt := volumeTrend(candles, 5)
	v[FVolumeTrend] = float64(vt)
	switch {
	case ratio >= 1.5:
		rec.VolumeLevel = "high"
	case ratio <= 0.6:
		rec.VolumeLevel = "low"
	}

	// Candle anatomy
	v[FBodyRatio] = psy.BodyRatio*2 - 1
	v[FUpperWick] = psy.UpperWickRatio*2 - 1
	v[FLowerWick] = psy.LowerWickRatio*2 - 1

	// Pattern scores
	bull, bear, class := patternScores(psy.Patterns)
	rec.PatternClass = class
	v[FBullishPatterns] = math.Tanh(bull / 2)
	v[FBearishPatterns] = math.Tanh(bear / 2)

	// Regime proxies from ADX
	if ind.ADX.Valid {
		adx := ind.ADX.V
		if adx < 18 {
			v[FIsRanging] = 1
			rec.Regime = "ranging"
		} else {
			v[FIsTrending] = 1
			rec.Regime = "trending"
		}
		v[FRegimeStrength] = math.Min(1, adx/50)
	}

	// Pressure over the last 10 candles
	buy, sell := pressure(candles, 10)
	v[FBuyPressure] = buy*2 - 1
	v[FSellPressure] = sell*2 - 1
	if ind.Momentum.Valid {
		v[FMomentum] = math.Tanh(ind.Momentum.V / price * 100)
	}
	v[FConfluence] = math.Abs(buy-sell)*2 - 1

	clampVector(v)
	return rec
}

func clampVector(v *FeatureVector) {
	for i := range v {
		if v[i] > 1 {
			v[i] = 1
		} else if v[i] < -1 {
			v[i] = -1
		} else if math.IsNaN(v[i]) {
			v[i] = 0
		}
	}
}

func signOf(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func returnStddev(candles []market.Candle, window int) float64 {
	if len(candles) < window+1 {
		return 0
	}
	rets := make([]float64, 0, window)
	for i := len(candles) - window; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev > 0 {
			rets = append(rets, (candles[i].Close-prev)/prev)
		}
	}
	if len(rets) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / float64(len(rets)))
}

func rsiSlope(candles []market.Candle) float64 {
	cur, ok1 := indicators.CalculateRSI(candles, 14)
	prev, ok2 := indicators.CalculateRSI(candles[:len(candles)-1], 14)
	if !ok1 || !ok2 {
		return 0
	}
	return cur - prev
}

func emaSlopeOf(candles []market.Candle, period int) (float64, bool) {
	return indicators.CalculateEMASlope(candles, period)
}

// trendState derives strength in [0,1] and a directional sign from the
// EMA stack and regression slope.
func trendState(ind *indicators.Values) (float64, int) {
	if !ind.EMA[9].Valid || !ind.EMA[21].Valid || !ind.EMA[50].Valid {
		return 0, 0
	}
	e9, e21, e50 := ind.EMA[9].V, ind.EMA[21].V, ind.EMA[50].V

	sign := 0
	aligned := 0.0
	if e9 > e21 && e21 > e50 {
		sign = 1
		aligned = 1
	} else if e9 < e21 && e21 < e50 {
		sign = -1
		aligned = 1
	} else {
		sign = signOf(e9 - e21)
		aligned = 0.4
	}

	strength := aligned
	if ind.ADX.Valid {
		strength = aligned * math.Min(1, ind.ADX.V/40)
	}
	return strength, sign
}

func volumeRatio(candles []market.Candle, window int) float64 {
	if len(candles) < window+1 {
		return 1
	}
	sum := 0.0
	for i := len(candles) - window - 1; i < len(candles)-1; i++ {
		sum += float64(candles[i].TickCount)
	}
	avg := sum / float64(window)
	if avg == 0 {
		return 1
	}
	return float64(candles[len(candles)-1].TickCount) / avg
}

func volumeTrend(candles []market.Candle, window int) int {
	if len(candles) < window {
		return 0
	}
	tail := candles[len(candles)-window:]
	first := float64(tail[0].TickCount)
	last := float64(tail[len(tail)-1].TickCount)
	return signOf(last - first)
}

func patternScores(ps []patterns.DetectedPattern) (bull, bear float64, class string) {
	best := 0.0
	class = "none"
	for _, p := range ps {
		switch p.Direction {
		case patterns.Bullish:
			bull += p.Strength
			if p.Strength > best {
				best, class = p.Strength, "bull_"+string(p.Type)
			}
		case patterns.Bearish:
			bear += p.Strength
			if p.Strength > best {
				best, class = p.Strength, "bear_"+string(p.Type)
			}
		}
	}
	return bull, bear, class
}

// pressure returns the bullish and bearish shares of body volume over
// the last window candles, each in [0,1].
func pressure(candles []market.Candle, window int) (buy, sell float64) {
	if len(candles) < window {
		window = len(candles)
	}
	total := 0.0
	for i := len(candles) - window; i < len(candles); i++ {
		body := candles[i].Body()
		total += body
		if candles[i].IsBullish() {
			buy += body
		} else if candles[i].IsBearish() {
			sell += body
		}
	}
	if total == 0 {
		return 0.5, 0.5
	}
	return buy / total, sell / total
}
