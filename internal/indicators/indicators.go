package indicators

import (
	"math"

	"otc-signal-bot/internal/market"
)

// Every calculation reports ok=false when the candle history is too
// short or a divisor degenerates to zero. Callers must treat such
// values as absent rather than zero.

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates the Simple Moving Average over closes.
func CalculateSMA(candles []market.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period), true
}

// CalculateEMA calculates the Exponential Moving Average over closes,
// seeded with an SMA of the first period values.
func CalculateEMA(candles []market.Candle, period int) (float64, bool) {
	series := emaSeries(market.Closes(candles), period)
	if series == nil {
		return 0, false
	}
	return series[len(series)-1], true
}

// CalculateEMASlope returns the last one-step change of the EMA series.
func CalculateEMASlope(candles []market.Candle, period int) (float64, bool) {
	series := emaSeries(market.Closes(candles), period)
	if len(series) < 2 {
		return 0, false
	}
	return series[len(series)-1] - series[len(series)-2], true
}

// CalculateHullMA calculates the Hull Moving Average:
// WMA(2·WMA(n/2) − WMA(n), √n).
func CalculateHullMA(candles []market.Candle, period int) (float64, bool) {
	closes := market.Closes(candles)
	if period <= 1 || len(closes) < period {
		return 0, false
	}
	half := period / 2
	sqrtP := int(math.Round(math.Sqrt(float64(period))))
	if sqrtP < 1 {
		sqrtP = 1
	}

	// Raw series 2·WMA(half) − WMA(period) at every index with enough
	// history, then a final WMA over its tail.
	diffs := make([]float64, 0, len(closes)-period+1)
	for i := period - 1; i < len(closes); i++ {
		wHalf, ok1 := wmaAt(closes, i, half)
		wFull, ok2 := wmaAt(closes, i, period)
		if !ok1 || !ok2 {
			return 0, false
		}
		diffs = append(diffs, 2*wHalf-wFull)
	}
	if len(diffs) < sqrtP {
		return 0, false
	}
	return wmaAt(diffs, len(diffs)-1, sqrtP)
}

// CalculateEMARibbon returns the mean of the EMAs over {5, 9, 12, 21, 50}.
func CalculateEMARibbon(candles []market.Candle) (float64, bool) {
	periods := []int{5, 9, 12, 21, 50}
	sum := 0.0
	for _, p := range periods {
		ema, ok := CalculateEMA(candles, p)
		if !ok {
			return 0, false
		}
		sum += ema
	}
	return sum / float64(len(periods)), true
}

// emaSeries returns the running EMA values starting at index period-1.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	sma := 0.0
	for i := 0; i < period; i++ {
		sma += values[i]
	}
	ema := sma / float64(period)
	mult := 2.0 / float64(period+1)

	series := make([]float64, 0, len(values)-period+1)
	series = append(series, ema)
	for i := period; i < len(values); i++ {
		ema = values[i]*mult + ema*(1-mult)
		series = append(series, ema)
	}
	return series
}

// wmaAt computes the linearly weighted MA of values[end-period+1..end].
func wmaAt(values []float64, end, period int) (float64, bool) {
	if period <= 0 || end-period+1 < 0 {
		return 0, false
	}
	num, den := 0.0, 0.0
	for i := 0; i < period; i++ {
		w := float64(i + 1)
		num += values[end-period+1+i] * w
		den += w
	}
	return num / den, true
}

// ============================================================================
// MACD
// ============================================================================

// MACDResult holds MACD line, signal line and histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD computes MACD with a true signal EMA over the MACD
// series. Requires at least slow+signal closes.
func CalculateMACD(candles []market.Candle, fastPeriod, slowPeriod, signalPeriod int) (MACDResult, bool) {
	closes := market.Closes(candles)
	if len(closes) < slowPeriod+signalPeriod {
		return MACDResult{}, false
	}

	fast := emaSeries(closes, fastPeriod)
	slow := emaSeries(closes, slowPeriod)
	if fast == nil || slow == nil {
		return MACDResult{}, false
	}

	// Both series are aligned at the tail; MACD exists wherever the
	// slow EMA does.
	macd := make([]float64, len(slow))
	offset := slowPeriod - fastPeriod
	for i := range slow {
		macd[i] = fast[i+offset] - slow[i]
	}

	signal := emaSeries(macd, signalPeriod)
	if signal == nil {
		return MACDResult{}, false
	}

	line := macd[len(macd)-1]
	sig := signal[len(signal)-1]
	return MACDResult{MACD: line, Signal: sig, Histogram: line - sig}, true
}

// ============================================================================
// OSCILLATORS
// ============================================================================

// CalculateRSI computes the Relative Strength Index with Wilder
// smoothing over closes.
func CalculateRSI(candles []market.Candle, period int) (float64, bool) {
	closes := market.Closes(candles)
	if len(closes) < period+1 {
		return 0, false
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// StochasticResult holds %K and the %D smoothing of it.
type StochasticResult struct {
	K float64
	D float64
}

// CalculateStochastic computes the stochastic oscillator with %D as an
// SMA of the last dPeriod %K values.
func CalculateStochastic(candles []market.Candle, kPeriod, dPeriod int) (StochasticResult, bool) {
	if len(candles) < kPeriod+dPeriod-1 {
		return StochasticResult{}, false
	}

	kAt := func(end int) (float64, bool) {
		hh, ll := candles[end-kPeriod+1].High, candles[end-kPeriod+1].Low
		for i := end - kPeriod + 2; i <= end; i++ {
			hh = math.Max(hh, candles[i].High)
			ll = math.Min(ll, candles[i].Low)
		}
		if hh == ll {
			return 0, false
		}
		return (candles[end].Close - ll) / (hh - ll) * 100, true
	}

	last := len(candles) - 1
	k, ok := kAt(last)
	if !ok {
		return StochasticResult{}, false
	}

	dSum := 0.0
	for i := 0; i < dPeriod; i++ {
		v, ok := kAt(last - i)
		if !ok {
			return StochasticResult{}, false
		}
		dSum += v
	}
	return StochasticResult{K: k, D: dSum / float64(dPeriod)}, true
}

// CalculateCCI computes the Commodity Channel Index over typical prices.
func CalculateCCI(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < period {
		return 0, false
	}

	start := len(candles) - period
	tp := make([]float64, period)
	mean := 0.0
	for i := 0; i < period; i++ {
		c := candles[start+i]
		tp[i] = (c.High + c.Low + c.Close) / 3
		mean += tp[i]
	}
	mean /= float64(period)

	meanDev := 0.0
	for _, v := range tp {
		meanDev += math.Abs(v - mean)
	}
	meanDev /= float64(period)
	if meanDev == 0 {
		return 0, false
	}
	return (tp[period-1] - mean) / (0.015 * meanDev), true
}

// CalculateWilliamsR computes Williams %R over the last period candles.
func CalculateWilliamsR(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < period {
		return 0, false
	}
	start := len(candles) - period
	hh, ll := candles[start].High, candles[start].Low
	for i := start + 1; i < len(candles); i++ {
		hh = math.Max(hh, candles[i].High)
		ll = math.Min(ll, candles[i].Low)
	}
	if hh == ll {
		return 0, false
	}
	return (hh - candles[len(candles)-1].Close) / (hh - ll) * -100, true
}

// CalculateUltimateOscillator computes the Ultimate Oscillator over
// the 7/14/28 window triple.
func CalculateUltimateOscillator(candles []market.Candle, p1, p2, p3 int) (float64, bool) {
	if len(candles) < p3+1 {
		return 0, false
	}

	n := len(candles)
	bp := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		prevClose := candles[i-1].Close
		low := math.Min(candles[i].Low, prevClose)
		high := math.Max(candles[i].High, prevClose)
		bp[i] = candles[i].Close - low
		tr[i] = high - low
	}

	avg := func(period int) (float64, bool) {
		bpSum, trSum := 0.0, 0.0
		for i := n - period; i < n; i++ {
			bpSum += bp[i]
			trSum += tr[i]
		}
		if trSum == 0 {
			return 0, false
		}
		return bpSum / trSum, true
	}

	a1, ok1 := avg(p1)
	a2, ok2 := avg(p2)
	a3, ok3 := avg(p3)
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	return 100 * (4*a1 + 2*a2 + a3) / 7, true
}

// ============================================================================
// TREND STRENGTH
// ============================================================================

// CalculateATR computes the Average True Range with Wilder smoothing.
func CalculateATR(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < period+1 {
		return 0, false
	}

	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(candles[i], candles[i-1])
	}
	atr /= float64(period)

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(candles[i], candles[i-1])) / float64(period)
	}
	return atr, true
}

func trueRange(c, prev market.Candle) float64 {
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
}

// CalculateADX computes the Average Directional Index from smoothed
// +DI/−DI. Requires at least 2·period+1 candles.
func CalculateADX(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < 2*period+1 {
		return 0, false
	}

	n := len(candles)
	trSm, plusSm, minusSm := 0.0, 0.0, 0.0
	for i := 1; i <= period; i++ {
		tr, plusDM, minusDM := dmAt(candles, i)
		trSm += tr
		plusSm += plusDM
		minusSm += minusDM
	}

	var dxs []float64
	appendDX := func() {
		if trSm == 0 {
			dxs = append(dxs, 0)
			return
		}
		plusDI := 100 * plusSm / trSm
		minusDI := 100 * minusSm / trSm
		if plusDI+minusDI == 0 {
			dxs = append(dxs, 0)
			return
		}
		dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/(plusDI+minusDI))
	}
	appendDX()

	for i := period + 1; i < n; i++ {
		tr, plusDM, minusDM := dmAt(candles, i)
		trSm = trSm - trSm/float64(period) + tr
		plusSm = plusSm - plusSm/float64(period) + plusDM
		minusSm = minusSm - minusSm/float64(period) + minusDM
		appendDX()
	}

	if len(dxs) < period {
		return 0, false
	}
	adx := 0.0
	for i := 0; i < period; i++ {
		adx += dxs[i]
	}
	adx /= float64(period)
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}
	return adx, true
}

func dmAt(candles []market.Candle, i int) (tr, plusDM, minusDM float64) {
	upMove := candles[i].High - candles[i-1].High
	downMove := candles[i-1].Low - candles[i].Low
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	return trueRange(candles[i], candles[i-1]), plusDM, minusDM
}

// CalculateLinRegSlope fits a least-squares line through the last
// period closes and returns its slope per candle.
func CalculateLinRegSlope(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < period {
		return 0, false
	}
	start := len(candles) - period
	sumX, sumY, sumXY, sumXX := 0.0, 0.0, 0.0, 0.0
	for i := 0; i < period; i++ {
		x := float64(i)
		y := candles[start+i].Close
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	n := float64(period)
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / den, true
}

// ============================================================================
// MOMENTUM
// ============================================================================

// CalculateROC computes the percentage Rate of Change over period closes.
func CalculateROC(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < period+1 {
		return 0, false
	}
	past := candles[len(candles)-period-1].Close
	if past == 0 {
		return 0, false
	}
	return (candles[len(candles)-1].Close - past) / past * 100, true
}

// CalculateMomentum computes the raw close difference over period candles.
func CalculateMomentum(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < period+1 {
		return 0, false
	}
	return candles[len(candles)-1].Close - candles[len(candles)-period-1].Close, true
}

// CalculateOBV computes On-Balance Volume using tick counts as the
// volume proxy.
func CalculateOBV(candles []market.Candle) (float64, bool) {
	if len(candles) < 2 {
		return 0, false
	}
	obv := 0.0
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += float64(candles[i].TickCount)
		case candles[i].Close < candles[i-1].Close:
			obv -= float64(candles[i].TickCount)
		}
	}
	return obv, true
}

// CalculateZScore computes the mean-reversion z-score of the last
// close against the trailing window.
func CalculateZScore(candles []market.Candle, window int) (float64, bool) {
	if len(candles) < window {
		return 0, false
	}
	start := len(candles) - window
	mean := 0.0
	for i := start; i < len(candles); i++ {
		mean += candles[i].Close
	}
	mean /= float64(window)

	variance := 0.0
	for i := start; i < len(candles); i++ {
		d := candles[i].Close - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(window))
	if stddev == 0 {
		return 0, false
	}
	return (candles[len(candles)-1].Close - mean) / stddev, true
}

// CalculateFisher computes the Fisher transform of (H+L)/2 normalized
// over the trailing window, with the usual 0.33/0.5 smoothing.
func CalculateFisher(candles []market.Candle, period int) (float64, bool) {
	if len(candles) < period {
		return 0, false
	}
	mids := market.Midpoints(candles)

	value, fisher := 0.0, 0.0
	for end := period - 1; end < len(mids); end++ {
		lo, hi := mids[end-period+1], mids[end-period+1]
		for i := end - period + 2; i <= end; i++ {
			lo = math.Min(lo, mids[i])
			hi = math.Max(hi, mids[i])
		}
		if hi == lo {
			continue
		}
		raw := 2*((mids[end]-lo)/(hi-lo)) - 1
		value = 0.33*raw + 0.67*value
		if value > 0.999 {
			value = 0.999
		} else if value < -0.999 {
			value = -0.999
		}
		fisher = 0.5*math.Log((1+value)/(1-value)) + 0.5*fisher
	}
	return fisher, true
}

// ============================================================================
// BANDS & CHANNELS
// ============================================================================

// BollingerResult holds the Bollinger band triple.
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollinger computes Bollinger bands over closes.
func CalculateBollinger(candles []market.Candle, period int, stdDevMult float64) (BollingerResult, bool) {
	middle, ok := CalculateSMA(candles, period)
	if !ok {
		return BollingerResult{}, false
	}
	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		d := candles[i].Close - middle
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))
	return BollingerResult{
		Upper:  middle + stddev*stdDevMult,
		Middle: middle,
		Lower:  middle - stddev*stdDevMult,
	}, true
}

// KeltnerResult holds the Keltner channel triple.
type KeltnerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateKeltner computes the Keltner channel EMA(period) ± 2·ATR(period).
func CalculateKeltner(candles []market.Candle, period int) (KeltnerResult, bool) {
	middle, ok1 := CalculateEMA(candles, period)
	atr, ok2 := CalculateATR(candles, period)
	if !ok1 || !ok2 {
		return KeltnerResult{}, false
	}
	return KeltnerResult{
		Upper:  middle + 2*atr,
		Middle: middle,
		Lower:  middle - 2*atr,
	}, true
}

// DonchianResult holds the Donchian channel triple.
type DonchianResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateDonchian computes the Donchian channel over the last period
// highs and lows.
func CalculateDonchian(candles []market.Candle, period int) (DonchianResult, bool) {
	if len(candles) < period {
		return DonchianResult{}, false
	}
	start := len(candles) - period
	hh, ll := candles[start].High, candles[start].Low
	for i := start + 1; i < len(candles); i++ {
		hh = math.Max(hh, candles[i].High)
		ll = math.Min(ll, candles[i].Low)
	}
	return DonchianResult{Upper: hh, Middle: (hh + ll) / 2, Lower: ll}, true
}

// ATRBandsResult holds the SMA ± 2·ATR envelope.
type ATRBandsResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateATRBands computes SMA(period) ± 2·ATR(period).
func CalculateATRBands(candles []market.Candle, period int) (ATRBandsResult, bool) {
	middle, ok1 := CalculateSMA(candles, period)
	atr, ok2 := CalculateATR(candles, period)
	if !ok1 || !ok2 {
		return ATRBandsResult{}, false
	}
	return ATRBandsResult{
		Upper:  middle + 2*atr,
		Middle: middle,
		Lower:  middle - 2*atr,
	}, true
}

// CalculateRangePercentile ranks the last candle's range against the
// trailing window, as a percentile in [0, 100].
func CalculateRangePercentile(candles []market.Candle, window int) (float64, bool) {
	if len(candles) < window {
		return 0, false
	}
	start := len(candles) - window
	last := candles[len(candles)-1].Range()
	below := 0
	for i := start; i < len(candles); i++ {
		if candles[i].Range() <= last {
			below++
		}
	}
	return float64(below) / float64(window) * 100, true
}

// ============================================================================
// DIRECTIONAL OVERLAYS
// ============================================================================

// SuperTrendResult holds the SuperTrend line and its direction.
type SuperTrendResult struct {
	Value float64
	IsUp  bool
}

// CalculateSuperTrend computes SuperTrend with the standard band
// carry-over rules from (H+L)/2 ± mult·ATR.
func CalculateSuperTrend(candles []market.Candle, period int, mult float64) (SuperTrendResult, bool) {
	if len(candles) < period+1 {
		return SuperTrendResult{}, false
	}

	// Running Wilder ATR alongside the band recursion.
	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(candles[i], candles[i-1])
	}
	atr /= float64(period)

	upper := candles[period].Midpoint() + mult*atr
	lower := candles[period].Midpoint() - mult*atr
	isUp := candles[period].Close > upper

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(candles[i], candles[i-1])) / float64(period)
		basicUpper := candles[i].Midpoint() + mult*atr
		basicLower := candles[i].Midpoint() - mult*atr

		if basicUpper < upper || candles[i-1].Close > upper {
			upper = basicUpper
		}
		if basicLower > lower || candles[i-1].Close < lower {
			lower = basicLower
		}

		if isUp {
			if candles[i].Close < lower {
				isUp = false
			}
		} else {
			if candles[i].Close > upper {
				isUp = true
			}
		}
	}

	value := upper
	if isUp {
		value = lower
	}
	return SuperTrendResult{Value: value, IsUp: isUp}, true
}

// PSARResult holds the Parabolic SAR value and trend direction.
type PSARResult struct {
	Value     float64
	IsBullish bool
}

// CalculatePSAR computes the Parabolic SAR with the given acceleration
// step and cap.
func CalculatePSAR(candles []market.Candle, step, maxStep float64) (PSARResult, bool) {
	if len(candles) < 2 {
		return PSARResult{}, false
	}

	bullish := candles[1].Close > candles[0].Close
	af := step
	var sar, ep float64
	if bullish {
		sar = candles[0].Low
		ep = candles[1].High
	} else {
		sar = candles[0].High
		ep = candles[1].Low
	}

	for i := 2; i < len(candles); i++ {
		sar = sar + af*(ep-sar)

		if bullish {
			if candles[i].Low < sar {
				bullish = false
				sar = ep
				ep = candles[i].Low
				af = step
				continue
			}
			if candles[i].High > ep {
				ep = candles[i].High
				af = math.Min(af+step, maxStep)
			}
		} else {
			if candles[i].High > sar {
				bullish = true
				sar = ep
				ep = candles[i].High
				af = step
				continue
			}
			if candles[i].Low < ep {
				ep = candles[i].Low
				af = math.Min(af+step, maxStep)
			}
		}
	}
	return PSARResult{Value: sar, IsBullish: bullish}, true
}
