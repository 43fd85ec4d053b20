package indicators

import (
	"math"
	"testing"

	"otc-signal-bot/internal/market"
)

// candlesFromCloses builds flat candles where open=high=low=close.
func candlesFromCloses(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Open: c, High: c, Low: c, Close: c,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
	}
	return out
}

func linearCandles(n int, start, step float64) []market.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return candlesFromCloses(closes...)
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestSMA(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 4, 5)

	got, ok := CalculateSMA(candles, 5)
	if !ok || got != 3 {
		t.Errorf("SMA(5) = %v ok=%v, want 3", got, ok)
	}

	got, ok = CalculateSMA(candles, 3)
	if !ok || got != 4 {
		t.Errorf("SMA(3) = %v ok=%v, want 4 (last three closes)", got, ok)
	}

	if _, ok := CalculateSMA(candles, 6); ok {
		t.Error("SMA with insufficient history should be absent")
	}
}

func TestEMAConstantSeries(t *testing.T) {
	candles := candlesFromCloses(7, 7, 7, 7, 7, 7, 7, 7, 7, 7)
	got, ok := CalculateEMA(candles, 5)
	if !ok || !almostEqual(got, 7, 1e-9) {
		t.Errorf("EMA of constant series = %v ok=%v, want 7", got, ok)
	}
}

func TestEMATracksTrend(t *testing.T) {
	candles := linearCandles(60, 100, 1)
	ema9, _ := CalculateEMA(candles, 9)
	ema21, _ := CalculateEMA(candles, 21)
	if ema9 <= ema21 {
		t.Errorf("in an uptrend fast EMA (%v) should exceed slow EMA (%v)", ema9, ema21)
	}
	last := candles[len(candles)-1].Close
	if ema9 >= last {
		t.Errorf("EMA (%v) should lag last price (%v) in an uptrend", ema9, last)
	}
}

func TestRSIExtremes(t *testing.T) {
	up := linearCandles(30, 100, 1)
	rsi, ok := CalculateRSI(up, 14)
	if !ok || rsi != 100 {
		t.Errorf("RSI of pure uptrend = %v ok=%v, want 100", rsi, ok)
	}

	down := linearCandles(30, 200, -1)
	rsi, ok = CalculateRSI(down, 14)
	if !ok || !almostEqual(rsi, 0, 1e-9) {
		t.Errorf("RSI of pure downtrend = %v ok=%v, want 0", rsi, ok)
	}

	if _, ok := CalculateRSI(candlesFromCloses(1, 2, 3), 14); ok {
		t.Error("RSI on 3 candles should be absent")
	}
}

func TestMACDHistoryRequirement(t *testing.T) {
	if _, ok := CalculateMACD(linearCandles(34, 100, 1), 12, 26, 9); ok {
		t.Error("MACD should be absent below slow+signal closes")
	}
	res, ok := CalculateMACD(linearCandles(35, 100, 1), 12, 26, 9)
	if !ok {
		t.Fatal("MACD absent with exactly slow+signal closes")
	}
	if res.MACD <= 0 {
		t.Errorf("MACD in steady uptrend = %v, want positive", res.MACD)
	}
	if !almostEqual(res.Histogram, res.MACD-res.Signal, 1e-12) {
		t.Errorf("histogram %v != macd-signal %v", res.Histogram, res.MACD-res.Signal)
	}
}

func TestStochasticBounds(t *testing.T) {
	up := linearCandles(20, 100, 1)
	res, ok := CalculateStochastic(up, 14, 3)
	if !ok {
		t.Fatal("stochastic absent on 20 candles")
	}
	if res.K < 99 || res.K > 100 {
		t.Errorf("%%K at fresh high = %v, want ~100", res.K)
	}
	if res.D < 0 || res.D > 100 {
		t.Errorf("%%D out of range: %v", res.D)
	}

	// Flat series has no high-low spread.
	if _, ok := CalculateStochastic(candlesFromCloses(5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5), 14, 3); ok {
		t.Error("stochastic on zero-range window should be absent")
	}
}

func TestATR(t *testing.T) {
	candles := make([]market.Candle, 20)
	for i := range candles {
		candles[i] = market.Candle{Open: 100, High: 102, Low: 98, Close: 100, StartEpoch: int64(i) * 60}
	}
	atr, ok := CalculateATR(candles, 14)
	if !ok || !almostEqual(atr, 4, 1e-9) {
		t.Errorf("ATR of constant 4-range candles = %v ok=%v, want 4", atr, ok)
	}

	if _, ok := CalculateATR(candles[:14], 14); ok {
		t.Error("ATR on period candles should be absent (needs period+1)")
	}
}

func TestADXTrendVsFlat(t *testing.T) {
	trend := linearCandlesWithRange(60, 100, 1)
	adx, ok := CalculateADX(trend, 14)
	if !ok {
		t.Fatal("ADX absent on 60 candles")
	}
	if adx < 25 {
		t.Errorf("ADX of a clean trend = %v, want >= 25", adx)
	}

	if _, ok := CalculateADX(trend[:28], 14); ok {
		t.Error("ADX below 2*period+1 candles should be absent")
	}
}

// linearCandlesWithRange gives every candle a real high-low spread so
// directional movement is well defined.
func linearCandlesWithRange(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = market.Candle{
			Open: c - step/2, High: c + 1, Low: c - 1, Close: c,
			StartEpoch: int64(i) * 60, TickCount: 10,
		}
	}
	return out
}

func TestBollingerSymmetry(t *testing.T) {
	candles := linearCandles(25, 100, 1)
	res, ok := CalculateBollinger(candles, 20, 2)
	if !ok {
		t.Fatal("bollinger absent on 25 candles")
	}
	upperGap := res.Upper - res.Middle
	lowerGap := res.Middle - res.Lower
	if !almostEqual(upperGap, lowerGap, 1e-9) {
		t.Errorf("bands not symmetric: +%v / -%v", upperGap, lowerGap)
	}
	if res.Upper <= res.Middle || res.Lower >= res.Middle {
		t.Errorf("band ordering violated: %+v", res)
	}
}

func TestDonchian(t *testing.T) {
	candles := linearCandlesWithRange(25, 100, 1)
	res, ok := CalculateDonchian(candles, 20)
	if !ok {
		t.Fatal("donchian absent")
	}
	wantHigh := candles[len(candles)-1].High
	wantLow := candles[len(candles)-20].Low
	if res.Upper != wantHigh || res.Lower != wantLow {
		t.Errorf("donchian = %+v, want upper %v lower %v", res, wantHigh, wantLow)
	}
	if !almostEqual(res.Middle, (wantHigh+wantLow)/2, 1e-12) {
		t.Errorf("donchian middle = %v", res.Middle)
	}
}

func TestWilliamsR(t *testing.T) {
	candles := linearCandlesWithRange(20, 100, 1)
	wr, ok := CalculateWilliamsR(candles, 14)
	if !ok {
		t.Fatal("williams %R absent")
	}
	if wr > 0 || wr < -100 {
		t.Errorf("williams %%R out of range: %v", wr)
	}
	// Close near the top of the window means %R near 0.
	if wr < -20 {
		t.Errorf("williams %%R in uptrend = %v, want near 0", wr)
	}
}

func TestZScore(t *testing.T) {
	if _, ok := CalculateZScore(candlesFromCloses(5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5), 20); ok {
		t.Error("z-score of zero-variance window should be absent")
	}

	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[19] = 110
	z, ok := CalculateZScore(candlesFromCloses(closes...), 20)
	if !ok || z <= 0 {
		t.Errorf("z-score of upside outlier = %v ok=%v, want positive", z, ok)
	}
}

func TestSuperTrendDirection(t *testing.T) {
	up := linearCandlesWithRange(40, 100, 2)
	res, ok := CalculateSuperTrend(up, 10, 3)
	if !ok {
		t.Fatal("supertrend absent")
	}
	if !res.IsUp {
		t.Error("supertrend direction in strong uptrend should be up")
	}
	if res.Value >= up[len(up)-1].Close {
		t.Errorf("supertrend line %v should sit below price %v in uptrend", res.Value, up[len(up)-1].Close)
	}

	down := linearCandlesWithRange(40, 200, -2)
	res, _ = CalculateSuperTrend(down, 10, 3)
	if res.IsUp {
		t.Error("supertrend direction in strong downtrend should be down")
	}
}

func TestPSARFollowsTrend(t *testing.T) {
	up := linearCandlesWithRange(30, 100, 1)
	res, ok := CalculatePSAR(up, 0.02, 0.2)
	if !ok || !res.IsBullish {
		t.Errorf("PSAR in uptrend = %+v ok=%v, want bullish", res, ok)
	}
	if res.Value >= up[len(up)-1].Low {
		t.Errorf("bullish PSAR %v should sit below price lows", res.Value)
	}
}

func TestOBVUsesTickCounts(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 2)
	obv, ok := CalculateOBV(candles)
	if !ok {
		t.Fatal("OBV absent")
	}
	// +10 +10 -10 with tickCount=10 per candle.
	if obv != 10 {
		t.Errorf("OBV = %v, want 10", obv)
	}
}

func TestROCAndMomentum(t *testing.T) {
	candles := linearCandles(20, 100, 1)

	roc, ok := CalculateROC(candles, 12)
	want := (119.0 - 107.0) / 107.0 * 100
	if !ok || !almostEqual(roc, want, 1e-9) {
		t.Errorf("ROC = %v ok=%v, want %v", roc, ok, want)
	}

	mom, ok := CalculateMomentum(candles, 10)
	if !ok || mom != 10 {
		t.Errorf("momentum = %v ok=%v, want 10", mom, ok)
	}
}

func TestLinRegSlope(t *testing.T) {
	candles := linearCandles(20, 100, 2)
	slope, ok := CalculateLinRegSlope(candles, 14)
	if !ok || !almostEqual(slope, 2, 1e-9) {
		t.Errorf("slope of y=2x = %v ok=%v, want 2", slope, ok)
	}
}

func TestRangePercentile(t *testing.T) {
	candles := make([]market.Candle, 20)
	for i := range candles {
		candles[i] = market.Candle{Open: 100, High: 100 + float64(i+1), Low: 100, Close: 100}
	}
	// Last candle has the widest range of the window.
	p, ok := CalculateRangePercentile(candles, 20)
	if !ok || p != 100 {
		t.Errorf("range percentile of widest candle = %v ok=%v, want 100", p, ok)
	}
}

func TestComputeDeterministicAndAbsent(t *testing.T) {
	short := linearCandles(10, 100, 1)
	v := Compute(short)
	if v.SMA[200].Valid || v.MACDValid || v.ADX.Valid {
		t.Error("long-window indicators should be absent on 10 candles")
	}
	if !v.EMA[5].Valid {
		t.Error("EMA(5) should be present on 10 candles")
	}

	full := linearCandlesWithRange(250, 100, 0.5)
	a, b := Compute(full), Compute(full)
	if a.RSI != b.RSI || a.MACD != b.MACD || a.SuperTrend != b.SuperTrend || a.Fisher != b.Fisher {
		t.Error("Compute is not deterministic on identical input")
	}
	if !a.SMA[200].Valid || !a.MACDValid || !a.ADX.Valid || !a.EMARibbon.Valid {
		t.Error("all indicators should be present on 250 candles")
	}
}

func TestNoNaNLeaks(t *testing.T) {
	candles := linearCandlesWithRange(250, 100, 0.5)
	v := Compute(candles)

	check := func(name string, val Value) {
		if val.Valid && (math.IsNaN(val.V) || math.IsInf(val.V, 0)) {
			t.Errorf("%s leaked a non-finite value: %v", name, val.V)
		}
	}
	check("rsi", v.RSI)
	check("atr", v.ATR)
	check("adx", v.ADX)
	check("cci", v.CCI)
	check("fisher", v.Fisher)
	check("zscore", v.ZScore)
	check("obv", v.OBV)
	check("ribbon", v.EMARibbon)
}
