package ml

import (
	"testing"

	"otc-signal-bot/internal/indicators"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/patterns"
)

func trendingCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = market.Candle{
			Open: c - step*0.8, High: c + 1, Low: c - 1.2, Close: c,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10 + i%5,
		}
	}
	return out
}

func TestExtractFeaturesBounds(t *testing.T) {
	candles := trendingCandles(120, 100, 0.5)
	ind := indicators.Compute(candles)
	psy := patterns.NewDetector().Analyze(candles)

	rec := ExtractFeatures(candles, ind, psy)
	for i, v := range rec.Vector {
		if v < -1 || v > 1 {
			t.Errorf("feature %d out of [-1,1]: %v", i, v)
		}
	}
}

func TestExtractFeaturesTrendDirection(t *testing.T) {
	up := trendingCandles(120, 100, 0.5)
	rec := ExtractFeatures(up, indicators.Compute(up), patterns.NewDetector().Analyze(up))

	if rec.Vector[FTrendDirection] <= 0 {
		t.Errorf("trend direction in uptrend = %v, want positive", rec.Vector[FTrendDirection])
	}
	if rec.Vector[FEMACross] != 1 {
		t.Errorf("EMA cross in uptrend = %v, want 1", rec.Vector[FEMACross])
	}
	if rec.TrendSign != 1 {
		t.Errorf("raw trend sign = %d, want 1", rec.TrendSign)
	}

	down := trendingCandles(120, 200, -0.5)
	rec = ExtractFeatures(down, indicators.Compute(down), patterns.NewDetector().Analyze(down))
	if rec.Vector[FTrendDirection] >= 0 {
		t.Errorf("trend direction in downtrend = %v, want negative", rec.Vector[FTrendDirection])
	}
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	candles := trendingCandles(150, 100, 0.3)
	ind := indicators.Compute(candles)
	psy := patterns.NewDetector().Analyze(candles)

	a := ExtractFeatures(candles, ind, psy)
	b := ExtractFeatures(candles, ind, psy)
	if a != b {
		t.Error("feature extraction is not deterministic")
	}
}

func TestExtractFeaturesShortHistory(t *testing.T) {
	candles := trendingCandles(5, 100, 0.5)
	rec := ExtractFeatures(candles, indicators.Compute(candles), patterns.PsychologyAnalysis{})

	// Long-window features must fall back to neutral zero.
	if rec.Vector[FRSI] != 0 || rec.Vector[FMACDHistogram] != 0 {
		t.Error("absent indicators should map to zero features")
	}
}

func TestSignatureShape(t *testing.T) {
	rec := FeatureRecord{
		RSI: 75, MACDCross: 1, TrendSign: -1,
		PatternClass: "bull_hammer", Regime: "trending", VolumeLevel: "high",
	}
	sig := Signature(rec)
	want := "high|m+1|t-1|bull_hammer|trending|high"
	if sig != want {
		t.Errorf("signature = %q, want %q", sig, want)
	}

	// Distinct states must map to distinct signatures.
	rec.RSI = 25
	if Signature(rec) == want {
		t.Error("RSI zone change did not alter signature")
	}
}
