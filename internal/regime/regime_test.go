package regime

import (
	"testing"

	"otc-signal-bot/internal/market"
)

// trendCandles is a steady directional move with small wicks.
func trendCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = market.Candle{
			Open: c - step, Close: c,
			High: maxF(c-step, c) + 0.1, Low: minF(c-step, c) - 0.1,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
	}
	return out
}

// choppyCandles alternates direction every candle with heavy wicks.
func choppyCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		close := 100.0 + 0.5
		if i%2 == 0 {
			close = 100.0 - 0.5
		}
		out[i] = market.Candle{
			Open: 100, Close: close, High: 101.5, Low: 98.5,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
	}
	return out
}

// zigzagUp rises in five-up/two-down legs, leaving higher highs and
// higher lows.
func zigzagUp(legs int) []market.Candle {
	var path []float64
	v := 100.0
	for l := 0; l < legs; l++ {
		for i := 0; i < 5; i++ {
			v++
			path = append(path, v)
		}
		for i := 0; i < 2; i++ {
			v--
			path = append(path, v)
		}
	}
	out := make([]market.Candle, len(path))
	prev := 100.0
	for i, p := range path {
		out[i] = market.Candle{
			Open: prev, Close: p, High: p + 0.05, Low: p - 0.05,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
		prev = p
	}
	return out
}

func TestUptrendDetected(t *testing.T) {
	a := Detect(trendCandles(60, 100, 0.5))

	if a.Regime != TrendingUp {
		t.Fatalf("regime = %s, want TRENDING_UP (adx=%v)", a.Regime, a.ADX)
	}
	if a.Strength <= 0.5 {
		t.Errorf("uptrend strength = %v, want > 0.5", a.Strength)
	}
	if !a.IsTradeable {
		t.Errorf("clean uptrend not tradeable: %s", a.Reason)
	}
	if a.TrendDuration < 2 {
		t.Errorf("trend duration = %d, want >= 2", a.TrendDuration)
	}

	if ok, _ := a.AllowsDirection("PUT"); ok {
		t.Error("PUT against a strong uptrend should be vetoed")
	}
	if ok, reason := a.AllowsDirection("CALL"); !ok {
		t.Errorf("CALL with the uptrend vetoed: %s", reason)
	}
	if m := a.PenaltyMultiplier(); m < 0.85 {
		t.Errorf("trending penalty multiplier = %v, want >= 0.85", m)
	}
}

func TestDowntrendSymmetric(t *testing.T) {
	a := Detect(trendCandles(60, 200, -0.5))

	if a.Regime != TrendingDown {
		t.Fatalf("regime = %s, want TRENDING_DOWN", a.Regime)
	}
	if ok, _ := a.AllowsDirection("CALL"); ok {
		t.Error("CALL against a strong downtrend should be vetoed")
	}
	if ok, _ := a.AllowsDirection("PUT"); !ok {
		t.Error("PUT with the downtrend should pass")
	}
}

func TestChoppyMarket(t *testing.T) {
	a := Detect(choppyCandles(60))

	if a.PriceAction != ActionChoppy {
		t.Errorf("price action = %s, want CHOPPY", a.PriceAction)
	}
	if a.Regime != Choppy {
		t.Errorf("regime = %s, want CHOPPY", a.Regime)
	}
	if a.IsTradeable {
		t.Error("choppy market must not be tradeable")
	}
	if m := a.PenaltyMultiplier(); m != 0.4 {
		t.Errorf("choppy penalty multiplier = %v, want 0.4", m)
	}
}

func TestShortHistoryUnknown(t *testing.T) {
	a := Detect(trendCandles(20, 100, 0.5))

	if a.Regime != Unknown {
		t.Errorf("regime on 20 candles = %s, want UNKNOWN", a.Regime)
	}
	if a.IsTradeable {
		t.Error("UNKNOWN regime must not be tradeable")
	}
	if m := a.PenaltyMultiplier(); m != 0.5 {
		t.Errorf("unknown penalty multiplier = %v, want 0.5", m)
	}
}

func TestSwingStructure(t *testing.T) {
	up, down := swingStructure(zigzagUp(5))
	if !up {
		t.Error("rising zigzag should confirm higher-highs/higher-lows")
	}
	if down {
		t.Error("rising zigzag wrongly confirmed a down structure")
	}
}

func TestMomentumAlignment(t *testing.T) {
	candles := trendCandles(60, 100, 0.5)
	if !momentumAligned(candles, 1) {
		t.Error("momentum should align with the uptrend")
	}
	if momentumAligned(candles, -1) {
		t.Error("momentum should not align against the uptrend")
	}
	if momentumAligned(candles, 0) {
		t.Error("no direction can never be aligned")
	}
}

func TestTradeabilityGates(t *testing.T) {
	young := Assessment{Regime: TrendingUp, TrendDuration: 1, Strength: 0.8, SwingsConfirmed: true}
	if ok, _ := tradeability(young); ok {
		t.Error("one-candle trend should not be tradeable")
	}

	weak := Assessment{Regime: TrendingUp, TrendDuration: 5, Strength: 0.3}
	if ok, _ := tradeability(weak); ok {
		t.Error("unconfirmed weak trend should not be tradeable")
	}

	ranging := Assessment{Regime: Ranging, PriceAction: ActionClean}
	if ok, _ := tradeability(ranging); !ok {
		t.Error("clean ranging market should be tradeable")
	}
	if m := ranging.PenaltyMultiplier(); m != 0.8 {
		t.Errorf("clean ranging penalty = %v, want 0.8", m)
	}
}
