package volatility

import (
	"strings"
	"testing"
	"time"

	"otc-signal-bot/internal/market"
)

// calmCandles is a quiet uptrend: solid bodies, tiny wicks.
func calmCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := range out {
		out[i] = market.Candle{
			Open: price, Close: price + 0.2,
			High: price + 0.22, Low: price - 0.02,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
		price += 0.2
	}
	return out
}

// spikeCandles is 10 quiet candles followed by 5 whose ranges are 4x
// the prior mean.
func spikeCandles() []market.Candle {
	out := make([]market.Candle, 15)
	for i := 0; i < 10; i++ {
		out[i] = market.Candle{
			Open: 100, Close: 100.1, High: 100.3, Low: 99.8,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
	}
	for i := 10; i < 15; i++ {
		out[i] = market.Candle{
			Open: 100, Close: 100.1, High: 101.2, Low: 99.2,
			StartEpoch: int64(i) * 60, Timeframe: 60, TickCount: 10,
		}
	}
	return out
}

func TestCalmMarketScoresLow(t *testing.T) {
	a := Analyze("R_50", calmCandles(30))
	if a.IsVolatile {
		t.Errorf("calm market flagged volatile, score=%v", a.VolatilityScore)
	}
	if !a.IsStable {
		t.Error("calm trending market should be stable")
	}
	if a.SpikeCount != 0 {
		t.Errorf("spike count in calm market = %d", a.SpikeCount)
	}
	if noTrade, reason := ShouldNoTrade("R_50", calmCandles(30)); noTrade {
		t.Errorf("calm market vetoed: %s", reason)
	}
}

func TestSpikesTriggerVeto(t *testing.T) {
	candles := spikeCandles()

	a := Analyze("R_100", candles)
	if a.SpikeCount != 5 {
		t.Errorf("spike count = %d, want 5", a.SpikeCount)
	}
	if !a.IsVolatile {
		t.Errorf("spike series not flagged volatile, score=%v", a.VolatilityScore)
	}

	noTrade, reason := ShouldNoTrade("R_100", candles)
	if !noTrade {
		t.Fatal("spike series should be vetoed")
	}
	if !strings.HasPrefix(reason, "Extreme volatility") && !strings.HasPrefix(reason, "price spikes") {
		t.Errorf("veto reason %q has unexpected prefix", reason)
	}
}

func TestVolatileBoundary(t *testing.T) {
	if volatile, _ := classify(0.4); !volatile {
		t.Error("score 0.4 must classify as volatile")
	}
	if volatile, _ := classify(0.3999999); volatile {
		t.Error("score just under 0.4 must not classify as volatile")
	}
	if _, severity := classify(0.85); severity != "extreme" {
		t.Errorf("severity at 0.85 = %q, want extreme", severity)
	}
}

func TestShortHistoryIsNeutral(t *testing.T) {
	a := Analyze("R_25", calmCandles(10))
	if a.VolatilityScore != 0 || a.IsVolatile || !a.IsStable {
		t.Errorf("short history should score neutral: %+v", a)
	}
}

func TestChoppyClosesLowerStability(t *testing.T) {
	candles := calmCandles(30)
	// Alternate the closes so direction flips every candle.
	for i := range candles {
		if i%2 == 0 {
			candles[i].Close = candles[i].Open - 0.2
			candles[i].Low = candles[i].Close - 0.02
			candles[i].High = candles[i].Open + 0.02
		}
	}

	chop := Analyze("R_75", candles)
	trend := Analyze("R_75", calmCandles(30))
	if chop.PriceStability >= trend.PriceStability {
		t.Errorf("choppy stability %v not below trending %v",
			chop.PriceStability, trend.PriceStability)
	}
}

func TestServiceCache(t *testing.T) {
	s := NewService(nil)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	if _, ok := s.Get("R_50"); ok {
		t.Error("empty cache returned an analysis")
	}

	s.Update("R_50", calmCandles(30))
	s.Update("R_100", spikeCandles())

	a, ok := s.Get("R_100")
	if !ok || !a.IsVolatile {
		t.Errorf("cached spike analysis = %+v, ok=%v", a, ok)
	}
	if a.Timestamp != now.Unix() {
		t.Errorf("analysis timestamp = %d, want %d", a.Timestamp, now.Unix())
	}
	if got := len(s.All()); got != 2 {
		t.Errorf("All() returned %d analyses, want 2", got)
	}
	if !s.LastUpdate().Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", s.LastUpdate(), now)
	}

	status := s.GetStatus()
	if status["symbols_tracked"].(int) != 2 || status["volatile_count"].(int) != 1 {
		t.Errorf("status = %v", status)
	}
}
