package signal

import (
	"math"

	"otc-signal-bot/internal/indicators"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/patterns"
	"otc-signal-bot/internal/regime"
)

// strategyVotes runs the strategy heads over the estimated series and
// pools their votes with the indicator votes.
func strategyVotes(candles []market.Candle, v *indicators.Values, psy patterns.PsychologyAnalysis, reg regime.Assessment) []Vote {
	heads := []func([]market.Candle, *indicators.Values, patterns.PsychologyAnalysis, regime.Assessment) (Vote, bool){
		trendAlignmentHead,
		divergenceReversalHead,
		squeezeBreakoutHead,
		meanReversionHead,
		momentumContinuationHead,
		volatilityExpansionHead,
		patternWithTrendHead,
		goWithFlowHead,
		exhaustionHead,
		confluenceHead,
		priceActionHead,
	}

	var votes []Vote
	for _, head := range heads {
		if vote, ok := head(candles, v, psy, reg); ok {
			votes = append(votes, vote)
		}
	}
	return votes
}

// trendAlignmentHead fires when the fast, medium and slow averages
// stack in the same order.
func trendAlignmentHead(_ []market.Candle, v *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	e9, e21, e50 := v.EMA[9], v.EMA[21], v.EMA[50]
	s20, s50 := v.SMA[20], v.SMA[50]
	if !e9.Valid || !e21.Valid || !e50.Valid || !s20.Valid || !s50.Valid {
		return Vote{}, false
	}
	if e9.V > e21.V && e21.V > e50.V && s20.V > s50.V {
		return Vote{Source: "strategy:trend_alignment", Direction: DirectionCall, Weight: 1.4,
			Reason: "all moving averages stacked bullish"}, true
	}
	if e9.V < e21.V && e21.V < e50.V && s20.V < s50.V {
		return Vote{Source: "strategy:trend_alignment", Direction: DirectionPut, Weight: 1.4,
			Reason: "all moving averages stacked bearish"}, true
	}
	return Vote{}, false
}

// divergenceReversalHead compares the last price swing with the RSI
// read five candles earlier.
func divergenceReversalHead(candles []market.Candle, v *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if !v.RSI.Valid || len(candles) < 25 {
		return Vote{}, false
	}
	prevRSI, ok := indicators.CalculateRSI(candles[:len(candles)-5], 14)
	if !ok {
		return Vote{}, false
	}

	last := candles[len(candles)-1].Close
	prev := candles[len(candles)-6].Close

	if last > prev && v.RSI.V < prevRSI-2 && v.RSI.V > 60 {
		return Vote{Source: "strategy:divergence", Direction: DirectionPut, Weight: 1.3,
			Reason: "bearish RSI divergence at highs"}, true
	}
	if last < prev && v.RSI.V > prevRSI+2 && v.RSI.V < 40 {
		return Vote{Source: "strategy:divergence", Direction: DirectionCall, Weight: 1.3,
			Reason: "bullish RSI divergence at lows"}, true
	}
	return Vote{}, false
}

// squeezeBreakoutHead fires when Bollinger bands sit inside the
// Keltner channel and price escapes one side.
func squeezeBreakoutHead(candles []market.Candle, v *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if !v.BollingerValid || !v.KeltnerValid {
		return Vote{}, false
	}
	squeezed := v.Bollinger.Upper < v.Keltner.Upper && v.Bollinger.Lower > v.Keltner.Lower
	if !squeezed {
		return Vote{}, false
	}
	price := candles[len(candles)-1].Close
	if price > v.Bollinger.Upper {
		return Vote{Source: "strategy:squeeze_breakout", Direction: DirectionCall, Weight: 1.5,
			Reason: "breakout above a volatility squeeze"}, true
	}
	if price < v.Bollinger.Lower {
		return Vote{Source: "strategy:squeeze_breakout", Direction: DirectionPut, Weight: 1.5,
			Reason: "breakdown below a volatility squeeze"}, true
	}
	return Vote{}, false
}

// meanReversionHead fades statistically stretched extremes.
func meanReversionHead(_ []market.Candle, v *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if !v.ZScore.Valid || !v.RSI.Valid {
		return Vote{}, false
	}
	if v.ZScore.V > 2 && v.RSI.V > 70 {
		return Vote{Source: "strategy:mean_reversion", Direction: DirectionPut, Weight: 1.2,
			Reason: "overbought extreme, fading the stretch"}, true
	}
	if v.ZScore.V < -2 && v.RSI.V < 30 {
		return Vote{Source: "strategy:mean_reversion", Direction: DirectionCall, Weight: 1.2,
			Reason: "oversold extreme, fading the stretch"}, true
	}
	return Vote{}, false
}

// momentumContinuationHead needs momentum, ROC and the MACD histogram
// all pointing one way.
func momentumContinuationHead(_ []market.Candle, v *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if !v.Momentum.Valid || !v.ROC.Valid || !v.MACDValid {
		return Vote{}, false
	}
	if v.Momentum.V > 0 && v.ROC.V > 0 && v.MACD.Histogram > 0 {
		return Vote{Source: "strategy:momentum_continuation", Direction: DirectionCall, Weight: 1.1,
			Reason: "momentum, ROC and MACD all positive"}, true
	}
	if v.Momentum.V < 0 && v.ROC.V < 0 && v.MACD.Histogram < 0 {
		return Vote{Source: "strategy:momentum_continuation", Direction: DirectionPut, Weight: 1.1,
			Reason: "momentum, ROC and MACD all negative"}, true
	}
	return Vote{}, false
}

// volatilityExpansionHead rides an unusually large candle in its own
// direction.
func volatilityExpansionHead(candles []market.Candle, _ *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if len(candles) < 21 {
		return Vote{}, false
	}
	avg := 0.0
	for _, c := range candles[len(candles)-21 : len(candles)-1] {
		avg += c.High - c.Low
	}
	avg /= 20

	last := candles[len(candles)-1]
	if avg <= 0 || last.High-last.Low <= 1.8*avg {
		return Vote{}, false
	}
	if last.IsBullish() {
		return Vote{Source: "strategy:volatility_expansion", Direction: DirectionCall, Weight: 0.9,
			Reason: "range expansion with a bullish close"}, true
	}
	if last.IsBearish() {
		return Vote{Source: "strategy:volatility_expansion", Direction: DirectionPut, Weight: 0.9,
			Reason: "range expansion with a bearish close"}, true
	}
	return Vote{}, false
}

// patternWithTrendHead boosts the dominant candlestick bias when it
// agrees with the regime.
func patternWithTrendHead(_ []market.Candle, _ *indicators.Values, psy patterns.PsychologyAnalysis, reg regime.Assessment) (Vote, bool) {
	if psy.Bias == patterns.Bullish && reg.Regime == regime.TrendingUp {
		return Vote{Source: "strategy:pattern_with_trend", Direction: DirectionCall, Weight: 1.3,
			Reason: "bullish patterns inside an uptrend"}, true
	}
	if psy.Bias == patterns.Bearish && reg.Regime == regime.TrendingDown {
		return Vote{Source: "strategy:pattern_with_trend", Direction: DirectionPut, Weight: 1.3,
			Reason: "bearish patterns inside a downtrend"}, true
	}
	return Vote{}, false
}

// goWithFlowHead follows 3-5 consecutive same-direction candles when
// the short EMA agrees.
func goWithFlowHead(candles []market.Candle, v *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if len(candles) < 6 {
		return Vote{}, false
	}
	e9, e21 := v.EMA[9], v.EMA[21]
	if !e9.Valid || !e21.Valid {
		return Vote{}, false
	}

	run := 0
	bullish := candles[len(candles)-1].IsBullish()
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].IsBullish() == bullish && (candles[i].IsBullish() || candles[i].IsBearish()) {
			run++
		} else {
			break
		}
	}
	if run < 3 || run > 5 {
		return Vote{}, false
	}
	if bullish && e9.V > e21.V {
		return Vote{Source: "strategy:go_with_flow", Direction: DirectionCall, Weight: 1.0,
			Reason: "consecutive bullish candles with the trend"}, true
	}
	if !bullish && e9.V < e21.V {
		return Vote{Source: "strategy:go_with_flow", Direction: DirectionPut, Weight: 1.0,
			Reason: "consecutive bearish candles with the trend"}, true
	}
	return Vote{}, false
}

// exhaustionHead fades an oversized candle into an RSI extreme.
func exhaustionHead(candles []market.Candle, v *indicators.Values, _ patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if len(candles) < 11 || !v.RSI.Valid {
		return Vote{}, false
	}
	avgBody := 0.0
	for _, c := range candles[len(candles)-11 : len(candles)-1] {
		avgBody += math.Abs(c.Close - c.Open)
	}
	avgBody /= 10

	last := candles[len(candles)-1]
	body := math.Abs(last.Close - last.Open)
	if avgBody <= 0 || body < 2*avgBody {
		return Vote{}, false
	}
	if last.IsBullish() && v.RSI.V > 75 {
		return Vote{Source: "strategy:exhaustion", Direction: DirectionPut, Weight: 1.2,
			Reason: "climactic bullish candle at RSI extreme"}, true
	}
	if last.IsBearish() && v.RSI.V < 25 {
		return Vote{Source: "strategy:exhaustion", Direction: DirectionCall, Weight: 1.2,
			Reason: "climactic bearish candle at RSI extreme"}, true
	}
	return Vote{}, false
}

// confluenceHead counts independent bullish and bearish factors and
// fires when one side gathers five or more.
func confluenceHead(candles []market.Candle, v *indicators.Values, psy patterns.PsychologyAnalysis, reg regime.Assessment) (Vote, bool) {
	price := candles[len(candles)-1].Close
	bull, bear := 0, 0
	vote := func(up bool) {
		if up {
			bull++
		} else {
			bear++
		}
	}

	if e9, e21 := v.EMA[9], v.EMA[21]; e9.Valid && e21.Valid && e9.V != e21.V {
		vote(e9.V > e21.V)
	}
	if v.MACDValid && v.MACD.Histogram != 0 {
		vote(v.MACD.Histogram > 0)
	}
	if v.RSI.Valid && v.RSI.V != 50 {
		vote(v.RSI.V > 50)
	}
	if v.SuperTrendValid {
		vote(v.SuperTrend.IsUp)
	}
	if v.PSARValid {
		vote(v.PSAR.IsBullish)
	}
	if v.Momentum.Valid && v.Momentum.V != 0 {
		vote(v.Momentum.V > 0)
	}
	if ribbon := v.EMARibbon; ribbon.Valid && price != ribbon.V {
		vote(price > ribbon.V)
	}
	if psy.Bias == patterns.Bullish {
		bull++
	} else if psy.Bias == patterns.Bearish {
		bear++
	}
	if reg.Regime == regime.TrendingUp {
		bull++
	} else if reg.Regime == regime.TrendingDown {
		bear++
	}

	if bull >= 5 && bull > bear+2 {
		return Vote{Source: "strategy:confluence", Direction: DirectionCall, Weight: 1.5,
			Reason: "broad bullish confluence"}, true
	}
	if bear >= 5 && bear > bull+2 {
		return Vote{Source: "strategy:confluence", Direction: DirectionPut, Weight: 1.5,
			Reason: "broad bearish confluence"}, true
	}
	return Vote{}, false
}

// priceActionHead looks for a three-bar reversal, a fair value gap, or
// falls back to the PSAR bias.
func priceActionHead(candles []market.Candle, v *indicators.Values, psy patterns.PsychologyAnalysis, _ regime.Assessment) (Vote, bool) {
	if len(candles) >= 3 {
		a := candles[len(candles)-3]
		b := candles[len(candles)-2]
		c := candles[len(candles)-1]

		// Three-bar reversal: two pushes one way, then a close beyond
		// the prior body.
		if a.IsBearish() && b.IsBearish() && c.IsBullish() && c.Close > b.Open {
			return Vote{Source: "strategy:price_action", Direction: DirectionCall, Weight: 1.0,
				Reason: "three-bar bullish reversal"}, true
		}
		if a.IsBullish() && b.IsBullish() && c.IsBearish() && c.Close < b.Open {
			return Vote{Source: "strategy:price_action", Direction: DirectionPut, Weight: 1.0,
				Reason: "three-bar bearish reversal"}, true
		}
	}

	if psy.FVGDetected && psy.Bias != patterns.Neutral {
		dir := DirectionCall
		if psy.Bias == patterns.Bearish {
			dir = DirectionPut
		}
		return Vote{Source: "strategy:price_action", Direction: dir, Weight: 0.9,
			Reason: "fair value gap bias"}, true
	}

	if v.PSARValid {
		dir := DirectionPut
		reason := "PSAR pressing from above"
		if v.PSAR.IsBullish {
			dir = DirectionCall
			reason = "PSAR supporting from below"
		}
		return Vote{Source: "strategy:price_action", Direction: dir, Weight: 0.7, Reason: reason}, true
	}
	return Vote{}, false
}
