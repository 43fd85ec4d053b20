package signal

import (
	"fmt"
	"math"

	"otc-signal-bot/internal/indicators"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/patterns"
)

// defaultIndicatorWeights is the per-rule weight table. Values stay
// within [0.7, 1.5]; options may override individual entries.
var defaultIndicatorWeights = map[string]float64{
	"ema_cross":  1.3,
	"ema_ribbon": 0.9,
	"macd":       1.2,
	"rsi":        1.1,
	"stochastic": 0.9,
	"supertrend": 1.5,
	"adx_trend":  1.2,
	"bollinger":  1.0,
	"keltner":    0.8,
	"cci":        0.8,
	"williams_r": 0.7,
	"psar":       1.0,
	"momentum":   1.0,
	"roc":        0.8,
	"donchian":   0.9,
	"zscore":     0.9,
	"fisher":     0.8,
	"ultimate":   0.7,
	"patterns":   1.2,
	"orderblock": 0.8,
	"fvg":        0.7,
}

// ruleWeight resolves the effective multiplier for a rule, honoring
// the enable-list and custom overrides.
func ruleWeight(name string, opts Options) (float64, bool) {
	if opts.EnabledIndicators != nil && !opts.EnabledIndicators[name] {
		return 0, false
	}
	w, ok := defaultIndicatorWeights[name]
	if !ok {
		w = 1.0
	}
	if custom, ok := opts.CustomWeights[name]; ok {
		w = custom
	}
	return w, true
}

func clampWeight(w float64) float64 {
	if w < 0.5 {
		return 0.5
	}
	if w > 2.5 {
		return 2.5
	}
	return w
}

// indicatorVotes evaluates every indicator rule against the estimated
// candle series.
func indicatorVotes(candles []market.Candle, v *indicators.Values, opts Options) []Vote {
	var votes []Vote
	price := candles[len(candles)-1].Close
	add := func(name, direction string, raw float64, reason string) {
		mult, enabled := ruleWeight(name, opts)
		if !enabled {
			return
		}
		votes = append(votes, Vote{
			Source:    name,
			Direction: direction,
			Weight:    clampWeight(raw * mult),
			Reason:    reason,
		})
	}

	// EMA 9/21 cross, weight scaling with separation.
	e9, e21 := v.EMA[9], v.EMA[21]
	if e9.Valid && e21.Valid && price > 0 {
		strength := math.Abs(e9.V-e21.V) / price
		w := 1 + strength*10
		if e9.V > e21.V {
			add("ema_cross", DirectionCall, w, "EMA9 above EMA21")
		} else if e9.V < e21.V {
			add("ema_cross", DirectionPut, w, "EMA9 below EMA21")
		}
	}

	if v.EMARibbon.Valid {
		if price > v.EMARibbon.V {
			add("ema_ribbon", DirectionCall, 1, "price above EMA ribbon")
		} else if price < v.EMARibbon.V {
			add("ema_ribbon", DirectionPut, 1, "price below EMA ribbon")
		}
	}

	if v.MACDValid {
		w := 1 + math.Min(1.5, math.Abs(v.MACD.Histogram)*50)
		if v.MACD.Histogram > 0 {
			add("macd", DirectionCall, w, "MACD histogram positive")
		} else if v.MACD.Histogram < 0 {
			add("macd", DirectionPut, w, "MACD histogram negative")
		}
	}

	if v.RSI.Valid {
		switch {
		case v.RSI.V >= 70:
			add("rsi", DirectionPut, 1+(v.RSI.V-70)/10, fmt.Sprintf("RSI overbought at %.1f", v.RSI.V))
		case v.RSI.V <= 30:
			add("rsi", DirectionCall, 1+(30-v.RSI.V)/10, fmt.Sprintf("RSI oversold at %.1f", v.RSI.V))
		case v.RSI.V > 55:
			add("rsi", DirectionCall, 0.8, "RSI leaning bullish")
		case v.RSI.V < 45:
			add("rsi", DirectionPut, 0.8, "RSI leaning bearish")
		}
	}

	if v.StochValid {
		k, d := v.Stochastic.K, v.Stochastic.D
		switch {
		case k >= 90:
			add("stochastic", DirectionPut, 1.2, "stochastic extreme overbought")
		case k <= 10:
			add("stochastic", DirectionCall, 1.2, "stochastic extreme oversold")
		case k > d && k < 80:
			add("stochastic", DirectionCall, 1, "%K crossed above %D")
		case k < d && k > 20:
			add("stochastic", DirectionPut, 1, "%K crossed below %D")
		}
	}

	if v.SuperTrendValid {
		if v.SuperTrend.IsUp {
			add("supertrend", DirectionCall, 1, "SuperTrend up")
		} else {
			add("supertrend", DirectionPut, 1, "SuperTrend down")
		}
	}

	if v.ADX.Valid && v.ADX.V >= 25 && e9.Valid && e21.Valid {
		if e9.V > e21.V {
			add("adx_trend", DirectionCall, 1+math.Min(0.5, (v.ADX.V-25)/50), "strong trend confirmed by ADX")
		} else if e9.V < e21.V {
			add("adx_trend", DirectionPut, 1+math.Min(0.5, (v.ADX.V-25)/50), "strong trend confirmed by ADX")
		}
	}

	if v.BollingerValid {
		if price > v.Bollinger.Upper {
			add("bollinger", DirectionPut, 1, "close above upper Bollinger band")
		} else if price < v.Bollinger.Lower {
			add("bollinger", DirectionCall, 1, "close below lower Bollinger band")
		}
	}

	if v.KeltnerValid {
		if price > v.Keltner.Upper {
			add("keltner", DirectionPut, 1, "close above Keltner channel")
		} else if price < v.Keltner.Lower {
			add("keltner", DirectionCall, 1, "close below Keltner channel")
		}
	}

	if v.CCI.Valid {
		if v.CCI.V > 100 {
			add("cci", DirectionPut, 1+math.Min(0.5, (v.CCI.V-100)/200), "CCI overbought")
		} else if v.CCI.V < -100 {
			add("cci", DirectionCall, 1+math.Min(0.5, (-v.CCI.V-100)/200), "CCI oversold")
		}
	}

	if v.WilliamsR.Valid {
		if v.WilliamsR.V > -20 {
			add("williams_r", DirectionPut, 1, "Williams %R overbought")
		} else if v.WilliamsR.V < -80 {
			add("williams_r", DirectionCall, 1, "Williams %R oversold")
		}
	}

	if v.PSARValid {
		if v.PSAR.IsBullish {
			add("psar", DirectionCall, 1, "PSAR below price")
		} else {
			add("psar", DirectionPut, 1, "PSAR above price")
		}
	}

	if v.Momentum.Valid {
		if v.Momentum.V > 0 {
			add("momentum", DirectionCall, 1, "positive momentum")
		} else if v.Momentum.V < 0 {
			add("momentum", DirectionPut, 1, "negative momentum")
		}
	}

	if v.ROC.Valid {
		if v.ROC.V > 0 {
			add("roc", DirectionCall, 1, "positive rate of change")
		} else if v.ROC.V < 0 {
			add("roc", DirectionPut, 1, "negative rate of change")
		}
	}

	if v.DonchianValid {
		if price >= v.Donchian.Upper {
			add("donchian", DirectionCall, 1.2, "Donchian breakout up")
		} else if price <= v.Donchian.Lower {
			add("donchian", DirectionPut, 1.2, "Donchian breakout down")
		}
	}

	if v.ZScore.Valid {
		if v.ZScore.V > 2 {
			add("zscore", DirectionPut, 1+math.Min(0.5, (v.ZScore.V-2)/2), "stretched above the mean")
		} else if v.ZScore.V < -2 {
			add("zscore", DirectionCall, 1+math.Min(0.5, (-v.ZScore.V-2)/2), "stretched below the mean")
		}
	}

	if v.Fisher.Valid {
		if v.Fisher.V > 1.5 {
			add("fisher", DirectionPut, 1, "Fisher transform extreme high")
		} else if v.Fisher.V < -1.5 {
			add("fisher", DirectionCall, 1, "Fisher transform extreme low")
		}
	}

	if v.UltimateOsc.Valid {
		if v.UltimateOsc.V > 70 {
			add("ultimate", DirectionPut, 1, "Ultimate Oscillator overbought")
		} else if v.UltimateOsc.V < 30 {
			add("ultimate", DirectionCall, 1, "Ultimate Oscillator oversold")
		}
	}

	return votes
}

// psychologyVotes turns detected patterns and structure reads into
// votes.
func psychologyVotes(psy patterns.PsychologyAnalysis, opts Options) []Vote {
	var votes []Vote

	mult, enabled := ruleWeight("patterns", opts)
	if enabled {
		for _, p := range psy.Patterns {
			var dir string
			switch p.Direction {
			case patterns.Bullish:
				dir = DirectionCall
			case patterns.Bearish:
				dir = DirectionPut
			default:
				continue
			}
			votes = append(votes, Vote{
				Source:    "pattern:" + string(p.Type),
				Direction: dir,
				Weight:    clampWeight(p.Strength * mult),
				Reason:    p.Reason,
			})
		}
	}

	if mult, enabled := ruleWeight("orderblock", opts); enabled && psy.OrderBlockProbability >= 0.6 && psy.Bias != patterns.Neutral {
		dir := DirectionCall
		if psy.Bias == patterns.Bearish {
			dir = DirectionPut
		}
		votes = append(votes, Vote{
			Source:    "orderblock",
			Direction: dir,
			Weight:    clampWeight(psy.OrderBlockProbability * mult),
			Reason:    fmt.Sprintf("order block probability %.2f", psy.OrderBlockProbability),
		})
	}

	if mult, enabled := ruleWeight("fvg", opts); enabled && psy.FVGDetected && psy.Bias != patterns.Neutral {
		dir := DirectionCall
		if psy.Bias == patterns.Bearish {
			dir = DirectionPut
		}
		votes = append(votes, Vote{
			Source:    "fvg",
			Direction: dir,
			Weight:    clampWeight(0.8 * mult),
			Reason:    "fair value gap with matching bias",
		})
	}

	return votes
}
