package indicators

import (
	"otc-signal-bot/internal/market"
)

// Value is one scalar indicator reading. Valid is false when the
// history was too short to compute it.
type Value struct {
	V     float64
	Valid bool
}

func scalar(v float64, ok bool) Value {
	return Value{V: v, Valid: ok}
}

// Values is the full indicator snapshot computed from one candle array.
type Values struct {
	EMA  map[int]Value // periods 5, 9, 12, 21, 50
	SMA  map[int]Value // periods 20, 50, 200
	Hull Value

	MACD      MACDResult
	MACDValid bool

	RSI        Value
	Stochastic StochasticResult
	StochValid bool

	ATR       Value
	ADX       Value
	CCI       Value
	WilliamsR Value

	Bollinger      BollingerResult
	BollingerValid bool
	Keltner        KeltnerResult
	KeltnerValid   bool

	SuperTrend      SuperTrendResult
	SuperTrendValid bool

	ROC      Value
	Momentum Value

	Donchian      DonchianResult
	DonchianValid bool

	PSAR      PSARResult
	PSARValid bool

	OBV         Value
	UltimateOsc Value
	ZScore      Value
	LinRegSlope Value
	Fisher      Value

	ATRBands      ATRBandsResult
	ATRBandsValid bool

	RangePercentile Value
	EMARibbon       Value
}

// Compute evaluates the whole indicator set over one candle array. It
// is a pure function: identical inputs always produce identical output.
func Compute(candles []market.Candle) *Values {
	v := &Values{
		EMA: make(map[int]Value, 5),
		SMA: make(map[int]Value, 3),
	}

	for _, p := range []int{5, 9, 12, 21, 50} {
		v.EMA[p] = scalar(CalculateEMA(candles, p))
	}
	for _, p := range []int{20, 50, 200} {
		v.SMA[p] = scalar(CalculateSMA(candles, p))
	}
	v.Hull = scalar(CalculateHullMA(candles, 9))

	v.MACD, v.MACDValid = CalculateMACD(candles, 12, 26, 9)
	v.RSI = scalar(CalculateRSI(candles, 14))
	v.Stochastic, v.StochValid = CalculateStochastic(candles, 14, 3)

	v.ATR = scalar(CalculateATR(candles, 14))
	v.ADX = scalar(CalculateADX(candles, 14))
	v.CCI = scalar(CalculateCCI(candles, 20))
	v.WilliamsR = scalar(CalculateWilliamsR(candles, 14))

	v.Bollinger, v.BollingerValid = CalculateBollinger(candles, 20, 2)
	v.Keltner, v.KeltnerValid = CalculateKeltner(candles, 20)
	v.SuperTrend, v.SuperTrendValid = CalculateSuperTrend(candles, 10, 3)

	v.ROC = scalar(CalculateROC(candles, 12))
	v.Momentum = scalar(CalculateMomentum(candles, 10))
	v.Donchian, v.DonchianValid = CalculateDonchian(candles, 20)
	v.PSAR, v.PSARValid = CalculatePSAR(candles, 0.02, 0.2)

	v.OBV = scalar(CalculateOBV(candles))
	v.UltimateOsc = scalar(CalculateUltimateOscillator(candles, 7, 14, 28))
	v.ZScore = scalar(CalculateZScore(candles, 20))
	v.LinRegSlope = scalar(CalculateLinRegSlope(candles, 14))
	v.Fisher = scalar(CalculateFisher(candles, 10))

	v.ATRBands, v.ATRBandsValid = CalculateATRBands(candles, 20)
	v.RangePercentile = scalar(CalculateRangePercentile(candles, 20))
	v.EMARibbon = scalar(CalculateEMARibbon(candles))

	return v
}
