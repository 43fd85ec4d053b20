package signal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"otc-signal-bot/internal/adaptive"
	"otc-signal-bot/internal/indicators"
	"otc-signal-bot/internal/logging"
	"otc-signal-bot/internal/market"
	"otc-signal-bot/internal/ml"
	"otc-signal-bot/internal/patterns"
	"otc-signal-bot/internal/regime"
	"otc-signal-bot/internal/volatility"
)

// Directions a signal can carry.
const (
	DirectionCall    = "CALL"
	DirectionPut     = "PUT"
	DirectionNoTrade = "NO_TRADE"
)

const (
	minClosedCandles = 50
	qualityFloor     = 45.0
	strengthGate     = 0.12
)

// Vote is one weighted opinion contributed to a signal.
type Vote struct {
	Source    string  `json:"source"`
	Direction string  `json:"direction"`
	Weight    float64 `json:"weight"`
	Reason    string  `json:"reason"`
}

// Options tunes signal generation per session.
type Options struct {
	EnabledIndicators   map[string]bool    `json:"enabled_indicators,omitempty"`
	CustomWeights       map[string]float64 `json:"custom_weights,omitempty"`
	VolatilityThreshold float64            `json:"volatility_threshold,omitempty"`
	Timezone            string             `json:"timezone,omitempty"`
	ConfidenceFilter    float64            `json:"confidence_filter,omitempty"`
}

// Result is one complete signal decision.
type Result struct {
	SessionID          string                      `json:"session_id"`
	Symbol             string                      `json:"symbol"`
	Timeframe          int64                       `json:"timeframe"`
	Timestamp          int64                       `json:"timestamp"`
	CandleCloseTime    int64                       `json:"candle_close_time"`
	Direction          string                      `json:"direction"`
	Confidence         float64                     `json:"confidence"`
	PUp                float64                     `json:"p_up"`
	PDown              float64                     `json:"p_down"`
	Votes              []Vote                      `json:"votes"`
	Indicators         *indicators.Values          `json:"indicators,omitempty"`
	Psychology         patterns.PsychologyAnalysis `json:"psychology"`
	QualityScore       float64                     `json:"quality_score"`
	Regime             regime.Assessment           `json:"regime"`
	VolatilityOverride bool                        `json:"volatility_override"`
	VolatilityReason   string                      `json:"volatility_reason,omitempty"`
	ClosedCandlesCount int                         `json:"closed_candles_count"`
	FormingCandle      *market.Candle              `json:"forming_candle,omitempty"`
	EntryPrice         float64                     `json:"entry_price,omitempty"`
	SuggestedDirection string                      `json:"suggested_direction,omitempty"`
	IsLowConfidence    bool                        `json:"is_low_confidence,omitempty"`
	Features           ml.FeatureRecord            `json:"-"`
}

// Engine turns candle snapshots into signals. It owns no candle state;
// the ML ensemble and threshold engine are shared singletons.
type Engine struct {
	ensemble   *ml.Ensemble
	thresholds *adaptive.Engine
	detector   *patterns.Detector

	mu       sync.Mutex
	lastConf map[string]confMemo

	rng    func() float64
	now    func() time.Time
	logger *logging.Logger
}

type confMemo struct {
	value float64
	epoch int64
}

// NewEngine wires a signal engine to the shared learners.
func NewEngine(ensemble *ml.Ensemble, thresholds *adaptive.Engine, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		ensemble:   ensemble,
		thresholds: thresholds,
		detector:   patterns.NewDetector(),
		lastConf:   make(map[string]confMemo),
		rng:        pseudoRand(),
		now:        time.Now,
		logger:     logger.WithComponent("signal-engine"),
	}
}

// Generate runs the full decision pipeline for one closed candle.
func (e *Engine) Generate(sessionID, symbol string, timeframe int64, closed []market.Candle, forming *market.Candle, candleCloseTime int64, opts Options) Result {
	res := Result{
		SessionID:          sessionID,
		Symbol:             symbol,
		Timeframe:          timeframe,
		Timestamp:          e.now().Unix(),
		CandleCloseTime:    candleCloseTime,
		Direction:          DirectionNoTrade,
		PUp:                0.5,
		PDown:              0.5,
		Votes:              []Vote{},
		ClosedCandlesCount: len(closed),
	}

	if len(closed) < minClosedCandles {
		res.Confidence = 0
		return res
	}

	// Regime gate.
	reg := regime.Detect(closed)
	res.Regime = reg
	if reg.Regime == regime.Choppy ||
		(reg.VolatilityLevel == regime.VolHigh && reg.PriceAction != regime.ActionClean) {
		res.VolatilityOverride = true
		res.VolatilityReason = fmt.Sprintf("unfavorable regime: %s %s volatility", reg.PriceAction, reg.VolatilityLevel)
		return res
	}

	// Prediction snapshot: closed candles plus the forming tail.
	est := closed
	if forming != nil {
		f := *forming
		f.IsForming = true
		est = append(append([]market.Candle{}, closed...), f)
		res.FormingCandle = &f
		res.EntryPrice = f.Close
	}

	vals := indicators.Compute(est)
	psy := e.detector.Analyze(est)
	res.Indicators = vals
	res.Psychology = psy

	if noTrade, reason := volatility.ShouldNoTrade(symbol, est); noTrade {
		res.VolatilityOverride = true
		res.VolatilityReason = reason
		return res
	}

	// Indicator, psychology and strategy votes.
	votes := indicatorVotes(est, vals, opts)
	votes = append(votes, psychologyVotes(psy, opts)...)
	votes = append(votes, strategyVotes(est, vals, psy, reg)...)

	// ML fusion.
	res.Features = ml.ExtractFeatures(est, vals, psy)
	verdict := e.ensemble.Predict(res.Features)
	if verdict.Direction != ml.DirectionNoTrade {
		if allowed, reason := e.thresholds.IsAllowed(verdict.Confidence); !allowed {
			res.Votes = votes
			res.VolatilityOverride = true
			res.VolatilityReason = fmt.Sprintf("ML gate: %s", reason)
			return res
		}
		w := 1.0
		switch verdict.Tier {
		case ml.TierPremium:
			w = 2.0
		case ml.TierStandard:
			w = 1.5
		}
		votes = append(votes, Vote{
			Source:    "ML_ENSEMBLE",
			Direction: verdict.Direction,
			Weight:    w,
			Reason:    fmt.Sprintf("ensemble P(up)=%.3f tier=%s", verdict.Probability, verdict.Tier),
		})
	}
	res.Votes = votes

	// Scoring.
	sc := scoreVotes(votes, reg)
	res.PUp = sc.pUp
	res.PDown = 1 - sc.pUp
	res.QualityScore = sc.quality

	direction := DirectionCall
	if sc.pUp < 0.5 {
		direction = DirectionPut
	}
	ds := 2 * math.Abs(sc.pUp-0.5)

	if !e.validate(sc, direction, est, reg, verdict) {
		res.SuggestedDirection = direction
		res.IsLowConfidence = true
		res.Confidence = sc.baseConfidence
		return res
	}

	conf := e.finalConfidence(sc, ds, direction, reg, verdict)
	if conf < e.thresholds.MinConfidence() || ds < strengthGate {
		res.SuggestedDirection = direction
		res.IsLowConfidence = true
		res.Confidence = conf
		return res
	}

	res.Direction = direction
	res.Confidence = e.varyConfidence(symbol, conf)
	e.logger.Info("Signal generated",
		"symbol", symbol, "direction", direction,
		"confidence", res.Confidence, "quality", sc.quality)
	return res
}

// score is the aggregate of one vote pool.
type score struct {
	pUp            float64
	alignmentRatio float64
	conflictRatio  float64
	strongVotes    int
	upVotes        int
	downVotes      int
	baseConfidence float64
	quality        float64
	regimePenalty  float64
}

func scoreVotes(votes []Vote, reg regime.Assessment) score {
	var upW, downW float64
	var up, down, strong int
	for _, v := range votes {
		switch v.Direction {
		case DirectionCall:
			upW += v.Weight
			up++
		case DirectionPut:
			downW += v.Weight
			down++
		}
		if v.Weight >= 1.0 {
			strong++
		}
	}

	total := upW + downW + 1e-9
	pUp := upW / total
	alignment := math.Max(upW, downW) / total
	conflict := math.Min(upW, downW) / total
	penalty := reg.PenaltyMultiplier()

	base := math.Abs(pUp-0.5) * 180
	base *= alignment
	if strong < 3 {
		base *= 0.85
	}
	base *= 1 - conflict*0.5
	base *= penalty

	quality := 100 * (0.35*alignment +
		0.25*math.Min(float64(strong)/5, 1) +
		0.25*(1-conflict) +
		0.15*penalty)

	return score{
		pUp:            pUp,
		alignmentRatio: alignment,
		conflictRatio:  conflict,
		strongVotes:    strong,
		upVotes:        up,
		downVotes:      down,
		baseConfidence: base,
		quality:        quality,
		regimePenalty:  penalty,
	}
}

// validate applies the structural acceptance rules before a direction
// is allowed out.
func (e *Engine) validate(sc score, direction string, candles []market.Candle, reg regime.Assessment, verdict ml.Verdict) bool {
	if sc.quality < qualityFloor {
		return false
	}

	cur := e.thresholds.Current()
	if sc.conflictRatio > cur.MaxConflictRatio {
		return false
	}
	aligned := sc.upVotes
	if direction == DirectionPut {
		aligned = sc.downVotes
	}
	if aligned < cur.MinAlignedIndicators {
		return false
	}

	if allowed, _ := reg.AllowsDirection(direction); !allowed {
		return false
	}

	support := supportFactors(sc, direction, reg)
	if support < 2 {
		return false
	}

	// A direction against the short-term drift needs extra backing.
	if drift := shortTermDrift(candles); drift != "" && drift != direction {
		confirmation := float64(support) + 0.5*float64(sc.strongVotes)
		if confirmation < 2.5 {
			return false
		}
	}

	// An opposing ML read at mediocre quality is a contradiction.
	if verdict.Direction != ml.DirectionNoTrade && verdict.Direction != direction && sc.quality < 60 {
		return false
	}
	return true
}

// supportFactors counts how many structural supports back the
// direction: trend, momentum, strong-vote consensus, weight dominance.
func supportFactors(sc score, direction string, reg regime.Assessment) int {
	support := 0
	if (direction == DirectionCall && reg.Regime == regime.TrendingUp) ||
		(direction == DirectionPut && reg.Regime == regime.TrendingDown) {
		support++
	}
	if reg.MomentumAligned {
		support++
	}
	if sc.strongVotes >= 3 {
		support++
	}
	if math.Max(sc.pUp, 1-sc.pUp) > 0.58 {
		support++
	}
	return support
}

// shortTermDrift reads the net direction of the last three candles.
func shortTermDrift(candles []market.Candle) string {
	if len(candles) < 4 {
		return ""
	}
	last := candles[len(candles)-1].Close
	ref := candles[len(candles)-4].Close
	if last > ref {
		return DirectionCall
	}
	if last < ref {
		return DirectionPut
	}
	return ""
}

// finalConfidence builds the emitted confidence from strength, quality
// and agreement bonuses, clamped to [55, 92].
func (e *Engine) finalConfidence(sc score, ds float64, direction string, reg regime.Assessment, verdict ml.Verdict) float64 {
	conf := 55 + ds*30 + 0.30*sc.quality

	if (direction == DirectionCall && reg.Regime == regime.TrendingUp) ||
		(direction == DirectionPut && reg.Regime == regime.TrendingDown) {
		conf += 3
	}
	if reg.TrendDuration >= 5 {
		conf += 2
	}
	if reg.MomentumAligned {
		conf += 2
	}

	if verdict.Direction == direction {
		switch verdict.Tier {
		case ml.TierPremium:
			conf += 5
		case ml.TierStandard:
			conf += 3
		}
	} else if verdict.Direction != ml.DirectionNoTrade {
		conf -= 8
	}

	if conf < 55 {
		conf = 55
	}
	if conf > 92 {
		conf = 92
	}
	return conf
}
