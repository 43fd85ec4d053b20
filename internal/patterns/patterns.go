package patterns

// PatternType identifies a detected pattern.
type PatternType string

const (
	// Candlestick patterns
	BullishEngulfing   PatternType = "bullish_engulfing"
	BearishEngulfing   PatternType = "bearish_engulfing"
	Hammer             PatternType = "hammer"
	HangingMan         PatternType = "hanging_man"
	InvertedHammer     PatternType = "inverted_hammer"
	ShootingStar       PatternType = "shooting_star"
	Doji               PatternType = "doji"
	LongLeggedDoji     PatternType = "long_legged_doji"
	GravestoneDoji     PatternType = "gravestone_doji"
	DragonflyDoji      PatternType = "dragonfly_doji"
	MorningStar        PatternType = "morning_star"
	EveningStar        PatternType = "evening_star"
	ThreeWhiteSoldiers PatternType = "three_white_soldiers"
	ThreeBlackCrows    PatternType = "three_black_crows"
	InsideBar          PatternType = "inside_bar"
	OutsideBar         PatternType = "outside_bar"
	TweezerTop         PatternType = "tweezer_top"
	TweezerBottom      PatternType = "tweezer_bottom"
	PiercingLine       PatternType = "piercing_line"
	DarkCloudCover     PatternType = "dark_cloud_cover"
	RisingThreeMethods PatternType = "rising_three_methods"
	FallingThreeMethods PatternType = "falling_three_methods"
	BullishHarami      PatternType = "bullish_harami"
	BearishHarami      PatternType = "bearish_harami"
	UpperWickRejection PatternType = "upper_wick_rejection"
	LowerWickRejection PatternType = "lower_wick_rejection"

	// Chart patterns
	DoubleTop            PatternType = "double_top"
	DoubleBottom         PatternType = "double_bottom"
	HeadAndShoulders     PatternType = "head_and_shoulders"
	InverseHeadShoulders PatternType = "inverse_head_and_shoulders"
	AscendingTriangle    PatternType = "ascending_triangle"
	DescendingTriangle   PatternType = "descending_triangle"
	SymmetricalTriangle  PatternType = "symmetrical_triangle"
	BullFlag             PatternType = "bull_flag"
	BearFlag             PatternType = "bear_flag"
	RisingWedge          PatternType = "rising_wedge"
	FallingWedge         PatternType = "falling_wedge"

	// Harmonic patterns
	Gartley   PatternType = "gartley"
	Butterfly PatternType = "butterfly"
	Bat       PatternType = "bat"
	Crab      PatternType = "crab"
	Cypher    PatternType = "cypher"
)

// Direction of a detected pattern.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// DetectedPattern is one pattern occurrence with its vote strength.
// Strength is in [0.5, 2.5], scaled by match quality.
type DetectedPattern struct {
	Type      PatternType
	Direction string
	Strength  float64
	Reason    string
}

// Detector runs all pattern families over a candle array. Detection is
// pure and deterministic: the same input always yields the same output.
type Detector struct {
	dojiBodyMax   float64 // body/range ceiling for a doji
	engulfMinBody float64 // body ratio floor for engulfing
}

// NewDetector creates a pattern detector with default thresholds.
func NewDetector() *Detector {
	return &Detector{
		dojiBodyMax:   0.10,
		engulfMinBody: 1.2,
	}
}

func clampStrength(s float64) float64 {
	if s < 0.5 {
		return 0.5
	}
	if s > 2.5 {
		return 2.5
	}
	return s
}
