package ml

import (
	"math"
	"testing"
)

func upVector() FeatureRecord {
	var v FeatureVector
	v[FRSI] = 0.4
	v[FMACDHistogram] = 0.5
	v[FMACDCross] = 1
	v[FTrendStrength] = 0.7
	v[FTrendDirection] = 1
	v[FEMACross] = 1
	v[FBullishPatterns] = 0.6
	v[FBuyPressure] = 0.5
	v[FSellPressure] = -0.5
	v[FMomentum] = 0.4
	return FeatureRecord{
		Vector: v, RSI: 62, MACDCross: 1, TrendSign: 1,
		PatternClass: "bull_bullish_engulfing", Regime: "trending", VolumeLevel: "normal",
	}
}

func downVector() FeatureRecord {
	rec := upVector()
	for i := range rec.Vector {
		rec.Vector[i] = -rec.Vector[i]
	}
	rec.RSI = 38
	rec.MACDCross = -1
	rec.TrendSign = -1
	rec.PatternClass = "bear_bearish_engulfing"
	return rec
}

// TestRollingAccuracyAfterWins feeds 20 winning outcomes and expects
// the rolling accuracy to stabilize and the weights to stay bounded.
func TestRollingAccuracyAfterWins(t *testing.T) {
	e := NewEnsemble(1, nil)
	rec := upVector()

	for i := 0; i < 20; i++ {
		e.Update(rec, true)
	}

	if acc := e.GetRollingAccuracy(); acc < 0.6 {
		t.Errorf("rolling accuracy after 20 wins = %v, want >= 0.6", acc)
	}
	if norm := e.WeightNorm(); norm > 50 || math.IsNaN(norm) {
		t.Errorf("logistic weight norm diverged: %v", norm)
	}
}

// TestLearnsSeparation trains on opposed vectors and expects the
// probabilities to separate.
func TestLearnsSeparation(t *testing.T) {
	e := NewEnsemble(2, nil)
	up, down := upVector(), downVector()

	for i := 0; i < 40; i++ {
		e.Update(up, true)
		e.Update(down, false)
	}

	pUp := e.Predict(up).Probability
	pDown := e.Predict(down).Probability
	if pUp <= 0.55 {
		t.Errorf("P(up) on bullish vector = %v, want > 0.55", pUp)
	}
	if pDown >= 0.45 {
		t.Errorf("P(up) on bearish vector = %v, want < 0.45", pDown)
	}
}

// TestVerdictThresholds checks the direction gate and tier boundaries.
func TestVerdictThresholds(t *testing.T) {
	e := NewEnsemble(3, nil)

	// Untrained ensemble sits at 0.5: direction strength 0, NO_TRADE.
	v := e.Predict(upVector())
	if v.Direction != DirectionNoTrade {
		t.Errorf("untrained direction = %s, want NO_TRADE", v.Direction)
	}
	if v.Confidence != 50 {
		t.Errorf("untrained confidence = %v, want 50", v.Confidence)
	}
	if v.Tier != TierLow {
		t.Errorf("untrained tier = %s, want LOW", v.Tier)
	}

	// Train hard toward up and expect a CALL with confidence in range.
	rec := upVector()
	for i := 0; i < 80; i++ {
		e.Update(rec, true)
	}
	v = e.Predict(rec)
	if v.Direction != DirectionCall {
		t.Errorf("trained direction = %s, want CALL", v.Direction)
	}
	if v.Confidence < 50 || v.Confidence > 92 {
		t.Errorf("confidence out of [50,92]: %v", v.Confidence)
	}
	switch {
	case v.Confidence >= 82 && v.Tier != TierPremium:
		t.Errorf("confidence %v should be PREMIUM, got %s", v.Confidence, v.Tier)
	case v.Confidence >= 72 && v.Confidence < 82 && v.Tier != TierStandard:
		t.Errorf("confidence %v should be STANDARD, got %s", v.Confidence, v.Tier)
	}
}

// TestStumpRefit verifies the periodic refit produces stumps once the
// buffer is warm.
func TestStumpRefit(t *testing.T) {
	b := NewBoostedStumps(7)
	up, down := upVector(), downVector()

	for i := 0; i < 20; i++ {
		b.Update(up.Vector, 1)
		b.Update(down.Vector, 0)
	}
	if len(b.Stumps) == 0 {
		t.Fatal("no stumps after 40 samples")
	}
	if len(b.Stumps) > maxStumps {
		t.Errorf("stump count %d exceeds cap %d", len(b.Stumps), maxStumps)
	}

	if p := b.Predict(up.Vector); p < 0 || p > 1 {
		t.Errorf("stump prediction out of [0,1]: %v", p)
	}
	if b.Predict(up.Vector) <= b.Predict(down.Vector) {
		t.Error("stumps failed to separate opposed vectors")
	}
}

// TestKNNRingEviction fills the store past capacity.
func TestKNNRingEviction(t *testing.T) {
	k := NewKNN()
	var v FeatureVector
	for i := 0; i < knnCapacity+30; i++ {
		v[0] = float64(i%10) / 10
		k.Update(v, float64(i%2))
	}
	if len(k.Samples) != knnCapacity {
		t.Errorf("samples = %d, want capped at %d", len(k.Samples), knnCapacity)
	}

	if p := k.Predict(v); p < 0 || p > 1 {
		t.Errorf("kNN prediction out of range: %v", p)
	}
}

// TestKNNNearestDominates puts the query on top of known winners.
func TestKNNNearestDominates(t *testing.T) {
	k := NewKNN()
	var winner, loser FeatureVector
	winner[0], winner[1] = 0.9, 0.9
	loser[0], loser[1] = -0.9, -0.9

	for i := 0; i < 20; i++ {
		k.Update(winner, 1)
		k.Update(loser, 0)
	}
	if p := k.Predict(winner); p < 0.9 {
		t.Errorf("P near winners = %v, want >= 0.9", p)
	}
	if p := k.Predict(loser); p > 0.1 {
		t.Errorf("P near losers = %v, want <= 0.1", p)
	}
}

// TestPatternMemoryDecayAndEviction exercises the decayed win table.
func TestPatternMemoryDecayAndEviction(t *testing.T) {
	m := NewPatternMemory()

	m.Update("sig_a", true)
	m.Update("sig_a", true)
	m.Update("sig_a", false)
	if p := m.Predict("sig_a"); p < 0.5 || p > 0.75 {
		t.Errorf("sig_a win rate = %v, want ~2/3", p)
	}
	if m.Predict("unknown") != 0.5 {
		t.Error("unknown signature should predict 0.5")
	}

	// A faint signature must eventually be evicted by decay from
	// unrelated updates.
	m.Table["faint"] = SignatureStats{Wins: 0.05, Total: 0.100001}
	m.Update("sig_a", true)
	if _, ok := m.Table["faint"]; ok {
		t.Error("signature below the eviction floor survived an update")
	}
}

// TestSnapshotRestoreRoundTrip verifies the round-trip law: replaying
// the same outcome tail from a snapshot reproduces the same state.
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	up, down := upVector(), downVector()

	a := NewEnsemble(11, nil)
	for i := 0; i < 25; i++ {
		a.Update(up, true)
		a.Update(down, false)
	}

	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	b := NewEnsemble(99, nil) // seed is overwritten by the snapshot
	if err := b.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	tail := []struct {
		rec FeatureRecord
		up  bool
	}{
		{up, true}, {down, false}, {up, true}, {up, false}, {down, true},
		{up, true}, {down, false}, {up, true}, {down, false}, {up, true},
	}
	for _, s := range tail {
		a.Update(s.rec, s.up)
		b.Update(s.rec, s.up)
	}

	va, vb := a.Predict(up), b.Predict(up)
	if va != vb {
		t.Errorf("post-replay verdicts diverge: %+v vs %+v", va, vb)
	}
	if a.GetRollingAccuracy() != b.GetRollingAccuracy() {
		t.Error("rolling accuracy diverges after snapshot replay")
	}
}

// TestCalibrationBlend verifies the decile blend kicks in at 5 samples.
func TestCalibrationBlend(t *testing.T) {
	e := NewEnsemble(5, nil)

	// Bucket 5 (raw ~0.5): feed wins so the empirical rate exceeds raw.
	rec := upVector()
	for i := 0; i < 10; i++ {
		e.Update(rec, true)
	}
	p := e.Predict(rec).Probability
	if p <= 0.5 {
		t.Errorf("calibrated P after consistent wins = %v, want > 0.5", p)
	}
	if p < 0 || p > 1 {
		t.Errorf("calibrated P out of [0,1]: %v", p)
	}
}
