package ml

import (
	"fmt"
	"strings"
)

const (
	memoryDecay    = 0.995
	memoryEvictAt  = 0.1
)

// SignatureStats tracks decayed win counts for one discrete market
// signature.
type SignatureStats struct {
	Wins  float64 `json:"wins"`
	Total float64 `json:"total"`
}

// PatternMemory learns win rates for discretized market states. All
// stored signatures decay multiplicatively on every update so stale
// regimes fade out; signatures whose total drops under 0.1 are evicted.
type PatternMemory struct {
	Table map[string]SignatureStats `json:"table"`
}

// NewPatternMemory creates an empty memory.
func NewPatternMemory() *PatternMemory {
	return &PatternMemory{Table: make(map[string]SignatureStats)}
}

// Signature discretizes a feature record into the 6-symbol key:
// RSI zone, MACD crossover sign, trend sign, dominant pattern class,
// regime, volume level.
func Signature(rec FeatureRecord) string {
	rsiZone := "mid"
	switch {
	case rec.RSI >= 70:
		rsiZone = "high"
	case rec.RSI <= 30:
		rsiZone = "low"
	}
	return strings.Join([]string{
		rsiZone,
		fmt.Sprintf("m%+d", rec.MACDCross),
		fmt.Sprintf("t%+d", rec.TrendSign),
		rec.PatternClass,
		rec.Regime,
		rec.VolumeLevel,
	}, "|")
}

// Predict returns P(up) for the signature, or 0.5 when it is unknown
// or too faint.
func (m *PatternMemory) Predict(sig string) float64 {
	s, ok := m.Table[sig]
	if !ok || s.Total < 1 {
		return 0.5
	}
	return s.Wins / s.Total
}

// Update decays all signatures, then credits the observed outcome to
// this one. Entries that have faded below the floor are dropped.
func (m *PatternMemory) Update(sig string, won bool) {
	for key, s := range m.Table {
		s.Wins *= memoryDecay
		s.Total *= memoryDecay
		if s.Total < memoryEvictAt {
			delete(m.Table, key)
			continue
		}
		m.Table[key] = s
	}

	s := m.Table[sig]
	s.Total++
	if won {
		s.Wins++
	}
	m.Table[sig] = s
}

// Size returns the number of live signatures.
func (m *PatternMemory) Size() int {
	return len(m.Table)
}
