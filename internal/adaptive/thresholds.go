package adaptive

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"otc-signal-bot/internal/logging"
)

// Thresholds is one set of signal admission gates.
type Thresholds struct {
	MinConfidence        float64 `json:"min_confidence"`
	MaxConflictRatio     float64 `json:"max_conflict_ratio"`
	MinTrendStrength     float64 `json:"min_trend_strength"`
	MinAlignedIndicators int     `json:"min_aligned_indicators"`
}

// DefaultThresholds is the base gate set that relaxation converges
// back to.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence:        72,
		MaxConflictRatio:     0.32,
		MinTrendStrength:     0.42,
		MinAlignedIndicators: 4,
	}
}

type outcome struct {
	Won        bool    `json:"won"`
	Confidence float64 `json:"confidence"`
	Epoch      int64   `json:"epoch"`
}

const (
	windowCap     = 30
	windowMaxAge  = 2 * time.Hour
	adjustCooldown = 5 * time.Minute
	minSamples    = 10
)

// Engine observes the win/loss stream and tightens or relaxes the
// current thresholds. It is a process-wide singleton; all mutation is
// serialized.
type Engine struct {
	mu sync.RWMutex

	base    Thresholds
	current Thresholds

	window       []outcome
	lastAdjusted time.Time

	now    func() time.Time
	logger *logging.Logger
}

// NewEngine creates an engine at the base thresholds.
func NewEngine(logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		base:    DefaultThresholds(),
		current: DefaultThresholds(),
		now:     time.Now,
		logger:  logger.WithComponent("adaptive-thresholds"),
	}
}

// Current returns a copy of the active thresholds.
func (e *Engine) Current() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// MinConfidence returns the active confidence floor.
func (e *Engine) MinConfidence() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current.MinConfidence
}

// RecordOutcome folds one resolved trade into the window and, when
// enough evidence has accumulated and the cooldown has elapsed,
// adjusts the gates.
func (e *Engine) RecordOutcome(won bool, confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.window = append(e.window, outcome{Won: won, Confidence: confidence, Epoch: now.Unix()})
	e.prune(now)

	if len(e.window) < minSamples || now.Sub(e.lastAdjusted) < adjustCooldown {
		return
	}

	recent15 := e.winRate(15)
	streak := e.lossStreak()

	switch {
	case streak >= 3:
		e.current.MinConfidence = minF(e.current.MinConfidence+3, 88)
		e.current.MinAlignedIndicators = minI(e.current.MinAlignedIndicators+1, 7)
		e.lastAdjusted = now
		e.logger.Warn("Emergency tighten after loss streak",
			"streak", streak, "min_confidence", e.current.MinConfidence)

	case recent15 < 0.65:
		e.current.MinConfidence = minF(e.current.MinConfidence+2, 85)
		e.current.MaxConflictRatio = maxF(e.current.MaxConflictRatio-0.02, 0.20)
		e.current.MinTrendStrength = minF(e.current.MinTrendStrength+0.03, 0.55)
		e.current.MinAlignedIndicators = minI(e.current.MinAlignedIndicators+1, 6)
		e.lastAdjusted = now
		e.logger.Info("Thresholds tightened",
			"recent_win_rate", recent15, "min_confidence", e.current.MinConfidence)

	case recent15 > 0.80 && len(e.window) >= 15:
		e.current.MinConfidence = maxF(e.current.MinConfidence-1, e.base.MinConfidence)
		e.current.MaxConflictRatio = minF(e.current.MaxConflictRatio+0.02, e.base.MaxConflictRatio)
		e.current.MinTrendStrength = maxF(e.current.MinTrendStrength-0.03, e.base.MinTrendStrength)
		e.current.MinAlignedIndicators = maxI(e.current.MinAlignedIndicators-1, e.base.MinAlignedIndicators)
		e.lastAdjusted = now
		e.logger.Info("Thresholds relaxed toward base",
			"recent_win_rate", recent15, "min_confidence", e.current.MinConfidence)
	}
}

// IsAllowed decides whether a signal at this confidence may trade.
// A denial returns a human-readable reason.
func (e *Engine) IsAllowed(confidence float64) (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if streak := e.lossStreak(); streak >= 4 {
		floor := minF(90, e.current.MinConfidence+5)
		if confidence < floor {
			return false, fmt.Sprintf("losing streak %d requires confidence >= %.0f", streak, floor)
		}
	}
	if len(e.window) >= minSamples {
		if wr := e.winRate(10); wr < 0.50 {
			return false, fmt.Sprintf("recent win rate %.0f%% below 50%%", wr*100)
		}
	}
	if confidence < e.current.MinConfidence {
		return false, fmt.Sprintf("confidence %.0f below threshold %.0f", confidence, e.current.MinConfidence)
	}
	return true, ""
}

func (e *Engine) prune(now time.Time) {
	cutoff := now.Add(-windowMaxAge).Unix()
	keep := e.window[:0]
	for _, o := range e.window {
		if o.Epoch >= cutoff {
			keep = append(keep, o)
		}
	}
	e.window = keep
	if len(e.window) > windowCap {
		e.window = e.window[len(e.window)-windowCap:]
	}
}

// winRate over the most recent n entries.
func (e *Engine) winRate(n int) float64 {
	if len(e.window) == 0 {
		return 0
	}
	if n > len(e.window) {
		n = len(e.window)
	}
	wins := 0
	for _, o := range e.window[len(e.window)-n:] {
		if o.Won {
			wins++
		}
	}
	return float64(wins) / float64(n)
}

func (e *Engine) lossStreak() int {
	streak := 0
	for i := len(e.window) - 1; i >= 0; i-- {
		if e.window[i].Won {
			break
		}
		streak++
	}
	return streak
}

// GetStatus reports a diagnostic summary.
func (e *Engine) GetStatus() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]interface{}{
		"min_confidence":         e.current.MinConfidence,
		"max_conflict_ratio":     e.current.MaxConflictRatio,
		"min_trend_strength":     e.current.MinTrendStrength,
		"min_aligned_indicators": e.current.MinAlignedIndicators,
		"window_size":            len(e.window),
		"recent_win_rate":        e.winRate(15),
		"loss_streak":            e.lossStreak(),
	}
}

// engineState is the serialized engine.
type engineState struct {
	Base         Thresholds `json:"base"`
	Current      Thresholds `json:"current"`
	Window       []outcome  `json:"window"`
	LastAdjusted int64      `json:"last_adjusted"`
}

// Snapshot serializes the full threshold state.
func (e *Engine) Snapshot() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return json.Marshal(engineState{
		Base:         e.base,
		Current:      e.current,
		Window:       e.window,
		LastAdjusted: e.lastAdjusted.Unix(),
	})
}

// Restore replaces the engine state from a snapshot.
func (e *Engine) Restore(data []byte) error {
	var st engineState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore thresholds: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base = st.Base
	e.current = st.Current
	e.window = st.Window
	e.lastAdjusted = time.Unix(st.LastAdjusted, 0)
	e.logger.Info("Threshold state restored", "window_size", len(e.window))
	return nil
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minI(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}
